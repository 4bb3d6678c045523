// Package event defines the vault's append-only event journal: typed,
// ordered, immutable records appended on each successful transition.
// Consumers only read the journal; nothing mutates an appended event.
package event

import (
	"strings"
	"time"
)

// Type identifies the type of a vault event.
type Type string

const (
	// TypeFundsReceived records funds accepted into the vault, whether
	// through an explicit deposit or an unsolicited transfer.
	TypeFundsReceived Type = "vault.funds_received"
	// TypeWithdrawalSettled records a completed withdrawal, including
	// zero-amount activity heartbeats.
	TypeWithdrawalSettled Type = "vault.withdrawal_settled"
	// TypeInheritanceExecuted records an heir claiming ownership.
	TypeInheritanceExecuted Type = "vault.inheritance_executed"
)

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	switch t {
	case TypeFundsReceived, TypeWithdrawalSettled, TypeInheritanceExecuted:
		return true
	}
	return false
}

// Event represents an immutable record in the vault journal.
type Event struct {
	// VaultID is the vault this event belongs to.
	VaultID string
	// Seq is the event sequence number within the vault (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// ActorID is the principal that triggered the event.
	ActorID string
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// Validate reports whether the event is appendable.
func (e Event) Validate() error {
	if strings.TrimSpace(e.VaultID) == "" {
		return errVaultIDRequired
	}
	if !e.Type.IsValid() {
		return errUnknownType
	}
	if len(e.PayloadJSON) == 0 {
		return errPayloadRequired
	}
	return nil
}
