// Package storage defines persistence interfaces for vault records, the
// event journal, and the payout journal.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/event"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a conflicting record already exists.
	ErrAlreadyExists = errors.New("already exists")
)

// Payout records an outbound transfer owed to a principal.
type Payout struct {
	VaultID   string
	To        vault.Principal
	Amount    uint64
	Timestamp time.Time
}

// SettleFunc attempts external delivery of a payout. It runs inside the
// store transaction that persists the withdrawal: returning an error
// aborts the transaction and leaves persisted state unchanged.
//
// Implementations must not call back into the owning service; operations
// serialize on the service lock and a synchronous reentrant call would
// deadlock.
type SettleFunc func(ctx context.Context, payout Payout) error

// VaultStore persists vault records, their event journals, and payouts.
//
// Stores assign event sequence numbers on append, contiguously per vault
// starting at 1.
type VaultStore interface {
	// CreateVault persists a newly constructed vault and its construction
	// events. It fails with ErrAlreadyExists when the vault id is taken.
	CreateVault(ctx context.Context, v vault.Vault, events []event.Event) error

	// GetVault returns the vault with the given id.
	GetVault(ctx context.Context, id string) (vault.Vault, error)

	// PrimaryVault returns the earliest-created vault, or ErrNotFound when
	// the store is empty.
	PrimaryVault(ctx context.Context) (vault.Vault, error)

	// Apply atomically replaces the vault record and appends events.
	Apply(ctx context.Context, v vault.Vault, events []event.Event) error

	// ApplyWithdrawal atomically replaces the vault record, appends the
	// settlement event, records the payout, and runs settle. Any failure,
	// including a settle rejection, rolls the whole operation back.
	// Zero-amount payouts are not recorded and settle is not invoked.
	ApplyWithdrawal(ctx context.Context, v vault.Vault, evt event.Event, payout Payout, settle SettleFunc) error

	// ListEvents returns up to limit journal events with Seq > afterSeq,
	// in sequence order.
	ListEvents(ctx context.Context, vaultID string, afterSeq uint64, limit int) ([]event.Event, error)

	// ListPayouts returns recorded payouts for the vault in append order.
	ListPayouts(ctx context.Context, vaultID string) ([]Payout, error)
}
