package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	errVaultIDRequired = errors.New("vault id is required")
	errUnknownType     = errors.New("unknown event type")
	errPayloadRequired = errors.New("event payload is required")
)

// FundsReceivedPayload captures the payload for vault.funds_received events.
type FundsReceivedPayload struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
}

// WithdrawalSettledPayload captures the payload for vault.withdrawal_settled events.
type WithdrawalSettledPayload struct {
	To              string    `json:"to"`
	Amount          uint64    `json:"amount"`
	NewLastActivity time.Time `json:"new_last_activity"`
}

// InheritanceExecutedPayload captures the payload for vault.inheritance_executed events.
type InheritanceExecutedPayload struct {
	PreviousOwner   string    `json:"previous_owner"`
	NewOwner        string    `json:"new_owner"`
	NewHeir         string    `json:"new_heir"`
	NewLastActivity time.Time `json:"new_last_activity"`
}

// New builds an event of the given type with an encoded payload.
func New(vaultID string, typ Type, timestamp time.Time, actorID string, payload any) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	evt := Event{
		VaultID:     vaultID,
		Timestamp:   timestamp.UTC(),
		Type:        typ,
		ActorID:     actorID,
		PayloadJSON: encoded,
	}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// DecodePayload unmarshals the event payload into target.
func (e Event) DecodePayload(target any) error {
	if err := json.Unmarshal(e.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
