// Package service orchestrates the custody operations against a vault
// store: deposits, withdrawals, and ownership claims, each applied as one
// atomic step.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/event"
	"github.com/louisbranch/heirloom/internal/vault/storage"
)

const tracerName = "github.com/louisbranch/heirloom/internal/vault/service"

// Service applies custody operations to a single vault.
//
// Operations serialize on an internal lock, so each one observes the
// state the previous one committed. The lock also stands in for the
// reentrancy boundary around settlement: a settle hook must not call
// back into the service.
type Service struct {
	mu      sync.Mutex
	store   storage.VaultStore
	vaultID string
	clock   func() time.Time
	settle  storage.SettleFunc
	tracer  trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used to observe "now".
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSettlement sets the hook that attempts external delivery of payouts.
// The hook runs inside the withdrawal transaction; its error aborts the
// operation with vault.ErrTransferFailed.
func WithSettlement(settle storage.SettleFunc) Option {
	return func(s *Service) {
		s.settle = settle
	}
}

// NewService creates a service bound to the vault with the given id.
func NewService(store storage.VaultStore, vaultID string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("vault store is required")
	}
	if vaultID == "" {
		return nil, errors.New("vault id is required")
	}
	s := &Service{
		store:   store,
		vaultID: vaultID,
		clock:   time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Construct creates the vault exactly once and persists it together with
// its construction event. A positive initial deposit is recorded as
// funds received from the creator.
func Construct(ctx context.Context, store storage.VaultStore, owner, heir vault.Principal, initialDeposit uint64, clock func() time.Time) (vault.Vault, error) {
	if store == nil {
		return vault.Vault{}, errors.New("vault store is required")
	}
	if clock == nil {
		clock = time.Now
	}

	v, err := vault.New(owner, heir, initialDeposit, clock, nil)
	if err != nil {
		return vault.Vault{}, err
	}

	var events []event.Event
	if initialDeposit > 0 {
		evt, err := event.New(v.ID, event.TypeFundsReceived, v.LastActivity, string(owner), event.FundsReceivedPayload{
			From:   string(owner),
			Amount: initialDeposit,
		})
		if err != nil {
			return vault.Vault{}, err
		}
		events = append(events, evt)
	}

	if err := store.CreateVault(ctx, v, events); err != nil {
		return vault.Vault{}, fmt.Errorf("persist vault: %w", err)
	}
	return v, nil
}

// Deposit accepts funds from any principal.
func (s *Service) Deposit(ctx context.Context, sender vault.Principal, amount uint64) (vault.Vault, error) {
	return s.credit(ctx, "vault.deposit", sender, amount)
}

// ReceiveFunds accepts an unsolicited transfer of value to the vault.
// It has the same effect as Deposit and exists so both funding paths are
// first-class operations.
func (s *Service) ReceiveFunds(ctx context.Context, sender vault.Principal, amount uint64) (vault.Vault, error) {
	return s.credit(ctx, "vault.receive_funds", sender, amount)
}

func (s *Service) credit(ctx context.Context, spanName string, sender vault.Principal, amount uint64) (vault.Vault, error) {
	ctx, span := s.startSpan(ctx, spanName, amount)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.GetVault(ctx, s.vaultID)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("load vault: %w", err)
	}

	credited, err := v.Credit(amount)
	if err != nil {
		return vault.Vault{}, err
	}

	evt, err := event.New(v.ID, event.TypeFundsReceived, s.clock().UTC(), string(sender), event.FundsReceivedPayload{
		From:   string(sender),
		Amount: amount,
	})
	if err != nil {
		return vault.Vault{}, err
	}

	if err := s.store.Apply(ctx, credited, []event.Event{evt}); err != nil {
		return vault.Vault{}, fmt.Errorf("persist deposit: %w", err)
	}
	return credited, nil
}

// Withdraw moves amount to the owner and resets the activity timer. A
// zero amount is valid and only refreshes the timer.
//
// Ordering follows check-effects-interactions: the timer write and the
// settlement event are part of the same transaction as the payout
// attempt, so a failed delivery aborts with vault.ErrTransferFailed and
// persisted state is unchanged.
func (s *Service) Withdraw(ctx context.Context, caller vault.Principal, amount uint64) (vault.Vault, error) {
	ctx, span := s.startSpan(ctx, "vault.withdraw", amount)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.GetVault(ctx, s.vaultID)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("load vault: %w", err)
	}

	withdrawn, err := v.Withdraw(caller, amount, s.clock)
	if err != nil {
		return vault.Vault{}, err
	}

	evt, err := event.New(v.ID, event.TypeWithdrawalSettled, withdrawn.LastActivity, string(caller), event.WithdrawalSettledPayload{
		To:              string(withdrawn.Owner),
		Amount:          amount,
		NewLastActivity: withdrawn.LastActivity,
	})
	if err != nil {
		return vault.Vault{}, err
	}

	payout := storage.Payout{
		VaultID:   v.ID,
		To:        withdrawn.Owner,
		Amount:    amount,
		Timestamp: withdrawn.LastActivity,
	}
	if err := s.store.ApplyWithdrawal(ctx, withdrawn, evt, payout, wrapSettle(s.settle)); err != nil {
		var rejection *SettleRejectionError
		if errors.As(err, &rejection) {
			return vault.Vault{}, fmt.Errorf("%w: %v", vault.ErrTransferFailed, rejection.Cause)
		}
		return vault.Vault{}, fmt.Errorf("persist withdrawal: %w", err)
	}
	return withdrawn, nil
}

// ClaimOwnership executes the inheritance: the heir becomes owner,
// newHeir becomes the next heir, and the inactivity clock restarts.
func (s *Service) ClaimOwnership(ctx context.Context, caller, newHeir vault.Principal) (vault.Vault, error) {
	ctx, span := s.startSpan(ctx, "vault.claim_ownership", 0)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.store.GetVault(ctx, s.vaultID)
	if err != nil {
		return vault.Vault{}, fmt.Errorf("load vault: %w", err)
	}

	claimed, err := v.Claim(caller, newHeir, s.clock)
	if err != nil {
		return vault.Vault{}, err
	}

	evt, err := event.New(v.ID, event.TypeInheritanceExecuted, claimed.LastActivity, string(caller), event.InheritanceExecutedPayload{
		PreviousOwner:   string(v.Owner),
		NewOwner:        string(claimed.Owner),
		NewHeir:         string(claimed.Heir),
		NewLastActivity: claimed.LastActivity,
	})
	if err != nil {
		return vault.Vault{}, err
	}

	if err := s.store.Apply(ctx, claimed, []event.Event{evt}); err != nil {
		return vault.Vault{}, fmt.Errorf("persist claim: %w", err)
	}
	return claimed, nil
}

// Vault returns the current vault record.
func (s *Service) Vault(ctx context.Context) (vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetVault(ctx, s.vaultID)
}

// Events returns up to limit journal events with Seq > afterSeq.
func (s *Service) Events(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	return s.store.ListEvents(ctx, s.vaultID, afterSeq, limit)
}

func (s *Service) startSpan(ctx context.Context, name string, amount uint64) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("vault.id", s.vaultID),
		attribute.String("vault.amount", strconv.FormatUint(amount, 10)),
	))
}

// wrapSettle tags settlement errors so Withdraw can tell a delivery veto
// apart from storage failures.
func wrapSettle(settle storage.SettleFunc) storage.SettleFunc {
	if settle == nil {
		return nil
	}
	return func(ctx context.Context, payout storage.Payout) error {
		if err := settle(ctx, payout); err != nil {
			return &SettleRejectionError{Cause: err}
		}
		return nil
	}
}

// SettleRejectionError wraps an error returned by a settlement hook so
// callers can map it to the transfer-failed taxonomy.
type SettleRejectionError struct {
	Cause error
}

// Error implements the error interface.
func (e *SettleRejectionError) Error() string {
	return fmt.Sprintf("settlement rejected: %v", e.Cause)
}

// Unwrap returns the underlying settlement error.
func (e *SettleRejectionError) Unwrap() error {
	return e.Cause
}
