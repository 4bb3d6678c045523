// Package sim drives randomized operation sequences against a vault
// store and checks the custody invariants after every step. It is used
// by tests to exercise both store implementations with the same model.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/service"
	"github.com/louisbranch/heirloom/internal/vault/storage"
)

// principals is the cast of actors the runner draws callers from. The
// first two seed the vault as owner and heir.
var principals = []vault.Principal{"alice", "bob", "carol", "dave", "erin"}

// Runner executes randomized custody operations and verifies that the
// observable state always matches an independently tracked model.
type Runner struct {
	store storage.VaultStore
	rng   *rand.Rand
	svc   *service.Service
	now   time.Time

	// model state, updated only on operations the runner expects to succeed
	vaultID      string
	owner        vault.Principal
	heir         vault.Principal
	balance      uint64
	lastActivity time.Time
	eventCount   uint64
	paidOut      uint64
	deposited    uint64
}

// NewRunner constructs a vault in the store and returns a runner bound
// to it. The rng drives every random choice so runs are reproducible
// from the seed.
func NewRunner(ctx context.Context, store storage.VaultStore, rng *rand.Rand) (*Runner, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if rng == nil {
		return nil, errors.New("rng is required")
	}

	r := &Runner{
		store: store,
		rng:   rng,
		now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	initialDeposit := uint64(rng.Intn(1000))
	v, err := service.Construct(ctx, store, principals[0], principals[1], initialDeposit, r.clock)
	if err != nil {
		return nil, fmt.Errorf("construct vault: %w", err)
	}
	svc, err := service.NewService(store, v.ID, service.WithClock(r.clock))
	if err != nil {
		return nil, fmt.Errorf("new service: %w", err)
	}

	r.svc = svc
	r.vaultID = v.ID
	r.owner = v.Owner
	r.heir = v.Heir
	r.balance = v.Balance
	r.lastActivity = v.LastActivity
	r.deposited = initialDeposit
	if initialDeposit > 0 {
		r.eventCount = 1
	}
	return r, nil
}

func (r *Runner) clock() time.Time {
	return r.now
}

// Run executes steps random operations, checking invariants after each.
func (r *Runner) Run(ctx context.Context, steps int) error {
	for i := range steps {
		if err := r.step(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := r.check(ctx); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runner) step(ctx context.Context) error {
	// Jumps past the inactivity window happen occasionally so claims
	// have a chance to succeed.
	if r.rng.Intn(8) == 0 {
		r.now = r.now.Add(vault.InactivityPeriod + time.Duration(1+r.rng.Intn(86_400))*time.Second)
	} else {
		r.now = r.now.Add(time.Duration(r.rng.Intn(86_400)) * time.Second)
	}

	switch r.rng.Intn(4) {
	case 0:
		return r.stepDeposit(ctx)
	case 1:
		return r.stepReceive(ctx)
	case 2:
		return r.stepWithdraw(ctx)
	default:
		return r.stepClaim(ctx)
	}
}

func (r *Runner) pick() vault.Principal {
	return principals[r.rng.Intn(len(principals))]
}

func (r *Runner) stepDeposit(ctx context.Context) error {
	sender := r.pick()
	amount := uint64(r.rng.Intn(1000))
	if _, err := r.svc.Deposit(ctx, sender, amount); err != nil {
		return fmt.Errorf("deposit %d from %s: %w", amount, sender, err)
	}
	r.balance += amount
	r.deposited += amount
	r.eventCount++
	return nil
}

func (r *Runner) stepReceive(ctx context.Context) error {
	sender := r.pick()
	amount := uint64(r.rng.Intn(1000))
	if _, err := r.svc.ReceiveFunds(ctx, sender, amount); err != nil {
		return fmt.Errorf("receive %d from %s: %w", amount, sender, err)
	}
	r.balance += amount
	r.deposited += amount
	r.eventCount++
	return nil
}

func (r *Runner) stepWithdraw(ctx context.Context) error {
	caller := r.pick()
	var amount uint64
	if r.balance > 0 && r.rng.Intn(4) > 0 {
		amount = uint64(r.rng.Int63n(int64(r.balance) + 1))
	}
	// Over-withdrawals are attempted on purpose.
	if r.rng.Intn(8) == 0 {
		amount = r.balance + 1 + uint64(r.rng.Intn(100))
	}

	_, err := r.svc.Withdraw(ctx, caller, amount)
	switch {
	case caller != r.owner:
		if !errors.Is(err, vault.ErrUnauthorized) {
			return fmt.Errorf("withdraw by %s (owner %s): expected unauthorized, got %v", caller, r.owner, err)
		}
		return nil
	case amount > r.balance:
		if !errors.Is(err, vault.ErrInsufficientFunds) {
			return fmt.Errorf("withdraw %d of %d: expected insufficient funds, got %v", amount, r.balance, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("withdraw %d by owner: %w", amount, err)
	}

	r.balance -= amount
	r.paidOut += amount
	r.lastActivity = r.now
	r.eventCount++
	return nil
}

func (r *Runner) stepClaim(ctx context.Context) error {
	caller := r.pick()
	newHeir := r.pick()
	elapsed := r.now.Sub(r.lastActivity)

	_, err := r.svc.ClaimOwnership(ctx, caller, newHeir)
	switch {
	case newHeir.IsNull() || newHeir == caller:
		if err == nil {
			return fmt.Errorf("claim with heir %s by %s: expected rejection", newHeir, caller)
		}
		return nil
	case caller != r.heir:
		if !errors.Is(err, vault.ErrUnauthorized) {
			return fmt.Errorf("claim by %s (heir %s): expected unauthorized, got %v", caller, r.heir, err)
		}
		return nil
	case elapsed <= vault.InactivityPeriod:
		var notElapsed *vault.InactivityNotElapsedError
		if !errors.As(err, &notElapsed) {
			return fmt.Errorf("claim at %s elapsed: expected inactivity error, got %v", elapsed, err)
		}
		if notElapsed.Elapsed != elapsed {
			return fmt.Errorf("claim reported %s elapsed, model says %s", notElapsed.Elapsed, elapsed)
		}
		return nil
	case err != nil:
		return fmt.Errorf("claim at %s elapsed: %w", elapsed, err)
	}

	r.owner = caller
	r.heir = newHeir
	r.lastActivity = r.now
	r.eventCount++
	return nil
}

// check compares the persisted state against the model.
func (r *Runner) check(ctx context.Context) error {
	v, err := r.store.GetVault(ctx, r.vaultID)
	if err != nil {
		return fmt.Errorf("get vault: %w", err)
	}

	if v.Owner.IsNull() || v.Heir.IsNull() {
		return fmt.Errorf("null principal: owner=%q heir=%q", v.Owner, v.Heir)
	}
	if v.Owner == v.Heir {
		return fmt.Errorf("owner and heir collapsed to %q", v.Owner)
	}
	if v.Owner != r.owner || v.Heir != r.heir {
		return fmt.Errorf("principals drifted: got owner=%q heir=%q, want owner=%q heir=%q", v.Owner, v.Heir, r.owner, r.heir)
	}
	if v.Balance != r.balance {
		return fmt.Errorf("balance drifted: got %d, want %d", v.Balance, r.balance)
	}
	if r.deposited-r.paidOut != r.balance {
		return fmt.Errorf("conservation broken: deposited %d, paid out %d, balance %d", r.deposited, r.paidOut, r.balance)
	}
	if !v.LastActivity.Equal(r.lastActivity) {
		return fmt.Errorf("activity drifted: got %s, want %s", v.LastActivity, r.lastActivity)
	}
	if v.LastActivity.After(r.now) {
		return fmt.Errorf("activity %s ahead of clock %s", v.LastActivity, r.now)
	}

	return r.checkJournal(ctx)
}

// checkJournal verifies the event journal is contiguous and the payout
// journal accounts for every settled withdrawal.
func (r *Runner) checkJournal(ctx context.Context) error {
	var (
		afterSeq uint64
		count    uint64
	)
	for {
		page, err := r.store.ListEvents(ctx, r.vaultID, afterSeq, 100)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, evt := range page {
			if evt.Seq != afterSeq+1 {
				return fmt.Errorf("journal gap: seq %d after %d", evt.Seq, afterSeq)
			}
			if !evt.Type.IsValid() {
				return fmt.Errorf("journal holds unknown type %q at seq %d", evt.Type, evt.Seq)
			}
			afterSeq = evt.Seq
			count++
		}
	}
	if count != r.eventCount {
		return fmt.Errorf("journal length drifted: got %d, want %d", count, r.eventCount)
	}

	payouts, err := r.store.ListPayouts(ctx, r.vaultID)
	if err != nil {
		return fmt.Errorf("list payouts: %w", err)
	}
	var total uint64
	for _, payout := range payouts {
		if payout.Amount == 0 {
			return errors.New("zero-amount payout recorded")
		}
		total += payout.Amount
	}
	if total != r.paidOut {
		return fmt.Errorf("payout total drifted: got %d, want %d", total, r.paidOut)
	}
	return nil
}
