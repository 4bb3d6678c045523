package vault

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// InactivityPeriod is the window that must strictly elapse since the last
// qualifying activity before an heir claim may succeed.
const InactivityPeriod = 2_592_000 * time.Second

var (
	// ErrInvalidOwner indicates a null owner principal at construction.
	ErrInvalidOwner = errors.New("owner principal is required")
	// ErrInvalidHeir indicates a null heir principal.
	ErrInvalidHeir = errors.New("heir principal is required")
	// ErrSelfInheritance indicates an heir equal to the acting principal.
	ErrSelfInheritance = errors.New("heir must differ from the acting principal")
	// ErrUnauthorized indicates the wrong caller for the operation.
	ErrUnauthorized = errors.New("caller is not authorized")
	// ErrInsufficientFunds indicates a withdrawal exceeding the balance.
	ErrInsufficientFunds = errors.New("withdrawal exceeds balance")
	// ErrBalanceOverflow indicates a deposit that would overflow the balance.
	ErrBalanceOverflow = errors.New("deposit overflows balance")
	// ErrTransferFailed indicates funds could not be delivered to the owner.
	ErrTransferFailed = errors.New("transfer failed")
)

// InactivityNotElapsedError reports a claim attempted before the
// inactivity window has strictly elapsed. Elapsed carries the observed
// inactivity for caller diagnostics.
type InactivityNotElapsedError struct {
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *InactivityNotElapsedError) Error() string {
	return fmt.Sprintf("inactivity period not elapsed: %s of %s", e.Elapsed, InactivityPeriod)
}

// Is reports whether target is an InactivityNotElapsedError, so callers
// can match with errors.Is regardless of the elapsed value.
func (e *InactivityNotElapsedError) Is(target error) bool {
	_, ok := target.(*InactivityNotElapsedError)
	return ok
}

// Vault is the persistent custody record.
//
// Invariants, preserved by every transition:
//   - Owner and Heir are never null and never equal.
//   - LastActivity is non-zero and never ahead of the clock an operation
//     observes.
//   - Balance equals accepted deposits minus settled withdrawals.
type Vault struct {
	ID           string
	Owner        Principal
	Heir         Principal
	LastActivity time.Time
	Balance      uint64
}

// New constructs a vault owned by owner with the given heir and initial
// deposit. The inactivity clock starts at construction time.
func New(owner, heir Principal, initialDeposit uint64, now func() time.Time, idGenerator func() (string, error)) (Vault, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = NewID
	}
	if owner.IsNull() {
		return Vault{}, ErrInvalidOwner
	}
	if heir.IsNull() {
		return Vault{}, ErrInvalidHeir
	}
	if heir == owner {
		return Vault{}, ErrSelfInheritance
	}

	id, err := idGenerator()
	if err != nil {
		return Vault{}, fmt.Errorf("generate vault id: %w", err)
	}

	return Vault{
		ID:           id,
		Owner:        owner,
		Heir:         heir,
		LastActivity: now().UTC(),
		Balance:      initialDeposit,
	}, nil
}

// Credit accepts a deposit of amount and returns the updated record.
// Any principal may fund the vault; the only failure is balance overflow,
// which rejects the deposit rather than wrapping.
func (v Vault) Credit(amount uint64) (Vault, error) {
	if amount > math.MaxUint64-v.Balance {
		return Vault{}, ErrBalanceOverflow
	}
	v.Balance += amount
	return v, nil
}

// Withdraw validates a withdrawal by caller and returns the record with
// the balance reduced and the activity timer advanced to now.
//
// A zero amount is valid: it moves no funds and exists so the owner can
// refresh the activity timer.
func (v Vault) Withdraw(caller Principal, amount uint64, now func() time.Time) (Vault, error) {
	if now == nil {
		now = time.Now
	}
	if caller != v.Owner {
		return Vault{}, ErrUnauthorized
	}
	if amount > v.Balance {
		return Vault{}, ErrInsufficientFunds
	}
	v.Balance -= amount
	v.LastActivity = now().UTC()
	return v, nil
}

// Claim transfers ownership to the heir and appoints newHeir as the next
// heir. It succeeds only when caller is the current heir and strictly
// more than InactivityPeriod has elapsed since the last activity; exactly
// the period still fails.
func (v Vault) Claim(caller, newHeir Principal, now func() time.Time) (Vault, error) {
	if now == nil {
		now = time.Now
	}
	if newHeir.IsNull() {
		return Vault{}, ErrInvalidHeir
	}
	if newHeir == caller {
		return Vault{}, ErrSelfInheritance
	}
	if caller != v.Heir {
		return Vault{}, ErrUnauthorized
	}

	claimedAt := now().UTC()
	elapsed := claimedAt.Sub(v.LastActivity)
	if elapsed <= InactivityPeriod {
		return Vault{}, &InactivityNotElapsedError{Elapsed: elapsed}
	}

	v.Owner = caller
	v.Heir = newHeir
	v.LastActivity = claimedAt
	return v, nil
}

// Elapsed returns the inactivity observed at the given instant.
func (v Vault) Elapsed(at time.Time) time.Duration {
	return at.UTC().Sub(v.LastActivity)
}
