// Package memory provides an in-memory vault store with the same
// transactional semantics as the SQLite store. It backs the randomized
// harness and service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/event"
	"github.com/louisbranch/heirloom/internal/vault/storage"
)

// Store holds vaults, journals, and payouts in process memory.
type Store struct {
	mu      sync.Mutex
	order   []string
	vaults  map[string]vault.Vault
	events  map[string][]event.Event
	payouts map[string][]storage.Payout
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		vaults:  make(map[string]vault.Vault),
		events:  make(map[string][]event.Event),
		payouts: make(map[string][]storage.Payout),
	}
}

// CreateVault persists a newly constructed vault and its construction events.
func (s *Store) CreateVault(ctx context.Context, v vault.Vault, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.ID]; ok {
		return storage.ErrAlreadyExists
	}
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
	}

	s.vaults[v.ID] = v
	s.order = append(s.order, v.ID)
	s.appendEventsLocked(v.ID, events)
	return nil
}

// GetVault returns the vault with the given id.
func (s *Store) GetVault(ctx context.Context, id string) (vault.Vault, error) {
	if err := ctx.Err(); err != nil {
		return vault.Vault{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vaults[id]
	if !ok {
		return vault.Vault{}, storage.ErrNotFound
	}
	return v, nil
}

// PrimaryVault returns the earliest-created vault.
func (s *Store) PrimaryVault(ctx context.Context) (vault.Vault, error) {
	if err := ctx.Err(); err != nil {
		return vault.Vault{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return vault.Vault{}, storage.ErrNotFound
	}
	return s.vaults[s.order[0]], nil
}

// Apply atomically replaces the vault record and appends events.
func (s *Store) Apply(ctx context.Context, v vault.Vault, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.ID]; !ok {
		return storage.ErrNotFound
	}
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
	}

	s.vaults[v.ID] = v
	s.appendEventsLocked(v.ID, events)
	return nil
}

// ApplyWithdrawal atomically replaces the vault record, appends the
// settlement event, records the payout, and runs settle. A settle
// rejection leaves the store untouched.
func (s *Store) ApplyWithdrawal(ctx context.Context, v vault.Vault, evt event.Event, payout storage.Payout, settle storage.SettleFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vaults[v.ID]; !ok {
		return storage.ErrNotFound
	}
	if err := evt.Validate(); err != nil {
		return err
	}

	if payout.Amount > 0 && settle != nil {
		if err := settle(ctx, payout); err != nil {
			return fmt.Errorf("settle payout: %w", err)
		}
	}

	s.vaults[v.ID] = v
	s.appendEventsLocked(v.ID, []event.Event{evt})
	if payout.Amount > 0 {
		s.payouts[v.ID] = append(s.payouts[v.ID], payout)
	}
	return nil
}

// ListEvents returns up to limit events with Seq > afterSeq in order.
func (s *Store) ListEvents(ctx context.Context, vaultID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.events[vaultID]
	idx := sort.Search(len(journal), func(i int) bool { return journal[i].Seq > afterSeq })
	page := journal[idx:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	out := make([]event.Event, len(page))
	copy(out, page)
	return out, nil
}

// ListPayouts returns recorded payouts for the vault in append order.
func (s *Store) ListPayouts(ctx context.Context, vaultID string) ([]storage.Payout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.Payout, len(s.payouts[vaultID]))
	copy(out, s.payouts[vaultID])
	return out, nil
}

func (s *Store) appendEventsLocked(vaultID string, events []event.Event) {
	next := uint64(len(s.events[vaultID])) + 1
	for _, evt := range events {
		evt.Seq = next
		evt.Timestamp = evt.Timestamp.UTC()
		s.events[vaultID] = append(s.events[vaultID], evt)
		next++
	}
}

var _ storage.VaultStore = (*Store)(nil)
