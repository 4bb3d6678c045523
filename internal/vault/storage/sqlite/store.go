// Package sqlite provides a SQLite-backed vault storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/heirloom/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/event"
	"github.com/louisbranch/heirloom/internal/vault/storage"
	"github.com/louisbranch/heirloom/internal/vault/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists vault state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Balances are stored as decimal strings because SQLite integers are
// signed 64-bit and the balance is an unsigned 64-bit quantity.
func toAmount(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func fromAmount(value string) (uint64, error) {
	amount, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stored amount %q: %w", value, err)
	}
	return amount, nil
}

// Open opens a SQLite vault store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateVault persists a newly constructed vault and its construction events.
func (s *Store) CreateVault(ctx context.Context, v vault.Vault, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO vaults (id, owner, heir, last_activity, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID,
		string(v.Owner),
		string(v.Heir),
		toMillis(v.LastActivity),
		toAmount(v.Balance),
		toMillis(v.LastActivity),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create vault: %w", err)
	}

	if err := appendEventsTx(ctx, tx, v.ID, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetVault returns the vault with the given id.
func (s *Store) GetVault(ctx context.Context, id string) (vault.Vault, error) {
	if err := ctx.Err(); err != nil {
		return vault.Vault{}, err
	}
	if s == nil || s.sqlDB == nil {
		return vault.Vault{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return vault.Vault{}, fmt.Errorf("vault id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner, heir, last_activity, balance FROM vaults WHERE id = ?`,
		id,
	)
	return scanVault(row)
}

// PrimaryVault returns the earliest-created vault.
func (s *Store) PrimaryVault(ctx context.Context) (vault.Vault, error) {
	if err := ctx.Err(); err != nil {
		return vault.Vault{}, err
	}
	if s == nil || s.sqlDB == nil {
		return vault.Vault{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, owner, heir, last_activity, balance
		   FROM vaults
		  ORDER BY created_at ASC, id ASC
		  LIMIT 1`,
	)
	return scanVault(row)
}

// Apply atomically replaces the vault record and appends events.
func (s *Store) Apply(ctx context.Context, v vault.Vault, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateVaultTx(ctx, tx, v); err != nil {
		return err
	}
	if err := appendEventsTx(ctx, tx, v.ID, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ApplyWithdrawal atomically replaces the vault record, appends the
// settlement event, records the payout, and runs settle inside the same
// transaction. Any failure rolls the whole operation back, leaving the
// persisted record byte-for-byte unchanged.
func (s *Store) ApplyWithdrawal(ctx context.Context, v vault.Vault, evt event.Event, payout storage.Payout, settle storage.SettleFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateVaultTx(ctx, tx, v); err != nil {
		return err
	}
	if err := appendEventsTx(ctx, tx, v.ID, []event.Event{evt}); err != nil {
		return err
	}

	if payout.Amount > 0 {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO vault_payouts (vault_id, recipient, amount, timestamp)
			 VALUES (?, ?, ?, ?)`,
			payout.VaultID,
			string(payout.To),
			toAmount(payout.Amount),
			toMillis(payout.Timestamp),
		); err != nil {
			return fmt.Errorf("record payout: %w", err)
		}
		if settle != nil {
			if err := settle(ctx, payout); err != nil {
				return fmt.Errorf("settle payout: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns up to limit journal events with Seq > afterSeq.
func (s *Store) ListEvents(ctx context.Context, vaultID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT vault_id, seq, timestamp, event_type, actor_id, payload_json
		   FROM vault_events
		  WHERE vault_id = ? AND seq > ?
		  ORDER BY seq ASC
		  LIMIT ?`,
		vaultID,
		int64(afterSeq),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var evt event.Event
		var seq int64
		var timestamp int64
		var eventType string
		if err := rows.Scan(&evt.VaultID, &seq, &timestamp, &eventType, &evt.ActorID, &evt.PayloadJSON); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Timestamp = fromMillis(timestamp)
		evt.Type = event.Type(eventType)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ListPayouts returns recorded payouts for the vault in append order.
func (s *Store) ListPayouts(ctx context.Context, vaultID string) ([]storage.Payout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT vault_id, recipient, amount, timestamp
		   FROM vault_payouts
		  WHERE vault_id = ?
		  ORDER BY seq ASC`,
		vaultID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []storage.Payout
	for rows.Next() {
		var payout storage.Payout
		var recipient string
		var amount string
		var timestamp int64
		if err := rows.Scan(&payout.VaultID, &recipient, &amount, &timestamp); err != nil {
			return nil, fmt.Errorf("list payouts: %w", err)
		}
		payout.To = vault.Principal(recipient)
		payout.Amount, err = fromAmount(amount)
		if err != nil {
			return nil, err
		}
		payout.Timestamp = fromMillis(timestamp)
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}

func scanVault(row *sql.Row) (vault.Vault, error) {
	var v vault.Vault
	var owner string
	var heir string
	var lastActivity int64
	var balance string
	err := row.Scan(&v.ID, &owner, &heir, &lastActivity, &balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vault.Vault{}, storage.ErrNotFound
		}
		return vault.Vault{}, fmt.Errorf("get vault: %w", err)
	}
	v.Owner = vault.Principal(owner)
	v.Heir = vault.Principal(heir)
	v.LastActivity = fromMillis(lastActivity)
	v.Balance, err = fromAmount(balance)
	if err != nil {
		return vault.Vault{}, err
	}
	return v, nil
}

func updateVaultTx(ctx context.Context, tx *sql.Tx, v vault.Vault) error {
	result, err := tx.ExecContext(
		ctx,
		`UPDATE vaults SET owner = ?, heir = ?, last_activity = ?, balance = ? WHERE id = ?`,
		string(v.Owner),
		string(v.Heir),
		toMillis(v.LastActivity),
		toAmount(v.Balance),
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func appendEventsTx(ctx context.Context, tx *sql.Tx, vaultID string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	var lastSeq sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM vault_events WHERE vault_id = ?`, vaultID)
	if err := row.Scan(&lastSeq); err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	next := lastSeq.Int64 + 1

	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO vault_events (vault_id, seq, timestamp, event_type, actor_id, payload_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			vaultID,
			next,
			toMillis(evt.Timestamp),
			string(evt.Type),
			evt.ActorID,
			evt.PayloadJSON,
		); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		next++
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ storage.VaultStore = (*Store)(nil)
