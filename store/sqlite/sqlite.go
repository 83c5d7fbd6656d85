/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the payout engine on one
  database, so one transaction can span a show payout, its line items,
  the advance ledger, expense allocations and payroll runs.

INTERFACES IMPLEMENTED:
  generic.Store / generic.Transactor: Ledger entries, atomic units
  production.Source:                  Shows, rosters (read side)
  generic.PayeeDirectory:             People and groups
  payout.Store:                       Payouts, line items, schemes, advances
  expense.Store:                      Expenses and allocations
  payroll.Store:                      Payroll runs

APPEND-ONLY ENFORCEMENT:
  ledger_entries is never updated or deleted. Corrections are reversal
  entries.

TRANSACTIONS:
  WithTx begins a database transaction and hands fn a context carrying
  it. Every method picks its connection with conn(ctx), so calls made
  with that context join the transaction and nested WithTx calls run
  inline. The pool is limited to one connection: SQLite has a single
  writer anyway, and ":memory:" databases exist per connection.

KEY TABLES:
  ledger_entries:      Immutable advance ledger
  shows, roster_entries, people, payee_groups: Collaborator input
  schemes, show_payouts, payout_line_items:    Payout state
  advances, advance_waivers:                   Advance metadata
  expenses, expense_allocations:               Expense spreading
  payroll_runs, payroll_line_items:            Payroll batching

USAGE:
  store, err := sqlite.New("./data/payout.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory ledger store for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/payout-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reference_id TEXT,
		reverses TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_account
		ON ledger_entries(account_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;

	-- Collaborator input
	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		handles_json TEXT
	);

	CREATE TABLE IF NOT EXISTS payee_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		member_ids_json TEXT,
		handles_json TEXT
	);

	CREATE TABLE IF NOT EXISTS shows (
		id TEXT PRIMARY KEY,
		production_id TEXT NOT NULL,
		name TEXT NOT NULL,
		date TEXT NOT NULL,
		event_type TEXT NOT NULL DEFAULT 'show',
		canceled INTEGER NOT NULL DEFAULT 0,
		non_revenue INTEGER NOT NULL DEFAULT 0,
		revenue TEXT NOT NULL DEFAULT '0',
		expenses TEXT NOT NULL DEFAULT '0',
		ticket_count INTEGER NOT NULL DEFAULT 0,
		confirmed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_shows_production_date
		ON shows(production_id, date);

	CREATE TABLE IF NOT EXISTS roster_entries (
		show_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		payee TEXT,
		is_guest INTEGER NOT NULL DEFAULT 0,
		guest_name TEXT,
		guest_payment_handle TEXT,
		PRIMARY KEY (show_id, position)
	);

	-- Schemes
	CREATE TABLE IF NOT EXISTS schemes (
		id TEXT PRIMARY KEY,
		production_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT,
		is_default INTEGER NOT NULL DEFAULT 0,
		rules_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schemes_production
		ON schemes(production_id);

	-- Show payouts
	CREATE TABLE IF NOT EXISTS show_payouts (
		show_id TEXT PRIMARY KEY,
		production_id TEXT NOT NULL,
		status TEXT NOT NULL,
		scheme_id TEXT,
		override_rules_json TEXT,
		total_payout TEXT NOT NULL DEFAULT '0',
		calculated_at TEXT,
		non_paying INTEGER NOT NULL DEFAULT 0,
		non_paying_reason TEXT,
		closed_by TEXT,
		closed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_production
		ON show_payouts(production_id);

	CREATE TABLE IF NOT EXISTS payout_line_items (
		id TEXT PRIMARY KEY,
		show_id TEXT NOT NULL,
		payee TEXT,
		source TEXT NOT NULL,
		amount TEXT NOT NULL,
		advance_deduction TEXT NOT NULL DEFAULT '0',
		details_json TEXT,
		paid_at TEXT,
		paid_by TEXT,
		payment_method TEXT,
		payment_notes TEXT,
		paid_independently INTEGER NOT NULL DEFAULT 0,
		payroll_run_id TEXT,
		is_guest INTEGER NOT NULL DEFAULT 0,
		guest_name TEXT,
		guest_payment_handle TEXT,
		position INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_show
		ON payout_line_items(show_id, position);
	CREATE INDEX IF NOT EXISTS idx_line_items_run
		ON payout_line_items(payroll_run_id) WHERE payroll_run_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_line_items_payee
		ON payout_line_items(payee);

	-- Advances (balances live in ledger_entries)
	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		payee TEXT NOT NULL,
		production_id TEXT,
		show_id TEXT,
		advance_type TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		issued_by TEXT,
		issued_at TEXT NOT NULL,
		notes TEXT,
		disbursed_at TEXT,
		disbursed_by TEXT,
		disbursement_method TEXT,
		written_off_at TEXT,
		written_off_by TEXT,
		write_off_notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_advances_payee
		ON advances(payee, issued_at);

	CREATE TABLE IF NOT EXISTS advance_waivers (
		show_id TEXT NOT NULL,
		payee TEXT NOT NULL,
		reason TEXT,
		waived_by TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (show_id, payee)
	);

	-- Expenses
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		production_id TEXT NOT NULL,
		description TEXT,
		total_amount TEXT NOT NULL,
		purchase_date TEXT,
		spread_method TEXT,
		spread_months INTEGER NOT NULL DEFAULT 0,
		spread_event_count INTEGER NOT NULL DEFAULT 0,
		spread_start TEXT,
		spread_end TEXT,
		exclude_non_revenue INTEGER NOT NULL DEFAULT 0,
		exclude_canceled INTEGER NOT NULL DEFAULT 0,
		event_type_filter_json TEXT,
		selected_show_ids_json TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS expense_allocations (
		id TEXT PRIMARY KEY,
		expense_id TEXT NOT NULL,
		show_id TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		overridden INTEGER NOT NULL DEFAULT 0,
		override_reason TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE (expense_id, show_id)
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_show
		ON expense_allocations(show_id);

	-- Payroll
	CREATE TABLE IF NOT EXISTS payroll_runs (
		id TEXT PRIMARY KEY,
		production_id TEXT,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		total_gross TEXT NOT NULL DEFAULT '0',
		total_deductions TEXT NOT NULL DEFAULT '0',
		total_net TEXT NOT NULL DEFAULT '0',
		payee_count INTEGER NOT NULL DEFAULT 0,
		item_count INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		completed_by TEXT
	);

	CREATE TABLE IF NOT EXISTS payroll_line_items (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		payee TEXT NOT NULL,
		gross TEXT NOT NULL,
		deductions TEXT NOT NULL,
		net TEXT NOT NULL,
		show_count INTEGER NOT NULL DEFAULT 0,
		line_item_ids_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_items_run
		ON payroll_line_items(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (generic.Transactor)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type txValue struct {
	store *Store
	tx    *sql.Tx
}

func (s *Store) currentTx(ctx context.Context) *sql.Tx {
	if v, ok := ctx.Value(txKey{}).(txValue); ok && v.store == s {
		return v.tx
	}
	return nil
}

// conn returns the transaction carried by ctx, or the database.
func (s *Store) conn(ctx context.Context) querier {
	if tx := s.currentTx(ctx); tx != nil {
		return tx
	}
	return s.db
}

// WithTx executes fn within a database transaction. Nested calls join
// the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.currentTx(ctx) != nil {
		return fn(ctx)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, txValue{store: s, tx: sqlTx})); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"ledger_entries", "people", "payee_groups", "shows", "roster_entries",
		"schemes", "show_payouts", "payout_line_items", "advances", "advance_waivers",
		"expenses", "expense_allocations", "payroll_runs", "payroll_line_items",
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, table := range tables {
			if _, err := s.conn(ctx).ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout has fixed width so stored instants sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(tp generic.TimePoint) sql.NullString {
	if tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func parseDate(s sql.NullString) generic.TimePoint {
	if !s.Valid || s.String == "" {
		return generic.TimePoint{}
	}
	tp, err := generic.ParseDate(s.String)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parsePayee(s sql.NullString) generic.PayeeRef {
	ref, err := generic.ParsePayeeRef(s.String)
	if err != nil {
		return generic.PayeeRef{}
	}
	return ref
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &generic.NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}
