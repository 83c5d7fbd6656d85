/*
store.go - Persistence interfaces for ledger entries and atomic units

PURPOSE:
  Defines the interface between the domain logic and the database.
  The Store handles persistence of ledger entries while maintaining
  append-only semantics. Different implementations can use SQLite or
  in-memory storage.

KEY INTERFACES:
  Store:      Ledger entry persistence (append, load, exists)
  Transactor: Atomic units of work shared by every domain store

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - Append(): Single entry write
  - AppendBatch(): Atomic multi-entry write
  - NO Update() or Delete() methods exist

ATOMIC UNITS:
  The atomic unit of the payout engine is one aggregate: one show payout
  (calculate + line item replace + advance applications) or one production
  expense (full allocation recompute). Transactor.WithTx runs fn inside a
  database transaction carried by the context handed to fn; every store
  call made with that context joins the transaction. If fn returns an
  error, nothing is written.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for ledger entry persistence (append-only)
// =============================================================================

// Store handles persistence of ledger entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
// Corrections are made via reversal entries.
type Store interface {
	// Append persists an entry. Returns error if idempotency key exists.
	Append(ctx context.Context, entry Entry) error

	// AppendBatch persists multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Load returns all entries for an account, ordered by EffectiveAt.
	Load(ctx context.Context, accountID AccountID) ([]Entry, error)

	// LoadByReference returns every entry pointing at a reference
	// (for example all applications made against one line item).
	LoadByReference(ctx context.Context, referenceID string) ([]Entry, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// TRANSACTOR - Atomic units of work
// =============================================================================

// Transactor runs fn atomically. Calls made with the context passed to fn
// take part in the same transaction; nested WithTx calls join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxStore is a ledger store with transaction support.
type TxStore interface {
	Store
	Transactor
}
