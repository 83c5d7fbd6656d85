/*
ledger.go - Append-only entry log

PURPOSE:
  The Ledger is the immutable source of truth for balances that move over
  time, such as cash advanced to a performer and recovered from later
  payouts. Balance is always computed by replaying entries - there's no
  separate "remaining balance" field that can get out of sync.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, entries cannot be modified
  3. AUDITABLE: Every balance change is traceable with full context
  4. IDEMPOTENT: Same idempotency key = same entry (no duplicates)

CORRECTIONS:
  If a movement must be undone (a line item is recalculated or removed,
  a write-off is reinstated), a reversal entry with the opposite sign is
  appended. Both remain in the ledger.

EXAMPLE FLOW:
  1. $100 advanced:                 issue       +100
  2. Show payout of $60 recovers:   application  -60
  3. Show is recalculated:          reversal     +60
                                    application  -60
  Remaining: 40

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Summaries computed from entries
  - payout/advances.go: Advance ledger built on this
*/
package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only entry log
// =============================================================================

// Ledger is the source of truth for account balance changes.
type Ledger interface {
	// Append adds an entry. Fails if idempotency key exists.
	Append(ctx context.Context, entry Entry) error

	// AppendBatch adds multiple entries atomically.
	AppendBatch(ctx context.Context, entries []Entry) error

	// Entries returns all entries for an account, chronologically.
	Entries(ctx context.Context, accountID AccountID) ([]Entry, error)

	// EntriesByReference returns entries recorded against a reference.
	EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error)

	// BalanceAt computes the account balance at a specific time.
	BalanceAt(ctx context.Context, accountID AccountID, at TimePoint) (decimal.Decimal, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, entry Entry) error {
	if entry.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, entry.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, entry)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, entries []Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
		exists, err := l.Store.Exists(ctx, e.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, entries)
}

func (l *DefaultLedger) Entries(ctx context.Context, accountID AccountID) ([]Entry, error) {
	return l.Store.Load(ctx, accountID)
}

func (l *DefaultLedger) EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error) {
	return l.Store.LoadByReference(ctx, referenceID)
}

func (l *DefaultLedger) BalanceAt(ctx context.Context, accountID AccountID, at TimePoint) (decimal.Decimal, error) {
	entries, err := l.Store.Load(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	balance := decimal.Zero
	for _, e := range entries {
		if e.EffectiveAt.After(at) {
			break
		}
		balance = balance.Add(e.Delta)
	}
	return balance, nil
}

// OpenReferences returns the entries against referenceID of the given type
// that have not been reversed yet.
func OpenReferences(entries []Entry, referenceID string, typ EntryType) []Entry {
	reversed := make(map[EntryID]bool)
	for _, e := range entries {
		if e.IsReversal() && e.Reverses != "" {
			reversed[e.Reverses] = true
		}
	}
	var open []Entry
	for _, e := range entries {
		if e.Type == typ && e.ReferenceID == referenceID && !reversed[e.ID] {
			open = append(open, e)
		}
	}
	return open
}
