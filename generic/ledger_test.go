package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() *generic.DefaultLedger {
	return generic.NewLedger(store.NewMemory())
}

func at(day int) generic.TimePoint {
	return generic.InstantOf(time.Date(2026, time.March, day, 12, 0, 0, 0, time.UTC))
}

func entry(id string, day int, delta string, typ generic.EntryType) generic.Entry {
	return generic.Entry{
		ID:          generic.EntryID(id),
		AccountID:   "adv-1",
		EntityID:    "person:sam",
		EffectiveAt: at(day),
		Delta:       generic.MustParseDecimal(delta),
		Type:        typ,
	}
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestLedger_ReplayGivesRemainingBalance(t *testing.T) {
	// GIVEN: $100 advanced, $60 recovered, recovery reversed and re-applied
	// WHEN: Replaying the account
	// THEN: $40 remains and the components reconcile

	ctx := context.Background()
	ledger := newTestLedger()

	a1 := entry("e-2", 2, "-60", generic.EntryApplication)
	a1.ReferenceID = "li-1"
	rev := entry("e-3", 3, "60", generic.EntryApplicationReversal)
	rev.ReferenceID = "li-1"
	rev.Reverses = "e-2"
	a2 := entry("e-4", 3, "-60", generic.EntryApplication)
	a2.ReferenceID = "li-1"

	err := ledger.AppendBatch(ctx, []generic.Entry{
		entry("e-1", 1, "100", generic.EntryIssue), a1, rev, a2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bc := &generic.BalanceCalculator{Ledger: ledger}
	b, err := bc.CalculateBalance(ctx, "adv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !b.Remaining.Equal(generic.MustParseDecimal("40")) {
		t.Errorf("expected 40 remaining, got %s", b.Remaining)
	}
	if !b.Applied.Equal(generic.MustParseDecimal("60")) {
		t.Errorf("expected 60 applied, got %s", b.Applied)
	}
	if !b.Reconciles() {
		t.Errorf("balance does not reconcile: %+v", b)
	}
	if b.IsSettled() {
		t.Error("balance with 40 remaining should not be settled")
	}

	// Only the re-application is still open against the line item
	refs, err := ledger.EntriesByReference(ctx, "li-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	open := generic.OpenReferences(refs, "li-1", generic.EntryApplication)
	if len(open) != 1 || open[0].ID != "e-4" {
		t.Errorf("expected only e-4 open, got %+v", open)
	}
}

func TestLedger_BalanceAtIgnoresLaterEntries(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	ledger.Append(ctx, entry("e-1", 1, "100", generic.EntryIssue))
	ledger.Append(ctx, entry("e-2", 10, "-25", generic.EntryApplication))

	before, err := ledger.BalanceAt(ctx, "adv-1", at(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !before.Equal(generic.MustParseDecimal("100")) {
		t.Errorf("expected 100 before the application, got %s", before)
	}

	after, _ := ledger.BalanceAt(ctx, "adv-1", at(11))
	if !after.Equal(generic.MustParseDecimal("75")) {
		t.Errorf("expected 75 after the application, got %s", after)
	}
}

func TestLedger_DuplicateIdempotencyKeyRejected(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	e := entry("e-1", 1, "100", generic.EntryIssue)
	e.IdempotencyKey = "issue:adv-1"
	if err := ledger.Append(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e.ID = "e-2"
	if err := ledger.Append(ctx, e); !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected duplicate key error, got %v", err)
	}

	// A batch repeating a key within itself is rejected as a whole
	x := entry("e-3", 2, "-10", generic.EntryApplication)
	x.IdempotencyKey = "apply:li-9"
	y := x
	y.ID = "e-4"
	if err := ledger.AppendBatch(ctx, []generic.Entry{x, y}); !errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
		t.Errorf("expected duplicate key error, got %v", err)
	}

	entries, _ := ledger.Entries(ctx, "adv-1")
	if len(entries) != 1 {
		t.Errorf("expected 1 entry after rejected writes, got %d", len(entries))
	}
}

func TestMemoryStore_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ledger := generic.NewLedger(mem)

	boom := errors.New("boom")
	err := mem.WithTx(ctx, func(ctx context.Context) error {
		if err := ledger.Append(ctx, entry("e-1", 1, "100", generic.EntryIssue)); err != nil {
			return err
		}
		// Nested units join the outer one
		return mem.WithTx(ctx, func(ctx context.Context) error {
			if err := ledger.Append(ctx, entry("e-2", 2, "-10", generic.EntryApplication)); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	entries, _ := ledger.Entries(ctx, "adv-1")
	if len(entries) != 0 {
		t.Errorf("expected rollback, found %d entries", len(entries))
	}
}

func TestMemoryStore_EntriesOrderedByEffectiveTime(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger()

	ledger.Append(ctx, entry("late", 9, "-5", generic.EntryApplication))
	ledger.Append(ctx, entry("early", 1, "100", generic.EntryIssue))
	ledger.Append(ctx, entry("middle", 4, "-5", generic.EntryApplication))

	entries, _ := ledger.Entries(ctx, "adv-1")
	want := []generic.EntryID{"early", "middle", "late"}
	for i, e := range entries {
		if e.ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], e.ID)
		}
	}
}
