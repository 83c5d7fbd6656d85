package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
	"github.com/warp/payout-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testShow(id production.ShowID) production.Show {
	return production.Show{
		ID:           id,
		ProductionID: "prod-1",
		Name:         "Late Show",
		Date:         generic.NewTimePoint(2026, time.March, 6),
		Financials: production.Financials{
			Revenue:     generic.MustParseDecimal("1234.56"),
			Expenses:    generic.MustParseDecimal("100"),
			TicketCount: 42,
			Confirmed:   true,
		},
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.SaveShow(ctx, testShow("s1")))
		// Visible inside the transaction
		_, err := store.GetShow(ctx, "s1")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetShow(ctx, "s1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_NestedWithTxJoinsOuter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context) error {
		if err := store.SaveShow(ctx, testShow("s1")); err != nil {
			return err
		}
		inner := store.WithTx(ctx, func(ctx context.Context) error {
			return store.SaveShow(ctx, testShow("s2"))
		})
		require.NoError(t, inner)
		return errors.New("outer fails after inner succeeded")
	})
	require.Error(t, err)

	shows, err := store.ListShows(ctx, production.ShowFilter{})
	require.NoError(t, err)
	assert.Empty(t, shows, "inner work rolls back with the outer transaction")
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_IdempotencyKeys(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entry := func(id, key string) generic.Entry {
		return generic.Entry{
			ID:             generic.EntryID(id),
			AccountID:      "adv-1",
			EntityID:       "person:sam",
			EffectiveAt:    generic.InstantOf(time.Date(2026, time.March, 6, 12, 0, 0, 0, time.UTC)),
			Delta:          generic.MustParseDecimal("-10"),
			Type:           generic.EntryApplication,
			IdempotencyKey: key,
		}
	}

	// Entries without a key never collide
	require.NoError(t, store.Append(ctx, entry("e-1", "")))
	require.NoError(t, store.Append(ctx, entry("e-2", "")))

	require.NoError(t, store.Append(ctx, entry("e-3", "apply:li-1")))
	err := store.Append(ctx, entry("e-4", "apply:li-1"))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	exists, err := store.Exists(ctx, "apply:li-1")
	require.NoError(t, err)
	assert.True(t, exists)

	entries, err := store.Load(ctx, "adv-1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStore_LedgerOrdersBySubSecondTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 6, 12, 0, 0, 0, time.UTC)

	// Written out of order; the later instant has fewer fractional digits
	later := generic.Entry{
		ID: "late", AccountID: "adv-1", EffectiveAt: generic.InstantOf(base.Add(500 * time.Millisecond)),
		Delta: generic.MustParseDecimal("-5"), Type: generic.EntryApplication, ReferenceID: "li-1",
		Metadata: map[string]string{"show_id": "s1"},
	}
	earlier := generic.Entry{
		ID: "early", AccountID: "adv-1", EffectiveAt: generic.InstantOf(base.Add(50 * time.Millisecond)),
		Delta: generic.MustParseDecimal("100"), Type: generic.EntryIssue,
	}
	require.NoError(t, store.AppendBatch(ctx, []generic.Entry{later, earlier}))

	entries, err := store.Load(ctx, "adv-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.EntryID("early"), entries[0].ID)
	assert.Equal(t, generic.EntryID("late"), entries[1].ID)
	assert.Equal(t, "s1", entries[1].Metadata["show_id"])
	assert.True(t, entries[1].EffectiveAt.Time.Equal(later.EffectiveAt.Time))

	byRef, err := store.LoadByReference(ctx, "li-1")
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, "-5", byRef[0].Delta.String())
}

// =============================================================================
// SHOWS & PAYEES
// =============================================================================

func TestStore_ShowRoundTripAndUpsert(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveShow(ctx, testShow("s1")))
	got, err := store.GetShow(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", got.Date.String())
	assert.Equal(t, "show", got.EventType, "event type defaults to show")
	assert.Equal(t, "1234.56", got.Financials.Revenue.StringFixed(2))
	assert.Equal(t, 42, got.Financials.TicketCount)
	assert.True(t, got.Financials.Confirmed)

	updated := testShow("s1")
	updated.Canceled = true
	updated.Financials.Confirmed = false
	require.NoError(t, store.SaveShow(ctx, updated))

	got, err = store.GetShow(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Canceled)
	assert.False(t, got.Financials.Confirmed)

	april := generic.Period{Start: generic.NewTimePoint(2026, time.April, 1), End: generic.NewTimePoint(2026, time.April, 30)}
	shows, err := store.ListShows(ctx, production.ShowFilter{ProductionID: "prod-1", Period: &april})
	require.NoError(t, err)
	assert.Empty(t, shows)
}

func TestStore_RosterKeepsOrderAndGuests(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveShow(ctx, testShow("s1")))

	require.NoError(t, store.SetRoster(ctx, "s1", []production.RosterEntry{
		{Payee: production.PersonRef("sam"), Position: 2},
		{IsGuest: true, GuestName: "Riley", GuestPaymentHandle: "@riley", Position: 3},
		{Payee: production.GroupRef("duo"), Position: 1},
	}))

	roster, err := store.Roster(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, production.GroupRef("duo"), roster[0].Payee)
	assert.Equal(t, production.PersonRef("sam"), roster[1].Payee)
	assert.True(t, roster[2].IsGuest)
	assert.Equal(t, "@riley", roster[2].GuestPaymentHandle)

	// Replacing the roster drops the old entries
	require.NoError(t, store.SetRoster(ctx, "s1", []production.RosterEntry{{Payee: production.PersonRef("alex")}}))
	roster, err = store.Roster(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "alex", roster[0].Payee.ID)
}

func TestStore_PayeeDirectory(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePerson(ctx, production.Person{
		ID: "sam", Name: "Sam", Handles: []generic.PaymentHandle{{Method: "venmo", Handle: "@sam"}},
	}))
	require.NoError(t, store.SaveGroup(ctx, production.Group{ID: "duo", Name: "The Duo", MemberIDs: []string{"sam", "alex"}}))

	payee, err := store.Payee(ctx, production.PersonRef("sam"))
	require.NoError(t, err)
	assert.Equal(t, "Sam", payee.DisplayName())
	require.Len(t, payee.PaymentHandles(), 1)
	assert.Equal(t, "@sam", payee.PaymentHandles()[0].Handle)

	payee, err = store.Payee(ctx, production.GroupRef("duo"))
	require.NoError(t, err)
	assert.Equal(t, "The Duo", payee.DisplayName())
	assert.Equal(t, production.GroupRef("duo"), payee.Ref())

	_, err = store.Payee(ctx, production.PersonRef("nobody"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = store.Payee(ctx, generic.PayeeRef{Kind: "robot", ID: "r2"})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
