package payroll_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *sqlite.Store
	payouts *payout.Service
	batcher *payroll.Batcher
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	payouts := payout.NewService(store, store)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		payouts: payouts,
		batcher: payroll.NewBatcher(store, payouts, store),
	}
}

// calculatedShow saves a confirmed show and calculates its payout.
func (f *fixture) calculatedShow(id production.ShowID, date generic.TimePoint, revenue string, cast ...string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveShow(f.ctx, production.Show{
		ID:           id,
		ProductionID: "prod-1",
		Name:         "Late Show",
		Date:         date,
		EventType:    "show",
		Financials: production.Financials{
			Revenue:     generic.MustParseDecimal(revenue),
			Expenses:    decimal.Zero,
			TicketCount: 20,
			Confirmed:   true,
		},
	}))
	entries := make([]production.RosterEntry, len(cast))
	for i, c := range cast {
		entries[i] = production.RosterEntry{Payee: production.PersonRef(c), Position: i + 1}
	}
	require.NoError(f.t, f.store.SetRoster(f.ctx, id, entries))

	_, err := f.payouts.Calculate(f.ctx, id, "tester")
	require.NoError(f.t, err)
}

func march() generic.Period {
	return generic.Period{
		Start: generic.NewTimePoint(2026, time.March, 1),
		End:   generic.NewTimePoint(2026, time.March, 31),
	}
}

// seedMarch books two March shows and one in April. Sam carries a $50
// advance that the first show recovers.
func (f *fixture) seedMarch() {
	f.t.Helper()
	_, err := f.payouts.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee:        production.PersonRef("sam"),
		ProductionID: "prod-1",
		Amount:       generic.MustParseDecimal("50"),
		IssuedBy:     "tester",
	})
	require.NoError(f.t, err)

	f.calculatedShow("s1", generic.NewTimePoint(2026, time.March, 6), "300", "alex", "sam", "jordan")
	f.calculatedShow("s2", generic.NewTimePoint(2026, time.March, 13), "200", "alex", "sam")
	f.calculatedShow("s3", generic.NewTimePoint(2026, time.April, 3), "100", "alex")
}

func byPayee(items []payroll.LineItem) map[string]payroll.LineItem {
	out := make(map[string]payroll.LineItem, len(items))
	for _, it := range items {
		out[it.Payee.ID] = it
	}
	return out
}

// =============================================================================
// RUNS
// =============================================================================

func TestBatcher_CreateRunGroupsPerPayee(t *testing.T) {
	f := newFixture(t)
	f.seedMarch()

	run, items, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{
		Period: march(), ProductionID: "prod-1", Notes: "march", CreatedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusPending, run.Status)
	assert.Equal(t, 3, run.PayeeCount)
	assert.Equal(t, 5, run.ItemCount)
	assert.Equal(t, "500.00", run.TotalGross.StringFixed(2))
	assert.Equal(t, "50.00", run.TotalDeductions.StringFixed(2))
	assert.Equal(t, "450.00", run.TotalNet.StringFixed(2))

	require.Len(t, items, 3)
	assert.Equal(t, "alex", items[0].Payee.ID, "items are ordered by payee")
	got := byPayee(items)
	assert.Equal(t, 2, got["alex"].ShowCount)
	assert.Equal(t, "200.00", got["alex"].Gross.StringFixed(2))
	assert.Equal(t, "150.00", got["sam"].Net.StringFixed(2))
	assert.Equal(t, 1, got["jordan"].ShowCount)

	// Claimed items are no longer payable elsewhere
	payable, err := f.payouts.PayableLineItems(f.ctx, []production.ShowID{"s1", "s2"})
	require.NoError(t, err)
	assert.Empty(t, payable)

	stored, storedItems, err := f.batcher.GetRun(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.TotalNet.StringFixed(2), stored.TotalNet.StringFixed(2))
	assert.Len(t, storedItems, 3)
}

func TestBatcher_CompleteMarksItemsPaidViaPayroll(t *testing.T) {
	f := newFixture(t)
	f.seedMarch()

	run, _, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{Period: march(), ProductionID: "prod-1"})
	require.NoError(t, err)

	run, err = f.batcher.StartProcessing(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusProcessing, run.Status)

	run, err = f.batcher.Complete(f.ctx, run.ID, "accountant")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, "accountant", run.CompletedBy)

	for _, showID := range []production.ShowID{"s1", "s2"} {
		items, err := f.payouts.LineItems(f.ctx, showID)
		require.NoError(t, err)
		for _, li := range items {
			assert.Equal(t, payout.PaymentPaidViaPayroll, li.PaymentState())
		}
		p, err := f.payouts.GetPayout(f.ctx, showID)
		require.NoError(t, err)
		assert.Equal(t, payout.StatusPaid, p.Status)
	}

	// April is untouched
	p, _ := f.payouts.GetPayout(f.ctx, "s3")
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)

	_, err = f.batcher.Cancel(f.ctx, run.ID, "too late")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestBatcher_CancelReleasesClaims(t *testing.T) {
	f := newFixture(t)
	f.seedMarch()

	run, _, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{Period: march(), ProductionID: "prod-1"})
	require.NoError(t, err)

	run, err = f.batcher.Cancel(f.ctx, run.ID, "wrong period")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusCancelled, run.Status)
	assert.Contains(t, run.Notes, "wrong period")

	payable, err := f.payouts.PayableLineItems(f.ctx, []production.ShowID{"s1", "s2"})
	require.NoError(t, err)
	assert.Len(t, payable, 5)

	_, err = f.batcher.Complete(f.ctx, run.ID, "accountant")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	_, _, err = f.batcher.BuildLineItems(f.ctx, run.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestBatcher_RunWithNothingToPayIsCancelled(t *testing.T) {
	f := newFixture(t)
	f.seedMarch()

	first, _, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{Period: march(), ProductionID: "prod-1"})
	require.NoError(t, err)

	// Everything in March is already claimed by the first run
	second, items, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{Period: march(), ProductionID: "prod-1"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, payroll.StatusCancelled, second.Status)
	assert.Contains(t, second.Notes, "no payable line items")

	cancelled, err := f.batcher.ListRuns(f.ctx, payroll.StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, second.ID, cancelled[0].ID)

	all, err := f.batcher.ListRuns(f.ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.batcher.ListRuns(f.ctx, payroll.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestBatcher_RebuildPicksUpNewItems(t *testing.T) {
	f := newFixture(t)
	f.seedMarch()

	run, _, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{Period: march(), ProductionID: "prod-1"})
	require.NoError(t, err)

	_, err = f.payouts.AddLineItem(f.ctx, "s2", payout.NewLineItem{
		Payee:  production.PersonRef("jordan"),
		Amount: generic.MustParseDecimal("40"),
	}, "tester")
	require.NoError(t, err)

	run, items, err := f.batcher.BuildLineItems(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, run.ItemCount)
	assert.Equal(t, "540.00", run.TotalGross.StringFixed(2))
	assert.Equal(t, 2, byPayee(items)["jordan"].ShowCount)
}

func TestBatcher_RejectsInvalidPeriod(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.batcher.CreateRun(f.ctx, payroll.RunRequest{
		Period: generic.Period{
			Start: generic.NewTimePoint(2026, time.March, 31),
			End:   generic.NewTimePoint(2026, time.March, 1),
		},
	})
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)

	runs, err := f.batcher.ListRuns(f.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGroup_SumsPerPayee(t *testing.T) {
	items := payroll.Group("run-1", []payout.LineItem{
		{ID: "li-1", ShowID: "s1", Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("100"), AdvanceDeduction: generic.MustParseDecimal("30")},
		{ID: "li-2", ShowID: "s2", Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("80"), AdvanceDeduction: decimal.Zero},
		{ID: "li-3", ShowID: "s2", Payee: production.PersonRef("alex"), Amount: generic.MustParseDecimal("80"), AdvanceDeduction: decimal.Zero},
	})
	require.Len(t, items, 2)
	assert.Equal(t, "alex", items[0].Payee.ID)

	sam := items[1]
	assert.Equal(t, payroll.RunID("run-1"), sam.RunID)
	assert.Equal(t, "180.00", sam.Gross.StringFixed(2))
	assert.Equal(t, "30.00", sam.Deductions.StringFixed(2))
	assert.Equal(t, "150.00", sam.Net.StringFixed(2))
	assert.Equal(t, 2, sam.ShowCount)
	assert.Equal(t, []payout.LineItemID{"li-1", "li-2"}, sam.LineItemIDs)
}
