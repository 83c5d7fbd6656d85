package payout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
	"github.com/warp/payout-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const testProduction = production.ProductionID("prod-1")

type recordingNotifier struct {
	mu     sync.Mutex
	events []payout.Event
}

func (r *recordingNotifier) Notify(e payout.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) kinds() []payout.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]payout.EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *sqlite.Store
	svc   *payout.Service
	sent  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sent := &recordingNotifier{}
	svc := payout.NewService(store, store)
	svc.Notifier = sent
	return &fixture{t: t, ctx: context.Background(), store: store, svc: svc, sent: sent}
}

func (f *fixture) show(id production.ShowID, day int, revenue string, confirmed bool, cast ...string) {
	f.t.Helper()
	require.NoError(f.t, f.store.SaveShow(f.ctx, production.Show{
		ID:           id,
		ProductionID: testProduction,
		Name:         "Late Show",
		Date:         generic.NewTimePoint(2026, time.March, day),
		EventType:    "show",
		Financials: production.Financials{
			Revenue:     generic.MustParseDecimal(revenue),
			Expenses:    decimal.Zero,
			TicketCount: 30,
			Confirmed:   confirmed,
		},
	}))
	f.roster(id, cast...)
}

func (f *fixture) roster(id production.ShowID, cast ...string) {
	f.t.Helper()
	entries := make([]production.RosterEntry, len(cast))
	for i, c := range cast {
		entries[i] = production.RosterEntry{Payee: production.PersonRef(c), Position: i + 1}
	}
	require.NoError(f.t, f.store.SetRoster(f.ctx, id, entries))
}

func (f *fixture) items(id production.ShowID) map[string]payout.LineItem {
	f.t.Helper()
	items, err := f.svc.LineItems(f.ctx, id)
	require.NoError(f.t, err)
	out := make(map[string]payout.LineItem, len(items))
	for _, li := range items {
		out[li.Payee.ID] = li
	}
	return out
}

func (f *fixture) scheme(name string, rules payout.Rules, isDefault bool) payout.Scheme {
	f.t.Helper()
	sc, err := f.svc.CreateScheme(f.ctx, payout.SchemeInput{
		ProductionID: testProduction,
		Name:         name,
		Rules:        rules,
		IsDefault:    isDefault,
	})
	require.NoError(f.t, err)
	return sc
}

func flatFee(amount string) payout.Rules {
	return payout.Rules{
		Allocation:   []payout.AllocationStep{payout.Remainder{}},
		Distribution: payout.FlatFee{Amount: generic.MustParseDecimal(amount)},
	}
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestService_CalculateMovesDraftToAwaitingPayout(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")

	p, err := f.svc.EnsurePayout(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusDraft, p.Status)

	p, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)
	assert.Equal(t, "300.00", p.TotalPayout.StringFixed(2))
	require.NotNil(t, p.CalculatedAt)

	items := f.items("s1")
	require.Len(t, items, 3)
	for _, li := range items {
		assert.Equal(t, "100.00", li.Amount.StringFixed(2))
		assert.Equal(t, payout.SourceCalculated, li.Source)
		assert.Equal(t, payout.PaymentUnpaid, li.PaymentState())
	}
	assert.Equal(t, []payout.EventKind{payout.EventPayoutCalculated}, f.sent.kinds())
}

func TestService_RecalculationKeepsPaidItems(t *testing.T) {
	// GIVEN: $300 split three ways, Alex already paid $100
	// WHEN: Revenue is corrected to $600 and the show recalculated
	// THEN: Alex keeps the paid $100 item, the others get $200 each

	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	alex := f.items("s1")["alex"]
	_, err = f.svc.MarkAsPaid(f.ctx, alex.ID, payout.Payment{Method: "venmo", By: "tester"})
	require.NoError(t, err)

	f.show("s1", 6, "600", true, "alex", "sam", "jordan")
	p, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	items := f.items("s1")
	require.Len(t, items, 3)
	assert.Equal(t, alex.ID, items["alex"].ID, "paid item is left alone")
	assert.Equal(t, "100.00", items["alex"].Amount.StringFixed(2))
	assert.Equal(t, "200.00", items["sam"].Amount.StringFixed(2))
	assert.Equal(t, "200.00", items["jordan"].Amount.StringFixed(2))
	assert.Equal(t, "500.00", p.TotalPayout.StringFixed(2))
}

func TestService_PaidPayoutRejectsCalculateUntilReopened(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	for _, li := range f.items("s1") {
		_, err := f.svc.MarkAsPaid(f.ctx, li.ID, payout.Payment{Method: "cash", By: "tester"})
		require.NoError(t, err)
	}
	p, err := f.svc.GetPayout(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPaid, p.Status)

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	p, err = f.svc.Reopen(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)

	_, err = f.svc.Reopen(f.ctx, "s1")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition, "only paid payouts reopen")
}

func TestService_UnmarkingReturnsPayoutToAwaiting(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "100", true, "alex")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	li := f.items("s1")["alex"]
	_, err = f.svc.MarkAsPaid(f.ctx, li.ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)

	_, err = f.svc.MarkAsPaid(f.ctx, li.ID, payout.Payment{Method: "cash", By: "tester"})
	var paid *generic.AlreadyPaidError
	assert.ErrorAs(t, err, &paid)

	unmarked, err := f.svc.UnmarkAsPaid(f.ctx, li.ID, "tester")
	require.NoError(t, err)
	assert.Nil(t, unmarked.PaidAt)

	p, err := f.svc.GetPayout(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)
}

func TestService_CloseAsNonPaying(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "0", true)

	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.ErrorIs(t, err, generic.ErrNoPerformers)

	p, err := f.svc.CloseAsNonPaying(f.ctx, "s1", "rained out", "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPaid, p.Status)
	assert.True(t, p.NonPaying)
	assert.Equal(t, "rained out", p.NonPayingReason)
	assert.True(t, p.TotalPayout.IsZero())

	_, err = f.svc.CloseAsNonPaying(f.ctx, "s1", "again", "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_CloseRefusesWhenAnItemIsPaid(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	_, err = f.svc.MarkAsPaid(f.ctx, f.items("s1")["alex"].ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)

	_, err = f.svc.CloseAsNonPaying(f.ctx, "s1", "mistake", "tester")
	assert.ErrorIs(t, err, generic.ErrAlreadyPaidConflict)
	assert.Len(t, f.items("s1"), 2, "nothing was deleted")
}

func TestService_AddLineItemReopensPaidPayout(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "100", true, "alex")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	_, err = f.svc.MarkAsOfflinePaid(f.ctx, []payout.LineItemID{f.items("s1")["alex"].ID}, "paid at the bar", "tester")
	require.NoError(t, err)

	p, _ := f.svc.GetPayout(f.ctx, "s1")
	require.Equal(t, payout.StatusPaid, p.Status)
	assert.Equal(t, payout.PaymentPaidIndependently, f.items("s1")["alex"].PaymentState())

	li, err := f.svc.AddLineItem(f.ctx, "s1", payout.NewLineItem{
		Payee:  production.PersonRef("sam"),
		Amount: generic.MustParseDecimal("40"),
		Reason: "door help",
	}, "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.SourceManual, li.Source)
	assert.Equal(t, "door help", li.CalculationDetails.Inputs["reason"])

	p, _ = f.svc.GetPayout(f.ctx, "s1")
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)
	assert.Equal(t, "140.00", p.TotalPayout.StringFixed(2))

	_, err = f.svc.AddLineItem(f.ctx, "s1", payout.NewLineItem{Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("-1")}, "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestService_AdjustLineItemKeepsAuditTrail(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	li, err := f.svc.AdjustLineItem(f.ctx, f.items("s1")["sam"].ID, generic.MustParseDecimal("120"), "headliner bump", "tester")
	require.NoError(t, err)

	assert.Equal(t, "120.00", li.Amount.StringFixed(2))
	require.Len(t, li.CalculationDetails.Adjustments, 1)
	adj := li.CalculationDetails.Adjustments[0]
	assert.Equal(t, "100.00", adj.From.StringFixed(2))
	assert.Equal(t, "headliner bump", adj.Reason)
	assert.Equal(t, payout.MethodEqual, li.CalculationDetails.Method, "original calculation is kept")

	p, _ := f.svc.GetPayout(f.ctx, "s1")
	assert.Equal(t, "220.00", p.TotalPayout.StringFixed(2))
}

func TestService_AddMissingCast(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	// Jordan joined after the calculation
	f.roster("s1", "alex", "sam", "jordan")

	added, err := f.svc.AddMissingCast(f.ctx, "s1", generic.MustParseDecimal("25"), "tester")
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, production.PersonRef("jordan"), added[0].Payee)
	assert.Equal(t, payout.SourceMissingCast, added[0].Source)

	// Nobody is missing anymore
	added, err = f.svc.AddMissingCast(f.ctx, "s1", generic.MustParseDecimal("25"), "tester")
	require.NoError(t, err)
	assert.Empty(t, added)
}

// =============================================================================
// RECOMPUTE HOOKS
// =============================================================================

func TestService_FinancialsChangedOnlyRecalculatesAwaitingPayouts(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")

	// No payout yet: nothing to do
	ran, err := f.svc.FinancialsChanged(f.ctx, "s1", production.Financials{}, "tester")
	require.NoError(t, err)
	assert.False(t, ran)

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	show, err := f.store.GetShow(f.ctx, "s1")
	require.NoError(t, err)
	before := show.Financials

	ran, err = f.svc.FinancialsChanged(f.ctx, "s1", before, "tester")
	require.NoError(t, err)
	assert.False(t, ran, "unchanged totals")

	f.show("s1", 6, "450", true, "alex", "sam", "jordan")
	ran, err = f.svc.FinancialsChanged(f.ctx, "s1", before, "tester")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "150.00", f.items("s1")["sam"].Amount.StringFixed(2))
}

func TestService_RosterUpdatedRecalculates(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	ran, err := f.svc.RosterUpdated(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.False(t, ran)

	f.roster("s1", "alex", "sam")
	ran, err = f.svc.RosterUpdated(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.True(t, ran)

	items := f.items("s1")
	assert.Len(t, items, 2)
	assert.Equal(t, "150.00", items["alex"].Amount.StringFixed(2))
}

// =============================================================================
// ADVANCES
// =============================================================================

func TestService_AdvanceRecoveryOrderAndReversal(t *testing.T) {
	// GIVEN: Sam has a $50 person-wide advance and a $30 advance for show s1
	// WHEN: s1 pays Sam $100
	// THEN: The show advance is recovered first, then the person-wide one

	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")

	person, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), ProductionID: testProduction, Amount: generic.MustParseDecimal("50"), IssuedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceForPerson, person.Type)
	assert.Equal(t, payout.AdvanceUnpaid, person.Status())

	forShow, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), ShowID: "s1", Amount: generic.MustParseDecimal("30"), IssuedBy: "tester",
	})
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceForShow, forShow.Type)
	assert.Equal(t, testProduction, forShow.ProductionID, "production is taken from the show")

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	sam := f.items("s1")["sam"]
	assert.Equal(t, "80.00", sam.AdvanceDeduction.StringFixed(2))
	assert.Equal(t, "20.00", sam.Net().StringFixed(2))

	remaining := func(id payout.AdvanceID) string {
		v, err := f.svc.GetAdvance(f.ctx, id)
		require.NoError(t, err)
		assert.True(t, v.Balance.Reconciles())
		return v.RemainingBalance().StringFixed(2)
	}
	assert.Equal(t, "0.00", remaining(forShow.ID))
	assert.Equal(t, "0.00", remaining(person.ID))

	// Lowering Sam's amount redoes the recovery: show advance first again
	sam, err = f.svc.AdjustLineItem(f.ctx, sam.ID, generic.MustParseDecimal("60"), "split with opener", "tester")
	require.NoError(t, err)
	assert.Equal(t, "60.00", sam.AdvanceDeduction.StringFixed(2))
	assert.Equal(t, "0.00", remaining(forShow.ID))
	assert.Equal(t, "20.00", remaining(person.ID))

	v, _ := f.svc.GetAdvance(f.ctx, person.ID)
	assert.Equal(t, payout.AdvancePaidDown, v.Status())

	// Removing the item gives everything back
	require.NoError(t, f.svc.RemoveLineItem(f.ctx, sam.ID, "tester"))
	assert.Equal(t, "30.00", remaining(forShow.ID))
	assert.Equal(t, "50.00", remaining(person.ID))

	history, err := f.svc.History(f.ctx, person.ID)
	require.NoError(t, err)
	types := make([]generic.EntryType, len(history))
	for i, e := range history {
		types[i] = e.Type
	}
	assert.Equal(t, []generic.EntryType{
		generic.EntryIssue,
		generic.EntryApplication,
		generic.EntryApplicationReversal,
		generic.EntryApplication,
		generic.EntryApplicationReversal,
	}, types)
}

func TestService_ShowAdvanceOnlyRecoveredFromItsShow(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "100", true, "sam")
	f.show("s2", 13, "100", true, "sam")

	adv, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), ShowID: "s2", Amount: generic.MustParseDecimal("40"), IssuedBy: "tester",
	})
	require.NoError(t, err)

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.True(t, f.items("s1")["sam"].AdvanceDeduction.IsZero())

	_, err = f.svc.Calculate(f.ctx, "s2", "tester")
	require.NoError(t, err)
	assert.Equal(t, "40.00", f.items("s2")["sam"].AdvanceDeduction.StringFixed(2))

	summary, err := f.svc.ShowAdvanceSummary(f.ctx, "s2")
	require.NoError(t, err)
	require.Len(t, summary.Advances, 1)
	assert.Equal(t, adv.ID, summary.Advances[0].ID)
	assert.Equal(t, "40.00", summary.Recovered.StringFixed(2))
	assert.True(t, summary.Outstanding.IsZero())
	assert.Empty(t, summary.Waivers)

	w, err := f.svc.WaiveAdvance(f.ctx, "s1", production.PersonRef("sam"), "local act", "tester")
	require.NoError(t, err)
	assert.Equal(t, "local act", w.Reason)

	summary, err = f.svc.ShowAdvanceSummary(f.ctx, "s1")
	require.NoError(t, err)
	require.Len(t, summary.Waivers, 1)
	assert.Equal(t, production.PersonRef("sam"), summary.Waivers[0].Payee)

	_, err = f.svc.WaiveAdvance(f.ctx, "nope", production.PersonRef("sam"), "", "tester")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestService_WriteOffAndReinstate(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "100", true, "sam")

	adv, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("75"), IssuedBy: "tester",
	})
	require.NoError(t, err)

	v, err := f.svc.WriteOff(f.ctx, adv.ID, "left the company", "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceWrittenOff, v.Status())
	assert.True(t, v.RemainingBalance().IsZero())
	assert.Equal(t, "75.00", v.Balance.WrittenOff.StringFixed(2))

	_, err = f.svc.WriteOff(f.ctx, adv.ID, "twice", "tester")
	assert.ErrorIs(t, err, generic.ErrAdvanceSettled)

	// Written-off advances are not recovered
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.True(t, f.items("s1")["sam"].AdvanceDeduction.IsZero())

	v, err = f.svc.ReinstateWriteOff(f.ctx, adv.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceUnpaid, v.Status())
	assert.Equal(t, "75.00", v.RemainingBalance().StringFixed(2))

	_, err = f.svc.ReinstateWriteOff(f.ctx, adv.ID, "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_WrittenOffRecoveryStaysWithRecalculation(t *testing.T) {
	// GIVEN: Sam owes $100 and a $40 show recovered $40 of it
	// WHEN: The rest is written off and the show recalculated unchanged
	// THEN: The $40 stays recovered and the advance stays at zero

	f := newFixture(t)
	f.show("s1", 6, "40", true, "sam")
	adv, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("100"), IssuedBy: "tester",
	})
	require.NoError(t, err)

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "40.00", f.items("s1")["sam"].AdvanceDeduction.StringFixed(2))

	v, err := f.svc.WriteOff(f.ctx, adv.ID, "left the company", "tester")
	require.NoError(t, err)
	assert.Equal(t, "60.00", v.Balance.WrittenOff.StringFixed(2))

	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "40.00", f.items("s1")["sam"].AdvanceDeduction.StringFixed(2))

	v, err = f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceWrittenOff, v.Status())
	assert.True(t, v.RemainingBalance().IsZero())
	assert.Equal(t, "40.00", v.Balance.Applied.StringFixed(2))
	assert.Equal(t, "60.00", v.Balance.WrittenOff.StringFixed(2))

	// Lowering the item moves the part it can no longer carry into the write-off
	li, err := f.svc.AdjustLineItem(f.ctx, f.items("s1")["sam"].ID, generic.MustParseDecimal("25"), "comp", "tester")
	require.NoError(t, err)
	assert.Equal(t, "25.00", li.AdvanceDeduction.StringFixed(2))

	v, err = f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.True(t, v.RemainingBalance().IsZero())
	assert.Equal(t, "25.00", v.Balance.Applied.StringFixed(2))
	assert.Equal(t, "75.00", v.Balance.WrittenOff.StringFixed(2))

	// Reinstating undoes the whole write-off
	v, err = f.svc.ReinstateWriteOff(f.ctx, adv.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, payout.AdvancePaidDown, v.Status())
	assert.Equal(t, "75.00", v.RemainingBalance().StringFixed(2))
}

func TestService_RemovingItemAfterWriteOffKeepsAdvanceClosed(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "40", true, "sam")
	adv, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("100"), IssuedBy: "tester",
	})
	require.NoError(t, err)
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	_, err = f.svc.WriteOff(f.ctx, adv.ID, "", "tester")
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveLineItem(f.ctx, f.items("s1")["sam"].ID, "tester"))

	v, err := f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.AdvanceWrittenOff, v.Status())
	assert.True(t, v.RemainingBalance().IsZero())
	assert.True(t, v.Balance.Applied.IsZero())
	assert.Equal(t, "100.00", v.Balance.WrittenOff.StringFixed(2))

	// Sam dropping off the roster releases the recovery the same way
	f.show("s2", 13, "40", true, "sam", "alex")
	_, err = f.svc.ReinstateWriteOff(f.ctx, adv.ID, "tester")
	require.NoError(t, err)
	_, err = f.svc.Calculate(f.ctx, "s2", "tester")
	require.NoError(t, err)
	_, err = f.svc.WriteOff(f.ctx, adv.ID, "", "tester")
	require.NoError(t, err)

	f.roster("s2", "alex")
	_, err = f.svc.Calculate(f.ctx, "s2", "tester")
	require.NoError(t, err)
	assert.NotContains(t, f.items("s2"), "sam")

	v, err = f.svc.GetAdvance(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.True(t, v.RemainingBalance().IsZero())
	assert.Equal(t, "100.00", v.Balance.WrittenOff.StringFixed(2))
}

func TestService_AdvanceDisbursementIsSeparateFromRecovery(t *testing.T) {
	f := newFixture(t)
	adv, err := f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{
		Payee: production.PersonRef("sam"), Amount: generic.MustParseDecimal("20"), IssuedBy: "tester",
	})
	require.NoError(t, err)

	v, err := f.svc.MarkAdvancePaid(f.ctx, adv.ID, "cash", "tester")
	require.NoError(t, err)
	require.NotNil(t, v.DisbursedAt)
	assert.Equal(t, payout.AdvanceUnpaid, v.Status(), "handing over cash recovers nothing")

	_, err = f.svc.MarkAdvancePaid(f.ctx, adv.ID, "cash", "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	v, err = f.svc.UnmarkAdvancePaid(f.ctx, adv.ID)
	require.NoError(t, err)
	assert.Nil(t, v.DisbursedAt)

	_, err = f.svc.IssueAdvance(f.ctx, payout.AdvanceRequest{Payee: production.PersonRef("sam"), Amount: decimal.Zero})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

// =============================================================================
// SCHEMES
// =============================================================================

func TestService_DefaultSchemeIsUniquePerProduction(t *testing.T) {
	f := newFixture(t)
	a := f.scheme("A", flatFee("50"), true)
	b := f.scheme("B", flatFee("80"), true)

	sc, ok, err := f.svc.DefaultScheme(f.ctx, testProduction)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.ID, sc.ID)

	reloaded, err := f.svc.GetScheme(f.ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault)

	_, err = f.svc.SetDefaultScheme(f.ctx, a.ID)
	require.NoError(t, err)
	sc, _, _ = f.svc.DefaultScheme(f.ctx, testProduction)
	assert.Equal(t, a.ID, sc.ID)

	_, err = f.svc.CreateScheme(f.ctx, payout.SchemeInput{ProductionID: testProduction, Rules: flatFee("1")})
	var rerr *generic.RulesError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "name", rerr.Path)
}

func TestService_ApplySchemeChangePropagatesForward(t *testing.T) {
	// GIVEN: Four shows on default scheme A; s3 has unconfirmed totals and
	// s4 is already paid
	// WHEN: Scheme B is applied to s1 with forward propagation
	// THEN: s1..s3 move to B, s4 stays, s3 is skipped for recalculation

	f := newFixture(t)
	a := f.scheme("A", flatFee("50"), true)
	b := f.scheme("B", flatFee("80"), false)

	f.show("s1", 6, "500", true, "alex")
	f.show("s2", 13, "500", true, "alex")
	f.show("s3", 20, "0", false, "alex")
	f.show("s4", 27, "500", true, "alex")
	for _, id := range []production.ShowID{"s1", "s2", "s4"} {
		_, err := f.svc.Calculate(f.ctx, id, "tester")
		require.NoError(t, err)
	}
	_, err := f.svc.EnsurePayout(f.ctx, "s3")
	require.NoError(t, err)
	_, err = f.svc.MarkAsPaid(f.ctx, f.items("s4")["alex"].ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)

	change, err := f.svc.ApplySchemeChange(f.ctx, "s1", b.ID, true, "tester")
	require.NoError(t, err)

	assert.ElementsMatch(t, []production.ShowID{"s1", "s2", "s3"}, change.Pinned)
	assert.ElementsMatch(t, []production.ShowID{"s1", "s2"}, change.Recalculated)
	assert.Empty(t, change.Skipped, "s3 is a draft and is not recalculated")

	assert.Equal(t, "80.00", f.items("s1")["alex"].Amount.StringFixed(2))
	assert.Equal(t, "80.00", f.items("s2")["alex"].Amount.StringFixed(2))
	assert.Equal(t, "50.00", f.items("s4")["alex"].Amount.StringFixed(2))

	p4, _ := f.svc.GetPayout(f.ctx, "s4")
	assert.Equal(t, a.ID, p4.SchemeID)
	p3, _ := f.svc.GetPayout(f.ctx, "s3")
	assert.Equal(t, b.ID, p3.SchemeID)
}

func TestService_ApplySchemeChangeSkipsUncalculableShows(t *testing.T) {
	f := newFixture(t)
	f.scheme("A", flatFee("50"), true)
	b := f.scheme("B", flatFee("80"), false)

	f.show("s1", 6, "500", true, "alex")
	f.show("s2", 13, "500", true, "alex")
	for _, id := range []production.ShowID{"s1", "s2"} {
		_, err := f.svc.Calculate(f.ctx, id, "tester")
		require.NoError(t, err)
	}
	// s2's cast is cleared after its calculation
	f.roster("s2")

	change, err := f.svc.ApplySchemeChange(f.ctx, "s1", b.ID, true, "tester")
	require.NoError(t, err)
	assert.Equal(t, []production.ShowID{"s1"}, change.Recalculated)
	assert.Contains(t, change.Skipped, production.ShowID("s2"))
}

func TestService_ApplySchemeChangeRefusesPaidShow(t *testing.T) {
	f := newFixture(t)
	a := f.scheme("A", flatFee("50"), true)
	b := f.scheme("B", flatFee("80"), false)
	f.show("s1", 6, "500", true, "alex")

	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	override := flatFee("10")
	_, err = f.svc.SetOverrideRules(f.ctx, "s1", &override)
	require.NoError(t, err)
	_, err = f.svc.MarkAsPaid(f.ctx, f.items("s1")["alex"].ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)

	_, err = f.svc.ApplySchemeChange(f.ctx, "s1", b.ID, false, "tester")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	p, err := f.svc.GetPayout(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, p.SchemeID)
	assert.NotNil(t, p.OverrideRules, "override rules survive the refused change")
	assert.Equal(t, "50.00", f.items("s1")["alex"].Amount.StringFixed(2))
}

// failingAllocations breaks expense lookups for one show.
type failingAllocations struct {
	show production.ShowID
}

func (f failingAllocations) AllocatedTotal(_ context.Context, showID production.ShowID) (decimal.Decimal, error) {
	if showID == f.show {
		return decimal.Zero, errors.New("allocations unavailable")
	}
	return decimal.Zero, nil
}

func TestService_ApplySchemeChangeIsAllOrNothing(t *testing.T) {
	// GIVEN: Two calculated shows on scheme A, and s2 can no longer load
	// its expense allocations
	// WHEN: Scheme B propagates forward from s1
	// THEN: The failure rolls back both pins and s1's recalculation

	f := newFixture(t)
	a := f.scheme("A", flatFee("50"), true)
	b := f.scheme("B", flatFee("80"), false)
	f.show("s1", 6, "500", true, "alex")
	f.show("s2", 13, "500", true, "alex")
	for _, id := range []production.ShowID{"s1", "s2"} {
		_, err := f.svc.Calculate(f.ctx, id, "tester")
		require.NoError(t, err)
	}
	f.svc.Expenses = failingAllocations{show: "s2"}
	sentBefore := len(f.sent.kinds())

	_, err := f.svc.ApplySchemeChange(f.ctx, "s1", b.ID, true, "tester")
	require.Error(t, err)

	for _, id := range []production.ShowID{"s1", "s2"} {
		p, err := f.svc.GetPayout(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a.ID, p.SchemeID, "show %s keeps its scheme", id)
		assert.Equal(t, "50.00", f.items(id)["alex"].Amount.StringFixed(2))
	}
	assert.Len(t, f.sent.kinds(), sentBefore, "nothing is announced")
}

func TestService_OverrideRulesWinOverScheme(t *testing.T) {
	f := newFixture(t)
	f.scheme("A", flatFee("50"), true)
	f.show("s1", 6, "500", true, "alex", "sam")

	override := flatFee("10")
	_, err := f.svc.SetOverrideRules(f.ctx, "s1", &override)
	require.NoError(t, err)
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "10.00", f.items("s1")["sam"].Amount.StringFixed(2))

	_, err = f.svc.SetOverrideRules(f.ctx, "s1", nil)
	require.NoError(t, err)
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Equal(t, "50.00", f.items("s1")["sam"].Amount.StringFixed(2))

	bad := payout.Rules{Distribution: payout.NoPay{}}
	_, err = f.svc.SetOverrideRules(f.ctx, "s1", &bad)
	assert.ErrorIs(t, err, generic.ErrInvalidRulesDocument)
}

func TestService_PreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")

	fin := production.Financials{Revenue: generic.MustParseDecimal("900"), Expenses: decimal.Zero, Confirmed: true}
	res, err := f.svc.Preview(f.ctx, "s1", payout.PreviewOptions{Financials: &fin})
	require.NoError(t, err)
	assert.Equal(t, "900.00", res.Total.StringFixed(2))

	_, err = f.svc.GetPayout(f.ctx, "s1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.Empty(t, f.items("s1"))
	assert.Empty(t, f.sent.kinds())
}

func TestService_PreviewWithSyntheticRoster(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "300", true, "alex", "sam", "jordan")

	roster := []production.RosterEntry{
		{Payee: production.PersonRef("riley"), Position: 1},
		{IsGuest: true, GuestName: "Dana", Position: 2},
	}
	res, err := f.svc.Preview(f.ctx, "s1", payout.PreviewOptions{Roster: roster})
	require.NoError(t, err)
	require.Len(t, res.Shares, 2)
	assert.Equal(t, production.PersonRef("riley"), res.Shares[0].Entry.Payee)
	assert.Equal(t, "150.00", res.Shares[0].Amount.StringFixed(2))
	assert.True(t, res.Shares[1].Entry.IsGuest)

	// An empty roster is used as given
	_, err = f.svc.Preview(f.ctx, "s1", payout.PreviewOptions{Roster: []production.RosterEntry{}})
	assert.ErrorIs(t, err, generic.ErrNoPerformers)

	stored, err := f.store.Roster(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Empty(t, f.items("s1"))
}

func TestService_UnmarkThenRemove(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	alex := f.items("s1")["alex"]

	_, err = f.svc.MarkAsPaid(f.ctx, alex.ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)
	err = f.svc.RemoveLineItem(f.ctx, alex.ID, "tester")
	assert.ErrorIs(t, err, generic.ErrAlreadyPaidConflict)

	_, err = f.svc.UnmarkAsPaid(f.ctx, alex.ID, "tester")
	require.NoError(t, err)
	require.NoError(t, f.svc.RemoveLineItem(f.ctx, alex.ID, "tester"))

	assert.NotContains(t, f.items("s1"), "alex")
	p, err := f.svc.GetPayout(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", p.TotalPayout.StringFixed(2))
}

// =============================================================================
// PAYROLL HOOKS
// =============================================================================

func TestService_ClaimSettleRelease(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex", "sam")
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	payable, err := f.svc.PayableLineItems(f.ctx, []production.ShowID{"s1"})
	require.NoError(t, err)
	require.Len(t, payable, 2)

	ids := []payout.LineItemID{payable[0].ID, payable[1].ID}
	require.NoError(t, f.svc.ClaimLineItems(f.ctx, "run-1", ids))

	for _, li := range f.items("s1") {
		assert.Equal(t, payout.PaymentClaimed, li.PaymentState())
	}
	_, err = f.svc.MarkAsPaid(f.ctx, ids[0], payout.Payment{Method: "cash"})
	assert.ErrorIs(t, err, generic.ErrClaimedByPayroll)
	_, err = f.svc.UnmarkAsPaid(f.ctx, ids[0], "tester")
	assert.ErrorIs(t, err, generic.ErrClaimedByPayroll)

	// Recalculating leaves claimed items untouched
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	assert.Len(t, f.items("s1"), 2)

	released, err := f.svc.ReleaseClaims(f.ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	require.NoError(t, f.svc.ClaimLineItems(f.ctx, "run-2", ids))
	settled, err := f.svc.SettleClaims(f.ctx, "run-2", "payroll")
	require.NoError(t, err)
	assert.Len(t, settled, 2)

	for _, li := range f.items("s1") {
		assert.Equal(t, payout.PaymentPaidViaPayroll, li.PaymentState())
		assert.Equal(t, payout.PaymentMethodPayroll, li.PaymentMethod)
	}
	p, _ := f.svc.GetPayout(f.ctx, "s1")
	assert.Equal(t, payout.StatusPaid, p.Status)

	payable, err = f.svc.PayableLineItems(f.ctx, []production.ShowID{"s1"})
	require.NoError(t, err)
	assert.Empty(t, payable)
}

func TestService_GuestsAreNotPayableThroughPayroll(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "200", true, "alex")
	require.NoError(t, f.store.SetRoster(f.ctx, "s1", []production.RosterEntry{
		{Payee: production.PersonRef("alex"), Position: 1},
		{IsGuest: true, GuestName: "Dana", GuestPaymentHandle: "@dana", Position: 2},
	}))
	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)

	items, err := f.svc.LineItems(f.ctx, "s1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[1].IsGuest)
	assert.Equal(t, "@dana", items[1].GuestPaymentHandle)

	payable, err := f.svc.PayableLineItems(f.ctx, []production.ShowID{"s1"})
	require.NoError(t, err)
	require.Len(t, payable, 1)
	assert.Equal(t, production.PersonRef("alex"), payable[0].Payee)
}

func TestService_NotificationsFollowCommittedWork(t *testing.T) {
	f := newFixture(t)
	f.show("s1", 6, "100", false, "alex")

	_, err := f.svc.Calculate(f.ctx, "s1", "tester")
	require.Error(t, err)
	assert.Empty(t, f.sent.kinds(), "failed calculations send nothing")

	f.show("s1", 6, "100", true, "alex")
	_, err = f.svc.Calculate(f.ctx, "s1", "tester")
	require.NoError(t, err)
	_, err = f.svc.MarkAsPaid(f.ctx, f.items("s1")["alex"].ID, payout.Payment{Method: "cash", By: "tester"})
	require.NoError(t, err)

	assert.Equal(t, []payout.EventKind{payout.EventPayoutCalculated, payout.EventLineItemPaid}, f.sent.kinds())
	assert.Equal(t, "100.00", f.sent.events[1].Amount.StringFixed(2))
	assert.Equal(t, production.PersonRef("alex"), f.sent.events[1].Payee)
}
