/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state:
	- Cast and default scheme are created
	- Payouts are calculated with the expected amounts
	- Advances, allocations and payroll runs land where expected

These tests double as integration tests of the services over SQLite.
*/
package api

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
	"github.com/warp/payout-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(store)
}

func amountsByPayee(items []payout.LineItem) map[string]string {
	out := make(map[string]string, len(items))
	for _, li := range items {
		out[li.Payee.ID] = li.Amount.StringFixed(2)
	}
	return out
}

func TestScenario_ComedyNight(t *testing.T) {
	// GIVEN: $1000 revenue, $100 expenses, house 10%, three comics
	// WHEN: Loading the scenario
	// THEN: Each comic is owed $270 and the second show stays a draft
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Load(ctx, "comedy-night"))

	p, err := h.Payouts.GetPayout(ctx, "show-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusAwaitingPayout, p.Status)
	assert.Equal(t, "810.00", p.TotalPayout.StringFixed(2))

	items, err := h.Payouts.LineItems(ctx, "show-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alex": "270.00", "sam": "270.00", "jordan": "270.00"}, amountsByPayee(items))

	_, err = h.Payouts.Calculate(ctx, "show-2", demoActor)
	assert.Error(t, err, "unconfirmed show must not calculate")
}

func TestScenario_Advances(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Load(ctx, "advances"))

	deductions := func(showID production.ShowID) map[string]string {
		items, err := h.Payouts.LineItems(ctx, showID)
		require.NoError(t, err)
		out := make(map[string]string)
		for _, li := range items {
			out[li.Payee.ID] = li.AdvanceDeduction.StringFixed(2)
		}
		return out
	}

	// $90 each on show-1: Jordan's show advance fully, Sam's $100 partly
	assert.Equal(t, map[string]string{"alex": "0.00", "sam": "90.00", "jordan": "50.00"}, deductions("show-1"))
	// $180 each on show-2: only Sam's last $10 is left
	assert.Equal(t, map[string]string{"alex": "0.00", "sam": "10.00", "jordan": "0.00"}, deductions("show-2"))

	views, err := h.Payouts.ListAdvances(ctx, payout.AdvanceFilter{ProductionID: demoProduction})
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.True(t, v.RemainingBalance().IsZero(), string(v.ID))
		assert.Equal(t, payout.AdvanceFullyRecovered, v.Status())
	}
}

func TestScenario_ExpenseSpread(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Load(ctx, "expense-spread"))

	expenses, err := h.Expenses.ListExpenses(ctx, demoProduction)
	require.NoError(t, err)
	require.Len(t, expenses, 1)

	allocations, err := h.Expenses.Allocations(ctx, expenses[0].ID)
	require.NoError(t, err)
	require.Len(t, allocations, 9)

	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.AllocatedAmount)
		if a.ShowID == "show-1" {
			assert.True(t, a.Overridden)
			assert.Equal(t, "300.00", a.AllocatedAmount.StringFixed(2))
			continue
		}
		assert.Equal(t, "75.00", a.AllocatedAmount.StringFixed(2), string(a.ShowID))
	}
	assert.Equal(t, "900.00", total.StringFixed(2))

	// show-2: $600 - ($50 own + $75 allocated) = $475 split by equal shares
	items, err := h.Payouts.LineItems(ctx, "show-2")
	require.NoError(t, err)
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Amount)
	}
	assert.Equal(t, "475.00", sum.StringFixed(2))
	assert.Equal(t, expense.SpreadEventCount, expenses[0].SpreadMethod)
}

func TestScenario_PayrollMonth(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Load(ctx, "payroll-month"))

	runs, err := h.Payroll.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run, items, err := h.Payroll.GetRun(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusPending, run.Status)
	assert.Equal(t, 3, run.PayeeCount)
	assert.Equal(t, 11, run.ItemCount)
	assert.Equal(t, "1100.00", run.TotalNet.StringFixed(2))

	gross := make(map[string]string)
	for _, it := range items {
		gross[it.Payee.ID] = it.Gross.StringFixed(2)
	}
	assert.Equal(t, map[string]string{"alex": "300.00", "sam": "400.00", "jordan": "400.00"}, gross)
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			require.NoError(t, h.Load(ctx, s.ID))
			assert.Equal(t, s.ID, h.currentScenario)
		})
	}

	assert.ErrorIs(t, h.Load(ctx, "nope"), errUnknownScenario)
}
