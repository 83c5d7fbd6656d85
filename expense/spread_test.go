package expense

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// weekly returns n Friday shows starting 2026-04-03.
func weekly(n int) []production.Show {
	shows := make([]production.Show, n)
	start := generic.NewTimePoint(2026, time.April, 3)
	for i := range shows {
		shows[i] = production.Show{
			ID:           production.ShowID(fmt.Sprintf("show-%d", i+1)),
			ProductionID: "prod-1",
			Date:         start.AddDays(7 * i),
			EventType:    "show",
		}
	}
	return shows
}

func byShow(allocations []Allocation) map[production.ShowID]string {
	out := make(map[production.ShowID]string, len(allocations))
	for _, a := range allocations {
		out[a.ShowID] = a.AllocatedAmount.StringFixed(2)
	}
	return out
}

func sum(allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.AllocatedAmount)
	}
	return total
}

func ids(shows []production.Show) []production.ShowID {
	out := make([]production.ShowID, len(shows))
	for i, s := range shows {
		out[i] = s.ID
	}
	return out
}

// =============================================================================
// SPREAD
// =============================================================================

func TestSpread_EvenSplit(t *testing.T) {
	allocations, err := Spread("exp-1", generic.MustParseDecimal("900"), weekly(9), nil)
	require.NoError(t, err)
	require.Len(t, allocations, 9)
	for _, a := range allocations {
		assert.Equal(t, "100.00", a.AllocatedAmount.StringFixed(2))
		assert.False(t, a.Overridden)
	}
}

func TestSpread_LeftoverCentsOnLastShow(t *testing.T) {
	allocations, err := Spread("exp-1", generic.MustParseDecimal("100"), weekly(3), nil)
	require.NoError(t, err)

	assert.Equal(t, map[production.ShowID]string{
		"show-1": "33.33", "show-2": "33.33", "show-3": "33.34",
	}, byShow(allocations))
	assert.Equal(t, "100.00", sum(allocations).StringFixed(2))
}

func TestSpread_PinnedAllocationShrinksTheRest(t *testing.T) {
	// GIVEN: $900 over nine shows, the first pinned at $300
	// THEN: The other eight share $600 at $75 each
	pinned := []Allocation{{ShowID: "show-1", AllocatedAmount: generic.MustParseDecimal("300"), Overridden: true, OverrideReason: "opening"}}

	allocations, err := Spread("exp-1", generic.MustParseDecimal("900"), weekly(9), pinned)
	require.NoError(t, err)
	require.Len(t, allocations, 9)

	for _, a := range allocations {
		if a.ShowID == "show-1" {
			assert.True(t, a.Overridden)
			assert.Equal(t, "opening", a.OverrideReason)
			assert.Equal(t, "300.00", a.AllocatedAmount.StringFixed(2))
			continue
		}
		assert.Equal(t, "75.00", a.AllocatedAmount.StringFixed(2))
	}
	assert.Equal(t, "900.00", sum(allocations).StringFixed(2))
}

func TestSpread_PinOutsideTheWindowIsKept(t *testing.T) {
	pinned := []Allocation{{ShowID: "show-0", AllocatedAmount: generic.MustParseDecimal("40"), Overridden: true}}

	allocations, err := Spread("exp-1", generic.MustParseDecimal("100"), weekly(2), pinned)
	require.NoError(t, err)
	assert.Equal(t, map[production.ShowID]string{
		"show-0": "40.00", "show-1": "30.00", "show-2": "30.00",
	}, byShow(allocations))
}

func TestSpread_Refusals(t *testing.T) {
	t.Run("no eligible shows", func(t *testing.T) {
		_, err := Spread("exp-1", generic.MustParseDecimal("100"), nil, nil)
		assert.ErrorIs(t, err, generic.ErrNoEligibleShows)
	})

	t.Run("pins above total", func(t *testing.T) {
		pinned := []Allocation{{ShowID: "show-1", AllocatedAmount: generic.MustParseDecimal("150"), Overridden: true}}
		_, err := Spread("exp-1", generic.MustParseDecimal("100"), weekly(3), pinned)
		assert.ErrorIs(t, err, generic.ErrOverridesExceedTotal)
	})

	t.Run("every show pinned below total", func(t *testing.T) {
		pinned := []Allocation{
			{ShowID: "show-1", AllocatedAmount: generic.MustParseDecimal("30"), Overridden: true},
			{ShowID: "show-2", AllocatedAmount: generic.MustParseDecimal("30"), Overridden: true},
		}
		_, err := Spread("exp-1", generic.MustParseDecimal("100"), weekly(2), pinned)
		assert.ErrorIs(t, err, generic.ErrOverridesExceedTotal)
	})

	t.Run("every show pinned exactly", func(t *testing.T) {
		pinned := []Allocation{
			{ShowID: "show-1", AllocatedAmount: generic.MustParseDecimal("60"), Overridden: true},
			{ShowID: "show-2", AllocatedAmount: generic.MustParseDecimal("40"), Overridden: true},
		}
		allocations, err := Spread("exp-1", generic.MustParseDecimal("100"), weekly(2), pinned)
		require.NoError(t, err)
		assert.Len(t, allocations, 2)
	})
}

func TestSpread_IsDeterministic(t *testing.T) {
	shows := weekly(7)
	// Input order must not matter
	reversed := make([]production.Show, len(shows))
	for i, s := range shows {
		reversed[len(shows)-1-i] = s
	}

	a, err := Spread("exp-1", generic.MustParseDecimal("250"), shows, nil)
	require.NoError(t, err)
	b, err := Spread("exp-1", generic.MustParseDecimal("250"), reversed, nil)
	require.NoError(t, err)
	assert.Equal(t, byShow(a), byShow(b))
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestEligible_EventCountStartsAtPurchaseDate(t *testing.T) {
	shows := weekly(6)
	shows[2].Canceled = true

	e := Expense{
		SpreadMethod:     SpreadEventCount,
		SpreadEventCount: 3,
		PurchaseDate:     generic.NewTimePoint(2026, time.April, 10),
		ExcludeCanceled:  true,
	}
	assert.Equal(t, []production.ShowID{"show-2", "show-4", "show-5"}, ids(Eligible(e, shows)))
}

func TestEligible_FixedMonthsWindow(t *testing.T) {
	e := Expense{
		SpreadMethod: SpreadFixedMonths,
		SpreadMonths: 1,
		PurchaseDate: generic.NewTimePoint(2026, time.April, 3),
	}
	// April 3 .. May 2: five Fridays
	assert.Equal(t, []production.ShowID{"show-1", "show-2", "show-3", "show-4", "show-5"}, ids(Eligible(e, weekly(9))))
}

func TestEligible_DateRangeWithEventTypeFilter(t *testing.T) {
	shows := weekly(4)
	shows[1].EventType = "rehearsal"

	e := Expense{
		SpreadMethod:    SpreadDateRange,
		SpreadStart:     generic.NewTimePoint(2026, time.April, 3),
		SpreadEnd:       generic.NewTimePoint(2026, time.April, 17),
		EventTypeFilter: []string{"show"},
	}
	assert.Equal(t, []production.ShowID{"show-1", "show-3"}, ids(Eligible(e, shows)))
}

func TestEligible_SelectedShowsBypassFilters(t *testing.T) {
	shows := weekly(4)
	shows[3].Canceled = true
	shows[3].NonRevenue = true

	e := Expense{
		SpreadMethod:      SpreadEventCount,
		SpreadEventCount:  1,
		ExcludeCanceled:   true,
		ExcludeNonRevenue: true,
		SelectedShowIDs:   []production.ShowID{"show-4", "show-2"},
	}
	assert.Equal(t, []production.ShowID{"show-2", "show-4"}, ids(Eligible(e, shows)))
}

func TestExpense_Validate(t *testing.T) {
	base := Expense{ProductionID: "prod-1", TotalAmount: generic.MustParseDecimal("10"), SpreadMethod: SpreadEventCount, SpreadEventCount: 2}
	require.NoError(t, base.Validate())

	neg := base
	neg.TotalAmount = generic.MustParseDecimal("-1")
	assert.ErrorIs(t, neg.Validate(), generic.ErrInvalidAmount)

	months := base
	months.SpreadMethod = SpreadFixedMonths
	assert.ErrorIs(t, months.Validate(), generic.ErrInvalidPeriod)

	backwards := base
	backwards.SpreadMethod = SpreadDateRange
	backwards.SpreadStart = generic.NewTimePoint(2026, time.May, 2)
	backwards.SpreadEnd = generic.NewTimePoint(2026, time.May, 1)
	assert.ErrorIs(t, backwards.Validate(), generic.ErrInvalidPeriod)

	selected := backwards
	selected.SelectedShowIDs = []production.ShowID{"show-1"}
	assert.NoError(t, selected.Validate(), "selected shows need no window")
}
