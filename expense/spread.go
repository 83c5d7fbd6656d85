package expense

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// ELIGIBILITY
// =============================================================================

// Eligible picks the shows an expense is spread over, ordered by date
// then ID. shows must belong to the expense's production.
//
//	selected IDs   exactly those shows, no filters applied
//	fixed_months   purchase date .. purchase date + N months - 1 day
//	date_range     SpreadStart .. SpreadEnd
//	event_count    first N filtered shows on or after the purchase date
func Eligible(e Expense, shows []production.Show) []production.Show {
	sorted := make([]production.Show, len(shows))
	copy(sorted, shows)
	sortShows(sorted)

	if len(e.SelectedShowIDs) > 0 {
		selected := make(map[production.ShowID]bool, len(e.SelectedShowIDs))
		for _, id := range e.SelectedShowIDs {
			selected[id] = true
		}
		var out []production.Show
		for _, s := range sorted {
			if selected[s.ID] {
				out = append(out, s)
			}
		}
		return out
	}

	var out []production.Show
	for _, s := range sorted {
		if !e.passesFilters(s) {
			continue
		}
		switch e.SpreadMethod {
		case SpreadFixedMonths:
			if !generic.MonthsFrom(e.PurchaseDate, e.SpreadMonths).Contains(s.Date) {
				continue
			}
		case SpreadDateRange:
			if !(generic.Period{Start: e.SpreadStart, End: e.SpreadEnd}).Contains(s.Date) {
				continue
			}
		case SpreadEventCount:
			if !e.PurchaseDate.IsZero() && s.Date.Before(e.PurchaseDate) {
				continue
			}
			if len(out) >= e.SpreadEventCount {
				return out
			}
		default:
			continue
		}
		out = append(out, s)
	}
	return out
}

func (e Expense) passesFilters(s production.Show) bool {
	if e.ExcludeCanceled && s.Canceled {
		return false
	}
	if e.ExcludeNonRevenue && s.NonRevenue {
		return false
	}
	if len(e.EventTypeFilter) == 0 {
		return true
	}
	for _, t := range e.EventTypeFilter {
		if t == s.EventType {
			return true
		}
	}
	return false
}

func sortShows(shows []production.Show) {
	sort.SliceStable(shows, func(i, j int) bool {
		if !shows[i].Date.Equal(shows[j].Date) {
			return shows[i].Date.Before(shows[j].Date)
		}
		return shows[i].ID < shows[j].ID
	})
}

// =============================================================================
// SPREAD - Pure split
// =============================================================================

// Spread splits total over the eligible shows. Pinned allocations in
// existing keep their amount, even when their show is no longer eligible;
// the rest is split evenly, truncated to the cent, with leftover cents on
// the chronologically last auto show. Returned allocations carry no IDs.
//
// Fails with ErrNoEligibleShows when eligible is empty and with
// ErrOverridesExceedTotal when the pins cannot reconcile with total.
func Spread(expenseID ExpenseID, total decimal.Decimal, eligible []production.Show, existing []Allocation) ([]Allocation, error) {
	if len(eligible) == 0 {
		return nil, fmt.Errorf("expense %s: %w", expenseID, generic.ErrNoEligibleShows)
	}

	var out []Allocation
	pinned := make(map[production.ShowID]bool)
	pinnedSum := decimal.Zero
	for _, a := range existing {
		if !a.Overridden {
			continue
		}
		pinned[a.ShowID] = true
		pinnedSum = pinnedSum.Add(a.AllocatedAmount)
		out = append(out, Allocation{
			ExpenseID:       expenseID,
			ShowID:          a.ShowID,
			AllocatedAmount: a.AllocatedAmount,
			Overridden:      true,
			OverrideReason:  a.OverrideReason,
		})
	}

	var auto []production.Show
	for _, s := range eligible {
		if !pinned[s.ID] {
			auto = append(auto, s)
		}
	}
	sortShows(auto)

	remaining := total.Sub(pinnedSum)
	if remaining.IsNegative() || (len(auto) == 0 && !remaining.IsZero()) {
		return nil, fmt.Errorf("expense %s: pinned %s of %s: %w",
			expenseID, pinnedSum.StringFixed(generic.CurrencyPlaces), total.StringFixed(generic.CurrencyPlaces), generic.ErrOverridesExceedTotal)
	}
	if len(auto) == 0 {
		return out, nil
	}

	each := generic.TruncateMoney(remaining.Div(decimal.NewFromInt(int64(len(auto)))))
	leftover := remaining.Sub(each.Mul(decimal.NewFromInt(int64(len(auto)))))
	for i, s := range auto {
		amount := each
		if i == len(auto)-1 {
			amount = amount.Add(leftover)
		}
		out = append(out, Allocation{
			ExpenseID:       expenseID,
			ShowID:          s.ID,
			AllocatedAmount: amount,
		})
	}
	return out, nil
}
