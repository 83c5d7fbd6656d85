package payout

import (
	"context"
	"log"

	"github.com/warp/payout-engine/production"
)

// =============================================================================
// RECOMPUTE PREDICATES
// =============================================================================

// NeedsRecalculation reports whether a change of show totals should
// trigger a new calculation. Drafts are never calculated implicitly, paid
// payouts need an explicit reopen, and nothing runs on unconfirmed totals.
func NeedsRecalculation(p ShowPayout, before, after production.Financials) bool {
	if p.Status != StatusAwaitingPayout || p.NonPaying {
		return false
	}
	if !after.Confirmed {
		return false
	}
	return !before.Equal(after)
}

// RosterChanged reports whether the roster no longer matches the line
// items: someone joined without an item, or a calculated item belongs to
// someone who left. Manual and missing-cast items never count as stale.
func RosterChanged(items []LineItem, roster []production.RosterEntry) bool {
	onRoster := make(map[string]bool, len(roster))
	for _, e := range roster {
		onRoster[e.Key()] = true
	}
	have := make(map[string]bool, len(items))
	for _, li := range items {
		have[li.Key()] = true
		if li.Source == SourceCalculated && !onRoster[li.Key()] {
			return true
		}
	}
	for key := range onRoster {
		if !have[key] {
			return true
		}
	}
	return false
}

// =============================================================================
// CHANGE HOOKS - Called by the workflow layer after it edits inputs
// =============================================================================

// FinancialsChanged recalculates the show when its new totals require it.
// It reports whether a calculation ran.
func (s *Service) FinancialsChanged(ctx context.Context, showID production.ShowID, before production.Financials, by string) (bool, error) {
	p, err := s.Store.GetPayout(ctx, showID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	show, err := s.Shows.GetShow(ctx, showID)
	if err != nil {
		return false, err
	}
	if !NeedsRecalculation(p, before, show.Financials) {
		return false, nil
	}
	log.Printf("[Payout] Totals of show %s changed, recalculating", showID)
	if _, err := s.Calculate(ctx, showID, by); err != nil {
		return false, err
	}
	return true, nil
}

// RosterUpdated recalculates an awaiting payout whose line items no
// longer match the roster. It reports whether a calculation ran.
func (s *Service) RosterUpdated(ctx context.Context, showID production.ShowID, by string) (bool, error) {
	p, err := s.Store.GetPayout(ctx, showID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	if p.Status != StatusAwaitingPayout || p.NonPaying {
		return false, nil
	}
	items, err := s.Store.ListLineItems(ctx, showID)
	if err != nil {
		return false, err
	}
	roster, err := s.Shows.Roster(ctx, showID)
	if err != nil {
		return false, err
	}
	if !RosterChanged(items, roster) {
		return false, nil
	}
	log.Printf("[Payout] Roster of show %s changed, recalculating", showID)
	if _, err := s.Calculate(ctx, showID, by); err != nil {
		return false, err
	}
	return true, nil
}
