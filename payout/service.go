/*
service.go - Stateful payout operations

PURPOSE:
  Service owns the ShowPayout aggregate: it loads show data through
  production.Source, resolves which rules apply, runs the pure
  calculator, and replaces line items and advance applications in one
  transaction.

RULES RESOLUTION (first match wins):
  1. The payout's OverrideRules
  2. The scheme pinned on the payout
  3. The production's default scheme
  4. The shared default scheme
  5. DefaultRules()
  The scheme found is pinned on first calculation so later changes to
  the production default do not silently move the show.

ATOMICITY:
  Every mutating method runs inside Store.WithTx. If anything fails the
  previous line items, totals and ledger entries stay as they were.
  Notifications are sent only after the transaction commits.

SEE ALSO:
  - calculator.go: The pure calculation
  - lineitems.go: Per-line-item payment operations
  - advances.go: Advance ledger
  - schemes.go: Scheme management and propagation
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// ExpenseAllocations reports production expenses spread onto a show.
type ExpenseAllocations interface {
	AllocatedTotal(ctx context.Context, showID production.ShowID) (decimal.Decimal, error)
}

type Service struct {
	Store    Store
	Shows    production.Source
	Expenses ExpenseAllocations // optional
	Notifier Notifier
	Ledger   generic.Ledger

	now func() time.Time
}

func NewService(store Store, shows production.Source) *Service {
	return &Service{
		Store:    store,
		Shows:    shows,
		Notifier: NopNotifier{},
		Ledger:   generic.NewLedger(store),
		now:      time.Now,
	}
}

// SetClock replaces the service clock. Used by tests and demo scenarios.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// =============================================================================
// READS
// =============================================================================

// GetPayout returns the payout of a show, or a NotFoundError.
func (s *Service) GetPayout(ctx context.Context, showID production.ShowID) (ShowPayout, error) {
	return s.Store.GetPayout(ctx, showID)
}

func (s *Service) LineItems(ctx context.Context, showID production.ShowID) ([]LineItem, error) {
	return s.Store.ListLineItems(ctx, showID)
}

// EnsurePayout returns the show's payout, creating a draft if needed.
func (s *Service) EnsurePayout(ctx context.Context, showID production.ShowID) (ShowPayout, error) {
	var p ShowPayout
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		p, err = s.ensure(ctx, show)
		return err
	})
	return p, err
}

func (s *Service) ensure(ctx context.Context, show production.Show) (ShowPayout, error) {
	p, err := s.Store.GetPayout(ctx, show.ID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, generic.ErrNotFound) {
		return ShowPayout{}, err
	}
	now := s.now()
	p = ShowPayout{
		ShowID:       show.ID,
		ProductionID: show.ProductionID,
		Status:       StatusDraft,
		TotalPayout:  decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.SavePayout(ctx, p); err != nil {
		return ShowPayout{}, err
	}
	return p, nil
}

// ResolveRules returns the rules that apply to a payout and the scheme
// they came from (empty for overrides without a pinned scheme or the
// built-in default).
func (s *Service) ResolveRules(ctx context.Context, p ShowPayout) (Rules, SchemeID, error) {
	if p.OverrideRules != nil {
		return *p.OverrideRules, p.SchemeID, nil
	}
	if p.SchemeID != "" {
		sc, err := s.Store.GetScheme(ctx, p.SchemeID)
		if err == nil {
			return sc.Rules, sc.ID, nil
		}
		if !errors.Is(err, generic.ErrNotFound) {
			return Rules{}, "", err
		}
		log.Printf("[Payout] Pinned scheme %s of show %s is gone, falling back to default", p.SchemeID, p.ShowID)
	}
	sc, ok, err := s.DefaultScheme(ctx, p.ProductionID)
	if err != nil {
		return Rules{}, "", err
	}
	if ok {
		return sc.Rules, sc.ID, nil
	}
	return DefaultRules(), "", nil
}

// =============================================================================
// CALCULATE / PREVIEW
// =============================================================================

// Calculate recomputes a show's payout and replaces its unlocked line
// items. Payees whose item is paid or claimed keep that item and get no
// new one. Fails with a TransitionError on a paid payout; reopen first.
func (s *Service) Calculate(ctx context.Context, showID production.ShowID, by string) (ShowPayout, error) {
	var p ShowPayout
	var events []Event

	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, events, err = s.calculate(ctx, showID, by)
		return err
	})
	if err != nil {
		return ShowPayout{}, err
	}

	log.Printf("[Payout] Calculated show %s: total=%s", showID, p.TotalPayout.StringFixed(generic.CurrencyPlaces))
	s.notify(events)
	return p, nil
}

// calculate runs inside the caller's transaction. Events are returned for
// the caller to send once it commits.
func (s *Service) calculate(ctx context.Context, showID production.ShowID, by string) (ShowPayout, []Event, error) {
	show, err := s.Shows.GetShow(ctx, showID)
	if err != nil {
		return ShowPayout{}, nil, err
	}
	p, err := s.ensure(ctx, show)
	if err != nil {
		return ShowPayout{}, nil, err
	}
	if p.Status == StatusPaid {
		return ShowPayout{}, nil, &generic.TransitionError{Subject: "show payout " + string(showID), From: string(StatusPaid), To: string(StatusAwaitingPayout)}
	}

	res, schemeID, err := s.evaluate(ctx, show, p, nil, nil)
	if err != nil {
		return ShowPayout{}, nil, err
	}

	existing, err := s.Store.ListLineItems(ctx, showID)
	if err != nil {
		return ShowPayout{}, nil, err
	}
	locked := make(map[string]bool)
	carried := make(map[string][]recovery)
	for _, li := range existing {
		if li.IsLocked() {
			locked[li.Key()] = true
			continue
		}
		rs, err := s.reverseApplications(ctx, li, by, "recalculated")
		if err != nil {
			return ShowPayout{}, nil, err
		}
		carried[li.Key()] = append(carried[li.Key()], rs...)
		if err := s.Store.DeleteLineItem(ctx, li.ID); err != nil {
			return ShowPayout{}, nil, err
		}
	}

	now := s.now()
	for _, share := range res.Shares {
		if locked[share.Entry.Key()] {
			continue
		}
		li := LineItem{
			ID:                 LineItemID(generic.NewID("li")),
			ShowID:             showID,
			Payee:              share.Entry.Payee,
			Source:             SourceCalculated,
			Amount:             share.Amount,
			AdvanceDeduction:   decimal.Zero,
			CalculationDetails: share.Details,
			IsGuest:            share.Entry.IsGuest,
			GuestName:          share.Entry.GuestName,
			GuestPaymentHandle: share.Entry.GuestPaymentHandle,
			Position:           share.Entry.Position,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.carryRecoveries(ctx, &li, carried[li.Key()], by); err != nil {
			return ShowPayout{}, nil, err
		}
		delete(carried, li.Key())
		if err := s.applyAdvances(ctx, &li, by); err != nil {
			return ShowPayout{}, nil, err
		}
		if err := s.Store.SaveLineItem(ctx, li); err != nil {
			return ShowPayout{}, nil, err
		}
	}
	// Payees without a new item release their carried recoveries
	gone := make([]string, 0, len(carried))
	for key := range carried {
		gone = append(gone, key)
	}
	sort.Strings(gone)
	for _, key := range gone {
		if err := s.carryRecoveries(ctx, nil, carried[key], by); err != nil {
			return ShowPayout{}, nil, err
		}
	}

	if p.SchemeID == "" {
		p.SchemeID = schemeID
	}
	p.Status = StatusAwaitingPayout
	p.CalculatedAt = &now
	if err := s.refresh(ctx, &p); err != nil {
		return ShowPayout{}, nil, err
	}
	return p, []Event{{Kind: EventPayoutCalculated, ShowID: showID, Amount: p.TotalPayout, At: now}}, nil
}

// PreviewOptions substitutes inputs for a what-if calculation.
type PreviewOptions struct {
	Rules      *Rules
	Financials *production.Financials
	// Roster replaces the stored roster when non-nil, in billing order.
	Roster     []production.RosterEntry
}

// Preview runs the calculation without persisting anything. Options left
// nil fall back to the show's stored totals, roster and resolved rules.
func (s *Service) Preview(ctx context.Context, showID production.ShowID, opts PreviewOptions) (Result, error) {
	show, err := s.Shows.GetShow(ctx, showID)
	if err != nil {
		return Result{}, err
	}
	if opts.Financials != nil {
		show.Financials = *opts.Financials
	}
	p, err := s.Store.GetPayout(ctx, showID)
	if errors.Is(err, generic.ErrNotFound) {
		p = ShowPayout{ShowID: showID, ProductionID: show.ProductionID, Status: StatusDraft}
	} else if err != nil {
		return Result{}, err
	}
	res, _, err := s.evaluate(ctx, show, p, opts.Rules, opts.Roster)
	return res, err
}

// evaluate falls back to the resolved rules and the stored roster when
// rules or roster is nil.
func (s *Service) evaluate(ctx context.Context, show production.Show, p ShowPayout, rules *Rules, roster []production.RosterEntry) (Result, SchemeID, error) {
	var schemeID SchemeID
	var r Rules
	if rules != nil {
		r = *rules
	} else {
		var err error
		r, schemeID, err = s.ResolveRules(ctx, p)
		if err != nil {
			return Result{}, "", err
		}
	}

	if roster == nil {
		var err error
		roster, err = s.Shows.Roster(ctx, show.ID)
		if err != nil {
			return Result{}, "", err
		}
	}

	allocated := decimal.Zero
	if s.Expenses != nil {
		var err error
		allocated, err = s.Expenses.AllocatedTotal(ctx, show.ID)
		if err != nil {
			return Result{}, "", fmt.Errorf("load expense allocations: %w", err)
		}
	}

	res, err := Calculate(CalculationInput{
		ShowID:            show.ID,
		Financials:        show.Financials,
		AllocatedExpenses: allocated,
		Roster:            roster,
		Rules:             r,
	})
	return res, schemeID, err
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// CloseAsNonPaying settles a show that pays nobody without running the
// calculator. Fails if any line item is paid or claimed.
func (s *Service) CloseAsNonPaying(ctx context.Context, showID production.ShowID, reason, by string) (ShowPayout, error) {
	var p ShowPayout
	var events []Event

	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		p, err = s.ensure(ctx, show)
		if err != nil {
			return err
		}
		if p.Status == StatusPaid {
			return &generic.TransitionError{Subject: "show payout " + string(showID), From: string(StatusPaid), To: "non_paying"}
		}

		items, err := s.Store.ListLineItems(ctx, showID)
		if err != nil {
			return err
		}
		for _, li := range items {
			if err := checkMutable(li); err != nil {
				return err
			}
		}
		for _, li := range items {
			rs, err := s.reverseApplications(ctx, li, by, "show closed as non-paying")
			if err != nil {
				return err
			}
			if err := s.carryRecoveries(ctx, nil, rs, by); err != nil {
				return err
			}
			if err := s.Store.DeleteLineItem(ctx, li.ID); err != nil {
				return err
			}
		}

		now := s.now()
		p.Status = StatusPaid
		p.NonPaying = true
		p.NonPayingReason = reason
		p.ClosedBy = by
		p.ClosedAt = &now
		p.TotalPayout = decimal.Zero
		p.UpdatedAt = now
		events = append(events, Event{Kind: EventPayoutClosed, ShowID: showID, Amount: decimal.Zero, At: now})
		return s.Store.SavePayout(ctx, p)
	})
	if err != nil {
		return ShowPayout{}, err
	}

	log.Printf("[Payout] Closed show %s as non-paying: %s", showID, reason)
	s.notify(events)
	return p, nil
}

// Reopen moves a paid payout back to awaiting_payout.
func (s *Service) Reopen(ctx context.Context, showID production.ShowID) (ShowPayout, error) {
	var p ShowPayout
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.Store.GetPayout(ctx, showID)
		if err != nil {
			return err
		}
		if err := reopen(&p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()
		return s.Store.SavePayout(ctx, p)
	})
	return p, err
}

func reopen(p *ShowPayout) error {
	if p.Status != StatusPaid {
		return &generic.TransitionError{Subject: "show payout " + string(p.ShowID), From: string(p.Status), To: string(StatusAwaitingPayout)}
	}
	p.Status = StatusAwaitingPayout
	p.NonPaying = false
	p.NonPayingReason = ""
	p.ClosedBy = ""
	p.ClosedAt = nil
	return nil
}

// SetOverrideRules stores one-off rules on a payout. Nil clears them.
// The payout is not recalculated.
func (s *Service) SetOverrideRules(ctx context.Context, showID production.ShowID, rules *Rules) (ShowPayout, error) {
	if rules != nil {
		if err := rules.Validate(); err != nil {
			return ShowPayout{}, err
		}
	}
	var p ShowPayout
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		p, err = s.ensure(ctx, show)
		if err != nil {
			return err
		}
		p.OverrideRules = rules
		p.UpdatedAt = s.now()
		return s.Store.SavePayout(ctx, p)
	})
	return p, err
}

// refresh recomputes the total from stored line items and moves the
// status to paid once every item is paid, or back to awaiting_payout when
// a paid payout gains an unpaid item. Saves the payout.
func (s *Service) refresh(ctx context.Context, p *ShowPayout) error {
	items, err := s.Store.ListLineItems(ctx, p.ShowID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	allPaid := len(items) > 0
	for _, li := range items {
		total = total.Add(li.Amount)
		if !li.IsPaid() {
			allPaid = false
		}
	}
	p.TotalPayout = total

	switch {
	case p.Status == StatusDraft:
	case allPaid:
		p.Status = StatusPaid
	case p.Status == StatusPaid && !p.NonPaying:
		p.Status = StatusAwaitingPayout
	}
	p.UpdatedAt = s.now()
	return s.Store.SavePayout(ctx, *p)
}

func (s *Service) notify(events []Event) {
	if s.Notifier == nil {
		return
	}
	for _, e := range events {
		s.Notifier.Notify(e)
	}
}

// checkMutable rejects changes to paid or claimed items.
func checkMutable(li LineItem) error {
	if li.IsPaid() {
		return &generic.AlreadyPaidError{LineItemID: string(li.ID), PaidAt: *li.PaidAt}
	}
	if li.IsClaimed() {
		return &generic.ClaimedError{LineItemID: string(li.ID), PayrollRunID: li.PayrollRunID}
	}
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, generic.ErrNotFound) {
		return nil
	}
	return err
}
