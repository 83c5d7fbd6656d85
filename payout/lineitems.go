package payout

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// PAYMENT
// =============================================================================

// Payment describes how a line item was paid by hand.
type Payment struct {
	Method string // e.g. "venmo", "cash", "check"
	Notes  string
	By     string
}

// MarkAsPaid records a manual payment. Paying an already paid item is a
// conflict; the payout flips to paid once every item is paid.
func (s *Service) MarkAsPaid(ctx context.Context, id LineItemID, pay Payment) (LineItem, error) {
	var li LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		li, err = s.Store.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if err := checkMutable(li); err != nil {
			return err
		}
		now := s.now()
		li.PaidAt = &now
		li.PaidBy = pay.By
		li.PaymentMethod = pay.Method
		li.PaymentNotes = pay.Notes
		li.UpdatedAt = now
		if err := s.Store.SaveLineItem(ctx, li); err != nil {
			return err
		}
		return s.refreshShow(ctx, li.ShowID)
	})
	if err != nil {
		return LineItem{}, err
	}
	s.notify([]Event{paidEvent(li)})
	return li, nil
}

// MarkAsOfflinePaid flags a batch of items as settled outside the system.
// Items already paid or claimed by payroll are skipped and left as they are.
func (s *Service) MarkAsOfflinePaid(ctx context.Context, ids []LineItemID, notes, by string) ([]LineItem, error) {
	var marked []LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		marked = nil
		shows := make(map[production.ShowID]bool)
		now := s.now()
		for _, id := range ids {
			li, err := s.Store.GetLineItem(ctx, id)
			if err != nil {
				return err
			}
			if li.IsLocked() {
				log.Printf("[Payout] Skipping line item %s: %s", li.ID, li.PaymentState())
				continue
			}
			li.PaidAt = &now
			li.PaidBy = by
			li.PaymentMethod = PaymentMethodOffline
			li.PaymentNotes = notes
			li.PaidIndependently = true
			li.UpdatedAt = now
			if err := s.Store.SaveLineItem(ctx, li); err != nil {
				return err
			}
			marked = append(marked, li)
			shows[li.ShowID] = true
		}
		for showID := range shows {
			if err := s.refreshShow(ctx, showID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(marked))
	for _, li := range marked {
		events = append(events, paidEvent(li))
	}
	s.notify(events)
	return marked, nil
}

// UnmarkAsPaid clears a manual payment. Items claimed by a payroll run
// can only be released by that run.
func (s *Service) UnmarkAsPaid(ctx context.Context, id LineItemID, by string) (LineItem, error) {
	var li LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		li, err = s.Store.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if li.IsClaimed() {
			return &generic.ClaimedError{LineItemID: string(li.ID), PayrollRunID: li.PayrollRunID}
		}
		if !li.IsPaid() {
			return &generic.TransitionError{Subject: "line item " + string(li.ID), From: string(PaymentUnpaid), To: string(PaymentUnpaid)}
		}
		li.PaidAt = nil
		li.PaidBy = ""
		li.PaymentMethod = ""
		li.PaymentNotes = ""
		li.PaidIndependently = false
		li.UpdatedAt = s.now()
		if err := s.Store.SaveLineItem(ctx, li); err != nil {
			return err
		}
		return s.refreshShow(ctx, li.ShowID)
	})
	if err != nil {
		return LineItem{}, err
	}
	log.Printf("[Payout] Line item %s unmarked as paid by %s", id, by)
	return li, nil
}

// =============================================================================
// MANUAL EDITS
// =============================================================================

// NewLineItem is a manually entered line item.
type NewLineItem struct {
	Payee              generic.PayeeRef
	Amount             decimal.Decimal
	Reason             string
	IsGuest            bool
	GuestName          string
	GuestPaymentHandle string
	Position           int
}

// AddLineItem adds a manual item, reopening a paid payout.
func (s *Service) AddLineItem(ctx context.Context, showID production.ShowID, in NewLineItem, by string) (LineItem, error) {
	if in.Amount.IsNegative() {
		return LineItem{}, fmt.Errorf("line item amount %s: %w", in.Amount, generic.ErrInvalidAmount)
	}
	if in.Payee.IsZero() && !in.IsGuest {
		return LineItem{}, fmt.Errorf("line item needs a payee or a guest name: %w", generic.ErrInvalidAmount)
	}

	var li LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		p, err := s.openForEdit(ctx, show)
		if err != nil {
			return err
		}

		amount := generic.RoundMoney(in.Amount)
		li = s.newManualItem(showID, SourceManual, amount, by)
		li.Payee = in.Payee
		li.IsGuest = in.IsGuest
		li.GuestName = in.GuestName
		li.GuestPaymentHandle = in.GuestPaymentHandle
		li.Position = in.Position
		if in.Reason != "" {
			li.CalculationDetails.Inputs["reason"] = in.Reason
		}
		if err := s.applyAdvances(ctx, &li, by); err != nil {
			return err
		}
		if err := s.Store.SaveLineItem(ctx, li); err != nil {
			return err
		}
		return s.refresh(ctx, &p)
	})
	if err != nil {
		return LineItem{}, err
	}
	return li, nil
}

// RemoveLineItem deletes an unpaid, unclaimed item and reverses any
// advance recovered through it.
func (s *Service) RemoveLineItem(ctx context.Context, id LineItemID, by string) error {
	return s.Store.WithTx(ctx, func(ctx context.Context) error {
		li, err := s.Store.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if err := checkMutable(li); err != nil {
			return err
		}
		rs, err := s.reverseApplications(ctx, li, by, "line item removed")
		if err != nil {
			return err
		}
		if err := s.carryRecoveries(ctx, nil, rs, by); err != nil {
			return err
		}
		if err := s.Store.DeleteLineItem(ctx, id); err != nil {
			return err
		}
		return s.refreshShow(ctx, li.ShowID)
	})
}

// AdjustLineItem changes an item's gross amount by hand. The change is
// appended to the item's audit trail and advance recovery is redone.
func (s *Service) AdjustLineItem(ctx context.Context, id LineItemID, amount decimal.Decimal, reason, by string) (LineItem, error) {
	if amount.IsNegative() {
		return LineItem{}, fmt.Errorf("line item amount %s: %w", amount, generic.ErrInvalidAmount)
	}
	var li LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		li, err = s.Store.GetLineItem(ctx, id)
		if err != nil {
			return err
		}
		if err := checkMutable(li); err != nil {
			return err
		}
		carried, err := s.reverseApplications(ctx, li, by, "line item adjusted")
		if err != nil {
			return err
		}

		now := s.now()
		amount = generic.RoundMoney(amount)
		li.CalculationDetails.Adjustments = append(li.CalculationDetails.Adjustments, Adjustment{
			At:     now,
			By:     by,
			From:   li.Amount,
			To:     amount,
			Reason: reason,
		})
		li.Amount = amount
		li.AdvanceDeduction = decimal.Zero
		li.UpdatedAt = now
		if err := s.carryRecoveries(ctx, &li, carried, by); err != nil {
			return err
		}
		if err := s.applyAdvances(ctx, &li, by); err != nil {
			return err
		}
		if err := s.Store.SaveLineItem(ctx, li); err != nil {
			return err
		}
		return s.refreshShow(ctx, li.ShowID)
	})
	if err != nil {
		return LineItem{}, err
	}
	return li, nil
}

// AddMissingCast adds a flat-amount item for every roster entry that has
// no line item yet. Nothing is recalculated.
func (s *Service) AddMissingCast(ctx context.Context, showID production.ShowID, amount decimal.Decimal, by string) ([]LineItem, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("missing cast amount %s: %w", amount, generic.ErrInvalidAmount)
	}
	var added []LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		added = nil
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		roster, err := s.Shows.Roster(ctx, showID)
		if err != nil {
			return err
		}
		items, err := s.Store.ListLineItems(ctx, showID)
		if err != nil {
			return err
		}
		missing := MissingCast(items, roster)
		if len(missing) == 0 {
			return nil
		}

		p, err := s.openForEdit(ctx, show)
		if err != nil {
			return err
		}
		amount = generic.RoundMoney(amount)
		for _, e := range missing {
			li := s.newManualItem(showID, SourceMissingCast, amount, by)
			li.Payee = e.Payee
			li.IsGuest = e.IsGuest
			li.GuestName = e.GuestName
			li.GuestPaymentHandle = e.GuestPaymentHandle
			li.Position = e.Position
			if err := s.applyAdvances(ctx, &li, by); err != nil {
				return err
			}
			if err := s.Store.SaveLineItem(ctx, li); err != nil {
				return err
			}
			added = append(added, li)
		}
		return s.refresh(ctx, &p)
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		log.Printf("[Payout] Added %d missing cast members to show %s", len(added), showID)
	}
	return added, nil
}

// MissingCast returns roster entries without a line item, in roster order.
func MissingCast(items []LineItem, roster []production.RosterEntry) []production.RosterEntry {
	have := make(map[string]bool, len(items))
	for _, li := range items {
		have[li.Key()] = true
	}
	var missing []production.RosterEntry
	for _, e := range roster {
		if !have[e.Key()] {
			missing = append(missing, e)
		}
	}
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].Position < missing[j].Position })
	return missing
}

func (s *Service) newManualItem(showID production.ShowID, source Source, amount decimal.Decimal, by string) LineItem {
	now := s.now()
	return LineItem{
		ID:               LineItemID(generic.NewID("li")),
		ShowID:           showID,
		Source:           source,
		Amount:           amount,
		AdvanceDeduction: decimal.Zero,
		CalculationDetails: CalculationDetails{
			Method:  string(source),
			Formula: "manual amount " + generic.FormatMoney(amount),
			Inputs:  map[string]string{"amount": amount.String(), "entered_by": by},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// openForEdit returns the payout ready to take new items: draft moves to
// awaiting_payout and paid is reopened.
func (s *Service) openForEdit(ctx context.Context, show production.Show) (ShowPayout, error) {
	p, err := s.ensure(ctx, show)
	if err != nil {
		return ShowPayout{}, err
	}
	switch p.Status {
	case StatusDraft:
		p.Status = StatusAwaitingPayout
	case StatusPaid:
		if err := reopen(&p); err != nil {
			return ShowPayout{}, err
		}
		log.Printf("[Payout] Reopened show %s to add line items", show.ID)
	}
	return p, nil
}

func (s *Service) refreshShow(ctx context.Context, showID production.ShowID) error {
	p, err := s.Store.GetPayout(ctx, showID)
	if err != nil {
		return err
	}
	return s.refresh(ctx, &p)
}

func paidEvent(li LineItem) Event {
	e := Event{Kind: EventLineItemPaid, ShowID: li.ShowID, Payee: li.Payee, LineItemID: li.ID, Amount: li.Net()}
	if li.PaidAt != nil {
		e.At = *li.PaidAt
	}
	return e
}

// =============================================================================
// PAYROLL HOOKS
// =============================================================================

// PayableLineItems returns the items of the given shows a payroll run may
// claim: unpaid, unclaimed and not for guests.
func (s *Service) PayableLineItems(ctx context.Context, showIDs []production.ShowID) ([]LineItem, error) {
	var payable []LineItem
	for _, showID := range showIDs {
		items, err := s.Store.ListLineItems(ctx, showID)
		if err != nil {
			return nil, err
		}
		for _, li := range items {
			if li.IsLocked() || li.IsGuest || li.PaidIndependently || li.Payee.IsZero() {
				continue
			}
			payable = append(payable, li)
		}
	}
	return payable, nil
}

// ClaimLineItems assigns items to a payroll run.
func (s *Service) ClaimLineItems(ctx context.Context, runID string, ids []LineItemID) error {
	return s.Store.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		for _, id := range ids {
			li, err := s.Store.GetLineItem(ctx, id)
			if err != nil {
				return err
			}
			if err := checkMutable(li); err != nil {
				return err
			}
			li.PayrollRunID = runID
			li.UpdatedAt = now
			if err := s.Store.SaveLineItem(ctx, li); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseClaims frees every unpaid item claimed by a run and reports how
// many were released.
func (s *Service) ReleaseClaims(ctx context.Context, runID string) (int, error) {
	released := 0
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		released = 0
		items, err := s.Store.ListLineItemsByRun(ctx, runID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, li := range items {
			if li.IsPaid() {
				continue
			}
			li.PayrollRunID = ""
			li.UpdatedAt = now
			if err := s.Store.SaveLineItem(ctx, li); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}

// SettleClaims marks every item claimed by a run as paid via payroll and
// refreshes the affected payouts.
func (s *Service) SettleClaims(ctx context.Context, runID, by string) ([]LineItem, error) {
	var settled []LineItem
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		settled = nil
		items, err := s.Store.ListLineItemsByRun(ctx, runID)
		if err != nil {
			return err
		}
		now := s.now()
		shows := make(map[production.ShowID]bool)
		for _, li := range items {
			if li.IsPaid() {
				continue
			}
			li.PaidAt = &now
			li.PaidBy = by
			li.PaymentMethod = PaymentMethodPayroll
			li.PaymentNotes = "payroll run " + runID
			li.UpdatedAt = now
			if err := s.Store.SaveLineItem(ctx, li); err != nil {
				return err
			}
			settled = append(settled, li)
			shows[li.ShowID] = true
		}
		for showID := range shows {
			if err := s.refreshShow(ctx, showID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(settled))
	for _, li := range settled {
		events = append(events, paidEvent(li))
	}
	s.notify(events)
	return settled, nil
}
