/*
advances.go - Advance ledger

PURPOSE:
  Cash handed to a performer before a show is paid out is recovered from
  later line items. Each advance is a ledger account; its remaining
  balance is replayed from entries and never stored.

ENTRIES:
  issue                 +original amount
  application           -recovered amount, ReferenceID = line item
  application_reversal  +amount, when the line item is recalculated,
                         adjusted or removed
  write_off             -remaining balance
  write_off_reversal    +amount, when a write-off is reinstated

WRITTEN-OFF ADVANCES:
  A written-off advance stays at zero. When a line item that recovered
  from it is recalculated, adjusted or removed, the recovery moves to the
  replacement item (up to its gross) and the rest joins the write-off.
  Reinstating the write-off reverses both.

RECOVERY ORDER:
  For each new gross amount, advances of the same payee are visited with
  show-bound advances for that show first, then person-wide advances,
  oldest first. Each takes min(remaining, still available gross).

SEE ALSO:
  - generic/ledger.go: Append-only log
  - generic/balance.go: Replay
*/
package payout

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// ISSUE
// =============================================================================

type AdvanceRequest struct {
	Payee        generic.PayeeRef
	ProductionID production.ProductionID
	ShowID       production.ShowID // empty issues a person-wide advance
	Amount       decimal.Decimal
	Notes        string
	IssuedBy     string
}

// IssueAdvance opens an advance with remaining balance == amount.
func (s *Service) IssueAdvance(ctx context.Context, req AdvanceRequest) (AdvanceView, error) {
	if !req.Amount.IsPositive() {
		return AdvanceView{}, fmt.Errorf("advance amount %s: %w", req.Amount, generic.ErrInvalidAmount)
	}
	if req.Payee.IsZero() {
		return AdvanceView{}, fmt.Errorf("advance needs a payee: %w", generic.ErrInvalidAmount)
	}

	now := s.now()
	adv := Advance{
		ID:             AdvanceID(generic.NewID("adv")),
		Payee:          req.Payee,
		ProductionID:   req.ProductionID,
		ShowID:         req.ShowID,
		Type:           AdvanceForPerson,
		OriginalAmount: generic.RoundMoney(req.Amount),
		IssuedBy:       req.IssuedBy,
		IssuedAt:       now,
		Notes:          req.Notes,
	}
	if req.ShowID != "" {
		adv.Type = AdvanceForShow
	}

	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		if adv.ShowID != "" {
			show, err := s.Shows.GetShow(ctx, adv.ShowID)
			if err != nil {
				return err
			}
			if adv.ProductionID == "" {
				adv.ProductionID = show.ProductionID
			}
		}
		if err := s.Store.SaveAdvance(ctx, adv); err != nil {
			return err
		}
		return s.Ledger.Append(ctx, generic.Entry{
			ID:             generic.EntryID(generic.NewID("ent")),
			AccountID:      adv.AccountID(),
			EntityID:       adv.Payee.String(),
			EffectiveAt:    generic.InstantOf(now),
			Delta:          adv.OriginalAmount,
			Type:           generic.EntryIssue,
			ReferenceID:    string(adv.ID),
			Reason:         "advance issued",
			IdempotencyKey: "issue:" + string(adv.ID),
			CreatedBy:      req.IssuedBy,
			CreatedAt:      generic.InstantOf(now),
		})
	})
	if err != nil {
		return AdvanceView{}, err
	}

	log.Printf("[Payout] Issued advance %s of %s to %s", adv.ID, adv.OriginalAmount.StringFixed(generic.CurrencyPlaces), adv.Payee)
	s.notify([]Event{{Kind: EventAdvanceIssued, ShowID: adv.ShowID, Payee: adv.Payee, Amount: adv.OriginalAmount, At: now}})
	return s.GetAdvance(ctx, adv.ID)
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetAdvance(ctx context.Context, id AdvanceID) (AdvanceView, error) {
	adv, err := s.Store.GetAdvance(ctx, id)
	if err != nil {
		return AdvanceView{}, err
	}
	return s.view(ctx, adv)
}

func (s *Service) ListAdvances(ctx context.Context, filter AdvanceFilter) ([]AdvanceView, error) {
	advances, err := s.Store.ListAdvances(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]AdvanceView, 0, len(advances))
	for _, adv := range advances {
		v, err := s.view(ctx, adv)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// History returns the advance's ledger entries, chronologically.
func (s *Service) History(ctx context.Context, id AdvanceID) ([]generic.Entry, error) {
	return s.Ledger.Entries(ctx, generic.AccountID(id))
}

func (s *Service) view(ctx context.Context, adv Advance) (AdvanceView, error) {
	entries, err := s.Ledger.Entries(ctx, adv.AccountID())
	if err != nil {
		return AdvanceView{}, err
	}
	return AdvanceView{Advance: adv, Balance: generic.Summarize(adv.AccountID(), entries)}, nil
}

// =============================================================================
// WRITE-OFF
// =============================================================================

// WriteOff forgives the remaining balance. Fails with ErrAdvanceSettled
// when nothing is left or the advance is already written off.
func (s *Service) WriteOff(ctx context.Context, id AdvanceID, notes, by string) (AdvanceView, error) {
	var v AdvanceView
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.GetAdvance(ctx, id)
		if err != nil {
			return err
		}
		if v.WrittenOffAt != nil || !v.Balance.Remaining.IsPositive() {
			return fmt.Errorf("advance %s: %w", id, generic.ErrAdvanceSettled)
		}

		now := s.now()
		if err := s.Ledger.Append(ctx, generic.Entry{
			ID:          generic.EntryID(generic.NewID("ent")),
			AccountID:   v.AccountID(),
			EntityID:    v.Payee.String(),
			EffectiveAt: generic.InstantOf(now),
			Delta:       v.Balance.Remaining.Neg(),
			Type:        generic.EntryWriteOff,
			ReferenceID: string(id),
			Reason:      notes,
			CreatedBy:   by,
			CreatedAt:   generic.InstantOf(now),
		}); err != nil {
			return err
		}

		v.WrittenOffAt = &now
		v.WrittenOffBy = by
		v.WriteOffNotes = notes
		if err := s.Store.SaveAdvance(ctx, v.Advance); err != nil {
			return err
		}
		v, err = s.GetAdvance(ctx, id)
		return err
	})
	return v, err
}

// ReinstateWriteOff reverses a write-off so the balance becomes
// recoverable again.
func (s *Service) ReinstateWriteOff(ctx context.Context, id AdvanceID, by string) (AdvanceView, error) {
	var v AdvanceView
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		v, err = s.GetAdvance(ctx, id)
		if err != nil {
			return err
		}
		entries, err := s.Ledger.Entries(ctx, v.AccountID())
		if err != nil {
			return err
		}
		open := generic.OpenReferences(entries, string(id), generic.EntryWriteOff)
		if v.WrittenOffAt == nil || len(open) == 0 {
			return &generic.TransitionError{Subject: "advance " + string(id), From: string(v.Status()), To: string(AdvanceUnpaid)}
		}

		now := s.now()
		reversals := make([]generic.Entry, 0, len(open))
		for _, e := range open {
			reversals = append(reversals, reversalOf(e, generic.EntryWriteOffReversal, "write-off reinstated", by, now))
		}
		if err := s.Ledger.AppendBatch(ctx, reversals); err != nil {
			return err
		}

		v.WrittenOffAt = nil
		v.WrittenOffBy = ""
		v.WriteOffNotes = ""
		if err := s.Store.SaveAdvance(ctx, v.Advance); err != nil {
			return err
		}
		v, err = s.GetAdvance(ctx, id)
		return err
	})
	return v, err
}

// =============================================================================
// DISBURSEMENT - Was the original cash handed over?
// =============================================================================

func (s *Service) MarkAdvancePaid(ctx context.Context, id AdvanceID, method, by string) (AdvanceView, error) {
	return s.updateAdvance(ctx, id, func(a *Advance) error {
		if a.DisbursedAt != nil {
			return &generic.TransitionError{Subject: "advance " + string(id), From: "disbursed", To: "disbursed"}
		}
		now := s.now()
		a.DisbursedAt = &now
		a.DisbursedBy = by
		a.DisbursementMethod = method
		return nil
	})
}

func (s *Service) UnmarkAdvancePaid(ctx context.Context, id AdvanceID) (AdvanceView, error) {
	return s.updateAdvance(ctx, id, func(a *Advance) error {
		if a.DisbursedAt == nil {
			return &generic.TransitionError{Subject: "advance " + string(id), From: "not_disbursed", To: "not_disbursed"}
		}
		a.DisbursedAt = nil
		a.DisbursedBy = ""
		a.DisbursementMethod = ""
		return nil
	})
}

func (s *Service) updateAdvance(ctx context.Context, id AdvanceID, fn func(a *Advance) error) (AdvanceView, error) {
	var v AdvanceView
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		adv, err := s.Store.GetAdvance(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(&adv); err != nil {
			return err
		}
		if err := s.Store.SaveAdvance(ctx, adv); err != nil {
			return err
		}
		v, err = s.view(ctx, adv)
		return err
	})
	return v, err
}

// =============================================================================
// WAIVERS / SHOW SUMMARY
// =============================================================================

// WaiveAdvance records that a payee deliberately gets no advance for a show.
func (s *Service) WaiveAdvance(ctx context.Context, showID production.ShowID, payee generic.PayeeRef, reason, by string) (Waiver, error) {
	if _, err := s.Shows.GetShow(ctx, showID); err != nil {
		return Waiver{}, err
	}
	w := Waiver{ShowID: showID, Payee: payee, Reason: reason, WaivedBy: by, CreatedAt: s.now()}
	if err := s.Store.SaveWaiver(ctx, w); err != nil {
		return Waiver{}, err
	}
	return w, nil
}

// ShowAdvanceSummary is the advance position of one show.
type ShowAdvanceSummary struct {
	ShowID      production.ShowID
	Advances    []AdvanceView
	Waivers     []Waiver
	Issued      decimal.Decimal
	Outstanding decimal.Decimal
	Recovered   decimal.Decimal // recovered from this show's line items
}

func (s *Service) ShowAdvanceSummary(ctx context.Context, showID production.ShowID) (ShowAdvanceSummary, error) {
	sum := ShowAdvanceSummary{ShowID: showID, Issued: decimal.Zero, Outstanding: decimal.Zero, Recovered: decimal.Zero}

	views, err := s.ListAdvances(ctx, AdvanceFilter{ShowID: showID})
	if err != nil {
		return sum, err
	}
	sum.Advances = views
	for _, v := range views {
		sum.Issued = sum.Issued.Add(v.Balance.Issued)
		sum.Outstanding = sum.Outstanding.Add(v.Balance.Remaining)
	}

	items, err := s.Store.ListLineItems(ctx, showID)
	if err != nil {
		return sum, err
	}
	for _, li := range items {
		sum.Recovered = sum.Recovered.Add(li.AdvanceDeduction)
	}

	sum.Waivers, err = s.Store.ListWaivers(ctx, showID)
	return sum, err
}

// =============================================================================
// RECOVERY
// =============================================================================

// applyAdvances recovers outstanding advances from li's gross amount and
// records one application entry per advance touched. li.AdvanceDeduction
// is updated in place; the caller saves li.
func (s *Service) applyAdvances(ctx context.Context, li *LineItem, by string) error {
	if li.IsGuest || li.Payee.IsZero() || !li.Amount.IsPositive() {
		return nil
	}
	advances, err := s.Store.ListAdvances(ctx, AdvanceFilter{Payee: li.Payee})
	if err != nil {
		return err
	}

	var candidates []Advance
	for _, adv := range advances {
		if adv.WrittenOffAt != nil {
			continue
		}
		if adv.Type == AdvanceForShow && adv.ShowID != li.ShowID {
			continue
		}
		candidates = append(candidates, adv)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		bi, bj := candidates[i].Type == AdvanceForShow, candidates[j].Type == AdvanceForShow
		if bi != bj {
			return bi
		}
		return candidates[i].IssuedAt.Before(candidates[j].IssuedAt)
	})

	available := li.Amount.Sub(li.AdvanceDeduction)
	now := s.now()
	var entries []generic.Entry
	for _, adv := range candidates {
		if !available.IsPositive() {
			break
		}
		history, err := s.Ledger.Entries(ctx, adv.AccountID())
		if err != nil {
			return err
		}
		remaining := generic.Summarize(adv.AccountID(), history).Remaining
		if !remaining.IsPositive() {
			continue
		}
		take := generic.MinMoney(remaining, available)
		entries = append(entries, generic.Entry{
			ID:          generic.EntryID(generic.NewID("ent")),
			AccountID:   adv.AccountID(),
			EntityID:    li.Payee.String(),
			EffectiveAt: generic.InstantOf(now),
			Delta:       take.Neg(),
			Type:        generic.EntryApplication,
			ReferenceID: string(li.ID),
			Reason:      "recovered from show " + string(li.ShowID),
			Metadata:    map[string]string{"show_id": string(li.ShowID)},
			CreatedBy:   by,
			CreatedAt:   generic.InstantOf(now),
		})
		li.AdvanceDeduction = li.AdvanceDeduction.Add(take)
		available = available.Sub(take)
	}
	if len(entries) == 0 {
		return nil
	}
	return s.Ledger.AppendBatch(ctx, entries)
}

// recovery is an application taken from an advance that has since been
// written off. Reversing it would reopen a settled balance, so it is
// carried to the replacement line item instead.
type recovery struct {
	advance generic.AccountID
	entity  string
	amount  decimal.Decimal
}

// reverseApplications undoes every open application recorded against li
// and returns the part owed to written-off advances, which the caller
// must hand to carryRecoveries in the same transaction.
func (s *Service) reverseApplications(ctx context.Context, li LineItem, by, reason string) ([]recovery, error) {
	if li.AdvanceDeduction.IsZero() {
		return nil, nil
	}
	entries, err := s.Ledger.EntriesByReference(ctx, string(li.ID))
	if err != nil {
		return nil, err
	}
	open := generic.OpenReferences(entries, string(li.ID), generic.EntryApplication)
	if len(open) == 0 {
		return nil, nil
	}

	now := s.now()
	reversals := make([]generic.Entry, 0, len(open))
	var carried []recovery
	for _, e := range open {
		reversals = append(reversals, reversalOf(e, generic.EntryApplicationReversal, reason, by, now))

		adv, err := s.Store.GetAdvance(ctx, AdvanceID(e.AccountID))
		if err != nil {
			return nil, err
		}
		if adv.WrittenOffAt != nil {
			carried = append(carried, recovery{advance: e.AccountID, entity: e.EntityID, amount: e.Delta.Neg()})
		}
	}
	return carried, s.Ledger.AppendBatch(ctx, reversals)
}

// carryRecoveries re-applies recoveries of written-off advances to li,
// which is nil when the line item is gone. Whatever li's gross cannot
// absorb is added to the write-off, so the advance stays at zero.
func (s *Service) carryRecoveries(ctx context.Context, li *LineItem, carried []recovery, by string) error {
	if len(carried) == 0 {
		return nil
	}
	available := decimal.Zero
	if li != nil && !li.IsGuest {
		available = li.Amount.Sub(li.AdvanceDeduction)
	}

	now := s.now()
	var entries []generic.Entry
	for _, r := range carried {
		take := decimal.Zero
		if available.IsPositive() {
			take = generic.MinMoney(r.amount, available)
		}
		if take.IsPositive() {
			entries = append(entries, generic.Entry{
				ID:          generic.EntryID(generic.NewID("ent")),
				AccountID:   r.advance,
				EntityID:    r.entity,
				EffectiveAt: generic.InstantOf(now),
				Delta:       take.Neg(),
				Type:        generic.EntryApplication,
				ReferenceID: string(li.ID),
				Reason:      "recovery carried to show " + string(li.ShowID),
				Metadata:    map[string]string{"show_id": string(li.ShowID)},
				CreatedBy:   by,
				CreatedAt:   generic.InstantOf(now),
			})
			li.AdvanceDeduction = li.AdvanceDeduction.Add(take)
			available = available.Sub(take)
		}
		if excess := r.amount.Sub(take); excess.IsPositive() {
			entries = append(entries, generic.Entry{
				ID:          generic.EntryID(generic.NewID("ent")),
				AccountID:   r.advance,
				EntityID:    r.entity,
				EffectiveAt: generic.InstantOf(now),
				Delta:       excess.Neg(),
				Type:        generic.EntryWriteOff,
				ReferenceID: string(r.advance),
				Reason:      "recovery released after write-off",
				CreatedBy:   by,
				CreatedAt:   generic.InstantOf(now),
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return s.Ledger.AppendBatch(ctx, entries)
}

func reversalOf(e generic.Entry, typ generic.EntryType, reason, by string, now time.Time) generic.Entry {
	return generic.Entry{
		ID:          generic.EntryID(generic.NewID("ent")),
		AccountID:   e.AccountID,
		EntityID:    e.EntityID,
		EffectiveAt: generic.InstantOf(now),
		Delta:       e.Delta.Neg(),
		Type:        typ,
		ReferenceID: e.ReferenceID,
		Reverses:    e.ID,
		Reason:      reason,
		CreatedBy:   by,
		CreatedAt:   generic.InstantOf(now),
	}
}
