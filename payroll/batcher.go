package payroll

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
)

// Batcher runs the payroll workflow. Store and Claims must share one
// transaction context (the same sqlite store in production).
type Batcher struct {
	Store  Store
	Claims Claims
	Shows  production.Source

	now func() time.Time
}

func NewBatcher(store Store, claims Claims, shows production.Source) *Batcher {
	return &Batcher{Store: store, Claims: claims, Shows: shows, now: time.Now}
}

// SetClock replaces the batcher clock.
func (b *Batcher) SetClock(now func() time.Time) { b.now = now }

type RunRequest struct {
	Period       generic.Period
	ProductionID production.ProductionID
	Notes        string
	CreatedBy    string
}

// =============================================================================
// CREATE / BUILD
// =============================================================================

// CreateRun opens a pending run and builds it immediately.
func (b *Batcher) CreateRun(ctx context.Context, req RunRequest) (Run, []LineItem, error) {
	if err := req.Period.Validate(); err != nil {
		return Run{}, nil, err
	}
	now := b.now()
	run := Run{
		ID:           RunID(generic.NewID("run")),
		ProductionID: req.ProductionID,
		PeriodStart:  req.Period.Start,
		PeriodEnd:    req.Period.End,
		Status:       StatusPending,
		Notes:        req.Notes,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var items []LineItem
	err := b.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := b.Store.SaveRun(ctx, run); err != nil {
			return err
		}
		var err error
		run, items, err = b.build(ctx, run)
		return err
	})
	if err != nil {
		return Run{}, nil, err
	}
	log.Printf("[Payroll] Created run %s for %s: %d payees, net %s (%s)",
		run.ID, run.Period(), run.PayeeCount, run.TotalNet.StringFixed(generic.CurrencyPlaces), run.Status)
	return run, items, nil
}

// BuildLineItems rebuilds a pending run from the current line items.
func (b *Batcher) BuildLineItems(ctx context.Context, id RunID) (Run, []LineItem, error) {
	var run Run
	var items []LineItem
	err := b.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = b.Store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if run.Status != StatusPending {
			return &generic.TransitionError{Subject: "payroll run " + string(id), From: string(run.Status), To: "rebuilt"}
		}
		run, items, err = b.build(ctx, run)
		return err
	})
	return run, items, err
}

func (b *Batcher) build(ctx context.Context, run Run) (Run, []LineItem, error) {
	if _, err := b.Claims.ReleaseClaims(ctx, string(run.ID)); err != nil {
		return run, nil, err
	}

	period := run.Period()
	shows, err := b.Shows.ListShows(ctx, production.ShowFilter{ProductionID: run.ProductionID, Period: &period})
	if err != nil {
		return run, nil, err
	}
	showIDs := make([]production.ShowID, 0, len(shows))
	for _, s := range shows {
		showIDs = append(showIDs, s.ID)
	}

	payable, err := b.Claims.PayableLineItems(ctx, showIDs)
	if err != nil {
		return run, nil, err
	}
	items := Group(run.ID, payable)

	var claimed []payout.LineItemID
	for _, it := range items {
		claimed = append(claimed, it.LineItemIDs...)
	}
	if len(claimed) > 0 {
		if err := b.Claims.ClaimLineItems(ctx, string(run.ID), claimed); err != nil {
			return run, nil, err
		}
	}
	if err := b.Store.ReplaceRunLineItems(ctx, run.ID, items); err != nil {
		return run, nil, err
	}

	run.TotalGross, run.TotalDeductions, run.TotalNet = decimal.Zero, decimal.Zero, decimal.Zero
	for _, it := range items {
		run.TotalGross = run.TotalGross.Add(it.Gross)
		run.TotalDeductions = run.TotalDeductions.Add(it.Deductions)
		run.TotalNet = run.TotalNet.Add(it.Net)
	}
	run.PayeeCount = len(items)
	run.ItemCount = len(claimed)
	run.UpdatedAt = b.now()
	if len(items) == 0 {
		run.Status = StatusCancelled
		run.Notes = appendNote(run.Notes, "no payable line items in period")
	}
	return run, items, b.Store.SaveRun(ctx, run)
}

// Group sums payable line items per payee, ordered by payee reference.
func Group(runID RunID, payable []payout.LineItem) []LineItem {
	byPayee := make(map[generic.PayeeRef]*LineItem)
	shows := make(map[generic.PayeeRef]map[production.ShowID]bool)
	var order []generic.PayeeRef

	for _, li := range payable {
		it, ok := byPayee[li.Payee]
		if !ok {
			it = &LineItem{
				ID:         generic.NewID("prli"),
				RunID:      runID,
				Payee:      li.Payee,
				Gross:      decimal.Zero,
				Deductions: decimal.Zero,
				Net:        decimal.Zero,
			}
			byPayee[li.Payee] = it
			shows[li.Payee] = make(map[production.ShowID]bool)
			order = append(order, li.Payee)
		}
		it.Gross = it.Gross.Add(li.Amount)
		it.Deductions = it.Deductions.Add(li.AdvanceDeduction)
		it.Net = it.Net.Add(li.Net())
		it.LineItemIDs = append(it.LineItemIDs, li.ID)
		shows[li.Payee][li.ShowID] = true
	}

	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	items := make([]LineItem, 0, len(order))
	for _, ref := range order {
		it := byPayee[ref]
		it.ShowCount = len(shows[ref])
		items = append(items, *it)
	}
	return items
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// StartProcessing freezes a pending run while payments go out.
func (b *Batcher) StartProcessing(ctx context.Context, id RunID) (Run, error) {
	return b.transition(ctx, id, StatusProcessing, func(ctx context.Context, run *Run) error {
		if run.Status != StatusPending {
			return &generic.TransitionError{Subject: "payroll run " + string(id), From: string(run.Status), To: string(StatusProcessing)}
		}
		return nil
	})
}

// Complete marks every claimed line item paid via payroll. Terminal.
func (b *Batcher) Complete(ctx context.Context, id RunID, by string) (Run, error) {
	run, err := b.transition(ctx, id, StatusCompleted, func(ctx context.Context, run *Run) error {
		if run.Status != StatusPending && run.Status != StatusProcessing {
			return &generic.TransitionError{Subject: "payroll run " + string(id), From: string(run.Status), To: string(StatusCompleted)}
		}
		if _, err := b.Claims.SettleClaims(ctx, string(id), by); err != nil {
			return fmt.Errorf("settle run %s: %w", id, err)
		}
		now := b.now()
		run.CompletedAt = &now
		run.CompletedBy = by
		return nil
	})
	if err == nil {
		log.Printf("[Payroll] Completed run %s: %d items, net %s", id, run.ItemCount, run.TotalNet.StringFixed(generic.CurrencyPlaces))
	}
	return run, err
}

// Cancel releases the run's claims.
func (b *Batcher) Cancel(ctx context.Context, id RunID, reason string) (Run, error) {
	return b.transition(ctx, id, StatusCancelled, func(ctx context.Context, run *Run) error {
		if run.Status != StatusPending && run.Status != StatusProcessing {
			return &generic.TransitionError{Subject: "payroll run " + string(id), From: string(run.Status), To: string(StatusCancelled)}
		}
		released, err := b.Claims.ReleaseClaims(ctx, string(id))
		if err != nil {
			return err
		}
		run.Notes = appendNote(run.Notes, reason)
		log.Printf("[Payroll] Cancelled run %s, released %d line items", id, released)
		return nil
	})
}

func (b *Batcher) transition(ctx context.Context, id RunID, to Status, check func(ctx context.Context, run *Run) error) (Run, error) {
	var run Run
	err := b.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		run, err = b.Store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if err := check(ctx, &run); err != nil {
			return err
		}
		run.Status = to
		run.UpdatedAt = b.now()
		return b.Store.SaveRun(ctx, run)
	})
	return run, err
}

// =============================================================================
// READS
// =============================================================================

func (b *Batcher) GetRun(ctx context.Context, id RunID) (Run, []LineItem, error) {
	run, err := b.Store.GetRun(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	items, err := b.Store.ListRunLineItems(ctx, id)
	return run, items, err
}

func (b *Batcher) ListRuns(ctx context.Context, status Status) ([]Run, error) {
	return b.Store.ListRuns(ctx, status)
}

func appendNote(notes, note string) string {
	if note == "" {
		return notes
	}
	if notes == "" {
		return note
	}
	return notes + "; " + note
}
