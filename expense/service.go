package expense

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// Service persists expenses and keeps their allocations reconciled.
// Each method is one transaction: a failed recalculation leaves the
// previous allocations untouched.
type Service struct {
	Store Store
	Shows production.Source

	now func() time.Time
}

func NewService(store Store, shows production.Source) *Service {
	return &Service{Store: store, Shows: shows, now: time.Now}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// =============================================================================
// EXPENSES
// =============================================================================

// CreateExpense stores a new expense and spreads it.
func (s *Service) CreateExpense(ctx context.Context, e Expense) (Expense, []Allocation, error) {
	if err := e.Validate(); err != nil {
		return Expense{}, nil, err
	}
	now := s.now()
	e.ID = ExpenseID(generic.NewID("exp"))
	e.Active = true
	e.TotalAmount = generic.RoundMoney(e.TotalAmount)
	e.CreatedAt = now
	e.UpdatedAt = now

	var allocations []Allocation
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Store.SaveExpense(ctx, e); err != nil {
			return err
		}
		var err error
		allocations, err = s.recalculate(ctx, e)
		return err
	})
	if err != nil {
		return Expense{}, nil, err
	}
	log.Printf("[Expense] Created %s: %s over %d shows", e.ID, e.TotalAmount.StringFixed(generic.CurrencyPlaces), len(allocations))
	return e, allocations, nil
}

// UpdateExpense replaces an expense's editable fields and re-spreads it.
// Pins survive the update.
func (s *Service) UpdateExpense(ctx context.Context, id ExpenseID, in Expense) (Expense, []Allocation, error) {
	var e Expense
	var allocations []Allocation
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.Store.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		e.Description = in.Description
		e.TotalAmount = generic.RoundMoney(in.TotalAmount)
		e.PurchaseDate = in.PurchaseDate
		e.SpreadMethod = in.SpreadMethod
		e.SpreadMonths = in.SpreadMonths
		e.SpreadEventCount = in.SpreadEventCount
		e.SpreadStart = in.SpreadStart
		e.SpreadEnd = in.SpreadEnd
		e.ExcludeNonRevenue = in.ExcludeNonRevenue
		e.ExcludeCanceled = in.ExcludeCanceled
		e.EventTypeFilter = in.EventTypeFilter
		e.SelectedShowIDs = in.SelectedShowIDs
		e.UpdatedAt = s.now()
		if err := e.Validate(); err != nil {
			return err
		}
		if err := s.Store.SaveExpense(ctx, e); err != nil {
			return err
		}
		if !e.Active {
			return nil
		}
		allocations, err = s.recalculate(ctx, e)
		return err
	})
	if err != nil {
		return Expense{}, nil, err
	}
	return e, allocations, nil
}

// Deactivate stops the expense from counting against shows. Pinned
// allocations are kept for the record; the auto-spread ones are dropped.
func (s *Service) Deactivate(ctx context.Context, id ExpenseID) (Expense, error) {
	var e Expense
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		e, err = s.Store.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		existing, err := s.Store.ListAllocations(ctx, id)
		if err != nil {
			return err
		}
		var kept []Allocation
		for _, a := range existing {
			if a.Overridden {
				kept = append(kept, a)
			}
		}
		e.Active = false
		e.UpdatedAt = s.now()
		if err := s.Store.SaveExpense(ctx, e); err != nil {
			return err
		}
		return s.Store.ReplaceAllocations(ctx, id, kept)
	})
	return e, err
}

func (s *Service) GetExpense(ctx context.Context, id ExpenseID) (Expense, error) {
	return s.Store.GetExpense(ctx, id)
}

func (s *Service) ListExpenses(ctx context.Context, productionID production.ProductionID) ([]Expense, error) {
	return s.Store.ListExpenses(ctx, productionID)
}

func (s *Service) Allocations(ctx context.Context, id ExpenseID) ([]Allocation, error) {
	return s.Store.ListAllocations(ctx, id)
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// RecalculateAllocations re-spreads an active expense.
func (s *Service) RecalculateAllocations(ctx context.Context, id ExpenseID) ([]Allocation, error) {
	var allocations []Allocation
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.Store.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		allocations, err = s.recalculate(ctx, e)
		return err
	})
	return allocations, err
}

// Override pins a show's allocation and re-spreads the rest.
func (s *Service) Override(ctx context.Context, id ExpenseID, showID production.ShowID, amount decimal.Decimal, reason string) ([]Allocation, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("allocation amount %s: %w", amount, generic.ErrInvalidAmount)
	}
	return s.editPin(ctx, id, showID, func(existing []Allocation) []Allocation {
		for i := range existing {
			if existing[i].ShowID == showID {
				existing[i].AllocatedAmount = generic.RoundMoney(amount)
				existing[i].Overridden = true
				existing[i].OverrideReason = reason
				return existing
			}
		}
		return append(existing, Allocation{
			ID:              AllocationID(generic.NewID("alloc")),
			ExpenseID:       id,
			ShowID:          showID,
			AllocatedAmount: generic.RoundMoney(amount),
			Overridden:      true,
			OverrideReason:  reason,
		})
	})
}

// ClearOverride returns a pinned show to the evenly split pool.
func (s *Service) ClearOverride(ctx context.Context, id ExpenseID, showID production.ShowID) ([]Allocation, error) {
	return s.editPin(ctx, id, showID, func(existing []Allocation) []Allocation {
		for i := range existing {
			if existing[i].ShowID == showID {
				existing[i].Overridden = false
				existing[i].OverrideReason = ""
			}
		}
		return existing
	})
}

func (s *Service) editPin(ctx context.Context, id ExpenseID, showID production.ShowID, edit func([]Allocation) []Allocation) ([]Allocation, error) {
	var allocations []Allocation
	err := s.Store.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.Store.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		show, err := s.Shows.GetShow(ctx, showID)
		if err != nil {
			return err
		}
		if show.ProductionID != e.ProductionID {
			return &generic.NotFoundError{Kind: "show in production " + string(e.ProductionID), ID: string(showID)}
		}
		existing, err := s.Store.ListAllocations(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Store.ReplaceAllocations(ctx, id, edit(existing)); err != nil {
			return err
		}
		allocations, err = s.recalculate(ctx, e)
		return err
	})
	return allocations, err
}

// recalculate runs inside the caller's transaction.
func (s *Service) recalculate(ctx context.Context, e Expense) ([]Allocation, error) {
	if !e.Active {
		return nil, &generic.TransitionError{Subject: "expense " + string(e.ID), From: "inactive", To: "recalculated"}
	}
	shows, err := s.Shows.ListShows(ctx, production.ShowFilter{ProductionID: e.ProductionID})
	if err != nil {
		return nil, err
	}
	existing, err := s.Store.ListAllocations(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	spread, err := Spread(e.ID, e.TotalAmount, Eligible(e, shows), existing)
	if err != nil {
		return nil, err
	}

	// Keep IDs and timestamps stable for unchanged allocations
	byShow := make(map[production.ShowID]Allocation, len(existing))
	for _, a := range existing {
		byShow[a.ShowID] = a
	}
	now := s.now()
	for i, a := range spread {
		prev, ok := byShow[a.ShowID]
		if !ok {
			spread[i].ID = AllocationID(generic.NewID("alloc"))
			spread[i].UpdatedAt = now
			continue
		}
		spread[i].ID = prev.ID
		spread[i].UpdatedAt = prev.UpdatedAt
		if !prev.AllocatedAmount.Equal(a.AllocatedAmount) || prev.Overridden != a.Overridden {
			spread[i].UpdatedAt = now
		}
	}

	if err := s.Store.ReplaceAllocations(ctx, e.ID, spread); err != nil {
		return nil, err
	}
	return s.Store.ListAllocations(ctx, e.ID)
}

// AllocatedTotal sums what active expenses put on a show.
func (s *Service) AllocatedTotal(ctx context.Context, showID production.ShowID) (decimal.Decimal, error) {
	allocations, err := s.Store.ShowAllocations(ctx, showID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.AllocatedAmount)
	}
	return total, nil
}
