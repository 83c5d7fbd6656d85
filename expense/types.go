/*
Package expense spreads lump-sum production expenses across shows.

PURPOSE:
  A production buys something once (a set piece, a month of rehearsal
  space) and wants its cost carried by several shows. An Expense says how
  much and over which shows; the spreader turns it into one Allocation
  per show. Allocations feed the expenses_first step of each show's
  payout calculation.

KEY CONCEPTS:
  - SpreadMethod: How the window of eligible shows is chosen
  - Allocation: One show's share; pinned allocations are set by hand and
    never touched by recalculation

INVARIANTS:
  - Σ allocations == TotalAmount after every successful recalculation
  - Recalculating with unchanged inputs yields identical amounts
  - Clearing a pin returns the show to the evenly split pool

SEE ALSO:
  - spread.go: Eligibility and the pure split
  - service.go: Persistence and recalculation
*/
package expense

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

type ExpenseID string
type AllocationID string

type SpreadMethod string

const (
	// SpreadFixedMonths covers shows from the purchase date for N months.
	SpreadFixedMonths SpreadMethod = "fixed_months"
	// SpreadEventCount covers the first N shows on or after the purchase date.
	SpreadEventCount SpreadMethod = "event_count"
	// SpreadDateRange covers shows between two dates, inclusive.
	SpreadDateRange SpreadMethod = "date_range"
)

type Expense struct {
	ID           ExpenseID
	ProductionID production.ProductionID
	Description  string
	TotalAmount  decimal.Decimal
	PurchaseDate generic.TimePoint

	SpreadMethod     SpreadMethod
	SpreadMonths     int
	SpreadEventCount int
	SpreadStart      generic.TimePoint
	SpreadEnd        generic.TimePoint

	// Filters. SelectedShowIDs, when set, bypasses all of them.
	ExcludeNonRevenue bool
	ExcludeCanceled   bool
	EventTypeFilter   []string
	SelectedShowIDs   []production.ShowID

	Active    bool
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the amount and spread configuration.
func (e Expense) Validate() error {
	if e.TotalAmount.IsNegative() {
		return fmt.Errorf("expense total %s: %w", e.TotalAmount, generic.ErrInvalidAmount)
	}
	if e.ProductionID == "" {
		return fmt.Errorf("expense needs a production: %w", generic.ErrInvalidAmount)
	}
	if len(e.SelectedShowIDs) > 0 {
		return nil
	}
	switch e.SpreadMethod {
	case SpreadFixedMonths:
		if e.SpreadMonths <= 0 {
			return fmt.Errorf("spread months must be positive: %w", generic.ErrInvalidPeriod)
		}
		if e.PurchaseDate.IsZero() {
			return fmt.Errorf("fixed_months needs a purchase date: %w", generic.ErrInvalidPeriod)
		}
	case SpreadEventCount:
		if e.SpreadEventCount <= 0 {
			return fmt.Errorf("spread event count must be positive: %w", generic.ErrInvalidPeriod)
		}
	case SpreadDateRange:
		if _, err := generic.NewPeriod(e.SpreadStart, e.SpreadEnd); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown spread method %q: %w", e.SpreadMethod, generic.ErrInvalidPeriod)
	}
	return nil
}

// Allocation is one show's share of an expense.
type Allocation struct {
	ID              AllocationID
	ExpenseID       ExpenseID
	ShowID          production.ShowID
	AllocatedAmount decimal.Decimal
	Overridden      bool
	OverrideReason  string
	UpdatedAt       time.Time
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	generic.Transactor

	GetExpense(ctx context.Context, id ExpenseID) (Expense, error)
	SaveExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context, productionID production.ProductionID) ([]Expense, error)

	// ListAllocations returns the expense's allocations in show date order.
	ListAllocations(ctx context.Context, id ExpenseID) ([]Allocation, error)
	ReplaceAllocations(ctx context.Context, id ExpenseID, allocations []Allocation) error

	// ShowAllocations returns allocations of active expenses onto a show.
	ShowAllocations(ctx context.Context, showID production.ShowID) ([]Allocation, error)
}
