/*
Package payroll batches unpaid show line items into payroll runs.

PURPOSE:
  Instead of paying each show line item by hand, a producer opens a run
  for a pay period. The batcher claims every payable line item of the
  shows in the window, groups them per payee, and on completion marks
  them all paid with method "payroll".

STATE MACHINE:
  pending ──process──▶ processing ──complete──▶ completed
     │                     │
     └──────cancel─────────┴──────────────────▶ cancelled

  A pending run can be rebuilt; rebuilding releases its old claims first.
  A run that finds nothing to pay is cancelled right away.

CLAIMS:
  A claimed line item cannot be unmarked, removed or recalculated until
  the run that holds it completes (the item is then paid) or is
  cancelled (the claim is released).

SEE ALSO:
  - batcher.go: Run operations
  - payout/lineitems.go: Claim, release and settle hooks
*/
package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
)

type RunID string

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Run struct {
	ID           RunID
	ProductionID production.ProductionID // empty spans every production
	PeriodStart  generic.TimePoint
	PeriodEnd    generic.TimePoint
	Status       Status

	TotalGross      decimal.Decimal
	TotalDeductions decimal.Decimal
	TotalNet        decimal.Decimal
	PayeeCount      int
	ItemCount       int

	Notes       string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	CompletedBy string
}

func (r Run) Period() generic.Period {
	return generic.Period{Start: r.PeriodStart, End: r.PeriodEnd}
}

// LineItem is one payee's total within a run.
type LineItem struct {
	ID          string
	RunID       RunID
	Payee       generic.PayeeRef
	Gross       decimal.Decimal
	Deductions  decimal.Decimal // advance recovery
	Net         decimal.Decimal
	ShowCount   int
	LineItemIDs []payout.LineItemID
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type Store interface {
	generic.Transactor

	GetRun(ctx context.Context, id RunID) (Run, error)
	SaveRun(ctx context.Context, r Run) error
	// ListRuns returns runs newest first; an empty status lists all.
	ListRuns(ctx context.Context, status Status) ([]Run, error)

	ReplaceRunLineItems(ctx context.Context, id RunID, items []LineItem) error
	ListRunLineItems(ctx context.Context, id RunID) ([]LineItem, error)
}

// Claims is the slice of the payout service a run needs.
type Claims interface {
	PayableLineItems(ctx context.Context, showIDs []production.ShowID) ([]payout.LineItem, error)
	ClaimLineItems(ctx context.Context, runID string, ids []payout.LineItemID) error
	ReleaseClaims(ctx context.Context, runID string) (int, error)
	SettleClaims(ctx context.Context, runID, by string) ([]payout.LineItem, error)
}
