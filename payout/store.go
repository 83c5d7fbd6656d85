package payout

import (
	"context"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// PayoutStore persists show payouts and their line items.
type PayoutStore interface {
	// GetPayout returns a *generic.NotFoundError when none exists.
	GetPayout(ctx context.Context, showID production.ShowID) (ShowPayout, error)
	SavePayout(ctx context.Context, p ShowPayout) error
	ListPayouts(ctx context.Context, productionID production.ProductionID) ([]ShowPayout, error)

	GetLineItem(ctx context.Context, id LineItemID) (LineItem, error)
	SaveLineItem(ctx context.Context, li LineItem) error
	DeleteLineItem(ctx context.Context, id LineItemID) error

	// ListLineItems returns a show's items ordered by position, then creation.
	ListLineItems(ctx context.Context, showID production.ShowID) ([]LineItem, error)
	ListLineItemsByRun(ctx context.Context, runID string) ([]LineItem, error)
	ListLineItemsByPayee(ctx context.Context, payee generic.PayeeRef) ([]LineItem, error)
}

// SchemeStore persists payout schemes.
type SchemeStore interface {
	GetScheme(ctx context.Context, id SchemeID) (Scheme, error)
	SaveScheme(ctx context.Context, s Scheme) error

	// ListSchemes returns the production's schemes followed by shared ones.
	// An empty productionID lists shared schemes only.
	ListSchemes(ctx context.Context, productionID production.ProductionID) ([]Scheme, error)
}

// AdvanceStore persists advance metadata. Balances live in the ledger.
type AdvanceStore interface {
	GetAdvance(ctx context.Context, id AdvanceID) (Advance, error)
	SaveAdvance(ctx context.Context, a Advance) error

	// ListAdvances returns the payee's advances, oldest first.
	ListAdvances(ctx context.Context, filter AdvanceFilter) ([]Advance, error)

	SaveWaiver(ctx context.Context, w Waiver) error
	ListWaivers(ctx context.Context, showID production.ShowID) ([]Waiver, error)
}

// AdvanceFilter narrows ListAdvances. Zero fields match everything.
type AdvanceFilter struct {
	Payee        generic.PayeeRef
	ProductionID production.ProductionID
	ShowID       production.ShowID
}

// Store is everything the payout service persists. One transaction
// (generic.Transactor) spans all of it.
type Store interface {
	generic.Store
	generic.Transactor
	PayoutStore
	SchemeStore
	AdvanceStore
}
