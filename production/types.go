/*
Package production describes the inputs the payout engine receives from
the surrounding workflow layer.

PURPOSE:
  Productions, shows, rosters and financial totals are created and edited
  elsewhere (creation wizards, casting, ticketing sync). The engine only
  reads them. This package defines their shape and the Source interface
  through which the engine loads them, so the engine's API can take
  show and production IDs as explicit arguments.

KEY TYPES:
  Show:        One event with its date, type and financial totals
  Financials:  Revenue, expenses, ticket count and a confirmation gate
  RosterEntry: One performer (or guest) who appeared in a show
  Person/Group: Concrete payees (see people.go)

SEE ALSO:
  - payout/service.go: Consumes Source for calculations
  - expense/service.go: Consumes Source for eligibility
  - store/sqlite/production.go: Source implementation
*/
package production

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductionID string
type ShowID string

// =============================================================================
// SHOW
// =============================================================================

// Financials are the totals a show's payout is computed from.
// Nothing is calculated until Confirmed is true.
type Financials struct {
	Revenue     decimal.Decimal
	Expenses    decimal.Decimal
	TicketCount int
	Confirmed   bool
}

// Equal reports whether two sets of totals are identical.
func (f Financials) Equal(other Financials) bool {
	return f.Revenue.Equal(other.Revenue) &&
		f.Expenses.Equal(other.Expenses) &&
		f.TicketCount == other.TicketCount &&
		f.Confirmed == other.Confirmed
}

type Show struct {
	ID           ShowID
	ProductionID ProductionID
	Name         string
	Date         generic.TimePoint
	EventType    string // e.g. "show", "rehearsal", "workshop"
	Canceled     bool
	NonRevenue   bool
	Financials   Financials
}

// =============================================================================
// ROSTER
// =============================================================================

// RosterEntry is one payee who appeared in a show, in billing order.
// Guests have no PayeeRef of their own; they are paid through the guest
// payment handle.
type RosterEntry struct {
	Payee              generic.PayeeRef
	Position           int
	IsGuest            bool
	GuestName          string
	GuestPaymentHandle string
}

// Key identifies the entry for roster diffs.
func (e RosterEntry) Key() string {
	if e.IsGuest {
		return "guest:" + e.GuestName
	}
	return e.Payee.String()
}

// =============================================================================
// SOURCE - Read access to collaborator data
// =============================================================================

// ShowFilter narrows ListShows.
type ShowFilter struct {
	ProductionID ProductionID
	Period       *generic.Period
}

type Source interface {
	// GetShow returns the show or a generic.ErrNotFound error.
	GetShow(ctx context.Context, id ShowID) (Show, error)

	// ListShows returns shows ordered by date, then ID.
	ListShows(ctx context.Context, filter ShowFilter) ([]Show, error)

	// Roster returns the show's roster ordered by position.
	Roster(ctx context.Context, id ShowID) ([]RosterEntry, error)
}
