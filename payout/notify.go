package payout

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// NOTIFICATIONS - Fire-and-forget side effects
// =============================================================================

type EventKind string

const (
	EventPayoutCalculated EventKind = "payout_calculated"
	EventLineItemPaid     EventKind = "line_item_paid"
	EventPayoutClosed     EventKind = "payout_closed"
	EventAdvanceIssued    EventKind = "advance_issued"
)

// Event describes something a payee or producer may want to hear about.
type Event struct {
	Kind       EventKind
	ShowID     production.ShowID
	Payee      generic.PayeeRef
	LineItemID LineItemID
	Amount     decimal.Decimal
	At         time.Time
}

// Notifier receives events after the owning transaction committed.
// Implementations must not block; a failed delivery never affects the
// operation that produced the event.
type Notifier interface {
	Notify(e Event)
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
