/*
Package payout computes and tracks what each performer is owed for a show.

PURPOSE:
  A show's net revenue runs through an allocation waterfall into a
  performer pool, and the pool is split per a distribution method. The
  result is stored as one ShowPayout per show owning one LineItem per
  payee. Line items then move through payment: paid by hand, paid
  offline, or claimed and settled by a payroll run. Cash advanced to a
  performer ahead of time is recovered from their next line items.

KEY CONCEPTS IN THIS FILE (types.go):
  - Scheme: A named, reusable rules configuration
  - ShowPayout: The per-show aggregate and its status
  - LineItem: One payee's share, with payment state and audit details
  - Advance/Waiver: Cash advanced ahead of a payout

STATE MACHINE:
  draft ──calculate──▶ awaiting_payout ──all paid / close──▶ paid
                             ▲                                 │
                             └────────────reopen───────────────┘

INVARIANTS:
  - TotalPayout == Σ LineItem.Amount after every mutation
  - A paid line item is immutable until explicitly unmarked
  - A line item claimed by a payroll run cannot be unmarked or removed

SEE ALSO:
  - rules.go: Rules document
  - calculator.go: Pure calculation
  - service.go: Stateful operations
  - advances.go: Advance ledger
*/
package payout

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchemeID string
type LineItemID string
type AdvanceID string

// =============================================================================
// SCHEME
// =============================================================================

// Scheme is a reusable rules configuration. An empty ProductionID makes
// it shared across productions. Each scope has at most one default.
type Scheme struct {
	ID           SchemeID
	ProductionID production.ProductionID
	Name         string
	Description  string
	IsDefault    bool
	Rules        Rules
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsShared reports whether the scheme belongs to no single production.
func (s Scheme) IsShared() bool { return s.ProductionID == "" }

// =============================================================================
// SHOW PAYOUT
// =============================================================================

type Status string

const (
	StatusDraft          Status = "draft"
	StatusAwaitingPayout Status = "awaiting_payout"
	StatusPaid           Status = "paid"
)

type ShowPayout struct {
	ShowID       production.ShowID
	ProductionID production.ProductionID
	Status       Status

	// Rules source: OverrideRules wins when present.
	SchemeID      SchemeID
	OverrideRules *Rules

	TotalPayout  decimal.Decimal
	CalculatedAt *time.Time

	// Set by close-as-non-paying
	NonPaying       bool
	NonPayingReason string
	ClosedBy        string
	ClosedAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LINE ITEM
// =============================================================================

type Source string

const (
	SourceCalculated  Source = "calculated"
	SourceManual      Source = "manual"
	SourceMissingCast Source = "missing_cast"
)

type PaymentState string

const (
	PaymentUnpaid            PaymentState = "unpaid"
	PaymentPaid              PaymentState = "paid"
	PaymentPaidIndependently PaymentState = "paid_independently"
	PaymentClaimed           PaymentState = "claimed"
	PaymentPaidViaPayroll    PaymentState = "paid_via_payroll"
)

const (
	PaymentMethodOffline = "offline"
	PaymentMethodPayroll = "payroll"
)

type LineItem struct {
	ID     LineItemID
	ShowID production.ShowID
	Payee  generic.PayeeRef
	Source Source

	Amount           decimal.Decimal // gross
	AdvanceDeduction decimal.Decimal // <= Amount

	CalculationDetails CalculationDetails

	// Payment
	PaidAt            *time.Time
	PaidBy            string
	PaymentMethod     string
	PaymentNotes      string
	PaidIndependently bool
	PayrollRunID      string

	// Guests are paid through their own handle
	IsGuest            bool
	GuestName          string
	GuestPaymentHandle string

	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (li LineItem) IsPaid() bool    { return li.PaidAt != nil }
func (li LineItem) IsClaimed() bool { return li.PayrollRunID != "" }

// IsLocked reports whether recalculation must leave the item alone.
func (li LineItem) IsLocked() bool { return li.IsPaid() || li.IsClaimed() }

// Net is what is actually handed over after advance recovery.
func (li LineItem) Net() decimal.Decimal { return li.Amount.Sub(li.AdvanceDeduction) }

func (li LineItem) PaymentState() PaymentState {
	switch {
	case li.IsPaid() && li.IsClaimed():
		return PaymentPaidViaPayroll
	case li.IsPaid() && li.PaidIndependently:
		return PaymentPaidIndependently
	case li.IsPaid():
		return PaymentPaid
	case li.IsClaimed():
		return PaymentClaimed
	default:
		return PaymentUnpaid
	}
}

// Key matches roster entries (see production.RosterEntry.Key).
func (li LineItem) Key() string {
	if li.IsGuest {
		return "guest:" + li.GuestName
	}
	return li.Payee.String()
}

// =============================================================================
// CALCULATION DETAILS - Audit trail
// =============================================================================

// CalculationDetails explains how an amount was produced. Calculated
// items carry the full waterfall; manual edits append to Adjustments and
// never rewrite earlier records.
type CalculationDetails struct {
	Method    string            `json:"method"`
	Formula   string            `json:"formula"`
	Inputs    map[string]string `json:"inputs,omitempty"`
	Breakdown []BreakdownLine   `json:"breakdown,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Override  bool              `json:"override,omitempty"`

	Adjustments []Adjustment `json:"adjustments,omitempty"`
}

// BreakdownLine is one step of the allocation waterfall.
type BreakdownLine struct {
	Step     string          `json:"step"`
	Label    string          `json:"label"`
	Amount   decimal.Decimal `json:"amount"`
	NetAfter decimal.Decimal `json:"net_after"`
}

// Adjustment records a manual change to a line item amount.
type Adjustment struct {
	At     time.Time       `json:"at"`
	By     string          `json:"by"`
	From   decimal.Decimal `json:"from"`
	To     decimal.Decimal `json:"to"`
	Reason string          `json:"reason,omitempty"`
}

// =============================================================================
// ADVANCES
// =============================================================================

type AdvanceType string

const (
	// AdvanceForShow is recovered only from that show's payout.
	AdvanceForShow AdvanceType = "show"
	// AdvanceForPerson is recovered from any later payout of the person.
	AdvanceForPerson AdvanceType = "person"
)

type AdvanceStatus string

const (
	AdvanceUnpaid         AdvanceStatus = "unpaid"
	AdvancePaidDown       AdvanceStatus = "paid_down"
	AdvanceFullyRecovered AdvanceStatus = "fully_recovered"
	AdvanceWrittenOff     AdvanceStatus = "written_off"
)

// Advance is cash handed to a payee ahead of a payout. Its remaining
// balance is never stored; it is replayed from the ledger.
type Advance struct {
	ID             AdvanceID
	Payee          generic.PayeeRef
	ProductionID   production.ProductionID
	ShowID         production.ShowID // set for AdvanceForShow
	Type           AdvanceType
	OriginalAmount decimal.Decimal
	IssuedBy       string
	IssuedAt       time.Time
	Notes          string

	// Disbursement of the original cash, orthogonal to recovery
	DisbursedAt        *time.Time
	DisbursedBy        string
	DisbursementMethod string

	WrittenOffAt  *time.Time
	WrittenOffBy  string
	WriteOffNotes string
}

func (a Advance) AccountID() generic.AccountID { return generic.AccountID(a.ID) }

// AdvanceView is an advance together with its replayed balance.
type AdvanceView struct {
	Advance
	Balance generic.AccountBalance
}

func (v AdvanceView) RemainingBalance() decimal.Decimal { return v.Balance.Remaining }

func (v AdvanceView) Status() AdvanceStatus {
	switch {
	case v.WrittenOffAt != nil:
		return AdvanceWrittenOff
	case !v.Balance.Remaining.IsPositive():
		return AdvanceFullyRecovered
	case v.Balance.Remaining.LessThan(v.OriginalAmount):
		return AdvancePaidDown
	default:
		return AdvanceUnpaid
	}
}

// Waiver records a deliberate decision not to advance a payee for a show.
type Waiver struct {
	ShowID    production.ShowID
	Payee     generic.PayeeRef
	Reason    string
	WaivedBy  string
	CreatedAt time.Time
}
