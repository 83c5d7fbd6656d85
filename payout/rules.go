/*
rules.go - Payout rules: allocation waterfall and distribution method

PURPOSE:
  A rules document says how a show's revenue becomes performer pay:

    1. ALLOCATION: an ordered waterfall of deductions applied to revenue
       (expenses first, percentage cuts) ending in exactly one Remainder
       step that freezes what is left as the performer pool.
    2. DISTRIBUTION: how the pool (or the ticket count) turns into
       per-performer amounts.
    3. PERFORMER OVERRIDES: per-person parameters that supersede the
       scheme defaults.

CLOSED VARIANTS:
  Steps and methods are closed sets. Each variant is its own struct and
  the interfaces carry an unexported marker method, so only this package
  can add variants. New variants are additive: historical documents and
  calculation details that name retired methods keep decoding.

    AllocationStep:     ExpensesFirst | Percentage | Remainder
    DistributionMethod: Equal | Shares | PerTicket | PerTicketGuaranteed |
                        FlatFee | NoPay

SEE ALSO:
  - rules_codec.go: JSON wire form
  - calculator.go: Evaluation
*/
package payout

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// ALLOCATION STEPS
// =============================================================================

const (
	StepExpensesFirst = "expenses_first"
	StepPercentage    = "percentage"
	StepRemainder     = "remainder"
)

type AllocationStep interface {
	Kind() string
	allocationStep()
}

// ExpensesFirst subtracts the show's recorded expenses (floor 0).
type ExpensesFirst struct{}

// Percentage subtracts Value% of the running net, recorded under Label.
type Percentage struct {
	Value decimal.Decimal
	Label string
}

// Remainder freezes the running net as the performer pool.
type Remainder struct {
	Label string
}

func (ExpensesFirst) Kind() string { return StepExpensesFirst }
func (Percentage) Kind() string    { return StepPercentage }
func (Remainder) Kind() string     { return StepRemainder }

func (ExpensesFirst) allocationStep() {}
func (Percentage) allocationStep()    {}
func (Remainder) allocationStep()     {}

// =============================================================================
// DISTRIBUTION METHODS
// =============================================================================

const (
	MethodEqual               = "equal"
	MethodShares              = "shares"
	MethodPerTicket           = "per_ticket"
	MethodPerTicketGuaranteed = "per_ticket_guaranteed"
	MethodFlatFee             = "flat_fee"
	MethodNoPay               = "no_pay"
)

type DistributionMethod interface {
	Method() string
	distributionMethod()
}

// Equal splits the pool by weight; everyone weighs DefaultShares unless
// overridden.
type Equal struct {
	DefaultShares decimal.Decimal
}

// Shares splits the pool proportionally to each performer's shares.
type Shares struct {
	DefaultShares decimal.Decimal
}

// PerTicket pays Rate for every ticket sold, regardless of the pool.
type PerTicket struct {
	Rate decimal.Decimal
}

// PerTicketGuaranteed pays Rate per ticket but never less than Minimum.
type PerTicketGuaranteed struct {
	Rate    decimal.Decimal
	Minimum decimal.Decimal
}

// FlatFee pays a fixed Amount per performer, regardless of the pool.
type FlatFee struct {
	Amount decimal.Decimal
}

// NoPay pays nothing; line items are still created at zero.
type NoPay struct{}

func (Equal) Method() string               { return MethodEqual }
func (Shares) Method() string              { return MethodShares }
func (PerTicket) Method() string           { return MethodPerTicket }
func (PerTicketGuaranteed) Method() string { return MethodPerTicketGuaranteed }
func (FlatFee) Method() string             { return MethodFlatFee }
func (NoPay) Method() string               { return MethodNoPay }

func (Equal) distributionMethod()               {}
func (Shares) distributionMethod()              {}
func (PerTicket) distributionMethod()           {}
func (PerTicketGuaranteed) distributionMethod() {}
func (FlatFee) distributionMethod()             {}
func (NoPay) distributionMethod()               {}

// =============================================================================
// RULES
// =============================================================================

// PerformerOverride supersedes scheme parameters for one payee.
// Nil fields fall back to the scheme.
type PerformerOverride struct {
	Shares  *decimal.Decimal
	Rate    *decimal.Decimal
	Minimum *decimal.Decimal
	Amount  *decimal.Decimal
}

type Rules struct {
	Allocation         []AllocationStep
	Distribution       DistributionMethod
	PerformerOverrides map[generic.PayeeRef]PerformerOverride
}

// DefaultRules gives the whole revenue to the performers in equal parts.
func DefaultRules() Rules {
	return Rules{
		Allocation:   []AllocationStep{Remainder{Label: "performers"}},
		Distribution: Equal{DefaultShares: decimal.NewFromInt(1)},
	}
}

// Override returns the override for a payee, if any.
func (r Rules) Override(ref generic.PayeeRef) (PerformerOverride, bool) {
	if r.PerformerOverrides == nil || ref.IsZero() {
		return PerformerOverride{}, false
	}
	o, ok := r.PerformerOverrides[ref]
	return o, ok
}

// Validate checks the document is evaluable. Every failure is a
// *generic.RulesError wrapping ErrInvalidRulesDocument.
func (r Rules) Validate() error {
	remainders := 0
	for i, step := range r.Allocation {
		path := fmt.Sprintf("allocation[%d]", i)
		switch s := step.(type) {
		case ExpensesFirst:
		case Percentage:
			if s.Value.IsNegative() || s.Value.GreaterThan(generic.Hundred) {
				return &generic.RulesError{Path: path + ".value", Reason: "percentage must be between 0 and 100"}
			}
		case Remainder:
			remainders++
		case nil:
			return &generic.RulesError{Path: path, Reason: "empty step"}
		default:
			return &generic.RulesError{Path: path, Reason: fmt.Sprintf("unknown step %q", step.Kind())}
		}
	}
	if remainders == 0 {
		return &generic.RulesError{Path: "allocation", Reason: "missing remainder step"}
	}
	if remainders > 1 {
		return &generic.RulesError{Path: "allocation", Reason: "more than one remainder step"}
	}

	switch m := r.Distribution.(type) {
	case nil:
		return &generic.RulesError{Path: "distribution", Reason: "missing distribution method"}
	case Equal:
		if !m.DefaultShares.IsPositive() {
			return &generic.RulesError{Path: "distribution.default_shares", Reason: "must be positive"}
		}
	case Shares:
		if !m.DefaultShares.IsPositive() {
			return &generic.RulesError{Path: "distribution.default_shares", Reason: "must be positive"}
		}
	case PerTicket:
		if m.Rate.IsNegative() {
			return &generic.RulesError{Path: "distribution.rate", Reason: "must not be negative"}
		}
	case PerTicketGuaranteed:
		if m.Rate.IsNegative() {
			return &generic.RulesError{Path: "distribution.rate", Reason: "must not be negative"}
		}
		if m.Minimum.IsNegative() {
			return &generic.RulesError{Path: "distribution.minimum", Reason: "must not be negative"}
		}
	case FlatFee:
		if m.Amount.IsNegative() {
			return &generic.RulesError{Path: "distribution.amount", Reason: "must not be negative"}
		}
	case NoPay:
	default:
		return &generic.RulesError{Path: "distribution", Reason: fmt.Sprintf("unknown method %q", m.Method())}
	}

	for ref, o := range r.PerformerOverrides {
		path := "performer_overrides." + ref.String()
		for name, v := range map[string]*decimal.Decimal{
			"shares": o.Shares, "rate": o.Rate, "minimum": o.Minimum, "amount": o.Amount,
		} {
			if v != nil && v.IsNegative() {
				return &generic.RulesError{Path: path + "." + name, Reason: "must not be negative"}
			}
		}
	}
	return nil
}
