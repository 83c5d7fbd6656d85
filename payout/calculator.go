/*
calculator.go - Pure payout calculation

PURPOSE:
  Turns a show's confirmed totals, its roster, and a rules document into
  per-payee amounts plus a reproducible audit record. Nothing here reads
  or writes storage; Service.Calculate persists the result and
  Service.Preview returns it untouched.

ALGORITHM:
  1. net = revenue
  2. Walk the allocation steps:
       expenses_first  net -= min(expenses, net)           (floor 0)
       percentage      net -= net × value%                 (under its label)
       remainder       pool = net, rounded to the cent; stop
  3. Distribute the pool, consulting performer overrides first:
       equal / shares         pool × weight / Σweights
       per_ticket             rate × tickets
       per_ticket_guaranteed  max(rate × tickets, minimum)
       flat_fee               amount (may exceed the pool: warning only)
       no_pay                 0

ROUNDING:
  Arithmetic is exact decimal. Weighted shares are truncated to the cent
  and the leftover cents go to the first weighted payee in roster order,
  so Σ shares == pool exactly and the same input always yields the same
  split.

OVERRIDES:
  shares applies to equal/shares, rate and minimum to the per-ticket
  methods, amount to flat_fee.

EXAMPLE:
  [expenses_first, percentage{10,"house"}, remainder], equal
  revenue $1000, expenses $100 → net $900 → house $90 → pool $810
  3 performers → $270.00 each
*/
package payout

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

type CalculationInput struct {
	ShowID     production.ShowID
	Financials production.Financials

	// Production expenses spread onto this show, deducted by expenses_first
	// together with the show's own expenses.
	AllocatedExpenses decimal.Decimal

	Roster []production.RosterEntry
	Rules  Rules
}

// Share is one roster entry's computed amount.
type Share struct {
	Entry   production.RosterEntry
	Amount  decimal.Decimal
	Details CalculationDetails
}

type Result struct {
	Revenue   decimal.Decimal
	Pool      decimal.Decimal
	Breakdown []BreakdownLine
	Shares    []Share
	Total     decimal.Decimal
	Warnings  []string
}

// =============================================================================
// CALCULATE
// =============================================================================

// Calculate runs the allocation waterfall and the distribution.
//
// Returns:
//   - *generic.InsufficientDataError when financials are unconfirmed
//   - generic.ErrNoPerformers when the roster is empty
//   - *generic.RulesError when the rules cannot be evaluated
func Calculate(in CalculationInput) (Result, error) {
	if !in.Financials.Confirmed {
		return Result{}, &generic.InsufficientDataError{ShowID: string(in.ShowID), Reason: "financials not confirmed"}
	}
	if len(in.Roster) == 0 {
		return Result{}, fmt.Errorf("show %s: %w", in.ShowID, generic.ErrNoPerformers)
	}
	if err := in.Rules.Validate(); err != nil {
		return Result{}, err
	}

	roster := make([]production.RosterEntry, len(in.Roster))
	copy(roster, in.Roster)
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].Position < roster[j].Position })

	pool, breakdown := allocate(in)

	res := Result{
		Revenue:   in.Financials.Revenue,
		Pool:      pool,
		Breakdown: breakdown,
	}

	d := distributor{in: in, roster: roster, pool: pool, breakdown: breakdown}
	switch m := in.Rules.Distribution.(type) {
	case Equal:
		res.Shares = d.byWeight(MethodEqual, m.DefaultShares)
	case Shares:
		res.Shares = d.byWeight(MethodShares, m.DefaultShares)
	case PerTicket:
		res.Shares = d.perTicket(m.Rate, nil)
	case PerTicketGuaranteed:
		min := m.Minimum
		res.Shares = d.perTicket(m.Rate, &min)
	case FlatFee:
		res.Shares = d.flatFee(m.Amount)
	case NoPay:
		res.Shares = d.noPay()
	}

	res.Total = decimal.Zero
	for _, s := range res.Shares {
		res.Total = res.Total.Add(s.Amount)
	}

	if res.Total.GreaterThan(pool) {
		warning := fmt.Sprintf("distribution total %s exceeds performer pool %s",
			generic.FormatMoney(res.Total), generic.FormatMoney(pool))
		res.Warnings = append(res.Warnings, warning)
		for i := range res.Shares {
			res.Shares[i].Details.Warnings = append(res.Shares[i].Details.Warnings, warning)
		}
	}
	return res, nil
}

// allocate walks the waterfall and returns the frozen pool.
func allocate(in CalculationInput) (decimal.Decimal, []BreakdownLine) {
	net := in.Financials.Revenue
	var lines []BreakdownLine

	for _, step := range in.Rules.Allocation {
		switch s := step.(type) {
		case ExpensesFirst:
			expenses := in.Financials.Expenses.Add(in.AllocatedExpenses)
			deducted := generic.MaxMoney(generic.MinMoney(expenses, net), decimal.Zero)
			net = net.Sub(deducted)
			lines = append(lines, BreakdownLine{Step: StepExpensesFirst, Label: "expenses", Amount: deducted, NetAfter: net})
		case Percentage:
			cut := decimal.Zero
			if net.IsPositive() {
				cut = net.Mul(s.Value).Div(generic.Hundred)
			}
			net = net.Sub(cut)
			lines = append(lines, BreakdownLine{Step: StepPercentage, Label: s.Label, Amount: cut, NetAfter: net})
		case Remainder:
			pool := generic.RoundMoney(generic.MaxMoney(net, decimal.Zero))
			lines = append(lines, BreakdownLine{Step: StepRemainder, Label: s.Label, Amount: pool, NetAfter: pool})
			return pool, lines
		}
	}
	// Unreachable for validated rules
	return decimal.Zero, lines
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

type distributor struct {
	in        CalculationInput
	roster    []production.RosterEntry
	pool      decimal.Decimal
	breakdown []BreakdownLine
}

func (d distributor) details(method, formula string, override bool, inputs map[string]string) CalculationDetails {
	base := map[string]string{
		"revenue":      d.in.Financials.Revenue.String(),
		"expenses":     d.in.Financials.Expenses.String(),
		"ticket_count": strconv.Itoa(d.in.Financials.TicketCount),
		"pool":         d.pool.StringFixed(generic.CurrencyPlaces),
	}
	if !d.in.AllocatedExpenses.IsZero() {
		base["allocated_expenses"] = d.in.AllocatedExpenses.String()
	}
	for k, v := range inputs {
		base[k] = v
	}
	breakdown := make([]BreakdownLine, len(d.breakdown))
	copy(breakdown, d.breakdown)
	return CalculationDetails{
		Method:    method,
		Formula:   formula,
		Inputs:    base,
		Breakdown: breakdown,
		Override:  override,
	}
}

func (d distributor) byWeight(method string, defaultShares decimal.Decimal) []Share {
	weights := make([]decimal.Decimal, len(d.roster))
	overridden := make([]bool, len(d.roster))
	total := decimal.Zero
	for i, e := range d.roster {
		weights[i] = defaultShares
		if o, ok := d.in.Rules.Override(e.Payee); ok && o.Shares != nil {
			weights[i] = *o.Shares
			overridden[i] = true
		}
		total = total.Add(weights[i])
	}

	amounts := make([]decimal.Decimal, len(d.roster))
	allocated := decimal.Zero
	for i := range d.roster {
		amounts[i] = decimal.Zero
		if total.IsPositive() {
			amounts[i] = generic.TruncateMoney(d.pool.Mul(weights[i]).Div(total))
		}
		allocated = allocated.Add(amounts[i])
	}

	// Leftover cents go to the first weighted payee in roster order
	leftover := decimal.Zero
	receiver := -1
	if total.IsPositive() {
		leftover = d.pool.Sub(allocated)
		for i, w := range weights {
			if w.IsPositive() {
				receiver = i
				break
			}
		}
		if receiver >= 0 {
			amounts[receiver] = amounts[receiver].Add(leftover)
		}
	}

	shares := make([]Share, len(d.roster))
	for i, e := range d.roster {
		formula := fmt.Sprintf("%s × %s / %s", generic.FormatMoney(d.pool), weights[i], total)
		inputs := map[string]string{
			"weight":       weights[i].String(),
			"total_weight": total.String(),
		}
		if i == receiver && leftover.IsPositive() {
			formula += " + " + generic.FormatMoney(leftover) + " rounding"
			inputs["rounding_remainder"] = leftover.String()
		}
		shares[i] = Share{
			Entry:   e,
			Amount:  amounts[i],
			Details: d.details(method, formula, overridden[i], inputs),
		}
	}
	return shares
}

func (d distributor) perTicket(defaultRate decimal.Decimal, defaultMinimum *decimal.Decimal) []Share {
	tickets := decimal.NewFromInt(int64(d.in.Financials.TicketCount))
	method := MethodPerTicket
	if defaultMinimum != nil {
		method = MethodPerTicketGuaranteed
	}

	shares := make([]Share, len(d.roster))
	for i, e := range d.roster {
		rate := defaultRate
		overridden := false
		o, hasOverride := d.in.Rules.Override(e.Payee)
		if hasOverride && o.Rate != nil {
			rate = *o.Rate
			overridden = true
		}

		raw := generic.RoundMoney(rate.Mul(tickets))
		amount := raw
		formula := fmt.Sprintf("%s × %d tickets", generic.FormatMoney(rate), d.in.Financials.TicketCount)
		inputs := map[string]string{"rate": rate.String(), "raw": raw.String()}

		if defaultMinimum != nil {
			minimum := *defaultMinimum
			if hasOverride && o.Minimum != nil {
				minimum = *o.Minimum
				overridden = true
			}
			amount = generic.MaxMoney(raw, generic.RoundMoney(minimum))
			formula = fmt.Sprintf("max(%s, %s minimum)", formula, generic.FormatMoney(minimum))
			inputs["minimum"] = minimum.String()
			if amount.GreaterThan(raw) {
				inputs["guarantee_applied"] = "true"
			}
		}

		shares[i] = Share{Entry: e, Amount: amount, Details: d.details(method, formula, overridden, inputs)}
	}
	return shares
}

func (d distributor) flatFee(defaultAmount decimal.Decimal) []Share {
	shares := make([]Share, len(d.roster))
	for i, e := range d.roster {
		amount := defaultAmount
		overridden := false
		if o, ok := d.in.Rules.Override(e.Payee); ok && o.Amount != nil {
			amount = *o.Amount
			overridden = true
		}
		amount = generic.RoundMoney(amount)
		shares[i] = Share{
			Entry:   e,
			Amount:  amount,
			Details: d.details(MethodFlatFee, "flat fee "+generic.FormatMoney(amount), overridden, map[string]string{"amount": amount.String()}),
		}
	}
	return shares
}

func (d distributor) noPay() []Share {
	shares := make([]Share, len(d.roster))
	for i, e := range d.roster {
		shares[i] = Share{Entry: e, Amount: decimal.Zero, Details: d.details(MethodNoPay, "no pay", false, nil)}
	}
	return shares
}
