/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates a production, its
	cast, shows with totals and rosters, and drives the payout engine
	through the states it demonstrates.

AVAILABLE SCENARIOS:

	comedy-night:   House 10% scheme, one calculated show, one awaiting totals
	advances:       Person-wide and show-bound advances recovered from payouts
	expense-spread: A production expense spread over nine shows, one pinned
	payroll-month:  A month of paid-out shows batched into a payroll run

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the cast and the production's default scheme from a preset
 3. Create shows, confirm totals, set rosters
 4. Calculate payouts and record payments, advances, expenses

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "advances"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - factory/presets.yaml: Preset schemes used here
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "comedy-night",
		Name:        "Comedy Night",
		Description: "Expenses first, 10% to the house, rest split evenly between three comics",
	},
	{
		ID:          "advances",
		Name:        "Advances",
		Description: "Cash advanced before the show is recovered from the next payouts",
	},
	{
		ID:          "expense-spread",
		Name:        "Expense Spread",
		Description: "A $900 sound system spread over nine shows, one allocation pinned",
	},
	{
		ID:          "payroll-month",
		Name:        "Payroll Month",
		Description: "A month of calculated shows batched into one payroll run",
	},
}

const (
	demoProduction = production.ProductionID("prod-comedy")
	demoActor      = "demo"
)

var demoCast = []production.Person{
	{ID: "alex", Name: "Alex Rivera", Email: "alex@example.com", Handles: []generic.PaymentHandle{{Method: "venmo", Handle: "@alex-r"}}},
	{ID: "sam", Name: "Sam Okafor", Email: "sam@example.com", Handles: []generic.PaymentHandle{{Method: "paypal", Handle: "sam@example.com"}}},
	{ID: "jordan", Name: "Jordan Lee", Email: "jordan@example.com"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

var errUnknownScenario = errors.New("unknown scenario")

// Load resets the database and loads a scenario by ID.
func (h *Handler) Load(ctx context.Context, id string) error {
	loaders := map[string]func(context.Context) error{
		"comedy-night":   h.loadComedyNightScenario,
		"advances":       h.loadAdvancesScenario,
		"expense-spread": h.loadExpenseSpreadScenario,
		"payroll-month":  h.loadPayrollMonthScenario,
	}
	load, ok := loaders[id]
	if !ok {
		return errUnknownScenario
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := load(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadComedyNightScenario(ctx context.Context) error {
	if err := h.seedProduction(ctx, "house-ten-equal"); err != nil {
		return err
	}

	// $1000 revenue - $100 expenses = $900, house keeps $90, $810 / 3 = $270
	if err := h.seedShow(ctx, "show-1", "Friday Late Show", date(2026, time.March, 6), "1000", "100", 80, true); err != nil {
		return err
	}
	if _, err := h.Payouts.Calculate(ctx, "show-1", demoActor); err != nil {
		return err
	}

	// Next week's show has not been counted yet
	return h.seedShow(ctx, "show-2", "Friday Late Show", date(2026, time.March, 13), "0", "0", 0, false)
}

func (h *Handler) loadAdvancesScenario(ctx context.Context) error {
	if err := h.seedProduction(ctx, "house-ten-equal"); err != nil {
		return err
	}

	// Sam got $100 ahead of the month, Jordan $50 for this show only
	if _, err := h.Payouts.IssueAdvance(ctx, payout.AdvanceRequest{
		Payee:        production.PersonRef("sam"),
		ProductionID: demoProduction,
		Amount:       decimal.NewFromInt(100),
		Notes:        "Rent help",
		IssuedBy:     demoActor,
	}); err != nil {
		return err
	}

	if err := h.seedShow(ctx, "show-1", "Friday Late Show", date(2026, time.March, 6), "400", "100", 40, true); err != nil {
		return err
	}
	if _, err := h.Payouts.IssueAdvance(ctx, payout.AdvanceRequest{
		Payee:        production.PersonRef("jordan"),
		ProductionID: demoProduction,
		ShowID:       "show-1",
		Amount:       decimal.NewFromInt(50),
		Notes:        "Cab fare",
		IssuedBy:     demoActor,
	}); err != nil {
		return err
	}

	// $300 pool less $30 house = $270, $90 each: Sam's $100 is recovered
	// $90 now and $10 next show
	if _, err := h.Payouts.Calculate(ctx, "show-1", demoActor); err != nil {
		return err
	}
	if err := h.seedShow(ctx, "show-2", "Friday Late Show", date(2026, time.March, 13), "700", "100", 70, true); err != nil {
		return err
	}
	_, err := h.Payouts.Calculate(ctx, "show-2", demoActor)
	return err
}

func (h *Handler) loadExpenseSpreadScenario(ctx context.Context) error {
	if err := h.seedProduction(ctx, "weighted-shares"); err != nil {
		return err
	}

	start := date(2026, time.April, 3)
	for i := 0; i < 9; i++ {
		id := production.ShowID(fmt.Sprintf("show-%d", i+1))
		if err := h.seedShow(ctx, id, "Friday Late Show", start.AddDays(7*i), "600", "50", 60, true); err != nil {
			return err
		}
	}

	e, _, err := h.Expenses.CreateExpense(ctx, expense.Expense{
		ProductionID:     demoProduction,
		Description:      "Sound system",
		TotalAmount:      decimal.NewFromInt(900),
		PurchaseDate:     start,
		SpreadMethod:     expense.SpreadEventCount,
		SpreadEventCount: 9,
		CreatedBy:        demoActor,
	})
	if err != nil {
		return err
	}

	// The opening night carries a third of the cost
	if _, err := h.Expenses.Override(ctx, e.ID, "show-1", decimal.NewFromInt(300), "Opening night"); err != nil {
		return err
	}

	for i := 0; i < 3; i++ {
		if _, err := h.Payouts.Calculate(ctx, production.ShowID(fmt.Sprintf("show-%d", i+1)), demoActor); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPayrollMonthScenario(ctx context.Context) error {
	if err := h.seedProduction(ctx, "equal-split"); err != nil {
		return err
	}

	fridays := []generic.TimePoint{
		date(2026, time.May, 1), date(2026, time.May, 8), date(2026, time.May, 15), date(2026, time.May, 22),
	}
	for i, d := range fridays {
		id := production.ShowID(fmt.Sprintf("show-%d", i+1))
		if err := h.seedShow(ctx, id, "Friday Late Show", d, "300", "0", 30, true); err != nil {
			return err
		}
		if _, err := h.Payouts.Calculate(ctx, id, demoActor); err != nil {
			return err
		}
	}

	// Alex was paid by hand for the first show; payroll picks up the rest
	items, err := h.Payouts.LineItems(ctx, "show-1")
	if err != nil {
		return err
	}
	for _, li := range items {
		if li.Payee == production.PersonRef("alex") {
			if _, err := h.Payouts.MarkAsPaid(ctx, li.ID, payout.Payment{Method: "venmo", By: demoActor}); err != nil {
				return err
			}
		}
	}

	period, err := generic.NewPeriod(date(2026, time.May, 1), date(2026, time.May, 31))
	if err != nil {
		return err
	}
	_, _, err = h.Payroll.CreateRun(ctx, payroll.RunRequest{
		Period:       period,
		ProductionID: demoProduction,
		Notes:        "May payroll",
		CreatedBy:    demoActor,
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// seedProduction creates the cast and a default scheme from a preset.
func (h *Handler) seedProduction(ctx context.Context, presetKey string) error {
	for _, p := range demoCast {
		if err := h.Store.SavePerson(ctx, p); err != nil {
			return err
		}
	}
	preset, err := h.Schemes.Preset(presetKey)
	if err != nil {
		return err
	}
	_, err = h.Payouts.CreateScheme(ctx, preset.Input(demoProduction, true))
	return err
}

// seedShow saves a show with the full demo cast on its roster.
func (h *Handler) seedShow(ctx context.Context, id production.ShowID, name string, on generic.TimePoint, revenue, expenses string, tickets int, confirmed bool) error {
	show := production.Show{
		ID:           id,
		ProductionID: demoProduction,
		Name:         name,
		Date:         on,
		EventType:    "show",
		Financials: production.Financials{
			Revenue:     generic.MustParseDecimal(revenue),
			Expenses:    generic.MustParseDecimal(expenses),
			TicketCount: tickets,
			Confirmed:   confirmed,
		},
	}
	if err := h.Store.SaveShow(ctx, show); err != nil {
		return err
	}

	roster := make([]production.RosterEntry, len(demoCast))
	for i, p := range demoCast {
		roster[i] = production.RosterEntry{Payee: p.Ref(), Position: i + 1}
	}
	return h.Store.SetRoster(ctx, id, roster)
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}
