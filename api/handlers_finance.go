package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// CreateExpense stores a production expense and spreads it over shows.
// POST /api/expenses
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	e, ok := expenseFromRequest(w, req)
	if !ok {
		return
	}

	created, allocations, err := h.Expenses.CreateExpense(r.Context(), e)
	if err != nil {
		writeServiceError(w, "Failed to create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(created, allocations))
}

// UpdateExpense replaces an expense's editable fields and re-spreads it.
// PUT /api/expenses/{id}
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	in, ok := expenseFromRequest(w, req)
	if !ok {
		return
	}

	updated, allocations, err := h.Expenses.UpdateExpense(r.Context(), expense.ExpenseID(chi.URLParam(r, "id")), in)
	if err != nil {
		writeServiceError(w, "Failed to update expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(updated, allocations))
}

// ListExpenses returns a production's expenses.
// GET /api/expenses?production_id=
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expenses, err := h.Expenses.ListExpenses(ctx, production.ProductionID(r.URL.Query().Get("production_id")))
	if err != nil {
		writeServiceError(w, "Failed to list expenses", err)
		return
	}

	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		allocations, err := h.Expenses.Allocations(ctx, e.ID)
		if err != nil {
			writeServiceError(w, "Failed to list allocations", err)
			return
		}
		dtos[i] = toExpenseDTO(e, allocations)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/expenses/{id}
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	id := expense.ExpenseID(chi.URLParam(r, "id"))
	ctx := r.Context()

	e, err := h.Expenses.GetExpense(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to get expense", err)
		return
	}
	allocations, err := h.Expenses.Allocations(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, allocations))
}

// DeactivateExpense stops an expense from counting against shows.
// DELETE /api/expenses/{id}
func (h *Handler) DeactivateExpense(w http.ResponseWriter, r *http.Request) {
	id := expense.ExpenseID(chi.URLParam(r, "id"))
	ctx := r.Context()

	e, err := h.Expenses.Deactivate(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to deactivate expense", err)
		return
	}
	allocations, err := h.Expenses.Allocations(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, allocations))
}

// RecalculateExpense re-spreads an expense over the current eligible shows.
// POST /api/expenses/{id}/recalculate
func (h *Handler) RecalculateExpense(w http.ResponseWriter, r *http.Request) {
	h.respondAllocations(w, r, "Failed to recalculate allocations", func(id expense.ExpenseID) ([]expense.Allocation, error) {
		return h.Expenses.RecalculateAllocations(r.Context(), id)
	})
}

// OverrideAllocation pins one show's allocation; the rest is re-spread.
// PUT /api/expenses/{id}/allocations/{showID}/override
func (h *Handler) OverrideAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationOverrideRequest
	if !decode(w, r, &req) {
		return
	}
	showID := production.ShowID(chi.URLParam(r, "showID"))
	h.respondAllocations(w, r, "Failed to override allocation", func(id expense.ExpenseID) ([]expense.Allocation, error) {
		return h.Expenses.Override(r.Context(), id, showID, req.Amount, req.Reason)
	})
}

// ClearAllocationOverride unpins a show's allocation.
// DELETE /api/expenses/{id}/allocations/{showID}/override
func (h *Handler) ClearAllocationOverride(w http.ResponseWriter, r *http.Request) {
	showID := production.ShowID(chi.URLParam(r, "showID"))
	h.respondAllocations(w, r, "Failed to clear override", func(id expense.ExpenseID) ([]expense.Allocation, error) {
		return h.Expenses.ClearOverride(r.Context(), id, showID)
	})
}

func (h *Handler) respondAllocations(w http.ResponseWriter, r *http.Request, message string, fn func(expense.ExpenseID) ([]expense.Allocation, error)) {
	id := expense.ExpenseID(chi.URLParam(r, "id"))
	allocations, err := fn(id)
	if err != nil {
		writeServiceError(w, message, err)
		return
	}
	e, err := h.Expenses.GetExpense(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e, allocations))
}

func expenseFromRequest(w http.ResponseWriter, req ExpenseRequest) (expense.Expense, bool) {
	e := expense.Expense{
		ProductionID:      production.ProductionID(req.ProductionID),
		Description:       req.Description,
		TotalAmount:       req.TotalAmount,
		SpreadMethod:      expense.SpreadMethod(req.SpreadMethod),
		SpreadMonths:      req.SpreadMonths,
		SpreadEventCount:  req.SpreadEventCount,
		ExcludeNonRevenue: req.ExcludeNonRevenue,
		ExcludeCanceled:   req.ExcludeCanceled,
		EventTypeFilter:   req.EventTypeFilter,
		CreatedBy:         req.CreatedBy,
	}
	for _, id := range req.SelectedShowIDs {
		e.SelectedShowIDs = append(e.SelectedShowIDs, production.ShowID(id))
	}

	dates := []struct {
		raw  string
		dest *generic.TimePoint
		name string
	}{
		{req.PurchaseDate, &e.PurchaseDate, "purchase_date"},
		{req.SpreadStart, &e.SpreadStart, "spread_start"},
		{req.SpreadEnd, &e.SpreadEnd, "spread_end"},
	}
	for _, d := range dates {
		if d.raw == "" {
			continue
		}
		tp, err := generic.ParseDate(d.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+d.name+" format (use YYYY-MM-DD)", err)
			return expense.Expense{}, false
		}
		*d.dest = tp
	}
	return e, true
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// CreatePayrollRun claims every payable line item of the period.
// POST /api/payroll-runs
func (h *Handler) CreatePayrollRun(w http.ResponseWriter, r *http.Request) {
	var req PayrollRunRequest
	if !decode(w, r, &req) {
		return
	}

	start, err := generic.ParseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
		return
	}
	end, err := generic.ParseDate(req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}
	period, err := generic.NewPeriod(start, end)
	if err != nil {
		writeServiceError(w, "Invalid period", err)
		return
	}

	run, items, err := h.Payroll.CreateRun(r.Context(), payroll.RunRequest{
		Period:       period,
		ProductionID: production.ProductionID(req.ProductionID),
		Notes:        req.Notes,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, "Failed to create payroll run", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayrollRunDTO(run, items))
}

// ListPayrollRuns returns runs newest first.
// GET /api/payroll-runs?status=
func (h *Handler) ListPayrollRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Payroll.ListRuns(r.Context(), payroll.Status(r.URL.Query().Get("status")))
	if err != nil {
		writeServiceError(w, "Failed to list payroll runs", err)
		return
	}

	dtos := make([]PayrollRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toPayrollRunDTO(run, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/payroll-runs/{id}
func (h *Handler) GetPayrollRun(w http.ResponseWriter, r *http.Request) {
	run, items, err := h.Payroll.GetRun(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to get payroll run", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run, items))
}

// RebuildPayrollRun regroups a pending run against current line items.
// POST /api/payroll-runs/{id}/rebuild
func (h *Handler) RebuildPayrollRun(w http.ResponseWriter, r *http.Request) {
	run, items, err := h.Payroll.BuildLineItems(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to rebuild payroll run", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run, items))
}

// POST /api/payroll-runs/{id}/process
func (h *Handler) ProcessPayrollRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Payroll.StartProcessing(r.Context(), payroll.RunID(chi.URLParam(r, "id")))
	if err != nil {
		writeServiceError(w, "Failed to start processing", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run, nil))
}

// CompletePayrollRun settles every claimed line item as paid via payroll.
// POST /api/payroll-runs/{id}/complete
func (h *Handler) CompletePayrollRun(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decode(w, r, &req) {
		return
	}

	run, err := h.Payroll.Complete(r.Context(), payroll.RunID(chi.URLParam(r, "id")), req.By)
	if err != nil {
		writeServiceError(w, "Failed to complete payroll run", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run, nil))
}

// CancelPayrollRun releases the run's claims.
// POST /api/payroll-runs/{id}/cancel
func (h *Handler) CancelPayrollRun(w http.ResponseWriter, r *http.Request) {
	var req CancelRunRequest
	if !decode(w, r, &req) {
		return
	}

	run, err := h.Payroll.Cancel(r.Context(), payroll.RunID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		writeServiceError(w, "Failed to cancel payroll run", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollRunDTO(run, nil))
}
