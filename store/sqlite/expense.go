package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payout-engine/expense"
	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Store) SaveExpense(ctx context.Context, e expense.Expense) error {
	eventTypes, err := json.Marshal(e.EventTypeFilter)
	if err != nil {
		return fmt.Errorf("failed to encode event type filter: %w", err)
	}
	selected, err := json.Marshal(e.SelectedShowIDs)
	if err != nil {
		return fmt.Errorf("failed to encode selected shows: %w", err)
	}

	query := `
		INSERT INTO expenses (id, production_id, description, total_amount, purchase_date,
			spread_method, spread_months, spread_event_count, spread_start, spread_end,
			exclude_non_revenue, exclude_canceled, event_type_filter_json, selected_show_ids_json,
			active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			total_amount = excluded.total_amount,
			purchase_date = excluded.purchase_date,
			spread_method = excluded.spread_method,
			spread_months = excluded.spread_months,
			spread_event_count = excluded.spread_event_count,
			spread_start = excluded.spread_start,
			spread_end = excluded.spread_end,
			exclude_non_revenue = excluded.exclude_non_revenue,
			exclude_canceled = excluded.exclude_canceled,
			event_type_filter_json = excluded.event_type_filter_json,
			selected_show_ids_json = excluded.selected_show_ids_json,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		e.ID, e.ProductionID, nullString(e.Description), e.TotalAmount.String(), formatDate(e.PurchaseDate),
		nullString(string(e.SpreadMethod)), e.SpreadMonths, e.SpreadEventCount,
		formatDate(e.SpreadStart), formatDate(e.SpreadEnd),
		e.ExcludeNonRevenue, e.ExcludeCanceled, string(eventTypes), string(selected),
		e.Active, nullString(e.CreatedBy), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

const expenseColumns = `id, production_id, description, total_amount, purchase_date,
	spread_method, spread_months, spread_event_count, spread_start, spread_end,
	exclude_non_revenue, exclude_canceled, event_type_filter_json, selected_show_ids_json,
	active, created_by, created_at, updated_at`

func (s *Store) GetExpense(ctx context.Context, id expense.ExpenseID) (expense.Expense, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row)
	if err != nil {
		return expense.Expense{}, notFound("expense", string(id), err)
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, productionID production.ProductionID) ([]expense.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses`
	var args []any
	if productionID != "" {
		query += " WHERE production_id = ?"
		args = append(args, productionID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []expense.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func scanExpense(row scanner) (expense.Expense, error) {
	var (
		e                       expense.Expense
		description, method, by sql.NullString
		total                   string
		purchase, start, end    sql.NullString
		eventTypes, selected    sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(
		&e.ID, &e.ProductionID, &description, &total, &purchase,
		&method, &e.SpreadMonths, &e.SpreadEventCount, &start, &end,
		&e.ExcludeNonRevenue, &e.ExcludeCanceled, &eventTypes, &selected,
		&e.Active, &by, &createdAt, &updatedAt,
	)
	if err != nil {
		return e, err
	}
	e.Description = description.String
	e.TotalAmount = generic.MustParseDecimal(total)
	e.PurchaseDate = parseDate(purchase)
	e.SpreadMethod = expense.SpreadMethod(method.String)
	e.SpreadStart = parseDate(start)
	e.SpreadEnd = parseDate(end)
	if eventTypes.Valid && eventTypes.String != "" {
		if err := json.Unmarshal([]byte(eventTypes.String), &e.EventTypeFilter); err != nil {
			return e, fmt.Errorf("expense %s has malformed event type filter: %w", e.ID, err)
		}
	}
	if selected.Valid && selected.String != "" {
		if err := json.Unmarshal([]byte(selected.String), &e.SelectedShowIDs); err != nil {
			return e, fmt.Errorf("expense %s has malformed show selection: %w", e.ID, err)
		}
	}
	e.CreatedBy = by.String
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

// ListAllocations returns the expense's allocations in show date order.
func (s *Store) ListAllocations(ctx context.Context, id expense.ExpenseID) ([]expense.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT a.id, a.expense_id, a.show_id, a.allocated_amount, a.overridden, a.override_reason, a.updated_at
		FROM expense_allocations a
		LEFT JOIN shows s ON s.id = a.show_id
		WHERE a.expense_id = ?
		ORDER BY s.date ASC, a.show_id ASC
	`, id)
}

// ReplaceAllocations swaps the expense's allocation set atomically.
func (s *Store) ReplaceAllocations(ctx context.Context, id expense.ExpenseID, allocations []expense.Allocation) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		if _, err := db.ExecContext(ctx, "DELETE FROM expense_allocations WHERE expense_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear allocations: %w", err)
		}
		for _, a := range allocations {
			_, err := db.ExecContext(ctx, `
				INSERT INTO expense_allocations (id, expense_id, show_id, allocated_amount, overridden, override_reason, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, a.ID, id, a.ShowID, a.AllocatedAmount.String(), a.Overridden, nullString(a.OverrideReason), formatTime(a.UpdatedAt))
			if err != nil {
				if isUniqueConstraintError(err) {
					return fmt.Errorf("expense %s allocated twice to show %s", id, a.ShowID)
				}
				return fmt.Errorf("failed to save allocation: %w", err)
			}
		}
		return nil
	})
}

// ShowAllocations returns allocations of active expenses onto a show.
func (s *Store) ShowAllocations(ctx context.Context, showID production.ShowID) ([]expense.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT a.id, a.expense_id, a.show_id, a.allocated_amount, a.overridden, a.override_reason, a.updated_at
		FROM expense_allocations a
		JOIN expenses e ON e.id = a.expense_id
		WHERE a.show_id = ? AND e.active = 1
		ORDER BY e.created_at ASC, a.expense_id ASC
	`, showID)
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]expense.Allocation, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []expense.Allocation
	for rows.Next() {
		var (
			a                 expense.Allocation
			amount, updatedAt string
			reason            sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ExpenseID, &a.ShowID, &amount, &a.Overridden, &reason, &updatedAt); err != nil {
			return nil, err
		}
		a.AllocatedAmount = generic.MustParseDecimal(amount)
		a.OverrideReason = reason.String
		a.UpdatedAt = parseTime(updatedAt)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

// compile-time check
var _ expense.Store = (*Store)(nil)
