package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// PAYROLL RUNS
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r payroll.Run) error {
	query := `
		INSERT INTO payroll_runs (id, production_id, period_start, period_end, status,
			total_gross, total_deductions, total_net, payee_count, item_count,
			notes, created_by, created_at, updated_at, completed_at, completed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_gross = excluded.total_gross,
			total_deductions = excluded.total_deductions,
			total_net = excluded.total_net,
			payee_count = excluded.payee_count,
			item_count = excluded.item_count,
			notes = excluded.notes,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			completed_by = excluded.completed_by
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		r.ID, nullString(string(r.ProductionID)), r.PeriodStart.String(), r.PeriodEnd.String(), r.Status,
		r.TotalGross.String(), r.TotalDeductions.String(), r.TotalNet.String(), r.PayeeCount, r.ItemCount,
		nullString(r.Notes), nullString(r.CreatedBy), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		formatTimePtr(r.CompletedAt), nullString(r.CompletedBy),
	)
	if err != nil {
		return fmt.Errorf("failed to save payroll run: %w", err)
	}
	return nil
}

const runColumns = `id, production_id, period_start, period_end, status,
	total_gross, total_deductions, total_net, payee_count, item_count,
	notes, created_by, created_at, updated_at, completed_at, completed_by`

func (s *Store) GetRun(ctx context.Context, id payroll.RunID) (payroll.Run, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		return payroll.Run{}, notFound("payroll run", string(id), err)
	}
	return r, nil
}

// ListRuns returns runs newest first; an empty status lists all.
func (s *Store) ListRuns(ctx context.Context, status payroll.Status) ([]payroll.Run, error) {
	query := `SELECT ` + runColumns + ` FROM payroll_runs`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll runs: %w", err)
	}
	defer rows.Close()

	var runs []payroll.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (payroll.Run, error) {
	var (
		r                        payroll.Run
		productionID, notes, by  sql.NullString
		start, end               string
		gross, deductions, net   string
		createdAt, updatedAt     string
		completedAt, completedBy sql.NullString
	)
	err := row.Scan(
		&r.ID, &productionID, &start, &end, &r.Status,
		&gross, &deductions, &net, &r.PayeeCount, &r.ItemCount,
		&notes, &by, &createdAt, &updatedAt, &completedAt, &completedBy,
	)
	if err != nil {
		return r, err
	}
	r.ProductionID = production.ProductionID(productionID.String)
	r.PeriodStart = parseDate(sql.NullString{String: start, Valid: true})
	r.PeriodEnd = parseDate(sql.NullString{String: end, Valid: true})
	r.TotalGross = generic.MustParseDecimal(gross)
	r.TotalDeductions = generic.MustParseDecimal(deductions)
	r.TotalNet = generic.MustParseDecimal(net)
	r.Notes = notes.String
	r.CreatedBy = by.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	r.CompletedAt = parseTimePtr(completedAt)
	r.CompletedBy = completedBy.String
	return r, nil
}

// =============================================================================
// RUN LINE ITEMS
// =============================================================================

// ReplaceRunLineItems swaps a run's per-payee totals atomically.
func (s *Store) ReplaceRunLineItems(ctx context.Context, id payroll.RunID, items []payroll.LineItem) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		if _, err := db.ExecContext(ctx, "DELETE FROM payroll_line_items WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear payroll line items: %w", err)
		}
		for _, it := range items {
			ids, err := json.Marshal(it.LineItemIDs)
			if err != nil {
				return fmt.Errorf("failed to encode line item ids: %w", err)
			}
			_, err = db.ExecContext(ctx, `
				INSERT INTO payroll_line_items (id, run_id, payee, gross, deductions, net, show_count, line_item_ids_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, it.ID, id, it.Payee.String(), it.Gross.String(), it.Deductions.String(), it.Net.String(), it.ShowCount, string(ids))
			if err != nil {
				return fmt.Errorf("failed to save payroll line item: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) ListRunLineItems(ctx context.Context, id payroll.RunID) ([]payroll.LineItem, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, run_id, payee, gross, deductions, net, show_count, line_item_ids_json
		FROM payroll_line_items
		WHERE run_id = ?
		ORDER BY payee ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll line items: %w", err)
	}
	defer rows.Close()

	var items []payroll.LineItem
	for rows.Next() {
		var (
			it                     payroll.LineItem
			payee, gross, ded, net string
			ids                    sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.RunID, &payee, &gross, &ded, &net, &it.ShowCount, &ids); err != nil {
			return nil, err
		}
		it.Payee = parsePayee(sql.NullString{String: payee, Valid: true})
		it.Gross = generic.MustParseDecimal(gross)
		it.Deductions = generic.MustParseDecimal(ded)
		it.Net = generic.MustParseDecimal(net)
		if ids.Valid && ids.String != "" {
			if err := json.Unmarshal([]byte(ids.String), &it.LineItemIDs); err != nil {
				return nil, fmt.Errorf("payroll line item %s has malformed ids: %w", it.ID, err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// compile-time check
var _ payroll.Store = (*Store)(nil)
