package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// ADVANCES
// =============================================================================

func (s *Store) SaveAdvance(ctx context.Context, a payout.Advance) error {
	query := `
		INSERT INTO advances (id, payee, production_id, show_id, advance_type, original_amount,
			issued_by, issued_at, notes, disbursed_at, disbursed_by, disbursement_method,
			written_off_at, written_off_by, write_off_notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			notes = excluded.notes,
			disbursed_at = excluded.disbursed_at,
			disbursed_by = excluded.disbursed_by,
			disbursement_method = excluded.disbursement_method,
			written_off_at = excluded.written_off_at,
			written_off_by = excluded.written_off_by,
			write_off_notes = excluded.write_off_notes
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		a.ID, a.Payee.String(), nullString(string(a.ProductionID)), nullString(string(a.ShowID)),
		a.Type, a.OriginalAmount.String(), nullString(a.IssuedBy), formatTime(a.IssuedAt), nullString(a.Notes),
		formatTimePtr(a.DisbursedAt), nullString(a.DisbursedBy), nullString(a.DisbursementMethod),
		formatTimePtr(a.WrittenOffAt), nullString(a.WrittenOffBy), nullString(a.WriteOffNotes),
	)
	if err != nil {
		return fmt.Errorf("failed to save advance: %w", err)
	}
	return nil
}

const advanceColumns = `id, payee, production_id, show_id, advance_type, original_amount,
	issued_by, issued_at, notes, disbursed_at, disbursed_by, disbursement_method,
	written_off_at, written_off_by, write_off_notes`

func (s *Store) GetAdvance(ctx context.Context, id payout.AdvanceID) (payout.Advance, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+advanceColumns+` FROM advances WHERE id = ?`, id)
	a, err := scanAdvance(row)
	if err != nil {
		return payout.Advance{}, notFound("advance", string(id), err)
	}
	return a, nil
}

// ListAdvances returns matching advances, oldest first.
func (s *Store) ListAdvances(ctx context.Context, filter payout.AdvanceFilter) ([]payout.Advance, error) {
	var where []string
	var args []any
	if !filter.Payee.IsZero() {
		where = append(where, "payee = ?")
		args = append(args, filter.Payee.String())
	}
	if filter.ProductionID != "" {
		where = append(where, "production_id = ?")
		args = append(args, filter.ProductionID)
	}
	if filter.ShowID != "" {
		where = append(where, "show_id = ?")
		args = append(args, filter.ShowID)
	}
	query := `SELECT ` + advanceColumns + ` FROM advances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY issued_at ASC, id ASC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var advances []payout.Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

func scanAdvance(row scanner) (payout.Advance, error) {
	var (
		a                                 payout.Advance
		payee, amount, issuedAt           string
		productionID, showID              sql.NullString
		issuedBy, notes                   sql.NullString
		disbursedAt, disbursedBy, method  sql.NullString
		writtenOffAt, writtenOffBy, wnote sql.NullString
	)
	err := row.Scan(
		&a.ID, &payee, &productionID, &showID, &a.Type, &amount,
		&issuedBy, &issuedAt, &notes, &disbursedAt, &disbursedBy, &method,
		&writtenOffAt, &writtenOffBy, &wnote,
	)
	if err != nil {
		return a, err
	}
	a.Payee = parsePayee(sql.NullString{String: payee, Valid: true})
	a.ProductionID = production.ProductionID(productionID.String)
	a.ShowID = production.ShowID(showID.String)
	a.OriginalAmount = generic.MustParseDecimal(amount)
	a.IssuedBy = issuedBy.String
	a.IssuedAt = parseTime(issuedAt)
	a.Notes = notes.String
	a.DisbursedAt = parseTimePtr(disbursedAt)
	a.DisbursedBy = disbursedBy.String
	a.DisbursementMethod = method.String
	a.WrittenOffAt = parseTimePtr(writtenOffAt)
	a.WrittenOffBy = writtenOffBy.String
	a.WriteOffNotes = wnote.String
	return a, nil
}

// =============================================================================
// WAIVERS
// =============================================================================

// SaveWaiver records a waiver; a second waiver for the same payee and
// show replaces the first.
func (s *Store) SaveWaiver(ctx context.Context, w payout.Waiver) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO advance_waivers (show_id, payee, reason, waived_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(show_id, payee) DO UPDATE SET
			reason = excluded.reason,
			waived_by = excluded.waived_by,
			created_at = excluded.created_at
	`, w.ShowID, w.Payee.String(), nullString(w.Reason), nullString(w.WaivedBy), formatTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save waiver: %w", err)
	}
	return nil
}

func (s *Store) ListWaivers(ctx context.Context, showID production.ShowID) ([]payout.Waiver, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT show_id, payee, reason, waived_by, created_at
		FROM advance_waivers
		WHERE show_id = ?
		ORDER BY created_at ASC
	`, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to query waivers: %w", err)
	}
	defer rows.Close()

	var waivers []payout.Waiver
	for rows.Next() {
		var (
			w                payout.Waiver
			payee, createdAt string
			reason, by       sql.NullString
		)
		if err := rows.Scan(&w.ShowID, &payee, &reason, &by, &createdAt); err != nil {
			return nil, err
		}
		w.Payee = parsePayee(sql.NullString{String: payee, Valid: true})
		w.Reason = reason.String
		w.WaivedBy = by.String
		w.CreatedAt = parseTime(createdAt)
		waivers = append(waivers, w)
	}
	return waivers, rows.Err()
}
