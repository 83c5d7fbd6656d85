package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/payout"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// SHOW PAYOUTS
// =============================================================================

func (s *Store) SavePayout(ctx context.Context, p payout.ShowPayout) error {
	var overrideJSON sql.NullString
	if p.OverrideRules != nil {
		b, err := json.Marshal(p.OverrideRules)
		if err != nil {
			return fmt.Errorf("failed to encode override rules: %w", err)
		}
		overrideJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO show_payouts (show_id, production_id, status, scheme_id, override_rules_json,
			total_payout, calculated_at, non_paying, non_paying_reason, closed_by, closed_at,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(show_id) DO UPDATE SET
			status = excluded.status,
			scheme_id = excluded.scheme_id,
			override_rules_json = excluded.override_rules_json,
			total_payout = excluded.total_payout,
			calculated_at = excluded.calculated_at,
			non_paying = excluded.non_paying,
			non_paying_reason = excluded.non_paying_reason,
			closed_by = excluded.closed_by,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		p.ShowID, p.ProductionID, p.Status, nullString(string(p.SchemeID)), overrideJSON,
		p.TotalPayout.String(), formatTimePtr(p.CalculatedAt),
		p.NonPaying, nullString(p.NonPayingReason), nullString(p.ClosedBy), formatTimePtr(p.ClosedAt),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payout: %w", err)
	}
	return nil
}

const payoutColumns = `show_id, production_id, status, scheme_id, override_rules_json,
	total_payout, calculated_at, non_paying, non_paying_reason, closed_by, closed_at,
	created_at, updated_at`

func (s *Store) GetPayout(ctx context.Context, showID production.ShowID) (payout.ShowPayout, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM show_payouts WHERE show_id = ?`, showID)
	p, err := scanPayout(row)
	if err != nil {
		return payout.ShowPayout{}, notFound("show payout", string(showID), err)
	}
	return p, nil
}

func (s *Store) ListPayouts(ctx context.Context, productionID production.ProductionID) ([]payout.ShowPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM show_payouts`
	var args []any
	if productionID != "" {
		query += " WHERE production_id = ?"
		args = append(args, productionID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []payout.ShowPayout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

func scanPayout(row scanner) (payout.ShowPayout, error) {
	var (
		p                         payout.ShowPayout
		schemeID, overrideJSON    sql.NullString
		total                     string
		calculatedAt, closedAt    sql.NullString
		nonPayingReason, closedBy sql.NullString
		createdAt, updatedAt      string
	)
	err := row.Scan(
		&p.ShowID, &p.ProductionID, &p.Status, &schemeID, &overrideJSON,
		&total, &calculatedAt, &p.NonPaying, &nonPayingReason, &closedBy, &closedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}
	p.SchemeID = payout.SchemeID(schemeID.String)
	if overrideJSON.Valid && overrideJSON.String != "" {
		var rules payout.Rules
		if err := json.Unmarshal([]byte(overrideJSON.String), &rules); err != nil {
			return p, fmt.Errorf("payout %s has malformed override rules: %w", p.ShowID, err)
		}
		p.OverrideRules = &rules
	}
	p.TotalPayout = generic.MustParseDecimal(total)
	p.CalculatedAt = parseTimePtr(calculatedAt)
	p.NonPayingReason = nonPayingReason.String
	p.ClosedBy = closedBy.String
	p.ClosedAt = parseTimePtr(closedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (s *Store) SaveLineItem(ctx context.Context, li payout.LineItem) error {
	details, err := json.Marshal(li.CalculationDetails)
	if err != nil {
		return fmt.Errorf("failed to encode calculation details: %w", err)
	}

	query := `
		INSERT INTO payout_line_items (id, show_id, payee, source, amount, advance_deduction,
			details_json, paid_at, paid_by, payment_method, payment_notes, paid_independently,
			payroll_run_id, is_guest, guest_name, guest_payment_handle, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payee = excluded.payee,
			source = excluded.source,
			amount = excluded.amount,
			advance_deduction = excluded.advance_deduction,
			details_json = excluded.details_json,
			paid_at = excluded.paid_at,
			paid_by = excluded.paid_by,
			payment_method = excluded.payment_method,
			payment_notes = excluded.payment_notes,
			paid_independently = excluded.paid_independently,
			payroll_run_id = excluded.payroll_run_id,
			is_guest = excluded.is_guest,
			guest_name = excluded.guest_name,
			guest_payment_handle = excluded.guest_payment_handle,
			position = excluded.position,
			updated_at = excluded.updated_at
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		li.ID, li.ShowID, nullString(li.Payee.String()), li.Source,
		li.Amount.String(), li.AdvanceDeduction.String(), string(details),
		formatTimePtr(li.PaidAt), nullString(li.PaidBy), nullString(li.PaymentMethod), nullString(li.PaymentNotes),
		li.PaidIndependently, nullString(li.PayrollRunID),
		li.IsGuest, nullString(li.GuestName), nullString(li.GuestPaymentHandle), li.Position,
		formatTime(li.CreatedAt), formatTime(li.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save line item: %w", err)
	}
	return nil
}

func (s *Store) DeleteLineItem(ctx context.Context, id payout.LineItemID) error {
	_, err := s.conn(ctx).ExecContext(ctx, "DELETE FROM payout_line_items WHERE id = ?", id)
	return err
}

const lineItemColumns = `id, show_id, payee, source, amount, advance_deduction, details_json,
	paid_at, paid_by, payment_method, payment_notes, paid_independently, payroll_run_id,
	is_guest, guest_name, guest_payment_handle, position, created_at, updated_at`

func (s *Store) GetLineItem(ctx context.Context, id payout.LineItemID) (payout.LineItem, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+lineItemColumns+` FROM payout_line_items WHERE id = ?`, id)
	li, err := scanLineItem(row)
	if err != nil {
		return payout.LineItem{}, notFound("line item", string(id), err)
	}
	return li, nil
}

func (s *Store) ListLineItems(ctx context.Context, showID production.ShowID) ([]payout.LineItem, error) {
	return s.queryLineItems(ctx, `
		SELECT `+lineItemColumns+` FROM payout_line_items
		WHERE show_id = ?
		ORDER BY position ASC, created_at ASC, id ASC
	`, showID)
}

func (s *Store) ListLineItemsByRun(ctx context.Context, runID string) ([]payout.LineItem, error) {
	return s.queryLineItems(ctx, `
		SELECT `+lineItemColumns+` FROM payout_line_items
		WHERE payroll_run_id = ?
		ORDER BY show_id ASC, position ASC
	`, runID)
}

func (s *Store) ListLineItemsByPayee(ctx context.Context, payee generic.PayeeRef) ([]payout.LineItem, error) {
	return s.queryLineItems(ctx, `
		SELECT `+lineItemColumns+` FROM payout_line_items
		WHERE payee = ?
		ORDER BY created_at ASC
	`, payee.String())
}

func (s *Store) queryLineItems(ctx context.Context, query string, args ...any) ([]payout.LineItem, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []payout.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func scanLineItem(row scanner) (payout.LineItem, error) {
	var (
		li                            payout.LineItem
		payee                         sql.NullString
		amount, deduction             string
		details                       sql.NullString
		paidAt, paidBy, method, notes sql.NullString
		runID, guestName, guestHandle sql.NullString
		createdAt, updatedAt          string
	)
	err := row.Scan(
		&li.ID, &li.ShowID, &payee, &li.Source, &amount, &deduction, &details,
		&paidAt, &paidBy, &method, &notes, &li.PaidIndependently, &runID,
		&li.IsGuest, &guestName, &guestHandle, &li.Position, &createdAt, &updatedAt,
	)
	if err != nil {
		return li, err
	}
	li.Payee = parsePayee(payee)
	li.Amount = generic.MustParseDecimal(amount)
	li.AdvanceDeduction = generic.MustParseDecimal(deduction)
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &li.CalculationDetails); err != nil {
			return li, fmt.Errorf("line item %s has malformed details: %w", li.ID, err)
		}
	}
	li.PaidAt = parseTimePtr(paidAt)
	li.PaidBy = paidBy.String
	li.PaymentMethod = method.String
	li.PaymentNotes = notes.String
	li.PayrollRunID = runID.String
	li.GuestName = guestName.String
	li.GuestPaymentHandle = guestHandle.String
	li.CreatedAt = parseTime(createdAt)
	li.UpdatedAt = parseTime(updatedAt)
	return li, nil
}

// =============================================================================
// SCHEMES
// =============================================================================

func (s *Store) SaveScheme(ctx context.Context, sc payout.Scheme) error {
	rules, err := json.Marshal(sc.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode scheme rules: %w", err)
	}
	query := `
		INSERT INTO schemes (id, production_id, name, description, is_default, rules_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_default = excluded.is_default,
			rules_json = excluded.rules_json,
			updated_at = excluded.updated_at
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		sc.ID, sc.ProductionID, sc.Name, nullString(sc.Description), sc.IsDefault, string(rules),
		formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save scheme: %w", err)
	}
	return nil
}

const schemeColumns = `id, production_id, name, description, is_default, rules_json, created_at, updated_at`

func (s *Store) GetScheme(ctx context.Context, id payout.SchemeID) (payout.Scheme, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+schemeColumns+` FROM schemes WHERE id = ?`, id)
	sc, err := scanScheme(row)
	if err != nil {
		return payout.Scheme{}, notFound("scheme", string(id), err)
	}
	return sc, nil
}

// ListSchemes returns the production's schemes followed by shared ones.
func (s *Store) ListSchemes(ctx context.Context, productionID production.ProductionID) ([]payout.Scheme, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+schemeColumns+` FROM schemes
		WHERE production_id = ? OR production_id = ''
		ORDER BY CASE WHEN production_id = '' THEN 1 ELSE 0 END, created_at ASC, id ASC
	`, productionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schemes: %w", err)
	}
	defer rows.Close()

	var schemes []payout.Scheme
	for rows.Next() {
		sc, err := scanScheme(rows)
		if err != nil {
			return nil, err
		}
		schemes = append(schemes, sc)
	}
	return schemes, rows.Err()
}

func scanScheme(row scanner) (payout.Scheme, error) {
	var (
		sc                   payout.Scheme
		description          sql.NullString
		rules                string
		createdAt, updatedAt string
	)
	err := row.Scan(&sc.ID, &sc.ProductionID, &sc.Name, &description, &sc.IsDefault, &rules, &createdAt, &updatedAt)
	if err != nil {
		return sc, err
	}
	sc.Description = description.String
	if err := json.Unmarshal([]byte(rules), &sc.Rules); err != nil {
		return sc, fmt.Errorf("scheme %s has malformed rules: %w", sc.ID, err)
	}
	sc.CreatedAt = parseTime(createdAt)
	sc.UpdatedAt = parseTime(updatedAt)
	return sc, nil
}

// compile-time check
var _ payout.Store = (*Store)(nil)
