package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/payout-engine/generic"
	"github.com/warp/payout-engine/production"
)

// =============================================================================
// SHOWS (production.Source)
// =============================================================================

// SaveShow inserts or replaces a show and its totals.
func (s *Store) SaveShow(ctx context.Context, show production.Show) error {
	eventType := show.EventType
	if eventType == "" {
		eventType = "show"
	}
	query := `
		INSERT INTO shows (id, production_id, name, date, event_type, canceled, non_revenue,
			revenue, expenses, ticket_count, confirmed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			production_id = excluded.production_id,
			name = excluded.name,
			date = excluded.date,
			event_type = excluded.event_type,
			canceled = excluded.canceled,
			non_revenue = excluded.non_revenue,
			revenue = excluded.revenue,
			expenses = excluded.expenses,
			ticket_count = excluded.ticket_count,
			confirmed = excluded.confirmed
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		show.ID, show.ProductionID, show.Name, generic.DateOf(show.Date.Time).String(), eventType,
		show.Canceled, show.NonRevenue,
		show.Financials.Revenue.String(), show.Financials.Expenses.String(),
		show.Financials.TicketCount, show.Financials.Confirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to save show: %w", err)
	}
	return nil
}

const showColumns = `id, production_id, name, date, event_type, canceled, non_revenue,
	revenue, expenses, ticket_count, confirmed`

func (s *Store) GetShow(ctx context.Context, id production.ShowID) (production.Show, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id)
	show, err := scanShow(row)
	if err != nil {
		return production.Show{}, notFound("show", string(id), err)
	}
	return show, nil
}

// ListShows returns shows ordered by date, then ID.
func (s *Store) ListShows(ctx context.Context, filter production.ShowFilter) ([]production.Show, error) {
	var where []string
	var args []any
	if filter.ProductionID != "" {
		where = append(where, "production_id = ?")
		args = append(args, filter.ProductionID)
	}
	if filter.Period != nil {
		where = append(where, "date >= ? AND date <= ?")
		args = append(args, generic.DateOf(filter.Period.Start.Time).String(), generic.DateOf(filter.Period.End.Time).String())
	}
	query := `SELECT ` + showColumns + ` FROM shows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shows: %w", err)
	}
	defer rows.Close()

	var shows []production.Show
	for rows.Next() {
		show, err := scanShow(rows)
		if err != nil {
			return nil, err
		}
		shows = append(shows, show)
	}
	return shows, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShow(row scanner) (production.Show, error) {
	var (
		show              production.Show
		date              sql.NullString
		revenue, expenses string
	)
	err := row.Scan(
		&show.ID, &show.ProductionID, &show.Name, &date, &show.EventType,
		&show.Canceled, &show.NonRevenue, &revenue, &expenses,
		&show.Financials.TicketCount, &show.Financials.Confirmed,
	)
	if err != nil {
		return show, err
	}
	show.Date = parseDate(date)
	show.Financials.Revenue = generic.MustParseDecimal(revenue)
	show.Financials.Expenses = generic.MustParseDecimal(expenses)
	return show, nil
}

// =============================================================================
// ROSTER
// =============================================================================

// SetRoster replaces a show's roster.
func (s *Store) SetRoster(ctx context.Context, showID production.ShowID, roster []production.RosterEntry) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		db := s.conn(ctx)
		if _, err := db.ExecContext(ctx, "DELETE FROM roster_entries WHERE show_id = ?", showID); err != nil {
			return fmt.Errorf("failed to clear roster: %w", err)
		}
		for i, e := range roster {
			position := e.Position
			if position == 0 {
				position = i + 1
			}
			_, err := db.ExecContext(ctx, `
				INSERT INTO roster_entries (show_id, position, payee, is_guest, guest_name, guest_payment_handle)
				VALUES (?, ?, ?, ?, ?, ?)
			`, showID, position, nullString(e.Payee.String()), e.IsGuest, nullString(e.GuestName), nullString(e.GuestPaymentHandle))
			if err != nil {
				return fmt.Errorf("failed to save roster entry: %w", err)
			}
		}
		return nil
	})
}

// Roster returns the show's roster ordered by position.
func (s *Store) Roster(ctx context.Context, showID production.ShowID) ([]production.RosterEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT position, payee, is_guest, guest_name, guest_payment_handle
		FROM roster_entries
		WHERE show_id = ?
		ORDER BY position ASC
	`, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roster: %w", err)
	}
	defer rows.Close()

	var roster []production.RosterEntry
	for rows.Next() {
		var (
			e                       production.RosterEntry
			payee, guestName, guest sql.NullString
		)
		if err := rows.Scan(&e.Position, &payee, &e.IsGuest, &guestName, &guest); err != nil {
			return nil, err
		}
		e.Payee = parsePayee(payee)
		e.GuestName = guestName.String
		e.GuestPaymentHandle = guest.String
		roster = append(roster, e)
	}
	return roster, rows.Err()
}

// =============================================================================
// PEOPLE & GROUPS (generic.PayeeDirectory)
// =============================================================================

func (s *Store) SavePerson(ctx context.Context, p production.Person) error {
	handles, _ := json.Marshal(p.Handles)
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO people (id, name, email, handles_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			handles_json = excluded.handles_json
	`, p.ID, p.Name, nullString(p.Email), string(handles))
	return err
}

func (s *Store) GetPerson(ctx context.Context, id string) (production.Person, error) {
	var (
		p       production.Person
		email   sql.NullString
		handles sql.NullString
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		"SELECT id, name, email, handles_json FROM people WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &email, &handles)
	if err != nil {
		return production.Person{}, notFound("person", id, err)
	}
	p.Email = email.String
	if handles.Valid && handles.String != "" {
		json.Unmarshal([]byte(handles.String), &p.Handles)
	}
	return p, nil
}

func (s *Store) ListPeople(ctx context.Context) ([]production.Person, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, "SELECT id FROM people ORDER BY name")
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	people := make([]production.Person, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPerson(ctx, id)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, nil
}

func (s *Store) SaveGroup(ctx context.Context, g production.Group) error {
	members, _ := json.Marshal(g.MemberIDs)
	handles, _ := json.Marshal(g.Handles)
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO payee_groups (id, name, member_ids_json, handles_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			member_ids_json = excluded.member_ids_json,
			handles_json = excluded.handles_json
	`, g.ID, g.Name, string(members), string(handles))
	return err
}

func (s *Store) GetGroup(ctx context.Context, id string) (production.Group, error) {
	var (
		g                production.Group
		members, handles sql.NullString
	)
	err := s.conn(ctx).QueryRowContext(ctx,
		"SELECT id, name, member_ids_json, handles_json FROM payee_groups WHERE id = ?", id,
	).Scan(&g.ID, &g.Name, &members, &handles)
	if err != nil {
		return production.Group{}, notFound("group", id, err)
	}
	if members.Valid && members.String != "" {
		json.Unmarshal([]byte(members.String), &g.MemberIDs)
	}
	if handles.Valid && handles.String != "" {
		json.Unmarshal([]byte(handles.String), &g.Handles)
	}
	return g, nil
}

// Payee resolves a reference to its person or group.
func (s *Store) Payee(ctx context.Context, ref generic.PayeeRef) (generic.Payee, error) {
	switch ref.Kind {
	case production.PayeePerson:
		return s.GetPerson(ctx, ref.ID)
	case production.PayeeGroup:
		return s.GetGroup(ctx, ref.ID)
	default:
		return nil, &generic.NotFoundError{Kind: "payee", ID: ref.String()}
	}
}

// compile-time checks
var (
	_ production.Source      = (*Store)(nil)
	_ generic.PayeeDirectory = (*Store)(nil)
)
