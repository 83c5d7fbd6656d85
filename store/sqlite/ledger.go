package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payout-engine/generic"
)

// =============================================================================
// LEDGER STORE (generic.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e generic.Entry) error {
	return s.appendEntry(ctx, s.conn(ctx), e)
}

func (s *Store) appendEntry(ctx context.Context, db querier, e generic.Entry) error {
	var metadataJSON sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode entry metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = generic.Now()
	}

	query := `
		INSERT INTO ledger_entries
		(id, account_id, entity_id, effective_at, delta, entry_type, reference_id,
		 reverses, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		e.ID,
		e.AccountID,
		e.EntityID,
		formatTime(e.EffectiveAt.Time),
		e.Delta.String(),
		e.Type,
		nullString(e.ReferenceID),
		nullString(string(e.Reverses)),
		nullString(e.Reason),
		nullString(e.IdempotencyKey),
		metadataJSON,
		nullString(e.CreatedBy),
		formatTime(createdAt.Time),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// AppendBatch adds multiple entries atomically.
func (s *Store) AppendBatch(ctx context.Context, entries []generic.Entry) error {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IdempotencyKey == "" {
			continue
		}
		if seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, e := range entries {
			if err := s.appendEntry(ctx, s.conn(ctx), e); err != nil {
				return err
			}
		}
		return nil
	})
}

const entryColumns = `id, account_id, entity_id, effective_at, delta, entry_type, reference_id,
	reverses, reason, idempotency_key, metadata_json, created_by, created_at`

// Load returns all entries for an account, oldest first.
func (s *Store) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY effective_at ASC, rowid ASC
	`, accountID)
}

// LoadByReference returns every entry recorded against a reference.
func (s *Store) LoadByReference(ctx context.Context, referenceID string) ([]generic.Entry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE reference_id = ?
		ORDER BY effective_at ASC, rowid ASC
	`, referenceID)
}

// Exists checks if an idempotency key exists.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := s.conn(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]generic.Entry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.Entry, error) {
	var (
		e              generic.Entry
		effectiveAt    string
		delta          string
		referenceID    sql.NullString
		reverses       sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&e.ID, &e.AccountID, &e.EntityID, &effectiveAt, &delta, &e.Type,
		&referenceID, &reverses, &reason, &idempotencyKey, &metadataJSON,
		&createdBy, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.EffectiveAt = generic.InstantOf(parseTime(effectiveAt))
	e.Delta, err = decimal.NewFromString(delta)
	if err != nil {
		return e, fmt.Errorf("entry %s has malformed delta %q: %w", e.ID, delta, err)
	}
	e.ReferenceID = referenceID.String
	e.Reverses = generic.EntryID(reverses.String)
	e.Reason = reason.String
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedBy = createdBy.String
	e.CreatedAt = generic.InstantOf(parseTime(createdAt))

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("entry %s has malformed metadata: %w", e.ID, err)
		}
	}
	return e, nil
}
