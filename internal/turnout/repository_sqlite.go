package turnout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeFormat sorts lexically in the same order as time.
	historyTimeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteRepository implements Repository on the turnouts and
// turnout_state_history tables.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// UpsertTurnout implements Repository.
func (r *SQLiteRepository) UpsertTurnout(ctx context.Context, rec Record) error {
	if rec.Address < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, rec.Address)
	}
	known := ""
	if rec.KnownState == Closed || rec.KnownState == Thrown {
		known = rec.KnownState.String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO turnouts (address, name, feedback_mode, inverted, known_state)
		 VALUES (?, ?, ?, ?, COALESCE(NULLIF(?, ''), 'unknown'))
		 ON CONFLICT(address) DO UPDATE SET
		     name = excluded.name,
		     feedback_mode = excluded.feedback_mode,
		     inverted = excluded.inverted,
		     known_state = CASE WHEN ? = '' THEN turnouts.known_state ELSE excluded.known_state END,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')`,
		rec.Address,
		rec.Name,
		rec.FeedbackMode.String(),
		boolToInt(rec.Inverted),
		known,
		known,
	)
	if err != nil {
		return fmt.Errorf("upserting turnout %d: %w", rec.Address, err)
	}
	return nil
}

// GetTurnout implements Repository.
func (r *SQLiteRepository) GetTurnout(ctx context.Context, address int) (Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT address, name, feedback_mode, inverted, known_state, created_at, updated_at
		 FROM turnouts WHERE address = ?`,
		address,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %d", ErrNotFound, address)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListTurnouts implements Repository.
func (r *SQLiteRepository) ListTurnouts(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT address, name, feedback_mode, inverted, known_state, created_at, updated_at
		 FROM turnouts ORDER BY address`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turnouts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turnouts: %w", err)
	}
	return out, nil
}

// DeleteTurnout implements Repository.
func (r *SQLiteRepository) DeleteTurnout(ctx context.Context, address int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM turnouts WHERE address = ?", address)
	if err != nil {
		return fmt.Errorf("deleting turnout %d: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, address)
	}
	return nil
}

// UpdateKnownState implements Repository. Only Closed and Thrown are stored.
func (r *SQLiteRepository) UpdateKnownState(ctx context.Context, address int, s State) error {
	if s != Closed && s != Thrown {
		return nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE turnouts
		 SET known_state = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		 WHERE address = ?`,
		s.String(),
		address,
	)
	if err != nil {
		return fmt.Errorf("updating known state of %d: %w", address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, address)
	}
	return nil
}

// RecordStateChange implements Repository.
func (r *SQLiteRepository) RecordStateChange(ctx context.Context, entry HistoryEntry) error {
	if entry.Property == "" {
		return fmt.Errorf("history property is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO turnout_state_history (address, property, old_value, new_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Address,
		string(entry.Property),
		entry.OldValue,
		entry.NewValue,
		createdAt.UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting turnout history: %w", err)
	}
	return nil
}

// GetHistory implements Repository. limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) GetHistory(ctx context.Context, address int, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, address, property, old_value, new_value, created_at
		 FROM turnout_state_history
		 WHERE address = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		address,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turnout history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var property, createdAt string
		if err := rows.Scan(&e.ID, &e.Address, &property, &e.OldValue, &e.NewValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turnout history: %w", err)
		}
		e.Property = Property(property)
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turnout history: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec                  Record
		mode, known          string
		inverted             int
		createdAt, updatedAt string
	)
	if err := s.Scan(&rec.Address, &rec.Name, &mode, &inverted, &known, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scanning turnout: %w", err)
	}

	m, err := ParseFeedbackMode(mode)
	if err != nil {
		return Record{}, fmt.Errorf("turnout %d: %w", rec.Address, err)
	}
	rec.FeedbackMode = m
	rec.Inverted = inverted != 0
	rec.KnownState = stateFromString(known)

	if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Record{}, err
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// parseTimestamp parses a timestamp written by SQLite or by this package.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return ts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
