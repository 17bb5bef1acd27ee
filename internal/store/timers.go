// ABOUTME: SQLite persistence for one-shot timers
// ABOUTME: Rows are reloaded on startup so pending timers survive a restart

package store

import (
	"context"
	"fmt"
	"time"
)

// SaveTimer persists a timer. Saving an existing id replaces it.
func (s *SQLiteStore) SaveTimer(ctx context.Context, timer *Timer) error {
	query := `
		INSERT INTO timers (id, kind, fire_at, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			fire_at = excluded.fire_at,
			payload = excluded.payload
	`

	_, err := s.db.ExecContext(ctx, query,
		timer.ID,
		timer.Kind,
		timer.FireAt.UTC().Format(timeFormat),
		string(timer.Payload),
		timer.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving timer: %w", err)
	}
	return nil
}

// DeleteTimer removes a timer. Deleting an unknown id is not an error.
func (s *SQLiteStore) DeleteTimer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting timer: %w", err)
	}
	return nil
}

// ListTimers returns every persisted timer ordered by fire time
func (s *SQLiteStore) ListTimers(ctx context.Context) ([]*Timer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, fire_at, payload, created_at
		FROM timers
		ORDER BY fire_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying timers: %w", err)
	}
	defer rows.Close()

	var timers []*Timer
	for rows.Next() {
		var t Timer
		var fireAtStr, payload, createdAtStr string
		if err := rows.Scan(&t.ID, &t.Kind, &fireAtStr, &payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning timer: %w", err)
		}
		if t.FireAt, err = time.Parse(timeFormat, fireAtStr); err != nil {
			return nil, fmt.Errorf("parsing fire_at: %w", err)
		}
		if t.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		t.Payload = []byte(payload)
		timers = append(timers, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating timers: %w", err)
	}
	return timers, nil
}
