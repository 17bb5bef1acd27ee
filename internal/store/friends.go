// ABOUTME: SQLite persistence for friend affinity
// ABOUTME: Love grows by one per user per day, capped at MaxLove

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetFriend returns the relationship with userID.
// Returns ErrNotFound if the user has never interacted with the bot.
func (s *SQLiteStore) GetFriend(ctx context.Context, userID string) (*Friend, error) {
	var f Friend
	var lastLoveAt sql.NullString
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, love, last_love_at, updated_at
		FROM friends
		WHERE user_id = ?
	`, userID).Scan(&f.UserID, &f.Name, &f.Love, &lastLoveAt, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying friend: %w", err)
	}

	if f.UpdatedAt, err = time.Parse(timeFormat, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastLoveAt.Valid {
		t, err := time.Parse(timeFormat, lastLoveAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_love_at: %w", err)
		}
		f.LastLoveAt = &t
	}
	return &f, nil
}

// TouchFriend records an interaction with userID, updating the display name
// and granting one love point if none was granted yet today.
func (s *SQLiteStore) TouchFriend(ctx context.Context, userID, name string, now time.Time) (*Friend, error) {
	f, err := s.GetFriend(ctx, userID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if f == nil {
		f = &Friend{UserID: userID}
	}

	if name != "" {
		f.Name = name
	}
	if f.LastLoveAt == nil || !sameDay(*f.LastLoveAt, now) {
		if f.Love < MaxLove {
			f.Love++
		}
		t := now
		f.LastLoveAt = &t
	}
	f.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO friends (user_id, name, love, last_love_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			love = excluded.love,
			last_love_at = excluded.last_love_at,
			updated_at = excluded.updated_at
	`,
		f.UserID,
		f.Name,
		f.Love,
		f.LastLoveAt.UTC().Format(timeFormat),
		f.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("saving friend: %w", err)
	}
	return f, nil
}

// SetFriendLove overwrites the love score for userID, creating the friend if needed
func (s *SQLiteStore) SetFriendLove(ctx context.Context, userID string, love int) error {
	if love < 0 {
		love = 0
	}
	if love > MaxLove {
		love = MaxLove
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friends (user_id, love, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			love = excluded.love,
			updated_at = excluded.updated_at
	`, userID, love, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("setting friend love: %w", err)
	}
	return nil
}

// SetFriendName sets what the bot calls userID, creating the friend if needed.
// An empty name clears it.
func (s *SQLiteStore) SetFriendName(ctx context.Context, userID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO friends (user_id, name, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at
	`, userID, name, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("setting friend name: %w", err)
	}
	return nil
}
