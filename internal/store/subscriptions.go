// ABOUTME: SQLite persistence for reply subscriptions
// ABOUTME: Maps an anchor post to the token handed back when a reply arrives

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveSubscription registers (or re-registers) interest in replies under an anchor
func (s *SQLiteStore) SaveSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO reply_subscriptions (anchor_post_id, token, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(anchor_post_id) DO UPDATE SET token = excluded.token
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.AnchorPostID,
		sub.Token,
		sub.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the subscription for an anchor post.
// Returns ErrNotFound if nobody is waiting on it.
func (s *SQLiteStore) GetSubscription(ctx context.Context, anchorPostID string) (*Subscription, error) {
	var sub Subscription
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT anchor_post_id, token, created_at
		FROM reply_subscriptions
		WHERE anchor_post_id = ?
	`, anchorPostID).Scan(&sub.AnchorPostID, &sub.Token, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}

	if sub.CreatedAt, err = time.Parse(timeFormat, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &sub, nil
}

// DeleteSubscriptionsByToken drops every subscription registered under token.
// Unknown tokens are not an error.
func (s *SQLiteStore) DeleteSubscriptionsByToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reply_subscriptions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("deleting subscriptions: %w", err)
	}
	return nil
}
