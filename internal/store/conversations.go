// ABOUTME: SQLite persistence for open conversations keyed by anchor post id
// ABOUTME: Insert enforces one row per anchor; remove is idempotent

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// FindConversation returns the open conversation anchored at postID.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) FindConversation(ctx context.Context, postID string) (*Conversation, error) {
	query := `
		SELECT anchor_post_id, created_at, provider, endpoint, grounding, from_mention, history_json
		FROM conversations
		WHERE anchor_post_id = ?
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, postID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// InsertConversation stores a new open conversation.
// Returns ErrDuplicateKey if a conversation is already anchored at the same post.
func (s *SQLiteStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	history := conv.History
	if history == nil {
		history = []HistoryEntry{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	query := `
		INSERT INTO conversations (anchor_post_id, created_at, provider, endpoint, grounding, from_mention, history_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		conv.AnchorPostID,
		conv.CreatedAt.UTC().Format(timeFormat),
		conv.Provider,
		conv.Endpoint,
		boolToInt(conv.Grounding),
		boolToInt(conv.FromMention),
		string(historyJSON),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("inserted conversation", "anchor", conv.AnchorPostID, "history", len(history))
	return nil
}

// RemoveConversation deletes the conversation anchored at postID.
// Removing a conversation that does not exist is not an error; removed
// reports whether this call deleted the row.
func (s *SQLiteStore) RemoveConversation(ctx context.Context, postID string) (removed bool, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE anchor_post_id = ?`, postID)
	if err != nil {
		return false, fmt.Errorf("deleting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	s.logger.Debug("removed conversation", "anchor", postID)
	return true, nil
}

// ListConversations returns open conversations, most recent first
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT anchor_post_id, created_at, provider, endpoint, grounding, from_mention, history_json
		FROM conversations
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, historyJSON string
	var grounding, fromMention int

	if err := row.Scan(
		&conv.AnchorPostID,
		&createdAtStr,
		&conv.Provider,
		&conv.Endpoint,
		&grounding,
		&fromMention,
		&historyJSON,
	); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(timeFormat, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.CreatedAt = createdAt
	conv.Grounding = grounding != 0
	conv.FromMention = fromMention != 0

	if err := json.Unmarshal([]byte(historyJSON), &conv.History); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return &conv, nil
}
