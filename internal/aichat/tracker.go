// ABOUTME: Arms and disarms the reply subscription and timeout timer for an open conversation
// ABOUTME: Timeouts evict the conversation; a failed Arm leaves neither timer nor subscription behind

package aichat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-aichat/internal/store"
)

// TimeoutKind is the timer kind used for conversation timeouts
const TimeoutKind = "aichat.timeout"

// DefaultReplyTimeout is how long the bot waits for a reply
const DefaultReplyTimeout = 30 * time.Minute

// timeoutPayload is the whole state a timeout timer carries
type timeoutPayload struct {
	ID string `json:"id"`
}

// Tracker pairs each open conversation with a reply subscription and a timeout
type Tracker struct {
	subs    Subscriptions
	timers  Timers
	convs   store.ConversationStore
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	timerIDs map[string]string // post id -> timer id, this process only
}

// NewTracker creates a Tracker. A zero timeout uses DefaultReplyTimeout.
func NewTracker(subs Subscriptions, timers Timers, convs store.ConversationStore, timeout time.Duration, logger *slog.Logger) *Tracker {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		subs:    subs,
		timers:  timers,
		convs:   convs,
		timeout:  timeout,
		logger:   logger.With("component", "aichat.tracker"),
		timerIDs: make(map[string]string),
	}
}

// Arm starts the timeout for postID and subscribes to replies under it.
// The subscription token is the post id itself. On error nothing stays armed.
func (t *Tracker) Arm(ctx context.Context, postID string) error {
	timerID, err := t.timers.Schedule(ctx, TimeoutKind, t.timeout, timeoutPayload{ID: postID})
	if err != nil {
		return fmt.Errorf("scheduling timeout: %w", err)
	}
	if err := t.subs.Subscribe(ctx, postID, postID); err != nil {
		if cerr := t.timers.Cancel(ctx, timerID); cerr != nil {
			t.logger.Warn("failed to cancel timeout after subscribe error", "post_id", postID, "error", cerr)
		}
		return fmt.Errorf("subscribing to replies: %w", err)
	}

	t.mu.Lock()
	t.timerIDs[postID] = timerID
	t.mu.Unlock()

	t.logger.Debug("conversation armed", "post_id", postID, "timeout", t.timeout)
	return nil
}

// Disarm drops the reply subscription for postID and cancels its timeout
// when this process armed it. It is safe to call when not armed; a timeout
// armed before a restart still fires and finds nothing to evict.
func (t *Tracker) Disarm(ctx context.Context, postID string) error {
	if err := t.subs.Unsubscribe(ctx, postID); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	if timerID, ok := t.takeTimer(postID); ok {
		if err := t.timers.Cancel(ctx, timerID); err != nil {
			return fmt.Errorf("cancelling timeout: %w", err)
		}
	}
	return nil
}

func (t *Tracker) takeTimer(postID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.timerIDs[postID]
	delete(t.timerIDs, postID)
	return id, ok
}

// OnTimeout handles a fired timeout timer: it disarms the post and evicts
// its conversation if one is still stored.
func (t *Tracker) OnTimeout(ctx context.Context, payload json.RawMessage) error {
	var p timeoutPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding timeout payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("timeout payload has no id")
	}

	// the timer has already fired, so only the bookkeeping goes
	t.takeTimer(p.ID)
	if err := t.subs.Unsubscribe(ctx, p.ID); err != nil {
		return fmt.Errorf("unsubscribing: %w", err)
	}
	removed, err := t.convs.RemoveConversation(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("removing conversation: %w", err)
	}
	if removed {
		t.logger.Info("conversation timed out", "post_id", p.ID)
	}
	return nil
}
