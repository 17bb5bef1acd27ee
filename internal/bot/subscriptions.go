// ABOUTME: Reply-subscription registry backed by the store
// ABOUTME: Maps a subscribed post to the token its replies are delivered under

package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-aichat/internal/store"
)

// Subscriptions records which posts the bot is waiting for replies under
type Subscriptions struct {
	store store.SubscriptionStore
	now   func() time.Time
}

// NewSubscriptions creates a registry over s
func NewSubscriptions(s store.SubscriptionStore) *Subscriptions {
	return &Subscriptions{store: s, now: time.Now}
}

// Subscribe delivers future replies under anchorPostID with token
func (s *Subscriptions) Subscribe(ctx context.Context, anchorPostID, token string) error {
	return s.store.SaveSubscription(ctx, &store.Subscription{
		AnchorPostID: anchorPostID,
		Token:        token,
		CreatedAt:    s.now(),
	})
}

// Unsubscribe drops every subscription carrying token
func (s *Subscriptions) Unsubscribe(ctx context.Context, token string) error {
	return s.store.DeleteSubscriptionsByToken(ctx, token)
}

// Lookup returns the token for replies under parentID, if any
func (s *Subscriptions) Lookup(ctx context.Context, parentID string) (string, bool, error) {
	sub, err := s.store.GetSubscription(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up subscription: %w", err)
	}
	return sub.Token, true, nil
}
