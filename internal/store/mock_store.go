// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by anchor post ID
	timers        map[string]*Timer        // keyed by timer ID
	subscriptions map[string]*Subscription // keyed by anchor post ID
	friends       map[string]*Friend       // keyed by user ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		timers:        make(map[string]*Timer),
		subscriptions: make(map[string]*Subscription),
		friends:       make(map[string]*Friend),
	}
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.History = append([]HistoryEntry(nil), c.History...)
	return &out
}

// FindConversation retrieves a conversation by anchor post ID.
func (m *MockStore) FindConversation(ctx context.Context, postID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[postID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// InsertConversation stores a conversation, rejecting duplicate anchors.
func (m *MockStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.AnchorPostID]; exists {
		return ErrDuplicateKey
	}
	m.conversations[conv.AnchorPostID] = copyConversation(conv)
	return nil
}

// RemoveConversation deletes a conversation if present.
func (m *MockStore) RemoveConversation(ctx context.Context, postID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[postID]; !ok {
		return false, nil
	}
	delete(m.conversations, postID)
	return true, nil
}

// ListConversations returns conversations, most recent first.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, copyConversation(c))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ConversationCount returns the number of open conversations.
func (m *MockStore) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// SaveTimer stores a timer.
func (m *MockStore) SaveTimer(ctx context.Context, timer *Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *timer
	t.Payload = append([]byte(nil), timer.Payload...)
	m.timers[t.ID] = &t
	return nil
}

// DeleteTimer removes a timer.
func (m *MockStore) DeleteTimer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timers, id)
	return nil
}

// ListTimers returns all timers ordered by fire time.
func (m *MockStore) ListTimers(ctx context.Context) ([]*Timer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Timer, 0, len(m.timers))
	for _, t := range m.timers {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FireAt.Before(out[j].FireAt)
	})
	return out, nil
}

// SaveSubscription stores a subscription.
func (m *MockStore) SaveSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *sub
	m.subscriptions[s.AnchorPostID] = &s
	return nil
}

// GetSubscription retrieves a subscription by anchor post ID.
func (m *MockStore) GetSubscription(ctx context.Context, anchorPostID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscriptions[anchorPostID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

// DeleteSubscriptionsByToken removes all subscriptions with the given token.
func (m *MockStore) DeleteSubscriptionsByToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for anchor, s := range m.subscriptions {
		if s.Token == token {
			delete(m.subscriptions, anchor)
		}
	}
	return nil
}

// GetFriend retrieves a friend by user ID.
func (m *MockStore) GetFriend(ctx context.Context, userID string) (*Friend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.friends[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *f
	return &c, nil
}

// TouchFriend mirrors SQLiteStore.TouchFriend.
func (m *MockStore) TouchFriend(ctx context.Context, userID, name string, now time.Time) (*Friend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.friends[userID]
	if !ok {
		f = &Friend{UserID: userID}
		m.friends[userID] = f
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

	c := *f
	return &c, nil
}

// SetFriendLove overwrites a friend's love score.
func (m *MockStore) SetFriendLove(ctx context.Context, userID string, love int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if love < 0 {
		love = 0
	}
	if love > MaxLove {
		love = MaxLove
	}
	f, ok := m.friends[userID]
	if !ok {
		f = &Friend{UserID: userID}
		m.friends[userID] = f
	}
	f.Love = love
	f.UpdatedAt = time.Now()
	return nil
}

// SetFriendName overwrites a friend's name.
func (m *MockStore) SetFriendName(ctx context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.friends[userID]
	if !ok {
		f = &Friend{UserID: userID}
		m.friends[userID] = f
	}
	f.Name = name
	f.UpdatedAt = time.Now()
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
