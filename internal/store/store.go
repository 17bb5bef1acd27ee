// ABOUTME: Store interfaces and data types for coven-aichat persistence
// ABOUTME: Defines Conversation, Timer, Subscription, Friend and the per-concern store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert would create a second row for a unique key
var ErrDuplicateKey = errors.New("duplicate key")

// History roles
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// HistoryEntry is one message of a conversation's rolling history
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an open conversation awaiting a reply under AnchorPostID.
// At most one row exists per anchor.
type Conversation struct {
	AnchorPostID string
	CreatedAt    time.Time
	Provider     string // provider kind; empty means unset
	Endpoint     string // variant override; empty means provider default
	Grounding    bool
	FromMention  bool
	History      []HistoryEntry
}

// Timer is a persisted one-shot timer
type Timer struct {
	ID        string
	Kind      string
	FireAt    time.Time
	Payload   []byte
	CreatedAt time.Time
}

// Subscription registers interest in replies posted under AnchorPostID
type Subscription struct {
	AnchorPostID string
	Token        string
	CreatedAt    time.Time
}

// Friend is the host-maintained relationship with a user
type Friend struct {
	UserID     string
	Name       string
	Love       int
	LastLoveAt *time.Time
	UpdatedAt  time.Time
}

// ConversationStore persists open conversations keyed by anchor post id
type ConversationStore interface {
	FindConversation(ctx context.Context, postID string) (*Conversation, error)
	InsertConversation(ctx context.Context, conv *Conversation) error
	// RemoveConversation reports whether this call deleted the row, so at
	// most one of several concurrent callers claims a conversation.
	RemoveConversation(ctx context.Context, postID string) (bool, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
}

// TimerStore persists one-shot timers so they survive restarts
type TimerStore interface {
	SaveTimer(ctx context.Context, timer *Timer) error
	DeleteTimer(ctx context.Context, id string) error
	ListTimers(ctx context.Context) ([]*Timer, error)
}

// SubscriptionStore persists reply subscriptions
type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, anchorPostID string) (*Subscription, error)
	DeleteSubscriptionsByToken(ctx context.Context, token string) error
}

// FriendStore persists per-user affinity
type FriendStore interface {
	GetFriend(ctx context.Context, userID string) (*Friend, error)
	TouchFriend(ctx context.Context, userID, name string, now time.Time) (*Friend, error)
	SetFriendLove(ctx context.Context, userID string, love int) error
	SetFriendName(ctx context.Context, userID, name string) error
}

// Store is everything the bot persists
type Store interface {
	ConversationStore
	TimerStore
	SubscriptionStore
	FriendStore

	// Close releases any resources held by the store
	Close() error
}

// MaxLove caps a friend's affinity score
const MaxLove = 100

// sameDay reports whether a and b fall on the same calendar day in UTC
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// timeFormat is fixed-width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
