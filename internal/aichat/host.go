// ABOUTME: Interfaces for everything the conversation engine consumes from the bot host
// ABOUTME: Notes API, reply subscriptions, timers, friends, providers and enrichment

package aichat

import (
	"context"
	"time"

	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
)

// Notes is the post/read/reply API
type Notes interface {
	ShowNote(ctx context.Context, noteID string) (*misskey.Note, error)
	Conversation(ctx context.Context, noteID string) ([]misskey.Note, error)
	Children(ctx context.Context, noteID string) ([]misskey.Note, error)
	LocalTimeline(ctx context.Context, limit int) ([]misskey.Note, error)
	Reply(ctx context.Context, to *misskey.Note, text string) (*misskey.Note, error)
}

// Subscriptions registers interest in replies to a post
type Subscriptions interface {
	Subscribe(ctx context.Context, anchorPostID, token string) error
	Unsubscribe(ctx context.Context, token string) error
}

// Timers schedules and cancels persisted one-shot timers
type Timers interface {
	Schedule(ctx context.Context, kind string, delay time.Duration, payload any) (string, error)
	Cancel(ctx context.Context, id string) error
}

// Friends looks up the bot's relationship with a user
type Friends interface {
	GetFriend(ctx context.Context, userID string) (*store.Friend, error)
}

// Providers resolves a provider kind to an adapter and its credentials
type Providers interface {
	Resolve(kind provider.Kind, endpoint string) (provider.Provider, provider.Target, error)
}

// Enricher gathers URL context and inline attachments for a turn
type Enricher interface {
	DescribeURLs(ctx context.Context, text string) []string
	Attachments(ctx context.Context, files []misskey.DriveFile) []provider.Attachment
}
