// ABOUTME: Random talk: the bot occasionally joins a timeline note without being asked
// ABOUTME: Gated by candidate filters, threads already in play, a probability draw and affinity

package aichat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
)

// Random talk defaults
const (
	DefaultRandomTalkInterval    = 12 * time.Hour
	DefaultRandomTalkProbability = 0.02
	DefaultRandomTalkMinLove     = 7
	DefaultRandomTalkTimeline    = 30
)

// RandomTalkOptions configures RandomTalk. Zero fields use the defaults,
// except Probability where zero disables random talk.
type RandomTalkOptions struct {
	Interval      time.Duration
	Probability   float64
	MinLove       int
	TimelineLimit int
	// SelfID is the bot's user id; the bot never answers itself
	SelfID string
}

// Random is the randomness RandomTalk draws from
type Random interface {
	Float64() float64
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }
func (globalRandom) IntN(n int) int   { return rand.IntN(n) }

// turnRunner runs a conversation turn
type turnRunner interface {
	HandleTurn(ctx context.Context, rec *store.Conversation, note *misskey.Note) (Outcome, error)
}

// RandomTalk periodically starts a conversation on a timeline note
type RandomTalk struct {
	notes   Notes
	convs   store.ConversationStore
	friends Friends
	turns   turnRunner
	opts    RandomTalkOptions
	rand    Random
	now     func() time.Time
	logger  *slog.Logger
}

// NewRandomTalk creates a RandomTalk that hands selected notes to svc
func NewRandomTalk(svc *Service, opts RandomTalkOptions, logger *slog.Logger) *RandomTalk {
	return newRandomTalk(svc.notes, svc.convs, svc.friends, svc, opts, globalRandom{}, logger)
}

func newRandomTalk(notes Notes, convs store.ConversationStore, friends Friends, turns turnRunner, opts RandomTalkOptions, r Random, logger *slog.Logger) *RandomTalk {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRandomTalkInterval
	}
	if opts.MinLove <= 0 {
		opts.MinLove = DefaultRandomTalkMinLove
	}
	if opts.TimelineLimit <= 0 {
		opts.TimelineLimit = DefaultRandomTalkTimeline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RandomTalk{
		notes:   notes,
		convs:   convs,
		friends: friends,
		turns:   turns,
		opts:    opts,
		rand:    r,
		now:     time.Now,
		logger:  logger.With("component", "aichat.randomtalk"),
	}
}

// Run ticks every interval until ctx is cancelled
func (r *RandomTalk) Run(ctx context.Context) {
	r.logger.Info("random talk started", "interval", r.opts.Interval, "probability", r.opts.Probability, "min_love", r.opts.MinLove)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("random talk stopped")
			return
		case <-ticker.C:
			outcome, err := r.Tick(ctx)
			if err != nil {
				r.logger.Warn("random talk tick failed", "outcome", outcome, "error", err)
				continue
			}
			r.logger.Debug("random talk tick", "outcome", outcome)
		}
	}
}

// Tick makes one attempt. Every gate that rejects returns OutcomeIgnored.
func (r *RandomTalk) Tick(ctx context.Context) (Outcome, error) {
	timeline, err := r.notes.LocalTimeline(ctx, r.opts.TimelineLimit)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("fetching timeline: %w", err)
	}

	candidates := r.candidates(timeline)
	if len(candidates) == 0 {
		return OutcomeIgnored, nil
	}
	chosen := candidates[r.rand.IntN(len(candidates))]

	inPlay, err := r.inPlay(ctx, chosen.ID)
	if err != nil {
		return OutcomeAborted, err
	}
	if inPlay {
		r.logger.Debug("chosen note is already in a conversation", "note_id", chosen.ID)
		return OutcomeIgnored, nil
	}

	if r.rand.Float64() >= r.opts.Probability {
		return OutcomeIgnored, nil
	}

	friend, err := r.friends.GetFriend(ctx, chosen.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeIgnored, nil
	}
	if err != nil {
		return OutcomeAborted, fmt.Errorf("looking up friend: %w", err)
	}
	if friend.Love < r.opts.MinLove {
		r.logger.Debug("not enough affinity", "user_id", chosen.UserID, "love", friend.Love)
		return OutcomeIgnored, nil
	}
	if chosen.User.IsBot {
		return OutcomeIgnored, nil
	}

	note, err := r.notes.ShowNote(ctx, chosen.ID)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("fetching chosen note: %w", err)
	}

	r.logger.Info("random talk targeted", "note_id", chosen.ID, "user_id", chosen.UserID)
	rec := &store.Conversation{
		AnchorPostID: chosen.ID,
		CreatedAt:    r.now(),
		Provider:     string(provider.KindGemini),
		FromMention:  false,
	}
	return r.turns.HandleTurn(ctx, rec, note)
}

// candidates keeps plain public notes by people other than the bot
func (r *RandomTalk) candidates(timeline []misskey.Note) []misskey.Note {
	var out []misskey.Note
	for _, n := range timeline {
		if n.UserID == r.opts.SelfID {
			continue
		}
		if n.TextValue() == "" || n.IsReply() || n.IsRenote() || n.HasCW() {
			continue
		}
		if len(n.Files) > 0 || n.User.IsBot {
			continue
		}
		out = append(out, n)
	}
	return out
}

// inPlay reports whether the note, one of its replies, or one of its
// ancestors already anchors an open conversation
func (r *RandomTalk) inPlay(ctx context.Context, noteID string) (bool, error) {
	hit, err := r.anchored(ctx, noteID)
	if err != nil || hit {
		return hit, err
	}

	children, err := r.notes.Children(ctx, noteID)
	if err != nil {
		return false, fmt.Errorf("fetching children: %w", err)
	}
	for _, c := range children {
		if hit, err := r.anchored(ctx, c.ID); err != nil || hit {
			return hit, err
		}
	}

	ancestors, err := r.notes.Conversation(ctx, noteID)
	if err != nil {
		return false, fmt.Errorf("fetching conversation: %w", err)
	}
	for _, a := range ancestors {
		if hit, err := r.anchored(ctx, a.ID); err != nil || hit {
			return hit, err
		}
	}
	return false, nil
}

func (r *RandomTalk) anchored(ctx context.Context, noteID string) (bool, error) {
	_, err := r.convs.FindConversation(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finding conversation: %w", err)
	}
	return true, nil
}
