// ABOUTME: Bot runtime that routes Misskey stream events to the conversation engine
// ABOUTME: Wires store, clients, providers, timers and random talk from config

package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/coven-aichat/internal/aichat"
	"github.com/2389/coven-aichat/internal/config"
	"github.com/2389/coven-aichat/internal/dedupe"
	"github.com/2389/coven-aichat/internal/enrich"
	"github.com/2389/coven-aichat/internal/linkpreview"
	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
	"github.com/2389/coven-aichat/internal/timer"
)

// Timeouts for outbound HTTP. Providers get longer since grounded answers are slow.
const (
	apiTimeout      = 30 * time.Second
	providerTimeout = 3 * time.Minute
)

// Note ids are remembered long enough to drop the duplicate reply/mention pair
const (
	dedupeTTL   = 10 * time.Minute
	dedupeLimit = 10_000
)

// Client is the Misskey API the bot drives
type Client interface {
	aichat.Notes
	React(ctx context.Context, noteID, reaction string) error
}

// EventSource delivers stream events until ctx is cancelled
type EventSource interface {
	Run(ctx context.Context, handle misskey.EventHandler) error
}

// Hooks is the conversation engine as the runtime sees it
type Hooks interface {
	OnMention(ctx context.Context, note *misskey.Note) (aichat.Outcome, error)
	OnTrackedReply(ctx context.Context, token string, note *misskey.Note) (aichat.Outcome, error)
}

// Options configures the runtime
type Options struct {
	// SelfID is the bot's own user id
	SelfID string
	// Reaction is added to a note the bot answered; empty disables it
	Reaction string
}

// Deps are the components a Bot runs
type Deps struct {
	Client        Client
	Hooks         Hooks
	Subscriptions *Subscriptions
	Friends       store.FriendStore
	Events        EventSource
	Timers        *timer.Scheduler   // optional
	RandomTalk    *aichat.RandomTalk // nil when random talk is off
	Closer        io.Closer          // closed by Close; usually the store
}

// Bot is the running process
type Bot struct {
	client  Client
	hooks   Hooks
	subs    *Subscriptions
	friends store.FriendStore
	events  EventSource
	timers  *timer.Scheduler
	talk    *aichat.RandomTalk
	closer  io.Closer
	seen    *dedupe.Filter
	opts    Options
	now     func() time.Time
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// New opens the store, identifies the bot account and wires every component from cfg
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	b, err := wire(ctx, cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	return b, nil
}

func wire(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) (*Bot, error) {
	apiHTTP := &http.Client{Timeout: apiTimeout}
	providerHTTP := &http.Client{Timeout: providerTimeout}

	client := misskey.NewClient(cfg.Misskey.Host, cfg.Misskey.Token, apiHTTP, logger)
	me, err := client.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("identifying bot account: %w", err)
	}

	stream, err := misskey.NewStream(cfg.Misskey.Host, cfg.Misskey.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("creating stream: %w", err)
	}

	loc, err := time.LoadLocation(cfg.AIChat.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}

	sched := timer.New(st, logger)
	subs := NewSubscriptions(st)
	tracker := aichat.NewTracker(subs, sched, st, cfg.AIChat.ReplyTimeout, logger)

	registry := provider.NewRegistry(provider.Credentials{
		Gemini:        cfg.AIChat.GeminiAPIKey,
		OpenAI:        cfg.AIChat.OpenAIAPIKey,
		OpenAIBaseURL: cfg.AIChat.OpenAIBaseURL,
		PLaMo:         cfg.AIChat.PLaMoAPIKey,
	}, providerHTTP, logger)

	enricher := enrich.New(linkpreview.New(nil, logger), client, logger)

	svc := aichat.New(aichat.Deps{
		Notes:         client,
		Conversations: st,
		Tracker:       tracker,
		Providers:     registry,
		Enricher:      enricher,
		Friends:       st,
	}, aichat.Options{
		Keyword:              cfg.AIChat.Keyword,
		Prompt:               cfg.AIChat.Prompt,
		Location:             loc,
		AlwaysGroundMentions: cfg.AIChat.AlwaysGroundMentions,
		BotUsername:          me.Username,
	}, logger)
	sched.Handle(aichat.TimeoutKind, svc.OnTimer)

	var talk *aichat.RandomTalk
	if cfg.RandomTalk.Enabled {
		talk = aichat.NewRandomTalk(svc, aichat.RandomTalkOptions{
			Interval:      cfg.RandomTalk.Interval,
			Probability:   cfg.RandomTalk.Probability,
			MinLove:       cfg.RandomTalk.MinLove,
			TimelineLimit: cfg.RandomTalk.TimelineLimit,
			SelfID:        me.ID,
		}, logger)
	}

	logger.Info("bot account identified", "user_id", me.ID, "username", me.Username)

	return newBot(Deps{
		Client:        client,
		Hooks:         svc,
		Subscriptions: subs,
		Friends:       st,
		Events:        stream,
		Timers:        sched,
		RandomTalk:    talk,
		Closer:        st,
	}, Options{
		SelfID:   me.ID,
		Reaction: cfg.Misskey.Reaction,
	}, logger), nil
}

func newBot(deps Deps, opts Options, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		client:  deps.Client,
		hooks:   deps.Hooks,
		subs:    deps.Subscriptions,
		friends: deps.Friends,
		events:  deps.Events,
		timers:  deps.Timers,
		talk:    deps.RandomTalk,
		closer:  deps.Closer,
		seen:    dedupe.New(dedupeTTL, dedupeLimit),
		opts:    opts,
		now:     time.Now,
		logger:  logger.With("component", "bot"),
	}
}

// Run reads the stream and runs timers and random talk until ctx is
// cancelled or the stream or the scheduler fails. It waits for in-flight
// events before returning.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.logger.Info("bot starting", "self_id", b.opts.SelfID, "random_talk", b.talk != nil)

	errCh := make(chan error, 2)
	var loops sync.WaitGroup

	if b.timers != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := b.timers.Run(ctx); err != nil {
				errCh <- fmt.Errorf("timer scheduler: %w", err)
			}
		}()
	}

	if b.talk != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			b.talk.Run(ctx)
		}()
	}

	loops.Add(1)
	go func() {
		defer loops.Done()
		if err := b.events.Run(ctx, b.Dispatch); err != nil {
			errCh <- fmt.Errorf("stream: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		b.logger.Error("bot component failed", "error", runErr)
		cancel()
	}

	loops.Wait()
	b.inflight.Wait()
	b.logger.Info("bot stopped")
	return runErr
}

// Dispatch handles ev on its own goroutine. It matches misskey.EventHandler.
func (b *Bot) Dispatch(ctx context.Context, ev misskey.Event) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		outcome, err := b.HandleEvent(ctx, ev)
		if err != nil {
			b.logger.Error("event failed", "type", ev.Type, "note_id", ev.Note.ID, "outcome", outcome, "error", err)
			return
		}
		b.logger.Debug("event handled", "type", ev.Type, "note_id", ev.Note.ID, "outcome", outcome)
	}()
}

// HandleEvent routes one stream event and reacts to the note when it was answered
func (b *Bot) HandleEvent(ctx context.Context, ev misskey.Event) (aichat.Outcome, error) {
	note := ev.Note
	if note.ID == "" || note.UserID == b.opts.SelfID || note.User.IsBot {
		return aichat.OutcomeIgnored, nil
	}
	if b.seen.Seen(note.ID) {
		b.logger.Debug("duplicate event dropped", "type", ev.Type, "note_id", note.ID)
		return aichat.OutcomeIgnored, nil
	}

	if _, err := b.friends.TouchFriend(ctx, note.UserID, "", b.now()); err != nil {
		b.logger.Warn("failed to update friend", "user_id", note.UserID, "error", err)
	}

	outcome, err := b.route(ctx, ev.Type, &note)

	if outcome == aichat.OutcomeReplied && b.opts.Reaction != "" {
		if rerr := b.client.React(ctx, note.ID, b.opts.Reaction); rerr != nil {
			b.logger.Warn("failed to react", "note_id", note.ID, "error", rerr)
		}
	}
	return outcome, err
}

func (b *Bot) route(ctx context.Context, eventType string, note *misskey.Note) (aichat.Outcome, error) {
	if note.IsReply() {
		token, ok, err := b.subs.Lookup(ctx, *note.ReplyID)
		if err != nil {
			return aichat.OutcomeAborted, err
		}
		if ok {
			return b.hooks.OnTrackedReply(ctx, token, note)
		}
	}
	if eventType == misskey.EventMention {
		return b.hooks.OnMention(ctx, note)
	}
	return aichat.OutcomeIgnored, nil
}

// Close releases the dedupe sweeper and the store
func (b *Bot) Close() error {
	b.seen.Close()
	if b.closer == nil {
		return nil
	}
	if err := b.closer.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
