// ABOUTME: Turn orchestrator for AI conversations
// ABOUTME: Validates, resolves the provider, enriches, dispatches, persists and re-arms one exchange

package aichat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
)

// MaxHistory is how many history entries a conversation keeps
const MaxHistory = 10

// Outcome is how a hook or turn ended
type Outcome int

const (
	// OutcomeIgnored means the event was not for this engine
	OutcomeIgnored Outcome = iota
	// OutcomeNotFound means a reply matched no open conversation
	OutcomeNotFound
	// OutcomeAborted means the turn stopped before replying and changed nothing
	OutcomeAborted
	// OutcomeFailed means a notice was posted instead of an answer and nothing was persisted
	OutcomeFailed
	// OutcomeReplied means an answer was posted
	OutcomeReplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	case OutcomeReplied:
		return "replied"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures the Service
type Options struct {
	// Keyword must appear in a mention to start a conversation; empty accepts every mention
	Keyword string
	// Prompt is the persona prompt sent with every turn
	Prompt string
	// Location renders the current time for the model; nil means UTC
	Location             *time.Location
	AlwaysGroundMentions bool
	// BotUsername is stripped from mentions before the text is used
	BotUsername string
}

// Deps are the collaborators the Service drives
type Deps struct {
	Notes         Notes
	Conversations store.ConversationStore
	Tracker       *Tracker
	Providers     Providers
	Enricher      Enricher
	Friends       Friends
}

// Service is the entry point for every conversation event
type Service struct {
	notes     Notes
	convs     store.ConversationStore
	tracker   *Tracker
	providers Providers
	enricher  Enricher
	friends   Friends
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Service
func New(deps Deps, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		notes:     deps.Notes,
		convs:     deps.Conversations,
		tracker:   deps.Tracker,
		providers: deps.Providers,
		enricher:  deps.Enricher,
		friends:   deps.Friends,
		opts:      opts,
		now:       time.Now,
		logger:    logger.With("component", "aichat"),
	}
}

// OnMention starts a conversation for a note that mentions the bot.
// Notes inside a conversation that is already open are left to OnTrackedReply.
func (s *Service) OnMention(ctx context.Context, note *misskey.Note) (Outcome, error) {
	text := misskey.ExtractedText(note.TextValue(), s.opts.BotUsername)
	if s.opts.Keyword != "" && !misskey.Includes(text, s.opts.Keyword) {
		return OutcomeIgnored, nil
	}

	open, err := s.findInAncestry(ctx, note.ID)
	if err != nil {
		return OutcomeAborted, err
	}
	if open != nil {
		s.logger.Debug("mention is inside an open conversation", "note_id", note.ID, "anchor", open.AnchorPostID)
		return OutcomeIgnored, nil
	}

	rec := &store.Conversation{
		AnchorPostID: note.ID,
		CreatedAt:    s.now(),
		FromMention:  true,
	}

	if quoteID := note.QuoteID(); quoteID != "" {
		quoted, err := s.notes.ShowNote(ctx, quoteID)
		if err != nil {
			s.logger.Warn("failed to fetch quoted note", "quote_id", quoteID, "error", err)
		} else if qt := quoted.TextValue(); qt != "" {
			rec.History = []store.HistoryEntry{{
				Role:    store.RoleUser,
				Content: "Background the user supplied by quoting a note: " + qt,
			}}
		}
	}

	s.logger.Info("conversation requested", "note_id", note.ID, "user_id", note.UserID)
	return s.HandleTurn(ctx, rec, note)
}

// OnTrackedReply continues the conversation a reply belongs to. token is
// the subscription token the reply arrived under.
func (s *Service) OnTrackedReply(ctx context.Context, token string, note *misskey.Note) (Outcome, error) {
	if note.TextValue() == "" {
		return OutcomeIgnored, nil
	}

	rec, err := s.findInAncestry(ctx, note.ID)
	if err != nil {
		return OutcomeAborted, err
	}
	if rec == nil {
		s.logger.Debug("reply matches no open conversation", "note_id", note.ID)
		return OutcomeNotFound, nil
	}

	// Removing is the claim: of several replies racing on one record, only
	// the one that deletes it continues the conversation.
	removed, err := s.convs.RemoveConversation(ctx, rec.AnchorPostID)
	if err != nil {
		return OutcomeAborted, fmt.Errorf("removing conversation: %w", err)
	}
	if !removed {
		s.logger.Debug("conversation already taken", "note_id", note.ID, "anchor", rec.AnchorPostID)
		return OutcomeNotFound, nil
	}

	s.disarm(ctx, rec.AnchorPostID)
	if token != rec.AnchorPostID {
		s.disarm(ctx, token)
	}

	return s.HandleTurn(ctx, rec, note)
}

// OnTimer handles a fired conversation timeout
func (s *Service) OnTimer(ctx context.Context, payload json.RawMessage) error {
	return s.tracker.OnTimeout(ctx, payload)
}

// findInAncestry returns the open conversation anchored on any ancestor of
// noteID, nearest first, or nil when there is none.
func (s *Service) findInAncestry(ctx context.Context, noteID string) (*store.Conversation, error) {
	ancestors, err := s.notes.Conversation(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}
	for _, a := range ancestors {
		rec, err := s.convs.FindConversation(ctx, a.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("finding conversation: %w", err)
		}
		return rec, nil
	}
	return nil, nil
}

// HandleTurn runs one exchange for rec in reply to note. rec must already
// be absent from the store; on success a new record keyed on the bot's
// reply is inserted and armed.
func (s *Service) HandleTurn(ctx context.Context, rec *store.Conversation, note *misskey.Note) (Outcome, error) {
	logger := s.logger.With("note_id", note.ID)

	// Validating
	text := misskey.ExtractedText(note.TextValue(), s.opts.BotUsername)
	if text == "" {
		logger.Debug("turn aborted: empty text")
		return OutcomeAborted, nil
	}

	d := ParseDirectives(text, s.opts.Keyword)
	if d.Question == "" {
		logger.Debug("turn aborted: nothing to ask")
		return OutcomeAborted, nil
	}
	if d.Provider != "" {
		rec.Provider = string(d.Provider)
		rec.Endpoint = provider.VariantEndpoint(d.Provider, d.Variant)
	}
	if d.Grounding {
		rec.Grounding = true
	}
	if rec.FromMention && s.opts.AlwaysGroundMentions {
		rec.Grounding = true
	}

	kind := provider.Normalize(provider.Kind(rec.Provider))
	p, target, err := s.providers.Resolve(kind, rec.Endpoint)
	if err != nil {
		logger.Warn("provider unavailable", "provider", kind, "error", err)
		s.notify(ctx, note, unavailableMessage(kind))
		return OutcomeFailed, nil
	}

	// Enriching
	req := &provider.Request{
		Question:    d.Question,
		Prompt:      s.opts.Prompt,
		Endpoint:    target.Endpoint,
		Key:         target.Key,
		History:     toTurns(rec.History),
		Grounding:   rec.Grounding,
		SpeakerName: s.speakerName(ctx, note),
		FromMention: rec.FromMention,
		Now:         s.now().In(s.opts.Location),
	}
	if kind != provider.KindPLaMo {
		req.Supplements = s.enricher.DescribeURLs(ctx, d.Question)
		req.Attachments = s.enricher.Attachments(ctx, note.Files)
	}

	// Dispatching
	logger.Info("generating answer", "provider", kind, "grounding", rec.Grounding, "history", len(rec.History))
	answer, err := p.Generate(ctx, req)
	if err != nil {
		logger.Warn("provider call failed", "provider", kind, "error", err)
		answer = ""
	}
	if strings.TrimSpace(answer) == "" {
		logger.Warn("no usable answer", "provider", kind)
		s.notify(ctx, note, errorMessage(kind))
		return OutcomeFailed, nil
	}

	// Persisting
	reply, err := s.notes.Reply(ctx, note, postMessage(answer, kind))
	if err != nil {
		return OutcomeFailed, fmt.Errorf("posting reply: %w", err)
	}

	next := &store.Conversation{
		AnchorPostID: reply.ID,
		CreatedAt:    s.now(),
		Provider:     string(kind),
		Endpoint:     rec.Endpoint,
		Grounding:    rec.Grounding,
		FromMention:  rec.FromMention,
		History: appendHistory(rec.History,
			store.HistoryEntry{Role: store.RoleUser, Content: d.Question},
			store.HistoryEntry{Role: store.RoleModel, Content: answer},
		),
	}
	if err := s.convs.InsertConversation(ctx, next); err != nil {
		return OutcomeReplied, fmt.Errorf("saving conversation: %w", err)
	}

	// Armed
	if err := s.tracker.Arm(ctx, reply.ID); err != nil {
		// an unarmed record would never be evicted
		if _, rerr := s.convs.RemoveConversation(ctx, reply.ID); rerr != nil {
			logger.Error("failed to drop unarmed conversation", "reply_id", reply.ID, "error", rerr)
		}
		return OutcomeReplied, fmt.Errorf("arming conversation: %w", err)
	}

	logger.Info("turn complete", "reply_id", reply.ID, "history", len(next.History))
	return OutcomeReplied, nil
}

// speakerName prefers the name the bot knows the user by, then the profile name
func (s *Service) speakerName(ctx context.Context, note *misskey.Note) string {
	if s.friends != nil {
		f, err := s.friends.GetFriend(ctx, note.UserID)
		if err == nil && f.Name != "" {
			return f.Name
		}
	}
	return note.User.DisplayName()
}

// disarm stops tracking postID; failures are only logged
func (s *Service) disarm(ctx context.Context, postID string) {
	if err := s.tracker.Disarm(ctx, postID); err != nil {
		s.logger.Warn("failed to disarm conversation", "post_id", postID, "error", err)
	}
}

// notify posts a fixed notice; failures are only logged
func (s *Service) notify(ctx context.Context, note *misskey.Note, text string) {
	if _, err := s.notes.Reply(ctx, note, text); err != nil {
		s.logger.Warn("failed to post notice", "note_id", note.ID, "error", err)
	}
}

// appendHistory returns a new slice with entries appended, keeping the last MaxHistory
func appendHistory(history []store.HistoryEntry, entries ...store.HistoryEntry) []store.HistoryEntry {
	out := make([]store.HistoryEntry, 0, len(history)+len(entries))
	out = append(out, history...)
	out = append(out, entries...)
	if len(out) > MaxHistory {
		out = out[len(out)-MaxHistory:]
	}
	return out
}

func toTurns(history []store.HistoryEntry) []provider.Turn {
	if len(history) == 0 {
		return nil
	}
	turns := make([]provider.Turn, len(history))
	for i, h := range history {
		turns[i] = provider.Turn{Role: h.Role, Content: h.Content}
	}
	return turns
}
