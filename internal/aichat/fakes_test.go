// ABOUTME: In-memory fakes for the host interfaces used by aichat tests
// ABOUTME: Notes API, subscriptions, timers, enrichment and a recording provider

package aichat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/2389/coven-aichat/internal/misskey"
	"github.com/2389/coven-aichat/internal/provider"
	"github.com/2389/coven-aichat/internal/store"
)

type postedReply struct {
	to   string
	text string
	id   string
}

type fakeNotes struct {
	mu            sync.Mutex
	notes         map[string]*misskey.Note
	conversations map[string][]misskey.Note
	children      map[string][]misskey.Note
	timeline      []misskey.Note
	replies       []postedReply
	replyErr      error
	nextID        int
}

func newFakeNotes() *fakeNotes {
	return &fakeNotes{
		notes:         map[string]*misskey.Note{},
		conversations: map[string][]misskey.Note{},
		children:      map[string][]misskey.Note{},
	}
}

func (f *fakeNotes) ShowNote(_ context.Context, id string) (*misskey.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return nil, &misskey.APIError{Endpoint: "notes/show", Status: 400, Code: "NO_SUCH_NOTE"}
	}
	c := *n
	return &c, nil
}

func (f *fakeNotes) Conversation(_ context.Context, id string) ([]misskey.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversations[id], nil
}

func (f *fakeNotes) Children(_ context.Context, id string) ([]misskey.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[id], nil
}

func (f *fakeNotes) LocalTimeline(_ context.Context, limit int) ([]misskey.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timeline) > limit {
		return f.timeline[:limit], nil
	}
	return f.timeline, nil
}

func (f *fakeNotes) Reply(_ context.Context, to *misskey.Note, text string) (*misskey.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return nil, f.replyErr
	}
	f.nextID++
	id := fmt.Sprintf("reply-%d", f.nextID)
	f.replies = append(f.replies, postedReply{to: to.ID, text: text, id: id})
	return &misskey.Note{ID: id, ReplyID: &to.ID}, nil
}

func (f *fakeNotes) posted() []postedReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedReply(nil), f.replies...)
}

type fakeSubs struct {
	mu           sync.Mutex
	active       map[string]string // token -> anchor
	unsubscribed []string
	subscribeErr error
}

func newFakeSubs() *fakeSubs { return &fakeSubs{active: map[string]string{}} }

func (f *fakeSubs) Subscribe(_ context.Context, anchor, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.active[token] = anchor
	return nil
}

func (f *fakeSubs) Unsubscribe(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, token)
	f.unsubscribed = append(f.unsubscribed, token)
	return nil
}

type scheduledTimer struct {
	kind    string
	delay   time.Duration
	payload any
}

type fakeTimers struct {
	mu          sync.Mutex
	scheduled   []scheduledTimer
	cancelled   []string
	scheduleErr error
}

func (f *fakeTimers) Schedule(_ context.Context, kind string, delay time.Duration, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.scheduled = append(f.scheduled, scheduledTimer{kind: kind, delay: delay, payload: payload})
	return fmt.Sprintf("timer-%d", len(f.scheduled)), nil
}

func (f *fakeTimers) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeEnricher struct {
	supplements []string
	attachments []provider.Attachment
}

func (f *fakeEnricher) DescribeURLs(context.Context, string) []string { return f.supplements }

func (f *fakeEnricher) Attachments(context.Context, []misskey.DriveFile) []provider.Attachment {
	return f.attachments
}

// recordingProvider returns a fixed answer and remembers every request
type recordingProvider struct {
	mu       sync.Mutex
	answer   string
	err      error
	requests []*provider.Request
}

func (p *recordingProvider) Generate(_ context.Context, req *provider.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return p.answer, p.err
}

func (p *recordingProvider) last(t *testing.T) *provider.Request {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("provider was not called")
	}
	return p.requests[len(p.requests)-1]
}

func (p *recordingProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// harness wires a Service to fakes
type harness struct {
	svc      *Service
	notes    *fakeNotes
	subs     *fakeSubs
	timers   *fakeTimers
	store    *store.MockStore
	gemini   *recordingProvider
	plamo    *recordingProvider
	enricher *fakeEnricher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		notes:    newFakeNotes(),
		subs:     newFakeSubs(),
		timers:   &fakeTimers{},
		store:    store.NewMockStore(),
		gemini:   &recordingProvider{answer: "gemini answer"},
		plamo:    &recordingProvider{answer: "plamo answer"},
		enricher: &fakeEnricher{},
	}
	registry := provider.NewRegistryWith(
		map[provider.Kind]provider.Provider{
			provider.KindGemini:  h.gemini,
			provider.KindPLaMo:   h.plamo,
			provider.KindChatGPT: &recordingProvider{answer: "chatgpt answer"},
		},
		map[provider.Kind]string{
			provider.KindGemini: "g-key",
			provider.KindPLaMo:  "p-key",
		},
	)
	if opts.BotUsername == "" {
		opts.BotUsername = "ai"
	}
	tracker := NewTracker(h.subs, h.timers, h.store, 0, nil)
	h.svc = New(Deps{
		Notes:         h.notes,
		Conversations: h.store,
		Tracker:       tracker,
		Providers:     registry,
		Enricher:      h.enricher,
		Friends:       h.store,
	}, opts, nil)
	h.svc.now = func() time.Time { return time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC) }
	return h
}

func textNote(id, userID, text string) *misskey.Note {
	return &misskey.Note{
		ID:         id,
		UserID:     userID,
		User:       misskey.User{ID: userID, Username: userID},
		Text:       &text,
		Visibility: "public",
	}
}

func (h *harness) conversation(t *testing.T, anchor string) *store.Conversation {
	t.Helper()
	c, err := h.store.FindConversation(context.Background(), anchor)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	return c
}
