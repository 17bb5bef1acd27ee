// ABOUTME: Restart-safe one-shot timers persisted through the store
// ABOUTME: Timers dispatch by kind to handlers that receive only their JSON payload

// Package timer runs one-shot timers that survive a process restart.
//
// Schedule writes the timer to the store before arming it in memory. Run
// reloads every stored timer, so a timer scheduled by a previous process
// still fires; one whose time has passed fires immediately. A fired timer
// is deleted before its handler runs, so each timer fires at most once.
package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-aichat/internal/store"
)

// Handler runs when a timer of its kind fires
type Handler func(ctx context.Context, payload json.RawMessage) error

// Scheduler arms persisted timers and dispatches them by kind
type Scheduler struct {
	store  store.TimerStore
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]*time.Timer
	runCtx   context.Context // nil until Run starts
}

// New creates a Scheduler backed by ts
func New(ts store.TimerStore, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    ts,
		logger:   logger.With("component", "timer"),
		now:      time.Now,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*time.Timer),
	}
}

// Handle registers the handler for kind, replacing any previous one.
// Register handlers before Run so reloaded timers find them.
func (s *Scheduler) Handle(kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// Schedule persists a timer that fires after delay with payload encoded as JSON.
// Before Run starts the timer is only stored; Run arms it.
func (s *Scheduler) Schedule(ctx context.Context, kind string, delay time.Duration, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling timer payload: %w", err)
	}

	now := s.now()
	t := &store.Timer{
		ID:        uuid.New().String(),
		Kind:      kind,
		FireAt:    now.Add(delay),
		Payload:   raw,
		CreatedAt: now,
	}
	// Saving under mu orders this against Run's reload, so the timer is
	// armed exactly once whichever happens first.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveTimer(ctx, t); err != nil {
		return "", fmt.Errorf("saving timer: %w", err)
	}
	if s.runCtx != nil {
		s.armLocked(t)
	}

	s.logger.Debug("timer scheduled", "id", t.ID, "kind", kind, "fire_at", t.FireAt)
	return t.ID, nil
}

// Cancel stops and deletes a timer. Unknown ids are not an error.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	if pt, ok := s.pending[id]; ok {
		pt.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	return s.store.DeleteTimer(ctx, id)
}

// armed returns how many timers are armed in memory
func (s *Scheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run re-arms every stored timer and keeps dispatching until ctx is cancelled.
// Timers still pending at shutdown stay in the store for the next Run.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	timers, err := s.store.ListTimers(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("loading timers: %w", err)
	}
	s.runCtx = ctx
	for _, t := range timers {
		s.armLocked(t)
	}
	s.mu.Unlock()

	s.logger.Info("timer scheduler started", "restored", len(timers))

	<-ctx.Done()

	s.mu.Lock()
	for id, pt := range s.pending {
		pt.Stop()
		delete(s.pending, id)
	}
	s.runCtx = nil
	s.mu.Unlock()

	s.logger.Info("timer scheduler stopped")
	return nil
}

// armLocked starts the in-memory timer for t. Must be called with mu held.
func (s *Scheduler) armLocked(t *store.Timer) {
	if _, ok := s.pending[t.ID]; ok {
		return
	}
	delay := t.FireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.pending[t.ID] = time.AfterFunc(delay, func() { s.fire(t) })
}

func (s *Scheduler) fire(t *store.Timer) {
	s.mu.Lock()
	if _, ok := s.pending[t.ID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, t.ID)
	ctx := s.runCtx
	h := s.handlers[t.Kind]
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := s.store.DeleteTimer(ctx, t.ID); err != nil {
		s.logger.Error("failed to delete fired timer", "id", t.ID, "error", err)
	}

	if h == nil {
		s.logger.Warn("no handler for timer kind", "id", t.ID, "kind", t.Kind)
		return
	}
	if err := h(ctx, json.RawMessage(t.Payload)); err != nil {
		s.logger.Error("timer handler failed", "id", t.ID, "kind", t.Kind, "error", err)
	}
}
