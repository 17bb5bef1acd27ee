// ABOUTME: TTL-bounded filter of note ids already handled by the bot.
// ABOUTME: First sighting passes, repeats within the TTL are reported as duplicates.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// sighting is one remembered id, kept in arrival order.
type sighting struct {
	id string
	at time.Time
}

// Filter remembers note ids for a fixed TTL and up to a fixed count.
// The oldest id is forgotten first when the filter is full.
type Filter struct {
	mu     sync.Mutex
	index  map[string]*list.Element
	queue  *list.List // of *sighting, oldest at front
	ttl    time.Duration
	limit  int
	now    func() time.Time
	stop   chan struct{}
	closed bool
}

// New creates a Filter. A background goroutine sweeps expired ids every
// sweep interval until Close is called.
func New(ttl time.Duration, limit int) *Filter {
	return newFilter(ttl, limit, time.Now, time.Minute)
}

func newFilter(ttl time.Duration, limit int, now func() time.Time, sweep time.Duration) *Filter {
	if limit <= 0 {
		limit = 1
	}
	f := &Filter{
		index: make(map[string]*list.Element),
		queue: list.New(),
		ttl:   ttl,
		limit: limit,
		now:   now,
		stop:  make(chan struct{}),
	}
	go f.sweepLoop(sweep)
	return f
}

// Seen reports whether id was already observed within the TTL.
// A first or expired sighting records id and returns false.
func (f *Filter) Seen(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if el, ok := f.index[id]; ok {
		s := el.Value.(*sighting)
		if now.Sub(s.at) < f.ttl {
			return true
		}
		f.queue.Remove(el)
		delete(f.index, id)
	}

	for f.queue.Len() >= f.limit {
		f.dropFront()
	}
	f.index[id] = f.queue.PushBack(&sighting{id: id, at: now})
	return false
}

// size returns the number of remembered ids, expired or not.
func (f *Filter) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// dropFront forgets the oldest id. Must be called with mu held.
func (f *Filter) dropFront() {
	front := f.queue.Front()
	if front == nil {
		return
	}
	f.queue.Remove(front)
	delete(f.index, front.Value.(*sighting).id)
}

func (f *Filter) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.sweep()
		case <-f.stop:
			return
		}
	}
}

// sweep forgets expired ids. Sightings are in arrival order, so it stops at
// the first one still alive.
func (f *Filter) sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	for {
		front := f.queue.Front()
		if front == nil || now.Sub(front.Value.(*sighting).at) < f.ttl {
			return
		}
		f.dropFront()
	}
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		close(f.stop)
		f.closed = true
	}
}
