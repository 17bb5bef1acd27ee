// ABOUTME: Tests for the note id filter that drops repeated stream events.
// ABOUTME: Covers TTL expiry, the size limit, sweeping and concurrent use.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestFilter(t *testing.T, ttl time.Duration, limit int) (*Filter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f := newFilter(ttl, limit, clock.Now, time.Hour)
	t.Cleanup(f.Close)
	return f, clock
}

func TestFilter_FirstSightingPasses(t *testing.T) {
	f, _ := newTestFilter(t, time.Minute, 10)

	assert.False(t, f.Seen("note-1"))
	assert.True(t, f.Seen("note-1"), "reply and mention events for the same note")
	assert.False(t, f.Seen("note-2"))
}

func TestFilter_ExpiredSightingPassesAgain(t *testing.T) {
	f, clock := newTestFilter(t, time.Minute, 10)

	assert.False(t, f.Seen("note-1"))
	clock.Advance(2 * time.Minute)
	assert.False(t, f.Seen("note-1"))
	assert.True(t, f.Seen("note-1"))
	assert.Equal(t, 1, f.size())
}

func TestFilter_LimitForgetsOldest(t *testing.T) {
	f, _ := newTestFilter(t, time.Hour, 2)

	f.Seen("a")
	f.Seen("b")
	f.Seen("c")

	assert.Equal(t, 2, f.size())
	assert.True(t, f.Seen("c"))
	assert.True(t, f.Seen("b"))
	assert.False(t, f.Seen("a"), "oldest id should have been forgotten")
}

func TestFilter_SweepDropsExpired(t *testing.T) {
	f, clock := newTestFilter(t, time.Minute, 10)

	f.Seen("old")
	clock.Advance(30 * time.Second)
	f.Seen("young")
	clock.Advance(45 * time.Second)

	f.sweep()

	assert.Equal(t, 1, f.size())
	assert.True(t, f.Seen("young"))
}

func TestFilter_CloseTwice(t *testing.T) {
	f := New(time.Minute, 10)
	f.Close()
	assert.NotPanics(t, f.Close)
}

func TestFilter_ConcurrentSeen(t *testing.T) {
	f, _ := newTestFilter(t, time.Hour, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !f.Seen(fmt.Sprintf("note-%d", i%5)) {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, firsts)
}
