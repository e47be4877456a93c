// Package testutil holds small test doubles shared by the cache and
// streamer test suites.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock. Advance moves the current time;
// FireTicks delivers one tick to every channel handed out by Tick.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks []chan time.Time
}

// NewFakeClock creates a fake clock starting at the given instant.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Tick returns a channel that fires only when FireTicks is called; the
// requested interval is ignored.
func (c *FakeClock) Tick(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.ticks = append(c.ticks, ch)
	return ch
}

// FireTicks delivers the current time to every tick channel without
// blocking on full channels.
func (c *FakeClock) FireTicks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.ticks {
		select {
		case ch <- c.now:
		default:
		}
	}
}
