// Package clock abstracts time so pacing and windowing can run against real or
// virtual time.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the pipeline.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the standard time package.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Virtual is a controllable clock. Waiters registered with After fire when
// Advance or Set moves the clock past their deadline. With auto-advance
// enabled, After moves the clock forward by d itself and fires at once, which
// lets paced loops run instantly while still producing realistic timestamps.
type Virtual struct {
	mu      sync.Mutex
	current time.Time
	auto    bool
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewVirtual creates a Virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{current: start}
}

// NewAutoAdvancing creates a Virtual clock whose After calls advance time immediately.
func NewAutoAdvancing(start time.Time) *Virtual {
	return &Virtual{current: start, auto: true}
}

// Now returns the current virtual time.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel receiving the virtual time once the clock reaches now+d.
func (c *Virtual) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	if c.auto {
		c.current = c.current.Add(d)
		ch <- c.current
		c.drain()
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.current.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *Virtual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.drain()
}

// Set moves the clock to t; moving backwards is ignored.
func (c *Virtual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.current) {
		return
	}
	c.current = t
	c.drain()
}

// Pending returns the number of waiters that have not fired yet.
func (c *Virtual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// must be called with c.mu held
func (c *Virtual) drain() {
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.current) {
			w.ch <- c.current
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
