// Package window keeps the rolling buffer of recent events used as enrichment context.
package window

import (
	"sync"
	"time"

	"github.com/honeypulse/honeypulse/internal/models"
)

// DefaultDuration bounds the window when no duration is configured.
const DefaultDuration = 60 * time.Second

// Sliding is an ordered, time-bounded buffer of events. It lives only in memory
// and starts empty on every process start.
type Sliding struct {
	mu       sync.Mutex
	duration time.Duration
	events   []models.Event
}

// New returns an empty window spanning duration.
func New(duration time.Duration) *Sliding {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Sliding{duration: duration}
}

// Duration returns the configured span.
func (w *Sliding) Duration() time.Duration { return w.duration }

// Prune drops every event whose age at now has reached the window duration and
// reports how many were removed. The whole buffer is scanned so entries that
// arrived out of order are removed as well.
func (w *Sliding) Prune(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prune(now)
}

// Append adds e to the end of the window.
func (w *Sliding) Append(e models.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

// Observe prunes against now, appends e and returns a point-in-time copy of the
// window, all under one lock. An event already older than the window at now is
// not buffered; the snapshot then holds only the events still in range.
func (w *Sliding) Observe(now time.Time, e models.Event) []models.Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now)
	if e.Timestamp.After(now.Add(-w.duration)) {
		w.events = append(w.events, e)
	}
	return w.snapshot()
}

// Snapshot returns a copy of the buffered events in arrival order.
func (w *Sliding) Snapshot() []models.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

// Len returns the number of buffered events.
func (w *Sliding) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// Reset empties the window.
func (w *Sliding) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = nil
}

func (w *Sliding) prune(now time.Time) int {
	horizon := now.Add(-w.duration)
	kept := w.events[:0]
	for _, e := range w.events {
		if e.Timestamp.After(horizon) {
			kept = append(kept, e)
		}
	}
	removed := len(w.events) - len(kept)
	// clear the tail so dropped events can be collected
	for i := len(kept); i < len(w.events); i++ {
		w.events[i] = models.Event{}
	}
	w.events = kept
	return removed
}

func (w *Sliding) snapshot() []models.Event {
	out := make([]models.Event, len(w.events))
	copy(out, w.events)
	return out
}
