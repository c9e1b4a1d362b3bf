package stream

import (
	"context"
	"sync"

	"github.com/honeypulse/honeypulse/internal/models"
)

// MemoryChannel is an in-process event channel. It satisfies both the
// publishing and the consuming side and preserves publication order.
type MemoryChannel struct {
	mu     sync.RWMutex
	closed bool
	ch     chan models.Event
}

// NewMemoryChannel creates a channel buffering up to size events.
func NewMemoryChannel(size int) *MemoryChannel {
	if size < 0 {
		size = 0
	}
	return &MemoryChannel{ch: make(chan models.Event, size)}
}

// Publish blocks until the event is buffered or ctx ends.
func (m *MemoryChannel) Publish(ctx context.Context, e models.Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events. Buffered events are still delivered.
func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
	return nil
}

// Run implements Source. It returns nil when the channel is drained after
// Close or when ctx is cancelled.
func (m *MemoryChannel) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case e, ok := <-m.ch:
			if !ok {
				return nil
			}
			handle(ctx, e)
		case <-ctx.Done():
			return nil
		}
	}
}
