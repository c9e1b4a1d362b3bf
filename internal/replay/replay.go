// Package replay republishes a recorded event dataset onto the event channel,
// pacing emission to approximate the original inter-arrival timing.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/metrics"
	"github.com/honeypulse/honeypulse/internal/models"
)

// DefaultFloorDelay is the minimum gap between two published events.
const DefaultFloorDelay = 500 * time.Millisecond

// Publisher sends events to the channel.
type Publisher interface {
	Publish(ctx context.Context, e models.Event) error
	Close() error
}

// Summary describes a finished replay run.
type Summary struct {
	Total     int
	Published int
	Started   time.Time
	Finished  time.Time
}

// Replayer walks a dataset once and publishes every event.
type Replayer struct {
	publisher  Publisher
	clock      clock.Clock
	floorDelay time.Duration
	logger     *slog.Logger
	newID      func() string

	events []models.Event
}

// NewReplayer builds a Replayer. c defaults to the wall clock and a non-positive
// floorDelay falls back to DefaultFloorDelay.
func NewReplayer(logger *slog.Logger, publisher Publisher, c clock.Clock, floorDelay time.Duration) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.Real{}
	}
	if floorDelay <= 0 {
		floorDelay = DefaultFloorDelay
	}
	return &Replayer{
		publisher:  publisher,
		clock:      c,
		floorDelay: floorDelay,
		logger:     logger,
		newID:      uuid.NewString,
	}
}

// LoadFile reads the dataset at path.
func (r *Replayer) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return r.Load(f)
}

// Load parses a JSON array of events and orders it by original timestamp.
// Events with equal timestamps keep their dataset order.
func (r *Replayer) Load(src io.Reader) error {
	var events []models.Event
	if err := json.NewDecoder(src).Decode(&events); err != nil {
		return fmt.Errorf("decode dataset: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	r.events = events
	r.logger.Info("dataset loaded", slog.Int("events", len(events)))
	return nil
}

// Len returns the number of loaded events.
func (r *Replayer) Len() int { return len(r.events) }

// Run publishes the loaded events in a single pass and closes the publisher
// once the last one is sent. A publish failure aborts the run.
func (r *Replayer) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Total: len(r.events), Started: r.clock.Now()}

	for i, event := range r.events {
		if i > 0 {
			if err := r.wait(ctx, r.delay(r.events[i-1], event)); err != nil {
				summary.Finished = r.clock.Now()
				r.close()
				return summary, err
			}
		}

		out := event.WithTimestamp(r.clock.Now())
		if out.ID == "" {
			out = out.WithID(r.newID())
		}
		if err := r.publisher.Publish(ctx, out); err != nil {
			r.logger.Error("publish failed, aborting replay",
				slog.Int("index", i),
				slog.String("event_id", out.ID),
				slog.Any("error", err),
			)
			summary.Finished = r.clock.Now()
			r.close()
			return summary, fmt.Errorf("publish event %d: %w", i, err)
		}
		summary.Published++
		metrics.ObserveReplayPublished()
		r.logger.Debug("event published", slog.String("event_id", out.ID), slog.String("src_ip", out.SourceIP))
	}

	summary.Finished = r.clock.Now()
	if err := r.publisher.Close(); err != nil {
		return summary, fmt.Errorf("close publisher: %w", err)
	}
	r.logger.Info("replay finished",
		slog.Int("published", summary.Published),
		slog.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	return summary, nil
}

func (r *Replayer) delay(prev, next models.Event) time.Duration {
	gap := next.Timestamp.Sub(prev.Timestamp)
	if gap < r.floorDelay {
		return r.floorDelay
	}
	return gap
}

func (r *Replayer) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-r.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Replayer) close() {
	if err := r.publisher.Close(); err != nil {
		r.logger.Warn("close publisher", slog.Any("error", err))
	}
}
