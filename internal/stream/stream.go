// Package stream carries events from the replayer to the orchestrator, either
// over Kafka or through an in-process channel.
package stream

import (
	"context"
	"errors"

	"github.com/honeypulse/honeypulse/internal/models"
)

// ErrClosed is returned when publishing to a closed channel.
var ErrClosed = errors.New("stream closed")

// Handler processes one consumed event. It is invoked sequentially.
type Handler func(ctx context.Context, e models.Event)

// Source delivers events to a handler until ctx is cancelled or the source is exhausted.
type Source interface {
	Run(ctx context.Context, handle Handler) error
}
