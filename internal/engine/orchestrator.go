package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/metrics"
	"github.com/honeypulse/honeypulse/internal/models"
	"github.com/honeypulse/honeypulse/internal/stream"
	"github.com/honeypulse/honeypulse/internal/utils"
	"github.com/honeypulse/honeypulse/internal/window"
)

const (
	defaultStageTimeout  = 5 * time.Second
	defaultLatencyReport = 20
)

// Classifier labels an enriched event.
type Classifier interface {
	Classify(ctx context.Context, payload models.EnrichmentPayload) (models.ClassifiedEvent, error)
}

// Persister stores a classified event.
type Persister interface {
	Persist(ctx context.Context, event models.ClassifiedEvent) error
}

// Options tunes an Orchestrator. Zero values select defaults.
type Options struct {
	ClassifyTimeout time.Duration
	PersistTimeout  time.Duration
	Clock           clock.Clock
	// LatencyReportEvery logs the p95 processing latency after this many events.
	LatencyReportEvery int
	// OnOutcome is called synchronously after each event is processed.
	OnOutcome func(models.Outcome)
}

// Orchestrator enriches each consumed event with the recent window and drives
// it through classification and persistence. A failure at either stage drops
// the event; nothing is retried.
type Orchestrator struct {
	logger     *slog.Logger
	window     *window.Sliding
	classifier Classifier
	persister  Persister
	opts       Options
	latency    *utils.LatencyTracker
}

// NewOrchestrator wires the window and both collaborator stages.
func NewOrchestrator(logger *slog.Logger, win *window.Sliding, classifier Classifier, persister Persister, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if win == nil {
		win = window.New(window.DefaultDuration)
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = defaultStageTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultStageTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.LatencyReportEvery <= 0 {
		opts.LatencyReportEvery = defaultLatencyReport
	}
	return &Orchestrator{
		logger:     logger,
		window:     win,
		classifier: classifier,
		persister:  persister,
		opts:       opts,
		latency:    utils.NewLatencyTracker(256),
	}
}

// Window exposes the rolling buffer.
func (o *Orchestrator) Window() *window.Sliding { return o.window }

// Run consumes source sequentially until it is exhausted or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, source stream.Source) error {
	o.logger.Info("orchestrator consuming", slog.Duration("window", o.window.Duration()))
	err := source.Run(ctx, func(ctx context.Context, e models.Event) {
		o.Process(ctx, e)
	})
	o.logger.Info("orchestrator stopped", slog.Int("processed", o.latency.Total()))
	return err
}

// Process handles one event end to end and reports what happened to it.
func (o *Orchestrator) Process(ctx context.Context, e models.Event) models.Outcome {
	started := time.Now()

	snapshot := o.window.Observe(o.opts.Clock.Now(), e)
	metrics.SetWindowSize(len(snapshot))
	payload := models.NewEnrichmentPayload(e, snapshot)

	outcome := o.deliver(ctx, e.ID, payload)
	o.report(outcome, time.Since(started))
	return outcome
}

func (o *Orchestrator) deliver(ctx context.Context, eventID string, payload models.EnrichmentPayload) models.Outcome {
	var classified models.ClassifiedEvent
	err := o.stage(ctx, models.StageClassify, o.opts.ClassifyTimeout, func(ctx context.Context) error {
		var err error
		classified, err = o.classifier.Classify(ctx, payload)
		return err
	})
	if err != nil {
		return models.Dropped(eventID, models.StageClassify, err)
	}

	err = o.stage(ctx, models.StagePersist, o.opts.PersistTimeout, func(ctx context.Context) error {
		return o.persister.Persist(ctx, classified)
	})
	if err != nil {
		return models.Dropped(eventID, models.StagePersist, err)
	}
	return models.Delivered(eventID, classified.Classification)
}

func (o *Orchestrator) stage(ctx context.Context, stage models.Stage, timeout time.Duration, call func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := call(stageCtx)
	metrics.ObserveStage(string(stage), time.Since(started))
	return err
}

func (o *Orchestrator) report(outcome models.Outcome, elapsed time.Duration) {
	metrics.ObserveOutcome(string(outcome.Status), string(outcome.Stage))

	if outcome.Status == models.OutcomeDropped {
		o.logger.Error("event dropped",
			slog.String("event_id", outcome.EventID),
			slog.String("stage", string(outcome.Stage)),
			slog.Bool("timeout", utils.IsTimeout(outcome.Reason)),
			slog.Any("error", outcome.Reason),
		)
	} else {
		o.logger.Debug("event delivered",
			slog.String("event_id", outcome.EventID),
			slog.String("classification", outcome.Classification),
		)
	}

	o.latency.Observe(elapsed)
	if total := o.latency.Total(); total%o.opts.LatencyReportEvery == 0 {
		o.logger.Info("processing latency",
			slog.Int("events", total),
			slog.Duration("p95", o.latency.Percentile(95)),
		)
	}

	if o.opts.OnOutcome != nil {
		o.opts.OnOutcome(outcome)
	}
}
