package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeDelivered labels events that reached persistence.
	OutcomeDelivered = "delivered"
	// OutcomeDropped labels events lost at a downstream stage.
	OutcomeDropped = "dropped"

	// ResultSuccess and ResultError label credential refreshes.
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "honeypulse",
			Name:      "events_total",
			Help:      "Consumed events partitioned by delivery outcome and the stage that dropped them.",
		},
		[]string{"outcome", "stage"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "honeypulse",
			Name:      "stage_seconds",
			Help:      "Downstream call latency in seconds, per pipeline stage.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	windowEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "honeypulse",
			Name:      "window_events",
			Help:      "Events currently held in the enrichment window.",
		},
	)

	credentialRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "honeypulse",
			Name:      "credential_refresh_total",
			Help:      "Credential refresh operations per target service and result.",
		},
		[]string{"target", "result"},
	)

	credentialCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "honeypulse",
			Name:      "credential_cache_hits_total",
			Help:      "Credential requests served from the in-process cache.",
		},
		[]string{"target"},
	)

	replayPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "honeypulse",
			Name:      "replay_published_total",
			Help:      "Events published by the dataset replayer.",
		},
	)
)

// Register attaches honeypulse collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		stageDurationSeconds,
		windowEvents,
		credentialRefreshTotal,
		credentialCacheHitsTotal,
		replayPublishedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOutcome counts one processed event. stage is empty for delivered events.
func ObserveOutcome(outcome, stage string) {
	if outcome != OutcomeDropped {
		outcome = OutcomeDelivered
		stage = ""
	}
	eventsTotal.WithLabelValues(outcome, stage).Inc()
}

// ObserveStage records the latency of one downstream call.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// SetWindowSize publishes the current window length.
func SetWindowSize(n int) {
	windowEvents.Set(float64(n))
}

// ObserveCredentialRefresh counts a refresh attempt for target.
func ObserveCredentialRefresh(target string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	credentialRefreshTotal.WithLabelValues(target, result).Inc()
}

// ObserveCredentialHit counts a cache hit for target.
func ObserveCredentialHit(target string) {
	credentialCacheHitsTotal.WithLabelValues(target).Inc()
}

// ObserveReplayPublished counts one replayed event.
func ObserveReplayPublished() {
	replayPublishedTotal.Inc()
}
