package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveOutcomeLabels(t *testing.T) {
	before := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeDropped, "classify"))
	ObserveOutcome(OutcomeDropped, "classify")
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeDropped, "classify")); got != before+1 {
		t.Fatalf("expected dropped counter to increase by one, got %v -> %v", before, got)
	}

	// unknown outcomes collapse to delivered without a stage label
	beforeDelivered := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeDelivered, ""))
	ObserveOutcome("weird", "persist")
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues(OutcomeDelivered, "")); got != beforeDelivered+1 {
		t.Fatalf("expected delivered counter to increase by one")
	}
}

func TestObserveCredentialRefresh(t *testing.T) {
	before := testutil.ToFloat64(credentialRefreshTotal.WithLabelValues("mlService", ResultError))
	ObserveCredentialRefresh("mlService", errors.New("boom"))
	if got := testutil.ToFloat64(credentialRefreshTotal.WithLabelValues("mlService", ResultError)); got != before+1 {
		t.Fatalf("expected refresh error counter to increase")
	}
}
