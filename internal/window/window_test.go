package window

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/honeypulse/honeypulse/internal/models"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func eventAt(offset time.Duration) models.Event {
	return models.Event{ID: fmt.Sprintf("t%d", int(offset/time.Second)), SourceIP: "203.0.113.7", Timestamp: epoch.Add(offset)}
}

func TestWindowKeepsLastSixtySeconds(t *testing.T) {
	w := New(60 * time.Second)

	var snapshot []models.Event
	for s := 0; s <= 65; s++ {
		offset := time.Duration(s) * time.Second
		snapshot = w.Observe(epoch.Add(offset), eventAt(offset))
	}

	if len(snapshot) != 60 {
		t.Fatalf("expected 60 events at t=65s, got %d", len(snapshot))
	}
	if snapshot[0].ID != "t6" || snapshot[len(snapshot)-1].ID != "t65" {
		t.Fatalf("expected t6..t65, got %s..%s", snapshot[0].ID, snapshot[len(snapshot)-1].ID)
	}
}

func TestWindowInvariantHoldsThroughoutProcessing(t *testing.T) {
	w := New(60 * time.Second)
	for s := 0; s <= 70; s++ {
		now := epoch.Add(time.Duration(s) * time.Second)
		for _, e := range w.Observe(now, eventAt(time.Duration(s)*time.Second)) {
			if age := now.Sub(e.Timestamp); age > w.Duration() {
				t.Fatalf("event %s is %v old at t=%ds", e.ID, age, s)
			}
		}
	}
}

func TestObserveDoesNotBufferEventOlderThanWindow(t *testing.T) {
	w := New(10 * time.Second)
	w.Observe(epoch.Add(20*time.Second), eventAt(20*time.Second))

	now := epoch.Add(25 * time.Second)
	got := w.Observe(now, eventAt(2*time.Second))
	if len(got) != 1 || got[0].ID != "t20" {
		t.Fatalf("expected only t20 in window, got %+v", got)
	}
	for _, e := range w.Snapshot() {
		if now.Sub(e.Timestamp) > w.Duration() {
			t.Fatalf("stale event %s left in window", e.ID)
		}
	}
	if w.Len() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", w.Len())
	}
}

func TestPruneRemovesOutOfOrderStaleEntries(t *testing.T) {
	w := New(10 * time.Second)
	w.Append(eventAt(20 * time.Second))
	w.Append(eventAt(1 * time.Second)) // late arrival from a second producer
	w.Append(eventAt(21 * time.Second))

	removed := w.Prune(epoch.Add(25 * time.Second))
	if removed != 1 {
		t.Fatalf("expected 1 stale event removed, got %d", removed)
	}
	got := w.Snapshot()
	if len(got) != 2 || got[0].ID != "t20" || got[1].ID != "t21" {
		t.Fatalf("unexpected window contents %+v", got)
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	w := New(time.Minute)
	snap := w.Observe(epoch, eventAt(0))
	snap[0].ID = "mutated"
	if w.Snapshot()[0].ID != "t0" {
		t.Fatalf("snapshot aliases the window buffer")
	}
}

func TestObserveIsSafeForConcurrentUse(t *testing.T) {
	w := New(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Observe(epoch.Add(time.Duration(i)*time.Millisecond), eventAt(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()
	if w.Len() != 50 {
		t.Fatalf("expected 50 events, got %d", w.Len())
	}
}

func TestResetEmptiesWindow(t *testing.T) {
	w := New(0)
	if w.Duration() != DefaultDuration {
		t.Fatalf("expected default duration, got %v", w.Duration())
	}
	w.Append(eventAt(0))
	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("expected empty window after reset")
	}
}
