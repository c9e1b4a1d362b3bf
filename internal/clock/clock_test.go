package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtualAfterFiresOnAdvance(t *testing.T) {
	vc := NewVirtual(epoch)
	ch := vc.After(time.Second)

	select {
	case <-ch:
		t.Fatal("waiter fired before the clock advanced")
	default:
	}

	vc.Advance(500 * time.Millisecond)
	if vc.Pending() != 1 {
		t.Fatalf("expected waiter to remain pending, got %d", vc.Pending())
	}

	vc.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(time.Second)) {
			t.Fatalf("unexpected fire time %v", got)
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
}

func TestVirtualSetIgnoresPast(t *testing.T) {
	vc := NewVirtual(epoch)
	vc.Set(epoch.Add(-time.Hour))
	if !vc.Now().Equal(epoch) {
		t.Fatalf("clock moved backwards to %v", vc.Now())
	}
}

func TestAutoAdvancingAfter(t *testing.T) {
	vc := NewAutoAdvancing(epoch)
	<-vc.After(500 * time.Millisecond)
	<-vc.After(400 * time.Millisecond)
	if want := epoch.Add(900 * time.Millisecond); !vc.Now().Equal(want) {
		t.Fatalf("expected %v, got %v", want, vc.Now())
	}
}
