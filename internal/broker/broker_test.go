package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeypulse/honeypulse/internal/cache"
	"github.com/honeypulse/honeypulse/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type countingIssuer struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingIssuer) Issue(ctx context.Context, target string) (Token, error) {
	n := c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Token{}, c.err
	}
	return Token{Value: target + "-token-" + string(rune('0'+n))}, nil
}

func TestCredentialSingleFlight(t *testing.T) {
	issuer := &countingIssuer{release: make(chan struct{})}
	b := New(issuer, time.Minute)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = b.Credential(context.Background(), "mlService")
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(issuer.release)
	wg.Wait()

	if got := issuer.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] || tokens[i] == "" {
			t.Fatalf("caller %d got %q, want %q", i, tokens[i], tokens[0])
		}
	}
	entry, ok := b.Entry("mlService")
	if !ok || !entry.Valid(time.Now()) {
		t.Fatalf("expected a valid cached entry, got %+v", entry)
	}
}

func TestCredentialReusesCachedToken(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	issuer := &countingIssuer{}
	b := New(issuer, 5*time.Minute, WithClock(vc))

	first, err := b.Credential(context.Background(), "logService")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vc.Advance(4 * time.Minute)
	second, err := b.Credential(context.Background(), "logService")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatalf("expected cached token reuse, got %q then %q", first, second)
	}
	if got := issuer.calls.Load(); got != 1 {
		t.Fatalf("expected zero refreshes on second request, got %d total", got)
	}
	entry, _ := b.Entry("logService")
	if !entry.ExpiresAt.Equal(epoch.Add(5 * time.Minute)) {
		t.Fatalf("expected expiry at now+ttl, got %v", entry.ExpiresAt)
	}
}

func TestCredentialRefreshesAfterExpiry(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	issuer := &countingIssuer{}
	b := New(issuer, 5*time.Minute, WithClock(vc))

	first, _ := b.Credential(context.Background(), "mlService")
	vc.Advance(5 * time.Minute)
	second, err := b.Credential(context.Background(), "mlService")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == second {
		t.Fatal("expected a new token once expires_at was reached")
	}
	if got := issuer.calls.Load(); got != 2 {
		t.Fatalf("expected two refreshes, got %d", got)
	}
}

func TestCredentialTargetsAreIndependent(t *testing.T) {
	issuer := &countingIssuer{}
	b := New(issuer, time.Minute)

	ml, _ := b.Credential(context.Background(), "mlService")
	log, _ := b.Credential(context.Background(), "logService")
	if ml == log {
		t.Fatal("targets must not share a credential")
	}
	if got := issuer.calls.Load(); got != 2 {
		t.Fatalf("expected one refresh per target, got %d", got)
	}
}

func TestCredentialFailureIsNotCached(t *testing.T) {
	issuer := &countingIssuer{err: errors.New("authority down")}
	b := New(issuer, time.Minute)

	if _, err := b.Credential(context.Background(), "mlService"); err == nil {
		t.Fatal("expected refresh error")
	}
	if _, ok := b.Entry("mlService"); ok {
		t.Fatal("failed refresh must not leave an entry")
	}

	issuer.err = nil
	if _, err := b.Credential(context.Background(), "mlService"); err != nil {
		t.Fatalf("expected recovery on next request, got %v", err)
	}
	if got := issuer.calls.Load(); got != 2 {
		t.Fatalf("expected a second refresh attempt, got %d", got)
	}
}

func TestCredentialCallerCancellationDoesNotAbortRefresh(t *testing.T) {
	issuer := &countingIssuer{release: make(chan struct{})}
	b := New(issuer, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Credential(ctx, "mlService")
		done <- err
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(issuer.release)
	token, err := b.Credential(context.Background(), "mlService")
	if err != nil || token == "" {
		t.Fatalf("expected refresh to complete for later callers, got %q, %v", token, err)
	}
	if got := issuer.calls.Load(); got != 1 {
		t.Fatalf("expected the original refresh to be reused, got %d calls", got)
	}
}

func TestCredentialIssueTimeout(t *testing.T) {
	issuer := &countingIssuer{release: make(chan struct{})}
	defer close(issuer.release)
	b := New(issuer, time.Minute, WithIssueTimeout(10*time.Millisecond))

	_, err := b.Credential(context.Background(), "mlService")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSharedCacheConvergesAcrossBrokers(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	shared := cache.NewMemoryProvider(vc.Now)
	issuer := &countingIssuer{}

	a := New(issuer, time.Minute, WithClock(vc), WithSharedCache(shared))
	b := New(issuer, time.Minute, WithClock(vc), WithSharedCache(shared))

	tokA, err := a.Credential(context.Background(), "mlService")
	if err != nil {
		t.Fatalf("broker a: %v", err)
	}
	tokB, err := b.Credential(context.Background(), "mlService")
	if err != nil {
		t.Fatalf("broker b: %v", err)
	}
	if tokA != tokB {
		t.Fatalf("expected brokers to share one credential, got %q and %q", tokA, tokB)
	}
	if got := issuer.calls.Load(); got != 1 {
		t.Fatalf("expected one refresh across brokers, got %d", got)
	}
}

func TestInvalidatePathForcesReissue(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	shared := cache.NewMemoryProvider(vc.Now)
	issuer := &countingIssuer{}
	b := New(issuer, 5*time.Minute, WithClock(vc), WithSharedCache(shared))

	first, _, err := b.ForPath(context.Background(), "/micro/ml")
	if err != nil {
		t.Fatalf("first credential: %v", err)
	}
	b.InvalidatePath(context.Background(), "/micro/ml", first)

	if _, ok := b.Entry("mlService"); ok {
		t.Fatal("expected local entry to be dropped")
	}
	if _, err := shared.Get(context.Background(), sharedKeyPrefix+"mlService"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("expected shared entry to be dropped, got %v", err)
	}

	second, _, err := b.ForPath(context.Background(), "/micro/ml")
	if err != nil {
		t.Fatalf("second credential: %v", err)
	}
	if second == first {
		t.Fatalf("expected a fresh token after invalidation, got %q again", second)
	}
	if got := issuer.calls.Load(); got != 2 {
		t.Fatalf("expected two refreshes, got %d", got)
	}
}

func TestInvalidateKeepsNewerToken(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	issuer := &countingIssuer{}
	b := New(issuer, 5*time.Minute, WithClock(vc))

	if _, err := b.Credential(context.Background(), "logService"); err != nil {
		t.Fatalf("credential: %v", err)
	}
	b.Invalidate(context.Background(), "logService", "some-older-token")

	if _, ok := b.Entry("logService"); !ok {
		t.Fatal("invalidating a token that is no longer cached must keep the current entry")
	}
}

func TestForPathUnmatchedIsPassthrough(t *testing.T) {
	issuer := &countingIssuer{}
	b := New(issuer, time.Minute)

	token, ok, err := b.ForPath(context.Background(), "/micro/alert")
	if err != nil || ok || token != "" {
		t.Fatalf("expected passthrough, got %q, %v, %v", token, ok, err)
	}
	if issuer.calls.Load() != 0 {
		t.Fatal("passthrough must not issue credentials")
	}

	token, ok, err = b.ForPath(context.Background(), "/micro/ml")
	if err != nil || !ok || token == "" {
		t.Fatalf("expected ml credential, got %q, %v, %v", token, ok, err)
	}
}

func TestCredentialRejectsEmptyTarget(t *testing.T) {
	b := New(&countingIssuer{}, time.Minute)
	if _, err := b.Credential(context.Background(), ""); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}
