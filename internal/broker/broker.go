// Package broker issues and caches short-lived service-to-service credentials.
//
// The broker holds at most one entry per target service. A cached entry is
// returned only while it has not expired; otherwise a single refresh runs per
// target and every concurrent caller for that target waits on it.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/honeypulse/honeypulse/internal/cache"
	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/metrics"
)

// DefaultTTL is the lifetime of a cached credential.
const DefaultTTL = 5 * time.Minute

const sharedKeyPrefix = "g2s:"

// ErrUnknownTarget is returned when a credential is requested for a target the
// issuer has no key for.
var ErrUnknownTarget = errors.New("unknown target service")

// Token is an issued credential.
type Token struct {
	Value string
	// ExpiresAt is optional; when set and earlier than now+ttl it bounds the entry.
	ExpiresAt time.Time
}

// Issuer produces a fresh credential bound to target.
type Issuer interface {
	Issue(ctx context.Context, target string) (Token, error)
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func(ctx context.Context, target string) (Token, error)

// Issue implements Issuer.
func (f IssuerFunc) Issue(ctx context.Context, target string) (Token, error) {
	return f(ctx, target)
}

// Entry is the cached credential for one target.
type Entry struct {
	Target    string    `json:"target"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the entry can still be handed out at now.
func (e Entry) Valid(now time.Time) bool {
	return e.Token != "" && e.ExpiresAt.After(now)
}

// Broker caches one credential per target service.
type Broker struct {
	issuer       Issuer
	ttl          time.Duration
	issueTimeout time.Duration
	clock        clock.Clock
	shared       cache.Provider
	routes       Routes
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	flight  singleflight.Group
}

// Option customises a Broker.
type Option func(*Broker)

// WithClock overrides the time source used for expiry decisions.
func WithClock(c clock.Clock) Option { return func(b *Broker) { b.clock = c } }

// WithSharedCache adds a cross-process tier consulted before issuing.
func WithSharedCache(p cache.Provider) Option { return func(b *Broker) { b.shared = p } }

// WithIssueTimeout bounds each refresh.
func WithIssueTimeout(d time.Duration) Option { return func(b *Broker) { b.issueTimeout = d } }

// WithRoutes sets the path-to-target mapping used by ForPath.
func WithRoutes(r Routes) Option { return func(b *Broker) { b.routes = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(b *Broker) { b.logger = l } }

// New constructs a Broker around issuer. A non-positive ttl falls back to DefaultTTL.
func New(issuer Issuer, ttl time.Duration, opts ...Option) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b := &Broker{
		issuer:       issuer,
		ttl:          ttl,
		issueTimeout: 5 * time.Second,
		clock:        clock.Real{},
		shared:       cache.NoopProvider{},
		routes:       DefaultRoutes(),
		logger:       slog.Default(),
		entries:      make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Credential returns a valid token for target, refreshing it when missing or expired.
func (b *Broker) Credential(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "", ErrUnknownTarget
	}
	if e, ok := b.cached(target); ok {
		metrics.ObserveCredentialHit(target)
		return e.Token, nil
	}

	// The refresh runs detached from any single caller's context so that a caller
	// giving up does not fail the refresh for the others waiting on it.
	ch := b.flight.DoChan(target, func() (any, error) {
		return b.refresh(target)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(Entry).Token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ForPath resolves the target for a request path and returns its credential.
// ok is false when no route matches; callers then proceed unauthenticated.
func (b *Broker) ForPath(ctx context.Context, path string) (token string, ok bool, err error) {
	target, matched := b.routes.Resolve(path)
	if !matched {
		b.logger.Debug("no target service for route", slog.String("path", path))
		return "", false, nil
	}
	token, err = b.Credential(ctx, target)
	if err != nil {
		return "", true, err
	}
	return token, true, nil
}

// Entry returns the cached entry for target, valid or not.
func (b *Broker) Entry(target string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[target]
	return e, ok
}

// Invalidate drops the cached entry for target while it still holds token, in
// this process and in the shared tier. An empty token drops whatever is cached.
func (b *Broker) Invalidate(ctx context.Context, target, token string) {
	b.mu.Lock()
	if e, ok := b.entries[target]; ok && (token == "" || e.Token == token) {
		delete(b.entries, target)
	}
	b.mu.Unlock()

	if e, ok := b.fromShared(ctx, target); ok && (token == "" || e.Token == token) {
		if err := b.shared.Del(ctx, sharedKeyPrefix+target); err != nil {
			b.logger.Warn("shared credential invalidate failed", slog.String("target", target), slog.Any("error", err))
		}
	}
	b.logger.Info("credential invalidated", slog.String("target", target))
}

// InvalidatePath drops the credential served for a request path after the
// callee rejected it. Unrouted paths are ignored.
func (b *Broker) InvalidatePath(ctx context.Context, path, token string) {
	if target, ok := b.routes.Resolve(path); ok {
		b.Invalidate(ctx, target, token)
	}
}

func (b *Broker) cached(target string) (Entry, bool) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[target]
	if !ok || !e.Valid(now) {
		return Entry{}, false
	}
	return e, true
}

func (b *Broker) refresh(target string) (Entry, error) {
	// A flight that finished just before this one started may already have stored a token.
	if e, ok := b.cached(target); ok {
		return e, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.issueTimeout)
	defer cancel()

	if e, ok := b.fromShared(ctx, target); ok {
		b.store(e)
		return e, nil
	}

	requestedAt := b.clock.Now()
	tok, err := b.issuer.Issue(ctx, target)
	metrics.ObserveCredentialRefresh(target, err)
	if err != nil {
		b.logger.Error("credential refresh failed", slog.String("target", target), slog.Any("error", err))
		return Entry{}, fmt.Errorf("issue credential for %s: %w", target, err)
	}
	if tok.Value == "" {
		return Entry{}, fmt.Errorf("issue credential for %s: empty token", target)
	}

	// Expiry is measured from the request, not the response, so the cached
	// entry never outlives the token the authority minted.
	expires := requestedAt.Add(b.ttl)
	if !tok.ExpiresAt.IsZero() && tok.ExpiresAt.Before(expires) {
		expires = tok.ExpiresAt
	}
	e := b.publishShared(ctx, Entry{Target: target, Token: tok.Value, ExpiresAt: expires})
	b.store(e)
	b.logger.Debug("credential refreshed", slog.String("target", target), slog.Time("expires_at", e.ExpiresAt))
	return e, nil
}

func (b *Broker) store(e Entry) {
	b.mu.Lock()
	b.entries[e.Target] = e
	b.mu.Unlock()
}

func (b *Broker) fromShared(ctx context.Context, target string) (Entry, bool) {
	data, err := b.shared.Get(ctx, sharedKeyPrefix+target)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			b.logger.Warn("shared credential lookup failed", slog.String("target", target), slog.Any("error", err))
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Target != target || !e.Valid(b.clock.Now()) {
		return Entry{}, false
	}
	return e, true
}

// publishShared offers e to the shared tier. When another process won the race
// with a still-valid token, that token is adopted so all processes converge on
// one credential per target.
func (b *Broker) publishShared(ctx context.Context, e Entry) Entry {
	data, err := json.Marshal(e)
	if err != nil {
		return e
	}
	ttl := e.ExpiresAt.Sub(b.clock.Now())
	stored, err := b.shared.SetNX(ctx, sharedKeyPrefix+e.Target, data, ttl)
	if err != nil {
		b.logger.Warn("shared credential publish failed", slog.String("target", e.Target), slog.Any("error", err))
		return e
	}
	if stored {
		return e
	}
	if winner, ok := b.fromShared(ctx, e.Target); ok {
		return winner
	}
	return e
}
