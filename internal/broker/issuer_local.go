package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/g2s"
)

// LocalIssuer signs credentials in-process with per-target secrets.
type LocalIssuer struct {
	service string
	secrets g2s.Secrets
	ttl     time.Duration
	clock   clock.Clock
}

// NewLocalIssuer signs tokens on behalf of service. c may be nil.
func NewLocalIssuer(service string, secrets g2s.Secrets, ttl time.Duration, c clock.Clock) *LocalIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = clock.Real{}
	}
	return &LocalIssuer{service: service, secrets: secrets, ttl: ttl, clock: c}
}

// Issue implements Issuer.
func (i *LocalIssuer) Issue(_ context.Context, target string) (Token, error) {
	key, ok := i.secrets.For(target)
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	claims := g2s.NewClaims(i.service, target, i.clock.Now(), i.ttl)
	signed, err := g2s.Sign(key, claims)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}
