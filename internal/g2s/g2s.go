// Package g2s defines the short-lived service-to-service credential: an HS256
// JWT naming the calling service and the target it may call.
package g2s

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing G2S token")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carried by a G2S credential.
type Claims struct {
	Service string `json:"service"`
	Target  string `json:"target"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for service calling target, valid for ttl from now.
func NewClaims(service, target string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		Service: service,
		Target:  target,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
}

// Sign encodes claims with the target's shared secret.
func Sign(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is empty")
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign g2s token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and (when expectedTarget is set) the target claim.
func Verify(token string, secret []byte, expectedTarget string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if expectedTarget != "" && claims.Target != expectedTarget {
		return nil, fmt.Errorf("%w: target %q not accepted", ErrInvalidToken, claims.Target)
	}
	return claims, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
