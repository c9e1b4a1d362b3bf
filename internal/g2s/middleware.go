package g2s

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

type claimsKey struct{}

// Require rejects requests that do not carry a valid credential for target.
// now may be nil, in which case the wall clock is used.
func Require(secret []byte, target string, now func() time.Time, next http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, "Missing G2S token")
			return
		}
		claims, err := Verify(token, secret, target, now())
		switch {
		case errors.Is(err, ErrExpiredToken):
			unauthorized(w, "Token expired")
			return
		case err != nil:
			unauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// ClaimsFrom returns the verified claims attached by Require.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
