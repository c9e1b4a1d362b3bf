package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/g2s"
)

func TestHTTPIssuer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != IssuePath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["targetService"] == "unknown" {
			http.Error(w, `{"error":"Invalid targetService"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + body["targetService"]})
	}))
	defer srv.Close()

	issuer := NewHTTPIssuer(srv.URL+"/", time.Second)
	tok, err := issuer.Issue(context.Background(), "mlService")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Value != "tok-mlService" {
		t.Fatalf("unexpected token %q", tok.Value)
	}

	if _, err := issuer.Issue(context.Background(), "unknown"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestLocalIssuer(t *testing.T) {
	vc := clock.NewVirtual(epoch)
	secrets := g2s.Secrets{g2s.TargetML: []byte("ml-secret-key")}
	issuer := NewLocalIssuer("gateway", secrets, 5*time.Minute, vc)

	tok, err := issuer.Issue(context.Background(), g2s.TargetML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tok.ExpiresAt.Equal(epoch.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", tok.ExpiresAt)
	}
	claims, err := g2s.Verify(tok.Value, []byte("ml-secret-key"), g2s.TargetML, epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Service != "gateway" {
		t.Fatalf("unexpected service claim %q", claims.Service)
	}

	if _, err := issuer.Issue(context.Background(), g2s.TargetLog); !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestRoutesResolve(t *testing.T) {
	routes := DefaultRoutes()
	cases := map[string]string{
		"/micro/ml":  g2s.TargetML,
		"/micro/log": g2s.TargetLog,
	}
	for path, want := range cases {
		got, ok := routes.Resolve(path)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s (%v)", path, want, got, ok)
		}
	}
	if _, ok := routes.Resolve("/micro/alert"); ok {
		t.Fatal("expected no route for alert path")
	}
}
