package authority

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/honeypulse/honeypulse/internal/broker"
	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/g2s"
)

var now = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestServer() *Server {
	secrets := g2s.Secrets{
		g2s.TargetML:  []byte("ml-secret-key"),
		g2s.TargetLog: []byte("log-secret-key"),
	}
	issuer := broker.NewLocalIssuer("gateway", secrets, 5*time.Minute, clock.NewVirtual(now))
	return New(":0", issuer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, broker.IssuePath, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIssueReturnsVerifiableToken(t *testing.T) {
	rec := post(t, newTestServer(), `{"targetService":"logService"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := g2s.Verify(out["token"], []byte("log-secret-key"), g2s.TargetLog, now)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if claims.Service != "gateway" {
		t.Fatalf("unexpected service %q", claims.Service)
	}
}

func TestIssueRejectsBadRequests(t *testing.T) {
	cases := map[string]string{
		`{}`:                           "targetService missing",
		`{"targetService":"alertSvc"}`: "Invalid targetService",
		`not json`:                     "invalid request body",
	}
	s := newTestServer()
	for body, want := range cases {
		rec := post(t, s, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: expected %q in %s", body, want, rec.Body)
		}
	}
}

func TestIssueRequiresPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, broker.IssuePath, nil)
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBrokerAgainstAuthority(t *testing.T) {
	srv := httptest.NewServer(newTestServer().Handler())
	defer srv.Close()

	b := broker.New(broker.NewHTTPIssuer(srv.URL, time.Second), time.Minute)
	token, ok, err := b.ForPath(t.Context(), "/micro/ml")
	if err != nil || !ok {
		t.Fatalf("expected credential, got ok=%v err=%v", ok, err)
	}
	if _, err := g2s.Verify(token, []byte("ml-secret-key"), g2s.TargetML, now); err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
}
