// Package authority serves the credential issuance endpoint the broker calls
// to mint service-to-service tokens.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/honeypulse/honeypulse/internal/broker"
)

// Server exposes the issuance endpoint over HTTP.
type Server struct {
	httpServer *http.Server
	issuer     broker.Issuer
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates an authority server on addr that mints tokens with issuer.
func New(addr string, issuer broker.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		issuer: issuer,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(s.mux, "authority"),
	}
	return s
}

// Handler returns the routed handler without instrumentation.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc(broker.IssuePath, s.handleIssue)
	s.mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body struct {
		TargetService string `json:"targetService"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if body.TargetService == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "targetService missing"})
		return
	}

	tok, err := s.issuer.Issue(r.Context(), body.TargetService)
	switch {
	case errors.Is(err, broker.ErrUnknownTarget):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid targetService"})
		return
	case err != nil:
		s.logger.Error("issue credential", slog.String("target", body.TargetService), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "credential issuance failed"})
		return
	}

	s.logger.Debug("credential issued", slog.String("target", body.TargetService))
	writeJSON(w, http.StatusOK, map[string]string{"token": tok.Value})
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("authority listening", slog.String("address", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
