package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/honeypulse/honeypulse/internal/g2s"
)

const (
	// SendLogPath accepts classified events.
	SendLogPath = "/send-log"
	// StreamPath serves the websocket feed.
	StreamPath = "/ws/logs"

	maxBodyBytes = 1 << 20
)

// Server serves the feed's HTTP and websocket endpoints.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	logger     *slog.Logger
	mux        *http.ServeMux
}

// New creates a feed server on addr. Only callers holding a credential for
// target signed with secret may post events.
func New(addr string, hub *Hub, secret []byte, target string, now func() time.Time, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		hub:    hub,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.Handle(SendLogPath, g2s.Require(secret, target, now, http.HandlerFunc(s.handleSendLog)))
	s.mux.HandleFunc(StreamPath, hub.HandleWebSocket)
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(s.mux, "feed"),
	}
	return s
}

// Handler returns the routed handler without instrumentation.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleSendLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	data := unwrap(body)

	s.hub.Broadcast(data)
	s.logger.Debug("classified event broadcast", slog.Int("clients", s.hub.ClientCount()))
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "data": data})
}

// unwrap strips an optional {"classifiedLog": ...} envelope.
func unwrap(body []byte) json.RawMessage {
	var envelope struct {
		ClassifiedLog json.RawMessage `json:"classifiedLog"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.ClassifiedLog) > 0 {
		return envelope.ClassifiedLog
	}
	return json.RawMessage(body)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("feed listening", slog.String("address", ln.Addr().String()))
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
