package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/honeypulse/honeypulse/internal/g2s"
	"github.com/honeypulse/honeypulse/internal/models"
	"github.com/honeypulse/honeypulse/internal/utils"
)

// bruteForceThreshold is the number of events from one source inside the
// window at which the stub reports an attack.
const bruteForceThreshold = 5

func main() {
	logger := utils.NewLogger("classifier-mock", os.Getenv("HONEYPULSE_LOG_LEVEL"), false)

	secrets, err := g2s.LoadSecrets()
	if err != nil {
		logger.Error("failed to load service secrets", slog.Any("error", err))
		os.Exit(1)
	}
	secret, _ := secrets.For(g2s.TargetML)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/predict", g2s.Require(secret, g2s.TargetML, nil, http.HandlerFunc(predict)))

	addr := os.Getenv("HONEYPULSE_CLASSIFIER_ADDRESS")
	if addr == "" {
		addr = ":8000"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: logRequests(logger, mux),
	}

	logger.Info("listening", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func predict(w http.ResponseWriter, r *http.Request) {
	if !enforcePost(w, r) {
		return
	}
	var payload models.EnrichmentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	attempts := 0
	for _, e := range payload.RecentLogs {
		if e.SourceIP == payload.CurrentLog.SourceIP {
			attempts++
		}
	}
	isAttack := attempts >= bruteForceThreshold
	attackType := "Other"
	confidence := float64(attempts) / float64(bruteForceThreshold*2)
	if isAttack {
		attackType = "Brute Force"
	}
	if confidence > 1 {
		confidence = 1
	}

	out := map[string]any{}
	for k, v := range payload.CurrentLog.Attributes {
		out[k] = v
	}
	out["src_ip"] = payload.CurrentLog.SourceIP
	out["timestamp"] = utils.UnixMillis(payload.CurrentLog.Timestamp)
	if payload.CurrentLog.Country != "" {
		out["country"] = payload.CurrentLog.Country
	}
	out["isAttack"] = isAttack
	out["attackType"] = attackType
	out["confidence"] = confidence
	out["attempts_from_ip_last_1min"] = attempts
	writeJSON(w, out)
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
