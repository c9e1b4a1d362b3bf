package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeypulse/honeypulse/internal/authority"
	"github.com/honeypulse/honeypulse/internal/broker"
	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/config"
	"github.com/honeypulse/honeypulse/internal/g2s"
	"github.com/honeypulse/honeypulse/internal/telemetry"
	"github.com/honeypulse/honeypulse/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	logger := utils.NewLogger("authority", cfg.Logging.Level, cfg.Logging.JSON)

	secrets, err := g2s.LoadSecrets()
	if err != nil {
		logger.Error("failed to load service secrets", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "honeypulse-authority", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	issuer := broker.NewLocalIssuer(cfg.Authority.Issuer, secrets, cfg.Broker.TTL, clock.Real{})
	server := authority.New(cfg.Authority.Address, issuer, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("authority server exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("authority shutdown", slog.Any("error", err))
	}
	logger.Info("authority stopped")
}
