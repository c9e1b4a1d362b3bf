package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/honeypulse/honeypulse/internal/api"
	"github.com/honeypulse/honeypulse/internal/broker"
	"github.com/honeypulse/honeypulse/internal/cache"
	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/config"
	"github.com/honeypulse/honeypulse/internal/engine"
	"github.com/honeypulse/honeypulse/internal/g2s"
	"github.com/honeypulse/honeypulse/internal/metrics"
	"github.com/honeypulse/honeypulse/internal/replay"
	"github.com/honeypulse/honeypulse/internal/repo"
	"github.com/honeypulse/honeypulse/internal/stream"
	"github.com/honeypulse/honeypulse/internal/telemetry"
	"github.com/honeypulse/honeypulse/internal/utils"
	"github.com/honeypulse/honeypulse/internal/window"
)

func main() {
	var configPath, channel string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&channel, "channel", "kafka", "Event channel: kafka, or memory to replay the dataset in-process")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger("orchestrator", cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting honeypulse orchestrator", slog.String("channel", channel), slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "honeypulse-orchestrator", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	var shared cache.Provider = cache.NoopProvider{}
	switch {
	case cfg.Cache.Enabled && cfg.Cache.Mode == "memory":
		shared = cache.NewMemoryProvider(nil)
	case cfg.Cache.Enabled && cfg.Cache.Addr != "":
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("shared credential cache unavailable", slog.Any("error", err))
		} else {
			shared = provider
			defer provider.Close()
		}
	}

	issuer, err := newIssuer(cfg)
	if err != nil {
		logger.Error("failed to create credential issuer", slog.Any("error", err))
		os.Exit(1)
	}
	credentials := broker.New(issuer, cfg.Broker.TTL,
		broker.WithSharedCache(shared),
		broker.WithIssueTimeout(cfg.Broker.IssueTimeout),
		broker.WithRoutes(routes(cfg.Broker.Routes)),
		broker.WithLogger(logger.With(slog.String("component", "broker"))),
	)

	collaborators := repo.NewCollaboratorClient(endpoint(cfg.Stages.Classify), endpoint(cfg.Stages.Persist), credentials)
	orchestrator := engine.NewOrchestrator(
		logger.With(slog.String("component", "orchestrator")),
		window.New(cfg.Window.Duration),
		collaborators,
		collaborators,
		engine.Options{
			ClassifyTimeout: cfg.Stages.Classify.Timeout,
			PersistTimeout:  cfg.Stages.Persist.Timeout,
		},
	)

	source, err := newSource(ctx, cfg, channel, logger, stop)
	if err != nil {
		logger.Error("failed to open event channel", slog.Any("error", err))
		os.Exit(1)
	}

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go func() {
		server.MarkServing(true)
		defer server.MarkServing(false)
		if err := orchestrator.Run(ctx, source); err != nil {
			logger.Error("consume loop exited", slog.Any("error", err))
		}
		stop()
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if closer, ok := source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("event channel close", slog.Any("error", err))
		}
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("honeypulse orchestrator stopped")
}

func newIssuer(cfg *config.Config) (broker.Issuer, error) {
	switch cfg.Broker.Mode {
	case "local":
		secrets, err := g2s.LoadSecrets()
		if err != nil {
			return nil, err
		}
		return broker.NewLocalIssuer(cfg.Authority.Issuer, secrets, cfg.Broker.TTL, clock.Real{}), nil
	case "", "http":
		return broker.NewHTTPIssuer(cfg.Broker.AuthorityURL, cfg.Broker.IssueTimeout), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}

func newSource(ctx context.Context, cfg *config.Config, channel string, logger *slog.Logger, stop context.CancelFunc) (stream.Source, error) {
	switch channel {
	case "kafka":
		return stream.NewKafkaConsumer(logger.With(slog.String("component", "consumer")), stream.KafkaConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			FromBeginning: cfg.Kafka.FromBeginning,
		}), nil
	case "memory":
		ch := stream.NewMemoryChannel(64)
		replayer := replay.NewReplayer(logger.With(slog.String("component", "replayer")), ch, clock.Real{}, cfg.Replay.FloorDelay)
		if err := replayer.LoadFile(cfg.Replay.Dataset); err != nil {
			return nil, err
		}
		go func() {
			if _, err := replayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("replay failed", slog.Any("error", err))
				stop()
			}
		}()
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
}

func routes(cfg []config.RouteConfig) broker.Routes {
	if len(cfg) == 0 {
		return broker.DefaultRoutes()
	}
	out := make(broker.Routes, 0, len(cfg))
	for _, r := range cfg {
		out = append(out, broker.Route{Match: r.Match, Target: r.Target})
	}
	return out
}

func endpoint(cfg config.StageConfig) repo.Endpoint {
	return repo.Endpoint{
		BaseURL: cfg.BaseURL,
		Path:    cfg.Path,
		Route:   cfg.Route,
		Timeout: cfg.Timeout,
	}
}
