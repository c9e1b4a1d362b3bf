package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/honeypulse/honeypulse/internal/clock"
	"github.com/honeypulse/honeypulse/internal/config"
	"github.com/honeypulse/honeypulse/internal/replay"
	"github.com/honeypulse/honeypulse/internal/stream"
	"github.com/honeypulse/honeypulse/internal/utils"
)

func main() {
	var configPath, dataset string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&dataset, "dataset", "", "Override the dataset path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}
	if dataset != "" {
		cfg.Replay.Dataset = dataset
	}

	logger := utils.NewLogger("replayer", cfg.Logging.Level, cfg.Logging.JSON)

	publisher := stream.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	replayer := replay.NewReplayer(logger, publisher, clock.Real{}, cfg.Replay.FloorDelay)
	if err := replayer.LoadFile(cfg.Replay.Dataset); err != nil {
		logger.Error("failed to load dataset", slog.String("path", cfg.Replay.Dataset), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("replaying dataset",
		slog.String("path", cfg.Replay.Dataset),
		slog.Int("events", replayer.Len()),
		slog.String("topic", cfg.Kafka.Topic),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := replayer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("replay aborted", slog.Int("published", summary.Published), slog.Int("total", summary.Total), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("replay done", slog.Int("published", summary.Published), slog.Int("total", summary.Total))
}
