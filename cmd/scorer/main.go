package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
	"github.com/pipelinewhisperer/outreach/internal/scoring"
	"github.com/pipelinewhisperer/outreach/internal/store"
	"github.com/pipelinewhisperer/outreach/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("database open failed", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Error("schema migration failed", "error", err.Error())
		os.Exit(1)
	}

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID+"-scorer")
	defer func() {
		producer.Flush(10 * time.Second)
		producer.Close()
	}()

	client := scoring.NewClient(cfg.OpenAI)
	if client.Mock() {
		logger.Warn("no scoring API key configured, using heuristic fallback")
	}

	scorer := worker.NewScorer(st, client, producer, cfg.Kafka.TopicLeadsScored)
	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicLeadsRaw,
		GroupID: "scorer",
	})
	defer consumer.Close()

	logger.Info("scorer started",
		"topic", cfg.Kafka.TopicLeadsRaw,
		"brokers", len(cfg.Kafka.Brokers),
		"mock_scoring", client.Mock())

	if err := consumer.Run(ctx, scorer.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scorer stopped", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("scorer shut down")
}
