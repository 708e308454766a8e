package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipelinewhisperer/outreach/internal/bandit"
	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/delivery"
	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/personalize"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
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

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID+"-orchestrator")
	defer func() {
		producer.Flush(10 * time.Second)
		producer.Close()
	}()

	sender := delivery.NewClient(cfg.Lightfield)
	renderer := personalize.NewRendererWithAgent(personalize.NewRemoteAgent(cfg.Truefoundry))
	orch := worker.NewOrchestrator(
		st,
		bandit.NewSampler(),
		renderer,
		sender,
		producer,
		cfg.Kafka.TopicOutreach,
		cfg.Lightfield.FromName,
	)

	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicLeadsScored,
		GroupID: "orchestrator",
	})
	defer consumer.Close()

	logger.Info("orchestrator started",
		"topic", cfg.Kafka.TopicLeadsScored,
		"simulate_delivery", sender.Simulated())

	err = consumer.Run(ctx, orch.Handle)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("orchestrator shut down")
	case errors.Is(err, events.ErrFatal):
		// Misconfiguration, not a transient fault. Exit non-zero so the
		// supervisor surfaces it instead of silently respawning forever.
		logger.Error("orchestrator halted on configuration error", "error", err.Error())
		os.Exit(2)
	default:
		logger.Error("orchestrator stopped", "error", err.Error())
		os.Exit(1)
	}
}
