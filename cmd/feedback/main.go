package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/events"
	"github.com/pipelinewhisperer/outreach/internal/pkg/ledger"
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

	var led ledger.Ledger = ledger.NopLedger{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, deduplicating on lead state only", "error", err.Error())
		} else {
			led = ledger.NewRedisLedger(client, time.Duration(cfg.Redis.LedgerTTLDays)*24*time.Hour)
		}
	}

	window := time.Duration(cfg.Bandit.ConversionWindowHours) * time.Hour
	fb := worker.NewFeedback(st, led, window)
	if window > 0 {
		go fb.RunAging(ctx, time.Hour)
	}

	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicOutreach,
		GroupID: "feedback",
	})
	defer consumer.Close()

	logger.Info("feedback worker started",
		"topic", cfg.Kafka.TopicOutreach,
		"conversion_window_hours", cfg.Bandit.ConversionWindowHours)

	if err := consumer.Run(ctx, fb.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feedback worker stopped", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("feedback worker shut down")
}
