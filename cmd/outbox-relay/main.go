// Package main provides the outbox relay service entry point. It
// moves committed outbox entries onto the broker and sweeps exhausted
// entries to the dead-letter topic.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/config"
	"github.com/shifaa-health/salat-engine/internal/infrastructure/postgres"
	"github.com/shifaa-health/salat-engine/internal/infrastructure/redpanda"
	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Kafka.Brokers

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to broker", zap.Strings("brokers", cfg.Kafka.Brokers))

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), m, logger)
	outbox.Start()
	logger.Info("outbox relay started")

	// Hourly sweeps: dead-letter exhausted entries, drop old processed
	// ones.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := outbox.MoveToDeadLetter(sweepCtx); err != nil {
					logger.Error("dead letter sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Warn("entries moved to dead letter", zap.Int64("count", n))
				}
				if n, err := outbox.CleanupProcessed(sweepCtx, 7*24*time.Hour); err != nil {
					logger.Error("outbox cleanup failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("processed entries cleaned", zap.Int64("count", n))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancelSweep()
	outbox.Stop()
	logger.Info("outbox relay stopped")
}
