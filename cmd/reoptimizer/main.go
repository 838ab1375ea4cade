// Package main provides the reoptimizer service entry point.
// Consumes schedule optimize requests and writes proposals through
// the transactional outbox.
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
	"github.com/shifaa-health/salat-engine/internal/observability/tracing"
	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/internal/profile"
	"github.com/shifaa-health/salat-engine/internal/reoptimizer"
	"github.com/shifaa-health/salat-engine/internal/scheduling"
	"github.com/shifaa-health/salat-engine/pkg/idempotency"
	"github.com/shifaa-health/salat-engine/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	traceCfg := tracing.DefaultConfig("reoptimizer")
	traceCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	if tp, err := tracing.Init(context.Background(), traceCfg); err != nil {
		logger.Warn("tracing init failed, continuing without export", zap.Error(err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(ctx)
		}()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Ensure topics exist before consuming.
	admin, err := redpanda.NewAdmin(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Fatal("admin client failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Warn("topic creation failed, assuming they exist", zap.Error(err))
	}
	admin.Close()

	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		loc = prayer.MalaysiaTime
	}

	provider := prayer.NewProvider(logger,
		prayer.WithLocation(loc),
		prayer.WithMetrics(m))
	optimizer := scheduling.NewOptimizer(provider, logger,
		scheduling.WithOptimizerMetrics(m))

	profiles, err := profile.NewClient(cfg.Profile.BaseURL,
		time.Duration(cfg.Profile.TimeoutMS)*time.Millisecond, m, logger)
	if err != nil {
		logger.Fatal("profile client failed", zap.Error(err))
	}

	inbox := idempotency.NewInbox(pool, idempotency.DefaultConfig(), logger)
	inbox.StartCleanup()
	defer inbox.Stop()

	store := postgres.NewScheduleStore(pool, logger)
	service := reoptimizer.NewService(store, profiles, optimizer, inbox, loc, logger).WithMetrics(m)

	poolCfg := workerpool.DefaultConfig()
	workers, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) error {
		return service.Handle(ctx, task.Payload)
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}
	workers.Start()
	defer workers.Stop()

	// Drain results so the channel never fills.
	go func() {
		for range workers.Results() {
		}
	}()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Kafka.Brokers
	consumerCfg.GroupID = cfg.Kafka.GroupID
	consumerCfg.Topics = []string{redpanda.TopicOptimizeRequests}

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.Message) error {
		m.KafkaMessagesConsumed.Inc()
		return workers.Submit(&workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Ctx:     ctx,
		})
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("reoptimizer started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group", cfg.Kafka.GroupID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("reoptimizer stopped")
}
