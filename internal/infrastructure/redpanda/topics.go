package redpanda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the scheduling engine.
const (
	// TopicOptimizeRequests carries requests to recompute a patient's
	// schedule, typically emitted when a profile or prescription changes.
	TopicOptimizeRequests = "schedule.optimize.requests"
	// TopicScheduleOptimized carries optimization proposals relayed
	// from the outbox.
	TopicScheduleOptimized = "schedule.optimized"
	// TopicRemindersDispatch carries reminder payloads for the
	// notification service.
	TopicRemindersDispatch = "reminders.dispatch"
	// TopicAuditTrail records every schedule change for review.
	TopicAuditTrail = "audit.trail"
	// TopicDeadLetter receives messages that exhausted their retries.
	TopicDeadLetter = "dead.letter"
)

// TopicConfig describes one topic to ensure at startup.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the engine's topics. Replication is 1
// for local development; production overrides it to 3.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	base := map[string]*string{
		"cleanup.policy":   ptr("delete"),
		"compression.type": ptr("snappy"),
	}
	withRetention := func(ms string) map[string]*string {
		m := map[string]*string{"retention.ms": ptr(ms)}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	return []TopicConfig{
		{
			Name:              TopicOptimizeRequests,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("86400000"), // 1 day
		},
		{
			Name:              TopicScheduleOptimized,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("604800000"), // 7 days
		},
		{
			Name:              TopicRemindersDispatch,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("86400000"),
		},
		{
			Name:              TopicAuditTrail,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs:           withRetention("2592000000"), // 30 days
		},
		{
			Name:              TopicDeadLetter,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs:           withRetention("604800000"),
		},
	}
}

// Admin performs topic management against the cluster.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates an admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(kgoClient), logger: logger}, nil
}

// EnsureTopics creates the engine's topics, tolerating ones that
// already exist.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	for _, cfg := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if errors.Is(r.Err, kerr.TopicAlreadyExists) {
					a.logger.Debug("topic exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// GroupLag returns per-topic, per-partition lag for a consumer group.
func (a *Admin) GroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck pings the cluster.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
