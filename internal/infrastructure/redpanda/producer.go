// Package redpanda provides Kafka-compatible streaming with franz-go.
// The scheduling engine publishes optimized schedules and reminder
// dispatches; volumes are modest, so the producer favors durability
// over batching throughput.
package redpanda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds producer settings.
type ProducerConfig struct {
	Brokers        []string
	LingerMS       int64
	Compression    string
	MaxRetries     int
	RetryBackoffMS int64
}

// DefaultProducerConfig returns defaults tuned for reminder traffic:
// small batches, all-replica acks.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:        []string{"localhost:9092"},
		LingerMS:       20,
		Compression:    "snappy",
		MaxRetries:     3,
		RetryBackoffMS: 100,
	}
}

// Producer publishes records to Redpanda.
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	sent        atomic.Int64
	produceErrs atomic.Int64
}

// NewProducer creates a producer.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(producerOpts(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger,
		tracer: otel.Tracer("redpanda-producer"),
	}, nil
}

func producerOpts(cfg ProducerConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return time.Duration(cfg.RetryBackoffMS) * time.Millisecond * time.Duration(attempt+1)
		}),
	}

	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}
	return opts
}

// Publish sends one record and waits for the acknowledgment. It
// satisfies the outbox Publisher interface.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "produce_message",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.Int("value_size", len(value)),
		))
	defer span.End()

	record := p.newRecord(ctx, topic, key, value)

	done := make(chan error, 1)
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err == nil {
			p.sent.Add(1)
			p.logger.Debug("message produced",
				zap.String("topic", r.Topic),
				zap.Int32("partition", r.Partition),
				zap.Int64("offset", r.Offset))
		}
		done <- err
	})

	if err := <-done; err != nil {
		p.produceErrs.Add(1)
		span.RecordError(err)
		p.logger.Error("produce failed",
			zap.String("topic", topic),
			zap.Error(err))
		return err
	}
	return nil
}

// PublishAsync sends without waiting; callback may be nil.
func (p *Producer) PublishAsync(ctx context.Context, topic, key string, value []byte, callback func(error)) {
	ctx, span := p.tracer.Start(ctx, "produce_async",
		trace.WithAttributes(attribute.String("topic", topic)))

	record := p.newRecord(ctx, topic, key, value)

	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		span.End()
		if err != nil {
			p.produceErrs.Add(1)
			p.logger.Error("async produce failed",
				zap.String("topic", topic),
				zap.Error(err))
		} else {
			p.sent.Add(1)
		}
		if callback != nil {
			callback(err)
		}
	})
}

// newRecord builds a record with the W3C traceparent header attached
// so consumers can join the producing trace.
func (p *Producer) newRecord(ctx context.Context, topic, key string, value []byte) *kgo.Record {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		record.Headers = append(record.Headers, kgo.RecordHeader{
			Key: "traceparent",
			Value: []byte(fmt.Sprintf("00-%s-%s-%02x",
				sc.TraceID().String(), sc.SpanID().String(), sc.TraceFlags())),
		})
	}
	return record
}

// Flush blocks until buffered records are sent.
func (p *Producer) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes and closes the client.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close failed", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// Stats reports totals since startup.
func (p *Producer) Stats() (sent, errors int64) {
	return p.sent.Load(), p.produceErrs.Load()
}
