package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
)

// OutboxEntry is one event waiting to be published. Entries are
// written in the same transaction as the domain change and relayed
// to the broker by the processor.
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	Topic         string
	Key           string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig tunes the outbox processor.
type OutboxConfig struct {
	BatchSize       int
	PollInterval    time.Duration
	MaxRetries      int
	DeadLetterTopic string
}

// DefaultOutboxConfig returns processor defaults. Reminder latency
// tolerates slower polling than an e-commerce flow, so the interval
// is a comfortable 250ms.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    250 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: "dead.letter",
	}
}

// Publisher sends one record to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// advisory lock key for the outbox processor; a single relay runs at
// a time across all replicas.
const outboxLockID int64 = 740031205

// Outbox polls the outbox table and relays entries to the broker.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates an outbox processor.
func NewOutbox(pool *pgxpool.Pool, publisher Publisher, cfg OutboxConfig, m *metrics.Metrics, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOutboxConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = def.DeadLetterTopic
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// WriteEntry inserts an outbox entry inside the caller's transaction.
// Call it in the same transaction as the domain write.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	const q = `INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, topic, message_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := tx.QueryRow(ctx, q,
		entry.AggregateID, entry.AggregateType, entry.EventType,
		entry.Payload, entry.Topic, entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// Start launches the processing loop.
func (o *Outbox) Start() {
	go o.relayLoop()
	o.logger.Info("outbox processor started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop drains the loop and waits for it to exit.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox processor stopped")
}

func (o *Outbox) relayLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.relayBatch()
		}
	}
}

func (o *Outbox) relayBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_process_batch")
	defer span.End()

	if !o.tryLock(ctx) {
		return
	}
	defer o.unlock(ctx)

	entries, err := o.pending(ctx)
	if err != nil {
		o.logger.Error("fetch outbox entries failed", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}

	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.relay(ctx, entry); err != nil {
			o.logger.Error("outbox entry failed",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
		}
	}

	if o.metrics != nil {
		if n, err := o.PendingCount(ctx); err == nil {
			o.metrics.OutboxPending.Set(float64(n))
		}
	}
}

func (o *Outbox) tryLock(ctx context.Context) bool {
	var acquired bool
	if err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", outboxLockID).Scan(&acquired); err != nil {
		return false
	}
	return acquired
}

func (o *Outbox) unlock(ctx context.Context) {
	o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", outboxLockID)
}

func (o *Outbox) pending(ctx context.Context) ([]*OutboxEntry, error) {
	const q = `SELECT id, aggregate_id, aggregate_type, event_type, payload,
		topic, message_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`

	rows, err := o.pool.Query(ctx, q, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType,
			&e.Payload, &e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// relay publishes one entry, recording the failure for retry or
// marking the entry processed.
func (o *Outbox) relay(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		o.recordFailure(ctx, entry.ID, err)
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := o.pool.Exec(ctx,
		"UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1",
		entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

func (o *Outbox) recordFailure(ctx context.Context, id int64, cause error) {
	const q = `UPDATE outbox
		SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
		WHERE id = $2`
	if _, err := o.pool.Exec(ctx, q, cause.Error(), id); err != nil {
		o.logger.Error("retry count update failed", zap.Error(err))
	}
}

// MoveToDeadLetter publishes entries that exhausted their retries to
// the dead-letter topic and marks them processed. Returns the number
// of entries moved.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	const q = `SELECT id, aggregate_id, event_type, payload, topic, message_key,
		retry_count, last_error, created_at
		FROM outbox
		WHERE processed_at IS NULL AND retry_count >= $1
		FOR UPDATE SKIP LOCKED`

	rows, err := o.pool.Query(ctx, q, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query exhausted entries: %w", err)
	}
	defer rows.Close()

	var moved int64
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.Payload,
			&e.Topic, &e.Key, &e.RetryCount, &e.LastError, &e.CreatedAt,
		); err != nil {
			continue
		}

		wrapped, _ := json.Marshal(map[string]interface{}{
			"original_topic": e.Topic,
			"event_type":     e.EventType,
			"aggregate_id":   e.AggregateID,
			"payload":        e.Payload,
			"retry_count":    e.RetryCount,
			"last_error":     e.LastError,
			"created_at":     e.CreatedAt,
		})

		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, e.Key, wrapped); err != nil {
			o.logger.Error("dead letter publish failed", zap.Error(err))
			continue
		}
		if _, err := o.pool.Exec(ctx,
			"UPDATE outbox SET processed_at = NOW() WHERE id = $1", e.ID); err != nil {
			o.logger.Error("dead letter mark failed", zap.Error(err))
			continue
		}
		moved++
	}
	return moved, nil
}

// PendingCount returns the number of unprocessed entries still within
// their retry budget.
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := o.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count < $1",
		o.config.MaxRetries).Scan(&n)
	return n, err
}

// CleanupProcessed deletes processed entries older than the given age.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `DELETE FROM outbox
		WHERE processed_at IS NOT NULL AND processed_at < NOW() - $1::interval`

	tag, err := o.pool.Exec(ctx, q, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
