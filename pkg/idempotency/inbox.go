// Package idempotency implements the inbox pattern so reoptimization
// requests are processed at most once. Keys are deterministic hashes
// of patient, schedule date and trigger, so redelivered broker
// messages collapse onto the same entry.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status of an inbox entry.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// Entry is one inbox record.
type Entry struct {
	Key         string
	HandlerName string
	Status      Status
	Payload     json.RawMessage
	Result      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// Config tunes the inbox.
type Config struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// RecoveryTimeout is when a STARTED entry is treated as abandoned
	// by a crashed worker.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns inbox defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// ErrDuplicate indicates the message was already processed.
var ErrDuplicate = errors.New("duplicate message: already processed")

// ErrInProgress indicates another worker holds the entry.
var ErrInProgress = errors.New("message in progress by another handler")

// errAlreadyDone carries a stored result out of the status dispatch.
type errAlreadyDone struct{ result json.RawMessage }

func (errAlreadyDone) Error() string { return "already processed" }

// Inbox manages at-most-once processing backed by Postgres.
type Inbox struct {
	pool   *pgxpool.Pool
	config Config
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox.
func NewInbox(pool *pgxpool.Pool, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ProcessFunc is an idempotent handler.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// ProcessResult reports what Process did.
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// Process runs fn under the inbox guarantee: a finished key returns
// its stored result without re-running, a started key is rejected
// until the recovery timeout passes, a recoverable key is retried.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if err := i.dispatch(ctx, entry, key); err != nil {
		var done errAlreadyDone
		if errors.As(err, &done) {
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: done.result}, nil
		}
		return nil, err
	}

	if err := i.claim(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		status := StatusRecoverable
		if isTerminal(handlerErr) {
			status = StatusFailed
		}
		if err := i.setStatus(ctx, key, status, nil, handlerErr.Error()); err != nil {
			i.logger.Error("status update failed", zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	if err := i.setStatus(ctx, key, StatusFinished, result, ""); err != nil {
		// Handler succeeded; a stale entry is retried harmlessly.
		i.logger.Error("mark finished failed", zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

// dispatch decides what an existing entry means for this attempt. A
// nil return means the key may be claimed and processed.
func (i *Inbox) dispatch(ctx context.Context, entry *Entry, key string) error {
	if entry == nil {
		return nil
	}
	switch entry.Status {
	case StatusFinished:
		return errAlreadyDone{result: entry.Result}
	case StatusFailed:
		return fmt.Errorf("message previously failed permanently: %s", key)
	case StatusStarted:
		if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
			return ErrInProgress
		}
		if err := i.setStatus(ctx, key, StatusRecoverable, nil, ""); err != nil {
			return fmt.Errorf("mark recoverable: %w", err)
		}
	}
	return nil
}

// RequestKey builds the deterministic key for a reoptimization
// request. The trigger distinguishes profile updates from calendar
// rollovers for the same patient and date.
func RequestKey(patientID, scheduleDate, trigger string) string {
	data := strings.Join([]string{patientID, scheduleDate, trigger}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// lookup returns the entry for key, or nil when none exists.
func (i *Inbox) lookup(ctx context.Context, key string) (*Entry, error) {
	const q = `SELECT idempotency_key, handler_name, status, payload, result,
		created_at, updated_at, expires_at
		FROM inbox WHERE idempotency_key = $1`

	var e Entry
	err := i.pool.QueryRow(ctx, q, key).Scan(
		&e.Key, &e.HandlerName, &e.Status,
		&e.Payload, &e.Result, &e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &e, nil
}

// claim inserts a STARTED entry, or takes over a RECOVERABLE one. Any
// other conflict means a concurrent worker won the key.
func (i *Inbox) claim(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	const q = `INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key`

	var returned string
	err := i.pool.QueryRow(ctx, q, key, handlerName, StatusStarted, payload,
		time.Now().Add(i.config.DefaultTTL)).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("claim inbox entry: %w", err)
	}
	return nil
}

func (i *Inbox) setStatus(ctx context.Context, key string, status Status, result json.RawMessage, errMsg string) error {
	if errMsg != "" && result == nil {
		result, _ = json.Marshal(map[string]string{"error": errMsg})
	}

	const q = `UPDATE inbox SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3`
	_, err := i.pool.Exec(ctx, q, status, result, key)
	return err
}

// StartCleanup launches the expiry sweeper.
func (i *Inbox) StartCleanup() {
	go i.sweepLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the sweeper.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) sweepLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.sweep(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

// sweep deletes expired entries and finished entries older than the
// retention window.
func (i *Inbox) sweep(ctx context.Context) error {
	const q = `DELETE FROM inbox
		WHERE expires_at < NOW()
		   OR (status = 'FINISHED' AND updated_at < NOW() - INTERVAL '7 days')`

	tag, err := i.pool.Exec(ctx, q)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", n))
	}
	return nil
}

// RecoverStaleEntries releases STARTED entries abandoned past the
// recovery timeout.
func (i *Inbox) RecoverStaleEntries(ctx context.Context) (int64, error) {
	const q = `UPDATE inbox SET status = 'RECOVERABLE', updated_at = NOW()
		WHERE status = 'STARTED' AND updated_at < NOW() - $1::interval`

	tag, err := i.pool.Exec(ctx, q, i.config.RecoveryTimeout.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// isTerminal reports whether an error is not worth retrying.
func isTerminal(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"validation", "invalid", "not found", "unknown madhab", "unknown calculation method"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
