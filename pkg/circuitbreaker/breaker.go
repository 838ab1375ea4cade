// Package circuitbreaker wraps sony/gobreaker for calls to the
// external services the scheduling engine depends on, with
// OpenTelemetry counters and zap logging on state changes.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State of the circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes one breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval resets the failure counts while closed.
	Interval time.Duration
	// Timeout before an open circuit probes again.
	Timeout time.Duration
	// FailureThreshold is consecutive failures before opening.
	FailureThreshold uint32
	// FailureRatio opens the circuit once this share of requests fail,
	// once at least MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
	// OnStateChange, when set, is invoked on every transition. The
	// profile client uses it to drive a Prometheus gauge.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns defaults suitable for the profile and schedule
// store services: open fast, retry within a minute.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      8,
	}
}

// CircuitBreaker wraps gobreaker with observability. State is read
// from the underlying breaker, never tracked separately.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	requests metric.Int64Counter
	failures metric.Int64Counter
	rejected metric.Int64Counter
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
	}

	meter := otel.Meter("circuit-breaker")
	var err error
	if c.requests, err = meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Requests routed through the breaker")); err != nil {
		return nil, fmt.Errorf("request counter: %w", err)
	}
	if c.failures, err = meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Requests that failed downstream")); err != nil {
		return nil, fmt.Errorf("failure counter: %w", err)
	}
	if c.rejected, err = meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Requests rejected by an open circuit")); err != nil {
		return nil, fmt.Errorf("rejected counter: %w", err)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(mapState(to))))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, mapState(from), mapState(to))
			}
		},
	})

	return c, nil
}

// Execute runs fn through the breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	ctx, span := c.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", c.name),
			attribute.String("state", string(c.GetState())),
		))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("name", c.name))
	c.requests.Add(ctx, 1, attrs)

	result, err := c.cb.Execute(fn)
	if err != nil {
		if isRejection(err) {
			c.rejected.Add(ctx, 1, attrs)
			span.SetAttributes(attribute.Bool("circuit_open", true))
		} else {
			c.failures.Add(ctx, 1, attrs)
		}
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// ExecuteWithFallback runs fn, routing open-circuit rejections to the
// fallback instead of the caller. Downstream failures while the
// circuit is closed still surface directly.
func (c *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() (interface{}, error), fallback func(error) (interface{}, error)) (interface{}, error) {
	result, err := c.Execute(ctx, fn)
	if err != nil {
		if isRejection(err) {
			c.logger.Warn("circuit open, using fallback",
				zap.String("breaker", c.name),
				zap.Error(err))
			return fallback(err)
		}
		return nil, err
	}
	return result, nil
}

// GetState returns the current circuit state.
func (c *CircuitBreaker) GetState() State {
	return mapState(c.cb.State())
}

// IsOpen reports whether the circuit is open.
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

func isRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
