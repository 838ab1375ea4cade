// Package workerpool provides a bounded worker pool. The reoptimizer
// uses it to cap concurrent schedule recomputations when a method or
// Ramadan transition touches many patients at once.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work: an opaque payload keyed by the message it
// came from.
type Task struct {
	ID      string
	Payload []byte
	Ctx     context.Context
}

// Result is the outcome of one task after all retry attempts.
type Result struct {
	TaskID   string
	Err      error
	Attempts int
}

// WorkerFunc processes one task. A returned error triggers a retry
// until the attempt budget runs out.
type WorkerFunc func(ctx context.Context, task *Task) error

// Config tunes the pool.
type Config struct {
	Workers     int
	QueueSize   int
	MaxRetries  int
	RetryDelay  time.Duration
	StopTimeout time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns defaults for schedule recomputation. A
// recompute is CPU-light, so a small pool keeps database pressure
// bounded.
func DefaultConfig() Config {
	return Config{
		Workers:     16,
		QueueSize:   2048,
		MaxRetries:  2,
		RetryDelay:  200 * time.Millisecond,
		StopTimeout: 30 * time.Second,
		MaxBackoff:  5 * time.Second,
	}
}

// Errors returned by Submit.
var (
	ErrPoolClosed = errors.New("pool is shutting down")
	ErrQueueFull  = errors.New("task queue is full")
)

// Pool runs tasks on a fixed set of workers and reports outcomes on a
// results channel. Construct with New, then Start once.
type Pool struct {
	cfg    Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks   chan *Task
	results chan *Result
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	depth     atomic.Int64
}

// New creates a pool; call Start to launch workers.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		fn:      fn,
		logger:  logger,
		tasks:   make(chan *Task, cfg.QueueSize),
		results: make(chan *Result, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit enqueues a task without blocking. Callers own backpressure:
// a full queue is an error, not a stall, so the Kafka consumer can
// leave the offset uncommitted and take the message again later.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		p.depth.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Results exposes completed task outcomes. The channel is closed by
// Stop.
func (p *Pool) Results() <-chan *Result {
	return p.results
}

// Stop rejects new submissions, drains queued tasks and waits up to
// StopTimeout for workers to finish.
func (p *Pool) Stop() {
	p.cancel()
	close(p.tasks)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("worker pool stop timed out",
			zap.Int64("queue_depth", p.depth.Load()))
	}
	close(p.results)
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.depth.Add(-1)
		p.report(p.attempt(task))
	}
}

// attempt runs one task with capped exponential backoff between
// retries. The task's own context, when set, wins over the pool's.
func (p *Pool) attempt(task *Task) *Result {
	ctx := task.Ctx
	if ctx == nil {
		ctx = p.ctx
	}

	res := &Result{TaskID: task.ID}
	delay := p.cfg.RetryDelay

	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		res.Attempts++
		err := p.fn(ctx, task)
		if err == nil {
			return res
		}

		if res.Attempts > p.cfg.MaxRetries {
			res.Err = fmt.Errorf("task failed after %d attempts: %w", res.Attempts, err)
			return res
		}

		p.retried.Add(1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", res.Attempts),
			zap.Error(err))

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(delay):
		}
		if delay *= 2; delay > p.cfg.MaxBackoff {
			delay = p.cfg.MaxBackoff
		}
	}
}

func (p *Pool) report(res *Result) {
	if res.Err == nil {
		p.completed.Add(1)
	} else {
		p.failed.Add(1)
		p.logger.Error("task failed",
			zap.String("task_id", res.TaskID),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Err))
	}

	select {
	case p.results <- res:
	default:
		// The consumer stopped draining; counters still record the
		// outcome.
		p.logger.Warn("result channel full, dropping result",
			zap.String("task_id", res.TaskID))
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted  int64
	Completed  int64
	Failed     int64
	Retried    int64
	QueueDepth int64
	QueueCap   int
	Workers    int
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Retried:    p.retried.Load(),
		QueueDepth: p.depth.Load(),
		QueueCap:   p.cfg.QueueSize,
		Workers:    p.cfg.Workers,
	}
}

// Healthy reports whether the queue has headroom.
func (p *Pool) Healthy() bool {
	s := p.Stats()
	return float64(s.QueueDepth)/float64(s.QueueCap) < 0.9
}
