package scheduling

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
	"github.com/shifaa-health/salat-engine/internal/prayer"
)

// resolutionMargin is added beyond the buffer when relocating a
// conflicting dose. Slightly larger than the detector's suggestion
// margin so the relocated time also clears the next pass's check near
// back-to-back prayers such as Asr and Maghrib.
const resolutionMargin = 15

// maxResolvePasses bounds the fixed-point re-check after relocating a
// dose. Two passes are enough for any realistic prayer spacing; a dose
// still conflicting afterwards reverts to its original time with a
// warning rather than looping.
const maxResolvePasses = 2

// DefaultBufferMinutes is used when a config leaves the buffer unset.
const DefaultBufferMinutes = 30

// Config controls one optimization run.
type Config struct {
	BufferMinutes int                `json:"buffer_minutes" yaml:"bufferMinutes"`
	Madhab        prayer.Madhab      `json:"madhab" yaml:"madhab"`
	Method        prayer.Method      `json:"method" yaml:"method"`
	Adjustments   prayer.Adjustments `json:"adjustments" yaml:"adjustments"`
	Ramadan       bool               `json:"ramadan" yaml:"ramadan"`
}

// Alternative records one relocated dose with its rationale.
type Alternative struct {
	Original  time.Time `json:"original"`
	Suggested time.Time `json:"suggested"`
	Prayer    string    `json:"prayer"`
	Reason    string    `json:"reason"`
}

// Result is the full output of one optimization run. The slice fields
// are always non-nil, possibly empty, so downstream UI can render a
// "no conflicts" state without nil checks.
type Result struct {
	OptimizedTimes []time.Time        `json:"optimized_times"`
	Conflicts      []Conflict         `json:"conflicts"`
	Warnings       []string           `json:"warnings"`
	CulturalNotes  []string           `json:"cultural_notes"`
	Alternatives   []Alternative      `json:"alternative_suggestions"`
	PrayerTimes    prayer.Times       `json:"prayer_times"`
	Ramadan        *RamadanAdjustment `json:"ramadan_adjustment,omitempty"`
}

// Optimizer rewrites medication schedules around prayer windows. It
// owns no mutable state beyond its injected collaborators.
type Optimizer struct {
	provider *prayer.Provider
	logger   *zap.Logger
	m        *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithOptimizerMetrics attaches engine metrics.
func WithOptimizerMetrics(m *metrics.Metrics) OptimizerOption {
	return func(o *Optimizer) { o.m = m }
}

// WithOptimizerClock substitutes the wall clock used for duration
// metrics.
func WithOptimizerClock(now func() time.Time) OptimizerOption {
	return func(o *Optimizer) { o.now = now }
}

// NewOptimizer creates an optimizer backed by the given provider.
func NewOptimizer(provider *prayer.Provider, logger *zap.Logger, opts ...OptimizerOption) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Optimizer{
		provider: provider,
		logger:   logger,
		tracer:   otel.Tracer("schedule-optimizer"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize rewrites the given intake times so none falls within the
// buffer of a prayer. Conflict-free doses pass through unchanged; an
// empty schedule returns unchanged with a warning, never an error.
// Only invalid configuration is an error; calculation trouble is
// absorbed by the provider's fallback and surfaces as a cultural note.
func (o *Optimizer) Optimize(ctx context.Context, intakes []time.Time, coords prayer.Coordinates, date time.Time, cfg Config) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "optimize_schedule",
		trace.WithAttributes(
			attribute.Int("intake_count", len(intakes)),
			attribute.Int("buffer_minutes", cfg.BufferMinutes),
			attribute.Bool("ramadan", cfg.Ramadan),
		))
	defer span.End()

	started := o.now()

	if cfg.BufferMinutes <= 0 {
		cfg.BufferMinutes = DefaultBufferMinutes
	}

	pt, err := o.provider.GetTimes(ctx, coords, date, cfg.Madhab, cfg.Method, cfg.Adjustments)
	if err != nil {
		return nil, fmt.Errorf("prayer times: %w", err)
	}

	res := &Result{
		OptimizedTimes: make([]time.Time, 0, len(intakes)),
		Conflicts:      make([]Conflict, 0),
		Warnings:       make([]string, 0),
		CulturalNotes:  make([]string, 0),
		Alternatives:   make([]Alternative, 0),
		PrayerTimes:    pt,
	}

	if pt.Fallback {
		res.CulturalNotes = append(res.CulturalNotes,
			"Prayer times are approximate fallback values for this location; verify against your local authority before relying on them.")
	}

	if len(intakes) == 0 {
		res.Warnings = append(res.Warnings, "medication schedule is empty; nothing to optimize")
		return res, nil
	}

	for _, intake := range intakes {
		conflicts := DetectConflicts([]time.Time{intake}, pt, cfg.BufferMinutes)
		if len(conflicts) == 0 {
			res.OptimizedTimes = append(res.OptimizedTimes, intake)
			continue
		}
		res.Conflicts = append(res.Conflicts, conflicts...)
		o.count(func(m *metrics.Metrics) { m.ConflictsDetected.Add(float64(len(conflicts))) })

		moved, alt, ok := o.resolve(intake, pt, cfg.BufferMinutes)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"could not find a conflict-free time for the %s dose within %d passes; kept original time",
				intake.Format("15:04"), maxResolvePasses))
			res.OptimizedTimes = append(res.OptimizedTimes, intake)
			continue
		}

		res.OptimizedTimes = append(res.OptimizedTimes, moved)
		res.Alternatives = append(res.Alternatives, alt)
		res.CulturalNotes = append(res.CulturalNotes, alt.Reason)
	}

	if cfg.Ramadan {
		adj := AdjustForRamadan(res.OptimizedTimes, pt)
		res.Ramadan = adj
		res.OptimizedTimes = adj.AdjustedSchedule
		res.CulturalNotes = append(res.CulturalNotes,
			"Schedule adjusted for the Ramadan fast: daytime doses were moved after iftar.")
	}

	o.count(func(m *metrics.Metrics) {
		m.SchedulesOptimized.Inc()
		m.OptimizationDuration.Observe(o.now().Sub(started).Seconds())
	})

	o.logger.Debug("schedule optimized",
		zap.Int("intakes", len(intakes)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("moved", len(res.Alternatives)),
		zap.Bool("fallback_prayer_times", pt.Fallback))

	return res, nil
}

// resolve relocates one conflicting dose: the first prayer within
// buffer of the current candidate pushes it to prayer + buffer +
// resolutionMargin, and the candidate is re-checked against all five
// prayers up to maxResolvePasses times. Distance is measured in whole
// minutes through the same helper DetectConflicts uses, so every dose
// handed in with a detected conflict relocates here too. Reports
// ok=false when the bounded loop fails to converge.
func (o *Optimizer) resolve(intake time.Time, pt prayer.Times, bufferMinutes int) (time.Time, Alternative, bool) {
	shift := time.Duration(bufferMinutes+resolutionMargin) * time.Minute

	candidate := intake
	var lastPrayer string
	for pass := 0; pass <= maxResolvePasses; pass++ {
		var conflicting *prayer.Prayer
		for _, p := range pt.Ordered() {
			if minutesApart(candidate, p.Time) <= bufferMinutes {
				conflicting = &prayer.Prayer{Name: p.Name, Time: p.Time}
				break
			}
		}
		if conflicting == nil {
			if lastPrayer == "" {
				// Never conflicted in the first place.
				return candidate, Alternative{}, true
			}
			return candidate, Alternative{
				Original:  intake,
				Suggested: candidate,
				Prayer:    lastPrayer,
				Reason: fmt.Sprintf("Moved dose from %s to %s to keep a %d-minute buffer around the %s prayer.",
					intake.Format("15:04"), candidate.Format("15:04"), bufferMinutes, lastPrayer),
			}, true
		}
		lastPrayer = conflicting.Name
		candidate = conflicting.Time.Add(shift)
	}

	return intake, Alternative{}, false
}

func (o *Optimizer) count(fn func(*metrics.Metrics)) {
	if o.m != nil {
		fn(o.m)
	}
}
