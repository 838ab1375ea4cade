// Package metrics provides Prometheus metrics for the scheduling engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrayerCalculations    prometheus.Counter
	PrayerCacheHits       prometheus.Counter
	PrayerCacheMisses     prometheus.Counter
	PrayerFallbacks       prometheus.Counter
	ConflictsDetected     prometheus.Counter
	SchedulesOptimized    prometheus.Counter
	OptimizationDuration  prometheus.Histogram
	ProposalsPublished    prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates all metrics and registers them with reg. Services pass
// prometheus.DefaultRegisterer; tests pass a fresh registry so repeated
// construction does not panic on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PrayerCalculations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayer_calculations_total",
			Help: "Total astronomical prayer time calculations",
		}),
		PrayerCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayer_cache_hits_total",
			Help: "Prayer time lookups served from cache",
		}),
		PrayerCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayer_cache_misses_total",
			Help: "Prayer time lookups that required computation",
		}),
		PrayerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prayer_fallbacks_total",
			Help: "Calculations that fell back to the approximate table",
		}),
		ConflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedule_conflicts_detected_total",
			Help: "Medication intakes flagged as conflicting with a prayer",
		}),
		SchedulesOptimized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedules_optimized_total",
			Help: "Schedule optimization runs completed",
		}),
		OptimizationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedule_optimization_duration_seconds",
			Help:    "Schedule optimization duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		ProposalsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schedule_proposals_published_total",
			Help: "Optimized schedule proposals written for dispatch",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.PrayerCalculations,
		m.PrayerCacheHits,
		m.PrayerCacheMisses,
		m.PrayerFallbacks,
		m.ConflictsDetected,
		m.SchedulesOptimized,
		m.OptimizationDuration,
		m.ProposalsPublished,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
