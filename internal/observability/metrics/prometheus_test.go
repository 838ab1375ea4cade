package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PrayerCalculations.Inc()
	m.PrayerFallbacks.Inc()
	m.ConflictsDetected.Add(3)
	m.OutboxPending.Set(7)
	m.CircuitBreakerState.WithLabelValues("profile-service").Set(1)

	if got := testutil.ToFloat64(m.PrayerCalculations); got != 1 {
		t.Errorf("prayer_calculations_total: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConflictsDetected); got != 3 {
		t.Errorf("schedule_conflicts_detected_total: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.OutboxPending); got != 7 {
		t.Errorf("outbox_pending_entries: got %v, want 7", got)
	}

	// A second construction against a fresh registry must not collide.
	New(prometheus.NewRegistry())
}
