package scheduling

import (
	"reflect"
	"testing"
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
)

// fixedTimes builds a deterministic prayer schedule for 2030-01-15 in
// Malaysian time, so conflict arithmetic is exact.
func fixedTimes() prayer.Times {
	at := func(h, m int) time.Time {
		return time.Date(2030, 1, 15, h, m, 0, 0, prayer.MalaysiaTime)
	}
	return prayer.Times{
		Date:    time.Date(2030, 1, 15, 0, 0, 0, 0, prayer.MalaysiaTime),
		Madhab:  prayer.Shafi,
		Method:  prayer.MethodJAKIM,
		Fajr:    at(6, 0),
		Sunrise: at(7, 20),
		Dhuhr:   at(13, 20),
		Asr:     at(16, 45),
		Maghrib: at(19, 20),
		Isha:    at(20, 35),
		Qibla:   292.5,
	}
}

func TestDetectConflictsNone(t *testing.T) {
	pt := fixedTimes()
	intake := pt.Dhuhr.Add(-3 * time.Hour)

	conflicts := DetectConflicts([]time.Time{intake}, pt, 30)
	if conflicts == nil {
		t.Fatal("conflicts must never be nil")
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(conflicts))
	}
}

func TestDetectConflictsSeverityTiers(t *testing.T) {
	pt := fixedTimes()

	cases := []struct {
		name   string
		offset time.Duration
		buffer int
		want   Severity
	}{
		{"exact collision", 0, 30, SeverityHigh},
		{"ten minutes out", 10 * time.Minute, 30, SeverityHigh},
		{"fifteen minutes out", 15 * time.Minute, 30, SeverityHigh},
		{"inside half buffer", 18 * time.Minute, 40, SeverityMedium},
		{"outer edge", 25 * time.Minute, 30, SeverityLow},
		{"at buffer boundary", 30 * time.Minute, 30, SeverityLow},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			conflicts := DetectConflicts([]time.Time{pt.Dhuhr.Add(c.offset)}, pt, c.buffer)
			if len(conflicts) != 1 {
				t.Fatalf("expected 1 conflict, got %d", len(conflicts))
			}
			if conflicts[0].Severity != c.want {
				t.Errorf("severity: got %s, want %s", conflicts[0].Severity, c.want)
			}
			if conflicts[0].Prayer != prayer.NameDhuhr {
				t.Errorf("prayer: got %s, want Dhuhr", conflicts[0].Prayer)
			}
		})
	}
}

func TestDetectConflictsZeroBuffer(t *testing.T) {
	pt := fixedTimes()

	if got := DetectConflicts([]time.Time{pt.Maghrib}, pt, 0); len(got) != 1 {
		t.Errorf("exact collision with zero buffer: got %d conflicts, want 1", len(got))
	}
	if got := DetectConflicts([]time.Time{pt.Maghrib.Add(time.Minute)}, pt, 0); len(got) != 0 {
		t.Errorf("one minute off with zero buffer: got %d conflicts, want 0", len(got))
	}
}

func TestDetectConflictsBeforePrayer(t *testing.T) {
	pt := fixedTimes()
	intake := pt.Asr.Add(-20 * time.Minute)

	conflicts := DetectConflicts([]time.Time{intake}, pt, 30)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].MinutesFromPrayer != 20 {
		t.Errorf("distance: got %d, want 20", conflicts[0].MinutesFromPrayer)
	}
}

func TestDetectConflictsOverlappingBuffers(t *testing.T) {
	pt := fixedTimes()
	// Maghrib 19:20 and Isha 20:35 are 75 minutes apart; with a
	// 40-minute buffer an intake midway conflicts with both.
	intake := time.Date(2030, 1, 15, 19, 58, 0, 0, prayer.MalaysiaTime)

	conflicts := DetectConflicts([]time.Time{intake}, pt, 40)
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %d", len(conflicts))
	}
	names := map[string]bool{}
	for _, c := range conflicts {
		names[c.Prayer] = true
	}
	if !names[prayer.NameMaghrib] || !names[prayer.NameIsha] {
		t.Errorf("expected Maghrib and Isha conflicts, got %v", names)
	}
}

func TestDetectConflictsSuggestedTime(t *testing.T) {
	pt := fixedTimes()
	conflicts := DetectConflicts([]time.Time{pt.Fajr.Add(5 * time.Minute)}, pt, 30)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}

	want := pt.Fajr.Add(40 * time.Minute)
	if !conflicts[0].SuggestedTime.Equal(want) {
		t.Errorf("suggestion: got %s, want %s (buffer plus margin past the prayer)",
			conflicts[0].SuggestedTime.Format("15:04"), want.Format("15:04"))
	}

	// The suggestion itself must be conflict-free at the same buffer.
	if again := DetectConflicts([]time.Time{conflicts[0].SuggestedTime}, pt, 30); len(again) != 0 {
		t.Errorf("suggested time still conflicts: %v", again)
	}
}

func TestDetectConflictsPure(t *testing.T) {
	pt := fixedTimes()
	intakes := []time.Time{pt.Dhuhr, pt.Asr.Add(10 * time.Minute), pt.Dhuhr.Add(-5 * time.Hour)}

	a := DetectConflicts(intakes, pt, 30)
	b := DetectConflicts(intakes, pt, 30)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs should produce identical conflicts")
	}
}
