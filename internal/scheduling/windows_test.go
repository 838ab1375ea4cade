package scheduling

import (
	"testing"
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
)

func TestWindowsFullDay(t *testing.T) {
	pt := fixedTimes()
	now := pt.Date // midnight: nothing has passed yet

	windows := Windows(pt, 30, now)
	if len(windows) != 6 {
		t.Fatalf("window count: got %d, want 6", len(windows))
	}

	first := windows[0]
	if first.Kind != WindowBeforePrayer || first.Prayer != prayer.NameFajr {
		t.Errorf("first window: got %s/%s, want before_prayer/Fajr", first.Kind, first.Prayer)
	}
	if !first.Start.Equal(pt.Date) || !first.End.Equal(pt.Fajr.Add(-30*time.Minute)) {
		t.Errorf("first window span: %s to %s", first.Start.Format("15:04"), first.End.Format("15:04"))
	}

	// Fajr to Dhuhr is over six hours even after buffers.
	if windows[1].Kind != WindowFreeTime {
		t.Errorf("morning gap: got %s, want free_time", windows[1].Kind)
	}
	// Dhuhr to Asr and Asr to Maghrib are short gaps.
	if windows[2].Kind != WindowBetweenPrayers || windows[3].Kind != WindowBetweenPrayers {
		t.Errorf("afternoon gaps: got %s and %s, want between_prayers", windows[2].Kind, windows[3].Kind)
	}

	last := windows[len(windows)-1]
	if last.Kind != WindowAfterPrayer || last.Prayer != prayer.NameIsha {
		t.Errorf("last window: got %s/%s, want after_prayer/Isha", last.Kind, last.Prayer)
	}
	if !last.End.Equal(pt.Date.Add(24 * time.Hour)) {
		t.Errorf("last window should run to end of day, ends %s", last.End.Format("15:04"))
	}

	for i, w := range windows {
		if !w.End.After(w.Start) {
			t.Errorf("window %d has non-positive length: %s to %s",
				i, w.Start.Format("15:04"), w.End.Format("15:04"))
		}
		if w.BufferMinutes != 30 {
			t.Errorf("window %d buffer: got %d, want 30", i, w.BufferMinutes)
		}
	}
}

func TestWindowsOmitsPast(t *testing.T) {
	pt := fixedTimes()
	now := time.Date(2030, 1, 15, 14, 0, 0, 0, prayer.MalaysiaTime)

	windows := Windows(pt, 30, now)
	for _, w := range windows {
		if !w.End.After(now) {
			t.Errorf("window ending %s has already passed", w.End.Format("15:04"))
		}
	}
	// The pre-Fajr and morning windows are gone.
	if len(windows) != 4 {
		t.Errorf("window count at 14:00: got %d, want 4", len(windows))
	}
	if windows[0].Prayer != prayer.NameAsr {
		t.Errorf("first remaining window leads into %s, want Asr", windows[0].Prayer)
	}
}

func TestWindowsOmitsCollapsed(t *testing.T) {
	pt := fixedTimes()
	// A 60-minute buffer swallows the 75-minute Maghrib-to-Isha gap.
	windows := Windows(pt, 60, pt.Date)

	for _, w := range windows {
		if w.Kind == WindowBetweenPrayers && w.Prayer == prayer.NameIsha {
			t.Errorf("collapsed Maghrib-Isha window should be omitted: %s to %s",
				w.Start.Format("15:04"), w.End.Format("15:04"))
		}
	}
	if len(windows) != 5 {
		t.Errorf("window count with 60-minute buffer: got %d, want 5", len(windows))
	}
}

func TestWindowsZeroBuffer(t *testing.T) {
	pt := fixedTimes()
	windows := Windows(pt, 0, pt.Date)

	if len(windows) != 6 {
		t.Fatalf("window count: got %d, want 6", len(windows))
	}
	if !windows[0].End.Equal(pt.Fajr) {
		t.Errorf("zero buffer window should touch the prayer instant, ends %s",
			windows[0].End.Format("15:04"))
	}
}
