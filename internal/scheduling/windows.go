package scheduling

import (
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
)

// WindowKind labels a free interval by its position relative to the
// day's prayers.
type WindowKind string

const (
	WindowBeforePrayer   WindowKind = "before_prayer"
	WindowAfterPrayer    WindowKind = "after_prayer"
	WindowBetweenPrayers WindowKind = "between_prayers"
	WindowFreeTime       WindowKind = "free_time"
)

// freeTimeThreshold promotes a between-prayers interval to a free-time
// block: gaps this large are unconstrained from a dosing perspective.
const freeTimeThreshold = 4 * time.Hour

// Window is a free interval of the day in which a dose can be placed
// without conflicting with a prayer.
type Window struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Kind          WindowKind `json:"kind"`
	Prayer        string     `json:"prayer"`
	BufferMinutes int        `json:"buffer_minutes"`
}

// Windows partitions the calendar day into the free intervals around
// the five prayers. Intervals of zero or negative length (overlapping
// buffers, day boundaries) are omitted, as are windows that have fully
// passed relative to now. Callers inject now so the output is
// testable.
func Windows(pt prayer.Times, bufferMinutes int, now time.Time) []Window {
	buffer := time.Duration(bufferMinutes) * time.Minute
	ordered := pt.Ordered()

	dayStart := pt.Date
	dayEnd := pt.Date.Add(24 * time.Hour)

	candidates := make([]Window, 0, len(ordered)+1)

	// Interval leading into each prayer, bounded below by the previous
	// prayer's buffer (or the start of day for Fajr).
	prevEnd := dayStart
	prevName := ""
	for _, p := range ordered {
		w := Window{
			Start:         prevEnd,
			End:           p.Time.Add(-buffer),
			Prayer:        p.Name,
			BufferMinutes: bufferMinutes,
		}
		switch {
		case prevName == "":
			w.Kind = WindowBeforePrayer
		case w.End.Sub(w.Start) >= freeTimeThreshold:
			w.Kind = WindowFreeTime
		default:
			w.Kind = WindowBetweenPrayers
		}
		candidates = append(candidates, w)

		prevEnd = p.Time.Add(buffer)
		prevName = p.Name
	}

	// The evening after the last prayer, to end of day.
	candidates = append(candidates, Window{
		Start:         prevEnd,
		End:           dayEnd,
		Kind:          WindowAfterPrayer,
		Prayer:        prevName,
		BufferMinutes: bufferMinutes,
	})

	windows := make([]Window, 0, len(candidates))
	for _, w := range candidates {
		if !w.End.After(w.Start) {
			continue
		}
		if !w.End.After(now) {
			continue
		}
		windows = append(windows, w)
	}
	return windows
}
