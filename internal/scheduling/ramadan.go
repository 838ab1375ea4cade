package scheduling

import (
	"fmt"
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
)

// Daylight fasting hours, local time. A fixed approximation rather
// than the exact suhoor/iftar span; doses in this range cannot be
// taken orally while fasting.
const (
	fastingStartHour = 6
	fastingEndHour   = 19
)

// iftarSpacing separates multiple same-day doses moved into the iftar
// window so they do not collide.
const iftarSpacing = 30 * time.Minute

// iftarOffset places the first moved dose a little after the fast is
// broken, not at the exact Maghrib instant.
const iftarOffset = 15 * time.Minute

// RamadanWindow is a named interval of the fasting day.
type RamadanWindow struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RamadanAdjustment is the fasting-month transformation of a schedule:
// daytime doses move into the iftar window, everything else stays.
type RamadanAdjustment struct {
	OriginalSchedule []time.Time   `json:"original_schedule"`
	AdjustedSchedule []time.Time   `json:"adjusted_schedule"`
	Rationale        []string      `json:"rationale"`
	Suhoor           RamadanWindow `json:"suhoor_window"`
	Iftar            RamadanWindow `json:"iftar_window"`
	Night            RamadanWindow `json:"night_window"`
}

// AdjustForRamadan moves every intake whose local hour falls within the
// fasting day into the post-Maghrib iftar window, spacing multiple
// doses iftarSpacing apart. Times outside the fasting hours are left
// untouched. The three named windows give callers the day's structure
// for their own placement decisions.
func AdjustForRamadan(intakes []time.Time, pt prayer.Times) *RamadanAdjustment {
	adj := &RamadanAdjustment{
		OriginalSchedule: append([]time.Time(nil), intakes...),
		AdjustedSchedule: make([]time.Time, 0, len(intakes)),
		Rationale:        make([]string, 0, len(intakes)),
		Suhoor: RamadanWindow{
			Name:  "suhoor",
			Start: pt.Fajr.Add(-90 * time.Minute),
			End:   pt.Fajr.Add(-30 * time.Minute),
		},
		Iftar: RamadanWindow{
			Name:  "iftar",
			Start: pt.Maghrib,
			End:   pt.Maghrib.Add(60 * time.Minute),
		},
		Night: RamadanWindow{
			Name:  "night",
			Start: pt.Isha.Add(60 * time.Minute),
			End:   pt.Fajr.Add(24*time.Hour - 120*time.Minute),
		},
	}

	loc := pt.Date.Location()
	moved := 0
	for _, intake := range intakes {
		hour := intake.In(loc).Hour()
		if hour < fastingStartHour || hour > fastingEndHour {
			adj.AdjustedSchedule = append(adj.AdjustedSchedule, intake)
			adj.Rationale = append(adj.Rationale, fmt.Sprintf(
				"Dose at %s is outside fasting hours and was kept unchanged.", intake.Format("15:04")))
			continue
		}

		target := pt.Maghrib.Add(iftarOffset + time.Duration(moved)*iftarSpacing)
		moved++
		adj.AdjustedSchedule = append(adj.AdjustedSchedule, target)
		adj.Rationale = append(adj.Rationale, fmt.Sprintf(
			"Dose at %s falls within fasting hours and was moved to %s, after iftar.",
			intake.Format("15:04"), target.Format("15:04")))
	}

	return adj
}
