// Package scheduling detects conflicts between medication intake times
// and prayer windows, rewrites schedules to avoid them, and partitions
// the day into selectable dosing windows. Everything is computed fresh
// per call; the package holds no state of its own.
package scheduling

import (
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
)

// Severity grades how close an intake sits to a prayer instant.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// highSeverityMinutes is the flat threshold under which a conflict is
// always high, regardless of the configured buffer.
const highSeverityMinutes = 15

// suggestionMargin is added beyond the buffer when proposing an
// alternative, so repeated passes converge instead of oscillating at
// the buffer boundary.
const suggestionMargin = 10

// Conflict flags one intake instant falling within the buffer of one
// prayer. A single intake can produce several conflicts when buffers
// around adjacent prayers overlap.
type Conflict struct {
	IntakeTime        time.Time `json:"intake_time"`
	Prayer            string    `json:"prayer"`
	PrayerTime        time.Time `json:"prayer_time"`
	Severity          Severity  `json:"severity"`
	MinutesFromPrayer int       `json:"minutes_from_prayer"`
	SuggestedTime     time.Time `json:"suggested_time"`
}

// DetectConflicts compares each intake against all five prayers and
// returns every pairing within bufferMinutes. It is pure: identical
// inputs always yield identical output, and the returned slice is
// never nil.
//
// Severity tiers by distance d in whole minutes: d <= 15 high,
// d <= buffer/2 medium, d <= buffer low. An exact collision is high.
// With a zero buffer only exact collisions are reported.
func DetectConflicts(intakes []time.Time, pt prayer.Times, bufferMinutes int) []Conflict {
	conflicts := make([]Conflict, 0)

	for _, intake := range intakes {
		for _, p := range pt.Ordered() {
			mins := minutesApart(intake, p.Time)
			if mins > bufferMinutes {
				continue
			}

			conflicts = append(conflicts, Conflict{
				IntakeTime:        intake,
				Prayer:            p.Name,
				PrayerTime:        p.Time,
				Severity:          severityFor(mins, bufferMinutes),
				MinutesFromPrayer: mins,
				SuggestedTime:     p.Time.Add(time.Duration(bufferMinutes+suggestionMargin) * time.Minute),
			})
		}
	}

	return conflicts
}

// minutesApart returns the whole-minute distance between an intake and
// a prayer instant. Sub-minute remainders are truncated, so an intake
// 30 seconds past the buffer edge still counts as inside it. The
// detector and the optimizer's relocation pass both measure distance
// through this helper; they must agree on what counts as a conflict.
func minutesApart(intake, prayerTime time.Time) int {
	d := intake.Sub(prayerTime)
	if d < 0 {
		d = -d
	}
	return int(d / time.Minute)
}

func severityFor(mins, bufferMinutes int) Severity {
	switch {
	case mins <= highSeverityMinutes:
		return SeverityHigh
	case mins <= bufferMinutes/2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
