package prayer

import (
	"time"

	"github.com/shifaa-health/salat-engine/internal/astro"
)

// fallbackClock holds the approximate Malaysian prayer clock times used
// when the astronomical calculation fails. Availability of a medication
// reminder wins over strict correctness of the religious timing here;
// the Fallback flag tells downstream layers to attach a warning.
var fallbackClock = []struct {
	hour, min int
	set       func(*Times, time.Time)
}{
	{5, 50, func(t *Times, v time.Time) { t.Fajr = v }},
	{7, 5, func(t *Times, v time.Time) { t.Sunrise = v }},
	{13, 15, func(t *Times, v time.Time) { t.Dhuhr = v }},
	{16, 30, func(t *Times, v time.Time) { t.Asr = v }},
	{19, 20, func(t *Times, v time.Time) { t.Maghrib = v }},
	{20, 30, func(t *Times, v time.Time) { t.Isha = v }},
}

// fallbackTimes builds the documented fallback schedule for the
// supplied date. The Qibla bearing is still exact: the spherical
// formula has no failure mode.
func fallbackTimes(coords Coordinates, date time.Time, madhab Madhab, method Method, loc *time.Location) Times {
	year, month, day := date.In(loc).Date()

	t := Times{
		Date:        time.Date(year, month, day, 0, 0, 0, 0, loc),
		Coordinates: coords,
		Madhab:      madhab,
		Method:      method,
		Qibla:       astro.QiblaBearing(coords.Latitude, coords.Longitude),
		Fallback:    true,
	}
	for _, e := range fallbackClock {
		e.set(&t, time.Date(year, month, day, e.hour, e.min, 0, 0, loc))
	}

	night := t.Fajr.Add(24 * time.Hour).Sub(t.Maghrib)
	t.Midnight = t.Maghrib.Add(night / 2).Truncate(time.Minute)
	return t
}
