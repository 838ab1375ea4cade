package prayer

import (
	"fmt"
	"time"

	"github.com/shifaa-health/salat-engine/internal/astro"
)

// Compute derives one day's prayer times for the given coordinates.
// It is pure and deterministic: the same inputs always produce the same
// Times. The date's year, month and day are read in loc, which is also
// the zone of the returned instants.
//
// A wrapped ErrNoSolution is returned when any hour-angle equation has
// no solution (extreme latitudes); callers decide the fallback policy.
func Compute(coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments, loc *time.Location) (Times, error) {
	params, ok := methods[method]
	if !ok {
		return Times{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if madhab != Shafi && madhab != Hanafi {
		return Times{}, fmt.Errorf("%w: %q", ErrUnknownMadhab, madhab)
	}

	year, month, day := date.In(loc).Date()
	midnightUTC := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	// Solar position at local midday keeps the declination and equation
	// of time centered on the day being solved.
	jd := astro.JulianDay(midnightUTC.Add(12 * time.Hour))
	decl, eqt := astro.SolarPosition(jd)
	noon := astro.SolarNoonUTC(coords.Longitude, eqt)

	lat := coords.Latitude

	sunriseHA, ok := astro.HourAngle(astro.SunriseZenith, lat, decl)
	if !ok {
		return Times{}, fmt.Errorf("sunrise at (%.4f, %.4f): %w", lat, coords.Longitude, ErrNoSolution)
	}
	fajrHA, ok := astro.HourAngle(astro.DepressionZenith(params.FajrAngle), lat, decl)
	if !ok {
		return Times{}, fmt.Errorf("fajr at (%.4f, %.4f): %w", lat, coords.Longitude, ErrNoSolution)
	}
	asrHA, ok := astro.HourAngle(astro.AsrZenith(madhab.ShadowRatio(), lat, decl), lat, decl)
	if !ok {
		return Times{}, fmt.Errorf("asr at (%.4f, %.4f): %w", lat, coords.Longitude, ErrNoSolution)
	}

	// Minutes since midnight UTC for each event. Hour angle converts to
	// time at four minutes per degree.
	fajrMin := noon - 4.0*fajrHA
	sunriseMin := noon - 4.0*sunriseHA
	maghribMin := noon + 4.0*sunriseHA

	var ishaMin float64
	if params.IshaInterval > 0 {
		ishaMin = maghribMin + float64(params.IshaInterval)
	} else {
		ishaHA, ok := astro.HourAngle(astro.DepressionZenith(params.IshaAngle), lat, decl)
		if !ok {
			return Times{}, fmt.Errorf("isha at (%.4f, %.4f): %w", lat, coords.Longitude, ErrNoSolution)
		}
		ishaMin = noon + 4.0*ishaHA
	}

	at := func(minutesUTC float64, adjMin int) time.Time {
		d := time.Duration(minutesUTC*float64(time.Minute)) + time.Duration(adjMin)*time.Minute
		return midnightUTC.Add(d).In(loc).Truncate(time.Minute)
	}

	t := Times{
		Date:        time.Date(year, month, day, 0, 0, 0, 0, loc),
		Coordinates: coords,
		Madhab:      madhab,
		Method:      method,
		Fajr:        at(fajrMin, adj.Fajr),
		Sunrise:     at(sunriseMin, adj.Sunrise),
		Dhuhr:       at(noon, adj.Dhuhr),
		Asr:         at(noon+4.0*asrHA, adj.Asr),
		Maghrib:     at(maghribMin, adj.Maghrib),
		Isha:        at(ishaMin, adj.Isha),
		Qibla:       astro.QiblaBearing(coords.Latitude, coords.Longitude),
	}

	// Islamic midnight: the midpoint of the night, sunset to the next
	// dawn. Next-day Fajr drifts under two minutes at the latitudes
	// this engine serves, so the same-day solution shifted a day is
	// close enough.
	night := t.Fajr.Add(24 * time.Hour).Sub(t.Maghrib)
	t.Midnight = t.Maghrib.Add(night / 2).Truncate(time.Minute)

	return t, nil
}
