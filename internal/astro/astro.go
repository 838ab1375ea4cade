// Package astro implements the low-precision solar position formulas
// the prayer schedule engine is built on. Everything here is a pure
// function of its inputs: a calendar instant and geographic coordinates
// in, angles and minutes-since-midnight-UTC out.
package astro

import (
	"math"
	"time"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi

	// SunriseZenith is the zenith angle of the solar center at sunrise
	// and sunset: 90 degrees plus 0.833 for atmospheric refraction and
	// the apparent solar radius.
	SunriseZenith = 90.833
)

// JulianDay converts an instant to a Julian Day number, including the
// fractional day.
func JulianDay(t time.Time) float64 {
	t = t.UTC()
	year := t.Year()
	month := int(t.Month())
	day := t.Day()

	if month <= 2 {
		year--
		month += 12
	}

	a := year / 100
	b := 2 - a + a/4

	jd := float64(int(365.25*float64(year+4716))) +
		float64(int(30.6001*float64(month+1))) +
		float64(day) + float64(b) - 1524.5

	frac := (float64(t.Hour()) + float64(t.Minute())/60.0 + float64(t.Second())/3600.0) / 24.0
	return jd + frac
}

// SolarPosition returns the solar declination in degrees and the
// equation of time in minutes for the given Julian Day.
func SolarPosition(jd float64) (declinationDeg, equationOfTimeMin float64) {
	n := jd - 2451545.0 // days since J2000.0

	// Mean longitude and mean anomaly of the Sun.
	l := math.Mod(280.460+0.9856474*n, 360.0)
	if l < 0 {
		l += 360.0
	}
	g := math.Mod(357.528+0.9856003*n, 360.0) * degToRad

	// Ecliptic longitude with the two leading correction terms.
	lambda := (l + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)) * degToRad

	// Obliquity of the ecliptic.
	epsilon := (23.439 - 0.0000004*n) * degToRad

	declinationDeg = math.Asin(math.Sin(epsilon)*math.Sin(lambda)) * radToDeg

	// Right ascension, folded into the same revolution as the mean
	// longitude so the equation of time stays small.
	alpha := math.Atan2(math.Cos(epsilon)*math.Sin(lambda), math.Cos(lambda)) * radToDeg
	if alpha < 0 {
		alpha += 360.0
	}
	diff := l - alpha
	if diff > 180 {
		diff -= 360
	} else if diff < -180 {
		diff += 360
	}
	equationOfTimeMin = 4.0 * diff

	return declinationDeg, equationOfTimeMin
}

// SolarNoonUTC returns solar transit for the given longitude as minutes
// since midnight UTC. Each degree of longitude is four minutes of time.
func SolarNoonUTC(lonDeg, equationOfTimeMin float64) float64 {
	return 720.0 - 4.0*lonDeg - equationOfTimeMin
}

// HourAngle solves cos(H) = (cos(zenith) - sin(decl) sin(lat)) /
// (cos(decl) cos(lat)) and returns H in degrees. The second return
// value is false when the equation has no solution, which happens at
// extreme latitudes when the sun never reaches the requested zenith
// angle. Callers must check it; the angle is meaningless otherwise.
func HourAngle(zenithDeg, latDeg, declDeg float64) (float64, bool) {
	lat := latDeg * degToRad
	decl := declDeg * degToRad

	cosH := (math.Cos(zenithDeg*degToRad) - math.Sin(decl)*math.Sin(lat)) /
		(math.Cos(decl) * math.Cos(lat))

	if cosH < -1.0 || cosH > 1.0 || math.IsNaN(cosH) {
		return 0, false
	}
	return math.Acos(cosH) * radToDeg, true
}

// AsrZenith returns the zenith angle at which the Asr shadow condition
// is met: shadow length equals shadowRatio times the object height plus
// the noon shadow. shadowRatio is 1 for Shafi and 2 for Hanafi.
func AsrZenith(shadowRatio, latDeg, declDeg float64) float64 {
	altitude := math.Atan(1.0/(shadowRatio+math.Tan(math.Abs(latDeg-declDeg)*degToRad))) * radToDeg
	return 90.0 - altitude
}

// DepressionZenith converts a twilight depression angle (degrees below
// the horizon) to the zenith angle used by HourAngle.
func DepressionZenith(angleDeg float64) float64 {
	return 90.0 + angleDeg
}
