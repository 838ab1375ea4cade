package astro

import "math"

// Coordinates of the Kaaba in Mecca.
const (
	KaabaLatitude  = 21.4225
	KaabaLongitude = 39.8262
)

// QiblaBearing returns the great-circle initial bearing from the given
// coordinates toward the Kaaba, in degrees clockwise from true north,
// normalized to [0, 360).
func QiblaBearing(latDeg, lonDeg float64) float64 {
	lat := latDeg * degToRad
	kaabaLat := KaabaLatitude * degToRad
	dLon := (KaabaLongitude - lonDeg) * degToRad

	y := math.Sin(dLon) * math.Cos(kaabaLat)
	x := math.Cos(lat)*math.Sin(kaabaLat) - math.Sin(lat)*math.Cos(kaabaLat)*math.Cos(dLon)

	bearing := math.Atan2(y, x) * radToDeg
	bearing = math.Mod(bearing+360.0, 360.0)
	return bearing
}

// NormalizeLongitude folds a longitude into [-180, 180).
func NormalizeLongitude(lonDeg float64) float64 {
	lon := math.Mod(lonDeg+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon - 180.0
}
