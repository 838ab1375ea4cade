package astro

import (
	"math"
	"testing"
	"time"
)

func TestJulianDayJ2000(t *testing.T) {
	jd := JulianDay(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC))
	if math.Abs(jd-2451545.0) > 1e-6 {
		t.Errorf("J2000 epoch: got %.6f, want 2451545.0", jd)
	}
}

func TestJulianDayMidnight(t *testing.T) {
	jd := JulianDay(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if math.Abs(jd-2460324.5) > 1e-6 {
		t.Errorf("2024-01-15 00:00 UTC: got %.6f, want 2460324.5", jd)
	}
}

func TestJulianDayFraction(t *testing.T) {
	base := JulianDay(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	later := JulianDay(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))
	if math.Abs(later-base-0.25) > 1e-6 {
		t.Errorf("six hours should be 0.25 days, got %.6f", later-base)
	}
}

func TestJulianDayConvertsToUTC(t *testing.T) {
	myt := time.FixedZone("MYT", 8*3600)
	local := JulianDay(time.Date(2024, 1, 15, 8, 0, 0, 0, myt))
	utc := JulianDay(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if math.Abs(local-utc) > 1e-9 {
		t.Errorf("same instant in different zones: %.9f vs %.9f", local, utc)
	}
}

func TestSolarPositionJanuary(t *testing.T) {
	jd := JulianDay(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	decl, eqt := SolarPosition(jd)

	// Mid-January: sun deep in the southern hemisphere, clock ahead of
	// the sun by around nine minutes.
	if decl < -21.8 || decl > -20.5 {
		t.Errorf("January declination: got %.2f, want about -21.2", decl)
	}
	if eqt < -10.5 || eqt > -8.0 {
		t.Errorf("January equation of time: got %.2f min, want about -9.2", eqt)
	}
}

func TestSolarPositionEquinox(t *testing.T) {
	jd := JulianDay(time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC))
	decl, _ := SolarPosition(jd)
	if math.Abs(decl) > 1.0 {
		t.Errorf("equinox declination: got %.2f, want near 0", decl)
	}
}

func TestSolarPositionJuneSolstice(t *testing.T) {
	jd := JulianDay(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC))
	decl, _ := SolarPosition(jd)
	if decl < 23.0 || decl > 23.6 {
		t.Errorf("solstice declination: got %.2f, want about 23.44", decl)
	}
}

func TestSolarNoonUTC(t *testing.T) {
	if got := SolarNoonUTC(0, 0); math.Abs(got-720) > 1e-9 {
		t.Errorf("Greenwich noon with zero EoT: got %.2f, want 720", got)
	}
	// 15 degrees east is one hour earlier.
	if got := SolarNoonUTC(15, 0); math.Abs(got-660) > 1e-9 {
		t.Errorf("15E noon: got %.2f, want 660", got)
	}
	// Positive equation of time means the sun is ahead of the clock.
	if got := SolarNoonUTC(0, 10); math.Abs(got-710) > 1e-9 {
		t.Errorf("EoT +10: got %.2f, want 710", got)
	}
}

func TestHourAngleEquatorEquinox(t *testing.T) {
	h, ok := HourAngle(90, 0, 0)
	if !ok {
		t.Fatal("expected a solution at the equator")
	}
	if math.Abs(h-90) > 1e-9 {
		t.Errorf("equator 90-degree zenith: got %.4f, want 90", h)
	}
}

func TestHourAngleNoSolutionPolarNight(t *testing.T) {
	// 70N in January: the sun never rises.
	if _, ok := HourAngle(SunriseZenith, 70, -21.2); ok {
		t.Error("expected no sunrise solution at 70N in January")
	}
}

func TestHourAngleNoSolutionMidnightSun(t *testing.T) {
	// 70N in June: the sun never sets.
	if _, ok := HourAngle(SunriseZenith, 70, 23.4); ok {
		t.Error("expected no sunset solution at 70N in June")
	}
}

func TestHourAngleMidLatitude(t *testing.T) {
	h, ok := HourAngle(SunriseZenith, 3.139, -21.2)
	if !ok {
		t.Fatal("expected a solution near the equator")
	}
	// Day length near the equator stays close to 12 hours year round.
	if h < 85 || h > 95 {
		t.Errorf("near-equator sunrise hour angle: got %.2f, want about 90", h)
	}
}

func TestAsrZenithShadowRatios(t *testing.T) {
	// With the sun overhead at noon the standard shadow reaches the
	// object's own length at 45 degrees altitude.
	z := AsrZenith(1, 20, 20)
	if math.Abs(z-45) > 1e-9 {
		t.Errorf("shafi zenith with zero noon shadow: got %.4f, want 45", z)
	}

	hanafi := AsrZenith(2, 20, 20)
	if hanafi <= z {
		t.Errorf("hanafi zenith %.2f should exceed shafi %.2f", hanafi, z)
	}
	want := 90 - math.Atan(0.5)*180/math.Pi
	if math.Abs(hanafi-want) > 1e-9 {
		t.Errorf("hanafi zenith: got %.4f, want %.4f", hanafi, want)
	}
}

func TestDepressionZenith(t *testing.T) {
	if got := DepressionZenith(18); got != 108 {
		t.Errorf("18-degree depression: got %.2f, want 108", got)
	}
}

func TestQiblaBearingKualaLumpur(t *testing.T) {
	b := QiblaBearing(3.1390, 101.6869)
	// Mecca lies west-northwest of Kuala Lumpur.
	if b < 290 || b > 296 {
		t.Errorf("KL qibla: got %.2f, want about 292.5", b)
	}
}

func TestQiblaBearingDueNorth(t *testing.T) {
	// Directly south of the Kaaba on its meridian.
	b := QiblaBearing(0, KaabaLongitude)
	if math.Abs(b) > 0.01 && math.Abs(b-360) > 0.01 {
		t.Errorf("on the Kaaba meridian south of it: got %.4f, want 0", b)
	}
}

func TestQiblaBearingJakarta(t *testing.T) {
	b := QiblaBearing(-6.2088, 106.8456)
	if b < 290 || b > 300 {
		t.Errorf("Jakarta qibla: got %.2f, want about 295", b)
	}
}

func TestQiblaBearingRange(t *testing.T) {
	for lat := -80.0; lat <= 80.0; lat += 20 {
		for lon := -180.0; lon < 180.0; lon += 30 {
			b := QiblaBearing(lat, lon)
			if b < 0 || b >= 360 {
				t.Fatalf("bearing out of range at (%.0f, %.0f): %.4f", lat, lon, b)
			}
		}
	}
}

func TestNormalizeLongitude(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{101.6869, 101.6869},
		{190, -170},
		{-190, 170},
		{360, 0},
		{180, -180},
		{-180, -180},
	}
	for _, c := range cases {
		if got := NormalizeLongitude(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("NormalizeLongitude(%.1f) = %.4f, want %.4f", c.in, got, c.want)
		}
	}
}
