package prayer

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingCalc wraps Compute and counts invocations.
func countingCalc(calls *int) CalcFunc {
	return func(coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments, loc *time.Location) (Times, error) {
		*calls++
		return Compute(coords, date, madhab, method, adj, loc)
	}
}

func failingCalc(coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments, loc *time.Location) (Times, error) {
	return Times{}, errors.New("calculation blew up")
}

func TestProviderCachesByFullKey(t *testing.T) {
	var calls int
	p := NewProvider(nil, WithCalc(countingCalc(&calls)))
	ctx := context.Background()

	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if calls != 1 {
		t.Errorf("identical lookups should compute once, computed %d times", calls)
	}

	// Any change to madhab, method or adjustments is a different entry.
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Hanafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("hanafi lookup: %v", err)
	}
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodISNA, Adjustments{}); err != nil {
		t.Fatalf("isna lookup: %v", err)
	}
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{Fajr: 2}); err != nil {
		t.Fatalf("adjusted lookup: %v", err)
	}
	if calls != 4 {
		t.Errorf("distinct configurations should each compute, got %d calls", calls)
	}
	if p.CacheSize() != 4 {
		t.Errorf("cache size: got %d, want 4", p.CacheSize())
	}
}

func TestProviderCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	var calls int
	p := NewProvider(nil,
		WithCalc(countingCalc(&calls)),
		WithTTL(time.Hour),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("first lookup: %v", err)
	}

	now = now.Add(30 * time.Minute)
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("within-TTL lookup: %v", err)
	}
	if calls != 1 {
		t.Errorf("within TTL should serve from cache, computed %d times", calls)
	}

	now = now.Add(time.Hour)
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("post-TTL lookup: %v", err)
	}
	if calls != 2 {
		t.Errorf("expired entry should recompute, computed %d times", calls)
	}
}

func TestProviderFallbackOnCalculationFailure(t *testing.T) {
	p := NewProvider(nil, WithCalc(failingCalc))

	pt, err := p.GetTimes(context.Background(), klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{})
	if err != nil {
		t.Fatalf("calculation failure must not surface as an error: %v", err)
	}
	if !pt.Fallback {
		t.Error("fallback times should be flagged")
	}
	if pt.Fajr.Hour() != 5 || pt.Fajr.Minute() != 50 {
		t.Errorf("fallback Fajr: got %s, want 05:50", pt.Fajr.Format("15:04"))
	}
	if pt.Isha.Hour() != 20 || pt.Isha.Minute() != 30 {
		t.Errorf("fallback Isha: got %s, want 20:30", pt.Isha.Format("15:04"))
	}
	if !pt.Increasing() {
		t.Error("fallback schedule should still be increasing")
	}
	// Qibla has no failure mode and stays exact.
	if pt.Qibla < 290 || pt.Qibla > 296 {
		t.Errorf("fallback qibla: got %.2f, want about 292.5", pt.Qibla)
	}
}

func TestProviderFallbackAtPolarLatitude(t *testing.T) {
	p := NewProvider(nil)
	coords, _ := NewCoordinates(70, 20)

	pt, err := p.GetTimes(context.Background(), coords, klDate(), Shafi, MethodJAKIM, Adjustments{})
	if err != nil {
		t.Fatalf("polar lookup: %v", err)
	}
	if !pt.Fallback {
		t.Error("polar-night calculation should fall back")
	}
}

func TestProviderInvalidConfigFailsFast(t *testing.T) {
	var calls int
	p := NewProvider(nil, WithCalc(countingCalc(&calls)))
	ctx := context.Background()

	if _, err := p.GetTimes(ctx, Coordinates{Latitude: 95}, klDate(), Shafi, MethodJAKIM, Adjustments{}); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("bad latitude: got %v, want ErrInvalidCoordinates", err)
	}
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Madhab("maliki"), MethodJAKIM, Adjustments{}); !errors.Is(err, ErrUnknownMadhab) {
		t.Errorf("bad madhab: got %v, want ErrUnknownMadhab", err)
	}
	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, Method("bogus"), Adjustments{}); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("bad method: got %v, want ErrUnknownMethod", err)
	}
	if calls != 0 {
		t.Errorf("invalid config must not reach the calculation, got %d calls", calls)
	}
}

func TestProviderQibla(t *testing.T) {
	p := NewProvider(nil)

	b, err := p.Qibla(3.1390, 101.6869)
	if err != nil {
		t.Fatalf("qibla: %v", err)
	}
	if b < 290 || b > 296 {
		t.Errorf("KL qibla: got %.2f, want about 292.5", b)
	}

	if _, err := p.Qibla(120, 0); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("bad latitude: got %v, want ErrInvalidCoordinates", err)
	}
}

func TestProviderPruneExpired(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	p := NewProvider(nil,
		WithTTL(time.Hour),
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := p.GetTimes(ctx, klCoords, klDate(), Shafi, MethodJAKIM, Adjustments{}); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if pruned := p.PruneExpired(); pruned != 0 {
		t.Errorf("fresh entry pruned: %d", pruned)
	}

	now = now.Add(2 * time.Hour)
	if pruned := p.PruneExpired(); pruned != 1 {
		t.Errorf("expired entries pruned: got %d, want 1", pruned)
	}
	if p.CacheSize() != 0 {
		t.Errorf("cache should be empty, has %d entries", p.CacheSize())
	}
}
