package prayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
)

// CalcFunc is the astronomical calculation behind the provider. It is
// a field so tests can substitute a spy or a failing implementation.
type CalcFunc func(coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments, loc *time.Location) (Times, error)

// cacheTTL is the wall-clock lifetime of a cached entry. Invalidation
// is strictly by elapsed age, not calendar boundary; the date inside
// the key means a new day is always a new entry anyway.
const cacheTTL = 24 * time.Hour

type cacheEntry struct {
	times    Times
	storedAt time.Time
}

// Provider computes prayer times with per-(location, date, madhab,
// method) caching and a fallback policy for failed calculations. It is
// an explicitly constructed instance, never process-global state, and
// is safe for concurrent use: entries are immutable values swapped in
// under a write lock, so readers never observe a partial Times.
type Provider struct {
	calc   CalcFunc
	loc    *time.Location
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	m      *metrics.Metrics
	tracer trace.Tracer

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock substitutes the wall clock, used by cache-expiry tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithCalc substitutes the astronomical calculation.
func WithCalc(fn CalcFunc) Option {
	return func(p *Provider) { p.calc = fn }
}

// WithLocation sets the timezone of the returned instants.
func WithLocation(loc *time.Location) Option {
	return func(p *Provider) { p.loc = loc }
}

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) { p.m = m }
}

// MalaysiaTime is the default zone; the reference deployment serves
// Malaysian patients and Malaysia observes no DST.
var MalaysiaTime = time.FixedZone("MYT", 8*3600)

// NewProvider creates a provider with an empty cache.
func NewProvider(logger *zap.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		calc:   Compute,
		loc:    MalaysiaTime,
		ttl:    cacheTTL,
		now:    time.Now,
		logger: logger,
		tracer: otel.Tracer("prayer-provider"),
		cache:  make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// cacheKey builds the full input tuple so stale configuration can never
// satisfy a lookup. Coordinates are rounded to four decimals (~11 m).
func cacheKey(coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments, loc *time.Location) string {
	return fmt.Sprintf("%.4f|%.4f|%s|%s|%s|%d,%d,%d,%d,%d,%d",
		coords.Latitude, coords.Longitude,
		date.In(loc).Format("2006-01-02"),
		madhab, method,
		adj.Fajr, adj.Sunrise, adj.Dhuhr, adj.Asr, adj.Maghrib, adj.Isha)
}

// GetTimes returns the prayer schedule for the given day, from cache
// when a fresh entry exists. Invalid configuration (bad coordinates,
// unknown madhab or method) fails fast; a failed astronomical
// calculation does not: it yields the documented fallback Times with
// the Fallback flag set.
func (p *Provider) GetTimes(ctx context.Context, coords Coordinates, date time.Time, madhab Madhab, method Method, adj Adjustments) (Times, error) {
	_, span := p.tracer.Start(ctx, "get_prayer_times",
		trace.WithAttributes(
			attribute.Float64("lat", coords.Latitude),
			attribute.Float64("lon", coords.Longitude),
			attribute.String("madhab", string(madhab)),
			attribute.String("method", string(method)),
		))
	defer span.End()

	if _, err := ParseMadhab(string(madhab)); err != nil {
		return Times{}, err
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return Times{}, err
	}
	coords, err := NewCoordinates(coords.Latitude, coords.Longitude)
	if err != nil {
		return Times{}, err
	}

	key := cacheKey(coords, date, madhab, method, adj, p.loc)

	p.mu.RLock()
	entry, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && p.now().Sub(entry.storedAt) < p.ttl {
		p.count(func(m *metrics.Metrics) { m.PrayerCacheHits.Inc() })
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return entry.times, nil
	}
	p.count(func(m *metrics.Metrics) { m.PrayerCacheMisses.Inc() })

	times, err := p.calc(coords, date, madhab, method, adj, p.loc)
	p.count(func(m *metrics.Metrics) { m.PrayerCalculations.Inc() })
	if err != nil {
		// Availability over precision: a medication reminder with an
		// approximate prayer table beats no reminder at all. The flag
		// lets the optimizer attach a cultural-notes warning.
		p.logger.Warn("prayer calculation failed, using fallback table",
			zap.Float64("lat", coords.Latitude),
			zap.Float64("lon", coords.Longitude),
			zap.String("date", date.In(p.loc).Format("2006-01-02")),
			zap.Error(err))
		p.count(func(m *metrics.Metrics) { m.PrayerFallbacks.Inc() })
		span.SetAttributes(attribute.Bool("fallback", true))
		times = fallbackTimes(coords, date, madhab, method, p.loc)
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{times: times, storedAt: p.now()}
	p.mu.Unlock()

	return times, nil
}

// Qibla returns the bearing toward the Kaaba for validated coordinates.
func (p *Provider) Qibla(lat, lon float64) (float64, error) {
	coords, err := NewCoordinates(lat, lon)
	if err != nil {
		return 0, err
	}
	// Reuse the calculation already embedded in Times rather than a
	// second code path: the bearing never fails, so compute directly.
	return qiblaOf(coords), nil
}

// CacheSize reports the number of live cache entries.
func (p *Provider) CacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// PruneExpired drops entries older than the TTL. The cache is bounded
// by (locations x days) in practice, but long-lived services run this
// from a ticker.
func (p *Provider) PruneExpired() int {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	var pruned int
	for k, e := range p.cache {
		if now.Sub(e.storedAt) >= p.ttl {
			delete(p.cache, k)
			pruned++
		}
	}
	return pruned
}

func (p *Provider) count(fn func(*metrics.Metrics)) {
	if p.m != nil {
		fn(p.m)
	}
}
