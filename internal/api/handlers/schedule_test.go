package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/internal/scheduling"
)

// testCalc returns a deterministic schedule anchored on the requested
// date, so date parsing in the handler is exercised end to end.
func testCalc(coords prayer.Coordinates, date time.Time, madhab prayer.Madhab, method prayer.Method, adj prayer.Adjustments, loc *time.Location) (prayer.Times, error) {
	at := func(h, m int) time.Time {
		return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, loc)
	}
	return prayer.Times{
		Date:        time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc),
		Coordinates: coords,
		Madhab:      madhab,
		Method:      method,
		Fajr:        at(6, 0),
		Sunrise:     at(7, 20),
		Dhuhr:       at(13, 20),
		Asr:         at(16, 45),
		Maghrib:     at(19, 20),
		Isha:        at(20, 35),
		Qibla:       292.5,
	}, nil
}

func newTestHandler() *ScheduleHandler {
	provider := prayer.NewProvider(nil,
		prayer.WithLocation(prayer.MalaysiaTime),
		prayer.WithCalc(testCalc))
	optimizer := scheduling.NewOptimizer(provider, nil)
	h := NewScheduleHandler(provider, optimizer, Defaults{
		Madhab:        prayer.Shafi,
		Method:        prayer.MethodJAKIM,
		BufferMinutes: 30,
	}, prayer.MalaysiaTime, nil)
	h.now = func() time.Time {
		return time.Date(2030, 1, 15, 0, 0, 0, 0, prayer.MalaysiaTime)
	}
	return h
}

func doRequest(t *testing.T, h *ScheduleHandler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestPrayerTimesEndpoint(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(t, h, http.MethodGet, "/prayer-times?lat=3.139&lon=101.6869&date=2030-01-15", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var times prayer.Times
	if err := json.Unmarshal(rec.Body.Bytes(), &times); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got := times.Fajr.In(prayer.MalaysiaTime).Format("15:04"); got != "06:00" {
		t.Errorf("fajr: got %s, want 06:00", got)
	}
	if times.Madhab != prayer.Shafi || times.Method != prayer.MethodJAKIM {
		t.Errorf("defaults not applied: %s/%s", times.Madhab, times.Method)
	}
	if times.Qibla != 292.5 {
		t.Errorf("qibla: got %v", times.Qibla)
	}
}

func TestPrayerTimesBadInput(t *testing.T) {
	h := newTestHandler()

	cases := []struct {
		name   string
		target string
	}{
		{"non-numeric lat", "/prayer-times?lat=abc&lon=101.6"},
		{"missing lon", "/prayer-times?lat=3.1"},
		{"latitude out of range", "/prayer-times?lat=95&lon=101.6"},
		{"unknown madhab", "/prayer-times?lat=3.1&lon=101.6&madhab=maliki"},
		{"unknown method", "/prayer-times?lat=3.1&lon=101.6&method=tehran"},
		{"malformed date", "/prayer-times?lat=3.1&lon=101.6&date=15-01-2030"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, c.target, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", rec.Code)
			}
		})
	}
}

func TestQiblaEndpoint(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(t, h, http.MethodGet, "/qibla?lat=3.139&lon=101.6869", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp QiblaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Bearing < 290 || resp.Bearing > 296 {
		t.Errorf("Kuala Lumpur bearing: got %.2f, want roughly west-northwest", resp.Bearing)
	}

	if rec := doRequest(t, h, http.MethodGet, "/qibla?lat=91&lon=0", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range latitude: got %d, want 400", rec.Code)
	}
}

func TestConflictsEndpoint(t *testing.T) {
	h := newTestHandler()
	dhuhr := time.Date(2030, 1, 15, 13, 20, 0, 0, prayer.MalaysiaTime)

	rec := doRequest(t, h, http.MethodPost, "/conflicts", ConflictRequest{
		IntakeTimes: []time.Time{dhuhr},
		Latitude:    3.139,
		Longitude:   101.6869,
		Date:        "2030-01-15",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp ConflictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Conflicts) != 1 {
		t.Fatalf("conflicts: got %d, want 1", len(resp.Conflicts))
	}
	if resp.Conflicts[0].Prayer != prayer.NameDhuhr {
		t.Errorf("conflict prayer: got %s, want Dhuhr", resp.Conflicts[0].Prayer)
	}
	if resp.Conflicts[0].Severity != scheduling.SeverityHigh {
		t.Errorf("severity: got %s, want high", resp.Conflicts[0].Severity)
	}
}

func TestConflictsEndpointBadBody(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/conflicts", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestOptimizeEndpoint(t *testing.T) {
	h := newTestHandler()
	dhuhr := time.Date(2030, 1, 15, 13, 20, 0, 0, prayer.MalaysiaTime)

	rec := doRequest(t, h, http.MethodPost, "/schedule/optimize", OptimizeRequest{
		IntakeTimes: []time.Time{dhuhr},
		Latitude:    3.139,
		Longitude:   101.6869,
		Date:        "2030-01-15",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var result scheduling.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.Conflicts) == 0 {
		t.Error("expected the Dhuhr collision to be reported")
	}
	if len(result.OptimizedTimes) != 1 {
		t.Fatalf("optimized count: got %d, want 1", len(result.OptimizedTimes))
	}
	if result.OptimizedTimes[0].Equal(dhuhr) {
		t.Error("conflicting dose was not moved")
	}
}

func TestWindowsEndpoint(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(t, h, http.MethodGet, "/windows?lat=3.139&lon=101.6869&date=2030-01-15", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var windows []scheduling.Window
	if err := json.Unmarshal(rec.Body.Bytes(), &windows); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(windows) != 6 {
		t.Fatalf("window count: got %d, want 6", len(windows))
	}
	for i, w := range windows {
		if !w.End.After(w.Start) {
			t.Errorf("window %d non-positive: %s to %s", i, w.Start, w.End)
		}
	}
}

func TestWindowsEndpointBadBuffer(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(t, h, http.MethodGet, "/windows?lat=3.139&lon=101.6869&buffer_minutes=-5", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}
