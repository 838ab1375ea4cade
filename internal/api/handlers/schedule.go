// Package handlers provides HTTP handlers for the scheduler API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/api/middleware"
	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/internal/scheduling"
)

// Defaults are applied when a request leaves madhab, method or buffer
// unset; they come from service configuration.
type Defaults struct {
	Madhab        prayer.Madhab
	Method        prayer.Method
	BufferMinutes int
}

// ScheduleHandler exposes the scheduling engine over HTTP.
type ScheduleHandler struct {
	provider  *prayer.Provider
	optimizer *scheduling.Optimizer
	defaults  Defaults
	loc       *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduleHandler creates a handler around the engine services.
func NewScheduleHandler(provider *prayer.Provider, optimizer *scheduling.Optimizer, defaults Defaults, loc *time.Location, logger *zap.Logger) *ScheduleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = prayer.MalaysiaTime
	}
	return &ScheduleHandler{
		provider:  provider,
		optimizer: optimizer,
		defaults:  defaults,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the handler routes
func (h *ScheduleHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/prayer-times", h.PrayerTimes)
	r.Get("/qibla", h.Qibla)
	r.Get("/windows", h.Windows)
	r.Post("/conflicts", h.Conflicts)
	r.Post("/schedule/optimize", h.Optimize)
	return r
}

// PrayerTimes handles GET /prayer-times
func (h *ScheduleHandler) PrayerTimes(w http.ResponseWriter, r *http.Request) {
	coords, date, madhab, method, ok := h.queryParams(w, r)
	if !ok {
		return
	}

	times, err := h.provider.GetTimes(r.Context(), coords, date, madhab, method, prayer.Adjustments{})
	if err != nil {
		h.configError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, times)
}

// QiblaResponse is the response for GET /qibla
type QiblaResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Bearing   float64 `json:"bearing"`
}

// Qibla handles GET /qibla
func (h *ScheduleHandler) Qibla(w http.ResponseWriter, r *http.Request) {
	lat, err := parseFloat(r, "lat")
	if err != nil {
		h.jsonError(w, "invalid lat", http.StatusBadRequest)
		return
	}
	lon, err := parseFloat(r, "lon")
	if err != nil {
		h.jsonError(w, "invalid lon", http.StatusBadRequest)
		return
	}

	bearing, err := h.provider.Qibla(lat, lon)
	if err != nil {
		h.configError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, QiblaResponse{Latitude: lat, Longitude: lon, Bearing: bearing})
}

// Windows handles GET /windows
func (h *ScheduleHandler) Windows(w http.ResponseWriter, r *http.Request) {
	coords, date, madhab, method, ok := h.queryParams(w, r)
	if !ok {
		return
	}

	buffer := h.defaults.BufferMinutes
	if v := r.URL.Query().Get("buffer_minutes"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil || b < 0 {
			h.jsonError(w, "invalid buffer_minutes", http.StatusBadRequest)
			return
		}
		buffer = b
	}

	times, err := h.provider.GetTimes(r.Context(), coords, date, madhab, method, prayer.Adjustments{})
	if err != nil {
		h.configError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, scheduling.Windows(times, buffer, h.now()))
}

// ConflictRequest is the request body for POST /conflicts
type ConflictRequest struct {
	IntakeTimes   []time.Time `json:"intake_times"`
	Latitude      float64     `json:"latitude"`
	Longitude     float64     `json:"longitude"`
	Date          string      `json:"date"`
	BufferMinutes int         `json:"buffer_minutes"`
	Madhab        string      `json:"madhab,omitempty"`
	Method        string      `json:"method,omitempty"`
}

// ConflictResponse is the response for POST /conflicts
type ConflictResponse struct {
	Conflicts   []scheduling.Conflict `json:"conflicts"`
	PrayerTimes prayer.Times          `json:"prayer_times"`
}

// Conflicts handles POST /conflicts
func (h *ScheduleHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	coords, date, madhab, method, ok := h.bodyParams(w, req.Latitude, req.Longitude, req.Date, req.Madhab, req.Method)
	if !ok {
		return
	}

	buffer := req.BufferMinutes
	if buffer <= 0 {
		buffer = h.defaults.BufferMinutes
	}

	times, err := h.provider.GetTimes(r.Context(), coords, date, madhab, method, prayer.Adjustments{})
	if err != nil {
		h.configError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ConflictResponse{
		Conflicts:   scheduling.DetectConflicts(req.IntakeTimes, times, buffer),
		PrayerTimes: times,
	})
}

// OptimizeRequest is the request body for POST /schedule/optimize
type OptimizeRequest struct {
	IntakeTimes   []time.Time `json:"intake_times"`
	Latitude      float64     `json:"latitude"`
	Longitude     float64     `json:"longitude"`
	Date          string      `json:"date"`
	BufferMinutes int         `json:"buffer_minutes"`
	Madhab        string      `json:"madhab,omitempty"`
	Method        string      `json:"method,omitempty"`
	Ramadan       bool        `json:"ramadan"`
}

// Optimize handles POST /schedule/optimize
func (h *ScheduleHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	coords, date, madhab, method, ok := h.bodyParams(w, req.Latitude, req.Longitude, req.Date, req.Madhab, req.Method)
	if !ok {
		return
	}

	result, err := h.optimizer.Optimize(r.Context(), req.IntakeTimes, coords, date, scheduling.Config{
		BufferMinutes: req.BufferMinutes,
		Madhab:        madhab,
		Method:        method,
		Ramadan:       req.Ramadan,
	})
	if err != nil {
		h.configError(w, err)
		return
	}

	h.logger.Info("schedule optimized",
		zap.Int("intakes", len(req.IntakeTimes)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)

	h.writeJSON(w, http.StatusOK, result)
}

// queryParams parses the shared lat/lon/date/madhab/method query
// parameters, writing an error response and returning ok=false on bad
// input.
func (h *ScheduleHandler) queryParams(w http.ResponseWriter, r *http.Request) (prayer.Coordinates, time.Time, prayer.Madhab, prayer.Method, bool) {
	lat, err := parseFloat(r, "lat")
	if err != nil {
		h.jsonError(w, "invalid lat", http.StatusBadRequest)
		return prayer.Coordinates{}, time.Time{}, "", "", false
	}
	lon, err := parseFloat(r, "lon")
	if err != nil {
		h.jsonError(w, "invalid lon", http.StatusBadRequest)
		return prayer.Coordinates{}, time.Time{}, "", "", false
	}

	q := r.URL.Query()
	return h.bodyParams(w, lat, lon, q.Get("date"), q.Get("madhab"), q.Get("method"))
}

func (h *ScheduleHandler) bodyParams(w http.ResponseWriter, lat, lon float64, dateStr, madhabStr, methodStr string) (prayer.Coordinates, time.Time, prayer.Madhab, prayer.Method, bool) {
	coords, err := prayer.NewCoordinates(lat, lon)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return prayer.Coordinates{}, time.Time{}, "", "", false
	}

	date := h.now().In(h.loc)
	if dateStr != "" {
		date, err = time.ParseInLocation("2006-01-02", dateStr, h.loc)
		if err != nil {
			h.jsonError(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
			return prayer.Coordinates{}, time.Time{}, "", "", false
		}
	}

	madhab := h.defaults.Madhab
	if madhabStr != "" {
		madhab, err = prayer.ParseMadhab(madhabStr)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return prayer.Coordinates{}, time.Time{}, "", "", false
		}
	}

	method := h.defaults.Method
	if methodStr != "" {
		method, err = prayer.ParseMethod(methodStr)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return prayer.Coordinates{}, time.Time{}, "", "", false
		}
	}

	return coords, date, madhab, method, true
}

// configError maps engine validation errors to 400 and everything else
// to 500.
func (h *ScheduleHandler) configError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, prayer.ErrInvalidCoordinates) ||
		errors.Is(err, prayer.ErrUnknownMadhab) ||
		errors.Is(err, prayer.ErrUnknownMethod) {
		status = http.StatusBadRequest
	}
	h.jsonError(w, err.Error(), status)
}

func parseFloat(r *http.Request, name string) (float64, error) {
	return strconv.ParseFloat(r.URL.Query().Get(name), 64)
}

func (h *ScheduleHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", zap.Error(err))
	}
}

func (h *ScheduleHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
