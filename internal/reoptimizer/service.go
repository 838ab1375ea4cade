// Package reoptimizer recomputes patient schedules in response to
// optimize-request messages: profile changes, calendar rollovers and
// Ramadan transitions all arrive here.
package reoptimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shifaa-health/salat-engine/internal/infrastructure/postgres"
	"github.com/shifaa-health/salat-engine/internal/infrastructure/redpanda"
	"github.com/shifaa-health/salat-engine/internal/observability/metrics"
	"github.com/shifaa-health/salat-engine/internal/prayer"
	"github.com/shifaa-health/salat-engine/internal/profile"
	"github.com/shifaa-health/salat-engine/internal/scheduling"
	"github.com/shifaa-health/salat-engine/pkg/idempotency"
)

// OptimizeRequest is the payload on the optimize-requests topic.
type OptimizeRequest struct {
	PatientID string `json:"patient_id"`
	// Date is the schedule day, YYYY-MM-DD in the patient's locale.
	Date string `json:"date"`
	// Trigger names what caused the request (profile_update,
	// daily_rollover, ramadan_start, ...). Part of the dedupe key.
	Trigger string `json:"trigger"`
}

// Summary is stored as the inbox result for a processed request.
type Summary struct {
	ProposalID string `json:"proposal_id"`
	PatientID  string `json:"patient_id"`
	Date       string `json:"date"`
	Intakes    int    `json:"intakes"`
	Conflicts  int    `json:"conflicts"`
	Fallback   bool   `json:"fallback_prayer_times"`
}

// Service executes one reoptimization per request, at most once.
type Service struct {
	store     *postgres.ScheduleStore
	profiles  *profile.Client
	optimizer *scheduling.Optimizer
	inbox     *idempotency.Inbox
	loc       *time.Location
	logger    *zap.Logger
	m         *metrics.Metrics
}

// NewService wires the reoptimizer.
func NewService(store *postgres.ScheduleStore, profiles *profile.Client, optimizer *scheduling.Optimizer, inbox *idempotency.Inbox, loc *time.Location, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = prayer.MalaysiaTime
	}
	return &Service{
		store:     store,
		profiles:  profiles,
		optimizer: optimizer,
		inbox:     inbox,
		loc:       loc,
		logger:    logger,
	}
}

// WithMetrics attaches engine metrics.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.m = m
	return s
}

// Handle processes one optimize-request message. Duplicates are
// acknowledged silently; in-progress collisions return an error so
// the broker redelivers later.
func (s *Service) Handle(ctx context.Context, payload []byte) error {
	var req OptimizeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode optimize request: %w", err)
	}
	if req.PatientID == "" || req.Date == "" {
		return errors.New("optimize request missing patient_id or date")
	}

	key := idempotency.RequestKey(req.PatientID, req.Date, req.Trigger)

	res, err := s.inbox.Process(ctx, key, "reoptimize", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		summary, err := s.reoptimize(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(summary)
	})
	if err != nil {
		if errors.Is(err, idempotency.ErrDuplicate) {
			s.logger.Debug("duplicate optimize request",
				zap.String("patient_id", req.PatientID),
				zap.String("date", req.Date))
			return nil
		}
		return err
	}

	if !res.IsNew {
		s.logger.Debug("optimize request already processed",
			zap.String("patient_id", req.PatientID),
			zap.String("date", req.Date))
	}
	return nil
}

func (s *Service) reoptimize(ctx context.Context, req OptimizeRequest) (*Summary, error) {
	prof, err := s.profiles.Get(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	coords, err := prayer.NewCoordinates(prof.Latitude, prof.Longitude)
	if err != nil {
		return nil, fmt.Errorf("profile coordinates: %w", err)
	}
	madhab, err := prayer.ParseMadhab(prof.Madhab)
	if err != nil {
		return nil, fmt.Errorf("profile madhab: %w", err)
	}
	method, err := prayer.ParseMethod(prof.Method)
	if err != nil {
		return nil, fmt.Errorf("profile method: %w", err)
	}

	date, err := time.ParseInLocation("2006-01-02", req.Date, s.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", req.Date, err)
	}

	intakes, err := s.store.IntakeTimes(ctx, req.PatientID, date)
	if err != nil {
		return nil, fmt.Errorf("load intakes: %w", err)
	}

	times := make([]time.Time, len(intakes))
	for i, it := range intakes {
		times[i] = it.ScheduledAt
	}

	result, err := s.optimizer.Optimize(ctx, times, coords, date, scheduling.Config{
		BufferMinutes: prof.BufferMinutes,
		Madhab:        madhab,
		Method:        method,
		Ramadan:       prof.Ramadan,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	proposal := &postgres.Proposal{
		PatientID:      req.PatientID,
		Date:           req.Date,
		OriginalTimes:  times,
		OptimizedTimes: result.OptimizedTimes,
		Warnings:       result.Warnings,
		CulturalNotes:  result.CulturalNotes,
		Fallback:       result.PrayerTimes.Fallback,
	}
	if err := s.store.SaveProposal(ctx, proposal, redpanda.TopicScheduleOptimized); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	if s.m != nil {
		s.m.ProposalsPublished.Inc()
	}

	s.logger.Info("schedule reoptimized",
		zap.String("patient_id", req.PatientID),
		zap.String("date", req.Date),
		zap.String("trigger", req.Trigger),
		zap.Int("intakes", len(times)),
		zap.Int("conflicts", len(result.Conflicts)))

	return &Summary{
		ProposalID: proposal.ID,
		PatientID:  req.PatientID,
		Date:       req.Date,
		Intakes:    len(times),
		Conflicts:  len(result.Conflicts),
		Fallback:   result.PrayerTimes.Fallback,
	}, nil
}
