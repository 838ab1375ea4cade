// Package postgres provides PostgreSQL infrastructure: the read
// adapter over the external medication-schedule store and the
// transactional outbox used to hand optimized schedules to the
// notification dispatcher.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// IntakeTime is one scheduled dose read from the schedule store. The
// engine only reads these; the schedule of record stays with its
// owning service.
type IntakeTime struct {
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	ScheduledAt    time.Time `json:"scheduled_at"`
}

// Proposal is an optimized schedule offered back to the caller. The
// engine never overwrites the source schedule; consumers of the
// schedule.optimized topic decide whether to apply it.
type Proposal struct {
	ID             string      `json:"id"`
	PatientID      string      `json:"patient_id"`
	Date           string      `json:"date"`
	OriginalTimes  []time.Time `json:"original_times"`
	OptimizedTimes []time.Time `json:"optimized_times"`
	Warnings       []string    `json:"warnings"`
	CulturalNotes  []string    `json:"cultural_notes"`
	Fallback       bool        `json:"fallback_prayer_times"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ScheduleStore reads intake schedules and persists optimization
// proposals together with their outbox entries.
type ScheduleStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewScheduleStore creates a store over the given pool.
func NewScheduleStore(pool *pgxpool.Pool, logger *zap.Logger) *ScheduleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleStore{pool: pool, logger: logger}
}

// IntakeTimes returns the doses scheduled for one patient on one
// calendar day, ordered chronologically.
func (s *ScheduleStore) IntakeTimes(ctx context.Context, patientID string, date time.Time) ([]IntakeTime, error) {
	query := `
		SELECT medication_id, medication_name, scheduled_at
		FROM medication_intakes
		WHERE patient_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $2 + INTERVAL '1 day'
		ORDER BY scheduled_at ASC
	`

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	rows, err := s.pool.Query(ctx, query, patientID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("query intakes: %w", err)
	}
	defer rows.Close()

	var intakes []IntakeTime
	for rows.Next() {
		var it IntakeTime
		if err := rows.Scan(&it.MedicationID, &it.MedicationName, &it.ScheduledAt); err != nil {
			return nil, fmt.Errorf("scan intake: %w", err)
		}
		intakes = append(intakes, it)
	}
	return intakes, rows.Err()
}

// SaveProposal writes the proposal and its outbox entry in one
// transaction, so the optimized schedule is published if and only if
// it was stored.
func (s *ScheduleStore) SaveProposal(ctx context.Context, p *Proposal, topic string) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO schedule_proposals (id, patient_id, proposal_date, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, insert, p.ID, p.PatientID, p.Date, payload, p.CreatedAt); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	entry := &OutboxEntry{
		AggregateID:   p.PatientID,
		AggregateType: "schedule",
		EventType:     "schedule.optimized",
		Payload:       payload,
		Topic:         topic,
		Key:           p.PatientID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("proposal saved",
		zap.String("proposal_id", p.ID),
		zap.String("patient_id", p.PatientID),
		zap.String("date", p.Date))
	return nil
}
