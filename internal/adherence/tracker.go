// Package adherence records dose outcomes and derives adherence rates.
package adherence

import (
	"context"
	"time"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// Tracker records doses against medications
type Tracker struct {
	store   *store.Store
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a tracker
func New(st *store.Store, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	return &Tracker{store: st, clock: clk, metrics: m, logger: logger}
}

// DoseInput describes one dose outcome
type DoseInput struct {
	MedicationID  string     `json:"medication_id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	Taken         bool       `json:"taken"`
	TakenTime     *time.Time `json:"taken_time,omitempty"`
	ActualDosage  *float64   `json:"actual_dosage,omitempty"`
	ReminderID    *string    `json:"reminder_id,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Correction is an explicit edit of a recorded dose. Nil fields are kept.
type Correction struct {
	Taken        *bool      `json:"taken,omitempty"`
	TakenTime    *time.Time `json:"taken_time,omitempty"`
	ActualDosage *float64   `json:"actual_dosage,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// RecordDose upserts the dose for (medication, scheduled time). Once a dose
// has a taken time it can only change through CorrectDose.
func (t *Tracker) RecordDose(ctx context.Context, in DoseInput) (*store.Dose, error) {
	if in.MedicationID == "" {
		return nil, apperrors.Validation("medication_id is required")
	}
	if in.ScheduledTime.IsZero() {
		return nil, apperrors.Validation("scheduled_time is required")
	}
	if in.ActualDosage != nil && *in.ActualDosage < 0 {
		return nil, apperrors.Validation("actual_dosage cannot be negative")
	}
	if _, err := t.store.GetMedication(ctx, in.MedicationID); err != nil {
		return nil, err
	}

	now := t.clock.Now()
	dose, err := t.store.FindDose(ctx, in.MedicationID, in.ScheduledTime)
	if err != nil {
		return nil, err
	}

	if dose != nil && dose.TakenTime != nil {
		return nil, apperrors.InvalidTransition("dose %s was already taken at %s; submit a correction instead",
			dose.ID, dose.TakenTime.Format(time.RFC3339))
	}

	create := dose == nil
	if create {
		dose = &store.Dose{MedicationID: in.MedicationID, ScheduledTime: in.ScheduledTime}
	}

	dose.IsTaken = in.Taken
	dose.TakenTime = nil
	if in.Taken {
		taken := now
		if in.TakenTime != nil {
			taken = *in.TakenTime
		}
		dose.TakenTime = &taken
	}
	dose.IsMissed = isMissed(dose, now)
	if in.ActualDosage != nil {
		dose.ActualDosage = in.ActualDosage
	}
	if in.ReminderID != nil {
		dose.ReminderID = in.ReminderID
	}
	if in.Notes != "" {
		dose.Notes = in.Notes
	}

	if create {
		err = t.store.CreateDose(ctx, dose)
	} else {
		err = t.store.SaveDose(ctx, dose)
	}
	if err != nil {
		return nil, err
	}

	t.metrics.RecordDose(dose.IsTaken)
	return dose, nil
}

// CorrectDose edits a dose regardless of whether it was taken
func (t *Tracker) CorrectDose(ctx context.Context, id string, c Correction) (*store.Dose, error) {
	dose, err := t.store.GetDose(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.ActualDosage != nil && *c.ActualDosage < 0 {
		return nil, apperrors.Validation("actual_dosage cannot be negative")
	}

	now := t.clock.Now()
	if c.Taken != nil {
		dose.IsTaken = *c.Taken
	}
	if c.TakenTime != nil {
		dose.TakenTime = c.TakenTime
		dose.IsTaken = true
	}
	switch {
	case !dose.IsTaken:
		dose.TakenTime = nil
	case dose.TakenTime == nil:
		dose.TakenTime = &now
	}
	if c.ActualDosage != nil {
		dose.ActualDosage = c.ActualDosage
	}
	if c.Notes != nil {
		dose.Notes = *c.Notes
	}
	dose.IsMissed = isMissed(dose, now)

	if err := t.store.SaveDose(ctx, dose); err != nil {
		return nil, err
	}

	t.logger.Info("Dose corrected",
		zap.String("dose_id", dose.ID),
		zap.Bool("taken", dose.IsTaken),
	)
	return dose, nil
}

// RecordMissed writes a missed dose unless one already exists for that time
func (t *Tracker) RecordMissed(ctx context.Context, medicationID, reminderID string, scheduledTime time.Time) error {
	existing, err := t.store.FindDose(ctx, medicationID, scheduledTime)
	if err != nil || existing != nil {
		return err
	}

	dose := &store.Dose{
		MedicationID:  medicationID,
		ScheduledTime: scheduledTime,
		IsMissed:      true,
	}
	if reminderID != "" {
		dose.ReminderID = &reminderID
	}
	if err := t.store.CreateDose(ctx, dose); err != nil {
		return err
	}

	t.metrics.RecordDose(false)
	return nil
}

// RecordTaken marks the dose at scheduledTime as taken at takenAt. An
// already taken dose is left as it is.
func (t *Tracker) RecordTaken(ctx context.Context, medicationID, reminderID string, scheduledTime, takenAt time.Time) error {
	dose, err := t.store.FindDose(ctx, medicationID, scheduledTime)
	if err != nil {
		return err
	}
	if dose != nil && dose.IsTaken {
		return nil
	}

	create := dose == nil
	if create {
		dose = &store.Dose{MedicationID: medicationID, ScheduledTime: scheduledTime}
	}
	dose.IsTaken = true
	dose.IsMissed = false
	dose.TakenTime = &takenAt
	if reminderID != "" {
		dose.ReminderID = &reminderID
	}

	if create {
		err = t.store.CreateDose(ctx, dose)
	} else {
		err = t.store.SaveDose(ctx, dose)
	}
	if err != nil {
		return err
	}

	t.metrics.RecordDose(true)
	return nil
}

// ListMissed lists the user's untaken doses due before asOf, oldest first.
// A zero asOf means now.
func (t *Tracker) ListMissed(ctx context.Context, userID string, asOf time.Time) ([]store.Dose, error) {
	ok, err := t.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("user %s not found", userID)
	}
	if asOf.IsZero() {
		asOf = t.clock.Now()
	}
	return t.store.ListMissedDoses(ctx, userID, asOf)
}

func isMissed(d *store.Dose, now time.Time) bool {
	return !d.IsTaken && d.ScheduledTime.Before(now)
}
