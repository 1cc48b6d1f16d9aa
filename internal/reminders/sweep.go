package reminders

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// SweepReport summarizes one sweep
type SweepReport struct {
	Examined int           `json:"examined"`
	Missed   int           `json:"missed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// SweepMissed marks every scheduled or sent reminder due strictly before now
// as missed and records a missed dose for it. Each reminder is handled on
// its own: a failure is logged and counted and the sweep moves on. Running
// it again over the same data changes nothing.
func (s *Service) SweepMissed(ctx context.Context, now time.Time) (SweepReport, error) {
	started := time.Now()
	var report SweepReport

	due, err := s.store.ListReminders(ctx, store.ReminderQuery{
		Statuses:  []store.ReminderStatus{store.ReminderScheduled, store.ReminderSent},
		DueBefore: &now,
	})
	if err != nil {
		return report, err
	}

	for i := range due {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(started)
			return report, err
		}
		report.Examined++

		r := &due[i]
		if err := applyMissed(r, now); err != nil {
			report.Skipped++
			continue
		}

		if err := s.persist(ctx, r); err != nil {
			// acknowledged or swept by someone else in the meantime
			if errors.Is(err, apperrors.ErrConcurrencyConflict) {
				report.Skipped++
				s.logger.Debug("Reminder changed during sweep", zap.String("reminder_id", r.ID))
				continue
			}
			report.Failed++
			s.logger.Error("Failed to mark reminder missed",
				zap.String("reminder_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		report.Missed++

		if err := s.doses.RecordMissed(ctx, r.MedicationID, r.ID, r.SlotTime); err != nil {
			report.Failed++
			s.logger.Error("Failed to record missed dose",
				zap.String("reminder_id", r.ID),
				zap.String("medication_id", r.MedicationID),
				zap.Error(err),
			)
		}
	}

	report.Duration = time.Since(started)
	s.metrics.RecordSweep(report.Missed, report.Failed, report.Duration)

	if report.Missed > 0 || report.Failed > 0 {
		s.logger.Info("Sweep finished",
			zap.Int("examined", report.Examined),
			zap.Int("missed", report.Missed),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}
