package reminders

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/recurrence"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// ScheduleInput is the flat request form of a schedule
type ScheduleInput struct {
	MedicationID         string `json:"medication_id"`
	Frequency            string `json:"frequency"`
	TimeOfDay            string `json:"time_of_day"` // HH:MM, local to the patient
	CustomFrequencyHours *int   `json:"custom_frequency_hours,omitempty"`
	DaysOfWeek           []int  `json:"days_of_week,omitempty"`
	MonthlyDay           *int   `json:"monthly_day,omitempty"`
}

// ScheduleResult is a stored schedule with the reminders created for it
type ScheduleResult struct {
	Schedule  store.Schedule   `json:"schedule"`
	Reminders []store.Reminder `json:"reminders"`
}

// ReplenishReport summarizes one replenish pass
type ReplenishReport struct {
	Schedules int   `json:"schedules"`
	Inserted  int64 `json:"inserted"`
	Failed    int   `json:"failed"`
}

// ParseScheduleInput validates the input and builds its recurrence
func ParseScheduleInput(in ScheduleInput) (recurrence.Schedule, error) {
	freq, err := recurrence.ParseFrequency(in.Frequency)
	if err != nil {
		return recurrence.Schedule{}, err
	}

	rule, err := recurrence.RuleFromParams(freq, recurrence.Params{
		CustomFrequencyHours: in.CustomFrequencyHours,
		DaysOfWeek:           in.DaysOfWeek,
		MonthlyDay:           in.MonthlyDay,
	})
	if err != nil {
		return recurrence.Schedule{}, err
	}

	tod, err := parseTimeOfDay(in.TimeOfDay, freq)
	if err != nil {
		return recurrence.Schedule{}, err
	}

	rs := recurrence.Schedule{Rule: rule, TimeOfDay: tod}
	return rs, rs.Validate()
}

func parseTimeOfDay(s string, freq recurrence.Frequency) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if freq == recurrence.FrequencyAsNeeded {
			return 0, nil
		}
		return 0, apperrors.Validation("time_of_day is required for frequency %s", freq)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, apperrors.Validation("time_of_day %q must be HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// CreateSchedule stores a schedule and materializes its reminders for the
// horizon in one transaction. The rule is validated before anything is
// written.
func (s *Service) CreateSchedule(ctx context.Context, in ScheduleInput) (*ScheduleResult, error) {
	rs, err := ParseScheduleInput(in)
	if err != nil {
		return nil, err
	}
	if in.MedicationID == "" {
		return nil, apperrors.Validation("medication_id is required")
	}

	med, err := s.store.GetMedication(ctx, in.MedicationID)
	if err != nil {
		return nil, err
	}
	if med.Status != store.MedicationActive {
		return nil, apperrors.Validation("medication %s is %s; schedules need an active medication", med.ID, med.Status)
	}

	now := s.clock.Now().In(s.location(ctx, med.UserID))
	start, end := s.window(med, now, now)

	reminders := build(med, rs, start, end)

	sched := &store.Schedule{MedicationID: med.ID, IsActive: true, MaterializedUntil: &end}
	sched.SetRecurrence(rs)

	if err := s.store.CreateScheduleWithReminders(ctx, sched, reminders); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create schedule")
	}

	s.metrics.RecordMaterialized(len(reminders))
	s.logger.Info("Schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("medication_id", med.ID),
		zap.String("frequency", string(sched.Frequency)),
		zap.Int("reminders", len(reminders)),
	)

	return &ScheduleResult{Schedule: *sched, Reminders: reminders}, nil
}

// DeactivateSchedule stops a schedule from producing further reminders.
// Reminders already materialized are kept.
func (s *Service) DeactivateSchedule(ctx context.Context, id string) (*store.Schedule, error) {
	if err := s.store.SetScheduleActive(ctx, id, false); err != nil {
		return nil, err
	}
	return s.store.GetSchedule(ctx, id)
}

// ListSchedules lists a medication's schedules
func (s *Service) ListSchedules(ctx context.Context, medicationID string) ([]store.Schedule, error) {
	if _, err := s.store.GetMedication(ctx, medicationID); err != nil {
		return nil, err
	}
	return s.store.ListSchedules(ctx, medicationID)
}

// Replenish extends every active schedule up to now+horizon. A failing
// schedule is logged and counted; the rest still run.
func (s *Service) Replenish(ctx context.Context) (ReplenishReport, error) {
	var report ReplenishReport

	scheds, err := s.store.ListActiveSchedules(ctx)
	if err != nil {
		return report, err
	}

	for i := range scheds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Schedules++

		n, err := s.replenishOne(ctx, &scheds[i])
		if err != nil {
			report.Failed++
			s.metrics.RecordReplenishFailure()
			s.logger.Error("Failed to replenish schedule",
				zap.String("schedule_id", scheds[i].ID),
				zap.Error(err),
			)
			continue
		}
		report.Inserted += n
	}

	if report.Inserted > 0 || report.Failed > 0 {
		s.logger.Info("Replenish finished",
			zap.Int("schedules", report.Schedules),
			zap.Int64("inserted", report.Inserted),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (s *Service) replenishOne(ctx context.Context, sched *store.Schedule) (int64, error) {
	rs, err := sched.Recurrence()
	if err != nil {
		return 0, err
	}
	med, err := s.store.GetMedication(ctx, sched.MedicationID)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now().In(s.location(ctx, med.UserID))
	from := now
	if sched.MaterializedUntil != nil && sched.MaterializedUntil.After(now) {
		from = sched.MaterializedUntil.In(now.Location())
	}
	start, end := s.window(med, now, from)
	if !start.Before(end) {
		return 0, nil
	}

	inserted, err := s.store.AppendReminders(ctx, sched.ID, build(med, rs, start, end), end)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordMaterialized(int(inserted))
	return inserted, nil
}

// window clips [from, now+horizon) to the medication's active dates
func (s *Service) window(med *store.Medication, now, from time.Time) (time.Time, time.Time) {
	start := from
	if med.StartDate.After(start) {
		start = med.StartDate.In(now.Location())
	}
	end := now.Add(s.cfg.Horizon)
	if med.EndDate != nil && med.EndDate.Before(end) {
		end = med.EndDate.In(now.Location())
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}

func build(med *store.Medication, rs recurrence.Schedule, start, end time.Time) []store.Reminder {
	times := recurrence.Occurrences(rs, start, end)
	out := make([]store.Reminder, 0, len(times))
	msg := reminderMessage(med)
	for _, t := range times {
		out = append(out, store.Reminder{
			MedicationID:  med.ID,
			ScheduledTime: t,
			SlotTime:      t,
			Status:        store.ReminderScheduled,
			Message:       msg,
		})
	}
	return out
}
