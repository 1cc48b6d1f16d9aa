package store

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"gorm.io/gorm/clause"
)

// ==================== Schedule Methods ====================

// CreateScheduleWithReminders inserts a schedule and its first batch of
// reminders atomically. Nothing is written if any insert fails.
func (s *Store) CreateScheduleWithReminders(ctx context.Context, sched *Schedule, reminders []Reminder) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Create(sched).Error; err != nil {
			return err
		}
		for i := range reminders {
			reminders[i].ScheduleID = &sched.ID
		}
		if len(reminders) > 0 {
			if err := tx.db.CreateInBatches(reminders, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendReminders adds reminders to an existing schedule and advances its
// materialization mark. Reminders already present for the same slot are
// left untouched. Returns how many rows were inserted.
func (s *Store) AppendReminders(ctx context.Context, scheduleID string, reminders []Reminder, until time.Time) (int64, error) {
	var inserted int64
	err := s.Transaction(ctx, func(tx *Store) error {
		for i := range reminders {
			reminders[i].ScheduleID = &scheduleID
			res := tx.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&reminders[i])
			if res.Error != nil {
				return res.Error
			}
			inserted += res.RowsAffected
		}
		return tx.db.Model(&Schedule{}).Where("id = ?", scheduleID).
			Update("materialized_until", until.UTC()).Error
	})
	return inserted, err
}

// GetSchedule retrieves a schedule by ID
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	var sched Schedule
	if err := s.db.WithContext(ctx).First(&sched, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "schedule %s not found", id)
	}
	return &sched, nil
}

// ListSchedules lists the schedules of a medication
func (s *Store) ListSchedules(ctx context.Context, medicationID string) ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.WithContext(ctx).Where("medication_id = ?", medicationID).
		Order("created_at ASC").Find(&scheds).Error
	return scheds, err
}

// ListActiveSchedules lists active schedules belonging to active medications
func (s *Store) ListActiveSchedules(ctx context.Context) ([]Schedule, error) {
	var scheds []Schedule
	err := s.db.WithContext(ctx).
		Joins("JOIN medications ON medications.id = schedules.medication_id").
		Where("schedules.is_active = ? AND medications.status = ?", true, MedicationActive).
		Order("schedules.created_at ASC").
		Find(&scheds).Error
	return scheds, err
}

// SetScheduleActive toggles a schedule. Materialized reminders are kept.
func (s *Store) SetScheduleActive(ctx context.Context, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&Schedule{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("schedule %s not found", id)
	}
	return nil
}
