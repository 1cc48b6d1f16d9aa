package store

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// ReminderQuery filters reminder listings. Zero fields do not filter.
type ReminderQuery struct {
	UserID       string
	MedicationID string
	Statuses     []ReminderStatus
	DueBefore    *time.Time // scheduled_time < DueBefore
	DueAtOrAfter *time.Time // scheduled_time >= DueAtOrAfter
	Limit        int
}

// ==================== Reminder Methods ====================

// CreateReminder creates a single reminder
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// GetReminder retrieves a reminder by ID
func (s *Store) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	var r Reminder
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "reminder %s not found", id)
	}
	return &r, nil
}

// ListReminders lists reminders matching q ordered by scheduled time
func (s *Store) ListReminders(ctx context.Context, q ReminderQuery) ([]Reminder, error) {
	query := s.db.WithContext(ctx).Model(&Reminder{})

	if q.UserID != "" {
		query = query.Joins("JOIN medications ON medications.id = reminders.medication_id").
			Where("medications.user_id = ?", q.UserID)
	}
	if q.MedicationID != "" {
		query = query.Where("reminders.medication_id = ?", q.MedicationID)
	}
	if len(q.Statuses) > 0 {
		query = query.Where("reminders.status IN ?", q.Statuses)
	}
	if q.DueBefore != nil {
		query = query.Where("reminders.scheduled_time < ?", q.DueBefore.UTC())
	}
	if q.DueAtOrAfter != nil {
		query = query.Where("reminders.scheduled_time >= ?", q.DueAtOrAfter.UTC())
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var reminders []Reminder
	err := query.Select("reminders.*").Order("reminders.scheduled_time ASC").Find(&reminders).Error
	return reminders, err
}

// CountReminders counts the reminders materialized for a schedule
func (s *Store) CountReminders(ctx context.Context, scheduleID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Reminder{}).Where("schedule_id = ?", scheduleID).Count(&count).Error
	return count, err
}

// UpdateReminder writes r only if nobody else changed it since it was read.
// On success r.Version is bumped; a stale version yields a concurrency
// conflict and r is left unchanged.
func (s *Store) UpdateReminder(ctx context.Context, r *Reminder) error {
	expected := r.Version
	res := s.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND version = ?", r.ID, expected).
		Updates(map[string]interface{}{
			"status":          r.Status,
			"scheduled_time":  r.ScheduledTime.UTC(),
			"sent_at":         utcPtr(r.SentAt),
			"acknowledged_at": utcPtr(r.AcknowledgedAt),
			"snooze_count":    r.SnoozeCount,
			"message":         r.Message,
			"version":         expected + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ConcurrencyConflict("reminder %s was modified concurrently (version %d)", r.ID, expected)
	}
	r.Version = expected + 1
	return nil
}
