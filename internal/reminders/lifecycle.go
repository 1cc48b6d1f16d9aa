package reminders

import (
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/store"
)

// The functions below apply one lifecycle edge to a reminder in memory.
// Callers persist the result with a versioned update.

func applySend(r *store.Reminder, now time.Time) error {
	if r.Status != store.ReminderScheduled {
		return invalid(r, "send")
	}
	r.Status = store.ReminderSent
	if r.SentAt == nil {
		r.SentAt = &now
	}
	return nil
}

func applyAcknowledge(r *store.Reminder, now time.Time) error {
	if r.Status != store.ReminderSent {
		return invalid(r, "acknowledge")
	}
	r.Status = store.ReminderAcknowledged
	if r.AcknowledgedAt == nil {
		r.AcknowledgedAt = &now
	}
	return nil
}

// applySnooze returns a sent reminder to scheduled at now+delay. The new
// time always lands after the previous one.
func applySnooze(r *store.Reminder, now time.Time, delay time.Duration) error {
	if r.Status != store.ReminderSent {
		return invalid(r, "snooze")
	}
	if delay <= 0 {
		return apperrors.Validation("snooze delay must be positive, got %s", delay)
	}

	next := now.Add(delay)
	if !next.After(r.ScheduledTime) {
		next = r.ScheduledTime.Add(delay)
	}

	r.Status = store.ReminderScheduled
	r.ScheduledTime = next
	r.SentAt = nil
	r.SnoozeCount++
	return nil
}

func applyMissed(r *store.Reminder, now time.Time) error {
	if r.Status != store.ReminderScheduled && r.Status != store.ReminderSent {
		return invalid(r, "mark missed")
	}
	if !r.ScheduledTime.Before(now) {
		return apperrors.InvalidTransition("reminder %s is not due until %s", r.ID, r.ScheduledTime.Format(time.RFC3339))
	}
	r.Status = store.ReminderMissed
	return nil
}

func invalid(r *store.Reminder, action string) error {
	return apperrors.InvalidTransition("cannot %s reminder %s in status %s", action, r.ID, r.Status)
}
