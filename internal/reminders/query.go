package reminders

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/store"
)

// View names a listing of reminders
type View string

const (
	ViewAll          View = ""
	ViewPending      View = "pending"
	ViewUpcoming     View = "upcoming"
	ViewMissed       View = "missed"
	ViewAcknowledged View = "acknowledged"
)

// ParseView validates a status filter from a request
func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case ViewAll, ViewPending, ViewUpcoming, ViewMissed, ViewAcknowledged:
		return v, nil
	}
	return "", apperrors.Validation("unknown reminder status %q", s)
}

// ListFilter narrows List. Empty fields do not filter.
type ListFilter struct {
	UserID       string
	MedicationID string
	Status       View
}

// List returns reminders for a view, ordered by scheduled time.
//
//	pending:  sent, or scheduled and already due
//	upcoming: scheduled and still in the future
func (s *Service) List(ctx context.Context, f ListFilter) ([]store.Reminder, error) {
	now := s.clock.Now()
	q := store.ReminderQuery{UserID: f.UserID, MedicationID: f.MedicationID}

	var keep func(r *store.Reminder) bool
	switch f.Status {
	case ViewAll:
	case ViewPending:
		q.Statuses = []store.ReminderStatus{store.ReminderScheduled, store.ReminderSent}
		keep = func(r *store.Reminder) bool {
			return r.Status == store.ReminderSent || !r.ScheduledTime.After(now)
		}
	case ViewUpcoming:
		q.Statuses = []store.ReminderStatus{store.ReminderScheduled}
		q.DueAtOrAfter = &now
		keep = func(r *store.Reminder) bool { return r.ScheduledTime.After(now) }
	case ViewMissed:
		q.Statuses = []store.ReminderStatus{store.ReminderMissed}
	case ViewAcknowledged:
		q.Statuses = []store.ReminderStatus{store.ReminderAcknowledged}
	default:
		return nil, apperrors.Validation("unknown reminder status %q", f.Status)
	}

	all, err := s.store.ListReminders(ctx, q)
	if err != nil || keep == nil {
		return all, err
	}

	out := all[:0]
	for i := range all {
		if keep(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Due returns scheduled reminders whose time has arrived, oldest first
func (s *Service) Due(ctx context.Context, now time.Time, limit int) ([]store.Reminder, error) {
	cutoff := now.Add(time.Nanosecond)
	return s.store.ListReminders(ctx, store.ReminderQuery{
		Statuses:  []store.ReminderStatus{store.ReminderScheduled},
		DueBefore: &cutoff,
		Limit:     limit,
	})
}
