// Package dispatch hands reminders that have come due to notifiers.
package dispatch

import (
	"context"
	"time"

	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// Notification is what a notifier receives for one sent reminder
type Notification struct {
	Type          string    `json:"type"`
	ReminderID    string    `json:"reminder_id"`
	MedicationID  string    `json:"medication_id"`
	UserID        string    `json:"user_id"`
	Medication    string    `json:"medication"`
	Message       string    `json:"message"`
	ScheduledTime time.Time `json:"scheduled_time"`
	SentAt        time.Time `json:"sent_at"`
	SnoozeCount   int       `json:"snooze_count"`
	Version       int       `json:"version"`
}

// NewNotification builds the payload for a sent reminder
func NewNotification(r *store.Reminder, med *store.Medication) Notification {
	n := Notification{
		Type:          "reminder",
		ReminderID:    r.ID,
		MedicationID:  r.MedicationID,
		Message:       r.Message,
		ScheduledTime: r.ScheduledTime,
		SnoozeCount:   r.SnoozeCount,
		Version:       r.Version,
	}
	if r.SentAt != nil {
		n.SentAt = *r.SentAt
	}
	if med != nil {
		n.UserID = med.UserID
		n.Medication = med.Name
	}
	return n
}

// Notifier delivers notifications to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("Reminder due",
		zap.String("reminder_id", n.ReminderID),
		zap.String("user_id", n.UserID),
		zap.String("medication", n.Medication),
		zap.Time("scheduled_time", n.ScheduledTime),
		zap.String("message", n.Message),
	)
	return nil
}
