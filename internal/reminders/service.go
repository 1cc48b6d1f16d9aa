// Package reminders materializes reminders from schedules and drives them
// through their lifecycle.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// DoseLog receives the dose outcome implied by a reminder transition
type DoseLog interface {
	RecordTaken(ctx context.Context, medicationID, reminderID string, scheduledTime, takenAt time.Time) error
	RecordMissed(ctx context.Context, medicationID, reminderID string, scheduledTime time.Time) error
}

// Config tunes materialization and snoozing
type Config struct {
	Horizon       time.Duration
	DefaultSnooze time.Duration
}

// DefaultConfig is a seven day horizon and a ten minute snooze
func DefaultConfig() Config {
	return Config{Horizon: 7 * 24 * time.Hour, DefaultSnooze: 10 * time.Minute}
}

// Service owns schedules and reminders
type Service struct {
	store   *store.Store
	clock   clock.Clock
	doses   DoseLog
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     Config
}

// New creates a reminder service
func New(st *store.Store, clk clock.Clock, doses DoseLog, m *metrics.Metrics, logger *zap.Logger, cfg Config) *Service {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultConfig().Horizon
	}
	if cfg.DefaultSnooze <= 0 {
		cfg.DefaultSnooze = DefaultConfig().DefaultSnooze
	}
	return &Service{
		store:   st,
		clock:   clk,
		doses:   doses,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

// TransitionOption adjusts a single lifecycle call
type TransitionOption func(*transitionOpts)

type transitionOpts struct {
	version *int
}

// IfVersion rejects the transition with a concurrency conflict unless the
// stored reminder is still at version v
func IfVersion(v int) TransitionOption {
	return func(o *transitionOpts) { o.version = &v }
}

// Get returns a reminder by ID
func (s *Service) Get(ctx context.Context, id string) (*store.Reminder, error) {
	return s.store.GetReminder(ctx, id)
}

// Send moves a scheduled reminder to sent
func (s *Service) Send(ctx context.Context, id string, opts ...TransitionOption) (*store.Reminder, error) {
	return s.transition(ctx, id, opts, applySend)
}

// Acknowledge confirms a sent reminder and records the dose as taken
func (s *Service) Acknowledge(ctx context.Context, id string, opts ...TransitionOption) (*store.Reminder, error) {
	r, err := s.transition(ctx, id, opts, applyAcknowledge)
	if err != nil {
		return nil, err
	}

	if err := s.doses.RecordTaken(ctx, r.MedicationID, r.ID, r.SlotTime, *r.AcknowledgedAt); err != nil {
		s.logger.Error("Failed to record taken dose",
			zap.String("reminder_id", r.ID),
			zap.String("medication_id", r.MedicationID),
			zap.Error(err),
		)
	}
	return r, nil
}

// Snooze pushes a sent reminder back by delay; delay <= 0 uses the default
func (s *Service) Snooze(ctx context.Context, id string, delay time.Duration, opts ...TransitionOption) (*store.Reminder, error) {
	if delay <= 0 {
		delay = s.cfg.DefaultSnooze
	}
	return s.transition(ctx, id, opts, func(r *store.Reminder, now time.Time) error {
		return applySnooze(r, now, delay)
	})
}

func (s *Service) transition(ctx context.Context, id string, opts []TransitionOption, apply func(*store.Reminder, time.Time) error) (*store.Reminder, error) {
	var o transitionOpts
	for _, opt := range opts {
		opt(&o)
	}

	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.version != nil && *o.version != r.Version {
		s.metrics.RecordVersionConflict()
		return nil, apperrors.ConcurrencyConflict("reminder %s is at version %d, not %d", id, r.Version, *o.version)
	}

	if err := apply(r, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) persist(ctx context.Context, r *store.Reminder) error {
	if err := s.store.UpdateReminder(ctx, r); err != nil {
		if errors.Is(err, apperrors.ErrConcurrencyConflict) {
			s.metrics.RecordVersionConflict()
		}
		return err
	}
	s.metrics.RecordTransition(string(r.Status))
	return nil
}

// ManualReminderInput creates a reminder outside any schedule
type ManualReminderInput struct {
	MedicationID  string    `json:"medication_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Message       string    `json:"message,omitempty"`
}

// CreateReminder adds a one-off reminder, typically for as-needed
// medications. A zero ScheduledTime means now.
func (s *Service) CreateReminder(ctx context.Context, in ManualReminderInput) (*store.Reminder, error) {
	if in.MedicationID == "" {
		return nil, apperrors.Validation("medication_id is required")
	}
	med, err := s.store.GetMedication(ctx, in.MedicationID)
	if err != nil {
		return nil, err
	}
	if med.Status != store.MedicationActive {
		return nil, apperrors.Validation("medication %s is %s", med.ID, med.Status)
	}

	at := in.ScheduledTime
	if at.IsZero() {
		at = s.clock.Now()
	}
	msg := in.Message
	if msg == "" {
		msg = reminderMessage(med)
	}

	r := &store.Reminder{
		MedicationID:  med.ID,
		ScheduledTime: at,
		Status:        store.ReminderScheduled,
		Message:       msg,
	}
	if err := s.store.CreateReminder(ctx, r); err != nil {
		return nil, err
	}
	s.metrics.RecordMaterialized(1)
	return r, nil
}

func reminderMessage(med *store.Medication) string {
	if med.DosageAmount > 0 {
		return fmt.Sprintf("Time to take %s (%g %s)", med.Name, med.DosageAmount, med.DosageUnit)
	}
	return fmt.Sprintf("Time to take %s", med.Name)
}

// location resolves a user's timezone, falling back to UTC
func (s *Service) location(ctx context.Context, userID string) *time.Location {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil || user.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		s.logger.Warn("Unknown user timezone, using UTC",
			zap.String("user_id", userID),
			zap.String("timezone", user.Timezone),
		)
		return time.UTC
	}
	return loc
}
