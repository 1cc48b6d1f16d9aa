package dispatch

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls dispatch throughput
type Config struct {
	// PerMinute caps reminders sent per minute (0 = unlimited)
	PerMinute int
	// BatchSize caps reminders picked up per run
	BatchSize int
}

// Report summarises one dispatch run
type Report struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Rejected  int `json:"rejected"`
}

// Dispatcher moves due reminders to sent and notifies every notifier
type Dispatcher struct {
	reminders *reminders.Service
	store     *store.Store
	clock     clock.Clock
	notifiers []Notifier
	limiter   *rate.Limiter
	cfg       Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a dispatcher
func New(svc *reminders.Service, st *store.Store, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger, cfg Config, notifiers ...Notifier) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.PerMinute > 0 {
		burst := cfg.PerMinute / 10
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), burst)
	}

	return &Dispatcher{
		reminders: svc,
		store:     st,
		clock:     clk,
		notifiers: notifiers,
		limiter:   limiter,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Run sends every scheduled reminder whose time has arrived
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	var report Report

	due, err := d.reminders.Due(ctx, d.clock.Now(), d.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Due = len(due)

	meds := make(map[string]*store.Medication)
	for i := range due {
		r := due[i]
		if err := d.limiter.Wait(ctx); err != nil {
			return report, err
		}

		sent, err := d.reminders.Send(ctx, r.ID, reminders.IfVersion(r.Version))
		if err != nil {
			// acknowledged, snoozed or swept since we listed it
			if apperrors.GetCode(err) == apperrors.CodeConcurrencyConflict ||
				apperrors.GetCode(err) == apperrors.CodeInvalidTransition {
				report.Skipped++
				continue
			}
			d.logger.Error("Failed to send reminder", zap.String("reminder_id", r.ID), zap.Error(err))
			report.Failed++
			continue
		}
		report.Sent++

		med, ok := meds[sent.MedicationID]
		if !ok {
			med, err = d.store.GetMedication(ctx, sent.MedicationID)
			if err != nil {
				d.logger.Warn("Medication lookup failed", zap.String("medication_id", sent.MedicationID), zap.Error(err))
				med = nil
			}
			meds[sent.MedicationID] = med
		}

		d.notify(ctx, NewNotification(sent, med), &report)
	}

	if report.Due > 0 {
		d.logger.Info("Dispatch completed",
			zap.Int("due", report.Due),
			zap.Int("sent", report.Sent),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (d *Dispatcher) notify(ctx context.Context, n Notification, report *Report) {
	for _, notifier := range d.notifiers {
		start := time.Now()
		err := notifier.Notify(ctx, n)
		switch {
		case err == nil:
			report.Delivered++
			d.metrics.RecordDispatch("delivered")
		case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
			report.Rejected++
			d.metrics.RecordDispatch("rejected")
		default:
			report.Failed++
			d.metrics.RecordDispatch("failed")
			d.logger.Warn("Notifier failed",
				zap.String("notifier", notifier.Name()),
				zap.String("reminder_id", n.ReminderID),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
		}
	}
}
