// Package jobs runs the recurring background work: missed-dose sweeps,
// schedule replenishment and reminder dispatch.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/dispatch"
	"github.com/gmsas95/medtrack/internal/lease"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLease = "sweep"

// Config holds job schedules. An empty schedule disables the job.
type Config struct {
	SweepSchedule     string
	SweepGrace        time.Duration
	LeaseTTL          time.Duration
	ReplenishSchedule string
	DispatchSchedule  string
	JobTimeout        time.Duration
}

type job struct {
	name     string
	schedule string
	run      func(context.Context)
}

// Runner owns the cron scheduler and the jobs registered on it
type Runner struct {
	config     Config
	reminders  *reminders.Service
	dispatcher *dispatch.Dispatcher
	leases     *lease.Manager
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewRunner creates a runner; dispatcher may be nil when dispatch is off
func NewRunner(config Config, svc *reminders.Service, dispatcher *dispatch.Dispatcher, leases *lease.Manager, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 2 * time.Minute
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}

	cronLogger := cronLogger{logger: logger.Named("cron")}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Runner{
		config:     config,
		reminders:  svc,
		dispatcher: dispatcher,
		leases:     leases,
		clock:      clk,
		metrics:    m,
		logger:     logger,
		cron:       c,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the configured jobs and starts the scheduler
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("job runner already running")
	}

	jobs := []job{
		{"sweep", r.config.SweepSchedule, func(ctx context.Context) { _, _ = r.RunSweep(ctx) }},
		{"replenish", r.config.ReplenishSchedule, func(ctx context.Context) { _, _ = r.RunReplenish(ctx) }},
	}
	if r.dispatcher != nil {
		jobs = append(jobs, job{"dispatch", r.config.DispatchSchedule, func(ctx context.Context) { _, _ = r.RunDispatch(ctx) }})
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		run := job.run
		if _, err := r.cron.AddFunc(job.schedule, func() {
			ctx, cancel := context.WithTimeout(r.ctx, r.config.JobTimeout)
			defer cancel()
			run(ctx)
		}); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", job.name, job.schedule, err)
		}
		r.logger.Info("Registered job", zap.String("job", job.name), zap.String("schedule", job.schedule))
	}

	r.cron.Start()
	r.running = true
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Job runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// SweepResult is the outcome of one guarded sweep
type SweepResult struct {
	Ran    bool                  `json:"ran"`
	Holder string                `json:"holder,omitempty"`
	Report reminders.SweepReport `json:"report"`
}

// RunSweep marks overdue reminders missed while holding the sweep lease.
// Reminders are only swept once they are older than the grace period.
func (r *Runner) RunSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	ran, err := r.leases.WithLease(ctx, sweepLease, r.config.LeaseTTL, func(ctx context.Context) error {
		report, err := r.reminders.SweepMissed(ctx, r.clock.Now().Add(-r.config.SweepGrace))
		result.Report = report
		return err
	})
	result.Ran = ran
	if errors.Is(err, lease.ErrUnavailable) {
		// another process owns the data directory and runs its own sweeps
		r.metrics.RecordSweepSkipped()
		r.logger.Warn("Sweep skipped, lease store unavailable", zap.Error(err))
		return result, nil
	}
	if err != nil {
		r.logger.Error("Sweep failed", zap.Error(err))
		return result, err
	}
	if !ran {
		holder, _ := r.leases.Holder(sweepLease)
		result.Holder = holder
		r.metrics.RecordSweepSkipped()
		r.logger.Debug("Sweep skipped, lease held elsewhere", zap.String("holder", holder))
		return result, nil
	}

	if result.Report.Examined > 0 {
		r.logger.Info("Sweep completed",
			zap.Int("examined", result.Report.Examined),
			zap.Int("missed", result.Report.Missed),
			zap.Int("skipped", result.Report.Skipped),
			zap.Int("failed", result.Report.Failed),
		)
	}
	return result, nil
}

// RunReplenish extends every active schedule to the horizon
func (r *Runner) RunReplenish(ctx context.Context) (reminders.ReplenishReport, error) {
	report, err := r.reminders.Replenish(ctx)
	if err != nil {
		r.logger.Error("Replenish failed", zap.Error(err))
		return report, err
	}
	if report.Inserted > 0 || report.Failed > 0 {
		r.logger.Info("Replenish completed",
			zap.Int("schedules", report.Schedules),
			zap.Int64("inserted", report.Inserted),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// RunDispatch sends reminders that have come due
func (r *Runner) RunDispatch(ctx context.Context) (dispatch.Report, error) {
	if r.dispatcher == nil {
		return dispatch.Report{}, nil
	}
	report, err := r.dispatcher.Run(ctx)
	if err != nil {
		r.logger.Error("Dispatch failed", zap.Error(err))
	}
	return report, err
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
