// Package app wires the medtrack services together.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	"github.com/gmsas95/medtrack/internal/api"
	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/conflicts"
	"github.com/gmsas95/medtrack/internal/dispatch"
	"github.com/gmsas95/medtrack/internal/jobs"
	"github.com/gmsas95/medtrack/internal/lease"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const breakerCooldown = time.Minute

type App struct {
	Config     *config.Config
	Store      *store.Store
	Logger     *zap.Logger
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Tracker    *adherence.Tracker
	Reminders  *reminders.Service
	Screener   *conflicts.Screener
	Leases     *lease.Manager
	Hub        *dispatch.Hub
	Dispatcher *dispatch.Dispatcher
	Jobs       *jobs.Runner
	Version    string
}

// New builds every service on top of an open store
func New(cfg *config.Config, st *store.Store, logger *zap.Logger, version string) (*App, error) {
	return build(cfg, st, logger, clock.Real{}, metrics.Default(), version)
}

func build(cfg *config.Config, st *store.Store, logger *zap.Logger, clk clock.Clock, m *metrics.Metrics, version string) (*App, error) {
	tracker := adherence.New(st, clk, m, logger.Named("adherence"))
	svc := reminders.New(st, clk, tracker, m, logger.Named("reminders"), reminders.Config{
		Horizon:       cfg.Horizon(),
		DefaultSnooze: cfg.DefaultSnooze(),
	})

	screener := conflicts.New(st, st, clk, m, logger.Named("conflicts"))
	if cfg.Conflicts.TableFile != "" {
		if err := screener.LoadTableFile(cfg.Conflicts.TableFile); err != nil {
			return nil, fmt.Errorf("failed to load cross-reactivity table: %w", err)
		}
	}

	leases := lease.NewManager(st, clk, ownerID())
	hub := dispatch.NewHub(m, logger.Named("hub"))

	var dispatcher *dispatch.Dispatcher
	if cfg.Dispatch.Enabled {
		notifiers := []dispatch.Notifier{
			dispatch.NewBreakerNotifier(hub, cfg.Dispatch.BreakerFailures, breakerCooldown, logger),
			dispatch.NewLogNotifier(logger.Named("notify")),
		}
		dispatcher = dispatch.New(svc, st, clk, m, logger.Named("dispatch"), dispatch.Config{
			PerMinute: cfg.Dispatch.PerMinute,
		}, notifiers...)
	}

	jobsCfg := jobs.Config{
		SweepGrace: cfg.SweepGrace(),
		LeaseTTL:   cfg.LeaseTTL(),
	}
	if cfg.Sweep.Enabled {
		jobsCfg.SweepSchedule = cfg.Sweep.Schedule
	}
	if cfg.Replenish.Enabled {
		jobsCfg.ReplenishSchedule = cfg.Replenish.Schedule
	}
	if cfg.Dispatch.Enabled {
		jobsCfg.DispatchSchedule = cfg.Dispatch.Schedule
	}
	runner := jobs.NewRunner(jobsCfg, svc, dispatcher, leases, clk, m, logger.Named("jobs"))

	return &App{
		Config:     cfg,
		Store:      st,
		Logger:     logger,
		Clock:      clk,
		Metrics:    m,
		Tracker:    tracker,
		Reminders:  svc,
		Screener:   screener,
		Leases:     leases,
		Hub:        hub,
		Dispatcher: dispatcher,
		Jobs:       runner,
		Version:    version,
	}, nil
}

// Server builds the HTTP API over the app's services
func (app *App) Server() *api.Server {
	api.Version = app.Version
	return api.New(api.Deps{
		Config:    app.Config,
		Store:     app.Store,
		Reminders: app.Reminders,
		Tracker:   app.Tracker,
		Screener:  app.Screener,
		Jobs:      app.Jobs,
		Hub:       app.Hub,
		Metrics:   app.Metrics,
		Clock:     app.Clock,
		Logger:    app.Logger.Named("api"),
	})
}

// RunServer serves the API and runs background jobs until SIGINT/SIGTERM
func (app *App) RunServer() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if app.Config.Conflicts.TableFile != "" && app.Config.Conflicts.Watch {
		go func() {
			if err := app.Screener.Watch(ctx, app.Config.Conflicts.TableFile); err != nil {
				app.Logger.Error("Cross-reactivity table watcher stopped", zap.Error(err))
			}
		}()
	}

	// top up schedules before the first tick
	if _, err := app.Jobs.RunReplenish(ctx); err != nil {
		app.Logger.Warn("Initial replenish failed", zap.Error(err))
	}

	if err := app.Jobs.Start(); err != nil {
		app.Logger.Fatal("Failed to start job runner", zap.Error(err))
	}
	app.Logger.Info("Job runner started", zap.String("lease_owner", app.Leases.Owner()))

	server := app.Server()
	go func() {
		if err := server.Start(); err != nil {
			app.Logger.Fatal("Server error", zap.Error(err))
		}
	}()

	app.Logger.Info("Server started",
		zap.String("address", app.Config.Server.Address),
		zap.Int("port", app.Config.Server.Port),
		zap.String("version", app.Version),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info("Shutting down...")

	cancel()
	app.Jobs.Stop()

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "medtrack"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
