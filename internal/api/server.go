// Package api exposes medtrack over HTTP and websocket.
package api

import (
	"context"
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/conflicts"
	"github.com/gmsas95/medtrack/internal/dispatch"
	"github.com/gmsas95/medtrack/internal/jobs"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
var Version = "dev"

// Deps are the services the API serves
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Reminders *reminders.Service
	Tracker   *adherence.Tracker
	Screener  *conflicts.Screener
	Jobs      *jobs.Runner
	Hub       *dispatch.Hub
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Server handles HTTP API and WebSocket
type Server struct {
	app       *fiber.App
	config    *config.Config
	store     *store.Store
	reminders *reminders.Service
	tracker   *adherence.Tracker
	screener  *conflicts.Screener
	jobs      *jobs.Runner
	hub       *dispatch.Hub
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *zap.Logger

	requestTimeout time.Duration
}

// New creates a new API server
func New(d Deps) *Server {
	readTimeout := time.Duration(d.Config.Server.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(d.Config.Server.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(d.Logger),
	})

	s := &Server{
		app:       app,
		config:    d.Config,
		store:     d.Store,
		reminders: d.Reminders,
		tracker:   d.Tracker,
		screener:  d.Screener,
		jobs:      d.Jobs,
		hub:       d.Hub,
		metrics:   d.Metrics,
		clock:     d.Clock,
		logger:    d.Logger,

		requestTimeout: writeTimeout,
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.Addr()))
	return s.app.Listen(s.config.Addr())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
