package api

import (
	"strings"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	if s.config.Logging.Development {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, If-Match",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	s.app.Get("/api/metrics", s.handleMetricsJSON)

	api := s.app.Group("/api", s.requestContext())

	api.Post("/auth/login", s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Post("/users", s.handleCreateUser)
	protected.Get("/users/:id", s.handleGetUser)
	protected.Get("/users/:id/medications", s.handleListMedications)
	protected.Get("/users/:id/adherence", s.handleAdherenceSummary)
	protected.Get("/users/:id/doses/missed", s.handleListMissedDoses)
	protected.Post("/users/:id/allergies", s.handleAddAllergy)
	protected.Get("/users/:id/allergies", s.handleListAllergies)

	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/:id", s.handleGetMedication)
	protected.Put("/medications/:id/status", s.handleSetMedicationStatus)
	protected.Get("/medications/:id/schedules", s.handleListSchedules)
	protected.Get("/medications/:id/adherence", s.handleAdherence)
	protected.Post("/medications/:id/interactions", s.handleRecordInteraction)
	protected.Get("/medications/:id/interactions", s.handleListInteractions)

	protected.Post("/schedules", s.handleCreateSchedule)
	protected.Delete("/schedules/:id", s.handleDeactivateSchedule)

	protected.Get("/reminders", s.handleListReminders)
	protected.Post("/reminders", s.handleCreateReminder)
	protected.Get("/reminders/:id", s.handleGetReminder)
	protected.Post("/reminders/:id/send", s.handleSendReminder)
	protected.Post("/reminders/:id/acknowledge", s.handleAcknowledgeReminder)
	protected.Post("/reminders/:id/snooze", s.handleSnoozeReminder)

	protected.Post("/doses", s.handleRecordDose)
	protected.Put("/doses/:id", s.handleCorrectDose)

	protected.Post("/allergy-check", s.handleAllergyCheck)
	protected.Delete("/allergies/:id", s.handleDeactivateAllergy)
	protected.Post("/interactions/:id/acknowledge", s.handleAcknowledgeInteraction)

	protected.Post("/admin/sweep", s.handleAdminSweep)
	protected.Post("/admin/replenish", s.handleAdminReplenish)

	ws := s.app.Group("/ws", s.authMiddleware(), s.upgradeOnly())
	ws.Get("/reminders", websocket.New(s.handleReminderStream))
}
