package api

import (
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	"github.com/gmsas95/medtrack/internal/reminders"
	"github.com/gmsas95/medtrack/internal/security"
	"github.com/gofiber/fiber/v2"
)

// ==================== Schedules ====================

func (s *Server) handleCreateSchedule(c *fiber.Ctx) error {
	var req reminders.ScheduleInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	result, err := s.reminders.CreateSchedule(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err, "failed to create schedule")
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *Server) handleDeactivateSchedule(c *fiber.Ctx) error {
	sched, err := s.reminders.DeactivateSchedule(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to deactivate schedule")
	}
	return c.JSON(sched)
}

func (s *Server) handleListSchedules(c *fiber.Ctx) error {
	scheds, err := s.reminders.ListSchedules(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to list schedules")
	}
	return c.JSON(scheds)
}

// ==================== Reminders ====================

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	view, err := reminders.ParseView(c.Query("status"))
	if err != nil {
		return s.fail(c, err, "")
	}
	list, err := s.reminders.List(c.UserContext(), reminders.ListFilter{
		UserID:       c.Query("user_id"),
		MedicationID: c.Query("medication_id"),
		Status:       view,
	})
	if err != nil {
		return s.fail(c, err, "failed to list reminders")
	}
	return c.JSON(list)
}

func (s *Server) handleCreateReminder(c *fiber.Ctx) error {
	var req reminders.ManualReminderInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(security.ValidateNotes("message", req.Message)); err != nil {
		return s.fail(c, err, "")
	}
	r, err := s.reminders.CreateReminder(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err, "failed to create reminder")
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (s *Server) handleGetReminder(c *fiber.Ctx) error {
	r, err := s.reminders.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to get reminder")
	}
	return c.JSON(r)
}

func (s *Server) handleSendReminder(c *fiber.Ctx) error {
	opts, err := versionOption(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	r, err := s.reminders.Send(c.UserContext(), c.Params("id"), opts...)
	if err != nil {
		return s.fail(c, err, "failed to send reminder")
	}
	return c.JSON(r)
}

func (s *Server) handleAcknowledgeReminder(c *fiber.Ctx) error {
	opts, err := versionOption(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	r, err := s.reminders.Acknowledge(c.UserContext(), c.Params("id"), opts...)
	if err != nil {
		return s.fail(c, err, "failed to acknowledge reminder")
	}
	return c.JSON(r)
}

func (s *Server) handleSnoozeReminder(c *fiber.Ctx) error {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	if req.Minutes < 0 {
		return badRequest(c, "minutes cannot be negative")
	}

	opts, err := versionOption(c)
	if err != nil {
		return s.fail(c, err, "")
	}
	r, err := s.reminders.Snooze(c.UserContext(), c.Params("id"), time.Duration(req.Minutes)*time.Minute, opts...)
	if err != nil {
		return s.fail(c, err, "failed to snooze reminder")
	}
	return c.JSON(r)
}

// ==================== Doses ====================

func (s *Server) handleRecordDose(c *fiber.Ctx) error {
	var req adherence.DoseInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(security.ValidateNotes("notes", req.Notes)); err != nil {
		return s.fail(c, err, "")
	}
	dose, err := s.tracker.RecordDose(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err, "failed to record dose")
	}
	return c.Status(fiber.StatusCreated).JSON(dose)
}

func (s *Server) handleCorrectDose(c *fiber.Ctx) error {
	var req adherence.Correction
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Notes != nil {
		if err := validateText(security.ValidateNotes("notes", *req.Notes)); err != nil {
			return s.fail(c, err, "")
		}
	}
	dose, err := s.tracker.CorrectDose(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, "failed to correct dose")
	}
	return c.JSON(dose)
}

func (s *Server) handleListMissedDoses(c *fiber.Ctx) error {
	var asOf time.Time
	if raw := c.Query("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "as_of must be an RFC 3339 timestamp")
		}
		asOf = t
	}
	doses, err := s.tracker.ListMissed(c.UserContext(), c.Params("id"), asOf)
	if err != nil {
		return s.fail(c, err, "failed to list missed doses")
	}
	return c.JSON(doses)
}

// ==================== Admin ====================

func (s *Server) handleAdminSweep(c *fiber.Ctx) error {
	result, err := s.jobs.RunSweep(c.UserContext())
	if err != nil {
		return s.fail(c, err, "sweep failed")
	}
	return c.JSON(result)
}

func (s *Server) handleAdminReplenish(c *fiber.Ctx) error {
	report, err := s.jobs.RunReplenish(c.UserContext())
	if err != nil {
		return s.fail(c, err, "replenish failed")
	}
	return c.JSON(report)
}
