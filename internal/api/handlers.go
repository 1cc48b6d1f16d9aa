package api

import (
	"strings"
	"time"

	"github.com/gmsas95/medtrack/internal/adherence"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/security"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK
	if err := s.store.Ping(c.UserContext()); err != nil {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	snap, err := s.metrics.Snapshot()
	if err != nil {
		return s.fail(c, err, "failed to gather metrics")
	}
	return c.JSON(snap)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if !s.checkPassword(req.Password) {
		return s.fail(c, apperrors.Unauthorized("invalid credentials"), "")
	}

	tokenString, err := s.issueToken("admin")
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString, "expires_in": int(tokenTTL.Seconds())})
}

// ==================== Users ====================

func (s *Server) handleCreateUser(c *fiber.Ctx) error {
	var req struct {
		DisplayName string `json:"display_name"`
		Timezone    string `json:"timezone"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(security.ValidateName("display_name", req.DisplayName)); err != nil {
		return s.fail(c, err, "")
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			return badRequest(c, "unknown timezone "+req.Timezone)
		}
	}

	u := &store.User{DisplayName: strings.TrimSpace(req.DisplayName), Timezone: req.Timezone}
	if err := s.store.CreateUser(c.UserContext(), u); err != nil {
		return s.fail(c, err, "failed to create user")
	}
	return c.Status(fiber.StatusCreated).JSON(u)
}

func (s *Server) handleGetUser(c *fiber.Ctx) error {
	u, err := s.store.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to get user")
	}
	return c.JSON(u)
}

// ==================== Medications ====================

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req struct {
		UserID       string     `json:"user_id"`
		Name         string     `json:"name"`
		DosageAmount float64    `json:"dosage_amount"`
		DosageUnit   string     `json:"dosage_unit"`
		StartDate    *time.Time `json:"start_date"`
		EndDate      *time.Time `json:"end_date"`
		Instructions string     `json:"instructions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	ctx := c.UserContext()

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return badRequest(c, "name is required")
	}
	if err := validateText(
		security.ValidateName("name", name),
		security.ValidateName("dosage_unit", req.DosageUnit),
		security.ValidateNotes("instructions", req.Instructions),
	); err != nil {
		return s.fail(c, err, "")
	}
	if req.DosageAmount < 0 {
		return badRequest(c, "dosage_amount cannot be negative")
	}
	ok, err := s.store.UserExists(ctx, req.UserID)
	if err != nil {
		return s.fail(c, err, "failed to create medication")
	}
	if !ok {
		return s.fail(c, apperrors.NotFound("user %s not found", req.UserID), "")
	}

	med := &store.Medication{
		UserID:       req.UserID,
		Name:         name,
		DosageAmount: req.DosageAmount,
		DosageUnit:   req.DosageUnit,
		Status:       store.MedicationActive,
		Instructions: req.Instructions,
	}
	if req.StartDate != nil {
		med.StartDate = req.StartDate.UTC()
	} else {
		med.StartDate = s.clock.Now().UTC()
	}
	if req.EndDate != nil {
		end := req.EndDate.UTC()
		med.EndDate = &end
	}

	if err := s.store.CreateMedication(ctx, med); err != nil {
		return s.fail(c, err, "failed to create medication")
	}
	return c.Status(fiber.StatusCreated).JSON(med)
}

func (s *Server) handleGetMedication(c *fiber.Ctx) error {
	med, err := s.store.GetMedication(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to get medication")
	}
	return c.JSON(med)
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.store.ListMedications(c.UserContext(), c.Params("id"), c.QueryBool("active", false))
	if err != nil {
		return s.fail(c, err, "failed to list medications")
	}
	return c.JSON(meds)
}

func (s *Server) handleSetMedicationStatus(c *fiber.Ctx) error {
	var req struct {
		Status store.MedicationStatus `json:"status"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	switch req.Status {
	case store.MedicationActive, store.MedicationInactive, store.MedicationCompleted:
	default:
		return badRequest(c, "status must be active, inactive or completed")
	}

	ctx := c.UserContext()
	if err := s.store.SetMedicationStatus(ctx, c.Params("id"), req.Status); err != nil {
		return s.fail(c, err, "failed to update medication")
	}
	med, err := s.store.GetMedication(ctx, c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to get medication")
	}
	return c.JSON(med)
}

// ==================== Adherence ====================

type adherenceResponse struct {
	MedicationID string   `json:"medication_id"`
	Name         string   `json:"name"`
	Taken        int64    `json:"taken"`
	Missed       int64    `json:"missed"`
	Rate         *float64 `json:"rate"`
	Status       string   `json:"status"`
}

func toAdherenceResponse(a adherence.Adherence) adherenceResponse {
	resp := adherenceResponse{
		MedicationID: a.MedicationID,
		Name:         a.Name,
		Taken:        a.Taken,
		Missed:       a.Missed,
		Status:       a.Status(),
	}
	if a.HasData {
		rate := a.Rate
		resp.Rate = &rate
	}
	return resp
}

func (s *Server) handleAdherence(c *fiber.Ctx) error {
	a, err := s.tracker.ComputeAdherence(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to compute adherence")
	}
	return c.JSON(toAdherenceResponse(a))
}

func (s *Server) handleAdherenceSummary(c *fiber.Ctx) error {
	all, err := s.tracker.Summary(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to compute adherence")
	}
	resp := make([]adherenceResponse, 0, len(all))
	for _, a := range all {
		resp = append(resp, toAdherenceResponse(a))
	}
	return c.JSON(resp)
}
