package api

import (
	"github.com/gmsas95/medtrack/internal/conflicts"
	"github.com/gmsas95/medtrack/internal/security"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) handleAllergyCheck(c *fiber.Ctx) error {
	var req struct {
		UserID         string `json:"user_id"`
		MedicationName string `json:"medication_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(security.ValidateName("medication_name", req.MedicationName)); err != nil {
		return s.fail(c, err, "")
	}
	result, err := s.screener.CheckConflicts(c.UserContext(), req.UserID, req.MedicationName)
	if err != nil {
		return s.fail(c, err, "failed to check conflicts")
	}
	return c.JSON(result)
}

func (s *Server) handleAddAllergy(c *fiber.Ctx) error {
	var req conflicts.AllergyInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(
		security.ValidateName("allergen", req.Allergen),
		security.ValidateNotes("symptoms", req.Symptoms),
	); err != nil {
		return s.fail(c, err, "")
	}
	a, err := s.screener.AddAllergy(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, "failed to add allergy")
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (s *Server) handleListAllergies(c *fiber.Ctx) error {
	list, err := s.screener.ListAllergies(c.UserContext(), c.Params("id"), !c.QueryBool("all", false))
	if err != nil {
		return s.fail(c, err, "failed to list allergies")
	}
	return c.JSON(list)
}

func (s *Server) handleDeactivateAllergy(c *fiber.Ctx) error {
	if err := s.screener.DeactivateAllergy(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err, "failed to deactivate allergy")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRecordInteraction(c *fiber.Ctx) error {
	var req conflicts.InteractionInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if err := validateText(
		security.ValidateName("interacting_drug", req.InteractingDrug),
		security.ValidateNotes("effect", req.Effect),
	); err != nil {
		return s.fail(c, err, "")
	}
	in, err := s.screener.RecordInteraction(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return s.fail(c, err, "failed to record interaction")
	}
	return c.Status(fiber.StatusCreated).JSON(in)
}

func (s *Server) handleListInteractions(c *fiber.Ctx) error {
	list, err := s.screener.ListInteractions(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to list interactions")
	}
	return c.JSON(list)
}

func (s *Server) handleAcknowledgeInteraction(c *fiber.Ctx) error {
	in, err := s.screener.AcknowledgeInteraction(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "failed to acknowledge interaction")
	}
	return c.JSON(in)
}
