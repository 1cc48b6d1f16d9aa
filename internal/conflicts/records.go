package conflicts

import (
	"context"
	"strings"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/store"
)

// AllergyInput records a new allergy
type AllergyInput struct {
	Allergen string                `json:"allergen"`
	Severity store.AllergySeverity `json:"severity"`
	Symptoms string                `json:"symptoms,omitempty"`
}

// InteractionInput records a known interaction for a medication
type InteractionInput struct {
	InteractingDrug string `json:"interacting_drug"`
	Severity        string `json:"severity"`
	Effect          string `json:"effect"`
}

// AddAllergy records an active allergy for a user
func (s *Screener) AddAllergy(ctx context.Context, userID string, in AllergyInput) (*store.Allergy, error) {
	allergen := strings.TrimSpace(in.Allergen)
	if allergen == "" {
		return nil, apperrors.Validation("allergen is required")
	}
	severity, err := parseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	a := &store.Allergy{
		UserID:   userID,
		Allergen: allergen,
		Severity: severity,
		Symptoms: in.Symptoms,
		IsActive: true,
	}
	if err := s.store.CreateAllergy(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListAllergies lists a user's allergies
func (s *Screener) ListAllergies(ctx context.Context, userID string, activeOnly bool) ([]store.Allergy, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListAllergies(ctx, userID, activeOnly)
}

// DeactivateAllergy soft-deletes an allergy
func (s *Screener) DeactivateAllergy(ctx context.Context, id string) error {
	return s.store.DeactivateAllergy(ctx, id)
}

// RecordInteraction stores an interaction against a medication
func (s *Screener) RecordInteraction(ctx context.Context, medicationID string, in InteractionInput) (*store.DrugInteraction, error) {
	drug := strings.TrimSpace(in.InteractingDrug)
	if drug == "" {
		return nil, apperrors.Validation("interacting_drug is required")
	}
	if _, err := s.store.GetMedication(ctx, medicationID); err != nil {
		return nil, err
	}

	di := &store.DrugInteraction{
		MedicationID:    medicationID,
		InteractingDrug: drug,
		Severity:        strings.ToLower(strings.TrimSpace(in.Severity)),
		Effect:          in.Effect,
	}
	if err := s.store.CreateInteraction(ctx, di); err != nil {
		return nil, err
	}
	return di, nil
}

// ListInteractions lists interactions recorded for a medication
func (s *Screener) ListInteractions(ctx context.Context, medicationID string) ([]store.DrugInteraction, error) {
	if _, err := s.store.GetMedication(ctx, medicationID); err != nil {
		return nil, err
	}
	return s.store.ListInteractions(ctx, medicationID)
}

// AcknowledgeInteraction marks an interaction as reviewed
func (s *Screener) AcknowledgeInteraction(ctx context.Context, id string) (*store.DrugInteraction, error) {
	if err := s.store.AcknowledgeInteraction(ctx, id, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.store.GetInteraction(ctx, id)
}

func parseSeverity(s store.AllergySeverity) (store.AllergySeverity, error) {
	v := store.AllergySeverity(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(string(s)), "-", "_")))
	switch v {
	case "":
		return store.AllergyModerate, nil
	case store.AllergyMild, store.AllergyModerate, store.AllergySevere, store.AllergyLifeThreatening:
		return v, nil
	}
	return "", apperrors.Validation("unknown allergy severity %q", s)
}
