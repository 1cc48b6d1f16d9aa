package store

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"gorm.io/gorm"
)

// ==================== Dose Methods ====================

// CreateDose creates a dose record
func (s *Store) CreateDose(ctx context.Context, d *Dose) error {
	return s.db.WithContext(ctx).Create(d).Error
}

// SaveDose updates every column of an existing dose
func (s *Store) SaveDose(ctx context.Context, d *Dose) error {
	return s.db.WithContext(ctx).Save(d).Error
}

// GetDose retrieves a dose by ID
func (s *Store) GetDose(ctx context.Context, id string) (*Dose, error) {
	var d Dose
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "dose %s not found", id)
	}
	return &d, nil
}

// FindDose returns the dose for a medication at a scheduled time, or nil
func (s *Store) FindDose(ctx context.Context, medicationID string, scheduledTime time.Time) (*Dose, error) {
	var d Dose
	err := s.db.WithContext(ctx).
		Where("medication_id = ? AND scheduled_time = ?", medicationID, scheduledTime.UTC()).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CountDoses returns taken and missed counts for a medication. A dose is
// missed when it was not taken and its time is before now.
func (s *Store) CountDoses(ctx context.Context, medicationID string, now time.Time) (taken, missed int64, err error) {
	err = s.db.WithContext(ctx).Model(&Dose{}).
		Where("medication_id = ? AND is_taken = ?", medicationID, true).
		Count(&taken).Error
	if err != nil {
		return 0, 0, err
	}

	err = s.db.WithContext(ctx).Model(&Dose{}).
		Where("medication_id = ? AND is_taken = ? AND scheduled_time < ?", medicationID, false, now.UTC()).
		Count(&missed).Error
	return taken, missed, err
}

// ListMissedDoses lists a user's untaken doses scheduled before asOf,
// oldest first
func (s *Store) ListMissedDoses(ctx context.Context, userID string, asOf time.Time) ([]Dose, error) {
	var doses []Dose
	err := s.db.WithContext(ctx).
		Joins("JOIN medications ON medications.id = doses.medication_id").
		Where("medications.user_id = ? AND doses.is_taken = ? AND doses.scheduled_time < ?", userID, false, asOf.UTC()).
		Order("doses.scheduled_time ASC").
		Find(&doses).Error
	return doses, err
}

// ==================== Allergy Methods ====================

// CreateAllergy records an allergy
func (s *Store) CreateAllergy(ctx context.Context, a *Allergy) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAllergies returns the active allergies of a user
func (s *Store) GetAllergies(ctx context.Context, userID string) ([]Allergy, error) {
	return s.ListAllergies(ctx, userID, true)
}

// ListAllergies lists a user's allergies
func (s *Store) ListAllergies(ctx context.Context, userID string, activeOnly bool) ([]Allergy, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var allergies []Allergy
	err := query.Order("created_at ASC").Find(&allergies).Error
	return allergies, err
}

// DeactivateAllergy soft-deletes an allergy
func (s *Store) DeactivateAllergy(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Allergy{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("allergy %s not found", id)
	}
	return nil
}

// ==================== Drug Interaction Methods ====================

// CreateInteraction records a drug interaction against a medication
func (s *Store) CreateInteraction(ctx context.Context, d *DrugInteraction) error {
	return s.db.WithContext(ctx).Create(d).Error
}

// GetInteraction retrieves an interaction by ID
func (s *Store) GetInteraction(ctx context.Context, id string) (*DrugInteraction, error) {
	var d DrugInteraction
	if err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "drug interaction %s not found", id)
	}
	return &d, nil
}

// ListInteractions lists interactions recorded for a medication
func (s *Store) ListInteractions(ctx context.Context, medicationID string) ([]DrugInteraction, error) {
	var out []DrugInteraction
	err := s.db.WithContext(ctx).Where("medication_id = ?", medicationID).
		Order("created_at ASC").Find(&out).Error
	return out, err
}

// ListOpenInteractionsForUser lists unacknowledged interactions across a
// user's active medications
func (s *Store) ListOpenInteractionsForUser(ctx context.Context, userID string) ([]DrugInteraction, error) {
	var out []DrugInteraction
	err := s.db.WithContext(ctx).
		Joins("JOIN medications ON medications.id = drug_interactions.medication_id").
		Where("medications.user_id = ? AND medications.status = ? AND drug_interactions.acknowledged = ?",
			userID, MedicationActive, false).
		Order("drug_interactions.created_at ASC").
		Find(&out).Error
	return out, err
}

// AcknowledgeInteraction marks an interaction as reviewed
func (s *Store) AcknowledgeInteraction(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&DrugInteraction{}).Where("id = ?", id).
		Updates(map[string]interface{}{"acknowledged": true, "acknowledged_at": &at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("drug interaction %s not found", id)
	}
	return nil
}
