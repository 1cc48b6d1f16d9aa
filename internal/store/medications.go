package store

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"gorm.io/gorm"
)

// ==================== User Methods ====================

// CreateUser creates a patient record
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user %s not found", id)
	}
	return &u, nil
}

// UserExists reports whether the directory knows id
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// ==================== Medication Methods ====================

// CreateMedication creates a medication after checking its date range
func (s *Store) CreateMedication(ctx context.Context, med *Medication) error {
	if med.EndDate != nil && med.EndDate.Before(med.StartDate) {
		return apperrors.Validation("end date %s is before start date %s",
			med.EndDate.Format(time.RFC3339), med.StartDate.Format(time.RFC3339))
	}
	return s.db.WithContext(ctx).Create(med).Error
}

// GetMedication retrieves a medication by ID
func (s *Store) GetMedication(ctx context.Context, id string) (*Medication, error) {
	var med Medication
	if err := s.db.WithContext(ctx).First(&med, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "medication %s not found", id)
	}
	return &med, nil
}

// ListMedications lists a user's medications, newest first
func (s *Store) ListMedications(ctx context.Context, userID string, activeOnly bool) ([]Medication, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		query = query.Where("status = ?", MedicationActive)
	}

	var meds []Medication
	err := query.Order("created_at DESC").Find(&meds).Error
	return meds, err
}

// SetMedicationStatus changes a medication's soft status
func (s *Store) SetMedicationStatus(ctx context.Context, id string, status MedicationStatus) error {
	res := s.db.WithContext(ctx).Model(&Medication{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("medication %s not found", id)
	}
	return nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound(format, args...)
	}
	return err
}
