package store

import (
	"fmt"
	"time"

	"github.com/gmsas95/medtrack/internal/recurrence"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MedicationStatus is the soft lifecycle of a medication
type MedicationStatus string

const (
	MedicationActive    MedicationStatus = "active"
	MedicationInactive  MedicationStatus = "inactive"
	MedicationCompleted MedicationStatus = "completed"
)

// ReminderStatus is the lifecycle state of a reminder
type ReminderStatus string

const (
	ReminderScheduled    ReminderStatus = "scheduled"
	ReminderSent         ReminderStatus = "sent"
	ReminderAcknowledged ReminderStatus = "acknowledged"
	ReminderMissed       ReminderStatus = "missed"
)

// AllergySeverity grades an allergic reaction
type AllergySeverity string

const (
	AllergyMild            AllergySeverity = "mild"
	AllergyModerate        AllergySeverity = "moderate"
	AllergySevere          AllergySeverity = "severe"
	AllergyLifeThreatening AllergySeverity = "life_threatening"
)

// User is a patient known to the directory
type User struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	DisplayName string    `json:"display_name"`
	Timezone    string    `json:"timezone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Medication is a prescribed drug for one patient
type Medication struct {
	ID           string           `gorm:"primaryKey" json:"id"`
	UserID       string           `gorm:"index" json:"user_id"`
	Name         string           `json:"name"`
	DosageAmount float64          `json:"dosage_amount"`
	DosageUnit   string           `json:"dosage_unit"`
	Status       MedicationStatus `gorm:"index;default:active" json:"status"`
	StartDate    time.Time        `json:"start_date"`
	EndDate      *time.Time       `json:"end_date,omitempty"`
	Instructions string           `json:"instructions,omitempty" gorm:"type:text"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Schedule is the stored form of a recurrence rule. Only the columns the
// frequency uses are populated.
type Schedule struct {
	ID                   string               `gorm:"primaryKey" json:"id"`
	MedicationID         string               `gorm:"index" json:"medication_id"`
	Frequency            recurrence.Frequency `json:"frequency"`
	TimeOfDayMinutes     int                  `json:"time_of_day_minutes"`
	CustomFrequencyHours *int                 `json:"custom_frequency_hours,omitempty"`
	DaysOfWeek           string               `json:"days_of_week,omitempty"`
	MonthlyDay           *int                 `json:"monthly_day,omitempty"`
	IsActive             bool                 `gorm:"index" json:"is_active"`
	MaterializedUntil    *time.Time           `json:"materialized_until,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// Reminder is one materialized due time for a medication. SlotTime is the
// occurrence the reminder was generated for and never changes; ScheduledTime
// moves when the reminder is snoozed.
type Reminder struct {
	ID             string         `gorm:"primaryKey" json:"id"`
	MedicationID   string         `gorm:"index" json:"medication_id"`
	ScheduleID     *string        `gorm:"uniqueIndex:idx_reminder_schedule_slot" json:"schedule_id,omitempty"`
	SlotTime       time.Time      `gorm:"uniqueIndex:idx_reminder_schedule_slot" json:"slot_time"`
	ScheduledTime  time.Time      `gorm:"index" json:"scheduled_time"`
	Status         ReminderStatus `gorm:"index;default:scheduled" json:"status"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	SnoozeCount    int            `json:"snooze_count"`
	Message        string         `json:"message"`
	Version        int            `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Dose is one administration event, taken or not
type Dose struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	MedicationID  string     `gorm:"uniqueIndex:idx_dose_medication_time" json:"medication_id"`
	ReminderID    *string    `gorm:"index" json:"reminder_id,omitempty"`
	ScheduledTime time.Time  `gorm:"uniqueIndex:idx_dose_medication_time" json:"scheduled_time"`
	TakenTime     *time.Time `json:"taken_time,omitempty"`
	IsTaken       bool       `json:"is_taken"`
	IsMissed      bool       `json:"is_missed"`
	ActualDosage  *float64   `json:"actual_dosage,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Allergy is a recorded patient allergy; removal is IsActive=false
type Allergy struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	UserID    string          `gorm:"index" json:"user_id"`
	Allergen  string          `json:"allergen"`
	Severity  AllergySeverity `json:"severity"`
	Symptoms  string          `json:"symptoms,omitempty"`
	IsActive  bool            `gorm:"index" json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DrugInteraction is an explicit interaction record against a medication
type DrugInteraction struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	MedicationID    string     `gorm:"index" json:"medication_id"`
	InteractingDrug string     `json:"interacting_drug"`
	Severity        string     `json:"severity"`
	Effect          string     `json:"effect" gorm:"type:text"`
	Acknowledged    bool       `json:"acknowledged"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Recurrence converts the row back into its rule variant
func (s *Schedule) Recurrence() (recurrence.Schedule, error) {
	days, err := recurrence.ParseDays(s.DaysOfWeek)
	if err != nil {
		return recurrence.Schedule{}, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	rule, err := recurrence.RuleFromParams(s.Frequency, recurrence.Params{
		CustomFrequencyHours: s.CustomFrequencyHours,
		DaysOfWeek:           days,
		MonthlyDay:           s.MonthlyDay,
	})
	if err != nil {
		return recurrence.Schedule{}, err
	}
	rs := recurrence.Schedule{Rule: rule, TimeOfDay: time.Duration(s.TimeOfDayMinutes) * time.Minute}
	if err := rs.Validate(); err != nil {
		return recurrence.Schedule{}, err
	}
	return rs, nil
}

// SetRecurrence stores rs on the row, clearing columns the rule does not use
func (s *Schedule) SetRecurrence(rs recurrence.Schedule) {
	p := recurrence.ParamsOf(rs.Rule)
	s.Frequency = rs.Rule.Frequency()
	s.TimeOfDayMinutes = int(rs.TimeOfDay / time.Minute)
	s.CustomFrequencyHours = p.CustomFrequencyHours
	s.DaysOfWeek = recurrence.FormatDays(p.DaysOfWeek)
	s.MonthlyDay = p.MonthlyDay
}

// BeforeCreate hook for User
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = generateID()
	}
	return nil
}

// BeforeCreate hook for Medication
func (m *Medication) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = generateID()
	}
	if m.Status == "" {
		m.Status = MedicationActive
	}
	return nil
}

// BeforeSave hook for Medication
func (m *Medication) BeforeSave(tx *gorm.DB) error {
	m.StartDate = m.StartDate.UTC()
	m.EndDate = utcPtr(m.EndDate)
	return nil
}

// BeforeCreate hook for Schedule
func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = generateID()
	}
	return nil
}

// BeforeSave hook for Schedule
func (s *Schedule) BeforeSave(tx *gorm.DB) error {
	s.MaterializedUntil = utcPtr(s.MaterializedUntil)
	return nil
}

// BeforeCreate hook for Reminder
func (r *Reminder) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = generateID()
	}
	if r.Status == "" {
		r.Status = ReminderScheduled
	}
	if r.SlotTime.IsZero() {
		r.SlotTime = r.ScheduledTime
	}
	return nil
}

// BeforeSave hook for Reminder
func (r *Reminder) BeforeSave(tx *gorm.DB) error {
	r.ScheduledTime = r.ScheduledTime.UTC()
	r.SlotTime = r.SlotTime.UTC()
	r.SentAt = utcPtr(r.SentAt)
	r.AcknowledgedAt = utcPtr(r.AcknowledgedAt)
	return nil
}

// BeforeCreate hook for Dose
func (d *Dose) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = generateID()
	}
	return nil
}

// BeforeSave hook for Dose
func (d *Dose) BeforeSave(tx *gorm.DB) error {
	d.ScheduledTime = d.ScheduledTime.UTC()
	d.TakenTime = utcPtr(d.TakenTime)
	return nil
}

// BeforeCreate hook for Allergy
func (a *Allergy) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = generateID()
	}
	return nil
}

// BeforeCreate hook for DrugInteraction
func (d *DrugInteraction) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = generateID()
	}
	return nil
}

func generateID() string {
	return uuid.NewString()
}

// SQLite compares timestamps as text, so everything is stored in UTC
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
