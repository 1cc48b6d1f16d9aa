package adherence

import (
	"context"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Adherence summarizes dose outcomes for one medication. Rate is only
// meaningful when HasData is true.
type Adherence struct {
	MedicationID string  `json:"medication_id"`
	Name         string  `json:"name,omitempty"`
	Taken        int64   `json:"taken"`
	Missed       int64   `json:"missed"`
	HasData      bool    `json:"has_data"`
	Rate         float64 `json:"rate"`
}

// Status is "ok" when a rate exists and "no-data" otherwise
func (a Adherence) Status() string {
	if a.HasData {
		return "ok"
	}
	return "no-data"
}

// ComputeAdherence returns taken / (taken + missed) as of now
func (t *Tracker) ComputeAdherence(ctx context.Context, medicationID string) (Adherence, error) {
	med, err := t.store.GetMedication(ctx, medicationID)
	if err != nil {
		return Adherence{}, err
	}

	taken, missed, err := t.store.CountDoses(ctx, medicationID, t.clock.Now())
	if err != nil {
		return Adherence{}, err
	}

	a := Adherence{MedicationID: med.ID, Name: med.Name, Taken: taken, Missed: missed}
	if total := taken + missed; total > 0 {
		a.HasData = true
		a.Rate = float64(taken) / float64(total)
	}
	return a, nil
}

// Summary computes adherence for every medication of a user
func (t *Tracker) Summary(ctx context.Context, userID string) ([]Adherence, error) {
	ok, err := t.store.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("user %s not found", userID)
	}

	meds, err := t.store.ListMedications(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	out := make([]Adherence, 0, len(meds))
	for _, med := range meds {
		a, err := t.ComputeAdherence(ctx, med.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
