// Package conflicts screens candidate medications against a patient's
// recorded allergies. The check is a substring heuristic over names and a
// static cross-reactivity table. It is advisory only and false negatives
// are expected.
package conflicts

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/gmsas95/medtrack/internal/clock"
	apperrors "github.com/gmsas95/medtrack/internal/errors"
	"github.com/gmsas95/medtrack/internal/metrics"
	"github.com/gmsas95/medtrack/internal/store"
	"go.uber.org/zap"
)

// Advisory accompanies every result
const Advisory = "Allergy screening is a name-matching heuristic, not a clinical guarantee. " +
	"Absence of a conflict does not mean the medication is safe."

// SeverityHigh is the severity assigned to every allergy conflict
const SeverityHigh = "High"

const (
	ReasonNameOverlap     = "name overlap"
	ReasonCrossReactivity = "cross-reactivity"
)

// Directory is the patient directory the screener reads from
type Directory interface {
	GetAllergies(ctx context.Context, userID string) ([]store.Allergy, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Conflict is one allergy that matches the candidate
type Conflict struct {
	AllergyID       string                `json:"allergy_id"`
	Allergen        string                `json:"allergen"`
	AllergySeverity store.AllergySeverity `json:"allergy_severity"`
	Reason          string                `json:"reason"`
	Severity        string                `json:"severity"`
	MatchedTerm     string                `json:"matched_term,omitempty"`
	ReactivityClass string                `json:"reactivity_class,omitempty"`
}

// Result is the outcome of a check. Interactions are informational and do
// not set HasConflicts.
type Result struct {
	UserID       string                  `json:"user_id"`
	Candidate    string                  `json:"medication_name"`
	HasConflicts bool                    `json:"has_conflicts"`
	Conflicts    []Conflict              `json:"conflicts"`
	Interactions []store.DrugInteraction `json:"interactions"`
	Advisory     string                  `json:"advisory"`
}

// Screener checks candidates and manages allergy and interaction records
type Screener struct {
	store   *store.Store
	dir     Directory
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
	table   atomic.Pointer[Table]
}

// New creates a screener using the built-in table
func New(st *store.Store, dir Directory, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Screener {
	s := &Screener{store: st, dir: dir, clock: clk, metrics: m, logger: logger}
	s.table.Store(DefaultTable())
	return s
}

// Table returns the table currently in use
func (s *Screener) Table() *Table {
	return s.table.Load()
}

// SetTable swaps the cross-reactivity table
func (s *Screener) SetTable(t *Table) {
	s.table.Store(t)
}

// CheckConflicts screens candidate against the user's active allergies
func (s *Screener) CheckConflicts(ctx context.Context, userID, candidate string) (*Result, error) {
	name := normalize(candidate)
	if name == "" {
		return nil, apperrors.Validation("medication_name is required")
	}
	if userID == "" {
		return nil, apperrors.Validation("user_id is required")
	}

	ok, err := s.dir.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("user %s not found", userID)
	}

	allergies, err := s.dir.GetAllergies(ctx, userID)
	if err != nil {
		return nil, err
	}

	table := s.Table()
	res := &Result{
		UserID:       userID,
		Candidate:    candidate,
		Conflicts:    []Conflict{},
		Interactions: []store.DrugInteraction{},
		Advisory:     Advisory,
	}

	for _, a := range allergies {
		if !a.IsActive {
			continue
		}
		allergen := normalize(a.Allergen)
		if allergen == "" {
			continue
		}

		c := Conflict{
			AllergyID:       a.ID,
			Allergen:        a.Allergen,
			AllergySeverity: a.Severity,
			Severity:        SeverityHigh,
		}
		switch {
		case strings.Contains(name, allergen) || strings.Contains(allergen, name):
			c.Reason = ReasonNameOverlap
		default:
			class, term, matched := table.Match(allergen, name)
			if !matched {
				continue
			}
			c.Reason = ReasonCrossReactivity
			c.MatchedTerm = term
			c.ReactivityClass = class
		}
		res.Conflicts = append(res.Conflicts, c)
	}
	res.HasConflicts = len(res.Conflicts) > 0

	if s.store != nil {
		open, err := s.store.ListOpenInteractionsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, di := range open {
			drug := normalize(di.InteractingDrug)
			if drug != "" && (strings.Contains(name, drug) || strings.Contains(drug, name)) {
				res.Interactions = append(res.Interactions, di)
			}
		}
	}

	s.metrics.RecordConflictCheck(res.HasConflicts)
	if res.HasConflicts {
		s.logger.Info("Allergy conflict detected",
			zap.String("user_id", userID),
			zap.String("medication", candidate),
			zap.Int("conflicts", len(res.Conflicts)),
		)
	}
	return res, nil
}
