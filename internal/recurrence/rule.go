// Package recurrence computes when doses are due from a schedule's
// recurrence rule. Everything here is a pure function of its inputs.
package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Frequency names a recurrence kind as stored and accepted over the API
type Frequency string

const (
	FrequencyOnceDaily       Frequency = "once_daily"
	FrequencyTwiceDaily      Frequency = "twice_daily"
	FrequencyThreeTimesDaily Frequency = "three_times_daily"
	FrequencyFourTimesDaily  Frequency = "four_times_daily"
	FrequencyEveryNHours     Frequency = "every_n_hours"
	FrequencyAsNeeded        Frequency = "as_needed"
	FrequencyWeekly          Frequency = "weekly"
	FrequencyMonthly         Frequency = "monthly"
	FrequencyCustom          Frequency = "custom"
)

// MaxIntervalHours bounds every-N-hours and custom intervals to one week
const MaxIntervalHours = 168

// ParseFrequency normalizes a frequency name
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyOnceDaily, FrequencyTwiceDaily, FrequencyThreeTimesDaily, FrequencyFourTimesDaily,
		FrequencyEveryNHours, FrequencyAsNeeded, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return f, nil
	}
	return "", apperrors.Validation("unknown frequency %q", s)
}

// Rule is one variant per frequency, each carrying exactly the parameters
// that frequency needs.
type Rule interface {
	Frequency() Frequency
	Validate() error
	occurrences(start, end time.Time, tod time.Duration) []time.Time
}

// Daily covers the once/twice/three/four-times-daily frequencies.
//
// Only a single occurrence per day is produced, at the schedule's time of
// day, regardless of TimesPerDay. Each additional daily dose is its own
// schedule row.
type Daily struct {
	TimesPerDay int
}

// EveryNHours repeats every Hours starting at the time of day
type EveryNHours struct {
	Hours int
}

// Custom is an hourly interval optionally restricted to some weekdays
type Custom struct {
	Hours int
	Days  []time.Weekday
}

// Weekly fires on the listed weekdays
type Weekly struct {
	Days []time.Weekday
}

// Monthly fires on one day of the month. Months too short for Day are skipped.
type Monthly struct {
	Day int
}

// AsNeeded never fires automatically
type AsNeeded struct{}

func (d Daily) Frequency() Frequency {
	switch d.TimesPerDay {
	case 2:
		return FrequencyTwiceDaily
	case 3:
		return FrequencyThreeTimesDaily
	case 4:
		return FrequencyFourTimesDaily
	default:
		return FrequencyOnceDaily
	}
}

func (EveryNHours) Frequency() Frequency { return FrequencyEveryNHours }
func (Custom) Frequency() Frequency      { return FrequencyCustom }
func (Weekly) Frequency() Frequency      { return FrequencyWeekly }
func (Monthly) Frequency() Frequency     { return FrequencyMonthly }
func (AsNeeded) Frequency() Frequency    { return FrequencyAsNeeded }

func (d Daily) Validate() error {
	if d.TimesPerDay < 1 || d.TimesPerDay > 4 {
		return apperrors.Validation("times per day must be between 1 and 4, got %d", d.TimesPerDay)
	}
	return nil
}

func (e EveryNHours) Validate() error {
	return validateHours(e.Hours)
}

func (c Custom) Validate() error {
	if err := validateHours(c.Hours); err != nil {
		return err
	}
	return validateDays(c.Days)
}

func (w Weekly) Validate() error {
	if len(w.Days) == 0 {
		return apperrors.Validation("weekly schedule requires at least one day of week")
	}
	return validateDays(w.Days)
}

func (m Monthly) Validate() error {
	if m.Day < 1 || m.Day > 31 {
		return apperrors.Validation("monthly day must be between 1 and 31, got %d", m.Day)
	}
	return nil
}

func (AsNeeded) Validate() error { return nil }

func validateHours(h int) error {
	if h <= 0 || h > MaxIntervalHours {
		return apperrors.Validation("custom frequency hours must be between 1 and %d, got %d", MaxIntervalHours, h)
	}
	return nil
}

func validateDays(days []time.Weekday) error {
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return apperrors.Validation("day of week %d out of range 0-6", int(d))
		}
	}
	return nil
}

// Params is the flat parameter set accepted over the API and stored on a
// schedule row.
type Params struct {
	CustomFrequencyHours *int
	DaysOfWeek           []int
	MonthlyDay           *int
}

// RuleFromParams builds the variant for freq, failing when a parameter the
// frequency requires is missing. Parameters the frequency does not use are
// ignored.
func RuleFromParams(freq Frequency, p Params) (Rule, error) {
	var rule Rule
	switch freq {
	case FrequencyOnceDaily:
		rule = Daily{TimesPerDay: 1}
	case FrequencyTwiceDaily:
		rule = Daily{TimesPerDay: 2}
	case FrequencyThreeTimesDaily:
		rule = Daily{TimesPerDay: 3}
	case FrequencyFourTimesDaily:
		rule = Daily{TimesPerDay: 4}
	case FrequencyEveryNHours:
		if p.CustomFrequencyHours == nil {
			return nil, apperrors.Validation("frequency %s requires custom_frequency_hours", freq)
		}
		rule = EveryNHours{Hours: *p.CustomFrequencyHours}
	case FrequencyCustom:
		if p.CustomFrequencyHours == nil {
			return nil, apperrors.Validation("frequency %s requires custom_frequency_hours", freq)
		}
		rule = Custom{Hours: *p.CustomFrequencyHours, Days: toWeekdays(p.DaysOfWeek)}
	case FrequencyWeekly:
		if len(p.DaysOfWeek) == 0 {
			return nil, apperrors.Validation("frequency %s requires days_of_week", freq)
		}
		rule = Weekly{Days: toWeekdays(p.DaysOfWeek)}
	case FrequencyMonthly:
		if p.MonthlyDay == nil {
			return nil, apperrors.Validation("frequency %s requires monthly_day", freq)
		}
		rule = Monthly{Day: *p.MonthlyDay}
	case FrequencyAsNeeded:
		rule = AsNeeded{}
	default:
		return nil, apperrors.Validation("unknown frequency %q", freq)
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// ParamsOf flattens a rule back into the parameters it uses
func ParamsOf(rule Rule) Params {
	var p Params
	switch r := rule.(type) {
	case EveryNHours:
		h := r.Hours
		p.CustomFrequencyHours = &h
	case Custom:
		h := r.Hours
		p.CustomFrequencyHours = &h
		p.DaysOfWeek = fromWeekdays(r.Days)
	case Weekly:
		p.DaysOfWeek = fromWeekdays(r.Days)
	case Monthly:
		d := r.Day
		p.MonthlyDay = &d
	}
	return p
}

func toWeekdays(days []int) []time.Weekday {
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(d))
	}
	return out
}

func fromWeekdays(days []time.Weekday) []int {
	out := make([]int, 0, len(days))
	for _, d := range days {
		out = append(out, int(d))
	}
	return out
}

// FormatDays serializes weekday numbers as "1,3,5"
func FormatDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for i, d := range sorted {
		if i > 0 && sorted[i-1] == d {
			continue
		}
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// ParseDays is the inverse of FormatDays
func ParseDays(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var days []int
	for _, part := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid day of week %q: %w", part, err)
		}
		days = append(days, d)
	}
	return days, nil
}
