package recurrence

import (
	"time"

	apperrors "github.com/gmsas95/medtrack/internal/errors"
)

// Schedule is a rule anchored at a wall-clock time of day
type Schedule struct {
	Rule      Rule
	TimeOfDay time.Duration
}

// Validate checks the rule and the time of day
func (s Schedule) Validate() error {
	if s.Rule == nil {
		return apperrors.Validation("schedule has no recurrence rule")
	}
	if s.TimeOfDay < 0 || s.TimeOfDay >= 24*time.Hour {
		return apperrors.Validation("time of day must be within a single day, got %s", s.TimeOfDay)
	}
	return s.Rule.Validate()
}

// Occurrences returns the due times s produces in [start, end), ascending.
// Wall-clock times are evaluated in start's location.
func Occurrences(s Schedule, start, end time.Time) []time.Time {
	if s.Rule == nil || !start.Before(end) {
		return nil
	}
	end = end.In(start.Location())
	return s.Rule.occurrences(start, end, s.TimeOfDay)
}

func (d Daily) occurrences(start, end time.Time, tod time.Duration) []time.Time {
	return eachDay(start, end, tod, func(time.Time) bool { return true })
}

func (w Weekly) occurrences(start, end time.Time, tod time.Duration) []time.Time {
	return eachDay(start, end, tod, func(t time.Time) bool {
		return hasWeekday(w.Days, t.Weekday())
	})
}

func (m Monthly) occurrences(start, end time.Time, tod time.Duration) []time.Time {
	var out []time.Time
	loc := start.Location()
	y, mo := start.Year(), start.Month()
	for {
		if !time.Date(y, mo, 1, 0, 0, 0, 0, loc).Before(end) {
			break
		}
		if m.Day <= daysIn(y, mo, loc) {
			t := atTime(time.Date(y, mo, m.Day, 0, 0, 0, 0, loc), tod)
			if !t.Before(start) && t.Before(end) {
				out = append(out, t)
			}
		}
		mo++
		if mo > time.December {
			mo = time.January
			y++
		}
	}
	return out
}

func (e EveryNHours) occurrences(start, end time.Time, tod time.Duration) []time.Time {
	return everyHours(start, end, tod, e.Hours, nil)
}

func (c Custom) occurrences(start, end time.Time, tod time.Duration) []time.Time {
	return everyHours(start, end, tod, c.Hours, c.Days)
}

func (AsNeeded) occurrences(time.Time, time.Time, time.Duration) []time.Time {
	return nil
}

// eachDay walks calendar days from start's date, keeping candidates that
// are not before start and satisfy keep.
func eachDay(start, end time.Time, tod time.Duration, keep func(time.Time) bool) []time.Time {
	var out []time.Time
	t := atTime(start, tod)
	if t.Before(start) {
		t = atTime(t.AddDate(0, 0, 1), tod)
	}
	for ; t.Before(end); t = atTime(t.AddDate(0, 0, 1), tod) {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func everyHours(start, end time.Time, tod time.Duration, hours int, days []time.Weekday) []time.Time {
	if hours <= 0 {
		return nil
	}
	step := time.Duration(hours) * time.Hour
	t := atTime(start, tod)
	if t.Before(start) {
		blocks := (start.Sub(t) + step - 1) / step
		t = t.Add(blocks * step)
	}

	var out []time.Time
	for ; t.Before(end); t = t.Add(step) {
		if len(days) > 0 && !hasWeekday(days, t.Weekday()) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func atTime(day time.Time, tod time.Duration) time.Time {
	h := int(tod / time.Hour)
	m := int(tod % time.Hour / time.Minute)
	s := int(tod % time.Minute / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

func hasWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}
