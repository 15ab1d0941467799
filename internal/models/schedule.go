package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FeedingTime is one slot of a schedule: a time of day and a portion.
type FeedingTime struct {
	Time         string `json:"time"` // "HH:MM", 24h
	PortionGrams int    `json:"portion_grams"`
}

// Schedule is a recurring feeding plan for one device.
type Schedule struct {
	ID           string        `json:"id"`
	AccountID    string        `json:"account_id"`
	DeviceID     string        `json:"device_id"`
	PetID        string        `json:"pet_id,omitempty"`
	Name         string        `json:"name"`
	FeedingTimes []FeedingTime `json:"feeding_times"`
	DaysOfWeek   []int         `json:"days_of_week"` // 0 = Sunday
	Active       bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// DefaultScheduleName is used when a schedule is created without a name.
const DefaultScheduleName = "Feeding Plan"

// RunsOn reports whether the schedule is active on the given weekday.
func (s *Schedule) RunsOn(day time.Weekday) bool {
	for _, d := range s.DaysOfWeek {
		if d == int(day) {
			return true
		}
	}
	return false
}

// Validate checks the schedule invariants.
func (s *Schedule) Validate() error {
	var errs []error
	if strings.TrimSpace(s.DeviceID) == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if len(s.FeedingTimes) == 0 {
		errs = append(errs, errors.New("at least one feeding time is required"))
	}
	if s.Active && len(s.DaysOfWeek) == 0 {
		errs = append(errs, errors.New("an active schedule needs at least one day of week"))
	}
	seen := make(map[int]bool, len(s.FeedingTimes))
	for _, ft := range s.FeedingTimes {
		minute, err := ParseTimeOfDay(ft.Time)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[minute] {
			errs = append(errs, fmt.Errorf("duplicate feeding time %s", FormatTimeOfDay(minute)))
		}
		seen[minute] = true
		if ft.PortionGrams < MinPortionGrams || ft.PortionGrams > MaxPortionGrams {
			errs = append(errs, fmt.Errorf("portion for %s must be %d-%d grams", ft.Time, MinPortionGrams, MaxPortionGrams))
		}
	}
	for _, d := range s.DaysOfWeek {
		if d < 0 || d > 6 {
			errs = append(errs, fmt.Errorf("day of week %d out of range 0-6", d))
		}
	}
	return errors.Join(errs...)
}

// Normalize rewrites every parseable feeding time to zero-padded HH:MM.
// Unparseable times are left for Validate to report.
func (s *Schedule) Normalize() {
	for i, ft := range s.FeedingTimes {
		if minute, err := ParseTimeOfDay(ft.Time); err == nil {
			s.FeedingTimes[i].Time = FormatTimeOfDay(minute)
		}
	}
}

// FormatTimeOfDay renders minutes since midnight as "HH:MM".
func FormatTimeOfDay(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseTimeOfDay converts "HH:MM" to minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// MinuteOfDay returns the minutes elapsed since local midnight of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateKey formats t as the calendar date used by the dispatch ledger.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
