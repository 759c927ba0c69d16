// Package alarm provides the interval alarm domain: wall-clock times,
// weekdays, recurrence plans and the occurrence generator.
package alarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MinutesPerDay is the number of minutes in a wall-clock day.
const MinutesPerDay = 24 * 60

// ErrInvalidTimeOfDay is returned when an hour or minute is out of range.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock minute of the day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// NewTimeOfDay validates hour (0..23) and minute (0..59).
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %d:%d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// MustTimeOfDay is like NewTimeOfDay but panics on invalid input.
// Intended for constants and tests.
func MustTimeOfDay(hour, minute int) TimeOfDay {
	t, err := NewTimeOfDay(hour, minute)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayFromMinutes converts minutes since midnight, wrapping around the day.
func TimeOfDayFromMinutes(mins int) TimeOfDay {
	mins %= MinutesPerDay
	if mins < 0 {
		mins += MinutesPerDay
	}
	return TimeOfDay{Hour: mins / 60, Minute: mins % 60}
}

// MinutesOfDay returns minutes since midnight (0..1439).
func (t TimeOfDay) MinutesOfDay() int {
	return t.Hour*60 + t.Minute
}

// AddMinutes returns t shifted by n minutes, wrapping around midnight.
func (t TimeOfDay) AddMinutes(n int) TimeOfDay {
	return TimeOfDayFromMinutes(t.MinutesOfDay() + n)
}

// Before reports whether t is earlier in the day than u.
func (t TimeOfDay) Before(u TimeOfDay) bool {
	return t.MinutesOfDay() < u.MinutesOfDay()
}

// String formats t as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses a "15:04" formatted string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// MarshalJSON encodes t as "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes and validates an "HH:MM" string.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
