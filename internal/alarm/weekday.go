package alarm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Weekday is a day of the week with a stable ordinal (Monday=1 .. Sunday=7).
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayLabels = [...]string{"", "MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}

// Valid reports whether d is one of the seven days.
func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// Ordinal returns the stable ordinal of d.
func (d Weekday) Ordinal() int {
	return int(d)
}

// Label returns the short display label, e.g. "MON".
func (d Weekday) Label() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayLabels[d]
}

func (d Weekday) String() string {
	return d.Label()
}

// TimeWeekday converts d to the standard library representation.
func (d Weekday) TimeWeekday() time.Weekday {
	return time.Weekday(int(d) % 7)
}

// WeekdayOf converts a time.Weekday.
func WeekdayOf(wd time.Weekday) Weekday {
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

// ParseWeekday parses a short label, case-insensitively.
func ParseWeekday(s string) (Weekday, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for d := Monday; d <= Sunday; d++ {
		if weekdayLabels[d] == upper {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// WeekdaySet is a set of weekdays.
type WeekdaySet map[Weekday]struct{}

// Predefined day sets.
var (
	Weekdays = NewWeekdaySet(Monday, Tuesday, Wednesday, Thursday, Friday)
	AllDays  = NewWeekdaySet(Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday)
)

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	s := make(WeekdaySet, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d Weekday) bool {
	_, ok := s[d]
	return ok
}

// Clone returns an independent copy.
func (s WeekdaySet) Clone() WeekdaySet {
	c := make(WeekdaySet, len(s))
	for d := range s {
		c[d] = struct{}{}
	}
	return c
}

// Sorted returns the days in ascending ordinal order.
func (s WeekdaySet) Sorted() []Weekday {
	days := make([]Weekday, 0, len(s))
	for d := range s {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// MarshalJSON encodes the set as a sorted label array.
func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	labels := make([]string, 0, len(s))
	for _, d := range s.Sorted() {
		labels = append(labels, d.Label())
	}
	return json.Marshal(labels)
}

// UnmarshalJSON decodes a label array.
func (s *WeekdaySet) UnmarshalJSON(data []byte) error {
	var labels []string
	if err := json.Unmarshal(data, &labels); err != nil {
		return err
	}
	set := make(WeekdaySet, len(labels))
	for _, l := range labels {
		d, err := ParseWeekday(l)
		if err != nil {
			return err
		}
		set[d] = struct{}{}
	}
	*s = set
	return nil
}
