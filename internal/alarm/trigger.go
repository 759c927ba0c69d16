package alarm

import "time"

// NextTrigger returns the nearest instant strictly after now that falls on
// the given weekday at the given wall-clock time in loc. If this week's slot
// has already passed, it is rolled forward by exactly one week.
func NextTrigger(now time.Time, day Weekday, at TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	offset := (int(day.TimeWeekday()) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day()+offset, at.Hour, at.Minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = time.Date(local.Year(), local.Month(), local.Day()+offset+7, at.Hour, at.Minute, 0, 0, loc)
	}
	return candidate
}

// DayStart returns local midnight of the day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// At returns the instant of the given wall-clock time on the day of t.
func At(t time.Time, at TimeOfDay, loc *time.Location) time.Time {
	start := DayStart(t, loc)
	return time.Date(start.Year(), start.Month(), start.Day(), at.Hour, at.Minute, 0, 0, start.Location())
}
