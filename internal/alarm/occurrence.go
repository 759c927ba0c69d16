package alarm

// Occurrence is one weekly firing slot of a plan. It is derived, never stored.
type Occurrence struct {
	Weekday Weekday   `json:"weekday"`
	Time    TimeOfDay `json:"time"`
}

// GenerateTimes returns start, start+interval, ... up to and including end.
// It returns nil when interval is not positive or start is after end.
func GenerateTimes(start, end TimeOfDay, intervalMinutes int) []TimeOfDay {
	if intervalMinutes <= 0 {
		return nil
	}
	from, to := start.MinutesOfDay(), end.MinutesOfDay()
	if from > to {
		return nil
	}

	times := make([]TimeOfDay, 0, (to-from)/intervalMinutes+1)
	for m := from; m <= to; m += intervalMinutes {
		times = append(times, TimeOfDayFromMinutes(m))
	}
	return times
}

// Expand turns a plan into its weekly occurrences, ordered by weekday
// ordinal and then by time. Disabled plans, plans without active days and
// plans with a non-positive interval have none.
func Expand(p Plan) []Occurrence {
	if !p.Enabled || len(p.ActiveDays) == 0 || p.IntervalMinutes <= 0 {
		return nil
	}
	times := GenerateTimes(p.StartTime, p.EndTime, p.IntervalMinutes)
	if len(times) == 0 {
		return nil
	}

	days := p.ActiveDays.Sorted()
	out := make([]Occurrence, 0, len(days)*len(times))
	for _, d := range days {
		if !d.Valid() {
			continue
		}
		for _, t := range times {
			out = append(out, Occurrence{Weekday: d, Time: t})
		}
	}
	return out
}
