package alarm

import "time"

// Plan defaults applied to freshly created plans.
const (
	DefaultIntervalMinutes = 5
	DefaultSnoozeMinutes   = 5
)

// Plan is the persisted interval alarm declaration. It is replaced as a
// whole on save; there are no partial-field updates.
type Plan struct {
	ID              string     `json:"id"`
	Label           string     `json:"label,omitempty"`
	StartTime       TimeOfDay  `json:"start_time"`
	EndTime         TimeOfDay  `json:"end_time"`
	IntervalMinutes int        `json:"interval_minutes"`
	ActiveDays      WeekdaySet `json:"active_days"`
	SnoozeMinutes   int        `json:"snooze_minutes"`
	Enabled         bool       `json:"enabled"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DefaultPlan returns the plan a new alarm starts with:
// 07:00-07:30 every 5 minutes on weekdays, enabled.
func DefaultPlan(id string) Plan {
	return Plan{
		ID:              id,
		StartTime:       TimeOfDay{Hour: 7, Minute: 0},
		EndTime:         TimeOfDay{Hour: 7, Minute: 30},
		IntervalMinutes: DefaultIntervalMinutes,
		ActiveDays:      Weekdays.Clone(),
		SnoozeMinutes:   DefaultSnoozeMinutes,
		Enabled:         true,
	}
}

// WindowValid reports whether the start of the window is not after its end.
func (p Plan) WindowValid() bool {
	return p.StartTime.MinutesOfDay() <= p.EndTime.MinutesOfDay()
}

// EffectiveSnooze returns the snooze length in minutes, never less than one.
func (p Plan) EffectiveSnooze() int {
	if p.SnoozeMinutes < 1 {
		return 1
	}
	return p.SnoozeMinutes
}
