package alarm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const keySep = "|"

// ErrInvalidPlanID is returned for plan ids that cannot be embedded in keys.
var ErrInvalidPlanID = errors.New("invalid plan id")

// ValidatePlanID rejects ids containing the key separator or '@', which
// separates a native key from its signature in the registration index.
func ValidatePlanID(id string) error {
	if id == "" || strings.ContainsAny(id, keySep+"@") {
		return fmt.Errorf("%w %q: must be non-empty without '|' or '@'", ErrInvalidPlanID, id)
	}
	return nil
}

// RegistrationKey identifies one weekly occurrence of a plan at the platform.
// Two occurrences with the same plan, weekday and time share a key, and the
// later registration replaces the earlier one.
func RegistrationKey(planID string, day Weekday, at TimeOfDay) string {
	return fmt.Sprintf("%s%s%d%s%s", planID, keySep, day.Ordinal(), keySep, at.String())
}

// SnoozeKey derives the key of a snoozed one-shot from the key of the alarm
// being snoozed and the snooze instant.
func SnoozeKey(originKey string, at time.Time) string {
	return fmt.Sprintf("%s%ssnooze%s%d", originKey, keySep, keySep, at.Unix())
}

// NativeKey identifies a recurring registration covering every active
// weekday of a plan at one time of day.
func NativeKey(planID string, at TimeOfDay) string {
	return planID + keySep + at.String()
}

// PlanIDFromKey returns the plan id prefix of any key built by this package.
func PlanIDFromKey(key string) string {
	if i := strings.Index(key, keySep); i >= 0 {
		return key[:i]
	}
	return key
}

// BaseKey strips any snooze suffix, returning the key of the weekly
// occurrence a snoozed alarm descends from.
func BaseKey(key string) string {
	if i := strings.Index(key, keySep+"snooze"+keySep); i >= 0 {
		return key[:i]
	}
	return key
}
