// Package platform models the device facilities the alarm scheduler drives:
// a one-shot alarm table, a native recurring alarm engine and a bounded
// notification queue.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/interval-alarm/backend/internal/alarm"
)

var (
	// ErrExactNotPermitted is returned when an exact alarm is requested
	// without the exact-alarm permission.
	ErrExactNotPermitted = errors.New("exact alarms not permitted")
	// ErrUnavailable is returned when the platform facility cannot be used.
	ErrUnavailable = errors.New("platform facility unavailable")
	// ErrQueueFull is returned when the notification queue is at capacity.
	ErrQueueFull = errors.New("notification queue full")
)

// Capability is the result of probing a platform facility.
type Capability int

const (
	CapabilityUnavailable Capability = iota
	CapabilityDegraded
	CapabilityAvailable
)

func (c Capability) String() string {
	switch c {
	case CapabilityAvailable:
		return "available"
	case CapabilityDegraded:
		return "degraded"
	default:
		return "unavailable"
	}
}

// MarshalJSON encodes the capability as its name.
func (c Capability) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a capability name. Unknown names are unavailable.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "available":
		*c = CapabilityAvailable
	case "degraded":
		*c = CapabilityDegraded
	default:
		*c = CapabilityUnavailable
	}
	return nil
}

// Origin records which facility delivered a fired alarm.
type Origin string

const (
	OriginPrimitive Origin = "primitive"
	OriginNative    Origin = "native"
	OriginQueue     Origin = "queue"
)

// Payload travels with every platform registration and comes back on fire.
type Payload struct {
	Key           string        `json:"key"`
	PlanID        string        `json:"plan_id"`
	Weekday       alarm.Weekday `json:"weekday"`
	Hour          int           `json:"hour"`
	Minute        int           `json:"minute"`
	SnoozeMinutes int           `json:"snooze_minutes"`
	IsSnooze      bool          `json:"is_snooze"`
	TriggerAt     time.Time     `json:"trigger_at"`
	Origin        Origin        `json:"origin"`
}

// NewPayload builds the payload of a weekly occurrence of plan.
func NewPayload(plan alarm.Plan, occ alarm.Occurrence, key string, at time.Time, origin Origin) Payload {
	return Payload{
		Key:           key,
		PlanID:        plan.ID,
		Weekday:       occ.Weekday,
		Hour:          occ.Time.Hour,
		Minute:        occ.Time.Minute,
		SnoozeMinutes: plan.SnoozeMinutes,
		TriggerAt:     at,
		Origin:        origin,
	}
}

// Time returns the wall-clock time of the occurrence.
func (p Payload) Time() alarm.TimeOfDay {
	return alarm.TimeOfDay{Hour: p.Hour, Minute: p.Minute}
}

// Encode serializes the payload.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses and validates a serialized payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	if p.PlanID == "" || p.Key == "" {
		return Payload{}, errors.New("decoding payload: missing plan id or key")
	}
	if _, err := alarm.NewTimeOfDay(p.Hour, p.Minute); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// Receiver is notified when a registered alarm fires.
type Receiver interface {
	Fire(ctx context.Context, p Payload)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, p Payload)

// Fire calls f.
func (f ReceiverFunc) Fire(ctx context.Context, p Payload) { f(ctx, p) }

// PendingAlarm describes one armed one-shot alarm.
type PendingAlarm struct {
	Key     string    `json:"key"`
	PlanID  string    `json:"plan_id"`
	At      time.Time `json:"at"`
	Exact   bool      `json:"exact"`
	Snoozed bool      `json:"snoozed"`
}

// AlarmManager is the one-shot alarm primitive. Registration is idempotent
// by key: registering an existing key replaces the previous entry.
type AlarmManager interface {
	RegisterOneShot(ctx context.Context, at time.Time, exact bool, p Payload) error
	// Cancel removes the alarm under key. Unknown keys are not an error.
	Cancel(ctx context.Context, key string) error
	ExactCapability(ctx context.Context) Capability
	Pending() []PendingAlarm
}

// RecurringEngine is a native weekly-recurring alarm facility.
type RecurringEngine interface {
	Capability(ctx context.Context) Capability
	Register(ctx context.Context, key string, days []alarm.Weekday, at alarm.TimeOfDay, p Payload) error
	Cancel(ctx context.Context, key string) error
	Keys(ctx context.Context) []string
}
