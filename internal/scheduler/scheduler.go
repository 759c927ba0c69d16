// Package scheduler keeps the platform alarm layer in step with the stored
// alarm plans and reacts to alarms when they fire.
package scheduler

import (
	"context"
	"errors"

	"github.com/interval-alarm/backend/internal/alarm"
)

// ErrPlanNotFound is returned when an operation names an unknown plan.
var ErrPlanNotFound = errors.New("plan not found")

// Strategy names the platform facility a plan was scheduled on.
type Strategy string

const (
	StrategyPrimitive Strategy = "primitive"
	StrategyNative    Strategy = "native"
	StrategyQueue     Strategy = "queue"
)

// Result reports what one scheduling call did. Degraded is set when the
// call succeeded on a weaker facility than requested; Warnings explains why.
type Result struct {
	PlanID     string   `json:"plan_id,omitempty"`
	Strategy   Strategy `json:"strategy"`
	Registered int      `json:"registered"`
	Cancelled  int      `json:"cancelled"`
	Queued     int      `json:"queued,omitempty"`
	WindowDays int      `json:"window_days,omitempty"`
	Degraded   bool     `json:"degraded"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (r *Result) warn(msg string) {
	r.Degraded = true
	r.Warnings = append(r.Warnings, msg)
}

// Scheduler registers and cancels the platform alarms of a plan.
type Scheduler interface {
	SchedulePlan(ctx context.Context, plan alarm.Plan, occurrences []alarm.Occurrence) (Result, error)
	CancelPlan(ctx context.Context, planID string) (Result, error)
}

// KeyIndex persists the platform registration keys of every plan.
type KeyIndex interface {
	Keys(ctx context.Context, scope, planID string) ([]string, error)
	Replace(ctx context.Context, scope, planID string, keys []string) error
	Clear(ctx context.Context, scope, planID string) error
	ListAll(ctx context.Context, scope string) (map[string][]string, error)
}

// PlanStore reads stored plans.
type PlanStore interface {
	Get(ctx context.Context, id string) (*alarm.Plan, error)
	ListEnabled(ctx context.Context) ([]alarm.Plan, error)
}
