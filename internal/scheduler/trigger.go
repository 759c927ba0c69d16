package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/alert"
	"github.com/interval-alarm/backend/internal/platform"
)

// Decision is the user's answer to a ringing alert.
type Decision string

const (
	DecisionStop   Decision = "stop"
	DecisionSnooze Decision = "snooze"
)

// Reason names the system event that triggered a recovery sweep.
type Reason string

const (
	ReasonBoot            Reason = "boot"
	ReasonTimeChanged     Reason = "time_changed"
	ReasonTimezoneChanged Reason = "timezone_changed"
	// ReasonPermissionChanged follows a change of the exact-alarm permission
	// or the native engine switch.
	ReasonPermissionChanged Reason = "permission_changed"
)

// ParseReason accepts both the underscore and the URL form of a reason.
func ParseReason(s string) (Reason, error) {
	switch s {
	case "boot":
		return ReasonBoot, nil
	case "time_changed", "time-changed":
		return ReasonTimeChanged, nil
	case "timezone_changed", "timezone-changed":
		return ReasonTimezoneChanged, nil
	case "permission_changed", "permission-changed":
		return ReasonPermissionChanged, nil
	}
	return "", fmt.Errorf("unknown recovery reason %q", s)
}

// Rearmer moves a fired weekly alarm to its next instant.
type Rearmer interface {
	Rearm(ctx context.Context, p platform.Payload) (Result, error)
}

// Syncer reconciles every plan in one pass.
type Syncer interface {
	Sync(ctx context.Context) (Result, error)
}

// Outcome describes a handled decision.
type Outcome struct {
	Alert        alert.Alert `json:"alert"`
	Decision     Decision    `json:"decision"`
	SnoozedUntil time.Time   `json:"snoozed_until,omitempty"`
	SnoozeKey    string      `json:"snooze_key,omitempty"`
}

// Handler reacts to fired alarms: it re-arms weekly alarms, rings the alert
// and carries out stop and snooze decisions.
type Handler struct {
	alarms     platform.AlarmManager
	rearm      Rearmer
	plans      PlanStore
	sched      Scheduler
	registry   *alert.Registry
	presenters []alert.Presenter
	snoozes    snoozeBook
	log        *zap.Logger

	*clock
	locks keyLock
}

// NewHandler creates a handler. rearm may be nil when weekly alarms recur
// natively. index records pending snoozes so cancelling a plan disarms
// them too. Presenters are tried in order until one succeeds.
func NewHandler(
	alarms platform.AlarmManager,
	rearm Rearmer,
	plans PlanStore,
	index KeyIndex,
	sched Scheduler,
	registry *alert.Registry,
	presenters []alert.Presenter,
	loc *time.Location,
	log *zap.Logger,
) *Handler {
	return &Handler{
		alarms:     alarms,
		rearm:      rearm,
		plans:      plans,
		sched:      sched,
		registry:   registry,
		presenters: presenters,
		snoozes:    snoozeBook{alarms: alarms, index: index},
		log:        log,
		clock:      newClock(loc),
	}
}

// Fire implements platform.Receiver.
func (h *Handler) Fire(ctx context.Context, p platform.Payload) {
	if _, err := h.Deliver(ctx, p); err != nil {
		h.log.Error("dropping alarm", zap.String("key", p.Key), zap.Error(err))
	}
}

// Deliver handles one fired alarm and returns the ringing alert. Weekly
// one-shot alarms are re-armed before the alert is shown, so a failed
// presentation never loses next week's alarm.
func (h *Handler) Deliver(ctx context.Context, p platform.Payload) (alert.Alert, error) {
	h.log.Info("alarm fired",
		zap.String("key", p.Key),
		zap.String("origin", string(p.Origin)),
		zap.Bool("snooze", p.IsSnooze),
	)

	if p.IsSnooze {
		unlock := h.lockPlan(p.PlanID)
		if err := h.snoozes.remove(ctx, p.PlanID, p.Key); err != nil {
			h.log.Warn("forgetting fired snooze failed", zap.String("key", p.Key), zap.Error(err))
		}
		unlock()
	}

	if !p.IsSnooze && p.Origin == platform.OriginPrimitive && h.rearm != nil {
		res, err := h.rearm.Rearm(ctx, p)
		if err != nil {
			h.log.Error("re-arming alarm failed", zap.String("key", p.Key), zap.Error(err))
		} else if res.Degraded {
			h.log.Warn("alarm re-armed inexact", zap.String("key", p.Key))
		}
	}

	a := alert.NewAlert(p, h.label(ctx, p.PlanID), h.Now())

	var errs *multierror.Error
	for _, pr := range h.presenters {
		if err := pr.Present(ctx, a); err != nil {
			h.log.Warn("alert presenter failed", zap.String("presenter", pr.Name()), zap.Error(err))
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", pr.Name(), err))
			continue
		}
		a.Presenter = pr.Name()
		h.registry.Add(a)
		return a, nil
	}
	if errs == nil {
		return a, errors.New("no alert presenters configured")
	}
	return a, fmt.Errorf("presenting alert: %w", errs)
}

// Decide applies a stop or snooze decision to a ringing alert. A snooze
// arms a separate one-shot alarm and leaves the weekly alarm untouched.
func (h *Handler) Decide(ctx context.Context, alertID string, d Decision) (Outcome, error) {
	if d != DecisionStop && d != DecisionSnooze {
		return Outcome{}, fmt.Errorf("unknown decision %q", d)
	}
	a, err := h.registry.Take(alertID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Alert: a, Decision: d}

	if d == DecisionSnooze {
		p, err := h.snooze(ctx, a.Payload)
		switch {
		case errors.Is(err, errPlanInactive):
			h.log.Info("plan no longer active, stopping instead of snoozing", zap.String("plan_id", a.Payload.PlanID))
			out.Decision = DecisionStop
		case err != nil:
			h.registry.Add(a)
			return Outcome{}, err
		default:
			out.SnoozedUntil = p.TriggerAt
			out.SnoozeKey = p.Key
		}
	}

	for _, pr := range h.presenters {
		pr.Dismiss(ctx, a, out.SnoozedUntil)
	}
	h.log.Info("alert decided",
		zap.String("alert_id", a.ID),
		zap.String("decision", string(out.Decision)),
	)
	return out, nil
}

var errPlanInactive = errors.New("plan deleted or disabled")

// snooze arms and records a one-shot alarm SnoozeMinutes from now. It runs
// under the plan lock of the scheduler so it cannot interleave with a
// cancel of the same plan.
func (h *Handler) snooze(ctx context.Context, fired platform.Payload) (platform.Payload, error) {
	unlock := h.lockPlan(fired.PlanID)
	defer unlock()

	plan, err := h.plans.Get(ctx, fired.PlanID)
	if err != nil {
		return platform.Payload{}, fmt.Errorf("loading plan %s: %w", fired.PlanID, err)
	}
	if plan == nil || !plan.Enabled {
		return platform.Payload{}, errPlanInactive
	}

	minutes := fired.SnoozeMinutes
	if minutes < 1 {
		minutes = 1
	}
	at := h.Now().Add(time.Duration(minutes) * time.Minute)

	p := fired
	p.Key = alarm.SnoozeKey(alarm.BaseKey(fired.Key), at)
	p.IsSnooze = true
	p.TriggerAt = at
	p.Origin = platform.OriginPrimitive

	exact := h.alarms.ExactCapability(ctx) == platform.CapabilityAvailable
	if !exact {
		h.log.Warn(inexactWarning, zap.String("key", p.Key))
	}
	err = h.alarms.RegisterOneShot(ctx, at, exact, p)
	if exact && errors.Is(err, platform.ErrExactNotPermitted) {
		h.log.Warn(inexactWarning, zap.String("key", p.Key))
		err = h.alarms.RegisterOneShot(ctx, at, false, p)
	}
	if err != nil {
		return platform.Payload{}, fmt.Errorf("snoozing %s: %w", fired.Key, err)
	}

	if err := h.snoozes.add(ctx, p.PlanID, p.Key); err != nil {
		if cerr := h.alarms.Cancel(ctx, p.Key); cerr != nil {
			h.log.Error("unrecorded snooze left armed", zap.String("key", p.Key), zap.Error(cerr))
		}
		return platform.Payload{}, fmt.Errorf("recording snooze %s: %w", p.Key, err)
	}
	return p, nil
}

func (h *Handler) lockPlan(planID string) func() {
	if l, ok := h.sched.(planLocker); ok {
		return l.lockPlan(planID)
	}
	return h.locks.Lock(planID)
}

// Recover re-registers every enabled plan after the alarm table was lost
// or the wall clock moved. A failing plan does not stop the sweep.
func (h *Handler) Recover(ctx context.Context, reason Reason) ([]Result, error) {
	h.log.Info("recovering alarms", zap.String("reason", string(reason)))

	if reason == ReasonBoot {
		if err := h.snoozes.forget(ctx); err != nil {
			h.log.Warn("clearing snoozes lost on boot failed", zap.Error(err))
		}
	}

	if s, ok := h.sched.(Syncer); ok {
		res, err := s.Sync(ctx)
		return []Result{res}, err
	}

	plans, err := h.plans.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading plans: %w", err)
	}

	var (
		results []Result
		errs    *multierror.Error
	)
	for _, plan := range plans {
		res, err := h.sched.SchedulePlan(ctx, plan, alarm.Expand(plan))
		results = append(results, res)
		if err != nil {
			h.log.Error("recovering plan failed", zap.String("plan_id", plan.ID), zap.Error(err))
			errs = multierror.Append(errs, err)
		}
	}
	return results, errs.ErrorOrNil()
}

// Ringing lists the alerts still awaiting a decision.
func (h *Handler) Ringing() []alert.Alert {
	return h.registry.List()
}

func (h *Handler) label(ctx context.Context, planID string) string {
	plan, err := h.plans.Get(ctx, planID)
	if err != nil || plan == nil {
		return ""
	}
	return plan.Label
}

var _ platform.Receiver = (*Handler)(nil)
