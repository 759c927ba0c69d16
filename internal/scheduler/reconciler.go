package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/websocket"
)

const inexactWarning = "exact alarms not permitted, alarms may fire late while the device is idle"

// Reconciler schedules plans on the one-shot alarm primitive. Every
// occurrence gets its own one-shot alarm at its next weekly instant, and
// the keys are kept in the primitive scope of the key index.
type Reconciler struct {
	alarms      platform.AlarmManager
	index       KeyIndex
	broadcaster *websocket.EventBroadcaster
	log         *zap.Logger

	*clock
	locks   keyLock
	snoozes snoozeBook
}

// NewReconciler creates a reconciler. broadcaster may be nil.
func NewReconciler(
	alarms platform.AlarmManager,
	index KeyIndex,
	broadcaster *websocket.EventBroadcaster,
	loc *time.Location,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		alarms:      alarms,
		index:       index,
		broadcaster: broadcaster,
		log:         log,
		clock:       newClock(loc),
		snoozes:     snoozeBook{alarms: alarms, index: index},
	}
}

// SchedulePlan replaces every platform alarm of the plan with one alarm per
// occurrence. A disabled plan ends up with no alarms. Registrations made
// before a failure stay armed and indexed.
func (r *Reconciler) SchedulePlan(ctx context.Context, plan alarm.Plan, occurrences []alarm.Occurrence) (Result, error) {
	unlock := r.locks.Lock(plan.ID)
	defer unlock()

	res := Result{PlanID: plan.ID, Strategy: StrategyPrimitive}
	err := r.schedule(ctx, plan, occurrences, &res)
	r.report(res, err)
	return res, err
}

func (r *Reconciler) schedule(ctx context.Context, plan alarm.Plan, occurrences []alarm.Occurrence, res *Result) error {
	cancelled, err := cancelKeys(ctx, r.alarms, r.index, storage.ScopePrimitive, plan.ID)
	res.Cancelled = cancelled
	if err != nil {
		return err
	}
	if !plan.Enabled || len(occurrences) == 0 {
		n, err := r.snoozes.cancel(ctx, plan.ID)
		res.Cancelled += n
		return err
	}

	exact, err := r.probeExact(ctx, res)
	if err != nil {
		return err
	}

	now, loc := r.Now(), r.Location()
	keys := make([]string, 0, len(occurrences))
	seen := make(map[string]bool, len(occurrences))
	for _, occ := range occurrences {
		key := alarm.RegistrationKey(plan.ID, occ.Weekday, occ.Time)
		at := alarm.NextTrigger(now, occ.Weekday, occ.Time, loc)
		p := platform.NewPayload(plan, occ, key, at, platform.OriginPrimitive)

		if err := r.register(ctx, at, &exact, p, res); err != nil {
			res.Registered = len(keys)
			if perr := r.index.Replace(ctx, storage.ScopePrimitive, plan.ID, keys); perr != nil {
				err = multierror.Append(err, perr)
			}
			return fmt.Errorf("scheduling plan %s: %w", plan.ID, err)
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	res.Registered = len(keys)

	if err := r.index.Replace(ctx, storage.ScopePrimitive, plan.ID, keys); err != nil {
		return fmt.Errorf("saving registration keys of plan %s: %w", plan.ID, err)
	}
	return nil
}

// CancelPlan disarms every indexed alarm of the plan, its pending snoozes
// included, and clears its keys.
func (r *Reconciler) CancelPlan(ctx context.Context, planID string) (Result, error) {
	unlock := r.locks.Lock(planID)
	defer unlock()

	res := Result{PlanID: planID, Strategy: StrategyPrimitive}
	var errs *multierror.Error
	cancelled, err := cancelKeys(ctx, r.alarms, r.index, storage.ScopePrimitive, planID)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	snoozed, err := r.snoozes.cancel(ctx, planID)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	res.Cancelled = cancelled + snoozed

	err = errs.ErrorOrNil()
	r.report(res, err)
	return res, err
}

func (r *Reconciler) lockPlan(planID string) func() { return r.locks.Lock(planID) }

// Rearm registers the next weekly instant of a fired occurrence under the
// same key. It does nothing when the key is no longer indexed, which means
// the plan was rescheduled or cancelled since the alarm was armed.
func (r *Reconciler) Rearm(ctx context.Context, p platform.Payload) (Result, error) {
	unlock := r.locks.Lock(p.PlanID)
	defer unlock()

	res := Result{PlanID: p.PlanID, Strategy: StrategyPrimitive}
	keys, err := r.index.Keys(ctx, storage.ScopePrimitive, p.PlanID)
	if err != nil {
		return res, fmt.Errorf("reading registration keys of plan %s: %w", p.PlanID, err)
	}
	if !contains(keys, p.Key) {
		r.log.Info("skipping re-arm of stale alarm", zap.String("key", p.Key))
		return res, nil
	}

	exact, err := r.probeExact(ctx, &res)
	if err != nil {
		return res, err
	}

	// Strictly after the fired instant, so a fire delivered a little early
	// still moves a full week ahead.
	ref := r.Now()
	if p.TriggerAt.After(ref) {
		ref = p.TriggerAt
	}
	next := p
	next.TriggerAt = alarm.NextTrigger(ref, p.Weekday, p.Time(), r.Location())
	next.IsSnooze = false
	next.Origin = platform.OriginPrimitive

	if err := r.register(ctx, next.TriggerAt, &exact, next, &res); err != nil {
		return res, fmt.Errorf("re-arming %s: %w", p.Key, err)
	}
	res.Registered = 1
	return res, nil
}

// probeExact asks the platform whether exact alarms may be used right now.
func (r *Reconciler) probeExact(ctx context.Context, res *Result) (bool, error) {
	switch r.alarms.ExactCapability(ctx) {
	case platform.CapabilityAvailable:
		return true, nil
	case platform.CapabilityDegraded:
		r.log.Warn(inexactWarning, zap.String("plan_id", res.PlanID))
		res.warn(inexactWarning)
		return false, nil
	default:
		return false, platform.ErrUnavailable
	}
}

// register arms one alarm. A permission revoked after the probe switches
// the rest of the call to inexact alarms.
func (r *Reconciler) register(ctx context.Context, at time.Time, exact *bool, p platform.Payload, res *Result) error {
	err := r.alarms.RegisterOneShot(ctx, at, *exact, p)
	if *exact && errors.Is(err, platform.ErrExactNotPermitted) {
		*exact = false
		r.log.Warn(inexactWarning, zap.String("plan_id", p.PlanID))
		res.warn(inexactWarning)
		err = r.alarms.RegisterOneShot(ctx, at, false, p)
	}
	return err
}

// cancelKeys cancels every key of the plan in scope. Keys that could not
// be cancelled stay in the index so a later call retries them.
func cancelKeys(ctx context.Context, alarms platform.AlarmManager, index KeyIndex, scope, planID string) (int, error) {
	keys, err := index.Keys(ctx, scope, planID)
	if err != nil {
		return 0, fmt.Errorf("reading %s keys of plan %s: %w", scope, planID, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var (
		result    *multierror.Error
		remaining []string
		cancelled int
	)
	for _, key := range keys {
		if err := alarms.Cancel(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("cancelling %s: %w", key, err))
			remaining = append(remaining, key)
			continue
		}
		cancelled++
	}

	if len(remaining) == 0 {
		err = index.Clear(ctx, scope, planID)
	} else {
		err = index.Replace(ctx, scope, planID, remaining)
	}
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("updating %s keys of plan %s: %w", scope, planID, err))
	}
	return cancelled, result.ErrorOrNil()
}

func (r *Reconciler) report(res Result, err error) {
	if err != nil {
		r.log.Error("reconciling plan failed", zap.String("plan_id", res.PlanID), zap.Error(err))
		if r.broadcaster != nil {
			r.broadcaster.BroadcastScheduleFailed(res.PlanID, err)
		}
		return
	}
	r.log.Info("plan reconciled",
		zap.String("plan_id", res.PlanID),
		zap.Int("registered", res.Registered),
		zap.Int("cancelled", res.Cancelled),
		zap.Bool("degraded", res.Degraded),
	)
	if r.broadcaster != nil {
		r.broadcaster.BroadcastScheduleReconciled(res.schedulePayload())
	}
}

func (r Result) schedulePayload() websocket.SchedulePayload {
	return websocket.SchedulePayload{
		PlanID:     r.PlanID,
		Strategy:   string(r.Strategy),
		Registered: r.Registered,
		Cancelled:  r.Cancelled,
		Degraded:   r.Degraded,
		Warnings:   r.Warnings,
	}
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

var _ Scheduler = (*Reconciler)(nil)
