package platform

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
)

// NativeRegistration describes one recurring registration of the engine.
type NativeRegistration struct {
	Key    string    `json:"key"`
	PlanID string    `json:"plan_id"`
	Expr   string    `json:"expr"`
	Next   time.Time `json:"next,omitempty"`
}

type cronRegistration struct {
	id   cron.EntryID
	expr string
	plan string
	job  func()
}

// CronEngine is a native recurring alarm engine: each registration is one
// weekly cron entry covering every requested weekday at one time of day.
type CronEngine struct {
	cron *cron.Cron
	loc  *time.Location
	log  *zap.Logger

	osVersion    int
	minOSVersion int

	mu       sync.RWMutex
	enabled  bool
	entries  map[string]cronRegistration
	receiver Receiver
}

// NewCronEngine creates a recurring engine evaluated in loc. The engine is
// usable only when osVersion >= minOSVersion and the runtime feature is
// enabled.
func NewCronEngine(loc *time.Location, log *zap.Logger, osVersion, minOSVersion int, enabled bool) *CronEngine {
	if loc == nil {
		loc = time.Local
	}
	return &CronEngine{
		cron:         cron.New(cron.WithLocation(loc)),
		loc:          loc,
		log:          log,
		osVersion:    osVersion,
		minOSVersion: minOSVersion,
		enabled:      enabled,
		entries:      make(map[string]cronRegistration),
	}
}

// Start begins firing registrations.
func (e *CronEngine) Start() {
	e.cron.Start()
}

// Stop waits for running jobs and stops the engine.
func (e *CronEngine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// SetReceiver sets where fired alarms are delivered.
func (e *CronEngine) SetReceiver(r Receiver) {
	e.mu.Lock()
	e.receiver = r
	e.mu.Unlock()
}

// SetEnabled toggles the runtime feature switch.
func (e *CronEngine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// Capability reports whether recurring registrations can be made right now.
func (e *CronEngine) Capability(ctx context.Context) Capability {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.osVersion < e.minOSVersion || !e.enabled {
		return CapabilityUnavailable
	}
	return CapabilityAvailable
}

// Register adds or replaces the weekly registration under key.
func (e *CronEngine) Register(ctx context.Context, key string, days []alarm.Weekday, at alarm.TimeOfDay, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Capability(ctx) != CapabilityAvailable {
		return ErrUnavailable
	}
	if len(days) == 0 {
		return fmt.Errorf("registering %s: no weekdays", key)
	}

	expr := WeeklyExpr(days, at)
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("registering %s: invalid expression %q", key, expr)
	}

	payload := p
	job := func() {
		fired := payload
		now := time.Now().In(e.location())
		fired.TriggerAt = now
		fired.Weekday = alarm.WeekdayOf(now.Weekday())
		fired.Origin = OriginNative

		e.mu.RLock()
		r := e.receiver
		e.mu.RUnlock()
		if r != nil {
			r.Fire(context.Background(), fired)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sched, err := weeklySchedule(expr, e.loc)
	if err != nil {
		return fmt.Errorf("registering %s: %w", key, err)
	}
	if old, ok := e.entries[key]; ok {
		e.cron.Remove(old.id)
	}
	id := e.cron.Schedule(sched, cron.FuncJob(job))
	e.entries[key] = cronRegistration{id: id, expr: expr, plan: p.PlanID, job: job}
	return nil
}

// SetLocation moves every registration to loc, keeping its wall-clock time.
// On error nothing is moved.
func (e *CronEngine) SetLocation(loc *time.Location) error {
	if loc == nil {
		return fmt.Errorf("moving registrations: nil location")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	scheds := make(map[string]cron.Schedule, len(e.entries))
	for key, reg := range e.entries {
		sched, err := weeklySchedule(reg.expr, loc)
		if err != nil {
			return fmt.Errorf("moving %s to %s: %w", key, loc, err)
		}
		scheds[key] = sched
	}
	for key, reg := range e.entries {
		e.cron.Remove(reg.id)
		reg.id = e.cron.Schedule(scheds[key], cron.FuncJob(reg.job))
		e.entries[key] = reg
	}
	e.loc = loc
	return nil
}

// weeklySchedule parses expr and pins it to loc. Setting the location on
// the parsed schedule works for any zone, named or fixed.
func weeklySchedule(expr string, loc *time.Location) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, err
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

func (e *CronEngine) location() *time.Location {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loc
}

// Cancel removes the registration under key. Unknown keys are ignored.
func (e *CronEngine) Cancel(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if reg, ok := e.entries[key]; ok {
		e.cron.Remove(reg.id)
		delete(e.entries, key)
	}
	return nil
}

// Keys returns the registered keys in sorted order.
func (e *CronEngine) Keys(ctx context.Context) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.entries))
	for k := range e.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Registrations lists the registrations with their next fire time.
func (e *CronEngine) Registrations(now time.Time) []NativeRegistration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]NativeRegistration, 0, len(e.entries))
	for key, reg := range e.entries {
		r := NativeRegistration{Key: key, PlanID: reg.plan, Expr: reg.expr}
		if next, err := gronx.NextTickAfter(reg.expr, now.In(e.loc), false); err == nil {
			r.Next = next
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WeeklyExpr builds the five-field cron expression firing at the given time
// on the given weekdays.
func WeeklyExpr(days []alarm.Weekday, at alarm.TimeOfDay) string {
	nums := make([]int, 0, len(days))
	for _, d := range days {
		nums = append(nums, int(d.TimeWeekday()))
	}
	sort.Ints(nums)

	dow := make([]string, 0, len(nums))
	for _, n := range nums {
		dow = append(dow, strconv.Itoa(n))
	}
	return fmt.Sprintf("%d %d * * %s", at.Minute, at.Hour, strings.Join(dow, ","))
}

var _ RecurringEngine = (*CronEngine)(nil)
