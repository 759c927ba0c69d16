package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/storage/models"
	"github.com/interval-alarm/backend/internal/websocket"
)

// QueuePrefix marks the notification queue entries owned by the sync.
const QueuePrefix = "ialarm:"

// DefaultLookaheadDays is how far ahead the queue fallback plans.
const DefaultLookaheadDays = 7

const queueWarning = "native recurring alarms unavailable, using the notification queue"

// Candidate is one concrete future firing considered for the queue.
type Candidate struct {
	Key     string
	At      time.Time
	Payload platform.Payload
}

// NativeSync schedules every enabled plan on the native recurring engine,
// falling back to the bounded notification queue when the engine cannot be
// used. The strategy is chosen again on every call.
type NativeSync struct {
	engine      platform.RecurringEngine
	queue       platform.NotificationQueue
	index       KeyIndex
	plans       PlanStore
	broadcaster *websocket.EventBroadcaster
	log         *zap.Logger
	lookahead   int

	*clock
	mu      sync.Mutex
	cron    *cron.Cron
	last    *Result
	snoozes snoozeBook
}

// NewNativeSync creates the sync. alarms carries snooze one-shots and may
// be nil when snoozes are not tracked. broadcaster may be nil; a
// non-positive lookahead selects DefaultLookaheadDays.
func NewNativeSync(
	engine platform.RecurringEngine,
	queue platform.NotificationQueue,
	alarms platform.AlarmManager,
	index KeyIndex,
	plans PlanStore,
	broadcaster *websocket.EventBroadcaster,
	loc *time.Location,
	lookaheadDays int,
	log *zap.Logger,
) *NativeSync {
	if lookaheadDays <= 0 {
		lookaheadDays = DefaultLookaheadDays
	}
	return &NativeSync{
		engine:      engine,
		queue:       queue,
		index:       index,
		plans:       plans,
		broadcaster: broadcaster,
		log:         log,
		lookahead:   lookaheadDays,
		clock:       newClock(loc),
		snoozes:     snoozeBook{alarms: alarms, index: index},
	}
}

// Start runs Sync on the given interval until Stop.
func (s *NativeSync) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() {
		if _, err := s.Sync(context.Background()); err != nil {
			s.log.Error("periodic sync failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduling periodic sync: %w", err)
	}
	s.cron.Start()
	s.log.Info("periodic sync started", zap.Duration("interval", interval))
	return nil
}

// Stop halts the periodic sync.
func (s *NativeSync) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SchedulePlan resyncs every plan. The plan must already be stored.
func (s *NativeSync) SchedulePlan(ctx context.Context, plan alarm.Plan, occurrences []alarm.Occurrence) (Result, error) {
	res, err := s.sync(ctx, "")
	res.PlanID = plan.ID
	return res, err
}

// CancelPlan resyncs every plan except planID, whose alarms and pending
// snoozes are removed even if it is still stored.
func (s *NativeSync) CancelPlan(ctx context.Context, planID string) (Result, error) {
	res, err := s.sync(ctx, planID)
	res.PlanID = planID
	return res, err
}

// Sync reconciles every enabled plan with the platform.
func (s *NativeSync) Sync(ctx context.Context) (Result, error) {
	return s.sync(ctx, "")
}

// Last returns the result of the most recent successful sync.
func (s *NativeSync) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *NativeSync) sync(ctx context.Context, exclude string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.plans.ListEnabled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loading plans: %w", err)
	}
	plans := stored[:0:0]
	keep := make(map[string]bool, len(stored))
	for _, p := range stored {
		if p.ID != exclude {
			plans = append(plans, p)
			keep[p.ID] = true
		}
	}

	// Snoozes of deleted, disabled or cancelled plans must not ring.
	swept, err := s.snoozes.sweep(ctx, keep)
	if err != nil {
		s.log.Warn("cancelling snoozes failed", zap.Error(err))
	}

	var res Result
	if s.engine.Capability(ctx) == platform.CapabilityAvailable {
		res, err = s.syncNative(ctx, plans)
		if err == nil {
			res.Cancelled += swept
			s.finish(res)
			return res, nil
		}
		s.log.Warn("native sync failed, falling back to queue", zap.Error(err))
		res = Result{}
		res.warn(fmt.Sprintf("native sync failed: %v", err))
	} else {
		res.warn(queueWarning)
	}

	res.Cancelled += swept
	if err := s.syncQueue(ctx, plans, &res); err != nil {
		s.log.Error("queue sync failed", zap.Error(err))
		return res, err
	}
	s.log.Warn(queueWarning, zap.Int("queued", res.Queued), zap.Int("window_days", res.WindowDays))
	s.finish(res)
	return res, nil
}

func (s *NativeSync) lockPlan(string) func() {
	s.mu.Lock()
	return s.mu.Unlock
}

type nativeReg struct {
	planID  string
	days    []alarm.Weekday
	at      alarm.TimeOfDay
	sig     string
	payload platform.Payload
}

// desiredNative builds one registration per plan and time of day.
func desiredNative(plans []alarm.Plan) map[string]nativeReg {
	out := make(map[string]nativeReg)
	for _, plan := range plans {
		occ := alarm.Expand(plan)
		if len(occ) == 0 {
			continue
		}
		days := plan.ActiveDays.Sorted()
		for _, o := range occ {
			key := alarm.NativeKey(plan.ID, o.Time)
			if _, ok := out[key]; ok {
				continue
			}
			out[key] = nativeReg{
				planID:  plan.ID,
				days:    days,
				at:      o.Time,
				sig:     platform.WeeklyExpr(days, o.Time) + ";snooze=" + strconv.Itoa(plan.SnoozeMinutes),
				payload: platform.NewPayload(plan, o, key, time.Time{}, platform.OriginNative),
			}
		}
	}
	return out
}

// Native index entries are "<key>@<signature>" so a registration whose
// weekdays or snooze length changed is registered again. Signatures never
// contain '@', so the last one separates the two.
func nativeEntry(key, sig string) string { return key + "@" + sig }

func splitNativeEntry(entry string) (key, sig string) {
	i := strings.LastIndex(entry, "@")
	if i < 0 {
		return entry, ""
	}
	return entry[:i], entry[i+1:]
}

func (s *NativeSync) syncNative(ctx context.Context, plans []alarm.Plan) (Result, error) {
	res := Result{Strategy: StrategyNative}
	desired := desiredNative(plans)

	indexed, err := s.index.ListAll(ctx, storage.ScopeNative)
	if err != nil {
		return res, fmt.Errorf("reading native registrations: %w", err)
	}
	current := make(map[string]string)
	for _, entries := range indexed {
		for _, e := range entries {
			key, sig := splitNativeEntry(e)
			current[key] = sig
		}
	}
	live := make(map[string]bool)
	for _, key := range s.engine.Keys(ctx) {
		live[key] = true
	}

	obsolete := make(map[string]bool)
	for key := range current {
		if _, ok := desired[key]; !ok {
			obsolete[key] = true
		}
	}
	for key := range live {
		if _, ok := desired[key]; !ok {
			obsolete[key] = true
		}
	}
	for _, key := range sortedKeys(obsolete) {
		if err := s.engine.Cancel(ctx, key); err != nil {
			return res, fmt.Errorf("cancelling native %s: %w", key, err)
		}
		res.Cancelled++
	}

	byPlan := make(map[string][]string)
	for _, key := range sortedKeys(desired) {
		reg := desired[key]
		if !live[key] || current[key] != reg.sig {
			if err := s.engine.Register(ctx, key, reg.days, reg.at, reg.payload); err != nil {
				return res, fmt.Errorf("registering native %s: %w", key, err)
			}
			res.Registered++
		}
		byPlan[reg.planID] = append(byPlan[reg.planID], nativeEntry(key, reg.sig))
	}

	for planID := range indexed {
		if _, ok := byPlan[planID]; !ok {
			if err := s.index.Clear(ctx, storage.ScopeNative, planID); err != nil {
				return res, fmt.Errorf("clearing native registrations of %s: %w", planID, err)
			}
		}
	}
	for planID, entries := range byPlan {
		if err := s.index.Replace(ctx, storage.ScopeNative, planID, entries); err != nil {
			return res, fmt.Errorf("saving native registrations of %s: %w", planID, err)
		}
	}

	if _, err := s.queue.RemoveByPrefix(ctx, QueuePrefix); err != nil {
		return res, fmt.Errorf("clearing queued notifications: %w", err)
	}
	return res, nil
}

func (s *NativeSync) syncQueue(ctx context.Context, plans []alarm.Plan, res *Result) error {
	res.Strategy = StrategyQueue
	res.Cancelled += s.cancelNative(ctx)

	removed, err := s.queue.RemoveByPrefix(ctx, QueuePrefix)
	if err != nil {
		return fmt.Errorf("clearing queued notifications: %w", err)
	}
	res.Cancelled += removed

	// Entries queued by other owners count against the same capacity.
	foreign, err := s.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("listing queued notifications: %w", err)
	}
	room := s.queue.Capacity() - len(foreign)

	now, loc := s.Now(), s.Location()
	batch, window := SelectQueueBatch(Candidates(plans, now, s.lookahead, loc), now, s.lookahead, room, loc)
	res.WindowDays = window

	entries := make([]models.Notification, 0, len(batch))
	for _, c := range batch {
		data, err := c.Payload.Encode()
		if err != nil {
			return err
		}
		entries = append(entries, models.Notification{
			ID:        QueuePrefix + c.Key + "|" + strconv.FormatInt(c.At.Unix(), 10),
			PlanID:    c.Payload.PlanID,
			TriggerAt: c.At,
			Payload:   data,
			CreatedAt: now,
		})
	}
	if err := s.queue.Enqueue(ctx, entries); err != nil {
		return fmt.Errorf("enqueueing notifications: %w", err)
	}
	res.Queued = len(entries)
	res.Registered = len(entries)
	return nil
}

// cancelNative removes every native registration so the two strategies
// never fire the same plan. Failures are logged and skipped.
func (s *NativeSync) cancelNative(ctx context.Context) int {
	keys := make(map[string]bool)
	for _, key := range s.engine.Keys(ctx) {
		keys[key] = true
	}
	indexed, err := s.index.ListAll(ctx, storage.ScopeNative)
	if err != nil {
		s.log.Warn("reading native registrations failed", zap.Error(err))
	}
	for _, entries := range indexed {
		for _, e := range entries {
			key, _ := splitNativeEntry(e)
			keys[key] = true
		}
	}

	var errs *multierror.Error
	cancelled := 0
	for _, key := range sortedKeys(keys) {
		if err := s.engine.Cancel(ctx, key); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		cancelled++
	}
	for planID := range indexed {
		if err := s.index.Clear(ctx, storage.ScopeNative, planID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		s.log.Warn("cancelling native registrations failed", zap.Error(err))
	}
	return cancelled
}

func (s *NativeSync) finish(res Result) {
	s.last = &res
	s.log.Info("sync completed",
		zap.String("strategy", string(res.Strategy)),
		zap.Int("registered", res.Registered),
		zap.Int("cancelled", res.Cancelled),
		zap.Int("queued", res.Queued),
	)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastSyncCompleted(websocket.SyncPayload{
			Strategy:   string(res.Strategy),
			Registered: res.Registered,
			Cancelled:  res.Cancelled,
			Queued:     res.Queued,
			WindowDays: res.WindowDays,
		})
		if res.Strategy == StrategyQueue {
			s.broadcaster.BroadcastNotification("warning", "Alarms limited",
				fmt.Sprintf("Only the next %d day(s) of alarms are scheduled. Open the app again to extend them.", res.WindowDays))
		}
	}
}

// Candidates lists every firing of plans within days local days starting
// today, strictly after now.
func Candidates(plans []alarm.Plan, now time.Time, days int, loc *time.Location) []Candidate {
	if loc == nil {
		loc = time.Local
	}
	today := alarm.DayStart(now, loc)

	var out []Candidate
	for _, plan := range plans {
		occ := alarm.Expand(plan)
		for d := 0; d < days; d++ {
			day := time.Date(today.Year(), today.Month(), today.Day()+d, 0, 0, 0, 0, loc)
			wd := alarm.WeekdayOf(day.Weekday())
			for _, o := range occ {
				if o.Weekday != wd {
					continue
				}
				at := alarm.At(day, o.Time, loc)
				if !at.After(now) {
					continue
				}
				key := alarm.RegistrationKey(plan.ID, o.Weekday, o.Time)
				out = append(out, Candidate{
					Key:     key,
					At:      at,
					Payload: platform.NewPayload(plan, o, key, at, platform.OriginQueue),
				})
			}
		}
	}
	return out
}

// SelectQueueBatch picks what goes into a queue holding at most capacity
// entries. The window starts at one day and grows a day at a time while
// all candidates inside it still fit; the earliest capacity candidates of
// that window are returned along with the window length in days.
func SelectQueueBatch(candidates []Candidate, now time.Time, days, capacity int, loc *time.Location) ([]Candidate, int) {
	if days <= 0 || capacity <= 0 || len(candidates) == 0 {
		return nil, 0
	}
	if loc == nil {
		loc = time.Local
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].At.Equal(sorted[j].At) {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].At.Before(sorted[j].At)
	})

	today := alarm.DayStart(now, loc)
	windowEnd := func(n int) time.Time {
		return time.Date(today.Year(), today.Month(), today.Day()+n, 0, 0, 0, 0, loc)
	}
	countBefore := func(end time.Time) int {
		return sort.Search(len(sorted), func(i int) bool { return !sorted[i].At.Before(end) })
	}

	window := 1
	for window < days && countBefore(windowEnd(window+1)) <= capacity {
		window++
	}

	scoped := sorted[:countBefore(windowEnd(window))]
	if len(scoped) > capacity {
		scoped = scoped[:capacity]
	}
	return scoped, window
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ Scheduler = (*NativeSync)(nil)
	_ Syncer    = (*NativeSync)(nil)
)
