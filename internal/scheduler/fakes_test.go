package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/alert"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage/models"
)

var errBoom = errors.New("boom")

// wednesday is 2025-05-07 06:00 UTC, a Wednesday.
var wednesday = time.Date(2025, 5, 7, 6, 0, 0, 0, time.UTC)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

type memIndex struct {
	mu   sync.Mutex
	keys map[string]map[string][]string
}

func newMemIndex() *memIndex {
	return &memIndex{keys: make(map[string]map[string][]string)}
}

func (m *memIndex) Keys(ctx context.Context, scope, planID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.keys[scope][planID]...)
	sort.Strings(out)
	return out, nil
}

func (m *memIndex) Replace(ctx context.Context, scope, planID string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[scope] == nil {
		m.keys[scope] = make(map[string][]string)
	}
	if len(keys) == 0 {
		delete(m.keys[scope], planID)
		return nil
	}
	m.keys[scope][planID] = append([]string(nil), keys...)
	return nil
}

func (m *memIndex) Clear(ctx context.Context, scope, planID string) error {
	return m.Replace(ctx, scope, planID, nil)
}

func (m *memIndex) ListAll(ctx context.Context, scope string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	for id, keys := range m.keys[scope] {
		out[id] = append([]string(nil), keys...)
	}
	return out, nil
}

type memPlans struct {
	plans map[string]alarm.Plan
}

func newMemPlans(plans ...alarm.Plan) *memPlans {
	m := &memPlans{plans: make(map[string]alarm.Plan)}
	for _, p := range plans {
		m.plans[p.ID] = p
	}
	return m
}

func (m *memPlans) Get(ctx context.Context, id string) (*alarm.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memPlans) ListEnabled(ctx context.Context) ([]alarm.Plan, error) {
	var out []alarm.Plan
	for _, p := range m.plans {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// flakyAlarms wraps an AlarmManager and injects failures.
type flakyAlarms struct {
	platform.AlarmManager
	capability   *platform.Capability
	failRegister func(p platform.Payload) bool
	failCancel   map[string]bool
}

func (f *flakyAlarms) RegisterOneShot(ctx context.Context, at time.Time, exact bool, p platform.Payload) error {
	if f.failRegister != nil && f.failRegister(p) {
		return errBoom
	}
	return f.AlarmManager.RegisterOneShot(ctx, at, exact, p)
}

func (f *flakyAlarms) Cancel(ctx context.Context, key string) error {
	if f.failCancel[key] {
		return errBoom
	}
	return f.AlarmManager.Cancel(ctx, key)
}

func (f *flakyAlarms) ExactCapability(ctx context.Context) platform.Capability {
	if f.capability != nil {
		return *f.capability
	}
	return f.AlarmManager.ExactCapability(ctx)
}

type fakeEngine struct {
	mu          sync.Mutex
	capability  platform.Capability
	regs        map[string]platform.Payload
	registered  int
	failOn      string
	cancelCalls int
}

func newFakeEngine(c platform.Capability) *fakeEngine {
	return &fakeEngine{capability: c, regs: make(map[string]platform.Payload)}
}

func (e *fakeEngine) Capability(ctx context.Context) platform.Capability { return e.capability }

func (e *fakeEngine) Register(ctx context.Context, key string, days []alarm.Weekday, at alarm.TimeOfDay, p platform.Payload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOn != "" && strings.HasSuffix(key, e.failOn) {
		return errBoom
	}
	e.regs[key] = p
	e.registered++
	return nil
}

func (e *fakeEngine) Cancel(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelCalls++
	delete(e.regs, key)
	return nil
}

func (e *fakeEngine) Keys(ctx context.Context) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.regs)
}

type memQueue struct {
	capacity int
	entries  map[string]models.Notification
}

func newMemQueue(capacity int) *memQueue {
	return &memQueue{capacity: capacity, entries: make(map[string]models.Notification)}
}

func (q *memQueue) Capacity() int { return q.capacity }

func (q *memQueue) Enqueue(ctx context.Context, batch []models.Notification) error {
	if len(q.entries)+len(batch) > q.capacity {
		return platform.ErrQueueFull
	}
	for _, n := range batch {
		q.entries[n.ID] = n
	}
	return nil
}

func (q *memQueue) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	removed := 0
	for id, n := range q.entries {
		if n.HasPrefix(prefix) {
			delete(q.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (q *memQueue) Remove(ctx context.Context, id string) error {
	delete(q.entries, id)
	return nil
}

func (q *memQueue) List(ctx context.Context) ([]models.Notification, error) {
	out := make([]models.Notification, 0, len(q.entries))
	for _, n := range q.entries {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	return out, nil
}

func (q *memQueue) Due(ctx context.Context, now time.Time) ([]models.Notification, error) {
	all, _ := q.List(ctx)
	var out []models.Notification
	for _, n := range all {
		if !n.TriggerAt.After(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakePresenter struct {
	name      string
	err       error
	presented []alert.Alert
	dismissed []time.Time
}

func (p *fakePresenter) Name() string { return p.name }

func (p *fakePresenter) Present(ctx context.Context, a alert.Alert) error {
	if p.err != nil {
		return p.err
	}
	p.presented = append(p.presented, a)
	return nil
}

func (p *fakePresenter) Dismiss(ctx context.Context, a alert.Alert, snoozedUntil time.Time) {
	p.dismissed = append(p.dismissed, snoozedUntil)
}
