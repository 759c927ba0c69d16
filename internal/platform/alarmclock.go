package platform

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxSleepCap bounds how long the clock sleeps so NTP steps, DST and
// system suspend are noticed within a minute.
const maxSleepCap = 60 * time.Second

// AlarmClock is an in-process one-shot alarm table. Alarms live in memory
// only, so a process restart clears them the way a reboot clears the
// device alarm table.
type AlarmClock struct {
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	entries  map[string]*clockEntry
	queue    alarmHeap
	exact    bool
	closed   bool
	receiver Receiver

	wake chan struct{}
}

// NewAlarmClock creates a clock. exactPermitted models the exact-alarm
// permission; it can be changed later with SetExactPermitted.
func NewAlarmClock(log *zap.Logger, exactPermitted bool) *AlarmClock {
	return &AlarmClock{
		log:     log,
		now:     time.Now,
		entries: make(map[string]*clockEntry),
		exact:   exactPermitted,
		wake:    make(chan struct{}, 1),
	}
}

// SetReceiver sets where fired alarms are delivered.
func (c *AlarmClock) SetReceiver(r Receiver) {
	c.mu.Lock()
	c.receiver = r
	c.mu.Unlock()
}

// SetClock overrides the time source.
func (c *AlarmClock) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// SetExactPermitted grants or revokes the exact-alarm permission.
func (c *AlarmClock) SetExactPermitted(permitted bool) {
	c.mu.Lock()
	c.exact = permitted
	c.mu.Unlock()
}

// ExactCapability reports whether exact alarms can currently be registered.
func (c *AlarmClock) ExactCapability(ctx context.Context) Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return CapabilityUnavailable
	case c.exact:
		return CapabilityAvailable
	default:
		return CapabilityDegraded
	}
}

// RegisterOneShot arms an alarm at the given instant, replacing any alarm
// already registered under p.Key.
func (c *AlarmClock) RegisterOneShot(ctx context.Context, at time.Time, exact bool, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrUnavailable
	}
	if exact && !c.exact {
		return ErrExactNotPermitted
	}

	if old, ok := c.entries[p.Key]; ok {
		heap.Remove(&c.queue, old.index)
	}
	e := &clockEntry{
		key:     p.Key,
		planID:  p.PlanID,
		at:      at,
		exact:   exact,
		snoozed: p.IsSnooze,
		payload: data,
	}
	c.entries[p.Key] = e
	heap.Push(&c.queue, e)
	c.signal()
	return nil
}

// Cancel disarms the alarm under key. Unknown keys are ignored.
func (c *AlarmClock) Cancel(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrUnavailable
	}
	if e, ok := c.entries[key]; ok {
		heap.Remove(&c.queue, e.index)
		delete(c.entries, key)
		c.signal()
	}
	return nil
}

// Pending returns the armed alarms ordered by trigger instant.
func (c *AlarmClock) Pending() []PendingAlarm {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingAlarm, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, PendingAlarm{Key: e.key, PlanID: e.planID, At: e.at, Exact: e.exact, Snoozed: e.snoozed})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Key < out[j].Key
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Run delivers alarms as they come due until ctx is cancelled. After Run
// returns the clock rejects further registrations.
func (c *AlarmClock) Run(ctx context.Context) {
	timer := time.NewTimer(c.nextSleep())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		case <-c.wake:
		case <-timer.C:
		}

		c.FireDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.nextSleep())
	}
}

// FireDue delivers every alarm whose instant is not after now. It returns
// the number of alarms delivered.
func (c *AlarmClock) FireDue(ctx context.Context) int {
	c.mu.Lock()
	now := c.now()
	var due []*clockEntry
	for c.queue.Len() > 0 && !c.queue[0].at.After(now) {
		e := heap.Pop(&c.queue).(*clockEntry)
		delete(c.entries, e.key)
		due = append(due, e)
	}
	receiver := c.receiver
	c.mu.Unlock()

	for _, e := range due {
		p, err := DecodePayload(e.payload)
		if err != nil {
			c.log.Error("dropping alarm with undecodable payload", zap.String("key", e.key), zap.Error(err))
			continue
		}
		if receiver == nil {
			c.log.Warn("alarm fired without receiver", zap.String("key", e.key))
			continue
		}
		receiver.Fire(ctx, p)
	}
	return len(due)
}

func (c *AlarmClock) nextSleep() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue.Len() == 0 {
		return maxSleepCap
	}
	d := c.queue[0].at.Sub(c.now())
	if d > maxSleepCap {
		d = maxSleepCap
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (c *AlarmClock) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

var _ AlarmManager = (*AlarmClock)(nil)
