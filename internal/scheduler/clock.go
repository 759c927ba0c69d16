package scheduler

import (
	"sync"
	"time"
)

// clock is the time source and zone shared by the scheduling components.
type clock struct {
	mu  sync.RWMutex
	loc *time.Location
	now func() time.Time
}

func newClock(loc *time.Location) *clock {
	if loc == nil {
		loc = time.Local
	}
	return &clock{loc: loc, now: time.Now}
}

func (c *clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

func (c *clock) Location() *time.Location {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loc
}

// SetClock overrides the time source.
func (c *clock) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// SetLocation changes the zone wall-clock times are evaluated in.
func (c *clock) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	c.mu.Lock()
	c.loc = loc
	c.mu.Unlock()
}
