// Package alert presents fired alarms to the user and tracks the ones
// still ringing until the user stops or snoozes them.
package alert

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/interval-alarm/backend/internal/platform"
)

// ErrUnknownAlert is returned for decisions on an alert that is not ringing.
var ErrUnknownAlert = errors.New("unknown alert")

// Alert is one ringing alarm awaiting a stop or snooze decision.
type Alert struct {
	ID        string           `json:"id"`
	Payload   platform.Payload `json:"payload"`
	Label     string           `json:"label,omitempty"`
	FiredAt   time.Time        `json:"fired_at"`
	Presenter string           `json:"presenter"`
}

// NewAlert creates an alert for a fired payload.
func NewAlert(p platform.Payload, label string, firedAt time.Time) Alert {
	return Alert{
		ID:      uuid.NewString(),
		Payload: p,
		Label:   label,
		FiredAt: firedAt,
	}
}

// Registry holds ringing alerts.
type Registry struct {
	mu     sync.RWMutex
	alerts map[string]Alert
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{alerts: make(map[string]Alert)}
}

// Add records a ringing alert.
func (r *Registry) Add(a Alert) {
	r.mu.Lock()
	r.alerts[a.ID] = a
	r.mu.Unlock()
}

// Take removes and returns the alert with the given id.
func (r *Registry) Take(id string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return Alert{}, ErrUnknownAlert
	}
	delete(r.alerts, id)
	return a, nil
}

// Get returns the alert with the given id.
func (r *Registry) Get(id string) (Alert, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	return a, ok
}

// List returns ringing alerts, oldest first.
func (r *Registry) List() []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.Before(out[j].FiredAt) })
	return out
}
