// Package models defines data structures for storage entities.
package models

import (
	"strings"
	"time"
)

// Notification is a one-shot, dated, non-repeating entry of the bounded
// notification queue.
type Notification struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"plan_id"`
	TriggerAt time.Time `json:"trigger_at"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// HasPrefix reports whether the notification id starts with prefix.
func (n Notification) HasPrefix(prefix string) bool {
	return strings.HasPrefix(n.ID, prefix)
}
