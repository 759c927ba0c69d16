package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeAlarmRinging       MessageType = "alarm.ringing"
	TypeAlarmDismissed     MessageType = "alarm.dismissed"
	TypeAlarmSnoozed       MessageType = "alarm.snoozed"
	TypeScheduleReconciled MessageType = "schedule.reconciled"
	TypeScheduleDegraded   MessageType = "schedule.degraded"
	TypeScheduleFailed     MessageType = "schedule.failed"
	TypeSyncCompleted      MessageType = "sync.completed"
	TypeNotification       MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// AlarmPayload is the payload for alarm.* events.
type AlarmPayload struct {
	AlertID       string    `json:"alert_id"`
	PlanID        string    `json:"plan_id"`
	Label         string    `json:"label,omitempty"`
	Time          string    `json:"time"`
	IsSnooze      bool      `json:"is_snooze"`
	SnoozeMinutes int       `json:"snooze_minutes"`
	FiredAt       time.Time `json:"fired_at"`
	SnoozedUntil  time.Time `json:"snoozed_until,omitempty"`
}

// SchedulePayload is the payload for schedule.* events.
type SchedulePayload struct {
	PlanID     string   `json:"plan_id"`
	Strategy   string   `json:"strategy"`
	Registered int      `json:"registered"`
	Cancelled  int      `json:"cancelled"`
	Degraded   bool     `json:"degraded"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// SyncPayload is the payload for sync.completed events.
type SyncPayload struct {
	Strategy   string `json:"strategy"`
	Registered int    `json:"registered"`
	Cancelled  int    `json:"cancelled"`
	Queued     int    `json:"queued"`
	WindowDays int    `json:"window_days,omitempty"`
}

// NotificationPayload is the payload for notification events.
type NotificationPayload struct {
	Level       string `json:"level"` // info, warning, error, success
	Title       string `json:"title"`
	Message     string `json:"message"`
	Dismissible bool   `json:"dismissible"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
