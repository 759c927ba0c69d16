package websocket

import "go.uber.org/zap"

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
	log *zap.Logger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, log *zap.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, log: log}
}

// ClientCount returns the number of connected clients.
func (b *EventBroadcaster) ClientCount() int {
	return b.hub.ClientCount()
}

// BroadcastAlarmRinging announces a ringing alarm.
func (b *EventBroadcaster) BroadcastAlarmRinging(payload AlarmPayload) bool {
	return b.broadcast(NewMessage(TypeAlarmRinging, payload))
}

// BroadcastAlarmDismissed announces that a ringing alarm was stopped.
func (b *EventBroadcaster) BroadcastAlarmDismissed(payload AlarmPayload) bool {
	return b.broadcast(NewMessage(TypeAlarmDismissed, payload))
}

// BroadcastAlarmSnoozed announces that a ringing alarm was snoozed.
func (b *EventBroadcaster) BroadcastAlarmSnoozed(payload AlarmPayload) bool {
	return b.broadcast(NewMessage(TypeAlarmSnoozed, payload))
}

// BroadcastScheduleReconciled sends the outcome of a plan reconciliation.
// Degraded outcomes go out as schedule.degraded so clients can warn.
func (b *EventBroadcaster) BroadcastScheduleReconciled(payload SchedulePayload) {
	msgType := TypeScheduleReconciled
	if payload.Degraded {
		msgType = TypeScheduleDegraded
	}
	b.broadcast(NewMessage(msgType, payload))
}

// BroadcastScheduleFailed sends a failed reconciliation.
func (b *EventBroadcaster) BroadcastScheduleFailed(planID string, err error) {
	b.broadcast(NewMessage(TypeScheduleFailed, SchedulePayload{PlanID: planID, Error: err.Error()}))
}

// BroadcastSyncCompleted sends the outcome of a native-engine sync.
func (b *EventBroadcaster) BroadcastSyncCompleted(payload SyncPayload) {
	b.broadcast(NewMessage(TypeSyncCompleted, payload))
}

// BroadcastNotification sends a notification to all connected clients.
func (b *EventBroadcaster) BroadcastNotification(level, title, message string) {
	b.broadcast(NewMessage(TypeNotification, NotificationPayload{
		Level:       level,
		Title:       title,
		Message:     message,
		Dismissible: true,
	}))
}

func (b *EventBroadcaster) broadcast(msg Message) bool {
	data, err := msg.JSON()
	if err != nil {
		b.log.Error("encoding websocket message failed", zap.String("type", string(msg.Type)), zap.Error(err))
		return false
	}
	return b.hub.Broadcast(data)
}
