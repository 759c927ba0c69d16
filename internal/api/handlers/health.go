// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, HealthResponse{Status: status, DBConnected: dbConnected})
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	Variant          string              `json:"variant"`
	Timezone         string              `json:"timezone"`
	ExactCapability  platform.Capability `json:"exact_capability"`
	NativeCapability platform.Capability `json:"native_capability"`
	PlansCount       int                 `json:"plans_count"`
	EnabledPlans     int                 `json:"enabled_plans"`
	PendingAlarms    int                 `json:"pending_alarms"`
	NativeCount      int                 `json:"native_registrations"`
	QueuedCount      int                 `json:"queued_notifications"`
	RingingAlerts    int                 `json:"ringing_alerts"`
	WSClients        int                 `json:"ws_clients"`
	LastSync         *scheduler.Result   `json:"last_sync,omitempty"`
	ServerTime       time.Time           `json:"server_time"`
}

// Status returns a handler that provides system status information.
// engine and native may be nil when the native strategy is not in use.
func Status(
	variant string,
	plans *storage.PlanRepository,
	queue *storage.NotificationRepository,
	alarms *platform.AlarmClock,
	engine *platform.CronEngine,
	native *scheduler.NativeSync,
	trigger *scheduler.Handler,
	hub *websocket.Hub,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		total, enabled, err := plans.Count(ctx)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		queued, err := queue.List(ctx)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		response := StatusResponse{
			Variant:          variant,
			Timezone:         trigger.Location().String(),
			ExactCapability:  alarms.ExactCapability(ctx),
			NativeCapability: platform.CapabilityUnavailable,
			PlansCount:       total,
			EnabledPlans:     enabled,
			PendingAlarms:    len(alarms.Pending()),
			QueuedCount:      len(queued),
			RingingAlerts:    len(trigger.Ringing()),
			WSClients:        hub.ClientCount(),
			ServerTime:       trigger.Now(),
		}
		if engine != nil {
			response.NativeCapability = engine.Capability(ctx)
			response.NativeCount = len(engine.Keys(ctx))
		}
		if native != nil {
			if last, ok := native.Last(); ok {
				response.LastSync = &last
			}
		}
		writeJSON(w, http.StatusOK, response)
	}
}
