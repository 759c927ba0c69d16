package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/storage/models"
)

// PlatformResponse describes the simulated platform alarm facilities.
type PlatformResponse struct {
	Variant          string                        `json:"variant"`
	ExactCapability  platform.Capability           `json:"exact_capability"`
	NativeCapability platform.Capability           `json:"native_capability"`
	Pending          []platform.PendingAlarm       `json:"pending"`
	Native           []platform.NativeRegistration `json:"native"`
	Queued           []models.Notification         `json:"queued"`
	QueueCapacity    int                           `json:"queue_capacity"`
}

// PlatformRequest toggles the exact-alarm permission and the native engine
// feature switch. Omitted fields are left unchanged.
type PlatformRequest struct {
	ExactAlarms  *bool `json:"exact_alarms"`
	NativeEngine *bool `json:"native_engine"`
}

// GetPlatform returns the platform alarm state. engine may be nil.
func GetPlatform(variant string, alarms *platform.AlarmClock, engine *platform.CronEngine, queue *storage.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		queued, err := queue.List(ctx)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		response := PlatformResponse{
			Variant:          variant,
			ExactCapability:  alarms.ExactCapability(ctx),
			NativeCapability: platform.CapabilityUnavailable,
			Pending:          alarms.Pending(),
			Native:           []platform.NativeRegistration{},
			Queued:           queued,
			QueueCapacity:    queue.Capacity(),
		}
		if engine != nil {
			response.NativeCapability = engine.Capability(ctx)
			response.Native = engine.Registrations(time.Now())
		}
		if response.Queued == nil {
			response.Queued = []models.Notification{}
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// UpdatePlatform applies permission changes and then reconciles every plan
// so registrations match the new capabilities.
func UpdatePlatform(alarms *platform.AlarmClock, engine *platform.CronEngine, trig *scheduler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlatformRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.NativeEngine != nil && engine == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "No native engine configured")
			return
		}

		if req.ExactAlarms != nil {
			alarms.SetExactPermitted(*req.ExactAlarms)
		}
		if req.NativeEngine != nil {
			engine.SetEnabled(*req.NativeEngine)
		}
		writeRecovery(w, r, trig, scheduler.ReasonPermissionChanged)
	}
}
