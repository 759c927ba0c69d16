// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/api/handlers"
	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/websocket"
)

// Services bundles what the handlers need. Engine and Native are nil when
// the primitive strategy is in use.
type Services struct {
	Variant   string
	DB        *storage.DB
	Hub       *websocket.Hub
	Plans     *storage.PlanRepository
	Queue     *storage.NotificationRepository
	Alarms    *platform.AlarmClock
	Engine    *platform.CronEngine
	Scheduler scheduler.Scheduler
	Native    *scheduler.NativeSync
	Trigger   *scheduler.Handler
	Relocate  handlers.Relocator
	StaticDir string
	Log       *zap.Logger
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(s Services) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging(s.Log))
	r.Use(middleware.ErrorRecovery(s.Log))

	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(s.Variant, s.Plans, s.Queue, s.Alarms, s.Engine, s.Native, s.Trigger, s.Hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, s.Log)).Methods("GET")

	// Plan endpoints
	api.HandleFunc("/plans", handlers.ListPlans(s.Plans)).Methods("GET")
	api.HandleFunc("/plans", handlers.CreatePlan(s.Plans, s.Scheduler)).Methods("POST")
	api.HandleFunc("/plans/{id}", handlers.GetPlan(s.Plans)).Methods("GET")
	api.HandleFunc("/plans/{id}", handlers.UpdatePlan(s.Plans, s.Scheduler)).Methods("PUT")
	api.HandleFunc("/plans/{id}", handlers.DeletePlan(s.Plans, s.Scheduler)).Methods("DELETE")
	api.HandleFunc("/plans/{id}/occurrences", handlers.PlanOccurrences(s.Plans, s.Trigger)).Methods("GET")
	api.HandleFunc("/plans/{id}/schedule", handlers.SchedulePlan(s.Plans, s.Scheduler)).Methods("POST")

	// Alert endpoints
	api.HandleFunc("/alerts", handlers.ListAlerts(s.Trigger)).Methods("GET")
	api.HandleFunc("/alerts/{id}/stop", handlers.StopAlert(s.Trigger)).Methods("POST")
	api.HandleFunc("/alerts/{id}/snooze", handlers.SnoozeAlert(s.Trigger)).Methods("POST")

	// System events; foreground must be matched before {event}
	var syncer scheduler.Syncer
	if s.Native != nil {
		syncer = s.Native
	}
	api.HandleFunc("/system/foreground", handlers.Foreground(syncer)).Methods("POST")
	api.HandleFunc("/system/{event}", handlers.SystemEvent(s.Trigger, s.Relocate)).Methods("POST")

	// Platform endpoints
	api.HandleFunc("/platform", handlers.GetPlatform(s.Variant, s.Alarms, s.Engine, s.Queue)).Methods("GET")
	api.HandleFunc("/platform", handlers.UpdatePlatform(s.Alarms, s.Engine, s.Trigger)).Methods("PUT")

	// Serve static frontend files
	if s.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.StaticDir)))
	}

	return r
}
