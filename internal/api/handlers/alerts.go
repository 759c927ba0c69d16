package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/interval-alarm/backend/internal/alert"
	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/scheduler"
)

// ListAlerts returns the alerts still ringing.
func ListAlerts(trigger *scheduler.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts := trigger.Ringing()
		if alerts == nil {
			alerts = []alert.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

// StopAlert dismisses a ringing alert.
func StopAlert(trigger *scheduler.Handler) http.HandlerFunc {
	return decideAlert(trigger, scheduler.DecisionStop)
}

// SnoozeAlert dismisses a ringing alert and arms a one-shot snooze alarm.
func SnoozeAlert(trigger *scheduler.Handler) http.HandlerFunc {
	return decideAlert(trigger, scheduler.DecisionSnooze)
}

func decideAlert(trigger *scheduler.Handler, d scheduler.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := trigger.Decide(r.Context(), mux.Vars(r)["id"], d)
		switch {
		case errors.Is(err, alert.ErrUnknownAlert):
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Alert not found")
			return
		case err != nil:
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrScheduleFailed, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
