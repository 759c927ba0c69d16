package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/scheduler"
)

// Relocator moves every scheduling component to a new time zone.
type Relocator func(loc *time.Location) error

// TimezoneRequest optionally names the new zone on a timezone change.
type TimezoneRequest struct {
	Timezone string `json:"timezone"`
}

// RecoveryResponse reports a recovery sweep.
type RecoveryResponse struct {
	Reason   scheduler.Reason   `json:"reason"`
	Timezone string             `json:"timezone"`
	Results  []scheduler.Result `json:"results"`
	Error    string             `json:"error,omitempty"`
}

// SystemEvent handles boot, time-changed and timezone-changed
// notifications by re-registering every enabled plan.
func SystemEvent(trigger *scheduler.Handler, relocate Relocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason, err := scheduler.ParseReason(mux.Vars(r)["event"])
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
			return
		}

		if reason == scheduler.ReasonTimezoneChanged {
			var req TimezoneRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
				return
			}
			if req.Timezone != "" && relocate != nil {
				loc, err := time.LoadLocation(req.Timezone)
				if err != nil {
					middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Unknown timezone: "+req.Timezone)
					return
				}
				if err := relocate(loc); err != nil {
					writeStoreError(w, err)
					return
				}
			}
		}

		writeRecovery(w, r, trigger, reason)
	}
}

// Foreground runs a full sync when the app returns to the foreground. It
// is a no-op unless the native strategy is in use.
func Foreground(syncer scheduler.Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if syncer == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		res, err := syncer.Sync(r.Context())
		if err != nil {
			writeScheduleError(w, res, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeRecovery(w http.ResponseWriter, r *http.Request, trigger *scheduler.Handler, reason scheduler.Reason) {
	results, err := trigger.Recover(r.Context(), reason)
	response := RecoveryResponse{
		Reason:   reason,
		Timezone: trigger.Location().String(),
		Results:  results,
	}
	if response.Results == nil {
		response.Results = []scheduler.Result{}
	}
	status := http.StatusOK
	if err != nil {
		// Recovery is best-effort per plan; report partial success.
		response.Error = err.Error()
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, response)
}
