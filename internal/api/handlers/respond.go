package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/scheduler"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
}

func writeScheduleError(w http.ResponseWriter, res scheduler.Result, err error) {
	middleware.WriteErrorWithDetails(w, http.StatusBadGateway, middleware.ErrScheduleFailed, err.Error(), res)
}
