package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
)

// Clock supplies the scheduling time and zone used for previews.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// PlanResponse is a stored plan together with the outcome of scheduling it.
type PlanResponse struct {
	alarm.Plan
	Schedule *scheduler.Result `json:"schedule,omitempty"`
}

// OccurrenceResponse is one weekly occurrence with its next firing instant.
type OccurrenceResponse struct {
	Weekday alarm.Weekday   `json:"weekday"`
	Day     string          `json:"day"`
	Time    alarm.TimeOfDay `json:"time"`
	Key     string          `json:"key"`
	NextAt  time.Time       `json:"next_at"`
}

// ListPlans returns all plans.
func ListPlans(plans *storage.PlanRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := plans.List(r.Context())
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if list == nil {
			list = []alarm.Plan{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// CreatePlan stores a new plan and schedules it. Omitted fields take the
// defaults of a fresh alarm.
func CreatePlan(plans *storage.PlanRepository, sched scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan := alarm.DefaultPlan("")
		if !decodePlan(w, r, &plan) {
			return
		}
		plan.ID = ""

		if err := plans.Put(r.Context(), &plan); err != nil {
			writeStoreError(w, err)
			return
		}
		res, err := sched.SchedulePlan(r.Context(), plan, alarm.Expand(plan))
		if err != nil {
			writeScheduleError(w, res, err)
			return
		}
		writeJSON(w, http.StatusCreated, PlanResponse{Plan: plan, Schedule: &res})
	}
}

// GetPlan returns a single plan.
func GetPlan(plans *storage.PlanRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, ok := loadPlan(w, r, plans)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, plan)
	}
}

// UpdatePlan replaces a plan as a whole and reschedules it. A missing plan
// is created under the given id.
func UpdatePlan(plans *storage.PlanRepository, sched scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := alarm.ValidatePlanID(id); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
			return
		}

		var plan alarm.Plan
		if !decodePlan(w, r, &plan) {
			return
		}
		plan.ID = id

		if err := plans.Put(r.Context(), &plan); err != nil {
			writeStoreError(w, err)
			return
		}
		res, err := sched.SchedulePlan(r.Context(), plan, alarm.Expand(plan))
		if err != nil {
			writeScheduleError(w, res, err)
			return
		}
		writeJSON(w, http.StatusOK, PlanResponse{Plan: plan, Schedule: &res})
	}
}

// DeletePlan cancels every alarm of a plan and then removes it.
func DeletePlan(plans *storage.PlanRepository, sched scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, ok := loadPlan(w, r, plans)
		if !ok {
			return
		}
		// Keys that failed to cancel stay indexed under the plan, so the
		// plan is kept for a retry.
		res, err := sched.CancelPlan(r.Context(), plan.ID)
		if err != nil {
			writeScheduleError(w, res, err)
			return
		}
		if err := plans.Delete(r.Context(), plan.ID); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SchedulePlan re-runs scheduling for a stored plan.
func SchedulePlan(plans *storage.PlanRepository, sched scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, ok := loadPlan(w, r, plans)
		if !ok {
			return
		}
		res, err := sched.SchedulePlan(r.Context(), *plan, alarm.Expand(*plan))
		if err != nil {
			writeScheduleError(w, res, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// PlanOccurrences previews the weekly occurrences of a plan.
func PlanOccurrences(plans *storage.PlanRepository, clock Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, ok := loadPlan(w, r, plans)
		if !ok {
			return
		}

		now, loc := clock.Now(), clock.Location()
		occurrences := alarm.Expand(*plan)
		response := make([]OccurrenceResponse, 0, len(occurrences))
		for _, occ := range occurrences {
			response = append(response, OccurrenceResponse{
				Weekday: occ.Weekday,
				Day:     occ.Weekday.Label(),
				Time:    occ.Time,
				Key:     alarm.RegistrationKey(plan.ID, occ.Weekday, occ.Time),
				NextAt:  alarm.NextTrigger(now, occ.Weekday, occ.Time, loc),
			})
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func loadPlan(w http.ResponseWriter, r *http.Request, plans *storage.PlanRepository) (*alarm.Plan, bool) {
	plan, err := plans.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	if plan == nil {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Plan not found")
		return nil, false
	}
	return plan, true
}

func decodePlan(w http.ResponseWriter, r *http.Request, plan *alarm.Plan) bool {
	if err := json.NewDecoder(r.Body).Decode(plan); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	if plan.IntervalMinutes < 1 {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "interval_minutes must be at least 1")
		return false
	}
	if plan.SnoozeMinutes < 0 {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "snooze_minutes must not be negative")
		return false
	}
	return true
}
