package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/alert"
	"github.com/interval-alarm/backend/internal/api/handlers"
	"github.com/interval-alarm/backend/internal/api/middleware"
	"github.com/interval-alarm/backend/internal/config"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/scheduler"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/websocket"
)

type screen struct{ shown []alert.Alert }

func (s *screen) Name() string { return "screen" }

func (s *screen) Present(ctx context.Context, a alert.Alert) error {
	s.shown = append(s.shown, a)
	return nil
}

func (s *screen) Dismiss(ctx context.Context, a alert.Alert, snoozedUntil time.Time) {}

type testServer struct {
	router  http.Handler
	alarms  *platform.AlarmClock
	plans   *storage.PlanRepository
	trigger *scheduler.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()

	db, err := storage.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(db, log); err != nil {
		t.Fatal(err)
	}

	plans := storage.NewPlanRepository(db, log)
	index := storage.NewRegistrationRepository(db)
	queue := storage.NewNotificationRepository(db, 64)
	alarms := platform.NewAlarmClock(log, true)
	rec := scheduler.NewReconciler(alarms, index, nil, time.UTC, log)
	trigger := scheduler.NewHandler(alarms, rec, plans, index, rec, alert.NewRegistry(), []alert.Presenter{&screen{}}, time.UTC, log)

	router := NewRouter(Services{
		Variant:   config.VariantPrimitive,
		DB:        db,
		Hub:       websocket.NewHub(log),
		Plans:     plans,
		Queue:     queue,
		Alarms:    alarms,
		Scheduler: rec,
		Trigger:   trigger,
		Relocate: func(loc *time.Location) error {
			trigger.SetLocation(loc)
			rec.SetLocation(loc)
			return nil
		},
		Log: log,
	})
	return &testServer{router: router, alarms: alarms, plans: plans, trigger: trigger}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", w.Body.String(), err)
	}
	return v
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/plans", `{"label":"Work"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	created := decode[handlers.PlanResponse](t, w)
	if created.ID == "" || created.Schedule == nil || created.Schedule.Registered != 35 {
		t.Fatalf("created = %+v", created)
	}
	if n := len(s.alarms.Pending()); n != 35 {
		t.Fatalf("pending = %d", n)
	}

	w = s.do(t, "GET", "/api/plans/"+created.ID+"/occurrences", "")
	occ := decode[[]handlers.OccurrenceResponse](t, w)
	if len(occ) != 35 || occ[0].Day != "MON" || occ[0].Time != alarm.MustTimeOfDay(7, 0) {
		t.Fatalf("occurrences = %d, first %+v", len(occ), occ[0])
	}

	body := `{"start_time":"06:00","end_time":"06:10","interval_minutes":5,"active_days":["SAT"],"snooze_minutes":3,"enabled":true}`
	w = s.do(t, "PUT", "/api/plans/"+created.ID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body)
	}
	updated := decode[handlers.PlanResponse](t, w)
	if updated.Schedule.Registered != 3 || updated.Schedule.Cancelled != 35 {
		t.Fatalf("update schedule = %+v", updated.Schedule)
	}
	if updated.Label != "" {
		t.Fatalf("replace kept old label %q", updated.Label)
	}

	w = s.do(t, "DELETE", "/api/plans/"+created.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if n := len(s.alarms.Pending()); n != 0 {
		t.Fatalf("pending after delete = %d", n)
	}
	if w = s.do(t, "GET", "/api/plans/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
}

func TestPlanValidation(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{`, middleware.ErrBadRequest},
		{"bad time", `{"start_time":"25:00"}`, middleware.ErrBadRequest},
		{"zero interval", `{"interval_minutes":0}`, middleware.ErrValidation},
		{"negative snooze", `{"snooze_minutes":-1}`, middleware.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, "POST", "/api/plans", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			if got := decode[middleware.ErrorResponse](t, w); got.Error != tt.code {
				t.Fatalf("error = %q, want %q", got.Error, tt.code)
			}
		})
	}
}

func TestUpdatePlan_RejectsIDsUnusableInKeys(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"me@home", "a%7Cb"} {
		w := s.do(t, "PUT", "/api/plans/"+id, `{}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", id, w.Code)
		}
		if got := decode[middleware.ErrorResponse](t, w); got.Error != middleware.ErrValidation {
			t.Fatalf("%s: error = %q", id, got.Error)
		}
	}
	if n := len(s.alarms.Pending()); n != 0 {
		t.Fatalf("pending = %d", n)
	}

	body := `{"start_time":"06:00","end_time":"06:00","interval_minutes":5,"active_days":["SAT"],"enabled":true}`
	if w := s.do(t, "PUT", "/api/plans/morning", body); w.Code != http.StatusOK {
		t.Fatalf("plain id status = %d: %s", w.Code, w.Body)
	}
}

func TestAlertDecisions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	w := s.do(t, "POST", "/api/plans", `{"snooze_minutes":9}`)
	plan := decode[handlers.PlanResponse](t, w).Plan

	occ := alarm.Occurrence{Weekday: alarm.Monday, Time: alarm.MustTimeOfDay(7, 0)}
	key := alarm.RegistrationKey(plan.ID, occ.Weekday, occ.Time)
	at := alarm.NextTrigger(time.Now(), occ.Weekday, occ.Time, time.UTC)
	a, err := s.trigger.Deliver(ctx, platform.NewPayload(plan, occ, key, at, platform.OriginPrimitive))
	if err != nil {
		t.Fatal(err)
	}

	ringing := decode[[]alert.Alert](t, s.do(t, "GET", "/api/alerts", ""))
	if len(ringing) != 1 || ringing[0].ID != a.ID {
		t.Fatalf("ringing = %+v", ringing)
	}

	w = s.do(t, "POST", "/api/alerts/"+a.ID+"/snooze", "")
	if w.Code != http.StatusOK {
		t.Fatalf("snooze status = %d: %s", w.Code, w.Body)
	}
	out := decode[scheduler.Outcome](t, w)
	if !strings.HasPrefix(out.SnoozeKey, key+"|snooze|") {
		t.Fatalf("snooze key = %q", out.SnoozeKey)
	}
	if n := len(s.alarms.Pending()); n != 36 {
		t.Fatalf("pending = %d, want weekly alarms plus snooze", n)
	}

	if w = s.do(t, "POST", "/api/alerts/"+a.ID+"/stop", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second decision status = %d", w.Code)
	}
}

func TestSystemEvents(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/plans", `{}`)

	w := s.do(t, "POST", "/api/system/time-changed", "")
	if w.Code != http.StatusOK {
		t.Fatalf("time-changed status = %d: %s", w.Code, w.Body)
	}
	got := decode[handlers.RecoveryResponse](t, w)
	if got.Reason != scheduler.ReasonTimeChanged || len(got.Results) != 1 || got.Results[0].Registered != 35 {
		t.Fatalf("recovery = %+v", got)
	}

	w = s.do(t, "POST", "/api/system/timezone-changed", `{"timezone":"Asia/Tokyo"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("timezone-changed status = %d: %s", w.Code, w.Body)
	}
	if got := decode[handlers.RecoveryResponse](t, w); got.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %q", got.Timezone)
	}
	for _, p := range s.alarms.Pending() {
		if h := p.At.In(s.trigger.Location()).Hour(); h != 7 {
			t.Fatalf("alarm %s at hour %d after zone change", p.Key, h)
		}
	}

	if w = s.do(t, "POST", "/api/system/timezone-changed", `{"timezone":"Mars/Olympus"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown zone status = %d", w.Code)
	}
	if w = s.do(t, "POST", "/api/system/reboot", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown event status = %d", w.Code)
	}
	if w = s.do(t, "POST", "/api/system/foreground", ""); w.Code != http.StatusNoContent {
		t.Fatalf("foreground status = %d", w.Code)
	}
}

func TestPlatformPermission(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/plans", `{}`)

	w := s.do(t, "PUT", "/api/platform", `{"exact_alarms":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	got := decode[handlers.RecoveryResponse](t, w)
	if len(got.Results) != 1 || !got.Results[0].Degraded {
		t.Fatalf("results = %+v", got.Results)
	}
	for _, p := range s.alarms.Pending() {
		if p.Exact {
			t.Fatalf("alarm %s still exact", p.Key)
		}
	}

	if w = s.do(t, "PUT", "/api/platform", `{"native_engine":true}`); w.Code != http.StatusBadRequest {
		t.Fatalf("native toggle without engine status = %d", w.Code)
	}

	w = s.do(t, "GET", "/api/platform", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"exact_capability":"degraded"`) {
		t.Fatalf("platform = %d %s", w.Code, w.Body)
	}
}

func TestHealthAndStatus(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, "GET", "/api/health", ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	w := s.do(t, "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if got := decode[handlers.StatusResponse](t, w); got.Variant != config.VariantPrimitive || got.PlansCount != 0 {
		t.Fatalf("status = %+v", got)
	}
}
