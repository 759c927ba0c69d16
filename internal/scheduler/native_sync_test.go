package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage"
	"github.com/interval-alarm/backend/internal/storage/models"
)

func newTestSync(engine platform.RecurringEngine, queue *memQueue, plans *memPlans) (*NativeSync, *memIndex) {
	idx := newMemIndex()
	s := NewNativeSync(engine, queue, nil, idx, plans, nil, time.UTC, 7, zap.NewNop())
	s.SetClock(fixed(wednesday))
	return s, idx
}

func queued(q *memQueue) []models.Notification {
	all, _ := q.List(context.Background())
	var out []models.Notification
	for _, n := range all {
		if n.HasPrefix(QueuePrefix) {
			out = append(out, n)
		}
	}
	return out
}

func TestSync_NativeRegistersOnePerTimeOfDay(t *testing.T) {
	ctx := context.Background()
	engine := platform.NewCronEngine(time.UTC, zap.NewNop(), 14, 12, true)
	queue := newMemQueue(64)
	queue.entries[QueuePrefix+"stale"] = models.Notification{ID: QueuePrefix + "stale"}
	queue.entries["other:1"] = models.Notification{ID: "other:1"}
	s, idx := newTestSync(engine, queue, newMemPlans(alarm.DefaultPlan("p1")))

	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Strategy != StrategyNative || res.Registered != 7 || res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}

	regs := engine.Registrations(wednesday)
	if len(regs) != 7 {
		t.Fatalf("registrations = %d, want 7", len(regs))
	}
	if regs[0].Key != "p1|07:00" || regs[0].Expr != "0 7 * * 1,2,3,4,5" {
		t.Fatalf("first registration = %+v", regs[0])
	}
	if !regs[0].Next.Equal(time.Date(2025, 5, 7, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("next = %v", regs[0].Next)
	}

	if _, ok := queue.entries[QueuePrefix+"stale"]; ok {
		t.Fatal("queued fallback entries not cleared")
	}
	if _, ok := queue.entries["other:1"]; !ok {
		t.Fatal("foreign queue entry removed")
	}
	entries, _ := idx.Keys(ctx, storage.ScopeNative, "p1")
	if len(entries) != 7 {
		t.Fatalf("indexed = %v", entries)
	}
}

func TestSync_NativeStableForIDsWithAt(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	s, idx := newTestSync(engine, newMemQueue(64), newMemPlans(alarm.DefaultPlan("me@home")))

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Registered != 0 || res.Cancelled != 0 {
		t.Fatalf("second sync = %+v, want no changes", res)
	}
	entries, _ := idx.Keys(ctx, storage.ScopeNative, "me@home")
	if key, sig := splitNativeEntry(entries[0]); key != "me@home|07:00" || !strings.HasPrefix(sig, "0 7 ") {
		t.Fatalf("entry %q split into %q, %q", entries[0], key, sig)
	}
}

func TestCancelPlan_NativeDisarmsSnoozes(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	clock := platform.NewAlarmClock(zap.NewNop(), true)
	idx := newMemIndex()
	plans := newMemPlans(alarm.DefaultPlan("p1"), alarm.DefaultPlan("p2"))
	s := NewNativeSync(engine, newMemQueue(64), clock, idx, plans, nil, time.UTC, 7, zap.NewNop())
	s.SetClock(fixed(wednesday))

	for _, id := range []string{"p1", "p2"} {
		key := alarm.SnoozeKey(id+"|3|07:00", wednesday.Add(5*time.Minute))
		p := platform.Payload{Key: key, PlanID: id, IsSnooze: true, Origin: platform.OriginPrimitive}
		if err := clock.RegisterOneShot(ctx, wednesday.Add(5*time.Minute), true, p); err != nil {
			t.Fatal(err)
		}
		if err := idx.Replace(ctx, storage.ScopeSnooze, id, []string{key}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.CancelPlan(ctx, "p1"); err != nil {
		t.Fatal(err)
	}
	pending := clock.Pending()
	if len(pending) != 1 || pending[0].PlanID != "p2" {
		t.Fatalf("pending = %+v, want only the p2 snooze", pending)
	}
	if keys, _ := idx.Keys(ctx, storage.ScopeSnooze, "p1"); len(keys) != 0 {
		t.Fatalf("p1 snooze keys = %v", keys)
	}
}

func TestSync_NativeDiffsAgainstIndex(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	plan := alarm.DefaultPlan("p1")
	plans := newMemPlans(plan)
	s, _ := newTestSync(engine, newMemQueue(64), plans)

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Registered != 0 || res.Cancelled != 0 {
		t.Fatalf("unchanged plan resynced: %+v", res)
	}

	// Drop the last two times and move to weekends.
	plan.EndTime = alarm.MustTimeOfDay(7, 20)
	plan.ActiveDays = alarm.NewWeekdaySet(alarm.Saturday, alarm.Sunday)
	plans.plans["p1"] = plan
	res, err = s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Cancelled != 2 || res.Registered != 5 {
		t.Fatalf("unexpected diff %+v", res)
	}
	if got := engine.Keys(ctx); len(got) != 5 {
		t.Fatalf("keys = %v", got)
	}
	if engine.regs["p1|07:00"].SnoozeMinutes != plan.SnoozeMinutes {
		t.Fatal("payload lost snooze length")
	}
}

func TestSync_NativeReregistersLostEntries(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	s, _ := newTestSync(engine, newMemQueue(64), newMemPlans(alarm.DefaultPlan("p1")))

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	// The engine forgets everything, as after a restart.
	engine.regs = make(map[string]platform.Payload)

	res, err := s.Sync(ctx)
	if err != nil || res.Registered != 7 {
		t.Fatalf("Sync = %+v, %v", res, err)
	}
}

func TestSync_QueueWhenNativeUnavailable(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	queue := newMemQueue(20)
	s, idx := newTestSync(engine, queue, newMemPlans(alarm.DefaultPlan("p1")))

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	engine.capability = platform.CapabilityUnavailable

	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Strategy != StrategyQueue || !res.Degraded {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(engine.regs) != 0 {
		t.Fatalf("native registrations left behind: %v", engine.Keys(ctx))
	}
	if all, _ := idx.ListAll(ctx, storage.ScopeNative); len(all) != 0 {
		t.Fatalf("native index left behind: %v", all)
	}

	// Wednesday 06:00: 7 left today, 7 on Thursday, 7 on Friday would be 21.
	entries := queued(queue)
	if len(entries) != 14 || res.Queued != 14 || res.WindowDays != 2 {
		t.Fatalf("queued %d with window %d, result %+v", len(entries), res.WindowDays, res)
	}
	for i, n := range entries {
		if !n.TriggerAt.After(wednesday) {
			t.Fatalf("entry %s not in the future", n.ID)
		}
		if i > 0 && n.TriggerAt.Before(entries[i-1].TriggerAt) {
			t.Fatal("entries out of order")
		}
		p, err := platform.DecodePayload(n.Payload)
		if err != nil || p.Origin != platform.OriginQueue || !p.TriggerAt.Equal(n.TriggerAt) {
			t.Fatalf("payload = %+v, %v", p, err)
		}
	}

	// Resync replaces the batch instead of adding to it.
	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(queued(queue)); n != 14 {
		t.Fatalf("resync queued %d", n)
	}
}

func TestSync_FallsBackWhenNativeThrows(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	engine.failOn = "07:15"
	queue := newMemQueue(64)
	s, _ := newTestSync(engine, queue, newMemPlans(alarm.DefaultPlan("p1")))

	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Strategy != StrategyQueue || !res.Degraded || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(engine.regs) != 0 {
		t.Fatalf("partial native registrations kept: %v", engine.Keys(ctx))
	}
	if len(queued(queue)) == 0 {
		t.Fatal("nothing queued")
	}
}

func TestSync_RoomLeftByForeignEntries(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue(10)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("other:%d", i)
		queue.entries[id] = models.Notification{ID: id}
	}
	s, _ := newTestSync(newFakeEngine(platform.CapabilityUnavailable), queue, newMemPlans(alarm.DefaultPlan("p1")))

	res, err := s.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued != 6 || len(queue.entries) != 10 {
		t.Fatalf("queued %d, queue holds %d", res.Queued, len(queue.entries))
	}
}

func TestCancelPlan_NativeExcludesPlan(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine(platform.CapabilityAvailable)
	s, _ := newTestSync(engine, newMemQueue(64), newMemPlans(alarm.DefaultPlan("p1"), alarm.DefaultPlan("p2")))

	if _, err := s.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := s.CancelPlan(ctx, "p1")
	if err != nil || res.Cancelled != 7 || res.PlanID != "p1" {
		t.Fatalf("CancelPlan = %+v, %v", res, err)
	}
	for _, key := range engine.Keys(ctx) {
		if strings.HasPrefix(key, "p1|") {
			t.Fatalf("registration %s survived", key)
		}
	}
	if _, ok := s.Last(); !ok {
		t.Fatal("last result not recorded")
	}
}

func makeCandidates(perDay, days int) []Candidate {
	var out []Candidate
	day := alarm.DayStart(wednesday, time.UTC)
	for d := days - 1; d >= 0; d-- {
		for i := perDay - 1; i >= 0; i-- {
			at := day.AddDate(0, 0, d).Add(7*time.Hour + time.Duration(i)*time.Minute)
			out = append(out, Candidate{Key: fmt.Sprintf("k%d-%02d", d, i), At: at})
		}
	}
	return out
}

func TestSelectQueueBatch(t *testing.T) {
	tests := []struct {
		name       string
		perDay     int
		capacity   int
		wantLen    int
		wantWindow int
	}{
		{name: "everything fits", perDay: 10, capacity: 100, wantLen: 70, wantWindow: 7},
		{name: "exact fit", perDay: 10, capacity: 30, wantLen: 30, wantWindow: 3},
		{name: "window stops growing", perDay: 10, capacity: 25, wantLen: 20, wantWindow: 2},
		{name: "first day overflows", perDay: 10, capacity: 5, wantLen: 5, wantWindow: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands := makeCandidates(tt.perDay, 7)
			got, window := SelectQueueBatch(cands, wednesday, 7, tt.capacity, time.UTC)
			if len(got) != tt.wantLen || window != tt.wantWindow {
				t.Fatalf("got %d entries over %d days, want %d over %d", len(got), window, tt.wantLen, tt.wantWindow)
			}
			if len(got) > tt.capacity {
				t.Fatalf("batch %d exceeds capacity %d", len(got), tt.capacity)
			}
			for i := 1; i < len(got); i++ {
				if got[i].At.Before(got[i-1].At) {
					t.Fatal("batch not sorted")
				}
			}
			// Every selected candidate is no later than every unselected one.
			if len(got) > 0 {
				last := got[len(got)-1].At
				selected := make(map[string]bool, len(got))
				for _, c := range got {
					selected[c.Key] = true
				}
				for _, c := range cands {
					if !selected[c.Key] && c.At.Before(last) {
						t.Fatalf("skipped earlier candidate %s", c.Key)
					}
				}
			}
		})
	}
}

func TestSelectQueueBatch_Empty(t *testing.T) {
	if got, w := SelectQueueBatch(nil, wednesday, 7, 64, time.UTC); got != nil || w != 0 {
		t.Fatalf("got %v, %d", got, w)
	}
	if got, _ := SelectQueueBatch(makeCandidates(1, 1), wednesday, 7, 0, time.UTC); got != nil {
		t.Fatalf("zero capacity selected %v", got)
	}
}

func TestCandidates(t *testing.T) {
	plan := alarm.DefaultPlan("p1")
	cands := Candidates([]alarm.Plan{plan}, wednesday.Add(10*time.Minute), 7, time.UTC)
	// Wednesday 06:10: today, Thursday, Friday, then Monday and Tuesday.
	if len(cands) != 35 {
		t.Fatalf("candidates = %d, want 35", len(cands))
	}

	late := time.Date(2025, 5, 7, 7, 12, 0, 0, time.UTC)
	cands = Candidates([]alarm.Plan{plan}, late, 1, time.UTC)
	if len(cands) != 4 {
		t.Fatalf("candidates after 07:12 = %d, want 4", len(cands))
	}
}
