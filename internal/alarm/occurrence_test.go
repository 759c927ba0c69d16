package alarm

import (
	"reflect"
	"testing"
)

func TestGenerateTimes_DefaultWindow(t *testing.T) {
	got := GenerateTimes(MustTimeOfDay(7, 0), MustTimeOfDay(7, 30), 5)
	want := []string{"07:00", "07:05", "07:10", "07:15", "07:20", "07:25", "07:30"}
	if len(got) != len(want) {
		t.Fatalf("want %d times, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("times[%d]: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGenerateTimes_InvalidWindow(t *testing.T) {
	for _, interval := range []int{1, 5, 60, 1440} {
		if got := GenerateTimes(MustTimeOfDay(8, 0), MustTimeOfDay(7, 0), interval); len(got) != 0 {
			t.Errorf("interval %d: want no times for inverted window, got %v", interval, got)
		}
	}
}

func TestGenerateTimes_NonPositiveInterval(t *testing.T) {
	for _, interval := range []int{0, -1, -30} {
		if got := GenerateTimes(MustTimeOfDay(7, 0), MustTimeOfDay(8, 0), interval); len(got) != 0 {
			t.Errorf("interval %d: want no times, got %v", interval, got)
		}
	}
}

func TestGenerateTimes_Properties(t *testing.T) {
	cases := []struct {
		start, end TimeOfDay
		interval   int
	}{
		{MustTimeOfDay(0, 0), MustTimeOfDay(23, 59), 7},
		{MustTimeOfDay(6, 45), MustTimeOfDay(7, 0), 10},
		{MustTimeOfDay(12, 0), MustTimeOfDay(12, 0), 5},
		{MustTimeOfDay(5, 0), MustTimeOfDay(9, 59), 60},
		{MustTimeOfDay(22, 10), MustTimeOfDay(23, 0), 1000},
	}
	for _, tc := range cases {
		times := GenerateTimes(tc.start, tc.end, tc.interval)
		if len(times) == 0 {
			t.Fatalf("%s-%s/%d: want non-empty", tc.start, tc.end, tc.interval)
		}
		if times[0] != tc.start {
			t.Errorf("%s-%s/%d: first = %s, want start", tc.start, tc.end, tc.interval, times[0])
		}
		for i := 1; i < len(times); i++ {
			if !times[i-1].Before(times[i]) {
				t.Errorf("%s-%s/%d: not strictly ascending at %d", tc.start, tc.end, tc.interval, i)
			}
		}
		last := times[len(times)-1]
		if last.MinutesOfDay() > tc.end.MinutesOfDay() {
			t.Errorf("%s-%s/%d: last %s after end", tc.start, tc.end, tc.interval, last)
		}
		if tc.end.MinutesOfDay()-last.MinutesOfDay() >= tc.interval {
			t.Errorf("%s-%s/%d: gap between last %s and end is a full interval", tc.start, tc.end, tc.interval, last)
		}
	}
}

func TestExpand_OrderAndSize(t *testing.T) {
	p := DefaultPlan("p1")
	p.ActiveDays = NewWeekdaySet(Friday, Monday)
	p.EndTime = MustTimeOfDay(7, 5)

	got := Expand(p)
	want := []Occurrence{
		{Monday, MustTimeOfDay(7, 0)},
		{Monday, MustTimeOfDay(7, 5)},
		{Friday, MustTimeOfDay(7, 0)},
		{Friday, MustTimeOfDay(7, 5)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func TestExpand_SizeIsDaysTimesTimes(t *testing.T) {
	p := DefaultPlan("p1")
	p.ActiveDays = AllDays.Clone()
	times := GenerateTimes(p.StartTime, p.EndTime, p.IntervalMinutes)

	got := Expand(p)
	if len(got) != 7*len(times) {
		t.Fatalf("want %d occurrences, got %d", 7*len(times), len(got))
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if prev.Weekday > cur.Weekday {
			t.Fatalf("weekday order broken at %d", i)
		}
		if prev.Weekday == cur.Weekday && !prev.Time.Before(cur.Time) {
			t.Fatalf("time order broken at %d", i)
		}
	}
}

func TestExpand_Empty(t *testing.T) {
	disabled := DefaultPlan("p")
	disabled.Enabled = false

	noDays := DefaultPlan("p")
	noDays.ActiveDays = NewWeekdaySet()

	zeroInterval := DefaultPlan("p")
	zeroInterval.IntervalMinutes = 0

	inverted := DefaultPlan("p")
	inverted.StartTime, inverted.EndTime = MustTimeOfDay(9, 0), MustTimeOfDay(8, 0)

	for name, p := range map[string]Plan{
		"disabled":      disabled,
		"no days":       noDays,
		"zero interval": zeroInterval,
		"inverted":      inverted,
	} {
		if got := Expand(p); len(got) != 0 {
			t.Errorf("%s: want no occurrences, got %d", name, len(got))
		}
	}
}
