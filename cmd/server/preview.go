package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/interval-alarm/backend/internal/alarm"
	"github.com/interval-alarm/backend/internal/scheduler"
)

var previewFlags = []cli.Flag{
	cli.StringFlag{Name: "start", Value: "07:00", Usage: "first alarm of the window (HH:MM)"},
	cli.StringFlag{Name: "end", Value: "07:30", Usage: "last possible alarm of the window (HH:MM)"},
	cli.IntFlag{Name: "interval", Value: alarm.DefaultIntervalMinutes, Usage: "minutes between alarms"},
	cli.StringFlag{Name: "days", Value: "mon,tue,wed,thu,fri", Usage: "comma separated active weekdays"},
	cli.IntFlag{Name: "window", Usage: "also list the dated instants of the next N days"},
	cli.StringFlag{Name: "timezone", Value: "Local", Usage: "zone the window is evaluated in"},
}

func preview(c *cli.Context) error {
	plan := alarm.DefaultPlan("preview")
	var err error
	if plan.StartTime, err = alarm.ParseTimeOfDay(c.String("start")); err != nil {
		return err
	}
	if plan.EndTime, err = alarm.ParseTimeOfDay(c.String("end")); err != nil {
		return err
	}
	plan.IntervalMinutes = c.Int("interval")
	plan.ActiveDays = alarm.NewWeekdaySet()
	for _, s := range strings.Split(c.String("days"), ",") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		d, err := alarm.ParseWeekday(s)
		if err != nil {
			return err
		}
		plan.ActiveDays[d] = struct{}{}
	}
	loc, err := time.LoadLocation(c.String("timezone"))
	if err != nil {
		return err
	}

	occurrences := alarm.Expand(plan)
	now := time.Now().In(loc)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tTIME\tKEY\tNEXT")
	for _, occ := range occurrences {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			occ.Weekday.Label(),
			occ.Time,
			alarm.RegistrationKey(plan.ID, occ.Weekday, occ.Time),
			alarm.NextTrigger(now, occ.Weekday, occ.Time, loc).Format(time.RFC3339),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d occurrences per week\n", len(occurrences))

	if days := c.Int("window"); days > 0 {
		fmt.Println()
		for _, cand := range scheduler.Candidates([]alarm.Plan{plan}, now, days, loc) {
			fmt.Printf("%s  %s\n", cand.At.Format("Mon 2006-01-02 15:04"), cand.Key)
		}
	}
	return nil
}
