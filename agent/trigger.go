package main

import (
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"

	"github.com/itskum47/PulseForge/wire"
)

// isDue is the stateless trigger predicate. Event tasks always read false
// here; the event watcher fires them. Malformed schedules read false rather
// than erroring.
func isDue(t wire.Task, now time.Time) bool {
	if t.Cancelled {
		return false
	}
	now = now.UTC()

	switch t.TriggerType {
	case "now":
		return true
	case "once":
		return t.ScheduledAt != nil && !now.Before(t.ScheduledAt.UTC())
	case "interval":
		if t.IntervalSeconds <= 0 {
			return false
		}
		if t.LastRun == nil {
			return true
		}
		return now.Sub(t.LastRun.UTC()) >= time.Duration(t.IntervalSeconds)*time.Second
	case "cron":
		return cronDue(t, now)
	default:
		return false
	}
}

// cronDue evaluates the restricted cron dialect: only minute, hour and
// weekday are honored; day-of-month and month are wildcarded before parsing.
// Due iff the next fire at or after now has arrived and last_run predates
// it, so the 30 s scan loop hits each fire minute at most once.
func cronDue(t wire.Task, now time.Time) bool {
	fields := strings.Fields(t.CronExpression)
	if len(fields) < 5 {
		return false
	}
	expr, err := cronexpr.Parse(fields[0] + " " + fields[1] + " * * " + fields[4])
	if err != nil {
		return false
	}

	// Truncate to the minute so every scan inside a fire minute sees that
	// minute's fire, not the one after it.
	minute := now.Truncate(time.Minute)
	next := expr.Next(minute.Add(-time.Second))
	if next.IsZero() || next.After(minute) {
		return false
	}
	return t.LastRun == nil || t.LastRun.UTC().Before(next)
}
