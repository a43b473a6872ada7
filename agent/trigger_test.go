package main

import (
	"testing"
	"time"

	"github.com/itskum47/PulseForge/wire"
)

func tp(v time.Time) *time.Time { return &v }

func TestIsDue(t *testing.T) {
	// A Friday, 26 seconds into the 15:09 minute.
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

	cases := []struct {
		name string
		task wire.Task
		want bool
	}{
		{"cancelled never fires", wire.Task{TriggerType: "now", Cancelled: true}, false},
		{"now fires immediately", wire.Task{TriggerType: "now"}, true},
		{"once due in the past", wire.Task{TriggerType: "once", ScheduledAt: tp(now.Add(-time.Minute))}, true},
		{"once due exactly now", wire.Task{TriggerType: "once", ScheduledAt: tp(now)}, true},
		{"once in the future", wire.Task{TriggerType: "once", ScheduledAt: tp(now.Add(time.Minute))}, false},
		{"once without schedule", wire.Task{TriggerType: "once"}, false},
		{"interval never run", wire.Task{TriggerType: "interval", IntervalSeconds: 60}, true},
		{"interval elapsed", wire.Task{TriggerType: "interval", IntervalSeconds: 60, LastRun: tp(now.Add(-61 * time.Second))}, true},
		{"interval not elapsed", wire.Task{TriggerType: "interval", IntervalSeconds: 60, LastRun: tp(now.Add(-30 * time.Second))}, false},
		{"interval without period", wire.Task{TriggerType: "interval", IntervalSeconds: 0}, false},
		{"cron in fire minute", wire.Task{TriggerType: "cron", CronExpression: "9 15 * * *"}, true},
		{"cron outside fire minute", wire.Task{TriggerType: "cron", CronExpression: "30 15 * * *"}, false},
		{"event waits for the watcher", wire.Task{TriggerType: "event", EventTrigger: "network_change"}, false},
		{"unknown trigger", wire.Task{TriggerType: "hourly"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.task, now); got != tc.want {
				t.Fatalf("isDue(%+v) = %v, want %v", tc.task, got, tc.want)
			}
		})
	}
}

func TestCronDue(t *testing.T) {
	// 2025-03-14 is a Friday (weekday 5).
	now := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	fireMinute := time.Date(2025, 3, 14, 15, 9, 0, 0, time.UTC)

	cases := []struct {
		name    string
		expr    string
		lastRun *time.Time
		want    bool
	}{
		{"fires anywhere inside the minute", "9 15 * * *", nil, true},
		{"no refire after a run in the same minute", "9 15 * * *", tp(fireMinute.Add(5 * time.Second)), false},
		{"no refire after a run at the exact minute", "9 15 * * *", tp(fireMinute), false},
		{"fires again the next day", "9 15 * * *", tp(now.Add(-24 * time.Hour)), true},
		{"not the fire minute", "10 15 * * *", nil, false},
		{"matching weekday", "9 15 * * 5", nil, true},
		{"wrong weekday", "9 15 * * 1", nil, false},
		{"day-of-month and month are ignored", "9 15 1 1 *", nil, true},
		{"too few fields", "9 15", nil, false},
		{"unparseable expression", "a b c d e", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := wire.Task{TriggerType: "cron", CronExpression: tc.expr, LastRun: tc.lastRun}
			if got := cronDue(task, now); got != tc.want {
				t.Fatalf("cronDue(%q, lastRun=%v) = %v, want %v", tc.expr, tc.lastRun, got, tc.want)
			}
		})
	}
}
