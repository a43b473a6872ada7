package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/wire"
)

// Dispatcher promotes due pending tasks and pushes them to connected agents.
type Dispatcher struct {
	store    store.Store
	hub      *Hub
	logger   hclog.Logger
	interval time.Duration
}

// NewDispatcher creates a dispatcher sweeping at the given interval.
func NewDispatcher(st store.Store, hub *Hub, interval time.Duration, logger hclog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dispatcher{
		store:    st,
		hub:      hub,
		logger:   logger.Named("dispatcher"),
		interval: interval,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timer := prometheus.NewTimer(observability.DispatchLoopDuration)
			d.Sweep(ctx)
			timer.ObserveDuration()
		}
	}
}

// Sweep dispatches every due pending task exactly once. The status flip is
// the commit point: it happens before any send, and per-target send
// failures do not roll it back.
func (d *Dispatcher) Sweep(ctx context.Context) {
	pending, err := d.store.ListPendingTasks(ctx)
	if err != nil {
		d.logger.Error("listing pending tasks failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, task := range pending {
		if !dispatchDue(task, now) {
			continue
		}

		flipped, err := d.store.MarkTaskDispatched(ctx, task.TaskID)
		if err != nil {
			d.logger.Error("marking task dispatched failed", "task_id", task.TaskID, "error", err)
			continue
		}
		if !flipped {
			// Another sweep or instance won the flip.
			continue
		}

		targets := d.resolveTargets(ctx, task)
		env, err := wire.NewEnvelope(wire.TypeRunTask, wire.RunTask{
			TaskID:      task.TaskID,
			Name:        task.Name,
			ScriptType:  task.ScriptType,
			ScriptBody:  task.ScriptBody,
			TriggerType: task.TriggerType,
		})
		if err != nil {
			d.logger.Error("encoding run_task failed", "task_id", task.TaskID, "error", err)
			continue
		}

		sent := 0
		for _, deviceID := range targets {
			if d.hub.SendToAgent(deviceID, env) {
				sent++
			}
		}
		observability.TasksDispatched.Inc()
		d.logger.Info("task dispatched",
			"task_id", task.TaskID, "name", task.Name,
			"targets", len(targets), "delivered", sent)
	}
}

// dispatchDue applies the server-side due rules. Only immediate and
// one-shot tasks are promoted here; recurring triggers are shipped to
// agents at check-in and evaluated locally.
func dispatchDue(t *store.Task, now time.Time) bool {
	switch t.TriggerType {
	case "now":
		return true
	case "once":
		return t.ScheduledAt != nil && !now.Before(*t.ScheduledAt)
	default:
		return false
	}
}

func (d *Dispatcher) resolveTargets(ctx context.Context, t *store.Task) []string {
	switch t.TargetType {
	case "device":
		if d.hub.IsConnected(t.TargetID) {
			return []string{t.TargetID}
		}
		return nil

	case "group":
		devices, err := d.store.ListDevices(ctx)
		if err != nil {
			d.logger.Error("listing devices for group target failed",
				"task_id", t.TaskID, "group", t.TargetID, "error", err)
			return nil
		}
		connected := make(map[string]bool)
		for _, id := range d.hub.ConnectedAgentIDs() {
			connected[id] = true
		}
		var out []string
		for _, dev := range devices {
			if dev.GroupName == t.TargetID && connected[dev.DeviceID] {
				out = append(out, dev.DeviceID)
			}
		}
		return out

	default:
		return d.hub.ConnectedAgentIDs()
	}
}
