package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

const networkPollInterval = 15 * time.Second

// EventWatcher polls the network fingerprint and fires network_change tasks
// when it moves. A move also invalidates the cached endpoint selection,
// since the winner was probed on the old network.
type EventWatcher struct {
	state    *State
	tasks    *TaskStore
	executor *Executor
	logger   hclog.Logger

	fingerprint func() fingerprint
}

func NewEventWatcher(state *State, tasks *TaskStore, executor *Executor, logger hclog.Logger) *EventWatcher {
	return &EventWatcher{
		state:       state,
		tasks:       tasks,
		executor:    executor,
		logger:      logger.Named("events"),
		fingerprint: networkFingerprint,
	}
}

func (w *EventWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(networkPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *EventWatcher) poll(ctx context.Context) {
	fp := w.fingerprint()
	if fp.LocalIP == "" {
		// No network at all; a disconnect is not a network change.
		return
	}

	current := fp.String()
	last := w.state.LastNetwork()
	if last == current {
		return
	}
	w.state.SetLastNetwork(current)
	if last == "" {
		// First observation is the baseline, not a change.
		return
	}

	w.logger.Info("network changed", "from", last, "to", current)
	w.state.ClearEndpoint()

	now := time.Now().UTC()
	for _, task := range w.tasks.List() {
		if task.Cancelled || task.TriggerType != "event" || task.EventTrigger != "network_change" {
			continue
		}
		w.tasks.RecordRun(task.TaskID, now)
		w.logger.Info("network change task fired", "task_id", task.TaskID, "name", task.Name)
		go w.executor.Run(ctx, wire.RunTask{
			TaskID:      task.TaskID,
			Name:        task.Name,
			ScriptType:  task.ScriptType,
			ScriptBody:  task.ScriptBody,
			TriggerType: task.TriggerType,
		})
	}
}
