package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

const taskScanInterval = 30 * time.Second

// Runner fires locally scheduled tasks when their triggers come due. Runs
// are concurrent: a slow script never delays the next trigger.
type Runner struct {
	tasks    *TaskStore
	checkin  *CheckinClient
	executor *Executor
	logger   hclog.Logger
}

func NewRunner(tasks *TaskStore, checkin *CheckinClient, executor *Executor, logger hclog.Logger) *Runner {
	return &Runner{
		tasks:    tasks,
		checkin:  checkin,
		executor: executor,
		logger:   logger.Named("runner"),
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(taskScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scan(ctx)
		}
	}
}

func (r *Runner) scan(ctx context.Context) {
	now := time.Now().UTC()
	for _, task := range r.tasks.List() {
		if task.Cancelled || !isDue(task, now) {
			continue
		}

		// Last chance to catch a cancellation issued while this agent
		// was out of reach. Unreachable servers fail open.
		if !r.checkin.TaskActive(ctx, task.TaskID) {
			r.logger.Info("task cancelled server-side, dropping", "task_id", task.TaskID)
			r.tasks.MarkCancelled(task.TaskID)
			continue
		}

		// Book the run before launching so the next scan cannot fire
		// the same trigger while this run is still going.
		if task.TriggerType == "once" {
			r.tasks.Remove(task.TaskID)
		} else {
			r.tasks.RecordRun(task.TaskID, now)
		}

		r.logger.Info("trigger fired",
			"task_id", task.TaskID, "name", task.Name, "trigger", task.TriggerType)
		go r.executor.Run(ctx, wire.RunTask{
			TaskID:      task.TaskID,
			Name:        task.Name,
			ScriptType:  task.ScriptType,
			ScriptBody:  task.ScriptBody,
			TriggerType: task.TriggerType,
		})
	}
}
