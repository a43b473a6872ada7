package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/wire"
)

// handleCheckin is the agent bootstrap handshake. It upserts the device as
// online and returns the channel URL, the pacing policy, and a snapshot of
// pending recurring tasks so the agent can schedule them while offline.
// Tasks with trigger "now" are deliberately excluded; those travel over the
// channel only.
func (a *API) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req wire.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.CheckinsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceID == "" {
		observability.CheckinsTotal.WithLabelValues("bad_request").Inc()
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	if !a.checkinLimiter.Allow(req.DeviceID) {
		observability.CheckinsTotal.WithLabelValues("rate_limited").Inc()
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	device := &store.Device{
		DeviceID:        req.DeviceID,
		Hostname:        req.Hostname,
		Platform:        req.Platform,
		OSInfo:          req.OSInfo,
		IPAddress:       req.IPAddress,
		MACAddress:      req.MAC,
		AgentVersion:    req.AgentVersion,
		Status:          "online",
		LastSeen:        time.Now().UTC(),
		CPUPercent:      req.CPUPercent,
		RAMPercent:      req.RAMPercent,
		DiskPercent:     req.DiskPercent,
		BatteryLevel:    req.BatteryLevel,
		BatteryCharging: req.BatteryCharging,
	}
	if err := a.store.UpsertDevice(r.Context(), device); err != nil {
		a.logger.Error("check-in upsert failed", "device_id", req.DeviceID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	tasks, err := a.store.ListAgentTasks(r.Context())
	if err != nil {
		a.logger.Error("check-in task snapshot failed", "device_id", req.DeviceID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	snapshot := make([]wire.Task, 0, len(tasks))
	for _, t := range tasks {
		snapshot = append(snapshot, t.Wire())
	}

	observability.CheckinsTotal.WithLabelValues("ok").Inc()
	a.logger.Info("agent checked in",
		"device_id", req.DeviceID, "hostname", req.Hostname, "tasks", len(snapshot))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wire.CheckinResponse{
		Status:         "ok",
		WSURL:          a.wsBase + "/ws/agent/" + req.DeviceID,
		ScheduledTasks: snapshot,
		Policy:         a.pacingPolicy(r.Context()),
	})
}

// handleTaskProbe answers the agent's pre-run cancellation check,
// GET /api/agent/tasks/{task_id}.
func (a *API) handleTaskProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/agent/tasks/")
	if taskID == "" || strings.Contains(taskID, "/") {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}

	task, err := a.store.GetTask(r.Context(), taskID)
	if err != nil {
		a.logger.Error("task probe failed", "task_id", taskID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wire.TaskProbeResponse{
		TaskID:    task.TaskID,
		Cancelled: task.Cancelled || task.Status == "cancelled",
		Status:    task.Status,
	})
}

// pacingPolicy reads the check-in cadence table from settings, falling back
// to the shipped defaults.
func (a *API) pacingPolicy(ctx context.Context) wire.Policy {
	p := wire.DefaultPolicy()
	p.CheckinPluggedSeconds = store.SettingInt(ctx, a.store, "checkin_plugged_seconds", p.CheckinPluggedSeconds)
	p.CheckinBattery10080Seconds = store.SettingInt(ctx, a.store, "checkin_battery_100_80_seconds", p.CheckinBattery10080Seconds)
	p.CheckinBattery7950Seconds = store.SettingInt(ctx, a.store, "checkin_battery_79_50_seconds", p.CheckinBattery7950Seconds)
	p.CheckinBattery4920Seconds = store.SettingInt(ctx, a.store, "checkin_battery_49_20_seconds", p.CheckinBattery4920Seconds)
	p.CheckinBattery1910Seconds = store.SettingInt(ctx, a.store, "checkin_battery_19_10_seconds", p.CheckinBattery1910Seconds)
	p.CheckinBattery90Seconds = store.SettingInt(ctx, a.store, "checkin_battery_9_0_seconds", p.CheckinBattery90Seconds)
	p.DiskScanIntervalHours = store.SettingInt(ctx, a.store, "disk_scan_interval_hours", p.DiskScanIntervalHours)
	return p
}
