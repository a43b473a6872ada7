package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/idempotency"
	"github.com/itskum47/PulseForge/control_plane/middleware"
	"github.com/itskum47/PulseForge/control_plane/observability"
	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/control_plane/streaming"
	"github.com/itskum47/PulseForge/wire"
)

type API struct {
	store    store.Store
	hub      *Hub
	bus      streaming.Bus
	notifier *Notifier
	logger   hclog.Logger

	dashboardService *DashboardService
	idempotency      *idempotency.Store

	// Storm protection: one check-in per second per device, small burst.
	checkinLimiter *middleware.KeyedLimiter

	agentToken string
	wsBase     string
}

func NewAPI(st store.Store, hub *Hub, bus streaming.Bus, notifier *Notifier, agentToken, wsBase string, logger hclog.Logger) *API {
	api := &API{
		store:          st,
		hub:            hub,
		bus:            bus,
		notifier:       notifier,
		logger:         logger.Named("api"),
		idempotency:    idempotency.NewStore(),
		checkinLimiter: middleware.NewKeyedLimiter(1, 5),
		agentToken:     agentToken,
		wsBase:         wsBase,
	}
	api.dashboardService = NewDashboardService(st, hub)
	return api
}

// -- Devices --

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices, err := a.store.ListDevices(r.Context())
	if err != nil {
		a.logger.Error("listing devices failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(devices)
}

// handleDeviceItem serves /api/devices/{id}, /api/devices/{id}/metrics and
// /api/devices/{id}/push.
func (a *API) handleDeviceItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	deviceID, sub, _ := strings.Cut(rest, "/")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		a.getDevice(w, r, deviceID)
	case "metrics":
		a.getDeviceMetrics(w, r, deviceID)
	case "push":
		a.pushToDevice(w, r, deviceID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (a *API) getDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	device, err := a.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		a.logger.Error("getting device failed", "device_id", deviceID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(device)
}

func (a *API) getDeviceMetrics(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		if n, err := strconv.Atoi(h); err == nil && n > 0 && n <= 24*30 {
			hours = n
		}
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	samples, err := a.store.ListMetricSamples(r.Context(), deviceID, since)
	if err != nil {
		a.logger.Error("listing metric samples failed", "device_id", deviceID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samples)
}

// pushToDevice publishes an out-of-band command on the push channel. The
// bridge on whichever instance holds the device's socket delivers it.
func (a *API) pushToDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	device, err := a.store.GetDevice(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	env := wire.Envelope{Type: req.Type, DeviceID: deviceID, Data: req.Data}
	if err := a.bus.Publish(r.Context(), pushChannel, env); err != nil {
		observability.PushPublishFailures.Inc()
		a.logger.Error("push publish failed", "device_id", deviceID, "type", req.Type, "error", err)
		http.Error(w, "push channel unavailable", http.StatusServiceUnavailable)
		return
	}
	observability.AgentMessages.WithLabelValues(req.Type, "out").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// -- Tasks --

var validTriggers = map[string]bool{
	"now": true, "once": true, "interval": true, "cron": true, "event": true,
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := 200
		if l := r.URL.Query().Get("limit"); l != "" {
			if n, err := strconv.Atoi(l); err == nil && n > 0 {
				limit = n
			}
		}
		tasks, err := a.store.ListTasks(r.Context(), limit)
		if err != nil {
			a.logger.Error("listing tasks failed", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tasks)

	case http.MethodPost:
		a.createTask(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var task store.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if task.ScriptBody == "" {
		http.Error(w, "script_body is required", http.StatusBadRequest)
		return
	}
	if task.TriggerType == "" {
		task.TriggerType = "now"
	}
	if !validTriggers[task.TriggerType] {
		http.Error(w, "invalid trigger_type", http.StatusBadRequest)
		return
	}
	if task.TriggerType == "once" && task.ScheduledAt == nil {
		http.Error(w, "scheduled_at is required for trigger_type=once", http.StatusBadRequest)
		return
	}
	if task.TriggerType == "interval" && task.IntervalSeconds <= 0 {
		http.Error(w, "interval_seconds is required for trigger_type=interval", http.StatusBadRequest)
		return
	}
	if task.TriggerType == "cron" && task.CronExpression == "" {
		http.Error(w, "cron_expression is required for trigger_type=cron", http.StatusBadRequest)
		return
	}
	if task.ScriptType == "" {
		task.ScriptType = "powershell"
	}
	if task.TargetType == "" {
		task.TargetType = "all"
	}

	// Server-owned fields; whatever the client sent is ignored.
	task.TaskID = uuid.NewString()
	task.Status = "pending"
	task.Cancelled = false
	task.LastRun = nil
	task.CreatedAt = time.Now().UTC()

	if err := a.store.CreateTask(r.Context(), &task); err != nil {
		a.logger.Error("creating task failed", "name", task.Name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.logger.Info("task created",
		"task_id", task.TaskID, "name", task.Name,
		"trigger", task.TriggerType, "target", task.TargetType)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(&task)
}

// handleTaskItem serves /api/tasks/{id}, /api/tasks/{id}/cancel and
// /api/tasks/{id}/results.
func (a *API) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	taskID, sub, _ := strings.Cut(rest, "/")
	if taskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}

	switch sub {
	case "":
		a.getTask(w, r, taskID)
	case "cancel":
		a.cancelTask(w, r, taskID)
	case "results":
		a.getTaskResults(w, r, taskID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	task, err := a.store.GetTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// cancelTask is terminal for the task id: the dispatcher skips it, agents
// are told to drop their local copies, dashboards see task_cancelled.
func (a *API) cancelTask(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	task, err := a.store.GetTask(r.Context(), taskID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if task == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	if err := a.store.CancelTask(r.Context(), taskID); err != nil {
		a.logger.Error("cancelling task failed", "task_id", taskID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	a.logger.Info("task cancelled", "task_id", taskID, "name", task.Name)

	if env, err := wire.NewEnvelope(wire.TypeCancelTask, wire.CancelTask{TaskID: taskID}); err == nil {
		for _, deviceID := range a.hub.ConnectedAgentIDs() {
			a.hub.SendToAgent(deviceID, env)
		}
	}
	if env, err := wire.NewEnvelope(wire.TypeTaskCancelled, map[string]string{"task_id": taskID}); err == nil {
		a.hub.Broadcast(env)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled", "task_id": taskID})
}

func (a *API) getTaskResults(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	results, err := a.store.ListTaskResults(r.Context(), taskID, limit)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// -- Alert rules --

var (
	validMetrics   = map[string]bool{"cpu": true, "ram": true, "disk": true, "battery": true}
	validOperators = map[string]bool{"gt": true, "lt": true, "eq": true}
)

func (a *API) handleAlertRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := a.store.ListAlertRules(r.Context(), false)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rules)

	case http.MethodPost:
		var rule store.AlertRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !validMetrics[rule.Metric] || !validOperators[rule.Operator] {
			http.Error(w, "invalid metric or operator", http.StatusBadRequest)
			return
		}
		if rule.TargetType == "" {
			rule.TargetType = "all"
		}
		if rule.Action == "" {
			rule.Action = "log"
		}
		rule.ID = uuid.NewString()
		rule.Active = true
		rule.LastFired = nil

		if err := a.store.CreateAlertRule(r.Context(), &rule); err != nil {
			a.logger.Error("creating alert rule failed", "name", rule.Name, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&rule)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleAlertRuleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/alert-rules/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "rule id is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var rule store.AlertRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if !validMetrics[rule.Metric] || !validOperators[rule.Operator] {
			http.Error(w, "invalid metric or operator", http.StatusBadRequest)
			return
		}
		rule.ID = id
		if err := a.store.UpdateAlertRule(r.Context(), &rule); err != nil {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&rule)

	case http.MethodDelete:
		if err := a.store.DeleteAlertRule(r.Context(), id); err != nil {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// -- Settings --

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	settings, err := a.store.ListSettings(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settings)
}

func (a *API) handleSettingItem(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if key == "" || strings.Contains(key, "/") {
		http.Error(w, "setting key is required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Value    string `json:"value"`
		Label    string `json:"label,omitempty"`
		Category string `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	setting := &store.Setting{Key: key, Value: req.Value, Label: req.Label, Category: req.Category}
	if err := a.store.PutSetting(r.Context(), setting); err != nil {
		a.logger.Error("updating setting failed", "key", key, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(setting)
}

// -- Logs, summary, health --

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := a.store.ListLogs(r.Context(), limit)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (a *API) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary, err := a.dashboardService.FleetSummary(r.Context())
	if err != nil {
		a.logger.Error("building fleet summary failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"agents":     a.hub.AgentCount(),
		"dashboards": a.hub.DashboardCount(),
	})
}
