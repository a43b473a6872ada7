package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/control_plane/streaming"
	"github.com/itskum47/PulseForge/wire"
)

func newTestAPI(t *testing.T) (*API, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	hub := startHub(t)
	bus := streaming.NewLoopbackBus("test", hclog.NewNullLogger())
	notifier := NewNotifier(st, hclog.NewNullLogger())
	api := NewAPI(st, hub, bus, notifier, "agent-token", "ws://cp.example:8080", hclog.NewNullLogger())
	return api, st
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCreateTaskValidation(t *testing.T) {
	api, _ := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"missing script body", map[string]interface{}{"name": "x"}, http.StatusBadRequest},
		{"unknown trigger", map[string]interface{}{"script_body": "hostname", "trigger_type": "whenever"}, http.StatusBadRequest},
		{"once needs scheduled_at", map[string]interface{}{"script_body": "hostname", "trigger_type": "once"}, http.StatusBadRequest},
		{"interval needs seconds", map[string]interface{}{"script_body": "hostname", "trigger_type": "interval"}, http.StatusBadRequest},
		{"cron needs expression", map[string]interface{}{"script_body": "hostname", "trigger_type": "cron"}, http.StatusBadRequest},
		{"minimal now task", map[string]interface{}{"script_body": "hostname"}, http.StatusCreated},
		{"cron with expression", map[string]interface{}{"script_body": "hostname", "trigger_type": "cron", "cron_expression": "*/5 * * * *"}, http.StatusCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, api.handleTasks, "/api/tasks", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestCreateTaskDefaultsAndServerOwnedFields(t *testing.T) {
	api, st := newTestAPI(t)

	rec := postJSON(t, api.handleTasks, "/api/tasks", map[string]interface{}{
		"task_id":     "client-chosen",
		"name":        "inventory",
		"script_body": "hostname",
		"status":      "done",
		"cancelled":   true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}

	var created store.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.TaskID == "" || created.TaskID == "client-chosen" {
		t.Fatalf("task id %q was not server-assigned", created.TaskID)
	}
	if created.Status != "pending" || created.Cancelled {
		t.Fatalf("server-owned fields not reset: status=%q cancelled=%v", created.Status, created.Cancelled)
	}
	if created.TriggerType != "now" || created.ScriptType != "powershell" || created.TargetType != "all" {
		t.Fatalf("defaults not applied: %+v", created)
	}

	saved, err := st.GetTask(context.Background(), created.TaskID)
	if err != nil || saved == nil {
		t.Fatalf("created task not in store (err %v)", err)
	}
}

func TestCancelTaskEndpoint(t *testing.T) {
	api, st := newTestAPI(t)

	seedTask(t, st, &store.Task{TaskID: "t-1", Name: "cleanup", TriggerType: "interval", IntervalSeconds: 3600, ScriptBody: "df"})

	// A connected agent hears cancel_task; dashboards hear task_cancelled.
	agentSrv, agentClient := socketPair(t)
	api.hub.RegisterAgent("dev-1", agentSrv)
	dashSrv, dashClient := socketPair(t)
	api.hub.RegisterDashboard("sess-1", dashSrv)
	waitFor(t, "socket registrations", func() bool {
		return api.hub.IsConnected("dev-1") && api.hub.DashboardCount() == 1
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/t-1/cancel", nil)
	rec := httptest.NewRecorder()
	api.handleTaskItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	if got := taskStatus(t, st, "t-1"); got != "cancelled" {
		t.Fatalf("stored status = %q, want cancelled", got)
	}

	env := readEnvelope(t, agentClient)
	if env.Type != wire.TypeCancelTask {
		t.Fatalf("agent frame type = %q, want %q", env.Type, wire.TypeCancelTask)
	}
	var cancel wire.CancelTask
	if err := env.DecodeData(&cancel); err != nil || cancel.TaskID != "t-1" {
		t.Fatalf("cancel payload = %+v (err %v)", cancel, err)
	}

	if env := readEnvelope(t, dashClient); env.Type != wire.TypeTaskCancelled {
		t.Fatalf("dashboard frame type = %q, want %q", env.Type, wire.TypeTaskCancelled)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/ghost/cancel", nil)
	rec := httptest.NewRecorder()
	api.handleTaskItem(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAlertRuleEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postJSON(t, api.handleAlertRules, "/api/alert-rules", map[string]interface{}{
		"name": "hot cpu", "metric": "cpu", "operator": "gt", "threshold": 90,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var rule store.AlertRule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decoding rule: %v", err)
	}
	if rule.ID == "" || !rule.Active {
		t.Fatalf("rule not activated on create: %+v", rule)
	}
	if rule.TargetType != "all" || rule.Action != "log" {
		t.Fatalf("defaults not applied: %+v", rule)
	}

	raw, _ := json.Marshal(map[string]interface{}{
		"name": "hot cpu", "metric": "cpu", "operator": "gt", "threshold": 95, "active": false,
	})
	req := httptest.NewRequest(http.MethodPut, "/api/alert-rules/"+rule.ID, bytes.NewReader(raw))
	rec = httptest.NewRecorder()
	api.handleAlertRuleItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body %q)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/alert-rules/"+rule.ID, nil)
	rec = httptest.NewRecorder()
	api.handleAlertRuleItem(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/alert-rules/"+rule.ID, nil)
	rec = httptest.NewRecorder()
	api.handleAlertRuleItem(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestAlertRuleRejectsUnknownMetric(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postJSON(t, api.handleAlertRules, "/api/alert-rules", map[string]interface{}{
		"name": "bad", "metric": "gpu", "operator": "gt", "threshold": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSettingPutAndList(t *testing.T) {
	api, _ := newTestAPI(t)

	raw, _ := json.Marshal(map[string]string{"value": "10", "label": "Offline threshold", "category": "monitoring"})
	req := httptest.NewRequest(http.MethodPut, "/api/settings/offline_threshold_minutes", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	api.handleSettingItem(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d (body %q)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec = httptest.NewRecorder()
	api.handleSettings(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var settings []*store.Setting
	if err := json.Unmarshal(rec.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decoding settings: %v", err)
	}
	found := false
	for _, s := range settings {
		if s.Key == "offline_threshold_minutes" && s.Value == "10" {
			found = true
		}
	}
	if !found {
		t.Fatal("updated setting missing from list")
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/ghost", nil)
	rec := httptest.NewRecorder()
	api.handleDeviceItem(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPushToDevice(t *testing.T) {
	api, st := newTestAPI(t)
	if err := st.UpsertDevice(context.Background(), &store.Device{DeviceID: "dev-1", Hostname: "host-1"}); err != nil {
		t.Fatalf("seeding device: %v", err)
	}

	rec := postJSON(t, api.handleDeviceItem, "/api/devices/dev-1/push", map[string]string{"type": wire.TypeGetProcesses})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %q)", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, api.handleDeviceItem, "/api/devices/ghost/push", map[string]string{"type": wire.TypeGetProcesses})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device status = %d, want 404", rec.Code)
	}

	rec = postJSON(t, api.handleDeviceItem, "/api/devices/dev-1/push", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing type status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status     string `json:"status"`
		Agents     int    `json:"agents"`
		Dashboards int    `json:"dashboards"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status field = %q, want ok", body.Status)
	}
}

func TestTasksRejectsUnknownMethods(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	api.handleTasks(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
