package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itskum47/PulseForge/control_plane/store"
	"github.com/itskum47/PulseForge/wire"
)

func TestCheckinRequiresDeviceID(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := postJSON(t, api.handleCheckin, "/api/agent/checkin", wire.CheckinRequest{Platform: "linux"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCheckinUpsertsDeviceAndReturnsBootstrap(t *testing.T) {
	api, st := newTestAPI(t)
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	seedTask(t, st, &store.Task{TaskID: "t-interval", TriggerType: "interval", IntervalSeconds: 600, ScriptBody: "df"})
	seedTask(t, st, &store.Task{TaskID: "t-once", TriggerType: "once", ScheduledAt: &future, ScriptBody: "df"})
	seedTask(t, st, &store.Task{TaskID: "t-now", TriggerType: "now", ScriptBody: "df"})
	seedTask(t, st, &store.Task{TaskID: "t-dead", TriggerType: "cron", CronExpression: "0 * * * *", ScriptBody: "df", Status: "cancelled", Cancelled: true})

	rec := postJSON(t, api.handleCheckin, "/api/agent/checkin", wire.CheckinRequest{
		DeviceID: "dev-1",
		Platform: "linux",
		Heartbeat: wire.Heartbeat{
			Hostname:   "box-1",
			IPAddress:  "10.0.0.5",
			CPUPercent: 12.5,
			RAMPercent: 40,
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	var resp wire.CheckinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("response status = %q, want ok", resp.Status)
	}
	if want := "ws://cp.example:8080/ws/agent/dev-1"; resp.WSURL != want {
		t.Fatalf("ws_url = %q, want %q", resp.WSURL, want)
	}
	if resp.Policy.CheckinPluggedSeconds != wire.DefaultPolicy().CheckinPluggedSeconds {
		t.Fatalf("policy not defaulted: %+v", resp.Policy)
	}

	got := make(map[string]bool, len(resp.ScheduledTasks))
	for _, task := range resp.ScheduledTasks {
		got[task.TaskID] = true
	}
	if !got["t-interval"] || !got["t-once"] {
		t.Fatalf("recurring tasks missing from snapshot: %v", got)
	}
	if got["t-now"] || got["t-dead"] {
		t.Fatalf("snapshot leaked immediate or cancelled tasks: %v", got)
	}

	device, err := st.GetDevice(ctx, "dev-1")
	if err != nil || device == nil {
		t.Fatalf("device row missing after check-in (err %v)", err)
	}
	if device.Status != "online" || device.Hostname != "box-1" || device.CPUPercent != 12.5 {
		t.Fatalf("device row = %+v", device)
	}
}

func TestCheckinPolicyReadsSettings(t *testing.T) {
	api, st := newTestAPI(t)

	if err := st.PutSetting(context.Background(), &store.Setting{Key: "checkin_plugged_seconds", Value: "45"}); err != nil {
		t.Fatalf("seeding setting: %v", err)
	}

	rec := postJSON(t, api.handleCheckin, "/api/agent/checkin", wire.CheckinRequest{DeviceID: "dev-1", Platform: "linux"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %q)", rec.Code, rec.Body.String())
	}
	var resp wire.CheckinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Policy.CheckinPluggedSeconds != 45 {
		t.Fatalf("plugged cadence = %d, want 45", resp.Policy.CheckinPluggedSeconds)
	}
	if resp.Policy.CheckinBattery90Seconds != wire.DefaultPolicy().CheckinBattery90Seconds {
		t.Fatalf("untouched keys must keep defaults: %+v", resp.Policy)
	}
}

func TestCheckinRateLimitPerDevice(t *testing.T) {
	api, _ := newTestAPI(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := postJSON(t, api.handleCheckin, "/api/agent/checkin", wire.CheckinRequest{DeviceID: "dev-storm", Platform: "linux"})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("sixth rapid check-in status = %d, want 429", last)
	}

	// Another device has its own bucket.
	rec := postJSON(t, api.handleCheckin, "/api/agent/checkin", wire.CheckinRequest{DeviceID: "dev-calm", Platform: "linux"})
	if rec.Code != http.StatusOK {
		t.Fatalf("independent device status = %d, want 200", rec.Code)
	}
}

func TestTaskProbe(t *testing.T) {
	api, st := newTestAPI(t)
	ctx := context.Background()

	seedTask(t, st, &store.Task{TaskID: "t-live", TriggerType: "interval", IntervalSeconds: 60, ScriptBody: "df"})
	seedTask(t, st, &store.Task{TaskID: "t-dead", TriggerType: "interval", IntervalSeconds: 60, ScriptBody: "df"})
	if err := st.CancelTask(ctx, "t-dead"); err != nil {
		t.Fatalf("cancelling task: %v", err)
	}

	probe := func(taskID string) (*httptest.ResponseRecorder, wire.TaskProbeResponse) {
		req := httptest.NewRequest(http.MethodGet, "/api/agent/tasks/"+taskID, nil)
		rec := httptest.NewRecorder()
		api.handleTaskProbe(rec, req)
		var resp wire.TaskProbeResponse
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding probe response: %v", err)
			}
		}
		return rec, resp
	}

	rec, resp := probe("t-live")
	if rec.Code != http.StatusOK || resp.Cancelled {
		t.Fatalf("live probe = %d %+v", rec.Code, resp)
	}
	if resp.Status != "pending" {
		t.Fatalf("live probe status = %q, want pending", resp.Status)
	}

	rec, resp = probe("t-dead")
	if rec.Code != http.StatusOK || !resp.Cancelled {
		t.Fatalf("cancelled probe = %d %+v", rec.Code, resp)
	}

	rec, _ = probe("ghost")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown probe status = %d, want 404", rec.Code)
	}
}

func TestCheckinRejectsGet(t *testing.T) {
	api, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agent/checkin", nil)
	rec := httptest.NewRecorder()
	api.handleCheckin(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
