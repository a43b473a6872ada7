package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/control_plane/store"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		op        string
		value     float64
		threshold float64
		want      bool
	}{
		{"gt", 91, 90, true},
		{"gt", 90, 90, false},
		{"lt", 9, 10, true},
		{"lt", 10, 10, false},
		{"eq", 50.4, 50, true},
		{"eq", 49.6, 50, true},
		{"eq", 50.6, 50, false},
		{"between", 50, 50, false},
	}
	for _, tc := range cases {
		if got := evaluate(tc.op, tc.value, tc.threshold); got != tc.want {
			t.Errorf("evaluate(%q, %v, %v) = %v, want %v", tc.op, tc.value, tc.threshold, got, tc.want)
		}
	}
}

func TestRuleInScope(t *testing.T) {
	device := &store.Device{DeviceID: "dev-1", GroupName: "lab"}

	cases := []struct {
		name string
		rule store.AlertRule
		want bool
	}{
		{"all", store.AlertRule{TargetType: "all"}, true},
		{"empty target type", store.AlertRule{}, true},
		{"device match", store.AlertRule{TargetType: "device", TargetID: "dev-1"}, true},
		{"device mismatch", store.AlertRule{TargetType: "device", TargetID: "dev-2"}, false},
		{"group match", store.AlertRule{TargetType: "group", TargetID: "lab"}, true},
		{"group mismatch", store.AlertRule{TargetType: "group", TargetID: "office"}, false},
		{"group unset", store.AlertRule{TargetType: "group"}, false},
	}
	for _, tc := range cases {
		if got := ruleInScope(&tc.rule, device); got != tc.want {
			t.Errorf("%s: ruleInScope = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMetricValue(t *testing.T) {
	level := 35.0
	d := &store.Device{CPUPercent: 75, RAMPercent: 60, DiskPercent: 80, BatteryLevel: &level}

	for metric, want := range map[string]float64{"cpu": 75, "ram": 60, "disk": 80, "battery": 35} {
		got, ok := metricValue(metric, d)
		if !ok || got != want {
			t.Errorf("metricValue(%q) = %v %v, want %v true", metric, got, ok, want)
		}
	}

	if _, ok := metricValue("battery", &store.Device{}); ok {
		t.Error("battery without a reading must not be evaluable")
	}
	if _, ok := metricValue("gpu", d); ok {
		t.Error("unknown metric must not be evaluable")
	}
}

func newEngine(t *testing.T) (*AlertEngine, store.Store, *fakeRegistry, *fakeNotifier) {
	t.Helper()
	st := store.NewMemoryStore()
	reg := &fakeRegistry{connected: map[string]bool{}}
	notif := &fakeNotifier{}
	return NewAlertEngine(st, reg, notif, hclog.NewNullLogger()), st, reg, notif
}

func seedRule(t *testing.T, st store.Store, r *store.AlertRule) {
	t.Helper()
	if r.Action == "" {
		r.Action = "log"
	}
	r.Active = true
	if err := st.CreateAlertRule(context.Background(), r); err != nil {
		t.Fatalf("seeding rule %s: %v", r.ID, err)
	}
}

func TestAlertSweepFiresOnceAndThrottles(t *testing.T) {
	e, st, reg, notif := newEngine(t)
	ctx := context.Background()

	seedDevice(t, st, &store.Device{DeviceID: "dev-1", Hostname: "box", CPUPercent: 95, LastSeen: time.Now().UTC()})
	reg.connected["dev-1"] = true
	seedRule(t, st, &store.AlertRule{ID: "r-1", Name: "hot cpu", Metric: "cpu", Operator: "gt", Threshold: 90, Action: "email"})

	e.Sweep(ctx)

	if len(notif.alerts) != 1 || notif.alerts[0] != "r-1:dev-1" {
		t.Fatalf("alerts = %v, want [r-1:dev-1]", notif.alerts)
	}
	rule, err := st.GetAlertRule(ctx, "r-1")
	if err != nil || rule == nil || rule.LastFired == nil {
		t.Fatalf("last_fired not committed: %+v (err %v)", rule, err)
	}
	entries, err := st.ListLogs(ctx, 10)
	if err != nil || len(entries) != 1 || entries[0].Source != "alert_engine" {
		t.Fatalf("alert log missing: %v (err %v)", entries, err)
	}

	// Inside the refire window the rule stays quiet even though the
	// violation persists.
	e.Sweep(ctx)
	if len(notif.alerts) != 1 {
		t.Fatalf("throttled rule re-fired: %v", notif.alerts)
	}
}

func TestAlertSweepSkipsUnreachableDevices(t *testing.T) {
	e, st, reg, notif := newEngine(t)
	ctx := context.Background()

	// Online in the store but without a live socket.
	seedDevice(t, st, &store.Device{DeviceID: "dev-ghost", Hostname: "ghost", CPUPercent: 99, LastSeen: time.Now().UTC()})
	// Socket present but the row says offline.
	seedDevice(t, st, &store.Device{DeviceID: "dev-down", Hostname: "down", Status: "offline", CPUPercent: 99, LastSeen: time.Now().UTC()})
	reg.connected["dev-down"] = true

	seedRule(t, st, &store.AlertRule{ID: "r-1", Name: "hot cpu", Metric: "cpu", Operator: "gt", Threshold: 90, Action: "email"})

	e.Sweep(ctx)
	if len(notif.alerts) != 0 {
		t.Fatalf("unreachable devices fired alerts: %v", notif.alerts)
	}
}

func TestAlertSweepSkipsMissingBatteryReading(t *testing.T) {
	e, st, reg, notif := newEngine(t)
	ctx := context.Background()

	seedDevice(t, st, &store.Device{DeviceID: "dev-1", Hostname: "box", LastSeen: time.Now().UTC()})
	reg.connected["dev-1"] = true
	seedRule(t, st, &store.AlertRule{ID: "r-1", Name: "battery low", Metric: "battery", Operator: "lt", Threshold: 20, Action: "email"})

	e.Sweep(ctx)
	if len(notif.alerts) != 0 {
		t.Fatalf("rule fired without a battery reading: %v", notif.alerts)
	}
}

func TestAlertSweepLogActionSkipsEmail(t *testing.T) {
	e, st, reg, notif := newEngine(t)
	ctx := context.Background()

	seedDevice(t, st, &store.Device{DeviceID: "dev-1", Hostname: "box", RAMPercent: 99, LastSeen: time.Now().UTC()})
	reg.connected["dev-1"] = true
	seedRule(t, st, &store.AlertRule{ID: "r-1", Name: "ram pressure", Metric: "ram", Operator: "gt", Threshold: 90})

	e.Sweep(ctx)

	if len(notif.alerts) != 0 {
		t.Fatalf("log-action rule sent email: %v", notif.alerts)
	}
	entries, err := st.ListLogs(ctx, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("log entries = %v (err %v)", entries, err)
	}
}
