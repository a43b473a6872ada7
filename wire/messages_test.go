package wire

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelopeNilPayload(t *testing.T) {
	env, err := NewEnvelope(TypePing, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Data != nil {
		t.Fatalf("nil payload produced data %q", env.Data)
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"type":"ping"}` {
		t.Fatalf("frame = %s, want the bare type tag", raw)
	}
}

func TestDecodeDataEmptyIsNoop(t *testing.T) {
	var out RunTask
	out.TaskID = "left-alone"

	env := Envelope{Type: TypeRunTask}
	if err := env.DecodeData(&out); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if out.TaskID != "left-alone" {
		t.Fatal("empty data overwrote the target")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeRunTask, RunTask{TaskID: "t-1", ScriptType: "bash", ScriptBody: "uptime"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.DeviceID = "dev-1"

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Envelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var run RunTask
	if err := back.DecodeData(&run); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if back.Type != TypeRunTask || back.DeviceID != "dev-1" || run.ScriptBody != "uptime" {
		t.Fatalf("round trip lost fields: %+v %+v", back, run)
	}
}

func TestCheckinRequestFlattensHeartbeat(t *testing.T) {
	// Agent and server exchange one flat object; the embedded heartbeat
	// must not nest.
	req := CheckinRequest{
		DeviceID: "dev-1",
		Platform: "linux",
		Heartbeat: Heartbeat{
			Hostname:   "box-1",
			CPUPercent: 12.5,
		},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["device_id"] != "dev-1" || flat["hostname"] != "box-1" {
		t.Fatalf("body not flat: %s", raw)
	}
	if _, nested := flat["Heartbeat"]; nested {
		t.Fatalf("heartbeat nested instead of embedded: %s", raw)
	}
	if flat["cpu_percent"] != 12.5 {
		t.Fatalf("cpu_percent = %v, want 12.5", flat["cpu_percent"])
	}
}
