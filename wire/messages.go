// Package wire defines the framed JSON protocol spoken on the agent and
// dashboard channels. Every frame is an Envelope: a required type tag and an
// optional data object. Unknown types must be logged and dropped by the
// receiver, never treated as a protocol error.
package wire

import (
	"encoding/json"
	"time"
)

// Server → agent message types.
const (
	TypeRunTask         = "run_task"
	TypeScheduleTask    = "schedule_task"
	TypeCancelTask      = "cancel_task"
	TypeUpdatePolicy    = "update_policy"
	TypeDiskScanRequest = "disk_scan_request"
	TypeGetProcesses    = "get_processes"
	TypeKillProcess     = "kill_process"
	TypeQuickAction     = "quick_action"
	TypeSoftwareScan    = "software_scan"
	TypeHWScanRequest   = "hw_scan_request"
	TypePing            = "ping"
)

// Agent → server message types.
const (
	TypeHeartbeat      = "heartbeat"
	TypeTaskResult     = "task_result"
	TypeTaskOutput     = "task_output"
	TypeDiskScan       = "disk_scan"
	TypeHWReport       = "hw_report"
	TypeSoftwareReport = "software_report"
	TypeProcessList    = "process_list"
	TypeLog            = "log"
)

// Server → dashboard message types (agent types task_output, task_result and
// process_list are forwarded verbatim).
const (
	TypeDeviceUpdate  = "device_update"
	TypeDeviceOffline = "device_offline"
	TypeTaskCancelled = "task_cancelled"
)

// Envelope is the unit framed on every channel.
type Envelope struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a typed envelope. A nil payload produces
// an envelope with no data object.
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: msgType}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Task is the protocol-level task record: the schedule_task payload, the
// items of the check-in snapshot, and the persisted form in the agent's
// local cache. cancelled and last_run are agent-mutable.
type Task struct {
	TaskID          string     `json:"task_id"`
	Name            string     `json:"name"`
	ScriptType      string     `json:"script_type"` // powershell, cmd, python, bash, unknown
	ScriptBody      string     `json:"script_body"`
	TriggerType     string     `json:"trigger_type"` // now, once, interval, cron, event
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	IntervalSeconds int        `json:"interval_seconds,omitempty"`
	CronExpression  string     `json:"cron_expression,omitempty"`
	EventTrigger    string     `json:"event_trigger,omitempty"` // network_change
	Cancelled       bool       `json:"cancelled"`
	LastRun         *time.Time `json:"last_run,omitempty"`
}

// RunTask is the dispatch payload. Recurring fields are omitted: a run_task
// frame always means "execute now".
type RunTask struct {
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	ScriptType  string `json:"script_type"`
	ScriptBody  string `json:"script_body"`
	TriggerType string `json:"trigger_type,omitempty"`
}

type CancelTask struct {
	TaskID string `json:"task_id"`
}

// Policy is the check-in pacing table. Zero values mean "keep current" when
// merged from an update_policy frame.
type Policy struct {
	CheckinPluggedSeconds      int `json:"checkin_plugged_seconds"`
	CheckinBattery10080Seconds int `json:"checkin_battery_100_80_seconds"`
	CheckinBattery7950Seconds  int `json:"checkin_battery_79_50_seconds"`
	CheckinBattery4920Seconds  int `json:"checkin_battery_49_20_seconds"`
	CheckinBattery1910Seconds  int `json:"checkin_battery_19_10_seconds"`
	CheckinBattery90Seconds    int `json:"checkin_battery_9_0_seconds"`
	DiskScanIntervalHours      int `json:"disk_scan_interval_hours"`
}

// DefaultPolicy returns the shipped pacing table.
func DefaultPolicy() Policy {
	return Policy{
		CheckinPluggedSeconds:      30,
		CheckinBattery10080Seconds: 60,
		CheckinBattery7950Seconds:  180,
		CheckinBattery4920Seconds:  300,
		CheckinBattery1910Seconds:  600,
		CheckinBattery90Seconds:    900,
		DiskScanIntervalHours:      168,
	}
}

// Heartbeat is the telemetry snapshot sent at the pacing cadence and in the
// check-in body.
type Heartbeat struct {
	Hostname        string   `json:"hostname"`
	IPAddress       string   `json:"ip_address"`
	OSInfo          string   `json:"os_info"`
	AgentVersion    string   `json:"agent_version"`
	BatteryLevel    *float64 `json:"battery_level"`
	BatteryCharging bool     `json:"battery_charging"`
	CPUPercent      float64  `json:"cpu_percent"`
	RAMPercent      float64  `json:"ram_percent"`
	DiskPercent     float64  `json:"disk_percent"`
	MAC             string   `json:"mac,omitempty"`
}

type TaskResult struct {
	TaskID    string    `json:"task_id"`
	ExitCode  int       `json:"exit_code"`
	Stdout    string    `json:"stdout"`
	Stderr    string    `json:"stderr"`
	StartedAt time.Time `json:"started_at"`
}

type TaskOutput struct {
	TaskID   string `json:"task_id"`
	Output   string `json:"output"`
	Progress int    `json:"progress"`
}

type DiskScan struct {
	Details []DiskDetail `json:"details"`
}

type DiskDetail struct {
	Mount       string  `json:"mount"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

type SoftwareReport struct {
	Apps []SoftwareApp `json:"apps"`
}

type SoftwareApp struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Publisher   string `json:"publisher"`
	InstallDate string `json:"install_date"`
}

type ProcessInfo struct {
	PID   int32   `json:"pid"`
	Name  string  `json:"name"`
	CPU   float64 `json:"cpu"`
	MemMB float64 `json:"mem_mb"`
	Path  string  `json:"path"`
}

type KillProcess struct {
	PID  int32  `json:"pid"`
	Name string `json:"name,omitempty"`
}

// QuickAction names one of the supported host actions: shutdown, restart,
// lock, sleep.
type QuickAction struct {
	Action string `json:"action"`
}

type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// CheckinRequest is the POST /api/agent/checkin body.
type CheckinRequest struct {
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
	Heartbeat
}

// CheckinResponse carries everything the agent needs to run offline until
// the channel opens: the channel URL, the pacing policy, and a snapshot of
// pending recurring tasks. now-triggered tasks never appear here.
type CheckinResponse struct {
	Status         string `json:"status"`
	WSURL          string `json:"ws_url"`
	ScheduledTasks []Task `json:"scheduled_tasks"`
	Policy         Policy `json:"policy"`
}

// TaskProbeResponse answers the pre-run cancellation probe.
type TaskProbeResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
	Status    string `json:"status"`
}
