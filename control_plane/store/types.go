package store

import (
	"encoding/json"
	"time"

	"github.com/itskum47/PulseForge/wire"
)

// Device represents a managed endpoint. Rows are created on the first
// successful check-in and never deleted by the control plane.
type Device struct {
	DeviceID        string          `json:"device_id" db:"device_id"`
	Hostname        string          `json:"hostname" db:"hostname"`
	Platform        string          `json:"platform" db:"platform"`
	OSInfo          string          `json:"os_info" db:"os_info"`
	IPAddress       string          `json:"ip_address" db:"ip_address"`
	MACAddress      string          `json:"mac_address" db:"mac_address"`
	AgentVersion    string          `json:"agent_version" db:"agent_version"`
	Status          string          `json:"status" db:"status"` // "online", "offline"
	LastSeen        time.Time       `json:"last_seen" db:"last_seen"`
	CPUPercent      float64         `json:"cpu_percent" db:"cpu_percent"`
	RAMPercent      float64         `json:"ram_percent" db:"ram_percent"`
	DiskPercent     float64         `json:"disk_percent" db:"disk_percent"`
	BatteryLevel    *float64        `json:"battery_level" db:"battery_level"`
	BatteryCharging bool            `json:"battery_charging" db:"battery_charging"`
	GroupName       string          `json:"group_name" db:"group_name"`
	Lockdown        bool            `json:"lockdown" db:"lockdown"`
	DiskDetails     json.RawMessage `json:"disk_details,omitempty" db:"disk_details"`
	HardwareInfo    json.RawMessage `json:"hardware_info,omitempty" db:"hardware_info"`
	SoftwareInfo    json.RawMessage `json:"software_info,omitempty" db:"software_info"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Telemetry is the per-heartbeat slice of a Device row.
type Telemetry struct {
	CPUPercent      float64
	RAMPercent      float64
	DiskPercent     float64
	BatteryLevel    *float64
	BatteryCharging bool
	IPAddress       string
	MACAddress      string
}

// DetailKind selects which device snapshot column SetDeviceDetail writes.
type DetailKind string

const (
	DetailDisk     DetailKind = "disk_details"
	DetailHardware DetailKind = "hardware_info"
	DetailSoftware DetailKind = "software_info"
)

// Task is a script distribution record.
type Task struct {
	TaskID          string     `json:"task_id" db:"task_id"`
	Name            string     `json:"name" db:"name"`
	ScriptType      string     `json:"script_type" db:"script_type"` // powershell, cmd, python, bash, unknown
	ScriptBody      string     `json:"script_body" db:"script_body"`
	TriggerType     string     `json:"trigger_type" db:"trigger_type"` // now, once, interval, cron, event
	ScheduledAt     *time.Time `json:"scheduled_at" db:"scheduled_at"`
	IntervalSeconds int        `json:"interval_seconds" db:"interval_seconds"`
	CronExpression  string     `json:"cron_expression" db:"cron_expression"`
	EventTrigger    string     `json:"event_trigger" db:"event_trigger"`
	TargetType      string     `json:"target_type" db:"target_type"` // all, device, group
	TargetID        string     `json:"target_id" db:"target_id"`
	Status          string     `json:"status" db:"status"` // pending, dispatched, done, cancelled
	Cancelled       bool       `json:"cancelled" db:"cancelled"`
	LastRun         *time.Time `json:"last_run" db:"last_run"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Wire converts the row to its protocol form for the check-in snapshot and
// schedule_task frames.
func (t *Task) Wire() wire.Task {
	return wire.Task{
		TaskID:          t.TaskID,
		Name:            t.Name,
		ScriptType:      t.ScriptType,
		ScriptBody:      t.ScriptBody,
		TriggerType:     t.TriggerType,
		ScheduledAt:     t.ScheduledAt,
		IntervalSeconds: t.IntervalSeconds,
		CronExpression:  t.CronExpression,
		EventTrigger:    t.EventTrigger,
		Cancelled:       t.Cancelled,
	}
}

// TaskResult is one execution outcome reported by an agent.
type TaskResult struct {
	ResultID    string    `json:"result_id" db:"result_id"`
	TaskID      string    `json:"task_id" db:"task_id"`
	DeviceID    string    `json:"device_id" db:"device_id"`
	ExitCode    int       `json:"exit_code" db:"exit_code"`
	Stdout      string    `json:"stdout" db:"stdout"`
	Stderr      string    `json:"stderr" db:"stderr"`
	Status      string    `json:"status" db:"status"` // "success", "failed"
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	CompletedAt time.Time `json:"completed_at" db:"completed_at"`
}

// MetricSample is one heartbeat's telemetry, kept for 30 days.
type MetricSample struct {
	DeviceID   string    `json:"device_id" db:"device_id"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
	CPU        float64   `json:"cpu" db:"cpu"`
	RAM        float64   `json:"ram" db:"ram"`
	Disk       float64   `json:"disk" db:"disk"`
	Battery    *float64  `json:"battery" db:"battery"`
}

// AlertRule is a threshold rule evaluated by the alert engine.
type AlertRule struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Metric          string     `json:"metric" db:"metric"`     // cpu, ram, disk, battery
	Operator        string     `json:"operator" db:"operator"` // gt, lt, eq
	Threshold       float64    `json:"threshold" db:"threshold"`
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	TargetType      string     `json:"target_type" db:"target_type"` // all, device, group
	TargetID        string     `json:"target_id" db:"target_id"`
	Action          string     `json:"action" db:"action"` // email, log
	Active          bool       `json:"active" db:"active"`
	LastFired       *time.Time `json:"last_fired" db:"last_fired"`
}

// Setting is one key of the operator-tunable configuration.
type Setting struct {
	Key      string `json:"key" db:"key"`
	Value    string `json:"value" db:"value"`
	Label    string `json:"label" db:"label"`
	Category string `json:"category" db:"category"`
}

// LogEntry is a server-side operational log line surfaced to operators.
type LogEntry struct {
	ID        int64     `json:"id" db:"id"`
	Level     string    `json:"level" db:"level"` // info, warn, error
	Source    string    `json:"source" db:"source"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
