package store

import (
	"context"
	"strconv"
	"time"
)

// Store defines the methods required of a persistence backend. It abstracts
// over Postgres (production) and an in-memory implementation (tests,
// single-box dev). Lookups that find nothing return (nil, nil).
type Store interface {
	// Device operations
	UpsertDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, deviceID string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)
	// UpdateDeviceTelemetry applies one heartbeat: telemetry columns plus
	// status=online and last_seen=seenAt.
	UpdateDeviceTelemetry(ctx context.Context, deviceID string, tel Telemetry, seenAt time.Time) error
	SetDeviceStatus(ctx context.Context, deviceID string, status string) error
	// TouchDevice marks a device online and refreshes last_seen without
	// touching telemetry.
	TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error
	SetDeviceDetail(ctx context.Context, deviceID string, kind DetailKind, data []byte) error
	// ListSilentDevices returns devices still marked online whose last_seen
	// predates cutoff. The offline detector's working set.
	ListSilentDevices(ctx context.Context, cutoff time.Time) ([]*Device, error)
	CountDevicesByStatus(ctx context.Context, status string) (int, error)

	// Task operations
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
	// ListPendingTasks returns status=pending AND cancelled=false in
	// creation order (the dispatcher's tie-break order).
	ListPendingTasks(ctx context.Context) ([]*Task, error)
	// ListAgentTasks is the check-in snapshot: pending, not cancelled, and
	// trigger_type in {once, interval, cron, event}. now-tasks are excluded
	// deliberately; they travel over the channel only.
	ListAgentTasks(ctx context.Context) ([]*Task, error)
	// MarkTaskDispatched flips pending→dispatched atomically and reports
	// whether this caller won the flip. The dispatch commit point.
	MarkTaskDispatched(ctx context.Context, taskID string) (bool, error)
	MarkTaskDone(ctx context.Context, taskID string) error
	CancelTask(ctx context.Context, taskID string) error
	CountTasksByStatus(ctx context.Context, status string) (int, error)

	// Task result operations. An empty taskID lists the most recent results
	// across all tasks.
	SaveTaskResult(ctx context.Context, r *TaskResult) error
	ListTaskResults(ctx context.Context, taskID string, limit int) ([]*TaskResult, error)

	// Metric operations. InsertMetricSample opportunistically prunes samples
	// older than 30 days for the sample's device.
	InsertMetricSample(ctx context.Context, s *MetricSample) error
	ListMetricSamples(ctx context.Context, deviceID string, since time.Time) ([]*MetricSample, error)
	PruneMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Alert rule operations
	CreateAlertRule(ctx context.Context, r *AlertRule) error
	GetAlertRule(ctx context.Context, id string) (*AlertRule, error)
	ListAlertRules(ctx context.Context, activeOnly bool) ([]*AlertRule, error)
	UpdateAlertRule(ctx context.Context, r *AlertRule) error
	DeleteAlertRule(ctx context.Context, id string) error
	// TouchAlertRuleFired stamps last_fired; the engine's hourly throttle
	// commit point.
	TouchAlertRuleFired(ctx context.Context, id string, at time.Time) error

	// Setting operations. GetSetting returns "" with no error when the key
	// is absent.
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, s *Setting) error
	ListSettings(ctx context.Context) ([]*Setting, error)
	// SeedDefaultSettings inserts any default whose key is absent; existing
	// values are never overwritten.
	SeedDefaultSettings(ctx context.Context, defaults []Setting) error

	// Log operations
	AppendLog(ctx context.Context, e *LogEntry) error
	ListLogs(ctx context.Context, limit int) ([]*LogEntry, error)
	PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingOr reads key through s, falling back to def when the key is unset
// or the read fails.
func SettingOr(ctx context.Context, s Store, key, def string) string {
	v, err := s.GetSetting(ctx, key)
	if err != nil || v == "" {
		return def
	}
	return v
}

// SettingInt reads an integer setting, falling back to def when the key is
// unset, unreadable, or not a positive number.
func SettingInt(ctx context.Context, s Store, key string, def int) int {
	raw := SettingOr(ctx, s, key, strconv.Itoa(def))
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// MetricRetention is how long heartbeat samples are kept.
const MetricRetention = 30 * 24 * time.Hour
