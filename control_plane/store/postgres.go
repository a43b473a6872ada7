package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a PostgresStore with a tuned connection pool
// and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// InitSchema creates the control-plane tables when they do not exist yet.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id        TEXT PRIMARY KEY,
			hostname         TEXT NOT NULL DEFAULT '',
			platform         TEXT NOT NULL DEFAULT '',
			os_info          TEXT NOT NULL DEFAULT '',
			ip_address       TEXT NOT NULL DEFAULT '',
			mac_address      TEXT NOT NULL DEFAULT '',
			agent_version    TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'offline',
			last_seen        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cpu_percent      DOUBLE PRECISION NOT NULL DEFAULT 0,
			ram_percent      DOUBLE PRECISION NOT NULL DEFAULT 0,
			disk_percent     DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery_level    DOUBLE PRECISION,
			battery_charging BOOLEAN NOT NULL DEFAULT FALSE,
			group_name       TEXT NOT NULL DEFAULT '',
			lockdown         BOOLEAN NOT NULL DEFAULT FALSE,
			disk_details     JSONB,
			hardware_info    JSONB,
			software_info    JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id          TEXT PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			script_type      TEXT NOT NULL DEFAULT 'powershell',
			script_body      TEXT NOT NULL DEFAULT '',
			trigger_type     TEXT NOT NULL DEFAULT 'now',
			scheduled_at     TIMESTAMPTZ,
			interval_seconds INTEGER NOT NULL DEFAULT 0,
			cron_expression  TEXT NOT NULL DEFAULT '',
			event_trigger    TEXT NOT NULL DEFAULT '',
			target_type      TEXT NOT NULL DEFAULT 'all',
			target_id        TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'pending',
			cancelled        BOOLEAN NOT NULL DEFAULT FALSE,
			last_run         TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS task_results (
			result_id    TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			device_id    TEXT NOT NULL,
			exit_code    INTEGER NOT NULL DEFAULT 0,
			stdout       TEXT NOT NULL DEFAULT '',
			stderr       TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'success',
			started_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_task ON task_results (task_id, completed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS metric_samples (
			device_id   TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			cpu         DOUBLE PRECISION NOT NULL DEFAULT 0,
			ram         DOUBLE PRECISION NOT NULL DEFAULT 0,
			disk        DOUBLE PRECISION NOT NULL DEFAULT 0,
			battery     DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_device ON metric_samples (device_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL DEFAULT '',
			metric           TEXT NOT NULL DEFAULT 'cpu',
			operator         TEXT NOT NULL DEFAULT 'gt',
			threshold        DOUBLE PRECISION NOT NULL DEFAULT 0,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			target_type      TEXT NOT NULL DEFAULT 'all',
			target_id        TEXT NOT NULL DEFAULT '',
			action           TEXT NOT NULL DEFAULT 'log',
			active           BOOLEAN NOT NULL DEFAULT TRUE,
			last_fired       TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key      TEXT PRIMARY KEY,
			value    TEXT NOT NULL DEFAULT '',
			label    TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id         BIGSERIAL PRIMARY KEY,
			level      TEXT NOT NULL DEFAULT 'info',
			source     TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// --- Device operations ---

func (s *PostgresStore) UpsertDevice(ctx context.Context, d *Device) error {
	query := `
		INSERT INTO devices (device_id, hostname, platform, os_info, ip_address, mac_address,
			agent_version, status, last_seen, cpu_percent, ram_percent, disk_percent,
			battery_level, battery_charging, group_name, lockdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW())
		ON CONFLICT (device_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			platform = EXCLUDED.platform,
			os_info = EXCLUDED.os_info,
			ip_address = EXCLUDED.ip_address,
			mac_address = CASE WHEN EXCLUDED.mac_address = '' THEN devices.mac_address ELSE EXCLUDED.mac_address END,
			agent_version = EXCLUDED.agent_version,
			status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen,
			cpu_percent = EXCLUDED.cpu_percent,
			ram_percent = EXCLUDED.ram_percent,
			disk_percent = EXCLUDED.disk_percent,
			battery_level = EXCLUDED.battery_level,
			battery_charging = EXCLUDED.battery_charging,
			group_name = CASE WHEN EXCLUDED.group_name = '' THEN devices.group_name ELSE EXCLUDED.group_name END
	`
	_, err := s.pool.Exec(ctx, query,
		d.DeviceID, d.Hostname, d.Platform, d.OSInfo, d.IPAddress, d.MACAddress,
		d.AgentVersion, d.Status, d.LastSeen, d.CPUPercent, d.RAMPercent, d.DiskPercent,
		d.BatteryLevel, d.BatteryCharging, d.GroupName, d.Lockdown,
	)
	return err
}

const deviceColumns = `device_id, hostname, platform, os_info, ip_address, mac_address,
	agent_version, status, last_seen, cpu_percent, ram_percent, disk_percent,
	battery_level, battery_charging, group_name, lockdown, disk_details, hardware_info,
	software_info, created_at`

func scanDevice(row pgx.Row) (*Device, error) {
	var d Device
	err := row.Scan(
		&d.DeviceID, &d.Hostname, &d.Platform, &d.OSInfo, &d.IPAddress, &d.MACAddress,
		&d.AgentVersion, &d.Status, &d.LastSeen, &d.CPUPercent, &d.RAMPercent, &d.DiskPercent,
		&d.BatteryLevel, &d.BatteryCharging, &d.GroupName, &d.Lockdown, &d.DiskDetails,
		&d.HardwareInfo, &d.SoftwareInfo, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`
	d, err := scanDevice(s.pool.QueryRow(ctx, query, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) ListDevices(ctx context.Context) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY hostname`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) UpdateDeviceTelemetry(ctx context.Context, deviceID string, tel Telemetry, seenAt time.Time) error {
	query := `
		UPDATE devices SET
			status = 'online', last_seen = $2,
			cpu_percent = $3, ram_percent = $4, disk_percent = $5,
			battery_level = $6, battery_charging = $7,
			ip_address = CASE WHEN $8 = '' THEN ip_address ELSE $8 END,
			mac_address = CASE WHEN $9 = '' THEN mac_address ELSE $9 END
		WHERE device_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, deviceID, seenAt,
		tel.CPUPercent, tel.RAMPercent, tel.DiskPercent,
		tel.BatteryLevel, tel.BatteryCharging, tel.IPAddress, tel.MACAddress,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}

func (s *PostgresStore) SetDeviceStatus(ctx context.Context, deviceID string, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE devices SET status = $2 WHERE device_id = $1`, deviceID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}

func (s *PostgresStore) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE devices SET status = 'online', last_seen = $2 WHERE device_id = $1`,
		deviceID, seenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}

func (s *PostgresStore) SetDeviceDetail(ctx context.Context, deviceID string, kind DetailKind, data []byte) error {
	var query string
	switch kind {
	case DetailDisk:
		query = `UPDATE devices SET disk_details = $2 WHERE device_id = $1`
	case DetailHardware:
		query = `UPDATE devices SET hardware_info = $2 WHERE device_id = $1`
	case DetailSoftware:
		query = `UPDATE devices SET software_info = $2 WHERE device_id = $1`
	default:
		return errors.New("unknown detail kind")
	}
	tag, err := s.pool.Exec(ctx, query, deviceID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device not found")
	}
	return nil
}

func (s *PostgresStore) ListSilentDevices(ctx context.Context, cutoff time.Time) ([]*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE status = 'online' AND last_seen < $1`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *PostgresStore) CountDevicesByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE status = $1`, status).Scan(&count)
	return count, err
}

// --- Task operations ---

const taskColumns = `task_id, name, script_type, script_body, trigger_type, scheduled_at,
	interval_seconds, cron_expression, event_trigger, target_type, target_id, status,
	cancelled, last_run, created_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.TaskID, &t.Name, &t.ScriptType, &t.ScriptBody, &t.TriggerType, &t.ScheduledAt,
		&t.IntervalSeconds, &t.CronExpression, &t.EventTrigger, &t.TargetType, &t.TargetID,
		&t.Status, &t.Cancelled, &t.LastRun, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO tasks (task_id, name, script_type, script_body, trigger_type, scheduled_at,
			interval_seconds, cron_expression, event_trigger, target_type, target_id, status,
			cancelled, last_run, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		t.TaskID, t.Name, t.ScriptType, t.ScriptBody, t.TriggerType, t.ScheduledAt,
		t.IntervalSeconds, t.CronExpression, t.EventTrigger, t.TargetType, t.TargetID,
		t.Status, t.Cancelled, t.LastRun, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1`
	t, err := scanTask(s.pool.QueryRow(ctx, query, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PostgresStore) listTasks(ctx context.Context, query string, args ...interface{}) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.listTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) ListPendingTasks(ctx context.Context) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND cancelled = FALSE ORDER BY created_at`
	return s.listTasks(ctx, query)
}

func (s *PostgresStore) ListAgentTasks(ctx context.Context) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND cancelled = FALSE
		AND trigger_type IN ('once', 'interval', 'cron', 'event')
		ORDER BY created_at`
	return s.listTasks(ctx, query)
}

func (s *PostgresStore) MarkTaskDispatched(ctx context.Context, taskID string) (bool, error) {
	query := `UPDATE tasks SET status = 'dispatched'
		WHERE task_id = $1 AND status = 'pending' AND cancelled = FALSE`
	tag, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish a lost flip from an unknown id.
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, errors.New("task not found")
	}
	return false, nil
}

func (s *PostgresStore) MarkTaskDone(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'done', last_run = NOW() WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("task not found")
	}
	return nil
}

func (s *PostgresStore) CancelTask(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET cancelled = TRUE, status = 'cancelled' WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("task not found")
	}
	return nil
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context, status string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`, status).Scan(&count)
	return count, err
}

// --- Task result operations ---

func (s *PostgresStore) SaveTaskResult(ctx context.Context, r *TaskResult) error {
	query := `
		INSERT INTO task_results (result_id, task_id, device_id, exit_code, stdout, stderr,
			status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ResultID, r.TaskID, r.DeviceID, r.ExitCode, r.Stdout, r.Stderr,
		r.Status, r.StartedAt, r.CompletedAt,
	)
	return err
}

func (s *PostgresStore) ListTaskResults(ctx context.Context, taskID string, limit int) ([]*TaskResult, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT result_id, task_id, device_id, exit_code, stdout, stderr, status, started_at, completed_at
		FROM task_results WHERE ($1 = '' OR task_id = $1) ORDER BY completed_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*TaskResult
	for rows.Next() {
		var r TaskResult
		if err := rows.Scan(
			&r.ResultID, &r.TaskID, &r.DeviceID, &r.ExitCode, &r.Stdout, &r.Stderr,
			&r.Status, &r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// --- Metric operations ---

func (s *PostgresStore) InsertMetricSample(ctx context.Context, m *MetricSample) error {
	cutoff := time.Now().UTC().Add(-MetricRetention)
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM metric_samples WHERE device_id = $1 AND recorded_at < $2`,
		m.DeviceID, cutoff,
	); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metric_samples (device_id, recorded_at, cpu, ram, disk, battery)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.DeviceID, m.RecordedAt, m.CPU, m.RAM, m.Disk, m.Battery,
	)
	return err
}

func (s *PostgresStore) ListMetricSamples(ctx context.Context, deviceID string, since time.Time) ([]*MetricSample, error) {
	query := `
		SELECT device_id, recorded_at, cpu, ram, disk, battery
		FROM metric_samples WHERE device_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at
	`
	rows, err := s.pool.Query(ctx, query, deviceID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*MetricSample
	for rows.Next() {
		var m MetricSample
		if err := rows.Scan(&m.DeviceID, &m.RecordedAt, &m.CPU, &m.RAM, &m.Disk, &m.Battery); err != nil {
			return nil, err
		}
		samples = append(samples, &m)
	}
	return samples, rows.Err()
}

func (s *PostgresStore) PruneMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM metric_samples WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Alert rule operations ---

const ruleColumns = `id, name, metric, operator, threshold, duration_minutes, target_type,
	target_id, action, active, last_fired`

func scanAlertRule(row pgx.Row) (*AlertRule, error) {
	var r AlertRule
	err := row.Scan(
		&r.ID, &r.Name, &r.Metric, &r.Operator, &r.Threshold, &r.DurationMinutes,
		&r.TargetType, &r.TargetID, &r.Action, &r.Active, &r.LastFired,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateAlertRule(ctx context.Context, r *AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, name, metric, operator, threshold, duration_minutes,
			target_type, target_id, action, active, last_fired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Name, r.Metric, r.Operator, r.Threshold, r.DurationMinutes,
		r.TargetType, r.TargetID, r.Action, r.Active, r.LastFired,
	)
	return err
}

func (s *PostgresStore) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	r, err := scanAlertRule(s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) ListAlertRules(ctx context.Context, activeOnly bool) ([]*AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY name`
	if activeOnly {
		query = `SELECT ` + ruleColumns + ` FROM alert_rules WHERE active = TRUE ORDER BY name`
	}
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) UpdateAlertRule(ctx context.Context, r *AlertRule) error {
	query := `
		UPDATE alert_rules SET name = $2, metric = $3, operator = $4, threshold = $5,
			duration_minutes = $6, target_type = $7, target_id = $8, action = $9, active = $10
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		r.ID, r.Name, r.Metric, r.Operator, r.Threshold, r.DurationMinutes,
		r.TargetType, r.TargetID, r.Action, r.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("alert rule not found")
	}
	return nil
}

func (s *PostgresStore) DeleteAlertRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("alert rule not found")
	}
	return nil
}

func (s *PostgresStore) TouchAlertRuleFired(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alert_rules SET last_fired = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("alert rule not found")
	}
	return nil
}

// --- Setting operations ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, st *Setting) error {
	query := `
		INSERT INTO settings (key, value, label, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			label = CASE WHEN EXCLUDED.label = '' THEN settings.label ELSE EXCLUDED.label END,
			category = CASE WHEN EXCLUDED.category = '' THEN settings.category ELSE EXCLUDED.category END
	`
	_, err := s.pool.Exec(ctx, query, st.Key, st.Value, st.Label, st.Category)
	return err
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, label, category FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Label, &st.Category); err != nil {
			return nil, err
		}
		settings = append(settings, &st)
	}
	return settings, rows.Err()
}

func (s *PostgresStore) SeedDefaultSettings(ctx context.Context, defaults []Setting) error {
	for _, d := range defaults {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO settings (key, value, label, category) VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO NOTHING`,
			d.Key, d.Value, d.Label, d.Category,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- Log operations ---

func (s *PostgresStore) AppendLog(ctx context.Context, e *LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO log_entries (level, source, message, created_at) VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, query, e.Level, e.Source, e.Message, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, level, source, message, created_at FROM log_entries ORDER BY id DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Level, &e.Source, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM log_entries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
