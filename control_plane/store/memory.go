package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore holds the full control-plane state in process memory. It
// implements the Store interface and backs tests and single-box dev runs.
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	tasks     map[string]*Task
	taskOrder []string // creation order; the dispatcher tie-break
	results   []*TaskResult
	samples   map[string][]*MetricSample
	rules     map[string]*AlertRule
	ruleOrder []string
	settings  map[string]*Setting
	logs      []*LogEntry
	logSeq    int64
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]*Device),
		tasks:    make(map[string]*Task),
		samples:  make(map[string][]*MetricSample),
		rules:    make(map[string]*AlertRule),
		settings: make(map[string]*Setting),
	}
}

// --- Device operations ---

func (s *MemoryStore) UpsertDevice(ctx context.Context, d *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.devices[d.DeviceID]; ok {
		d.CreatedAt = existing.CreatedAt
		// Detail snapshots arrive on their own messages; an upsert from a
		// check-in must not wipe them.
		if d.DiskDetails == nil {
			d.DiskDetails = existing.DiskDetails
		}
		if d.HardwareInfo == nil {
			d.HardwareInfo = existing.HardwareInfo
		}
		if d.SoftwareInfo == nil {
			d.SoftwareInfo = existing.SoftwareInfo
		}
		if d.GroupName == "" {
			d.GroupName = existing.GroupName
		}
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	cp := *d
	s.devices[d.DeviceID] = &cp
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context) ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Hostname < result[j].Hostname })
	return result, nil
}

func (s *MemoryStore) UpdateDeviceTelemetry(ctx context.Context, deviceID string, tel Telemetry, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	d.Status = "online"
	d.LastSeen = seenAt
	d.CPUPercent = tel.CPUPercent
	d.RAMPercent = tel.RAMPercent
	d.DiskPercent = tel.DiskPercent
	d.BatteryLevel = tel.BatteryLevel
	d.BatteryCharging = tel.BatteryCharging
	if tel.IPAddress != "" {
		d.IPAddress = tel.IPAddress
	}
	if tel.MACAddress != "" {
		d.MACAddress = tel.MACAddress
	}
	return nil
}

func (s *MemoryStore) SetDeviceStatus(ctx context.Context, deviceID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	d.Status = status
	return nil
}

func (s *MemoryStore) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	d.Status = "online"
	d.LastSeen = seenAt
	return nil
}

func (s *MemoryStore) SetDeviceDetail(ctx context.Context, deviceID string, kind DetailKind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return errors.New("device not found")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	switch kind {
	case DetailDisk:
		d.DiskDetails = cp
	case DetailHardware:
		d.HardwareInfo = cp
	case DetailSoftware:
		d.SoftwareInfo = cp
	default:
		return errors.New("unknown detail kind")
	}
	return nil
}

func (s *MemoryStore) ListSilentDevices(ctx context.Context, cutoff time.Time) ([]*Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Device
	for _, d := range s.devices {
		if d.Status == "online" && d.LastSeen.Before(cutoff) {
			cp := *d
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) CountDevicesByStatus(ctx context.Context, status string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, d := range s.devices {
		if d.Status == status {
			count++
		}
	}
	return count, nil
}

// --- Task operations ---

func (s *MemoryStore) CreateTask(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.tasks[t.TaskID]; !ok {
		s.taskOrder = append(s.taskOrder, t.TaskID)
	}
	cp := *t
	s.tasks[t.TaskID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, limit int) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0, len(s.taskOrder))
	for i := len(s.taskOrder) - 1; i >= 0; i-- {
		t := s.tasks[s.taskOrder[i]]
		cp := *t
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPendingTasks(ctx context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.Status == "pending" && !t.Cancelled {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListAgentTasks(ctx context.Context) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.Status != "pending" || t.Cancelled {
			continue
		}
		switch t.TriggerType {
		case "once", "interval", "cron", "event":
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkTaskDispatched(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return false, errors.New("task not found")
	}
	if t.Status != "pending" || t.Cancelled {
		return false, nil
	}
	t.Status = "dispatched"
	return true, nil
}

func (s *MemoryStore) MarkTaskDone(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return errors.New("task not found")
	}
	t.Status = "done"
	now := time.Now().UTC()
	t.LastRun = &now
	return nil
}

func (s *MemoryStore) CancelTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return errors.New("task not found")
	}
	t.Cancelled = true
	t.Status = "cancelled"
	return nil
}

func (s *MemoryStore) CountTasksByStatus(ctx context.Context, status string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.tasks {
		if t.Status == status {
			count++
		}
	}
	return count, nil
}

// --- Task result operations ---

func (s *MemoryStore) SaveTaskResult(ctx context.Context, r *TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.results = append(s.results, &cp)
	return nil
}

func (s *MemoryStore) ListTaskResults(ctx context.Context, taskID string, limit int) ([]*TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*TaskResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if taskID != "" && s.results[i].TaskID != taskID {
			continue
		}
		cp := *s.results[i]
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// --- Metric operations ---

func (s *MemoryStore) InsertMetricSample(ctx context.Context, sample *MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-MetricRetention)
	kept := s.samples[sample.DeviceID][:0]
	for _, old := range s.samples[sample.DeviceID] {
		if !old.RecordedAt.Before(cutoff) {
			kept = append(kept, old)
		}
	}
	cp := *sample
	s.samples[sample.DeviceID] = append(kept, &cp)
	return nil
}

func (s *MemoryStore) ListMetricSamples(ctx context.Context, deviceID string, since time.Time) ([]*MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*MetricSample
	for _, m := range s.samples[deviceID] {
		if m.RecordedAt.Before(since) {
			continue
		}
		cp := *m
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.Before(result[j].RecordedAt) })
	return result, nil
}

func (s *MemoryStore) PruneMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, list := range s.samples {
		kept := list[:0]
		for _, m := range list {
			if m.RecordedAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, m)
		}
		s.samples[id] = kept
	}
	return pruned, nil
}

// --- Alert rule operations ---

func (s *MemoryStore) CreateAlertRule(ctx context.Context, r *AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[r.ID]; !ok {
		s.ruleOrder = append(s.ruleOrder, r.ID)
	}
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListAlertRules(ctx context.Context, activeOnly bool) ([]*AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*AlertRule
	for _, id := range s.ruleOrder {
		r := s.rules[id]
		if activeOnly && !r.Active {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) UpdateAlertRule(ctx context.Context, r *AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[r.ID]; !ok {
		return errors.New("alert rule not found")
	}
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAlertRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return errors.New("alert rule not found")
	}
	delete(s.rules, id)
	for i, rid := range s.ruleOrder {
		if rid == id {
			s.ruleOrder = append(s.ruleOrder[:i], s.ruleOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) TouchAlertRuleFired(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return errors.New("alert rule not found")
	}
	t := at
	r.LastFired = &t
	return nil
}

// --- Setting operations ---

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[key]
	if !ok {
		return "", nil
	}
	return st.Value, nil
}

func (s *MemoryStore) PutSetting(ctx context.Context, st *Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.settings[st.Key]; ok {
		if st.Label == "" {
			st.Label = existing.Label
		}
		if st.Category == "" {
			st.Category = existing.Category
		}
	}
	cp := *st
	s.settings[st.Key] = &cp
	return nil
}

func (s *MemoryStore) ListSettings(ctx context.Context) ([]*Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Setting, 0, len(s.settings))
	for _, st := range s.settings {
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *MemoryStore) SeedDefaultSettings(ctx context.Context, defaults []Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range defaults {
		if _, ok := s.settings[d.Key]; ok {
			continue
		}
		cp := d
		s.settings[d.Key] = &cp
	}
	return nil
}

// --- Log operations ---

func (s *MemoryStore) AppendLog(ctx context.Context, e *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logSeq++
	cp := *e
	cp.ID = s.logSeq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *MemoryStore) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		cp := *s.logs[i]
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) PruneLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var pruned int64
	for _, e := range s.logs {
		if e.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	s.logs = kept
	return pruned, nil
}
