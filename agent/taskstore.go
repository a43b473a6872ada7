package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/itskum47/PulseForge/wire"
)

// TaskStore is the durable local task cache (scheduled_tasks.json). It is
// the serialization point for the runner, the channel receiver and the
// event watcher; every operation takes the single write lock.
type TaskStore struct {
	path   string
	logger hclog.Logger
	mu     sync.Mutex
}

func NewTaskStore(dataDir string, logger hclog.Logger) *TaskStore {
	return &TaskStore{
		path:   filepath.Join(dataDir, "scheduled_tasks.json"),
		logger: logger.Named("taskstore"),
	}
}

// load reads the cache; callers hold mu. A corrupt file is renamed aside
// and treated as empty, never silently overwritten.
func (s *TaskStore) load() []wire.Task {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var tasks []wire.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			s.logger.Error("task cache corrupt and could not be moved aside",
				"error", err, "rename_error", renameErr)
		} else {
			s.logger.Warn("task cache corrupt; moved aside", "file", aside, "error", err)
		}
		return nil
	}
	return tasks
}

// save writes the cache atomically; callers hold mu.
func (s *TaskStore) save(tasks []wire.Task) {
	if tasks == nil {
		tasks = []wire.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Error("task cache write failed", "error", err)
	}
}

// List returns the cached tasks in store order.
func (s *TaskStore) List() []wire.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Upsert replaces the task with the same id or appends it.
func (s *TaskStore) Upsert(task wire.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.load()
	for i := range tasks {
		if tasks[i].TaskID == task.TaskID {
			tasks[i] = task
			s.save(tasks)
			return
		}
	}
	s.save(append(tasks, task))
}

// Remove drops the task with the given id.
func (s *TaskStore) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.load()
	kept := tasks[:0]
	for _, t := range tasks {
		if t.TaskID != taskID {
			kept = append(kept, t)
		}
	}
	s.save(kept)
}

// MarkCancelled flags the task so the runner and event watcher skip it.
func (s *TaskStore) MarkCancelled(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.load()
	for i := range tasks {
		if tasks[i].TaskID == taskID {
			tasks[i].Cancelled = true
		}
	}
	s.save(tasks)
}

// RecordRun stamps last_run; the due predicate uses it to avoid refiring.
func (s *TaskStore) RecordRun(taskID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := s.load()
	for i := range tasks {
		if tasks[i].TaskID == taskID {
			t := at
			tasks[i].LastRun = &t
		}
	}
	s.save(tasks)
}

// ApplySnapshot replaces the cache with the check-in snapshot, preserving
// the agent-mutable fields (last_run, a local cancel) of tasks the server
// still lists. Local copies the server no longer knows are dropped.
func (s *TaskStore) ApplySnapshot(snapshot []wire.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.load()
	byID := make(map[string]wire.Task, len(existing))
	for _, t := range existing {
		byID[t.TaskID] = t
	}

	merged := make([]wire.Task, 0, len(snapshot))
	for _, t := range snapshot {
		if old, ok := byID[t.TaskID]; ok {
			t.LastRun = old.LastRun
			if old.Cancelled {
				t.Cancelled = true
			}
		}
		merged = append(merged, t)
	}
	s.save(merged)
}
