package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskoracle/internal/oracle/model"
)

// MemoryStore keeps all state in process memory. It backs standalone mode and
// tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]model.Task
	versions map[string]model.TaskVersion
	byTask   map[string][]string
	counters map[string]int
	runs     map[string]model.Run
	latest   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]model.Task),
		versions: make(map[string]model.TaskVersion),
		byTask:   make(map[string][]string),
		counters: make(map[string]int),
		runs:     make(map[string]model.Run),
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; ok {
		return fmt.Errorf("%w: task %s", ErrAlreadyExists, task.TaskID)
	}
	s.tasks[task.TaskID] = *task
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

func (s *MemoryStore) CreateVersion(ctx context.Context, version *model.TaskVersion) error {
	if version == nil || version.VersionID == "" {
		return fmt.Errorf("version id is required")
	}
	stored, err := cloneJSON(*version)
	if err != nil {
		return fmt.Errorf("copy version: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[version.TaskID]
	if !ok {
		return ErrTaskNotFound
	}
	if _, ok := s.versions[version.VersionID]; ok {
		return fmt.Errorf("%w: version %s", ErrAlreadyExists, version.VersionID)
	}
	s.counters[version.TaskID]++
	stored.VersionNumber = s.counters[version.TaskID]
	version.VersionNumber = stored.VersionNumber

	s.versions[version.VersionID] = stored
	s.byTask[version.TaskID] = append(s.byTask[version.TaskID], version.VersionID)
	s.latest = version.VersionID
	task.UpdatedAt = version.CreatedAt
	s.tasks[task.TaskID] = task
	return nil
}

func (s *MemoryStore) GetVersion(ctx context.Context, versionID string) (*model.TaskVersion, error) {
	s.mu.RLock()
	v, ok := s.versions[versionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrVersionNotFound
	}
	out, err := cloneJSON(v)
	if err != nil {
		return nil, fmt.Errorf("copy version: %w", err)
	}
	return &out, nil
}

func (s *MemoryStore) UpdateVersion(ctx context.Context, version *model.TaskVersion) error {
	if version == nil {
		return fmt.Errorf("version is nil")
	}
	stored, err := cloneJSON(*version)
	if err != nil {
		return fmt.Errorf("copy version: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.versions[version.VersionID]
	if !ok {
		return ErrVersionNotFound
	}
	stored.TaskID = current.TaskID
	stored.VersionNumber = current.VersionNumber
	stored.CreatedAt = current.CreatedAt
	s.versions[version.VersionID] = stored
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, taskID string) ([]model.TaskVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrTaskNotFound
	}
	out := make([]model.TaskVersion, 0, len(s.byTask[taskID]))
	for _, id := range s.byTask[taskID] {
		v, err := cloneJSON(s.versions[id])
		if err != nil {
			return nil, fmt.Errorf("copy version: %w", err)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *MemoryStore) LatestVersion(ctx context.Context) (*model.TaskVersion, error) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == "" {
		return nil, ErrVersionNotFound
	}
	return s.GetVersion(ctx, latest)
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	stored, err := cloneJSON(*run)
	if err != nil {
		return fmt.Errorf("copy run: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[run.VersionID]; !ok {
		return ErrVersionNotFound
	}
	if _, ok := s.runs[run.RunID]; ok {
		return fmt.Errorf("%w: run %s", ErrAlreadyExists, run.RunID)
	}
	s.runs[run.RunID] = stored
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}
	out, err := cloneJSON(run)
	if err != nil {
		return nil, fmt.Errorf("copy run: %w", err)
	}
	return &out, nil
}
