// Package repository persists tasks, versions, runs and code snapshots.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"taskoracle/internal/oracle/model"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrVersionNotFound  = errors.New("version not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrAlreadyExists    = errors.New("record already exists")
)

// Store is the durable state of the oracle pipeline. Implementations return
// copies, so callers may mutate results freely.
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, taskID string) (*model.Task, error)

	// CreateVersion assigns the next version number of the owning task
	// atomically and stores the version.
	CreateVersion(ctx context.Context, version *model.TaskVersion) error
	GetVersion(ctx context.Context, versionID string) (*model.TaskVersion, error)
	UpdateVersion(ctx context.Context, version *model.TaskVersion) error
	// ListVersions returns the versions of a task ordered by version number.
	ListVersions(ctx context.Context, taskID string) ([]model.TaskVersion, error)
	// LatestVersion returns the most recently created version of any task.
	LatestVersion(ctx context.Context) (*model.TaskVersion, error)

	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
}

func cloneJSON[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
