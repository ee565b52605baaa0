package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskoracle/internal/common/db"
	"taskoracle/internal/oracle/model"
)

// Schema creates the oracle tables. The version counter lives on the task
// row so numbering can be serialized with a row lock.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS oracle_task (
		task_id VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id VARCHAR(128) NOT NULL DEFAULT '',
		version_counter INT NOT NULL DEFAULT 0,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oracle_task_version (
		version_id VARCHAR(64) NOT NULL PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		version_number INT NOT NULL,
		status VARCHAR(32) NOT NULL,
		spec JSON NULL,
		ambiguities JSON NOT NULL,
		confirmations JSON NOT NULL,
		public_examples JSON NOT NULL,
		hidden_tests JSON NOT NULL,
		oracle_confidence DOUBLE NOT NULL,
		conflict_report JSON NOT NULL,
		seed BIGINT NOT NULL,
		bundle_hash VARCHAR(64) NOT NULL DEFAULT '',
		trace JSON NOT NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY uk_task_version (task_id, version_number),
		KEY idx_created_at (created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS oracle_run (
		run_id VARCHAR(64) NOT NULL PRIMARY KEY,
		version_id VARCHAR(64) NOT NULL,
		pass_rate DOUBLE NOT NULL,
		passed INT NOT NULL,
		failed INT NOT NULL,
		payload JSON NOT NULL,
		created_at DATETIME(3) NOT NULL,
		KEY idx_version (version_id)
	)`,
}

const versionColumns = `version_id, task_id, version_number, status, spec, ambiguities, confirmations,
	public_examples, hidden_tests, oracle_confidence, conflict_report, seed, bundle_hash, trace,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// MySQLStore persists oracle state in MySQL. Structured fields are stored as
// JSON columns.
type MySQLStore struct {
	db db.Database
}

func NewMySQLStore(database db.Database) *MySQLStore {
	return &MySQLStore{db: database}
}

// Migrate applies Schema.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	return db.ApplySchema(ctx, s.db, Schema)
}

func insertError(err error) error {
	if key, ok := db.DuplicateKey(err); ok {
		return fmt.Errorf("%w: duplicate key %s", ErrAlreadyExists, key)
	}
	return err
}

func (s *MySQLStore) CreateTask(ctx context.Context, task *model.Task) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	query := "INSERT INTO oracle_task (task_id, project_id, version_counter, created_at, updated_at) VALUES (?, ?, 0, ?, ?)"
	_, err := s.db.Exec(ctx, query, task.TaskID, task.ProjectID, task.CreatedAt, task.UpdatedAt)
	return insertError(err)
}

func (s *MySQLStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	query := "SELECT task_id, project_id, created_at, updated_at FROM oracle_task WHERE task_id = ?"
	var task model.Task
	err := s.db.QueryRow(ctx, query, taskID).Scan(&task.TaskID, &task.ProjectID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

func (s *MySQLStore) CreateVersion(ctx context.Context, version *model.TaskVersion) error {
	if version == nil || version.VersionID == "" {
		return fmt.Errorf("version id is required")
	}
	cols, err := encodeVersion(version)
	if err != nil {
		return err
	}
	return s.db.Transaction(ctx, func(tx db.Transaction) error {
		var counter int
		err := tx.QueryRow(ctx, "SELECT version_counter FROM oracle_task WHERE task_id = ? FOR UPDATE", version.TaskID).Scan(&counter)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrTaskNotFound
			}
			return err
		}
		next := counter + 1
		if _, err := tx.Exec(ctx, "UPDATE oracle_task SET version_counter = ?, updated_at = ? WHERE task_id = ?", next, version.CreatedAt, version.TaskID); err != nil {
			return err
		}
		query := "INSERT INTO oracle_task_version (" + versionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		_, err = tx.Exec(ctx, query,
			version.VersionID, version.TaskID, next, string(version.Status),
			cols.spec, cols.ambiguities, cols.confirmations, cols.public, cols.hidden,
			version.Confidence, cols.report, version.Seed, version.BundleHash, cols.trace,
			version.CreatedAt, version.UpdatedAt,
		)
		if err != nil {
			return insertError(err)
		}
		version.VersionNumber = next
		return nil
	})
}

func (s *MySQLStore) GetVersion(ctx context.Context, versionID string) (*model.TaskVersion, error) {
	query := "SELECT " + versionColumns + " FROM oracle_task_version WHERE version_id = ?"
	v, err := scanVersion(s.db.QueryRow(ctx, query, versionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *MySQLStore) UpdateVersion(ctx context.Context, version *model.TaskVersion) error {
	if version == nil {
		return fmt.Errorf("version is nil")
	}
	cols, err := encodeVersion(version)
	if err != nil {
		return err
	}
	query := `UPDATE oracle_task_version SET status = ?, spec = ?, ambiguities = ?, confirmations = ?,
		public_examples = ?, hidden_tests = ?, oracle_confidence = ?, conflict_report = ?, seed = ?,
		bundle_hash = ?, trace = ?, updated_at = ? WHERE version_id = ?`
	result, err := s.db.Exec(ctx, query,
		string(version.Status), cols.spec, cols.ambiguities, cols.confirmations, cols.public, cols.hidden,
		version.Confidence, cols.report, version.Seed, version.BundleHash, cols.trace, version.UpdatedAt,
		version.VersionID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.GetVersion(ctx, version.VersionID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) ListVersions(ctx context.Context, taskID string) ([]model.TaskVersion, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	query := "SELECT " + versionColumns + " FROM oracle_task_version WHERE task_id = ? ORDER BY version_number ASC"
	rows, err := s.db.Query(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TaskVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *MySQLStore) LatestVersion(ctx context.Context) (*model.TaskVersion, error) {
	query := "SELECT " + versionColumns + " FROM oracle_task_version ORDER BY created_at DESC LIMIT 1"
	v, err := scanVersion(s.db.QueryRow(ctx, query))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return v, nil
}

func (s *MySQLStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	query := "INSERT INTO oracle_run (run_id, version_id, pass_rate, passed, failed, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
	_, err = s.db.Exec(ctx, query, run.RunID, run.VersionID, run.PassRate, run.Passed, run.Failed, payload, run.CreatedAt)
	return insertError(err)
}

func (s *MySQLStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, "SELECT payload FROM oracle_run WHERE run_id = ?", runID).Scan(&payload)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var run model.Run
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

type versionJSON struct {
	spec          []byte
	ambiguities   []byte
	confirmations []byte
	public        []byte
	hidden        []byte
	report        []byte
	trace         []byte
}

func encodeVersion(v *model.TaskVersion) (versionJSON, error) {
	var out versionJSON
	var err error
	fields := []struct {
		dst *[]byte
		val any
	}{
		{&out.ambiguities, nonNil(v.Ambiguities)},
		{&out.confirmations, v.Confirmations},
		{&out.public, nonNil(v.PublicExamples)},
		{&out.hidden, nonNil(v.HiddenTests)},
		{&out.report, v.ConflictReport},
		{&out.trace, v.Trace},
	}
	for _, f := range fields {
		if *f.dst, err = json.Marshal(f.val); err != nil {
			return out, fmt.Errorf("marshal version: %w", err)
		}
	}
	if v.Spec != nil {
		if out.spec, err = json.Marshal(v.Spec); err != nil {
			return out, fmt.Errorf("marshal spec: %w", err)
		}
	}
	return out, nil
}

func scanVersion(row scanner) (*model.TaskVersion, error) {
	var (
		v      model.TaskVersion
		status string
		cols   versionJSON
		create time.Time
		update time.Time
	)
	err := row.Scan(
		&v.VersionID, &v.TaskID, &v.VersionNumber, &status,
		&cols.spec, &cols.ambiguities, &cols.confirmations, &cols.public, &cols.hidden,
		&v.Confidence, &cols.report, &v.Seed, &v.BundleHash, &cols.trace,
		&create, &update,
	)
	if err != nil {
		return nil, err
	}
	v.Status = model.Status(status)
	v.CreatedAt = create
	v.UpdatedAt = update

	if len(cols.spec) > 0 && string(cols.spec) != "null" {
		var spec model.TaskSpec
		if err := json.Unmarshal(cols.spec, &spec); err != nil {
			return nil, fmt.Errorf("decode spec: %w", err)
		}
		v.Spec = &spec
	}
	targets := []struct {
		data []byte
		dst  any
	}{
		{cols.ambiguities, &v.Ambiguities},
		{cols.confirmations, &v.Confirmations},
		{cols.public, &v.PublicExamples},
		{cols.hidden, &v.HiddenTests},
		{cols.report, &v.ConflictReport},
		{cols.trace, &v.Trace},
	}
	for _, t := range targets {
		if len(t.data) == 0 {
			continue
		}
		if err := json.Unmarshal(t.data, t.dst); err != nil {
			return nil, errors.Join(fmt.Errorf("decode version %s", v.VersionID), err)
		}
	}
	return &v, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
