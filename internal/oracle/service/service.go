// Package service orchestrates the oracle pipeline: spec analysis, ambiguity
// confirmation, test generation and sandboxed grading runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskoracle/internal/oracle/generator"
	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/sandbox"
	"taskoracle/internal/oracle/testgen"
	appErr "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPublicCount    = 5
	defaultHiddenCount    = 6
	defaultRunTimeout     = 2500 * time.Millisecond
	defaultAcquireTimeout = 2 * time.Second
	defaultConfidenceFlr  = 0.4
	sandboxModeLocal      = "local"
)

// SpecGenerator produces a validated spec from a task description.
type SpecGenerator interface {
	Generate(ctx context.Context, in generator.Input) (generator.Result, error)
}

// TestGenerator produces the public and hidden test bundle for a spec.
type TestGenerator interface {
	Generate(ctx context.Context, req testgen.Request) (testgen.Outcome, error)
}

// Sandbox executes candidate code against a test list.
type Sandbox interface {
	RunFunction(ctx context.Context, req sandbox.FunctionRequest) (sandbox.ExecutionResult, error)
	RunCLI(ctx context.Context, req sandbox.CLIRequest) (sandbox.ExecutionResult, error)
	MemoryMB() int64
}

// Config holds service dependencies and settings.
type Config struct {
	Store     repository.Store
	Snapshots *repository.SnapshotStore
	Events    repository.EventPublisher
	Specs     SpecGenerator
	Tests     TestGenerator
	Sandbox   Sandbox

	ConfidenceFloor    float64
	DefaultPublicCount int
	DefaultHiddenCount int
	RunTimeout         time.Duration
	RunPoolSize        int
	AcquireTimeout     time.Duration
	// AllowFilePath enables reading candidate code from a server-side path.
	AllowFilePath bool

	Now   func() time.Time
	NewID func() string
}

// OracleService handles the task, version and run lifecycle.
type OracleService struct {
	store     repository.Store
	snapshots *repository.SnapshotStore
	events    repository.EventPublisher
	specs     SpecGenerator
	tests     TestGenerator
	sandbox   Sandbox

	floor          float64
	publicCount    int
	hiddenCount    int
	runTimeout     time.Duration
	acquireTimeout time.Duration
	allowFilePath  bool
	sem            chan struct{}

	now   func() time.Time
	newID func() string
}

// NewOracleService creates a new OracleService.
func NewOracleService(cfg Config) (*OracleService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Specs == nil {
		return nil, fmt.Errorf("spec generator is required")
	}
	if cfg.Tests == nil {
		return nil, fmt.Errorf("test generator is required")
	}
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("sandbox is required")
	}
	if cfg.Events == nil {
		cfg.Events = repository.NopEventPublisher{}
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = defaultConfidenceFlr
	}
	if cfg.DefaultPublicCount <= 0 {
		cfg.DefaultPublicCount = defaultPublicCount
	}
	if cfg.DefaultHiddenCount <= 0 {
		cfg.DefaultHiddenCount = defaultHiddenCount
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	poolSize := cfg.RunPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &OracleService{
		store:          cfg.Store,
		snapshots:      cfg.Snapshots,
		events:         cfg.Events,
		specs:          cfg.Specs,
		tests:          cfg.Tests,
		sandbox:        cfg.Sandbox,
		floor:          cfg.ConfidenceFloor,
		publicCount:    cfg.DefaultPublicCount,
		hiddenCount:    cfg.DefaultHiddenCount,
		runTimeout:     cfg.RunTimeout,
		acquireTimeout: cfg.AcquireTimeout,
		allowFilePath:  cfg.AllowFilePath,
		sem:            make(chan struct{}, poolSize),
		now:            cfg.Now,
		newID:          cfg.NewID,
	}, nil
}

// CreateTask registers a new task.
func (s *OracleService) CreateTask(ctx context.Context, projectID string) (string, error) {
	now := s.now()
	task := &model.Task{TaskID: s.newID(), ProjectID: projectID, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return "", appErr.Wrapf(err, appErr.DatabaseError, "create task failed")
	}
	logger.Info(ctx, "task created", zap.String("task_id", task.TaskID), zap.String("project_id", projectID))
	return task.TaskID, nil
}

// GetTask lists a task and its versions in version order.
func (s *OracleService) GetTask(ctx context.Context, taskID string) (TaskView, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return TaskView{}, storeError(err, "get task")
	}
	versions, err := s.store.ListVersions(ctx, taskID)
	if err != nil {
		return TaskView{}, storeError(err, "list versions")
	}
	view := TaskView{TaskID: task.TaskID, Versions: make([]VersionItem, 0, len(versions))}
	for _, v := range versions {
		view.Versions = append(view.Versions, VersionItem{
			VersionID:           v.VersionID,
			VersionNumber:       v.VersionNumber,
			Status:              v.Status,
			CreatedAt:           unixSeconds(v.CreatedAt),
			OracleConfidence:    v.Confidence,
			PublicExamplesCount: len(v.PublicExamples),
			HiddenTestsCount:    len(v.HiddenTests),
			Hash:                v.BundleHash,
		})
	}
	return view, nil
}

// GetVersion returns the caller-visible projection of a version. Hidden test
// bodies are never included.
func (s *OracleService) GetVersion(ctx context.Context, versionID string) (VersionView, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return VersionView{}, storeError(err, "get version")
	}
	return VersionView{
		SpecSummary:      specOf(v).Summary(),
		Ambiguities:      nonNilAmbiguities(v.Ambiguities),
		Confirmations:    v.Confirmations,
		PublicExamples:   nonNilExamples(v.PublicExamples),
		HiddenTestsCount: len(v.HiddenTests),
		OracleConfidence: v.Confidence,
		ConflictReport:   v.ConflictReport,
		Hash:             v.BundleHash,
		Seed:             v.Seed,
		Status:           v.Status,
	}, nil
}

// SaveSnapshot stores candidate code for later runs and returns its id.
func (s *OracleService) SaveSnapshot(ctx context.Context, in SnapshotInput) (string, error) {
	if s.snapshots == nil {
		return "", appErr.New(appErr.ServiceUnavailable).WithMessage("snapshot storage is not configured")
	}
	if in.CodeText == "" && len(in.WorkspaceFiles) == 0 {
		return "", appErr.New(appErr.MissingCode)
	}
	snap := &model.CodeSnapshot{
		SnapshotID:     s.newID(),
		CodeText:       in.CodeText,
		WorkspaceFiles: in.WorkspaceFiles,
		Entrypoint:     in.Entrypoint,
		CreatedAt:      s.now(),
	}
	if err := s.snapshots.Save(ctx, snap); err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "save snapshot failed")
	}
	logger.Info(ctx, "code snapshot saved", zap.String("snapshot_id", snap.SnapshotID), zap.Int("files", len(in.WorkspaceFiles)))
	return snap.SnapshotID, nil
}

// LastSpecCall projects the LLM trace of the most recently created version.
func (s *OracleService) LastSpecCall(ctx context.Context) (map[string]any, error) {
	v, err := s.store.LatestVersion(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			return map[string]any{"error": "no_calls_found"}, nil
		}
		return nil, storeError(err, "latest version")
	}
	tr := v.Trace
	requestIDs := tr.RequestIDs
	if len(requestIDs) == 0 && tr.RequestID != "" {
		requestIDs = []string{tr.RequestID}
	}
	if requestIDs == nil {
		requestIDs = []string{}
	}
	failReasons := tr.AttemptFailReasons
	if failReasons == nil {
		failReasons = []string{}
	}
	var errorType, errorMessage any
	if v.Status == model.StatusAnalyzeFailed && len(failReasons) > 0 {
		last := failReasons[len(failReasons)-1]
		errorType = errorPrefix(last)
		errorMessage = last
	}
	return map[string]any{
		"ts":                     unixSeconds(v.CreatedAt),
		"version_id":             v.VersionID,
		"provider":               tr.Provider,
		"model":                  tr.Model,
		"interaction_model_pred": tr.InteractionModelPred,
		"endpoint":               "chat.completions",
		"request_ids":            requestIDs,
		"latency_ms":             tr.LatencyMs,
		"attempts":               tr.Attempts,
		"prompt_version":         tr.SpecPromptVersion,
		"schema_version":         tr.SchemaVersion,
		"status":                 v.Status,
		"error_type":             errorType,
		"error_message":          errorMessage,
		"fail_reasons":           failReasons,
	}, nil
}

func (s *OracleService) loadVersion(ctx context.Context, versionID string) (*model.TaskVersion, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, storeError(err, "get version")
	}
	return v, nil
}

// loadUsableVersion rejects versions whose analysis failed, since they carry
// no spec to confirm, generate from or grade against.
func (s *OracleService) loadUsableVersion(ctx context.Context, versionID string) (*model.TaskVersion, error) {
	v, err := s.loadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status == model.StatusAnalyzeFailed || v.Spec == nil {
		return nil, appErr.New(appErr.VersionAnalyzeFailed)
	}
	return v, nil
}

func (s *OracleService) publish(ctx context.Context, event repository.Event) {
	event.CreatedAt = s.now().Unix()
	if err := s.events.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "publish oracle event failed", zap.String("event", event.Type), zap.String("version_id", event.VersionID), zap.Error(err))
	}
}

func storeError(err error, op string) error {
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		return appErr.New(appErr.TaskNotFound)
	case errors.Is(err, repository.ErrVersionNotFound):
		return appErr.New(appErr.VersionNotFound)
	case errors.Is(err, repository.ErrSnapshotNotFound):
		return appErr.New(appErr.SnapshotNotFound)
	case errors.Is(err, repository.ErrAlreadyExists):
		return appErr.Wrapf(err, appErr.RecordAlreadyExists, "%s failed", op)
	}
	var e *appErr.Error
	if errors.As(err, &e) {
		return e
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "%s failed", op)
}

func specOf(v *model.TaskVersion) model.TaskSpec {
	if v.Spec == nil {
		return model.NewTaskSpec()
	}
	return *v.Spec
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func errorPrefix(reason string) string {
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			return reason[:i]
		}
	}
	return reason
}

func nonNilAmbiguities(in []model.Ambiguity) []model.Ambiguity {
	if in == nil {
		return []model.Ambiguity{}
	}
	return in
}

func nonNilExamples(in []model.Example) []model.Example {
	if in == nil {
		return []model.Example{}
	}
	return in
}
