package service

import "taskoracle/internal/oracle/model"

// SpecInput is one analysis request for a task.
type SpecInput struct {
	TaskID      string
	Description string
	Language    string
	Runtime     string
	Deliverable string
}

// SpecResult is the outcome of a successful analysis.
type SpecResult struct {
	VersionID               string            `json:"version_id"`
	VersionNumber           int               `json:"-"`
	SpecSummary             model.SpecSummary `json:"spec_summary"`
	Ambiguities             []model.Ambiguity `json:"ambiguities"`
	OracleConfidenceInitial float64           `json:"oracle_confidence_initial"`
	ConfidenceReasons       []string          `json:"confidence_reasons"`
	Status                  model.Status      `json:"status"`
	LogID                   string            `json:"log_id"`
}

type ConfirmResult struct {
	VersionID string       `json:"version_id"`
	Status    model.Status `json:"status"`
	LogID     string       `json:"log_id"`
}

// GenerateTestsInput carries the requested bundle size. Nil counts use the
// configured defaults.
type GenerateTestsInput struct {
	PublicCount *int
	HiddenCount *int
	Difficulty  map[string]any
}

type GenerateTestsResult struct {
	VersionID                 string          `json:"version_id"`
	Status                    model.Status    `json:"status"`
	OracleConfidence          float64         `json:"oracle_confidence"`
	ConfidenceReasons         []string        `json:"confidence_reasons"`
	PublicExamplesPreview     []model.Example `json:"public_examples_preview"`
	HiddenTestsCount          int             `json:"hidden_tests_count"`
	RequestedHiddenTestsCount int             `json:"requested_hidden_tests_count"`
	GeneratedHiddenTestsCount int             `json:"generated_hidden_tests_count"`
	DroppedHiddenTestsCount   int             `json:"dropped_hidden_tests_count"`
	DropReasons               []string        `json:"drop_reasons"`
	Hash                      string          `json:"hash"`
	Seed                      int64           `json:"seed"`
	LogID                     string          `json:"log_id"`
}

// RunInput selects the candidate code and run options. Code is taken from
// CodeText, then SnapshotID, then CurrentFilePath.
type RunInput struct {
	Entrypoint      string
	SnapshotID      string
	CodeText        string
	CurrentFilePath string
	WorkspaceFiles  map[string]string
	TimeoutSec      float64
}

type RunResult struct {
	RunID                string                 `json:"run_id"`
	VersionID            string                 `json:"version_id"`
	PassRate             float64                `json:"pass_rate"`
	Passed               int                    `json:"passed"`
	Failed               int                    `json:"failed"`
	FailuresSummary      []model.FailureSummary `json:"failures_summary"`
	OracleConfidenceUsed float64                `json:"oracle_confidence_used"`
	RuntimeMs            int64                  `json:"runtime_ms"`
	SandboxMode          string                 `json:"sandbox_mode"`
	ResourceLimits       model.ResourceLimits   `json:"resource_limits"`
	LogID                string                 `json:"log_id"`
}

type SnapshotInput struct {
	CodeText       string
	WorkspaceFiles map[string]string
	Entrypoint     string
}

type VersionItem struct {
	VersionID           string       `json:"version_id"`
	VersionNumber       int          `json:"version_number"`
	Status              model.Status `json:"status"`
	CreatedAt           float64      `json:"created_at"`
	OracleConfidence    float64      `json:"oracle_confidence"`
	PublicExamplesCount int          `json:"public_examples_count"`
	HiddenTestsCount    int          `json:"hidden_tests_count"`
	Hash                string       `json:"hash"`
}

type TaskView struct {
	TaskID   string        `json:"task_id"`
	Versions []VersionItem `json:"versions"`
}

type VersionView struct {
	SpecSummary      model.SpecSummary    `json:"spec_summary"`
	Ambiguities      []model.Ambiguity    `json:"ambiguities"`
	Confirmations    model.Confirmations  `json:"confirmations"`
	PublicExamples   []model.Example      `json:"public_examples"`
	HiddenTestsCount int                  `json:"hidden_tests_count"`
	OracleConfidence float64              `json:"oracle_confidence"`
	ConflictReport   model.ConflictReport `json:"conflict_report"`
	Hash             string               `json:"hash"`
	Seed             int64                `json:"seed"`
	Status           model.Status         `json:"status"`
}
