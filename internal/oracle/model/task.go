package model

import "time"

type Status string

const (
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusReady                Status = "ready"
	StatusLowConfidence        Status = "low_confidence"
	StatusAnalyzeFailed        Status = "analyze_failed"
)

// Task is a logical project identifier owning versions.
type Task struct {
	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Confirmations holds the caller's ambiguity selections.
type Confirmations struct {
	Selections map[string]string `json:"selections,omitempty"`
}

// DropAudit records how the hidden-test candidates were filtered.
type DropAudit struct {
	RequestedHiddenTestsCount int      `json:"requested_hidden_tests_count"`
	GeneratedHiddenTestsCount int      `json:"generated_hidden_tests_count"`
	DroppedHiddenTestsCount   int      `json:"dropped_hidden_tests_count"`
	DropReasons               []string `json:"drop_reasons"`
}

type ConflictReport struct {
	ConfidenceReasons          []string   `json:"confidence_reasons,omitempty"`
	ConfidenceReasonsPostTests []string   `json:"confidence_reasons_post_tests,omitempty"`
	HiddenTestsDropAudit       *DropAudit `json:"hidden_tests_drop_audit,omitempty"`
}

// LLMTrace keeps the raw exchange of the generation calls for a version.
type LLMTrace struct {
	Provider             string   `json:"llm_provider_used,omitempty"`
	Model                string   `json:"llm_model_used,omitempty"`
	RequestID            string   `json:"request_id,omitempty"`
	RequestIDs           []string `json:"request_ids,omitempty"`
	LatencyMs            int64    `json:"llm_latency_ms"`
	Attempts             int      `json:"attempts"`
	AttemptFailReasons   []string `json:"attempt_fail_reasons"`
	MissingFields        []string `json:"missing_fields"`
	RawSpecText          string   `json:"spec_llm_raw,omitempty"`
	RawTestsText         string   `json:"tests_llm_raw,omitempty"`
	SpecPromptVersion    string   `json:"spec_prompt_version,omitempty"`
	TestsPromptVersion   string   `json:"tests_prompt_version,omitempty"`
	SchemaVersion        string   `json:"schema_version,omitempty"`
	InteractionModelPred string   `json:"interaction_model_pred,omitempty"`
	NormalizedInputHash  string   `json:"normalized_input_hash,omitempty"`
}

// TaskVersion is one specification attempt for a task.
type TaskVersion struct {
	VersionID      string         `json:"version_id"`
	TaskID         string         `json:"task_id"`
	VersionNumber  int            `json:"version_number"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Spec           *TaskSpec      `json:"spec"`
	Ambiguities    []Ambiguity    `json:"ambiguities"`
	Confirmations  Confirmations  `json:"confirmations"`
	PublicExamples []Example      `json:"public_examples"`
	HiddenTests    []HiddenTest   `json:"hidden_tests"`
	Confidence     float64        `json:"oracle_confidence"`
	ConflictReport ConflictReport `json:"conflict_report"`
	Seed           int64          `json:"seed"`
	BundleHash     string         `json:"hash"`
	Trace          LLMTrace       `json:"trace"`
}

// ResourceLimits are the sandbox limits a run was executed with.
type ResourceLimits struct {
	TimeoutSec float64 `json:"timeout_sec"`
	MemoryMB   int     `json:"memory_mb"`
}

// FailureSummary is one leak-controlled failure entry of a run.
// Collapsed hidden failures carry only name, tags, hidden and error.
type FailureSummary struct {
	TestName string   `json:"test_name"`
	Tags     []string `json:"tags"`
	Hidden   bool     `json:"hidden"`
	Input    any      `json:"input,omitempty"`
	Expected *string  `json:"expected,omitempty"`
	Got      *string  `json:"got,omitempty"`
	Error    *string  `json:"error"`
	Stderr   string   `json:"stderr,omitempty"`
}

// Run is one grading execution of candidate code.
type Run struct {
	RunID                string           `json:"run_id"`
	VersionID            string           `json:"version_id"`
	CreatedAt            time.Time        `json:"created_at"`
	SnapshotID           string           `json:"code_snapshot_id,omitempty"`
	CodeText             string           `json:"code_text,omitempty"`
	PassRate             float64          `json:"pass_rate"`
	Passed               int              `json:"passed"`
	Failed               int              `json:"failed"`
	FailuresSummary      []FailureSummary `json:"failures_summary"`
	OracleConfidenceUsed float64          `json:"oracle_confidence_used"`
	RuntimeMs            int64            `json:"runtime_ms"`
	MemoryKB             int64            `json:"memory_kb"`
	SandboxMode          string           `json:"sandbox_mode"`
	ResourceLimits       ResourceLimits   `json:"resource_limits"`
	Stdout               string           `json:"stdout"`
	Stderr               string           `json:"stderr"`
	ExitCode             int              `json:"exit_code"`
	TimedOut             bool             `json:"timed_out"`
	MemoryExceeded       bool             `json:"memory_exceeded"`
}

// CodeSnapshot is a stored candidate submission referenced by runs.
type CodeSnapshot struct {
	SnapshotID     string            `json:"snapshot_id"`
	CodeText       string            `json:"code_text"`
	WorkspaceFiles map[string]string `json:"workspace_files,omitempty"`
	Entrypoint     string            `json:"entrypoint,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
