package controller

import (
	"fmt"

	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/sandbox"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// CreateTaskRequest defines task creation payload.
type CreateTaskRequest struct {
	ProjectID string `json:"project_id" binding:"omitempty,max=128"`
}

type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// SpecRequest defines the analysis payload shared by create_spec and new_version.
type SpecRequest struct {
	TaskDescription string `json:"task_description" binding:"required,max=65536"`
	Language        string `json:"language" binding:"omitempty,max=32"`
	Runtime         string `json:"runtime" binding:"omitempty,max=32"`
	DeliverableType string `json:"deliverable_type" binding:"omitempty,deliverable"`
}

type NewVersionResponse struct {
	NewVersionID  string `json:"new_version_id"`
	VersionNumber int    `json:"version_number"`
}

type ConfirmRequest struct {
	Selections map[string]string `json:"selections" binding:"required"`
}

// GenerateTestsRequest defines test generation payload. Omitted counts use
// the service defaults.
type GenerateTestsRequest struct {
	PublicExamplesCount *int           `json:"public_examples_count" binding:"omitempty,min=0,max=50"`
	HiddenTestsCount    *int           `json:"hidden_tests_count" binding:"omitempty,min=0,max=50"`
	DifficultyProfile   map[string]any `json:"difficulty_profile"`
}

// RunRequest defines grading run payload.
type RunRequest struct {
	Entrypoint      string            `json:"entrypoint" binding:"omitempty,max=256"`
	CodeSnapshotID  string            `json:"code_snapshot_id" binding:"omitempty,max=64"`
	CodeText        string            `json:"code_text"`
	CurrentFilePath string            `json:"current_file_path"`
	WorkspaceFiles  map[string]string `json:"workspace_files" binding:"omitempty,dive,keys,relpath,endkeys"`
	TimeoutSec      *float64          `json:"timeout_sec" binding:"omitempty,gt=0,lte=60"`
}

type SnapshotRequest struct {
	CodeText       string            `json:"code_text"`
	WorkspaceFiles map[string]string `json:"workspace_files" binding:"omitempty,dive,keys,relpath,endkeys"`
	Entrypoint     string            `json:"entrypoint" binding:"omitempty,max=256"`
}

type SnapshotResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// RegisterValidators installs the oracle binding rules on gin's validator
// and makes JSON binding reject unknown fields.
func RegisterValidators() error {
	binding.EnableDecoderDisallowUnknownFields = true
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator engine %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("deliverable", validateDeliverable); err != nil {
		return fmt.Errorf("register deliverable validator: %w", err)
	}
	if err := v.RegisterValidation("relpath", validateRelPath); err != nil {
		return fmt.Errorf("register relpath validator: %w", err)
	}
	return nil
}

func validateDeliverable(fl validator.FieldLevel) bool {
	return model.ValidDeliverable(fl.Field().String())
}

// validateRelPath accepts workspace paths that stay inside the sandbox directory.
func validateRelPath(fl validator.FieldLevel) bool {
	_, ok := sandbox.SafePath("/", fl.Field().String())
	return ok
}
