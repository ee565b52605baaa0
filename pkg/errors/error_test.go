package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "taskoracle/pkg/errors"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{TaskNotFound, 404},
		{TooManyRequests, 429},
		{InternalServerError, 500},
		{SchemaValidationFailed, 422},
		{AnalyzeFailedAfterRetries, 422},
		{AmbiguitiesNotConfirmed, 400},
		{InvalidChoice, 400},
		{MissingCode, 400},
		{SandboxError, 500},
		{RunQueueFull, 503},
		{VersionNotFound, 404},
		{LLMUnavailable, 502},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestTagged(t *testing.T) {
	err := Tagged(MissingConfirmation, "amb_order")
	if err.Error() != "missing_confirmation:amb_order" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if Tagged(MissingCode, "").Error() != "missing_code" {
		t.Fatalf("empty subject should keep bare wire name")
	}
}

func TestGetCodeThroughWrapping(t *testing.T) {
	inner := New(VersionNotFound)
	wrapped := fmt.Errorf("load version: %w", inner)

	if got := GetCode(wrapped); got != VersionNotFound {
		t.Fatalf("GetCode = %v, want %v", got, VersionNotFound)
	}
	if !Is(wrapped, VersionNotFound) {
		t.Fatalf("Is should see through fmt wrapping")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatalf("plain errors map to internal")
	}
	if GetCode(nil) != Success {
		t.Fatalf("nil maps to success")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(cause, DatabaseError, "insert version failed")
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped error should unwrap to cause")
	}
	if err.Error() != "insert version failed" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Fatalf("wrapping nil should return nil")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(AnalyzeFailedAfterRetries).
		WithDetail("attempts", 3).
		WithDetails(map[string]interface{}{"stage": "llm_call"})
	if err.Details["attempts"] != 3 || err.Details["stage"] != "llm_call" {
		t.Fatalf("details not recorded: %v", err.Details)
	}
}
