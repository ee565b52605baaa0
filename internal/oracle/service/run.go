package service

import (
	"context"
	"errors"
	"os"
	"time"

	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/observer"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/sandbox"
	appErr "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	modeFunction = "function"
	modeCLI      = "cli"
)

// Run grades candidate code against every public and hidden test of a
// version. Timeouts and memory exhaustion are reported in the result, never
// as errors.
func (s *OracleService) Run(ctx context.Context, versionID string, in RunInput) (RunResult, error) {
	v, err := s.loadUsableVersion(ctx, versionID)
	if err != nil {
		return RunResult{}, err
	}
	spec := specOf(v)

	src, fromSnapshot, err := s.resolveSource(ctx, in)
	if err != nil {
		return RunResult{}, err
	}

	mode := modeCLI
	var functionName string
	if spec.Deliverable == model.DeliverableFunction {
		mode = modeFunction
		functionName = entrypointFunction(spec, in, src)
		if functionName == "" {
			return RunResult{}, appErr.New(appErr.MissingEntrypoint)
		}
	}

	timeout := s.runTimeout
	if in.TimeoutSec > 0 {
		timeout = time.Duration(in.TimeoutSec * float64(time.Second))
	}
	limits := model.ResourceLimits{TimeoutSec: timeout.Seconds(), MemoryMB: int(s.sandbox.MemoryMB())}
	tests := buildTests(v)
	runID := s.newID()

	if err := s.acquireSlot(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return RunResult{}, err
		}
		logger.Warn(ctx, "run rejected, sandbox pool is full", zap.String("version_id", versionID))
		observer.RunOutcomes.WithLabelValues(mode, "queue_full").Inc()
		return RunResult{}, err
	}
	observer.RunsActive.Inc()
	start := time.Now()
	var res sandbox.ExecutionResult
	if mode == modeFunction {
		res, err = s.sandbox.RunFunction(ctx, sandbox.FunctionRequest{
			RunID:        runID,
			Source:       src,
			FunctionName: functionName,
			Tests:        tests,
			Timeout:      timeout,
		})
	} else {
		res, err = s.sandbox.RunCLI(ctx, sandbox.CLIRequest{
			RunID:   runID,
			Source:  src,
			Tests:   tests,
			Timeout: timeout,
		})
	}
	observer.SandboxDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	observer.RunsActive.Dec()
	s.releaseSlot()
	if err != nil {
		observer.RunOutcomes.WithLabelValues(mode, "sandbox_error").Inc()
		logger.Error(ctx, "sandbox execution failed", zap.String("run_id", runID), zap.String("version_id", versionID), zap.Error(err))
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxError, "sandbox_error")
	}

	g := grade(res, tests)
	passRate := float64(g.Passed) / float64(max(1, g.Passed+g.Failed))
	run := &model.Run{
		RunID:                runID,
		VersionID:            versionID,
		CreatedAt:            s.now(),
		SnapshotID:           in.SnapshotID,
		PassRate:             passRate,
		Passed:               g.Passed,
		Failed:               g.Failed,
		FailuresSummary:      g.Failures,
		OracleConfidenceUsed: v.Confidence,
		RuntimeMs:            res.RuntimeMs,
		MemoryKB:             res.MemoryKB,
		SandboxMode:          sandboxModeLocal,
		ResourceLimits:       limits,
		Stdout:               TruncateUTF8(res.Stdout, outputCapBytes),
		Stderr:               TruncateUTF8(res.Stderr, outputCapBytes),
		ExitCode:             res.ExitCode,
		TimedOut:             res.TimedOut,
		MemoryExceeded:       res.MemoryExceeded,
	}
	if !fromSnapshot {
		run.CodeText = src.Code
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return RunResult{}, storeError(err, "create run")
	}

	observer.RunOutcomes.WithLabelValues(mode, g.Outcome).Inc()
	logID := s.newID()
	logger.Info(ctx, "run completed",
		zap.String("log_id", logID),
		zap.String("run_id", runID),
		zap.String("version_id", versionID),
		zap.String("mode", mode),
		zap.Float64("pass_rate", passRate),
		zap.Int("passed", g.Passed),
		zap.Int("failed", g.Failed),
		zap.Int64("runtime_ms", res.RuntimeMs),
	)
	s.publish(ctx, repository.Event{
		Type:      repository.EventRunCompleted,
		TaskID:    v.TaskID,
		VersionID: versionID,
		RunID:     runID,
		Payload: map[string]any{
			"pass_rate": passRate,
			"passed":    g.Passed,
			"failed":    g.Failed,
			"outcome":   g.Outcome,
		},
	})

	return RunResult{
		RunID:                runID,
		VersionID:            versionID,
		PassRate:             passRate,
		Passed:               g.Passed,
		Failed:               g.Failed,
		FailuresSummary:      g.Failures,
		OracleConfidenceUsed: v.Confidence,
		RuntimeMs:            res.RuntimeMs,
		SandboxMode:          sandboxModeLocal,
		ResourceLimits:       limits,
		LogID:                logID,
	}, nil
}

// resolveSource picks the candidate code from the request, a stored
// snapshot or a local file, in that order. fromSnapshot reports whether the
// snapshot supplied the code.
func (s *OracleService) resolveSource(ctx context.Context, in RunInput) (sandbox.Source, bool, error) {
	src := sandbox.Source{Code: in.CodeText, WorkspaceFiles: in.WorkspaceFiles, Entrypoint: in.Entrypoint}
	fromSnapshot := false

	if src.Code == "" && in.SnapshotID != "" {
		if s.snapshots == nil {
			return src, false, appErr.New(appErr.ServiceUnavailable).WithMessage("snapshot storage is not configured")
		}
		snap, err := s.snapshots.Load(ctx, in.SnapshotID)
		if err != nil {
			if errors.Is(err, repository.ErrSnapshotNotFound) {
				return src, false, appErr.New(appErr.SnapshotNotFound)
			}
			return src, false, appErr.Wrapf(err, appErr.StorageError, "load snapshot failed")
		}
		src.Code = snap.CodeText
		if len(src.WorkspaceFiles) == 0 {
			src.WorkspaceFiles = snap.WorkspaceFiles
		}
		if src.Entrypoint == "" {
			src.Entrypoint = snap.Entrypoint
		}
		fromSnapshot = true
	}

	if src.Code == "" && in.CurrentFilePath != "" {
		if !s.allowFilePath {
			return src, false, appErr.Tagged(appErr.CannotReadFile, "file path access is disabled")
		}
		data, err := os.ReadFile(in.CurrentFilePath)
		if err != nil {
			return src, false, appErr.Tagged(appErr.CannotReadFile, err.Error())
		}
		src.Code = string(data)
	}

	if src.Code == "" && len(src.WorkspaceFiles) == 0 {
		return src, false, appErr.New(appErr.MissingCode)
	}
	return src, fromSnapshot, nil
}

// entrypointFunction names the function to call. With workspace files the
// entrypoint is a module path, so the name comes from the signature.
func entrypointFunction(spec model.TaskSpec, in RunInput, src sandbox.Source) string {
	if len(src.WorkspaceFiles) == 0 && in.Entrypoint != "" {
		return in.Entrypoint
	}
	if spec.Signature != nil {
		return spec.Signature.FunctionName
	}
	return ""
}

func buildTests(v *model.TaskVersion) []sandbox.Test {
	tests := make([]sandbox.Test, 0, len(v.PublicExamples)+len(v.HiddenTests))
	for _, ex := range v.PublicExamples {
		tests = append(tests, sandbox.Test{Name: ex.Name, Input: ex.Input, Expected: ex.Expected, Tags: []string{}})
	}
	for _, ht := range v.HiddenTests {
		tests = append(tests, sandbox.Test{
			Name:     ht.Name,
			Input:    ht.Input,
			Expected: ht.Expected,
			Hidden:   true,
			Tags:     nonNilStrings(ht.Tags),
		})
	}
	return tests
}

func (s *OracleService) acquireSlot(ctx context.Context) error {
	timer := time.NewTimer(s.acquireTimeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return appErr.New(appErr.RunQueueFull)
	}
}

func (s *OracleService) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}
