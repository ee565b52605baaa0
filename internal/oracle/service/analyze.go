package service

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"taskoracle/internal/oracle/bundle"
	"taskoracle/internal/oracle/confidence"
	"taskoracle/internal/oracle/generator"
	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/observer"
	"taskoracle/internal/oracle/repository"
	appErr "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
)

// CreateSpec analyzes a task description into a new version. A failed
// analysis is persisted as an analyze_failed version before the error is
// returned, so its trace stays inspectable.
func (s *OracleService) CreateSpec(ctx context.Context, in SpecInput) (SpecResult, error) {
	if _, err := s.store.GetTask(ctx, in.TaskID); err != nil {
		return SpecResult{}, storeError(err, "get task")
	}
	if in.Language == "" {
		in.Language = "python"
	}
	if in.Runtime == "" {
		in.Runtime = "python"
	}
	if in.Deliverable == "" {
		in.Deliverable = model.DeliverableFunction
	}

	versionID := s.newID()
	res, err := s.specs.Generate(ctx, generator.Input{
		Description: in.Description,
		Language:    in.Language,
		Runtime:     in.Runtime,
		Deliverable: in.Deliverable,
	})
	if err != nil {
		var aerr *generator.AnalyzeError
		if !errors.As(err, &aerr) {
			return SpecResult{}, appErr.Wrapf(err, appErr.LLMUnavailable, "spec generation failed")
		}
		return SpecResult{}, s.recordAnalyzeFailure(ctx, in.TaskID, versionID, aerr)
	}

	p := generator.PostProcess(res.Spec, in.Description)
	spec := p.Spec
	spec.PublicExamples = nonNilExamples(spec.PublicExamples)
	status := confidence.StatusAt(p.Confidence, s.floor, len(p.UserFacing))
	seed := bundle.SeedFor(versionID)
	hash, err := bundle.Hash(spec, spec.PublicExamples, []model.HiddenTest{}, seed)
	if err != nil {
		return SpecResult{}, appErr.Wrapf(err, appErr.InternalServerError, "hash bundle failed")
	}

	now := s.now()
	version := &model.TaskVersion{
		VersionID:      versionID,
		TaskID:         in.TaskID,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
		Spec:           &spec,
		Ambiguities:    nonNilAmbiguities(p.UserFacing),
		PublicExamples: spec.PublicExamples,
		HiddenTests:    []model.HiddenTest{},
		Confidence:     p.Confidence,
		ConflictReport: model.ConflictReport{ConfidenceReasons: p.ConfidenceReasons},
		Seed:           seed,
		BundleHash:     hash,
		Trace:          traceFromMeta(res.Meta),
	}
	if err := s.store.CreateVersion(ctx, version); err != nil {
		return SpecResult{}, storeError(err, "create version")
	}

	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
	}
	observer.AnalyzeAttempts.WithLabelValues(outcome, strconv.Itoa(res.Meta.Attempts)).Inc()
	observer.VersionStatus.WithLabelValues(string(status)).Inc()

	logID := s.newID()
	logger.Info(ctx, "spec analyzed",
		zap.String("log_id", logID),
		zap.String("task_id", in.TaskID),
		zap.String("version_id", versionID),
		zap.Int("version_number", version.VersionNumber),
		zap.Int("attempts", res.Meta.Attempts),
		zap.String("status", string(status)),
		zap.Float64("confidence", p.Confidence),
		zap.Int64("latency_ms", res.Meta.LatencyMs),
		zap.String("request_id", res.Meta.RequestID),
	)
	s.publish(ctx, repository.Event{
		Type:      repository.EventVersionCreated,
		TaskID:    in.TaskID,
		VersionID: versionID,
		Payload: map[string]any{
			"version_number": version.VersionNumber,
			"status":         status,
			"confidence":     p.Confidence,
		},
	})

	return SpecResult{
		VersionID:               versionID,
		VersionNumber:           version.VersionNumber,
		SpecSummary:             spec.Summary(),
		Ambiguities:             version.Ambiguities,
		OracleConfidenceInitial: p.Confidence,
		ConfidenceReasons:       p.ConfidenceReasons,
		Status:                  status,
		LogID:                   logID,
	}, nil
}

// NewVersion re-analyzes a task and returns the id and number of the new version.
func (s *OracleService) NewVersion(ctx context.Context, in SpecInput) (string, int, error) {
	res, err := s.CreateSpec(ctx, in)
	if err != nil {
		return "", 0, err
	}
	return res.VersionID, res.VersionNumber, nil
}

func (s *OracleService) recordAnalyzeFailure(ctx context.Context, taskID, versionID string, aerr *generator.AnalyzeError) error {
	now := s.now()
	version := &model.TaskVersion{
		VersionID:      versionID,
		TaskID:         taskID,
		Status:         model.StatusAnalyzeFailed,
		CreatedAt:      now,
		UpdatedAt:      now,
		Ambiguities:    []model.Ambiguity{},
		PublicExamples: []model.Example{},
		HiddenTests:    []model.HiddenTest{},
		Trace:          traceFromMeta(aerr.Meta),
	}
	if err := s.store.CreateVersion(ctx, version); err != nil {
		return storeError(err, "create version")
	}

	observer.AnalyzeAttempts.WithLabelValues(aerr.Kind, strconv.Itoa(aerr.Meta.Attempts)).Inc()
	observer.VersionStatus.WithLabelValues(string(model.StatusAnalyzeFailed)).Inc()
	logger.Warn(ctx, "spec analysis failed",
		zap.String("task_id", taskID),
		zap.String("version_id", versionID),
		zap.String("kind", aerr.Kind),
		zap.Int("attempts", aerr.Meta.Attempts),
		zap.Strings("fail_reasons", aerr.Meta.AttemptFailReasons),
	)
	s.publish(ctx, repository.Event{
		Type:      repository.EventVersionCreated,
		TaskID:    taskID,
		VersionID: versionID,
		Payload:   map[string]any{"version_number": version.VersionNumber, "status": model.StatusAnalyzeFailed},
	})

	code := appErr.AnalyzeFailedAfterRetries
	if aerr.Kind == generator.KindStuckValidation {
		code = appErr.AnalyzeFailedStuckValidation
	}
	failReasons := make([]map[string]any, 0, len(aerr.Meta.AttemptFailReasons))
	for i, msg := range aerr.Meta.AttemptFailReasons {
		failReasons = append(failReasons, map[string]any{"attempt": i + 1, "message": msg})
	}
	requestIDs := aerr.Meta.RequestIDs
	if requestIDs == nil {
		requestIDs = []string{}
	}
	return appErr.New(code).WithDetails(map[string]interface{}{
		"error":        "analyze_failed",
		"stage":        "llm_call",
		"version_id":   versionID,
		"attempts":     aerr.Meta.Attempts,
		"request_ids":  requestIDs,
		"fail_reasons": failReasons,
	})
}

// Confirm records the caller's ambiguity selections and rescores the version.
func (s *OracleService) Confirm(ctx context.Context, versionID string, selections map[string]string) (ConfirmResult, error) {
	v, err := s.loadUsableVersion(ctx, versionID)
	if err != nil {
		return ConfirmResult{}, err
	}
	if err := validateSelections(v.Ambiguities, selections); err != nil {
		return ConfirmResult{}, err
	}

	spec := specOf(v)
	spec.Ambiguities = v.Ambiguities
	conf, reasons := confidence.Initial(spec, selections)
	// Every user-facing ambiguity is now resolved.
	conf = confidence.ApplyFloor(conf, 0)
	if slices.Contains(v.ConflictReport.ConfidenceReasons, generator.ReasonOptionalUpgrade) {
		reasons = append(reasons, generator.ReasonOptionalUpgrade)
		conf = min(conf, generator.OptionalConfidenceCap)
	}
	status := confidence.StatusAt(conf, s.floor, 0)

	stored := make(map[string]string, len(selections))
	for k, val := range selections {
		stored[k] = val
	}
	v.Confirmations = model.Confirmations{Selections: stored}
	v.Confidence = conf
	v.ConflictReport.ConfidenceReasons = reasons
	v.Status = status
	v.UpdatedAt = s.now()
	if err := s.store.UpdateVersion(ctx, v); err != nil {
		return ConfirmResult{}, storeError(err, "update version")
	}
	observer.VersionStatus.WithLabelValues(string(status)).Inc()

	logID := s.newID()
	logger.Info(ctx, "version confirmed",
		zap.String("log_id", logID),
		zap.String("version_id", versionID),
		zap.Int("selections", len(selections)),
		zap.String("status", string(status)),
		zap.Float64("confidence", conf),
	)
	return ConfirmResult{VersionID: versionID, Status: status, LogID: logID}, nil
}

// validateSelections rejects choices outside an ambiguity's choice list
// before reporting any ambiguity left unselected.
func validateSelections(ambiguities []model.Ambiguity, selections map[string]string) error {
	for _, a := range ambiguities {
		if a.AmbiguityID == "" || len(a.Choices) == 0 {
			continue
		}
		chosen, ok := selections[a.AmbiguityID]
		if !ok {
			continue
		}
		if _, valid := a.ChoiceIDs()[chosen]; !valid {
			return appErr.Tagged(appErr.InvalidChoice, a.AmbiguityID)
		}
	}
	for _, a := range ambiguities {
		if a.AmbiguityID == "" {
			continue
		}
		if _, ok := selections[a.AmbiguityID]; !ok {
			return appErr.Tagged(appErr.MissingConfirmation, a.AmbiguityID)
		}
	}
	return nil
}

func traceFromMeta(meta generator.Meta) model.LLMTrace {
	return model.LLMTrace{
		Provider:             meta.Provider,
		Model:                meta.Model,
		RequestID:            meta.RequestID,
		RequestIDs:           meta.RequestIDs,
		LatencyMs:            meta.LatencyMs,
		Attempts:             meta.Attempts,
		AttemptFailReasons:   nonNilStrings(meta.AttemptFailReasons),
		MissingFields:        nonNilStrings(meta.MissingFields),
		RawSpecText:          meta.RawText,
		SpecPromptVersion:    meta.PromptVersion,
		SchemaVersion:        meta.SchemaVersion,
		InteractionModelPred: meta.InteractionModelPred,
		NormalizedInputHash:  meta.NormalizedInputHash,
	}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
