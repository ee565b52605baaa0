package service

import (
	"context"

	"taskoracle/internal/oracle/bundle"
	"taskoracle/internal/oracle/confidence"
	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/observer"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/testgen"
	appErr "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
)

// GenerateTests builds the public and hidden test bundle for a fully
// confirmed version and stores it with its digest.
func (s *OracleService) GenerateTests(ctx context.Context, versionID string, in GenerateTestsInput) (GenerateTestsResult, error) {
	v, err := s.loadUsableVersion(ctx, versionID)
	if err != nil {
		return GenerateTestsResult{}, err
	}
	if !testgen.HasFullConfirmations(v.Ambiguities, v.Confirmations.Selections) {
		return GenerateTestsResult{}, appErr.New(appErr.AmbiguitiesNotConfirmed)
	}

	publicCount := s.publicCount
	if in.PublicCount != nil {
		publicCount = max(0, *in.PublicCount)
	}
	hiddenCount := s.hiddenCount
	if in.HiddenCount != nil {
		hiddenCount = max(0, *in.HiddenCount)
	}
	seed := v.Seed
	if seed == 0 {
		seed = bundle.SeedFor(v.VersionID)
	}

	spec := specOf(v)
	out, err := s.tests.Generate(ctx, testgen.Request{
		Spec:        spec,
		Ambiguities: v.Ambiguities,
		Selections:  v.Confirmations.Selections,
		PublicCount: publicCount,
		HiddenCount: hiddenCount,
		Difficulty:  in.Difficulty,
		Seed:        seed,
	})
	if err != nil {
		logger.Warn(ctx, "test generation failed", zap.String("version_id", versionID), zap.Error(err))
		return GenerateTestsResult{}, err
	}

	public := nonNilExamples(out.Public)
	hidden := out.Hidden
	if hidden == nil {
		hidden = []model.HiddenTest{}
	}
	hash, err := bundle.Hash(spec, public, hidden, seed)
	if err != nil {
		return GenerateTestsResult{}, appErr.Wrapf(err, appErr.InternalServerError, "hash bundle failed")
	}
	conf, postReasons := confidence.PostTests(v.Confidence, hidden)
	status := confidence.StatusAt(conf, s.floor, 0)

	audit := out.Audit
	audit.DropReasons = nonNilStrings(audit.DropReasons)
	v.PublicExamples = public
	v.HiddenTests = hidden
	v.Confidence = conf
	v.Status = status
	v.Seed = seed
	v.BundleHash = hash
	v.ConflictReport.ConfidenceReasonsPostTests = postReasons
	v.ConflictReport.HiddenTestsDropAudit = &audit
	v.Trace.RawTestsText = out.RawText
	v.Trace.TestsPromptVersion = testgen.PromptVersion
	v.UpdatedAt = s.now()
	if err := s.store.UpdateVersion(ctx, v); err != nil {
		return GenerateTestsResult{}, storeError(err, "update version")
	}

	observer.VersionStatus.WithLabelValues(string(status)).Inc()
	for _, reason := range audit.DropReasons {
		observer.HiddenTestsDropped.WithLabelValues(reason).Inc()
	}
	logID := s.newID()
	logger.Info(ctx, "tests generated",
		zap.String("log_id", logID),
		zap.String("version_id", versionID),
		zap.Int("public", len(public)),
		zap.Int("hidden_kept", len(hidden)),
		zap.Int("hidden_dropped", audit.DroppedHiddenTestsCount),
		zap.Strings("drop_reasons", audit.DropReasons),
		zap.String("hash", hash),
	)
	s.publish(ctx, repository.Event{
		Type:      repository.EventTestsGenerated,
		TaskID:    v.TaskID,
		VersionID: versionID,
		Payload: map[string]any{
			"hash":               hash,
			"seed":               seed,
			"public_count":       len(public),
			"hidden_tests_count": len(hidden),
			"dropped":            audit.DroppedHiddenTestsCount,
		},
	})

	return GenerateTestsResult{
		VersionID:                 versionID,
		Status:                    status,
		OracleConfidence:          conf,
		ConfidenceReasons:         postReasons,
		PublicExamplesPreview:     public,
		HiddenTestsCount:          len(hidden),
		RequestedHiddenTestsCount: audit.RequestedHiddenTestsCount,
		GeneratedHiddenTestsCount: len(hidden),
		DroppedHiddenTestsCount:   audit.DroppedHiddenTestsCount,
		DropReasons:               audit.DropReasons,
		Hash:                      hash,
		Seed:                      seed,
		LogID:                     logID,
	}, nil
}
