// Package generator turns a task description into a validated TaskSpec by
// driving an LLM through a bounded repair conversation.
package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"

	"taskoracle/internal/oracle/llm"
	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/validator"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	KindStuckValidation = "analyze_failed_stuck_validation"
	KindAfterRetries    = "analyze_failed_after_retries"

	AmbiguityExampleMismatch = "auto_resolved_example_mismatch"
	AmbiguityContradiction   = "auto_resolved_contradiction"
	AmbiguityTypeMismatch    = "auto_resolved_type_mismatch"
	AmbiguityParseFail       = "parse_fail"

	defaultTemperature = 0.2
)

// Config tunes the repair loop.
type Config struct {
	// Retries is the number of repair rounds after the first call.
	Retries     int
	Temperature float32
	// FallbackDegradation lets a final-attempt type conflict be resolved by
	// widening the return type instead of failing the analysis.
	FallbackDegradation bool
}

// Input is one analysis request.
type Input struct {
	Description string
	Language    string
	Runtime     string
	Deliverable string
}

// Meta is the trace of an analysis, kept on the version for debugging.
type Meta struct {
	NormalizedInputHash  string   `json:"normalized_input_hash"`
	PromptVersion        string   `json:"prompt_version"`
	SchemaVersion        string   `json:"schema_version"`
	InteractionModelPred string   `json:"interaction_model_pred"`
	Attempts             int      `json:"attempts"`
	AttemptFailReasons   []string `json:"attempt_fail_reasons"`
	Provider             string   `json:"llm_provider_used"`
	Model                string   `json:"llm_model_used"`
	LatencyMs            int64    `json:"llm_latency_ms"`
	RequestID            string   `json:"request_id"`
	RequestIDs           []string `json:"request_ids"`
	RawText              string   `json:"raw_text"`
	MissingFields        []string `json:"missing_fields"`
}

// Result is a successful (possibly degraded) analysis.
type Result struct {
	Doc  map[string]any
	Spec model.TaskSpec
	Meta Meta
	// Degraded is set when a final-attempt fallback produced the spec.
	Degraded bool
}

// AnalyzeError is returned when the loop gives up. Kind is
// KindStuckValidation or KindAfterRetries.
type AnalyzeError struct {
	Kind string
	Meta Meta
}

func (e *AnalyzeError) Error() string {
	return e.Kind
}

// Generator runs the analysis loop.
type Generator struct {
	completer llm.Completer
	validator *validator.Validator
	cfg       Config
}

func New(completer llm.Completer, v *validator.Validator, cfg Config) *Generator {
	if v == nil {
		v = validator.New()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Generator{completer: completer, validator: v, cfg: cfg}
}

type attemptState struct {
	number         int
	messages       []llm.Message
	failReasons    []string
	lastFailReason string
}

func (s *attemptState) fail(reason string) {
	s.failReasons = append(s.failReasons, reason)
}

func (s *attemptState) guide(content string) {
	s.messages = append(s.messages, llm.Message{Role: llm.RoleUser, Content: content})
}

// InputHash is the sha256 of the trimmed description.
func InputHash(description string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(description)))
	return hex.EncodeToString(sum[:])
}

// Generate runs up to Retries+1 attempts. A loop that gives up returns an
// *AnalyzeError carrying the trace.
func (g *Generator) Generate(ctx context.Context, in Input) (Result, error) {
	desc := strings.TrimSpace(in.Description)
	st := &attemptState{messages: []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(in.Deliverable, in.Language, in.Runtime)},
		{Role: llm.RoleUser, Content: desc},
	}}
	meta := Meta{
		NormalizedInputHash:  InputHash(desc),
		PromptVersion:        PromptVersion,
		SchemaVersion:        SchemaVersion,
		InteractionModelPred: "unknown",
		RequestIDs:           []string{},
		MissingFields:        []string{},
	}

	for st.number <= g.cfg.Retries {
		st.number++
		terminal := st.number > g.cfg.Retries

		resp, err := g.completer.Complete(ctx, llm.Request{
			Messages:    st.messages,
			Temperature: g.cfg.Temperature,
			JSONMode:    true,
		})
		meta.LatencyMs = resp.LatencyMs
		if resp.Provider != "" {
			meta.Provider = resp.Provider
		}
		if resp.Model != "" {
			meta.Model = resp.Model
		}
		if resp.RequestID != "" {
			meta.RequestID = resp.RequestID
			meta.RequestIDs = append(meta.RequestIDs, resp.RequestID)
		}
		if err != nil {
			st.fail("llm_error: " + err.Error())
			logger.Warn(ctx, "spec generation call failed", zap.Int("attempt", st.number), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		meta.RawText = resp.Text

		if res, done, err := g.attempt(ctx, st, &meta, in, desc, resp.Text, terminal); done {
			return res, err
		}
	}

	meta.Attempts = st.number
	meta.AttemptFailReasons = st.failReasons
	return Result{}, &AnalyzeError{Kind: KindAfterRetries, Meta: meta}
}

// attempt evaluates one reply. done reports whether the loop must stop with
// the returned result and error.
func (g *Generator) attempt(ctx context.Context, st *attemptState, meta *Meta, in Input, desc, text string, terminal bool) (Result, bool, error) {
	parsed, err := llm.ParseReply(text)
	if err != nil {
		st.fail("json_parse_fail")
		if !terminal {
			st.guide(parseGuidance)
			return Result{}, false, nil
		}
		logger.Error(ctx, "spec reply unparseable after retries, returning placeholder spec")
		return g.placeholder(st, meta, in, "final_parse_fail"), true, nil
	}

	doc, ok := parsed.(map[string]any)
	if !ok {
		return g.onSchemaError(ctx, st, meta, in, &model.SchemaError{
			Model:  "TaskSpec",
			Issues: []model.FieldIssue{{Path: "__root__", Message: "input should be a valid object, got " + model.JSONKind(parsed)}},
		}, terminal)
	}

	if d, present := doc["deliverable"]; !present || (isString(d) && d != in.Deliverable) {
		if present {
			logger.Info(ctx, "correcting deliverable drift", zap.Any("from", d), zap.String("to", in.Deliverable))
		}
		doc["deliverable"] = in.Deliverable
	}
	if in.Deliverable == model.DeliverableScript {
		if sig, ok := doc["signature"].(map[string]any); ok && sig["returns"] == "int" {
			sig["returns"] = "Any"
		}
	}
	if im, ok := doc["interaction_model"].(string); ok && im != "" {
		meta.InteractionModelPred = im
	}

	spec, err := model.DecodeSpec(doc)
	if err != nil {
		return g.onSchemaError(ctx, st, meta, in, err, terminal)
	}

	normalized, err := g.validator.ValidateAndNormalize(doc, desc)
	if err != nil {
		var verr *validator.Error
		if !stderrors.As(err, &verr) {
			return Result{}, true, err
		}
		if terminal && g.cfg.FallbackDegradation && verr.Code == validator.CodeSpecExampleMismatch {
			logger.Warn(ctx, "final attempt failed validation, widening return type", zap.String("reason", verr.Message))
			widen(&spec, AmbiguityExampleMismatch,
				fmt.Sprintf("Type mismatch detected in final attempt: %s. Resolved by widening return type.", verr.Message))
			return g.finish(st, meta, spec, spec.ToDoc(), "spec_validation_fallback: "+verr.Message), true, nil
		}

		reason := fmt.Sprintf("%s: %s (field: %s)", verr.Code, verr.Message, verr.Path)
		if reason == st.lastFailReason {
			meta.Attempts = st.number
			meta.AttemptFailReasons = append(st.failReasons, reason+" [STUCK]")
			return Result{}, true, &AnalyzeError{Kind: KindStuckValidation, Meta: *meta}
		}
		st.fail(reason)
		st.lastFailReason = reason
		st.guide(fmt.Sprintf(ruleGuidance, verr.Message, verr.Code, verr.Path))
		return Result{}, false, nil
	}

	spec, err = model.DecodeSpec(normalized)
	if err != nil {
		return g.onSchemaError(ctx, st, meta, in, err, terminal)
	}

	missing := missingFields(spec, meta.InteractionModelPred)
	if len(missing) > 0 {
		meta.MissingFields = missing
		st.fail("missing_fields: " + pyList(missing))
		st.guide(fmt.Sprintf(missingGuidance, pyList(missing)))
		return Result{}, false, nil
	}
	meta.MissingFields = []string{}

	if found := contradictions(spec); len(found) > 0 {
		if terminal && g.cfg.FallbackDegradation {
			logger.Warn(ctx, "final attempt has contradictions, widening return type", zap.Strings("contradictions", found))
			widen(&spec, AmbiguityContradiction,
				fmt.Sprintf("Contradiction detected in final attempt: %s. Resolved by widening return type.", found[0]))
			return g.finish(st, meta, spec, spec.ToDoc(), "contradictions_fallback: "+pyList(found)), true, nil
		}
		st.fail("contradictions: " + pyList(found))
		st.guide(fmt.Sprintf(contradictionGuidance, pyList(found)))
		return Result{}, false, nil
	}

	meta.Attempts = st.number
	meta.AttemptFailReasons = st.failReasons
	return Result{Doc: normalized, Spec: spec, Meta: *meta}, true, nil
}

func (g *Generator) onSchemaError(ctx context.Context, st *attemptState, meta *Meta, in Input, err error, terminal bool) (Result, bool, error) {
	var serr *model.SchemaError
	if !stderrors.As(err, &serr) {
		return Result{}, true, err
	}
	msg := serr.Error()
	if terminal && g.cfg.FallbackDegradation && (serr.HasTypeMismatch() || strings.Contains(msg, "contradicts example type")) {
		logger.Warn(ctx, "final attempt failed schema check, widening return type", zap.Strings("fields", serr.Fields()))
		spec := model.NewTaskSpec()
		if serr.Partial != nil {
			spec = *serr.Partial
		}
		spec.Deliverable = in.Deliverable
		widen(&spec, AmbiguityTypeMismatch,
			fmt.Sprintf("Type mismatch detected in final attempt: %s. Resolved by widening return type.", msg))
		return g.finish(st, meta, spec, spec.ToDoc(), "validation_fallback: "+msg), true, nil
	}
	st.fail("schema_fail: " + msg)
	if !terminal {
		st.guide(fmt.Sprintf(schemaGuidance, msg))
	}
	return Result{}, false, nil
}

func (g *Generator) finish(st *attemptState, meta *Meta, spec model.TaskSpec, doc map[string]any, reason string) Result {
	meta.Attempts = st.number
	meta.AttemptFailReasons = append(st.failReasons, reason)
	return Result{Doc: doc, Spec: spec, Meta: *meta, Degraded: true}
}

func (g *Generator) placeholder(st *attemptState, meta *Meta, in Input, reason string) Result {
	spec := model.NewTaskSpec()
	spec.GoalOneLiner = "Automatic analysis failed due to parse error. Please edit spec manually."
	spec.Deliverable = in.Deliverable
	if in.Language != "" {
		spec.Language = in.Language
	}
	if in.Runtime != "" {
		spec.Runtime = in.Runtime
	}
	spec.Signature = &model.Signature{FunctionName: "solve", Args: []string{}, Returns: "Any"}
	spec.Ambiguities = []model.Ambiguity{{
		AmbiguityID: AmbiguityParseFail,
		Question:    "The system could not parse the AI response. Please review the spec manually.",
		Choices:     []model.Choice{{ChoiceID: "ok", Text: "OK"}},
	}}
	return g.finish(st, meta, spec, spec.ToDoc(), reason)
}

// widen resolves a return type conflict by accepting any value and records
// the decision as a single-choice ambiguity.
func widen(spec *model.TaskSpec, ambiguityID, question string) {
	if spec.Signature == nil {
		spec.Signature = &model.Signature{FunctionName: "solve", Args: []string{}, Returns: "Any"}
	}
	spec.Signature.Returns = "Any"
	spec.Ambiguities = append(spec.Ambiguities, model.Ambiguity{
		AmbiguityID: ambiguityID,
		Question:    question,
		Choices:     []model.Choice{{ChoiceID: "any", Text: "Return Any (Fallback)"}},
	})
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
