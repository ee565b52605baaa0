package generator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"taskoracle/internal/oracle/llm"
)

// scripted replies with the given texts in order and records every request.
type scripted struct {
	replies  []string
	requests []llm.Request
}

func (s *scripted) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	if s.replies[i] == "" {
		return llm.Completion{}, stderrors.New("upstream 503")
	}
	return llm.Completion{Text: s.replies[i], Model: "test-model", Provider: "test", RequestID: "req-" + string(rune('a'+len(s.requests)-1))}, nil
}

const validFunctionSpec = `{
  "goal_one_liner": "Merge overlapping intervals",
  "interaction_model": "function_single",
  "deliverable": "function",
  "language": "python",
  "runtime": "python",
  "signature": {"function_name": "merge", "args": ["intervals"], "returns": "list"},
  "constraints": ["Intervals are closed", "Output sorted by start"],
  "assumptions": [],
  "output_ops": [],
  "output_shape": {"type": "list"},
  "ambiguities": [],
  "public_examples": [{"name": "basic", "input": [[[1, 3], [2, 4]]], "expected": [[1, 4]]}],
  "confidence_reasons": ["Clear input format"]
}`

func input() Input {
	return Input{Description: "  Merge overlapping intervals  ", Language: "python", Runtime: "python", Deliverable: "function"}
}

func TestGenerateFirstAttemptSuccess(t *testing.T) {
	c := &scripted{replies: []string{"```json\n" + validFunctionSpec + "\n```"}}
	res, err := New(c, nil, Config{Retries: 2, FallbackDegradation: true}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Meta.Attempts != 1 || len(res.Meta.AttemptFailReasons) != 0 {
		t.Fatalf("unexpected meta: %+v", res.Meta)
	}
	if res.Spec.Signature.FunctionName != "merge" || res.Degraded {
		t.Fatalf("unexpected spec: %+v", res.Spec)
	}
	if res.Meta.InteractionModelPred != "function_single" || res.Meta.PromptVersion != PromptVersion {
		t.Fatalf("trace fields missing: %+v", res.Meta)
	}
	if res.Meta.NormalizedInputHash != InputHash("Merge overlapping intervals") {
		t.Fatalf("input hash should use the trimmed description")
	}
	if c.requests[0].Temperature != defaultTemperature || !c.requests[0].JSONMode {
		t.Fatalf("unexpected request options: %+v", c.requests[0])
	}
	if !strings.Contains(c.requests[0].Messages[0].Content, "- Deliverable: function") {
		t.Fatalf("system prompt should carry the deliverable")
	}
}

func TestGenerateRepairsPythonLiterals(t *testing.T) {
	reply := strings.Replace(validFunctionSpec, `[[[1, 3], [2, 4]]]`, `[[(1, 3), (2, 4)],]`, 1)
	reply = strings.Replace(reply, `"assumptions": []`, `"assumptions": [], "flag": None`, 1)
	c := &scripted{replies: []string{reply}}
	res, err := New(c, nil, Config{Retries: 0}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Meta.Attempts != 1 {
		t.Fatalf("repair should not cost an attempt")
	}
}

func TestGenerateParseFailureThenSuccess(t *testing.T) {
	c := &scripted{replies: []string{"not json at all", validFunctionSpec}}
	res, err := New(c, nil, Config{Retries: 2}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Meta.Attempts != 2 || res.Meta.AttemptFailReasons[0] != "json_parse_fail" {
		t.Fatalf("unexpected meta: %+v", res.Meta)
	}
	last := c.requests[1].Messages[len(c.requests[1].Messages)-1]
	if last.Role != llm.RoleUser || last.Content != parseGuidance {
		t.Fatalf("parse guidance not appended: %+v", last)
	}
}

func TestGenerateFinalParseFailReturnsPlaceholder(t *testing.T) {
	c := &scripted{replies: []string{"{{", "{{"}}
	res, err := New(c, nil, Config{Retries: 1}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(res.Spec.GoalOneLiner, "Automatic analysis failed") {
		t.Fatalf("expected placeholder spec, got %q", res.Spec.GoalOneLiner)
	}
	want := []string{"json_parse_fail", "json_parse_fail", "final_parse_fail"}
	if strings.Join(res.Meta.AttemptFailReasons, "|") != strings.Join(want, "|") {
		t.Fatalf("fail reasons = %v", res.Meta.AttemptFailReasons)
	}
	if len(res.Spec.Ambiguities) != 1 || res.Spec.Ambiguities[0].AmbiguityID != AmbiguityParseFail {
		t.Fatalf("placeholder ambiguity missing")
	}
}

func TestGenerateDeliverableDriftCorrected(t *testing.T) {
	reply := strings.Replace(validFunctionSpec, `"deliverable": "function"`, `"deliverable": "script"`, 1)
	c := &scripted{replies: []string{reply}}
	res, err := New(c, nil, Config{}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Spec.Deliverable != "function" || res.Doc["deliverable"] != "function" {
		t.Fatalf("deliverable drift not corrected")
	}
}

func TestGenerateStuckValidation(t *testing.T) {
	// A CLI deliverable must be named main; repeating the mistake is stuck.
	bad := strings.NewReplacer(
		`"deliverable": "function"`, `"deliverable": "cli"`,
		`"args": ["intervals"]`, `"args": []`,
	).Replace(validFunctionSpec)
	c := &scripted{replies: []string{bad}}
	in := input()
	in.Deliverable = "cli"
	_, err := New(c, nil, Config{Retries: 3}).Generate(context.Background(), in)
	var aerr *AnalyzeError
	if !stderrors.As(err, &aerr) || aerr.Kind != KindStuckValidation {
		t.Fatalf("expected stuck validation, got %v", err)
	}
	if aerr.Meta.Attempts != 2 || len(c.requests) != 2 {
		t.Fatalf("stuck detection should stop on the second identical failure, attempts=%d", aerr.Meta.Attempts)
	}
	reasons := aerr.Meta.AttemptFailReasons
	if len(reasons) != 2 || !strings.HasSuffix(reasons[1], " [STUCK]") {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if reasons[0] != "spec_invalid: CLI deliverable must have function_name='main' (field: signature.function_name)" {
		t.Fatalf("unexpected reason text: %q", reasons[0])
	}
}

func TestGenerateExampleMismatchFallback(t *testing.T) {
	bad := strings.Replace(validFunctionSpec, `"returns": "list"`, `"returns": "int"`, 1)
	c := &scripted{replies: []string{bad, strings.Replace(bad, "Merge", "Merge all", 1)}}
	res, err := New(c, nil, Config{Retries: 1, FallbackDegradation: true}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Degraded || res.Spec.Signature.Returns != "Any" {
		t.Fatalf("expected widened return, got %+v", res.Spec.Signature)
	}
	amb := res.Spec.Ambiguities[len(res.Spec.Ambiguities)-1]
	if amb.AmbiguityID != AmbiguityExampleMismatch || len(amb.Choices) != 1 || amb.Choices[0].ChoiceID != "any" {
		t.Fatalf("fallback ambiguity missing: %+v", amb)
	}
	last := res.Meta.AttemptFailReasons[len(res.Meta.AttemptFailReasons)-1]
	if !strings.HasPrefix(last, "spec_validation_fallback: ") {
		t.Fatalf("unexpected final reason %q", last)
	}
}

func TestGenerateExampleMismatchWithoutFallbackFails(t *testing.T) {
	bad := strings.Replace(validFunctionSpec, `"returns": "list"`, `"returns": "int"`, 1)
	c := &scripted{replies: []string{bad, strings.Replace(bad, "Merge", "Merge all", 1)}}
	_, err := New(c, nil, Config{Retries: 1}).Generate(context.Background(), input())
	var aerr *AnalyzeError
	if !stderrors.As(err, &aerr) || aerr.Kind != KindStuckValidation {
		t.Fatalf("expected the repeated mismatch to fail as stuck, got %v", err)
	}
}

func TestGenerateValidationFailureThenCorrected(t *testing.T) {
	bad := strings.Replace(validFunctionSpec, `"returns": "list"`, `"returns": "int"`, 1)
	c := &scripted{replies: []string{bad, validFunctionSpec}}
	res, err := New(c, nil, Config{Retries: 2}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Meta.Attempts != 2 || len(c.requests) != 2 {
		t.Fatalf("expected convergence on attempt 2, attempts=%d calls=%d", res.Meta.Attempts, len(c.requests))
	}
	if res.Degraded || res.Spec.Signature.Returns != "list" {
		t.Fatalf("corrected spec should be used as is: %+v", res.Spec.Signature)
	}
	wantReason := "spec_example_mismatch: Return type int contradicts example type list (field: public_examples)"
	if len(res.Meta.AttemptFailReasons) != 1 || res.Meta.AttemptFailReasons[0] != wantReason {
		t.Fatalf("unexpected fail reasons %v", res.Meta.AttemptFailReasons)
	}
	if res.Meta.RequestID != "req-b" || len(res.Meta.RequestIDs) != 2 {
		t.Fatalf("request ids not traced: %+v", res.Meta)
	}

	first, second := c.requests[0].Messages, c.requests[1].Messages
	if len(second) != len(first)+1 {
		t.Fatalf("second call should add exactly one guidance message, got %d -> %d", len(first), len(second))
	}
	guide := second[len(second)-1]
	want := fmt.Sprintf(ruleGuidance, "Return type int contradicts example type list", "spec_example_mismatch", "public_examples")
	if guide.Role != llm.RoleUser || guide.Content != want {
		t.Fatalf("unexpected guidance %+v", guide)
	}
}

func TestGenerateMissingFieldsGuidance(t *testing.T) {
	noShape := strings.Replace(validFunctionSpec, `"output_shape": {"type": "list"},`, ``, 1)
	c := &scripted{replies: []string{noShape, validFunctionSpec}}
	res, err := New(c, nil, Config{Retries: 1}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Meta.AttemptFailReasons[0] != "missing_fields: ['output_shape']" {
		t.Fatalf("unexpected reason %q", res.Meta.AttemptFailReasons[0])
	}
	guide := c.requests[1].Messages[2].Content
	if guide != "Validation Error: Missing required fields ['output_shape']. Please fix." {
		t.Fatalf("unexpected guidance %q", guide)
	}
}

func TestGenerateContradictionFallback(t *testing.T) {
	boolSpec := strings.NewReplacer(
		`"returns": "list"`, `"returns": "int"`,
		`"expected": [[1, 4]]`, `"expected": true`,
	).Replace(validFunctionSpec)
	c := &scripted{replies: []string{boolSpec}}
	res, err := New(c, nil, Config{Retries: 0, FallbackDegradation: true}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := "contradictions_fallback: ['return_type_conflict: signature.returns=int examples_kind=bool']"
	if res.Meta.AttemptFailReasons[0] != want {
		t.Fatalf("reason = %q", res.Meta.AttemptFailReasons[0])
	}
	amb := res.Spec.Ambiguities[len(res.Spec.Ambiguities)-1]
	if amb.AmbiguityID != AmbiguityContradiction || res.Spec.Signature.Returns != "Any" {
		t.Fatalf("contradiction not resolved: %+v", res.Spec)
	}
}

func TestGenerateSchemaTypeMismatchFallback(t *testing.T) {
	bad := strings.Replace(validFunctionSpec, `"constraints": ["Intervals are closed", "Output sorted by start"]`, `"constraints": "none"`, 1)
	c := &scripted{replies: []string{bad}}
	res, err := New(c, nil, Config{Retries: 0, FallbackDegradation: true}).Generate(context.Background(), input())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(res.Meta.AttemptFailReasons[0], "validation_fallback: 1 validation error for TaskSpec") {
		t.Fatalf("reason = %q", res.Meta.AttemptFailReasons[0])
	}
	if res.Spec.Ambiguities[len(res.Spec.Ambiguities)-1].AmbiguityID != AmbiguityTypeMismatch {
		t.Fatalf("type mismatch ambiguity missing")
	}
}

func TestGenerateLLMErrorsExhaustRetries(t *testing.T) {
	c := &scripted{replies: []string{""}}
	_, err := New(c, nil, Config{Retries: 2}).Generate(context.Background(), input())
	var aerr *AnalyzeError
	if !stderrors.As(err, &aerr) || aerr.Kind != KindAfterRetries {
		t.Fatalf("expected after-retries failure, got %v", err)
	}
	if aerr.Meta.Attempts != 3 || len(aerr.Meta.AttemptFailReasons) != 3 {
		t.Fatalf("unexpected meta: %+v", aerr.Meta)
	}
	if aerr.Meta.AttemptFailReasons[0] != "llm_error: upstream 503" {
		t.Fatalf("unexpected reason %q", aerr.Meta.AttemptFailReasons[0])
	}
}

func TestGenerateWithMockCompleter(t *testing.T) {
	res, err := New(llm.MockCompleter{}, nil, Config{Retries: 2}).Generate(context.Background(), Input{
		Description: "Print the sum of numbers read from stdin", Language: "python", Runtime: "python", Deliverable: "cli",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Spec.Signature.FunctionName != "main" || res.Meta.Provider != "mock" {
		t.Fatalf("unexpected mock result: %+v", res)
	}
}

func TestPyList(t *testing.T) {
	if got := pyList([]string{"a", "it's"}); got != `['a', "it's"]` {
		t.Fatalf("pyList = %s", got)
	}
	if got := pyList(nil); got != "[]" {
		t.Fatalf("pyList(nil) = %s", got)
	}
}
