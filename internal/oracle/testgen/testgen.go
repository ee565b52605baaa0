// Package testgen produces the public examples and hidden tests of a
// confirmed task spec.
package testgen

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"taskoracle/internal/oracle/llm"
	"taskoracle/internal/oracle/model"
	"taskoracle/pkg/errors"
	"taskoracle/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	PromptVersion = "v1.2-tests"

	DropSchemaFail   = "schema_fail"
	DropDuplicate    = "duplicate"
	DropCap          = "cap"
	DropInsufficient = "insufficient_candidates"

	temperature = 0.3
)

// Request describes one generation call.
type Request struct {
	Spec        model.TaskSpec
	Ambiguities []model.Ambiguity
	Selections  map[string]string
	PublicCount int
	HiddenCount int
	Difficulty  map[string]any
	Seed        int64
}

// Outcome is a filtered bundle plus the call trace.
type Outcome struct {
	Public    []model.Example
	Hidden    []model.HiddenTest
	Audit     model.DropAudit
	RawText   string
	Model     string
	Provider  string
	RequestID string
	LatencyMs int64
}

type Generator struct {
	completer llm.Completer
}

func New(completer llm.Completer) *Generator {
	return &Generator{completer: completer}
}

// HasFullConfirmations reports whether every ambiguity with an id has a selection.
func HasFullConfirmations(ambiguities []model.Ambiguity, selections map[string]string) bool {
	if len(ambiguities) == 0 {
		return true
	}
	if selections == nil {
		return false
	}
	for _, a := range ambiguities {
		if a.AmbiguityID == "" {
			continue
		}
		if _, ok := selections[a.AmbiguityID]; !ok {
			return false
		}
	}
	return true
}

// Generate asks the model for a bundle and filters the hidden candidates.
func (g *Generator) Generate(ctx context.Context, req Request) (Outcome, error) {
	if !HasFullConfirmations(req.Ambiguities, req.Selections) {
		return Outcome{}, errors.New(errors.AmbiguitiesNotConfirmed)
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return Outcome{}, errors.Wrap(err, errors.InternalServerError)
	}
	resp, err := g.completer.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		logger.Warn(ctx, "test generation call failed", zap.Error(err))
		return Outcome{}, errors.Wrapf(err, errors.LLMUnavailable, "llm_unavailable: %s", err.Error())
	}
	out := Outcome{RawText: resp.Text, Model: resp.Model, Provider: resp.Provider, RequestID: resp.RequestID, LatencyMs: resp.LatencyMs}

	parsed, err := llm.ParseReply(resp.Text)
	if err != nil {
		return out, schemaFailed([]string{"__root__"})
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return out, schemaFailed([]string{"__root__"})
	}
	public, rawHidden, err := model.DecodeTestBundle(doc)
	if err != nil {
		var serr *model.SchemaError
		if stderrors.As(err, &serr) {
			return out, schemaFailed(serr.Fields())
		}
		return out, errors.Wrap(err, errors.SchemaValidationFailed)
	}

	out.Public = public
	out.Hidden, out.Audit = Filter(rawHidden, req.HiddenCount)
	return out, nil
}

func schemaFailed(fields []string) error {
	return errors.New(errors.SchemaValidationFailed).
		WithDetail("error", "schema_validation_failed").
		WithDetail("schema_error_fields", fields)
}

// Filter dedupes hidden candidates by name and caps them to the requested
// count. Every candidate not kept counts as dropped. Drop reasons are
// reported once each, in the order first seen.
func Filter(raw []any, requested int) ([]model.HiddenTest, model.DropAudit) {
	requested = max(0, requested)
	kept := make([]model.HiddenTest, 0, len(raw))
	var reasons []string
	seen := make(map[string]struct{}, len(raw))

	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			reasons = append(reasons, DropSchemaFail)
			continue
		}
		name, _ := m["name"].(string)
		if _, dup := seen[name]; name == "" || dup {
			reasons = append(reasons, DropDuplicate)
			continue
		}
		ht, err := model.DecodeHiddenTest(m)
		if err != nil {
			reasons = append(reasons, DropSchemaFail)
			continue
		}
		seen[name] = struct{}{}
		kept = append(kept, ht)
	}

	if len(kept) > requested {
		kept = kept[:requested]
		reasons = append(reasons, DropCap)
	}
	if len(kept) < requested {
		reasons = append(reasons, DropInsufficient)
	}

	uniq := make([]string, 0, len(reasons))
	for _, r := range reasons {
		found := false
		for _, u := range uniq {
			if u == r {
				found = true
				break
			}
		}
		if !found {
			uniq = append(uniq, r)
		}
	}

	return kept, model.DropAudit{
		RequestedHiddenTestsCount: requested,
		GeneratedHiddenTestsCount: len(kept),
		DroppedHiddenTestsCount:   len(raw) - len(kept),
		DropReasons:               uniq,
	}
}

func buildPrompt(req Request) (string, error) {
	specJSON, err := json.Marshal(req.Spec)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Generate Test Cases.\n")
	fmt.Fprintf(&b, "Spec: %s\n", specJSON)
	fmt.Fprintf(&b, "Count: %d public, %d hidden.\n", req.PublicCount, req.HiddenCount)
	if len(req.Selections) > 0 {
		sel, err := json.Marshal(req.Selections)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Confirmed choices: %s\n", sel)
	}
	if len(req.Difficulty) > 0 {
		diff, err := json.Marshal(req.Difficulty)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Difficulty profile: %s\n", diff)
	}
	fmt.Fprintf(&b, "Seed: %d\n", req.Seed)
	b.WriteString(`
Output JSON Schema:
{
  "public_examples": [ { "name": "str", "input": ["args..."], "expected": any } ],
  "hidden_tests": [ { "name": "str", "input": ["args..."], "expected": any, "tags": ["str"] } ]
}
IMPORTANT Rules:
1. 'name' is MANDATORY.
2. 'input' MUST be the list of arguments passed to the function.
   - Example: func(a, b) -> input: [a, b]
   - Example: func(L) -> input: [[1, 2]] (Argument is a list, so wrap it)
3. For cli deliverables 'input' is the stdin string or {"stdin": "...", "argv": [...], "files": {...}}.
`)
	return b.String(), nil
}
