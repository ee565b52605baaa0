// Package validator checks generated task specs for structural and semantic
// problems and normalizes them.
package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"taskoracle/internal/oracle/model"
)

const (
	CodeSpecInvalid          = "spec_invalid"
	CodeSpecMissingAmbiguity = "spec_missing_ambiguity"
	CodeSpecExampleMismatch  = "spec_example_mismatch"
)

// Error is a validation failure with the offending field path.
type Error struct {
	Code    string
	Path    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
}

func invalid(path, msg string) *Error {
	return &Error{Code: CodeSpecInvalid, Path: path, Message: msg}
}

// Validator runs the rule set against spec documents.
type Validator struct {
	triggers []Trigger
}

// New builds a validator; with no triggers the default table is used.
func New(triggers ...Trigger) *Validator {
	if len(triggers) == 0 {
		triggers = DefaultTriggers
	}
	return &Validator{triggers: triggers}
}

var defaultValidator = New()

// ValidateAndNormalize checks doc with the default trigger table.
func ValidateAndNormalize(doc map[string]any, description string) (map[string]any, error) {
	return defaultValidator.ValidateAndNormalize(doc, description)
}

// Scan returns the trigger categories found in description, in table order.
func (v *Validator) Scan(description string) []string {
	var found []string
	seen := make(map[string]struct{})
	for _, t := range v.triggers {
		if _, ok := seen[t.Category]; ok {
			continue
		}
		if t.Pattern.MatchString(description) {
			seen[t.Category] = struct{}{}
			found = append(found, t.Category)
		}
	}
	return found
}

// ValidateAndNormalize checks doc and returns it normalized in place. The
// returned error is a *Error.
func (v *Validator) ValidateAndNormalize(doc map[string]any, description string) (map[string]any, error) {
	if err := checkRequired(doc); err != nil {
		return nil, err
	}
	sig, err := checkSignature(doc["signature"])
	if err != nil {
		return nil, err
	}
	if err := checkDeliverable(doc["deliverable"].(string), sig); err != nil {
		return nil, err
	}

	ambiguities := asObjects(doc["ambiguities"])
	for _, category := range v.Scan(description) {
		if !anyCovers(ambiguities, Categories[category]) {
			return nil, &Error{
				Code:    CodeSpecMissingAmbiguity,
				Path:    "ambiguities",
				Message: "Missing ambiguity for detected trigger: " + category,
			}
		}
	}

	if err := checkExamples(sig.returns, asObjects(doc["public_examples"])); err != nil {
		return nil, err
	}

	if anyCovers(ambiguities, wideReturnKeywords) {
		if sig.returns != "Any" && !strings.Contains(sig.returns, "Union") {
			return nil, invalid("signature.returns", "Ambiguous output format requires Any or Union return type")
		}
	}

	normalize(doc, ambiguities)
	return doc, nil
}

var requiredFields = []string{"goal_one_liner", "deliverable", "language", "runtime", "signature", "ambiguities", "public_examples"}

func checkRequired(doc map[string]any) error {
	for _, field := range requiredFields {
		val, ok := doc[field]
		if !ok {
			return invalid(field, "Missing required field")
		}
		switch field {
		case "goal_one_liner":
			if s, ok := val.(string); !ok || strings.TrimSpace(s) == "" {
				return invalid(field, "Must be non-empty string")
			}
		case "deliverable":
			if s, ok := val.(string); !ok || !model.ValidDeliverable(s) {
				return invalid(field, "Must be 'cli', 'function', or 'script'")
			}
		case "ambiguities", "public_examples":
			if _, ok := val.([]any); !ok {
				return invalid(field, "Must be a list")
			}
		}
	}
	return nil
}

type signature struct {
	name    string
	args    []any
	returns string
}

func checkSignature(v any) (signature, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return signature{}, invalid("signature", "Must be a dict")
	}
	name, ok := m["function_name"].(string)
	if !ok || name == "" {
		return signature{}, invalid("signature.function_name", "Must be non-empty string")
	}
	args, ok := m["args"].([]any)
	if !ok {
		return signature{}, invalid("signature.args", "Must be a list of strings")
	}
	returns, ok := m["returns"].(string)
	if !ok || returns == "" {
		return signature{}, invalid("signature.returns", "Must be non-empty string")
	}
	return signature{name: name, args: args, returns: returns}, nil
}

func checkDeliverable(deliverable string, sig signature) error {
	switch deliverable {
	case model.DeliverableCLI:
		if sig.name != "main" {
			return invalid("signature.function_name", "CLI deliverable must have function_name='main'")
		}
		if len(sig.args) != 0 {
			return invalid("signature.args", "CLI deliverable must have args=[]")
		}
	case model.DeliverableScript:
		if len(sig.args) != 0 {
			return invalid("signature.args", "SCRIPT deliverable must have args=[]")
		}
	case model.DeliverableFunction:
		if sig.name == "main" {
			return invalid("signature.function_name", "Function deliverable must not be 'main'")
		}
	}
	return nil
}

func checkExamples(returns string, examples []map[string]any) error {
	if _, strict := strictReturnKinds[returns]; !strict {
		return nil
	}
	for _, ex := range examples {
		kind := GuessKind(ex["expected"])
		if kind != "unknown" && kind != returns {
			return &Error{
				Code:    CodeSpecExampleMismatch,
				Path:    "public_examples",
				Message: fmt.Sprintf("Return type %s contradicts example type %s", returns, kind),
			}
		}
	}
	return nil
}

// GuessKind infers int/float/str/list/dict from a decoded JSON value.
// Booleans and nulls are "unknown".
func GuessKind(v any) string {
	switch kind := model.JSONKind(v); kind {
	case "int", "float", "str", "list", "dict":
		return kind
	}
	return "unknown"
}

func anyCovers(ambiguities []map[string]any, keywords []string) bool {
	for _, amb := range ambiguities {
		id := strings.ToLower(stringOf(amb["ambiguity_id"]))
		q := strings.ToLower(stringOf(amb["question"]))
		for _, k := range keywords {
			if strings.Contains(id, k) || strings.Contains(q, k) {
				return true
			}
		}
	}
	return false
}

func normalize(doc map[string]any, ambiguities []map[string]any) {
	if raw, ok := doc["constraints"].([]any); ok {
		cleaned := make([]any, 0, len(raw))
		for _, c := range raw {
			s, ok := c.(string)
			if !ok {
				cleaned = append(cleaned, c)
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		doc["constraints"] = cleaned
	}

	doc["goal_one_liner"] = strings.TrimSpace(doc["goal_one_liner"].(string))

	used := make(map[string]struct{}, len(ambiguities))
	for _, amb := range ambiguities {
		base := "ambiguity"
		if raw, ok := amb["ambiguity_id"]; ok && raw != nil {
			base = stringOf(raw)
		}
		id := base
		for n := 2; ; n++ {
			if _, taken := used[id]; !taken {
				break
			}
			id = base + "_" + strconv.Itoa(n)
		}
		amb["ambiguity_id"] = id
		used[id] = struct{}{}
	}
}

// asObjects returns the object items of a JSON list, sharing the underlying maps.
func asObjects(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
