package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldIssue is one schema violation at a dotted path.
type FieldIssue struct {
	Path    string
	Message string
}

// SchemaError reports every field of a document that does not fit the schema.
// Partial holds the document decoded with the offending fields left at defaults.
type SchemaError struct {
	Model   string
	Issues  []FieldIssue
	Partial *TaskSpec
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	plural := "s"
	if len(e.Issues) == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "%d validation error%s for %s", len(e.Issues), plural, e.Model)
	for _, is := range e.Issues {
		fmt.Fprintf(&b, "\n%s\n  %s", is.Path, is.Message)
	}
	return b.String()
}

// Fields returns the unique offending paths in order.
func (e *SchemaError) Fields() []string {
	out := make([]string, 0, len(e.Issues))
	seen := make(map[string]struct{}, len(e.Issues))
	for _, is := range e.Issues {
		if _, ok := seen[is.Path]; ok {
			continue
		}
		seen[is.Path] = struct{}{}
		out = append(out, is.Path)
	}
	return out
}

// HasTypeMismatch reports whether any issue is a wrong-type value rather than a missing one.
func (e *SchemaError) HasTypeMismatch() bool {
	for _, is := range e.Issues {
		if strings.HasPrefix(is.Message, "type mismatch") {
			return true
		}
	}
	return false
}

type checker struct {
	issues []FieldIssue
}

func (c *checker) missing(path string) {
	c.issues = append(c.issues, FieldIssue{Path: path, Message: "field required"})
}

func (c *checker) mismatch(path, want string, got any) {
	c.issues = append(c.issues, FieldIssue{
		Path:    path,
		Message: fmt.Sprintf("type mismatch: expected %s, got %s", want, JSONKind(got)),
	})
}

func (c *checker) str(doc map[string]any, key string, dst *string) {
	v, ok := doc[key]
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		c.mismatch(key, "string", v)
		return
	}
	*dst = s
}

func (c *checker) strList(path string, v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		c.mismatch(path, "list", v)
		return nil, false
	}
	out := make([]string, 0, len(items))
	valid := true
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			c.mismatch(path+"."+strconv.Itoa(i), "string", item)
			valid = false
			continue
		}
		out = append(out, s)
	}
	return out, valid
}

func (c *checker) strListField(doc map[string]any, key string, dst *[]string) {
	v, ok := doc[key]
	if !ok {
		return
	}
	if out, ok := c.strList(key, v); ok {
		*dst = out
	}
}

// DecodeSpec checks doc against the TaskSpec schema and converts it. On
// failure the returned error is a *SchemaError.
func DecodeSpec(doc map[string]any) (TaskSpec, error) {
	spec := NewTaskSpec()
	c := &checker{}

	c.str(doc, "goal_one_liner", &spec.GoalOneLiner)
	c.str(doc, "deliverable", &spec.Deliverable)
	c.str(doc, "language", &spec.Language)
	c.str(doc, "runtime", &spec.Runtime)
	if im, ok := doc["interaction_model"].(string); ok {
		spec.InteractionModel = im
	}

	if v, ok := doc["signature"]; ok && v != nil {
		spec.Signature = c.signature(v)
	}

	c.strListField(doc, "constraints", &spec.Constraints)
	c.strListField(doc, "assumptions", &spec.Assumptions)
	c.strListField(doc, "output_ops", &spec.OutputOps)
	c.strListField(doc, "confidence_reasons", &spec.ConfidenceReasons)

	if v, ok := doc["output_shape"]; ok {
		if m, ok := v.(map[string]any); ok {
			spec.OutputShape = m
		} else {
			c.mismatch("output_shape", "object", v)
		}
	}

	if v, ok := doc["ambiguities"]; ok {
		if ambs, ok := c.ambiguities(v); ok {
			spec.Ambiguities = ambs
		}
	}

	if v, ok := doc["public_examples"]; ok {
		if exs, ok := c.examples("public_examples", v); ok {
			spec.PublicExamples = exs
		}
	}

	spec.ApplyDefaults()
	if len(c.issues) > 0 {
		partial := spec
		return spec, &SchemaError{Model: "TaskSpec", Issues: c.issues, Partial: &partial}
	}
	return spec, nil
}

func (c *checker) signature(v any) *Signature {
	m, ok := v.(map[string]any)
	if !ok {
		c.mismatch("signature", "object", v)
		return nil
	}
	sig := &Signature{FunctionName: "solve", Args: []string{}, Returns: "Any"}
	before := len(c.issues)
	if fn, ok := m["function_name"]; ok {
		if s, ok := fn.(string); ok {
			sig.FunctionName = s
		} else {
			c.mismatch("signature.function_name", "string", fn)
		}
	}
	if args, ok := m["args"]; ok {
		if out, ok := c.strList("signature.args", args); ok {
			sig.Args = out
		}
	}
	if r, ok := m["returns"]; ok {
		if s, ok := r.(string); ok {
			sig.Returns = s
		} else {
			c.mismatch("signature.returns", "string", r)
		}
	}
	if len(c.issues) > before {
		return nil
	}
	return sig
}

func (c *checker) ambiguities(v any) ([]Ambiguity, bool) {
	items, ok := v.([]any)
	if !ok {
		c.mismatch("ambiguities", "list", v)
		return nil, false
	}
	out := make([]Ambiguity, 0, len(items))
	valid := true
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			c.mismatch("ambiguities."+strconv.Itoa(i), "object", item)
			valid = false
			continue
		}
		out = append(out, AmbiguityFromDoc(m))
	}
	return out, valid
}

// AmbiguityFromDoc converts a loosely typed ambiguity object.
func AmbiguityFromDoc(m map[string]any) Ambiguity {
	a := Ambiguity{
		AmbiguityID: looseString(m["ambiguity_id"]),
		Question:    looseString(m["question"]),
		Description: looseString(m["description"]),
		Choices:     []Choice{},
	}
	if choices, ok := m["choices"].([]any); ok {
		for _, ch := range choices {
			switch cv := ch.(type) {
			case string:
				a.Choices = append(a.Choices, Choice{ChoiceID: cv, Text: cv})
			case map[string]any:
				a.Choices = append(a.Choices, Choice{ChoiceID: looseString(cv["choice_id"]), Text: looseString(cv["text"])})
			}
		}
	}
	return a
}

func (c *checker) examples(path string, v any) ([]Example, bool) {
	items, ok := v.([]any)
	if !ok {
		c.mismatch(path, "list", v)
		return nil, false
	}
	out := make([]Example, 0, len(items))
	valid := true
	for i, item := range items {
		p := path + "." + strconv.Itoa(i)
		m, ok := item.(map[string]any)
		if !ok {
			c.mismatch(p, "object", item)
			valid = false
			continue
		}
		before := len(c.issues)
		ex := Example{Input: m["input"], Expected: m["expected"]}
		if name, ok := m["name"]; !ok {
			c.missing(p + ".name")
		} else if s, ok := name.(string); !ok {
			c.mismatch(p+".name", "string", name)
		} else {
			ex.Name = s
		}
		if _, ok := m["input"]; !ok {
			c.missing(p + ".input")
		}
		if _, ok := m["expected"]; !ok {
			c.missing(p + ".expected")
		}
		if e, ok := m["explanation"]; ok && e != nil {
			if s, ok := e.(string); ok {
				ex.Explanation = &s
			} else {
				c.mismatch(p+".explanation", "string", e)
			}
		}
		if len(c.issues) > before {
			valid = false
			continue
		}
		out = append(out, ex)
	}
	return out, valid
}

// DecodeTestBundle checks the top-level shape of a generated bundle. Public
// examples are decoded strictly; hidden test items are returned raw so the
// caller can account for each dropped candidate.
func DecodeTestBundle(doc map[string]any) ([]Example, []any, error) {
	c := &checker{}
	var public []Example
	var hidden []any

	if v, ok := doc["public_examples"]; !ok {
		c.missing("public_examples")
	} else if exs, ok := c.examples("public_examples", v); ok {
		public = exs
	}
	if v, ok := doc["hidden_tests"]; !ok {
		c.missing("hidden_tests")
	} else if items, ok := v.([]any); ok {
		hidden = items
	} else {
		c.mismatch("hidden_tests", "list", v)
	}
	if len(c.issues) > 0 {
		return nil, nil, &SchemaError{Model: "GeneratedTests", Issues: c.issues}
	}
	return public, hidden, nil
}

// DecodeHiddenTest converts one hidden test candidate.
func DecodeHiddenTest(item any) (HiddenTest, error) {
	c := &checker{}
	m, ok := item.(map[string]any)
	if !ok {
		c.mismatch("hidden_test", "object", item)
		return HiddenTest{}, &SchemaError{Model: "HiddenTest", Issues: c.issues}
	}
	ht := HiddenTest{Input: m["input"], Expected: m["expected"], Tags: []string{}, Weight: 1.0}
	if name, ok := m["name"]; !ok {
		c.missing("name")
	} else if s, ok := name.(string); ok {
		ht.Name = s
	} else {
		c.mismatch("name", "string", name)
	}
	if _, ok := m["input"]; !ok {
		c.missing("input")
	}
	if _, ok := m["expected"]; !ok {
		c.missing("expected")
	}
	if v, ok := m["tags"]; ok && v != nil {
		if tags, ok := c.strList("tags", v); ok {
			ht.Tags = tags
		}
	}
	if v, ok := m["weight"]; ok && v != nil {
		if w, ok := number(v); ok {
			ht.Weight = w
		} else {
			c.mismatch("weight", "number", v)
		}
	}
	if len(c.issues) > 0 {
		return HiddenTest{}, &SchemaError{Model: "HiddenTest", Issues: c.issues}
	}
	return ht, nil
}

// JSONKind names the JSON type of a decoded value. A json.Number is a float
// when its literal has a fraction or exponent, so 2.0 is not an int.
func JSONKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		if strings.ContainsAny(x.String(), ".eE") {
			return "float"
		}
		return "int"
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return "int"
		}
		return "float"
	case int, int64:
		return "int"
	case string:
		return "str"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	}
	return "unknown"
}

func looseString(v any) string {
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

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
