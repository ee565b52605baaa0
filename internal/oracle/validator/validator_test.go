package validator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
)

const baseSpec = `{
	"goal_one_liner": "  merge overlapping intervals  ",
	"deliverable": "function",
	"language": "python",
	"runtime": "python",
	"signature": {"function_name": "merge", "args": ["intervals"], "returns": "list"},
	"constraints": [" sorted by start ", "", "  "],
	"ambiguities": [],
	"public_examples": [{"name": "e1", "input": [[[1,3],[2,4]]], "expected": [[1,4]]}]
}`

func doc(t *testing.T, raw string, mutate func(map[string]any)) map[string]any {
	t.Helper()
	var d map[string]any
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	if mutate != nil {
		mutate(d)
	}
	return d
}

func sig(d map[string]any) map[string]any {
	return d["signature"].(map[string]any)
}

func expectCode(t *testing.T, err error, code, path string) {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if ve.Code != code || ve.Path != path {
		t.Fatalf("got %s at %s (%s), want %s at %s", ve.Code, ve.Path, ve.Message, code, path)
	}
}

func TestValidSpecIsNormalized(t *testing.T) {
	out, err := ValidateAndNormalize(doc(t, baseSpec, nil), "merge intervals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["goal_one_liner"] != "merge overlapping intervals" {
		t.Fatalf("goal not trimmed: %q", out["goal_one_liner"])
	}
	constraints := out["constraints"].([]any)
	if len(constraints) != 1 || constraints[0] != "sorted by start" {
		t.Fatalf("constraints not normalized: %v", constraints)
	}
}

func TestStructuralRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]any)
		path   string
	}{
		{"missing goal", func(d map[string]any) { delete(d, "goal_one_liner") }, "goal_one_liner"},
		{"blank goal", func(d map[string]any) { d["goal_one_liner"] = "   " }, "goal_one_liner"},
		{"bad deliverable", func(d map[string]any) { d["deliverable"] = "daemon" }, "deliverable"},
		{"missing runtime", func(d map[string]any) { delete(d, "runtime") }, "runtime"},
		{"ambiguities not list", func(d map[string]any) { d["ambiguities"] = "none" }, "ambiguities"},
		{"examples not list", func(d map[string]any) { d["public_examples"] = map[string]any{} }, "public_examples"},
		{"signature not object", func(d map[string]any) { d["signature"] = "merge()" }, "signature"},
		{"empty function name", func(d map[string]any) { sig(d)["function_name"] = "" }, "signature.function_name"},
		{"args not list", func(d map[string]any) { sig(d)["args"] = "x" }, "signature.args"},
		{"missing returns", func(d map[string]any) { delete(sig(d), "returns") }, "signature.returns"},
		{"function named main", func(d map[string]any) { sig(d)["function_name"] = "main" }, "signature.function_name"},
		{"cli not main", func(d map[string]any) {
			d["deliverable"] = "cli"
			sig(d)["args"] = []any{}
		}, "signature.function_name"},
		{"cli with args", func(d map[string]any) {
			d["deliverable"] = "cli"
			sig(d)["function_name"] = "main"
		}, "signature.args"},
		{"script with args", func(d map[string]any) { d["deliverable"] = "script" }, "signature.args"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateAndNormalize(doc(t, baseSpec, tc.mutate), "")
			expectCode(t, err, CodeSpecInvalid, tc.path)
		})
	}
}

func TestTriggerRequiresCoveringAmbiguity(t *testing.T) {
	desc := "实现合并区间，并列怎么办需要考虑"
	_, err := ValidateAndNormalize(doc(t, baseSpec, nil), desc)
	expectCode(t, err, CodeSpecMissingAmbiguity, "ambiguities")

	covered := doc(t, baseSpec, func(d map[string]any) {
		d["ambiguities"] = []any{map[string]any{
			"ambiguity_id": "tie_rule",
			"question":     "How to order equal starts?",
			"choices":      []any{},
		}}
	})
	if _, err := ValidateAndNormalize(covered, desc); err != nil {
		t.Fatalf("covered trigger should pass: %v", err)
	}
}

func TestEnglishTriggers(t *testing.T) {
	v := New()
	cases := map[string]string{
		"Return a list or a string of names":      "output_format",
		"What happens with ties between scores?":  "tie_breaking",
		"Matching is case-sensitive probably":     "case_sensitivity",
		"If an unknown id is given, do something": "error_handling",
	}
	for desc, want := range cases {
		found := v.Scan(desc)
		if len(found) != 1 || found[0] != want {
			t.Fatalf("Scan(%q) = %v, want [%s]", desc, found, want)
		}
	}
}

func TestCustomTriggerTable(t *testing.T) {
	v := New(Trigger{Pattern: regexp.MustCompile(`(?i)unicode`), Category: "case_sensitivity"})
	if got := v.Scan("并列怎么办"); len(got) != 0 {
		t.Fatalf("custom table should replace defaults, got %v", got)
	}
	_, err := v.ValidateAndNormalize(doc(t, baseSpec, nil), "Handle Unicode names")
	expectCode(t, err, CodeSpecMissingAmbiguity, "ambiguities")
}

func TestReturnTypeContradictsExamples(t *testing.T) {
	mismatch := doc(t, baseSpec, func(d map[string]any) { sig(d)["returns"] = "int" })
	_, err := ValidateAndNormalize(mismatch, "")
	expectCode(t, err, CodeSpecExampleMismatch, "public_examples")

	broad := doc(t, baseSpec, func(d map[string]any) { sig(d)["returns"] = "Union[int, list]" })
	if _, err := ValidateAndNormalize(broad, ""); err != nil {
		t.Fatalf("union return should skip example check: %v", err)
	}

	boolExpected := doc(t, baseSpec, func(d map[string]any) {
		sig(d)["returns"] = "int"
		d["public_examples"] = []any{map[string]any{"name": "b", "input": []any{}, "expected": true}}
	})
	if _, err := ValidateAndNormalize(boolExpected, ""); err != nil {
		t.Fatalf("bool expected values are not classified: %v", err)
	}
}

func TestFloatLiteralIsNotAnInt(t *testing.T) {
	cases := []struct {
		expected string
		wantErr  bool
	}{
		{`2`, false},
		{`2.0`, true},
		{`2e3`, true},
		{`-7`, false},
	}
	for _, c := range cases {
		raw := `{"name": "e1", "input": [], "expected": ` + c.expected + `}`
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var ex map[string]any
		if err := dec.Decode(&ex); err != nil {
			t.Fatalf("bad fixture: %v", err)
		}
		d := doc(t, baseSpec, func(d map[string]any) {
			sig(d)["returns"] = "int"
			d["public_examples"] = []any{ex}
		})
		_, err := ValidateAndNormalize(d, "")
		if c.wantErr {
			expectCode(t, err, CodeSpecExampleMismatch, "public_examples")
		} else if err != nil {
			t.Fatalf("expected %s should match int: %v", c.expected, err)
		}
	}
}

func TestOutputAmbiguityRequiresWideReturn(t *testing.T) {
	d := doc(t, baseSpec, func(d map[string]any) {
		d["ambiguities"] = []any{map[string]any{"ambiguity_id": "output_shape", "question": "Single string or list?"}}
	})
	_, err := ValidateAndNormalize(d, "")
	expectCode(t, err, CodeSpecInvalid, "signature.returns")

	d = doc(t, baseSpec, func(d map[string]any) {
		sig(d)["returns"] = "Any"
		d["ambiguities"] = []any{map[string]any{"ambiguity_id": "output_shape", "question": "Single string or list?"}}
	})
	if _, err := ValidateAndNormalize(d, ""); err != nil {
		t.Fatalf("Any return should satisfy wide-return rule: %v", err)
	}
}

func TestAmbiguityIDsDeduplicated(t *testing.T) {
	d := doc(t, baseSpec, func(d map[string]any) {
		d["ambiguities"] = []any{
			map[string]any{"ambiguity_id": "dup", "question": "a"},
			map[string]any{"ambiguity_id": "dup", "question": "b"},
			map[string]any{"ambiguity_id": "dup", "question": "c"},
			map[string]any{"question": "d"},
			map[string]any{"question": "e"},
		}
	})
	out, err := ValidateAndNormalize(d, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"dup", "dup_2", "dup_3", "ambiguity", "ambiguity_2"}
	for i, a := range out["ambiguities"].([]any) {
		if got := a.(map[string]any)["ambiguity_id"]; got != want[i] {
			t.Fatalf("ambiguity %d id = %v, want %s", i, got, want[i])
		}
	}
}
