package generator

import (
	"fmt"
	"strings"

	"taskoracle/internal/oracle/model"
)

var outputDecisionKeywords = []string{"return", "output", "format", "shape", "list vs string", "single string"}

// missingFields lists the fields an interaction model needs but the spec lacks.
func missingFields(spec model.TaskSpec, interactionModel string) []string {
	var missing []string
	if spec.GoalOneLiner == "" {
		missing = append(missing, "goal_one_liner")
	}
	if spec.Deliverable == "" {
		missing = append(missing, "deliverable")
	}

	switch {
	case interactionModel == "stateful_ops" || spec.Deliverable == model.DeliverableFunction:
		if spec.Signature == nil {
			missing = append(missing, "signature")
		} else {
			if spec.Signature.FunctionName == "" {
				missing = append(missing, "signature.function_name")
			}
			if spec.Signature.Args == nil {
				missing = append(missing, "signature.args")
			}
		}
		if len(spec.OutputShape) == 0 {
			missing = append(missing, "output_shape")
		}
		if interactionModel == "stateful_ops" && len(spec.OutputOps) == 0 {
			missing = append(missing, "output_ops")
		}
	case interactionModel == "cli_stdio" || spec.Deliverable == model.DeliverableCLI:
		if spec.Signature == nil {
			missing = append(missing, "signature")
		}
	}
	return missing
}

// exampleKind classifies an expected value the way the contradiction check
// sees it; booleans are their own kind here.
func exampleKind(v any) string {
	switch kind := model.JSONKind(v); kind {
	case "list", "str", "bool", "int", "float", "dict":
		return kind
	}
	return "unknown"
}

// contradictions reports conflicts between the declared return type, the
// examples and the open output decisions.
func contradictions(spec model.TaskSpec) []string {
	var found []string
	if spec.Signature == nil {
		return found
	}
	ret := spec.Signature.Returns

	if len(spec.PublicExamples) > 0 && ret != "Any" && ret != "Union" && ret != "unknown" && !strings.Contains(ret, "Union") {
		for _, ex := range spec.PublicExamples {
			kind := exampleKind(ex.Expected)
			if kind != "unknown" && kind != ret {
				found = append(found, fmt.Sprintf("return_type_conflict: signature.returns=%s examples_kind=%s", ret, kind))
				break
			}
		}
	}

	if len(spec.Ambiguities) > 0 && !spec.Signature.IsBroadReturn() {
		for _, amb := range spec.Ambiguities {
			id := strings.ToLower(amb.AmbiguityID)
			q := strings.ToLower(amb.Question)
			if containsAny(id, outputDecisionKeywords) || containsAny(q, outputDecisionKeywords) {
				found = append(found, fmt.Sprintf("ambiguous_return_type_requires_broad_signature: signature.returns=%s", ret))
				break
			}
		}
	}
	return found
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// pyList renders a string list the way fail reasons have always been
// recorded, e.g. ['a', 'b'].
func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
			quoted[i] = `"` + s + `"`
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
