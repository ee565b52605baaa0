package generator

import (
	"regexp"
	"strings"

	"taskoracle/internal/oracle/confidence"
	"taskoracle/internal/oracle/model"
)

const (
	ReasonOptionalUpgrade = "signature_return_upgraded_to_optional"
	// OptionalConfidenceCap bounds the score of a spec whose return type was
	// widened to Optional.
	OptionalConfidenceCap = 0.85

	minExtractedRuleLen = 5
	extractedRulesNote  = "[Internal] Constraints were auto-extracted from description due to LLM omission."
	sortedConstraint    = "Return intervals sorted by start in ascending order."
	emptyConstraint     = "If input is empty, return an empty list."
)

var (
	ruleKeywords     = []string{"规则", "要求", "rules", "requirements", "must", "should"}
	sortingKeywords  = []string{"sorted", "ascending", "order by", "increasing", "排序", "从小到大", "升序", "按起点", "按 start"}
	emptyKeywords    = []string{"empty", "no intervals", "为空", "空列表", "空输入", "没有任何区间"}
	listAskKeywords  = []string{"list of lists", "list[list", "[[int"}
	noneReturnSignal = []string{"return none", "returns none", "none if", "返回 none", "返回空", "不存在则返回 none"}
	atomicReturns    = map[string]struct{}{"str": {}, "int": {}, "bool": {}, "float": {}, "list": {}, "dict": {}, "set": {}, "tuple": {}}

	rulePrefix = regexp.MustCompile(`^(\d+[\.\)]|\-|\*)\s+`)
)

// Processed is a generated spec after the deterministic coverage patches.
type Processed struct {
	Spec model.TaskSpec
	// UserFacing are the ambiguities the caller must confirm. Spec.Ambiguities
	// holds the same list.
	UserFacing        []model.Ambiguity
	Internal          []string
	Confidence        float64
	ConfidenceReasons []string
	Status            model.Status
}

// PostProcess patches rule coverage the model commonly omits, separates
// auto-resolved ambiguities from user-facing ones and scores the result.
func PostProcess(spec model.TaskSpec, description string) Processed {
	descLower := strings.ToLower(description)
	constraints := append([]string{}, spec.Constraints...)
	assumptions := append([]string{}, spec.Assumptions...)

	if len(constraints) == 0 && containsAny(descLower, ruleKeywords) {
		if rules := extractRules(description); len(rules) > 0 {
			constraints = append(constraints, rules...)
			assumptions = append(assumptions, extractedRulesNote)
		}
	}

	if containsAny(descLower, sortingKeywords) && !anyConstraint(constraints, "sort", "order", "排序", "升序") {
		constraints = append(constraints, sortedConstraint)
	}
	if containsAny(descLower, emptyKeywords) && !anyConstraint(constraints, "empty", "空") {
		constraints = append(constraints, emptyConstraint)
	}

	if !containsAny(descLower, listAskKeywords) {
		relaxListWording(constraints)
		relaxListWording(assumptions)
	}

	userFacing := make([]model.Ambiguity, 0, len(spec.Ambiguities))
	var internal []string
	for _, amb := range spec.Ambiguities {
		switch {
		case amb.AmbiguityID == AmbiguityContradiction:
			internal = append(internal, amb.Text())
		case len(amb.Choices) <= 1:
			internal = append(internal, "Auto-confirmed single choice: "+amb.Text())
		default:
			if amb.Description == "" {
				amb.Description = amb.Question
			}
			userFacing = append(userFacing, amb)
		}
	}
	for _, msg := range internal {
		assumptions = append(assumptions, "[Internal] "+msg)
	}

	spec.Constraints = constraints
	spec.Assumptions = assumptions
	spec.Ambiguities = userFacing

	conf, reasons := confidence.Initial(spec, nil)

	if spec.Signature != nil && needsOptional(constraints, assumptions, descLower) {
		if _, atomic := atomicReturns[spec.Signature.Returns]; atomic {
			sig := *spec.Signature
			sig.Returns = "Optional[" + sig.Returns + "]"
			spec.Signature = &sig
			reasons = append(reasons, ReasonOptionalUpgrade)
			conf = min(conf, OptionalConfidenceCap)
		}
	}

	conf = confidence.ApplyFloor(conf, len(userFacing))
	return Processed{
		Spec:              spec,
		UserFacing:        userFacing,
		Internal:          internal,
		Confidence:        conf,
		ConfidenceReasons: reasons,
		Status:            confidence.StatusFor(conf, len(userFacing)),
	}
}

// extractRules pulls numbered or bulleted lines out of a description.
func extractRules(description string) []string {
	var rules []string
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if !rulePrefix.MatchString(line) {
			continue
		}
		content := strings.TrimSpace(rulePrefix.ReplaceAllString(line, ""))
		if len([]rune(content)) > minExtractedRuleLen {
			rules = append(rules, content)
		}
	}
	return rules
}

func anyConstraint(constraints []string, needles ...string) bool {
	for _, c := range constraints {
		lower := strings.ToLower(c)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
	}
	return false
}

func relaxListWording(items []string) {
	for i, s := range items {
		if strings.Contains(strings.ToLower(s), "list of lists") {
			items[i] = strings.ReplaceAll(s, "list of lists", "list of tuples or lists (pairs)")
		}
	}
}

func needsOptional(constraints, assumptions []string, descLower string) bool {
	for _, group := range [][]string{constraints, assumptions, {descLower}} {
		for _, text := range group {
			if containsAny(strings.ToLower(text), noneReturnSignal) {
				return true
			}
		}
	}
	return false
}
