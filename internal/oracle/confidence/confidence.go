// Package confidence scores how trustworthy a task spec is as a grading contract.
package confidence

import "taskoracle/internal/oracle/model"

const (
	// Floor is the confidence below which a version is marked low_confidence.
	Floor = 0.4

	baseline        = 0.9
	goalPenalty     = 0.2
	weakPenalty     = 0.1
	noHiddenPenalty = 0.1
	ambiguityCap    = 0.4
	noRulesCap      = 0.4
	sparseBoost     = 0.5
)

// Initial scores a spec from its completeness and the ambiguity confirmation state.
// Every ambiguity in spec with a non-empty id must appear in selections for the
// ambiguity cap to lift.
func Initial(spec model.TaskSpec, selections map[string]string) (float64, []string) {
	reasons := []string{}
	conf := baseline

	if spec.GoalOneLiner == "" {
		conf -= goalPenalty
		reasons = append(reasons, "missing_goal")
	}

	if len(spec.Ambiguities) > 0 {
		if allResolved(spec.Ambiguities, selections) {
			reasons = append(reasons, "ambiguities_resolved")
		} else {
			conf = min(conf, ambiguityCap)
			reasons = append(reasons, "has_ambiguities")
		}
	}

	switch {
	case len(spec.Constraints) == 0:
		conf = min(conf, noRulesCap)
		reasons = append(reasons, "missing_constraints")
	case len(spec.Constraints) < 2:
		conf -= weakPenalty
		reasons = append(reasons, "weak_constraints")
	}

	return max(0, conf), reasons
}

func allResolved(ambiguities []model.Ambiguity, selections map[string]string) bool {
	if len(selections) == 0 {
		return false
	}
	needed := 0
	for _, a := range ambiguities {
		if a.AmbiguityID == "" {
			continue
		}
		needed++
		if _, ok := selections[a.AmbiguityID]; !ok {
			return false
		}
	}
	return needed > 0
}

// PostTests adjusts the confidence once the hidden bundle is known.
func PostTests(initial float64, hidden []model.HiddenTest) (float64, []string) {
	reasons := []string{}
	conf := initial
	if len(hidden) == 0 {
		conf -= noHiddenPenalty
		reasons = append(reasons, "no_hidden_tests")
	}
	return conf, reasons
}

// ApplyFloor lifts a borderline score when no user-facing ambiguity remains,
// so complete but sparse specs are not classified unusable.
func ApplyFloor(conf float64, userFacing int) float64 {
	if userFacing == 0 && conf < Floor {
		return max(conf, sparseBoost)
	}
	return conf
}

// StatusFor derives the version status from the remaining ambiguities and score.
func StatusFor(conf float64, userFacing int) model.Status {
	return StatusAt(conf, Floor, userFacing)
}

// StatusAt is StatusFor with a configurable floor.
func StatusAt(conf, floor float64, userFacing int) model.Status {
	if conf < floor {
		return model.StatusLowConfidence
	}
	if userFacing > 0 {
		return model.StatusAwaitingConfirmation
	}
	return model.StatusReady
}
