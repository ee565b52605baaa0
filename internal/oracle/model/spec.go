package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	DeliverableFunction = "function"
	DeliverableCLI      = "cli"
	DeliverableScript   = "script"
)

// ValidDeliverable reports whether d is one of the supported deliverable kinds.
func ValidDeliverable(d string) bool {
	switch d {
	case DeliverableFunction, DeliverableCLI, DeliverableScript:
		return true
	}
	return false
}

// Signature describes the callable the candidate must provide.
type Signature struct {
	FunctionName string   `json:"function_name"`
	Args         []string `json:"args"`
	Returns      string   `json:"returns"`
}

// IsBroadReturn reports whether the declared return type accepts any shape.
func (s *Signature) IsBroadReturn() bool {
	if s == nil {
		return true
	}
	return s.Returns == "Any" || strings.Contains(s.Returns, "Union")
}

type Choice struct {
	ChoiceID string `json:"choice_id"`
	Text     string `json:"text"`
}

// UnmarshalJSON accepts a bare string as a choice whose id and text are equal.
func (c *Choice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.ChoiceID, c.Text = s, s
		return nil
	}
	type plain Choice
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Choice(p)
	return nil
}

type Ambiguity struct {
	AmbiguityID string   `json:"ambiguity_id"`
	Question    string   `json:"question"`
	Description string   `json:"description,omitempty"`
	Choices     []Choice `json:"choices"`
}

// ChoiceIDs returns the set of selectable choice ids.
func (a Ambiguity) ChoiceIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(a.Choices))
	for _, c := range a.Choices {
		out[c.ChoiceID] = struct{}{}
	}
	return out
}

// Text returns the question, falling back to the description.
func (a Ambiguity) Text() string {
	if a.Question != "" {
		return a.Question
	}
	return a.Description
}

// Example is a public example. Input is the positional argument list in
// function mode, or a string / {stdin, argv, files} object in CLI mode.
type Example struct {
	Name        string  `json:"name"`
	Input       any     `json:"input"`
	Expected    any     `json:"expected"`
	Explanation *string `json:"explanation"`
}

type HiddenTest struct {
	Name     string   `json:"name"`
	Input    any      `json:"input"`
	Expected any      `json:"expected"`
	Tags     []string `json:"tags"`
	Weight   float64  `json:"weight"`
}

// TestBundle is the decoded shape of a test-generation reply.
type TestBundle struct {
	PublicExamples []Example    `json:"public_examples"`
	HiddenTests    []HiddenTest `json:"hidden_tests"`
}

// TaskSpec is the machine-checkable contract for one task version.
type TaskSpec struct {
	GoalOneLiner      string         `json:"goal_one_liner"`
	InteractionModel  string         `json:"interaction_model,omitempty"`
	Deliverable       string         `json:"deliverable"`
	Language          string         `json:"language"`
	Runtime           string         `json:"runtime"`
	Signature         *Signature     `json:"signature"`
	Constraints       []string       `json:"constraints"`
	Assumptions       []string       `json:"assumptions"`
	OutputOps         []string       `json:"output_ops"`
	OutputShape       map[string]any `json:"output_shape"`
	Ambiguities       []Ambiguity    `json:"ambiguities"`
	PublicExamples    []Example      `json:"public_examples"`
	ConfidenceReasons []string       `json:"confidence_reasons"`
}

// NewTaskSpec returns a spec with every field at its default.
func NewTaskSpec() TaskSpec {
	return TaskSpec{
		Deliverable:       DeliverableFunction,
		Language:          "python",
		Runtime:           "python",
		Constraints:       []string{},
		Assumptions:       []string{},
		OutputOps:         []string{},
		OutputShape:       map[string]any{},
		Ambiguities:       []Ambiguity{},
		PublicExamples:    []Example{},
		ConfidenceReasons: []string{},
	}
}

// ApplyDefaults fills a missing signature from the deliverable kind and narrows
// predicate-style function names to bool.
func (s *TaskSpec) ApplyDefaults() {
	switch s.Deliverable {
	case DeliverableCLI:
		if s.Signature == nil {
			s.Signature = &Signature{FunctionName: "main", Args: []string{}, Returns: "int"}
		}
	case DeliverableFunction:
		if s.Signature == nil {
			s.Signature = &Signature{FunctionName: "solve", Args: []string{"ops"}, Returns: "list"}
		}
		name := strings.ToLower(s.Signature.FunctionName)
		if strings.HasPrefix(name, "is_") || strings.HasPrefix(name, "has_") || strings.HasPrefix(name, "check_") {
			if s.Signature.Returns == "Any" {
				s.Signature.Returns = "bool"
			}
		}
	}
}

// ToDoc converts the spec into a generic JSON document.
func (s TaskSpec) ToDoc() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return map[string]any{}
	}
	return doc
}

// SpecSummary is the projection returned by the API.
type SpecSummary struct {
	GoalOneLiner string     `json:"goal_one_liner"`
	Deliverable  string     `json:"deliverable"`
	Language     string     `json:"language"`
	Runtime      string     `json:"runtime"`
	Signature    *Signature `json:"signature"`
	Constraints  []string   `json:"constraints"`
	Assumptions  []string   `json:"assumptions"`
}

func (s TaskSpec) Summary() SpecSummary {
	return SpecSummary{
		GoalOneLiner: s.GoalOneLiner,
		Deliverable:  s.Deliverable,
		Language:     s.Language,
		Runtime:      s.Runtime,
		Signature:    s.Signature,
		Constraints:  s.Constraints,
		Assumptions:  s.Assumptions,
	}
}
