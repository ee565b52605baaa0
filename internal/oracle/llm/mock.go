package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	deliverableLine = regexp.MustCompile(`Deliverable:\s*(\w+)`)
	countLine       = regexp.MustCompile(`Count:\s*(\d+)\s*public,\s*(\d+)\s*hidden`)
)

// MockCompleter answers deterministically without a network backend. Spec
// prompts get a minimal valid spec; test prompts get a bundle of the
// requested size.
type MockCompleter struct{}

func (MockCompleter) Complete(ctx context.Context, req Request) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	var system, lastUser, firstUser string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content
		case RoleUser:
			if firstUser == "" {
				firstUser = m.Content
			}
			lastUser = m.Content
		}
	}

	var body any
	if m := countLine.FindStringSubmatch(lastUser); m != nil {
		public, _ := strconv.Atoi(m[1])
		hidden, _ := strconv.Atoi(m[2])
		body = mockBundle(public, hidden)
	} else {
		deliverable := "function"
		if m := deliverableLine.FindStringSubmatch(system); m != nil {
			deliverable = m[1]
		}
		body = mockSpec(firstUser, deliverable)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Completion{}, err
	}
	sum := sha256.Sum256(data)
	return Completion{
		Text:      string(data),
		Model:     "mock",
		Provider:  "mock",
		RequestID: "mock-" + hex.EncodeToString(sum[:6]),
	}, nil
}

func mockSpec(description, deliverable string) map[string]any {
	goal := strings.TrimSpace(strings.SplitN(strings.TrimSpace(description), "\n", 2)[0])
	if goal == "" {
		goal = "Unspecified task"
	}
	sig := map[string]any{"function_name": "solve", "args": []string{"data"}, "returns": "Any"}
	model := "function_single"
	switch deliverable {
	case "cli":
		sig = map[string]any{"function_name": "main", "args": []string{}, "returns": "Any"}
		model = "cli_stdio"
	case "script":
		sig = map[string]any{"function_name": "entrypoint", "args": []string{}, "returns": "Any"}
	}
	return map[string]any{
		"goal_one_liner":    goal,
		"interaction_model": model,
		"deliverable":       deliverable,
		"language":          "python",
		"runtime":           "python",
		"signature":         sig,
		"constraints":       []string{"Follow the input format described in the task.", "Output must match the examples exactly."},
		"assumptions":       []string{},
		"output_ops":        []string{},
		"output_shape":      map[string]any{"type": "Any"},
		"ambiguities":       []any{},
		"public_examples":   []any{},
		"confidence_reasons": []string{"Offline mock analysis"},
	}
}

func mockBundle(public, hidden int) map[string]any {
	pub := make([]map[string]any, 0, public)
	for i := 0; i < public; i++ {
		pub = append(pub, map[string]any{"name": fmt.Sprintf("public_%d", i+1), "input": []any{i}, "expected": i})
	}
	hid := make([]map[string]any, 0, hidden)
	for i := 0; i < hidden; i++ {
		hid = append(hid, map[string]any{"name": fmt.Sprintf("hidden_%d", i+1), "input": []any{i * 7}, "expected": i * 7, "tags": []string{"mock"}})
	}
	return map[string]any{"public_examples": pub, "hidden_tests": hid}
}
