package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/sandbox"
)

const (
	maxFailureItems = 3
	inputSnipBytes  = 512
	valueSnipBytes  = 1024
	errorSnipBytes  = 512
	stderrSnipBytes = 512
	outputCapBytes  = 8 * 1024

	hiddenFailedMessage = "hidden_test_failed"
)

type gradeSummary struct {
	Passed   int
	Failed   int
	Failures []model.FailureSummary
	Outcome  string
}

// grade maps a sandbox result onto pass/fail counts and the leak-controlled
// failure summary. A timeout or memory kill fails every test.
func grade(res sandbox.ExecutionResult, tests []sandbox.Test) gradeSummary {
	n := len(tests)
	switch {
	case res.TimedOut:
		return gradeSummary{
			Failed:   max(1, n),
			Failures: leakControl([]sandbox.Failure{marker("__timeout__", "TIMEOUT")}, tests),
			Outcome:  "timeout",
		}
	case res.ExitCode == 137 || res.MemoryExceeded:
		return gradeSummary{
			Failed:   max(1, n),
			Failures: leakControl([]sandbox.Failure{marker("__memory__", "MEMORY_LIMIT")}, tests),
			Outcome:  "memory_limit",
		}
	}

	if res.Passed == 0 && res.Failed == 0 && n > 0 {
		failures := leakControl([]sandbox.Failure{marker("__runner_error__", "RUNNER_PARSE_FAILED")}, tests)
		failures[0].Stderr = TruncateUTF8(res.Stderr, stderrSnipBytes)
		return gradeSummary{Failed: n, Failures: failures, Outcome: "runner_error"}
	}

	outcome := "passed"
	if res.Failed > 0 {
		outcome = "failed"
	}
	return gradeSummary{
		Passed:   res.Passed,
		Failed:   res.Failed,
		Failures: leakControl(res.Failures, tests),
		Outcome:  outcome,
	}
}

func marker(name, msg string) sandbox.Failure {
	return sandbox.Failure{TestName: name, Error: &msg}
}

// leakControl keeps at most three failures. Public failures and the first
// hidden failure are shown with truncated detail; later hidden failures only
// carry their name, tags and hidden_test_failed.
func leakControl(failures []sandbox.Failure, tests []sandbox.Test) []model.FailureSummary {
	byName := make(map[string]sandbox.Test, len(tests))
	for _, t := range tests {
		if _, ok := byName[t.Name]; !ok {
			byName[t.Name] = t
		}
	}

	out := make([]model.FailureSummary, 0, min(len(failures), maxFailureItems))
	hiddenShown := false
	for _, f := range failures {
		t, known := byName[f.TestName]
		item := model.FailureSummary{TestName: f.TestName, Tags: []string{}, Hidden: known && t.Hidden}
		if known && t.Tags != nil {
			item.Tags = t.Tags
		}

		if item.Hidden && hiddenShown {
			msg := hiddenFailedMessage
			item.Error = &msg
		} else {
			if item.Hidden {
				hiddenShown = true
			}
			expected := snipValue(f.Expected, valueSnipBytes)
			got := snipValue(f.Got, valueSnipBytes)
			item.Input = snipInput(f.Input, inputSnipBytes)
			item.Expected = &expected
			item.Got = &got
			if f.Error != nil && *f.Error != "" {
				msg := TruncateUTF8(*f.Error, errorSnipBytes)
				item.Error = &msg
			}
		}

		out = append(out, item)
		if len(out) >= maxFailureItems {
			break
		}
	}
	return out
}

func snipInput(v any, limit int) any {
	switch x := v.(type) {
	case string:
		return TruncateUTF8(x, limit)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = val
		}
		if stdin, ok := out["stdin"].(string); ok {
			out["stdin"] = TruncateUTF8(stdin, limit)
		}
		return out
	}
	return v
}

func snipValue(v any, limit int) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return TruncateUTF8(x, limit)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return TruncateUTF8(fmt.Sprint(v), limit)
	}
	return TruncateUTF8(strings.TrimSuffix(buf.String(), "\n"), limit)
}

// TruncateUTF8 cuts s to at most limit bytes without splitting a rune.
func TruncateUTF8(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
