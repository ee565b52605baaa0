package llm

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	numericTuple  = regexp.MustCompile(`\(\s*([-\d\.]+)\s*,\s*([-\d\.]+)\s*\)`)
	pyNone        = regexp.MustCompile(`:\s*None\b`)
	pyTrue        = regexp.MustCompile(`:\s*True\b`)
	pyFalse       = regexp.MustCompile(`:\s*False\b`)
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// ExtractJSON returns the body of the first ```json fence, else the first
// ``` fence, else the text unchanged.
func ExtractJSON(text string) string {
	if _, after, ok := strings.Cut(text, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return body
	}
	if _, after, ok := strings.Cut(text, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return body
	}
	return text
}

// RepairJSON rewrites Python literal syntax that models commonly emit.
func RepairJSON(text string) string {
	text = numericTuple.ReplaceAllString(text, "[$1, $2]")
	text = pyNone.ReplaceAllString(text, ": null")
	text = pyTrue.ReplaceAllString(text, ": true")
	text = pyFalse.ReplaceAllString(text, ": false")
	return trailingComma.ReplaceAllString(text, "$1")
}

// ParseReply decodes a model reply, trying a strict parse before the repaired one.
// Numbers stay json.Number so 2.0 and 2 remain distinguishable.
func ParseReply(text string) (any, error) {
	body := ExtractJSON(text)
	if v, err := decodeJSON(body); err == nil {
		return v, nil
	}
	return decodeJSON(RepairJSON(body))
}

func decodeJSON(body string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(body)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid character after top-level value")
	}
	return v, nil
}
