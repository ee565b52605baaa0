package validator

import "regexp"

// Trigger maps a description pattern to the ambiguity category it implies.
type Trigger struct {
	Pattern  *regexp.Regexp
	Category string
}

// Categories lists, for each trigger category, the keywords an ambiguity id or
// question must contain to count as covering it.
var Categories = map[string][]string{
	"output_format":        {"output", "format", "return", "list", "string"},
	"tie_breaking":         {"tie", "break", "order", "sort"},
	"error_handling":       {"error", "id", "missing", "invalid"},
	"input_format":         {"input", "list", "string", "format"},
	"case_sensitivity":     {"case", "sensitive", "ignore"},
	"return_type_conflict": {"return", "type", "list", "string"},
}

// DefaultTriggers is the built-in bilingual trigger table.
var DefaultTriggers = []Trigger{
	{regexp.MustCompile(`(?i)返回\s*(list|列表)\s*还是\s*(字符串|string)`), "output_format"},
	{regexp.MustCompile(`(?i)输出格式不明确`), "output_format"},
	{regexp.MustCompile(`(?i)并列怎么办`), "tie_breaking"},
	{regexp.MustCompile(`(?i)任意一个`), "tie_breaking"},
	{regexp.MustCompile(`(?i)遇到不存在\s*id`), "error_handling"},
	{regexp.MustCompile(`(?i)可能是\s*list\s*也可能是\s*string`), "input_format"},
	{regexp.MustCompile(`(?i)大小写敏感`), "case_sensitivity"},
	{regexp.MustCompile(`(?i)返回单个值还是列表`), "return_type_conflict"},
	{regexp.MustCompile(`(?i)\blist\s+or\s+(a\s+)?string\b`), "output_format"},
	{regexp.MustCompile(`(?i)\b(how|what)\b[^.?!]*\bties?\b`), "tie_breaking"},
	{regexp.MustCompile(`(?i)\bcase[- ]sensitiv`), "case_sensitivity"},
	{regexp.MustCompile(`(?i)\b(unknown|missing|nonexistent|non-existent)\s+id\b`), "error_handling"},
}

// wideReturnKeywords mark an ambiguity as a decision about output shape.
var wideReturnKeywords = []string{"return", "output", "format", "shape", "list vs string", "single string"}

// strictReturnKinds are the declared return types checked against examples.
var strictReturnKinds = map[string]struct{}{
	"int":  {},
	"str":  {},
	"list": {},
	"dict": {},
}
