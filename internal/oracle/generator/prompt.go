package generator

import "fmt"

const (
	PromptVersion = "v2.1-real"
	SchemaVersion = "v1.0"
)

const (
	parseGuidance   = "JSON Parse Error: The output was not valid JSON. Please return ONLY a valid JSON object matching the schema v1.0. Do not include any markdown formatting or extra text."
	schemaGuidance  = "JSON Schema Validation Failed: %s. Please correct the JSON format. If there is a type conflict, set 'returns' to 'Any'."
	ruleGuidance    = "Validation Error: %s\nRule ID: %s\nField: %s\nInstruction: Please fix the JSON to comply with this rule. Do not repeat the same invalid pattern."
	missingGuidance = "Validation Error: Missing required fields %s. Please fix."
)

const contradictionGuidance = "Validation Error: Contradictions detected %s. \n\nCRITICAL FIX REQUIRED:\n" +
	"1. If the task is a CLI tool printing text, change 'signature.returns' to 'Any' or 'str'.\n" +
	"2. If the examples use strings/lists, ensure 'signature.returns' matches.\n" +
	"3. Do not assume 'int' for CLI unless it only returns an exit code.\n\nPlease fix the JSON."

func systemPrompt(deliverable, language, runtime string) string {
	return fmt.Sprintf(`Role: Technical Architect. Analyze user task -> Implementation Spec (JSON).

Context:
- Deliverable: %[1]s
- Language: %[2]s
- Runtime: %[3]s

Output Schema (Strict JSON):
{
    "goal_one_liner": "str",
    "interaction_model": "function_single|stateful_ops|cli_stdio",
    "deliverable": "%[1]s",
    "language": "%[2]s",
    "runtime": "%[3]s",
    "signature": { "function_name": "str", "args": ["str"], "returns": "str" },
    "constraints": ["str"],
    "assumptions": ["str"],
    "output_ops": ["str (only for stateful_ops)"],
    "output_shape": { "type": "str", ... },
    "ambiguities": [ { "ambiguity_id": "str", "question": "str", "choices": [ { "choice_id": "str", "text": "str" } ] } ],
    "public_examples": [ { "name": "str", "input": any, "expected": any } ],
    "confidence_reasons": ["str"]
}

Interaction Models:
1. "stateful_ops": Sequence tasks (e.g. create/delete/query).
   - signature.function_name="solve", args=["ops"]
   - Fill "output_ops" & "output_shape"
2. "function_single": Pure calculation (e.g. is_prime).
   - Define exact function_name & args
3. "cli_stdio": Command Line Interface.
   - signature.function_name="main", args=[], returns="int"
   - Input: Default to argparse (command line arguments). ONLY add "Read from stdin" constraint if user explicitly requests stdin/pipe input.
   - Output: Print to stdout (and/or stderr).
   - Add constraint: "Print to stdout" (unless stderr is primarily used).
4. "script_file": Independent Script (deliverable="script").
   - signature.function_name="entrypoint", args=[], returns="void"
   - Logic: Reads specific files, writes specific files. NO exit code return needed.

Rules:
1. "constraints": MUST capture explicit rules (input format, sorting, edge cases).
   - For delimited input (e.g. "A|B|C"), MUST specify: "Split by '|' with max splits = N-1 (preserve delimiter in last part)."
   - For case sensitivity: DEFAULT to "Exact match (case-sensitive)" unless user says "case-insensitive".
   - For dictionary output: MUST specify exact keys (e.g. "Output dict must have keys: 'id', 'count'").
   - For parsing (e.g. "Milk 1 12.5"): DO NOT use loose heuristics like "extract all numbers". MUST specify exact format: "qty is the integer after 'x' or '*'; price is the last number". If format is ambiguous (e.g. no markers), create an AMBIGUITY instead of guessing.
2. "public_examples": Valid JSON only (use null/true/false, no tuples).
3. Missing info -> Add to "ambiguities".
4. Do NOT invent constraints. Use "assumptions" for defaults ONLY if standard practice.
5. "confidence_reasons": List 1-3 reasons why this spec is accurate (e.g. "Fixed input format", "Standard output", "Clear edge cases").
`, deliverable, language, runtime)
}
