// Package sandbox grades candidate code against test cases inside the
// process sandbox.
package sandbox

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"taskoracle/internal/oracle/sandbox/engine"
	"taskoracle/pkg/utils/logger"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPython      = "python3"
	defaultCLITemplate = "{python} {entry}"
	defaultEntry       = "main.py"
	defaultTimeout     = 2500 * time.Millisecond
	defaultMemoryMB    = 128
	defaultPIDs        = 64
	memoryExitCode     = 137
)

// Config describes how candidate code is launched.
type Config struct {
	Python      string `yaml:"python"`
	CLITemplate string `yaml:"cliTemplate"`
	WorkRoot    string `yaml:"workRoot"`
	MemoryMB    int64  `yaml:"memoryMB"`
	PIDs        int64  `yaml:"pids"`
}

// Test is one graded case. Input and Expected are JSON values.
type Test struct {
	Name     string   `json:"name"`
	Input    any      `json:"input"`
	Expected any      `json:"expected"`
	Hidden   bool     `json:"-"`
	Tags     []string `json:"-"`
}

// Failure is one failed test as reported by the runner, before leak control.
type Failure struct {
	TestName string  `json:"test_name"`
	Input    any     `json:"input"`
	Expected any     `json:"expected"`
	Got      any     `json:"got"`
	Error    *string `json:"error"`
}

// ExecutionResult aggregates a whole grading run.
type ExecutionResult struct {
	Passed         int       `json:"passed"`
	Failed         int       `json:"failed"`
	Failures       []Failure `json:"failures"`
	RuntimeMs      int64     `json:"runtime_ms"`
	MemoryKB       int64     `json:"memory_kb"`
	ExitCode       int       `json:"exit_code"`
	Stdout         string    `json:"stdout"`
	Stderr         string    `json:"stderr"`
	TimedOut       bool      `json:"timed_out"`
	MemoryExceeded bool      `json:"memory_exceeded"`
}

// Source is the candidate code and its optional multi-file workspace.
type Source struct {
	Code           string
	WorkspaceFiles map[string]string
	Entrypoint     string
}

type FunctionRequest struct {
	RunID        string
	Source       Source
	FunctionName string
	Tests        []Test
	Timeout      time.Duration
}

type CLIRequest struct {
	RunID   string
	Source  Source
	Tests   []Test
	Timeout time.Duration
}

// Runner executes candidate code through an engine.
type Runner struct {
	engine   engine.Engine
	cfg      Config
	template []string
}

// NewRunner creates a runner. The CLI template is split with shell quoting
// rules and may reference {python} and {entry}.
func NewRunner(eng engine.Engine, cfg Config) (*Runner, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	if cfg.CLITemplate == "" {
		cfg.CLITemplate = defaultCLITemplate
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.PIDs <= 0 {
		cfg.PIDs = defaultPIDs
	}
	tmpl, err := shlex.Split(cfg.CLITemplate)
	if err != nil {
		return nil, fmt.Errorf("parse cli template: %w", err)
	}
	if len(tmpl) == 0 {
		return nil, fmt.Errorf("cli template is empty")
	}
	return &Runner{engine: eng, cfg: cfg, template: tmpl}, nil
}

// MemoryMB is the memory limit applied to every run.
func (r *Runner) MemoryMB() int64 {
	return r.cfg.MemoryMB
}

// RunFunction imports the candidate module once and calls the entry function
// for every test.
func (r *Runner) RunFunction(ctx context.Context, req FunctionRequest) (ExecutionResult, error) {
	if req.FunctionName == "" {
		return ExecutionResult{}, fmt.Errorf("function name is required")
	}
	dir, cleanup, err := r.prepare(req.Source)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer cleanup()

	module := "main"
	if len(req.Source.WorkspaceFiles) > 0 && req.Source.Entrypoint != "" {
		module = ModuleName(req.Source.Entrypoint)
	}

	private, err := os.MkdirTemp("", "oracle-results-")
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("create results dir: %w", err)
	}
	defer os.RemoveAll(private)

	testsJSON, err := json.Marshal(nonNilTests(req.Tests))
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("encode tests: %w", err)
	}
	cfg := harnessConfig{
		Module:   module,
		Function: req.FunctionName,
		Tests:    filepath.Join(private, uuid.NewString()+".json"),
		Results:  filepath.Join(private, uuid.NewString()+".json"),
		Nonce:    uuid.NewString(),
	}
	if err := os.WriteFile(cfg.Tests, testsJSON, 0o600); err != nil {
		return ExecutionResult{}, fmt.Errorf("write tests: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, harnessFile), []byte(functionHarness), 0o644); err != nil {
		return ExecutionResult{}, fmt.Errorf("write harness: %w", err)
	}
	stdin, err := json.Marshal(cfg)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("encode harness config: %w", err)
	}

	res, err := r.engine.Run(ctx, engine.ExecSpec{
		RunID:  req.RunID,
		Dir:    dir,
		Cmd:    []string{r.cfg.Python, harnessFile},
		Env:    sandboxEnv(dir),
		Stdin:  stdin,
		Limits: r.limits(req.Timeout),
	})
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("run harness: %w", err)
	}

	out := ExecutionResult{
		RuntimeMs:      res.WallTimeMs,
		MemoryKB:       res.MemoryKB,
		ExitCode:       res.ExitCode,
		Stdout:         res.Stdout,
		Stderr:         res.Stderr,
		TimedOut:       res.TimedOut,
		MemoryExceeded: !res.TimedOut && memoryExceeded(res),
	}
	if out.TimedOut || out.MemoryExceeded {
		return out, nil
	}

	parsed, ok := readResults(ctx, req.RunID, cfg, res)
	if !ok {
		return out, nil
	}
	out.Passed = parsed.Passed
	out.Failed = parsed.Failed
	out.Failures = parsed.Failures
	out.MemoryExceeded = parsed.MemoryError
	return out, nil
}

// readResults accepts the harness output only from a clean exit and only when
// it carries this run's nonce.
func readResults(ctx context.Context, runID string, cfg harnessConfig, res engine.ExecResult) (harnessResults, bool) {
	log := logger.With(ctx).With(zap.String("run_id", runID), zap.Int("exit_code", res.ExitCode))
	if res.ExitCode != 0 {
		log.Warn("runner exited abnormally")
		return harnessResults{}, false
	}
	data, err := os.ReadFile(cfg.Results)
	if err != nil {
		log.Warn("runner results missing", zap.Error(err))
		return harnessResults{}, false
	}
	var parsed harnessResults
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.Warn("runner results unreadable", zap.Error(err))
		return harnessResults{}, false
	}
	if subtle.ConstantTimeCompare([]byte(parsed.Nonce), []byte(cfg.Nonce)) != 1 {
		log.Warn("runner results rejected")
		return harnessResults{}, false
	}
	return parsed, true
}

// RunCLI launches the entry script once per test. A timeout on any test ends
// the run as timed out.
func (r *Runner) RunCLI(ctx context.Context, req CLIRequest) (ExecutionResult, error) {
	dir, cleanup, err := r.prepare(req.Source)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer cleanup()

	entry := defaultEntry
	if len(req.Source.WorkspaceFiles) > 0 && req.Source.Entrypoint != "" {
		entry = req.Source.Entrypoint
	}
	base := r.command(entry)

	out := ExecutionResult{}
	for i, t := range req.Tests {
		in := parseCLIInput(t.Input)
		if len(in.files) > 0 {
			if _, err := Materialize(dir, in.files); err != nil {
				return ExecutionResult{}, err
			}
		}
		cmd := append(append([]string{}, base...), in.argv...)
		res, err := r.engine.Run(ctx, engine.ExecSpec{
			RunID:  fmt.Sprintf("%s-%d", req.RunID, i),
			Dir:    dir,
			Cmd:    cmd,
			Env:    sandboxEnv(dir),
			Stdin:  []byte(in.stdin),
			Limits: r.limits(req.Timeout),
		})
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("run test %s: %w", t.Name, err)
		}
		out.RuntimeMs += res.WallTimeMs
		out.MemoryKB = max(out.MemoryKB, res.MemoryKB)
		out.ExitCode = res.ExitCode
		out.Stdout = res.Stdout
		out.Stderr = res.Stderr
		if res.TimedOut {
			out.TimedOut = true
			return out, nil
		}
		if memoryExceeded(res) {
			out.MemoryExceeded = true
			return out, nil
		}

		if f, ok := checkCLI(dir, t, res); ok {
			out.Passed++
		} else {
			out.Failed++
			out.Failures = append(out.Failures, f)
		}
	}
	return out, nil
}

func (r *Runner) prepare(src Source) (string, func(), error) {
	if r.cfg.WorkRoot != "" {
		if err := os.MkdirAll(r.cfg.WorkRoot, 0o755); err != nil {
			return "", nil, fmt.Errorf("create work root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.cfg.WorkRoot, "oracle-run-")
	if err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	if len(src.WorkspaceFiles) > 0 {
		if _, err := Materialize(dir, src.WorkspaceFiles); err != nil {
			cleanup()
			return "", nil, err
		}
		return dir, cleanup, nil
	}
	if err := os.WriteFile(filepath.Join(dir, defaultEntry), []byte(src.Code), 0o644); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write code: %w", err)
	}
	return dir, cleanup, nil
}

func (r *Runner) command(entry string) []string {
	cmd := make([]string, 0, len(r.template))
	for _, tok := range r.template {
		tok = strings.ReplaceAll(tok, "{python}", r.cfg.Python)
		tok = strings.ReplaceAll(tok, "{entry}", entry)
		cmd = append(cmd, tok)
	}
	return cmd
}

func (r *Runner) limits(timeout time.Duration) engine.Limits {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return engine.Limits{WallTime: timeout, MemoryMB: r.cfg.MemoryMB, PIDs: r.cfg.PIDs}
}

type cliInput struct {
	stdin string
	argv  []string
	files map[string]string
}

func parseCLIInput(v any) cliInput {
	m, ok := v.(map[string]any)
	if !ok {
		return cliInput{stdin: Stringify(v)}
	}
	in := cliInput{}
	if s, ok := m["stdin"]; ok && s != nil {
		in.stdin = Stringify(s)
	}
	if args, ok := m["argv"].([]any); ok {
		for _, a := range args {
			in.argv = append(in.argv, Stringify(a))
		}
	}
	if files, ok := m["files"].(map[string]any); ok {
		in.files = make(map[string]string, len(files))
		for k, c := range files {
			in.files[k] = Stringify(c)
		}
	}
	return in
}

func checkCLI(dir string, t Test, res engine.ExecResult) (Failure, bool) {
	got := strings.TrimSpace(res.Stdout)
	wantStdout := ""
	var wantFiles map[string]any
	if m, ok := t.Expected.(map[string]any); ok {
		if s, ok := m["stdout"]; ok && s != nil {
			wantStdout = strings.TrimSpace(Stringify(s))
		}
		wantFiles, _ = m["files"].(map[string]any)
	} else {
		wantStdout = strings.TrimSpace(Stringify(t.Expected))
	}

	var failedFiles []string
	for _, rel := range slices.Sorted(maps.Keys(wantFiles)) {
		content := wantFiles[rel]
		target, ok := SafePath(dir, rel)
		if !ok {
			failedFiles = append(failedFiles, rel+" (missing)")
			continue
		}
		data, err := os.ReadFile(target)
		switch {
		case os.IsNotExist(err):
			failedFiles = append(failedFiles, rel+" (missing)")
		case err != nil:
			failedFiles = append(failedFiles, fmt.Sprintf("%s (read error: %v)", rel, err))
		case strings.TrimSpace(string(data)) != strings.TrimSpace(Stringify(content)):
			failedFiles = append(failedFiles, rel+" (content mismatch)")
		}
	}

	if got == wantStdout && len(failedFiles) == 0 {
		return Failure{}, true
	}
	f := Failure{TestName: t.Name, Input: t.Input, Expected: t.Expected, Got: got}
	errMsg := res.Stderr
	if len(failedFiles) > 0 {
		f.Got = fmt.Sprintf("stdout=%s, file_errors=%v", got, failedFiles)
		errMsg += "\nFile validation failed: " + strings.Join(failedFiles, ", ")
	}
	if errMsg != "" {
		f.Error = &errMsg
	}
	return f, false
}

// Stringify renders a JSON value the way a Python str() call would for
// scalars. Containers are rendered as compact JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return x
	case bool:
		if x {
			return "True"
		}
		return "False"
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}

func memoryExceeded(res engine.ExecResult) bool {
	return res.OomKilled || res.ExitCode == memoryExitCode
}

func sandboxEnv(dir string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + dir,
		"LANG=C.UTF-8",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
		"PYTHONHASHSEED=0",
	}
}

func nonNilTests(tests []Test) []Test {
	if tests == nil {
		return []Test{}
	}
	return tests
}
