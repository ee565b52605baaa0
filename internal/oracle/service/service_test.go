package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"taskoracle/internal/common/storage"
	"taskoracle/internal/oracle/bundle"
	"taskoracle/internal/oracle/generator"
	"taskoracle/internal/oracle/llm"
	"taskoracle/internal/oracle/model"
	"taskoracle/internal/oracle/repository"
	"taskoracle/internal/oracle/sandbox"
	"taskoracle/internal/oracle/testgen"
	appErr "taskoracle/pkg/errors"
)

type fakeSpecs struct {
	result generator.Result
	err    error
	calls  int
}

func (f *fakeSpecs) Generate(ctx context.Context, in generator.Input) (generator.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeTests struct {
	outcome testgen.Outcome
	err     error
	calls   int
	last    testgen.Request
}

func (f *fakeTests) Generate(ctx context.Context, req testgen.Request) (testgen.Outcome, error) {
	f.calls++
	f.last = req
	return f.outcome, f.err
}

type fakeSandbox struct {
	mu       sync.Mutex
	result   sandbox.ExecutionResult
	err      error
	started  chan struct{}
	release  chan struct{}
	function []sandbox.FunctionRequest
	cli      []sandbox.CLIRequest
}

func (f *fakeSandbox) wait() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeSandbox) RunFunction(ctx context.Context, req sandbox.FunctionRequest) (sandbox.ExecutionResult, error) {
	f.mu.Lock()
	f.function = append(f.function, req)
	f.mu.Unlock()
	f.wait()
	return f.result, f.err
}

func (f *fakeSandbox) RunCLI(ctx context.Context, req sandbox.CLIRequest) (sandbox.ExecutionResult, error) {
	f.mu.Lock()
	f.cli = append(f.cli, req)
	f.mu.Unlock()
	f.wait()
	return f.result, f.err
}

func (f *fakeSandbox) MemoryMB() int64 { return 128 }

type recordingEvents struct {
	mu     sync.Mutex
	events []repository.Event
}

func (r *recordingEvents) Publish(ctx context.Context, event repository.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc    *OracleService
	store  *repository.MemoryStore
	specs  *fakeSpecs
	tests  *fakeTests
	box    *fakeSandbox
	events *recordingEvents
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:  repository.NewMemoryStore(),
		specs:  &fakeSpecs{result: generator.Result{Spec: intervalSpec(true), Meta: generator.Meta{Attempts: 1, RequestID: "req-1", RequestIDs: []string{"req-1"}}}},
		tests:  &fakeTests{},
		box:    &fakeSandbox{},
		events: &recordingEvents{},
	}
	snapshots, err := repository.NewSnapshotStore(storage.NewMemoryStorage(), "snapshots")
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	var mu sync.Mutex
	seq := 0
	cfg := Config{
		Store:         h.store,
		Snapshots:     snapshots,
		Events:        h.events,
		Specs:         h.specs,
		Tests:         h.tests,
		Sandbox:       h.box,
		AllowFilePath: true,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewOracleService(cfg)
	if err != nil {
		t.Fatalf("NewOracleService: %v", err)
	}
	h.svc = svc
	return h
}

func intervalSpec(withAmbiguity bool) model.TaskSpec {
	spec := model.NewTaskSpec()
	spec.GoalOneLiner = "Merge intervals"
	spec.Signature = &model.Signature{FunctionName: "merge", Args: []string{"intervals"}, Returns: "list"}
	spec.Constraints = []string{"Intervals are closed", "Touching intervals merge"}
	spec.PublicExamples = []model.Example{{Name: "basic", Input: []any{[]any{[]any{1.0, 3.0}, []any{2.0, 4.0}}}, Expected: []any{[]any{1.0, 4.0}}}}
	if withAmbiguity {
		spec.Ambiguities = []model.Ambiguity{{
			AmbiguityID: "ties",
			Question:    "How are touching intervals handled?",
			Choices:     []model.Choice{{ChoiceID: "merge", Text: "Merge"}, {ChoiceID: "keep", Text: "Keep apart"}},
		}}
	}
	return spec
}

func (h *harness) createSpec(t *testing.T) (string, SpecResult) {
	t.Helper()
	ctx := context.Background()
	taskID, err := h.svc.CreateTask(ctx, "proj")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	res, err := h.svc.CreateSpec(ctx, SpecInput{TaskID: taskID, Description: "merge intervals"})
	if err != nil {
		t.Fatalf("CreateSpec: %v", err)
	}
	return taskID, res
}

func (h *harness) readyVersion(t *testing.T, hidden []model.HiddenTest) string {
	t.Helper()
	_, res := h.createSpec(t)
	ctx := context.Background()
	if _, err := h.svc.Confirm(ctx, res.VersionID, map[string]string{"ties": "merge"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	h.tests.outcome = testgen.Outcome{
		Public: intervalSpec(false).PublicExamples,
		Hidden: hidden,
		Audit:  model.DropAudit{RequestedHiddenTestsCount: 6, GeneratedHiddenTestsCount: len(hidden), DroppedHiddenTestsCount: 6 - len(hidden)},
	}
	if _, err := h.svc.GenerateTests(ctx, res.VersionID, GenerateTestsInput{}); err != nil {
		t.Fatalf("GenerateTests: %v", err)
	}
	return res.VersionID
}

func expectCode(t *testing.T, err error, code appErr.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %d, got nil", code)
	}
	if got := appErr.GetCode(err); got != code {
		t.Fatalf("expected code %d, got %d (%v)", code, got, err)
	}
}

func TestCreateSpecStoresVersion(t *testing.T) {
	h := newHarness(t, nil)
	taskID, res := h.createSpec(t)

	if res.Status != model.StatusAwaitingConfirmation || res.OracleConfidenceInitial != 0.4 {
		t.Fatalf("unexpected status %s (%.2f)", res.Status, res.OracleConfidenceInitial)
	}
	if len(res.Ambiguities) != 1 || res.Ambiguities[0].AmbiguityID != "ties" {
		t.Fatalf("unexpected ambiguities: %+v", res.Ambiguities)
	}

	v, err := h.store.GetVersion(context.Background(), res.VersionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if v.VersionNumber != 1 || v.Seed != bundle.SeedFor(res.VersionID) || v.BundleHash == "" {
		t.Fatalf("unexpected stored version: %+v", v)
	}
	if len(v.HiddenTests) != 0 || len(v.PublicExamples) != 1 {
		t.Fatalf("unexpected bundle on fresh version: %+v", v)
	}
	if v.Trace.RequestID != "req-1" || v.Trace.Attempts != 1 {
		t.Fatalf("trace not stored: %+v", v.Trace)
	}

	id, number, err := h.svc.NewVersion(context.Background(), SpecInput{TaskID: taskID, Description: "merge intervals"})
	if err != nil {
		t.Fatalf("NewVersion: %v", err)
	}
	if number != 2 || id == res.VersionID {
		t.Fatalf("unexpected new version %s #%d", id, number)
	}
	if got := h.events.types(); len(got) != 2 || got[0] != repository.EventVersionCreated {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestCreateSpecUnknownTask(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.CreateSpec(context.Background(), SpecInput{TaskID: "missing", Description: "x"})
	expectCode(t, err, appErr.TaskNotFound)
	if h.specs.calls != 0 {
		t.Fatalf("generator should not run for unknown task")
	}
}

func TestCreateSpecAnalyzeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.specs.err = &generator.AnalyzeError{Kind: generator.KindStuckValidation, Meta: generator.Meta{
		Attempts:           2,
		AttemptFailReasons: []string{"spec_missing_ambiguity: output", "spec_missing_ambiguity: output"},
		RequestIDs:         []string{"r1", "r2"},
	}}
	ctx := context.Background()
	taskID, err := h.svc.CreateTask(ctx, "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err = h.svc.CreateSpec(ctx, SpecInput{TaskID: taskID, Description: "x"})
	expectCode(t, err, appErr.AnalyzeFailedStuckValidation)

	e := appErr.GetError(err)
	if e.Details["error"] != "analyze_failed" || e.Details["stage"] != "llm_call" || e.Details["attempts"] != 2 {
		t.Fatalf("unexpected details: %v", e.Details)
	}
	reasons := e.Details["fail_reasons"].([]map[string]any)
	if len(reasons) != 2 || reasons[0]["attempt"] != 1 || reasons[1]["attempt"] != 2 {
		t.Fatalf("unexpected fail reasons: %v", reasons)
	}

	versionID := e.Details["version_id"].(string)
	v, err := h.store.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("failed version not stored: %v", err)
	}
	if v.Status != model.StatusAnalyzeFailed || v.Confidence != 0 || v.Seed != 0 || v.BundleHash != "" {
		t.Fatalf("unexpected failed version: %+v", v)
	}

	call, err := h.svc.LastSpecCall(ctx)
	if err != nil {
		t.Fatalf("LastSpecCall: %v", err)
	}
	if call["error_type"] != "spec_missing_ambiguity" || call["status"] != model.StatusAnalyzeFailed {
		t.Fatalf("unexpected debug projection: %v", call)
	}

	_, err = h.svc.Confirm(ctx, versionID, map[string]string{})
	expectCode(t, err, appErr.VersionAnalyzeFailed)
	_, err = h.svc.Run(ctx, versionID, RunInput{CodeText: "x"})
	expectCode(t, err, appErr.VersionAnalyzeFailed)
}

func TestLastSpecCallWithoutVersions(t *testing.T) {
	h := newHarness(t, nil)
	call, err := h.svc.LastSpecCall(context.Background())
	if err != nil {
		t.Fatalf("LastSpecCall: %v", err)
	}
	if call["error"] != "no_calls_found" {
		t.Fatalf("unexpected projection: %v", call)
	}
}

func TestConfirmValidatesSelections(t *testing.T) {
	h := newHarness(t, nil)
	_, res := h.createSpec(t)
	ctx := context.Background()

	_, err := h.svc.Confirm(ctx, res.VersionID, map[string]string{"ties": "sometimes"})
	expectCode(t, err, appErr.InvalidChoice)
	if err.Error() != "invalid_choice:ties" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	_, err = h.svc.Confirm(ctx, res.VersionID, map[string]string{"other": "x"})
	expectCode(t, err, appErr.MissingConfirmation)
	if err.Error() != "missing_confirmation:ties" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	out, err := h.svc.Confirm(ctx, res.VersionID, map[string]string{"ties": "keep"})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if out.Status != model.StatusReady {
		t.Fatalf("expected ready, got %s", out.Status)
	}
	v, _ := h.store.GetVersion(ctx, res.VersionID)
	if v.Confidence < res.OracleConfidenceInitial || v.Confidence != 0.9 {
		t.Fatalf("confidence should rise after confirmation: %.2f", v.Confidence)
	}
	if v.Confirmations.Selections["ties"] != "keep" {
		t.Fatalf("selections not stored: %+v", v.Confirmations)
	}
}

func TestConfirmKeepsOptionalCap(t *testing.T) {
	h := newHarness(t, nil)
	h.specs.result.Spec.Signature.Returns = "int"
	ctx := context.Background()
	taskID, _ := h.svc.CreateTask(ctx, "")
	res, err := h.svc.CreateSpec(ctx, SpecInput{TaskID: taskID, Description: "return None if missing"})
	if err != nil {
		t.Fatalf("CreateSpec: %v", err)
	}
	if _, err := h.svc.Confirm(ctx, res.VersionID, map[string]string{"ties": "merge"}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	v, _ := h.store.GetVersion(ctx, res.VersionID)
	if v.Confidence > generator.OptionalConfidenceCap {
		t.Fatalf("optional cap lost on confirm: %.2f", v.Confidence)
	}
}

func TestGenerateTestsRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	_, res := h.createSpec(t)
	_, err := h.svc.GenerateTests(context.Background(), res.VersionID, GenerateTestsInput{})
	expectCode(t, err, appErr.AmbiguitiesNotConfirmed)
	if h.tests.calls != 0 {
		t.Fatalf("test generator should not be called")
	}
}

func TestGenerateTestsStoresBundle(t *testing.T) {
	h := newHarness(t, nil)
	hidden := []model.HiddenTest{
		{Name: "nested", Input: []any{[]any{}}, Expected: []any{}, Tags: []string{"edge"}, Weight: 1},
		{Name: "touching", Input: []any{[]any{}}, Expected: []any{}, Tags: []string{}, Weight: 1},
	}
	versionID := h.readyVersion(t, hidden)
	ctx := context.Background()

	if h.tests.last.PublicCount != defaultPublicCount || h.tests.last.HiddenCount != defaultHiddenCount {
		t.Fatalf("defaults not applied: %+v", h.tests.last)
	}
	v, err := h.store.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	want, err := bundle.Hash(*v.Spec, v.PublicExamples, v.HiddenTests, v.Seed)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if v.BundleHash != want || len(v.HiddenTests) != 2 {
		t.Fatalf("bundle not stored consistently: %+v", v)
	}
	if v.ConflictReport.HiddenTestsDropAudit == nil || v.ConflictReport.HiddenTestsDropAudit.DroppedHiddenTestsCount != 4 {
		t.Fatalf("drop audit missing: %+v", v.ConflictReport)
	}

	again, err := h.svc.GenerateTests(ctx, versionID, GenerateTestsInput{})
	if err != nil {
		t.Fatalf("GenerateTests: %v", err)
	}
	if again.Hash != want || again.Seed != v.Seed {
		t.Fatalf("same bundle should hash identically: %s vs %s", again.Hash, want)
	}

	view, err := h.svc.GetVersion(ctx, versionID)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if view.HiddenTestsCount != 2 || view.Hash != want {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestGenerateTestsWithoutHiddenLowersConfidence(t *testing.T) {
	h := newHarness(t, nil)
	versionID := h.readyVersion(t, nil)
	v, _ := h.store.GetVersion(context.Background(), versionID)
	if v.Confidence != 0.9-0.1 {
		t.Fatalf("expected penalty, got %.2f", v.Confidence)
	}
	if len(v.ConflictReport.ConfidenceReasonsPostTests) != 1 || v.ConflictReport.ConfidenceReasonsPostTests[0] != "no_hidden_tests" {
		t.Fatalf("unexpected post-test reasons: %v", v.ConflictReport.ConfidenceReasonsPostTests)
	}
}

func failure(name, errMsg string, got any) sandbox.Failure {
	f := sandbox.Failure{TestName: name, Input: []any{1.0}, Expected: []any{2.0}, Got: got}
	if errMsg != "" {
		f.Error = &errMsg
	}
	return f
}

func TestRunAppliesLeakControl(t *testing.T) {
	h := newHarness(t, nil)
	hidden := []model.HiddenTest{
		{Name: "h1", Input: []any{1.0}, Expected: 1.0, Tags: []string{"edge"}},
		{Name: "h2", Input: []any{2.0}, Expected: 2.0, Tags: []string{"big"}},
		{Name: "h3", Input: []any{3.0}, Expected: 3.0, Tags: []string{}},
	}
	versionID := h.readyVersion(t, hidden)
	h.box.result = sandbox.ExecutionResult{
		Passed: 0,
		Failed: 4,
		Failures: []sandbox.Failure{
			failure("h1", "", 5.0),
			failure("basic", "", nil),
			failure("h2", "AssertionError: expected 2 for input [2.0]", 7.0),
			failure("h3", "", 8.0),
		},
		RuntimeMs: 12,
	}

	res, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "def merge(x): return x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PassRate != 0 || res.Failed != 4 || len(res.FailuresSummary) != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	first, public, second := res.FailuresSummary[0], res.FailuresSummary[1], res.FailuresSummary[2]
	if !first.Hidden || first.Got == nil || *first.Got != "5" || first.Tags[0] != "edge" {
		t.Fatalf("first hidden failure should be expanded: %+v", first)
	}
	if public.Hidden || public.Expected == nil || *public.Expected != "[2]" || *public.Got != "" {
		t.Fatalf("public failure should be expanded: %+v", public)
	}
	if !second.Hidden || second.Input != nil || second.Expected != nil || second.Got != nil {
		t.Fatalf("second hidden failure should be collapsed: %+v", second)
	}
	if second.Error == nil || *second.Error != hiddenFailedMessage {
		t.Fatalf("unexpected collapsed error: %+v", second.Error)
	}

	req := h.box.function[0]
	if req.FunctionName != "merge" || len(req.Tests) != 4 || req.Tests[0].Hidden || !req.Tests[1].Hidden {
		t.Fatalf("unexpected sandbox request: %+v", req)
	}
	if req.Timeout != defaultRunTimeout {
		t.Fatalf("unexpected timeout %v", req.Timeout)
	}
	if got := h.events.types(); got[len(got)-1] != repository.EventRunCompleted {
		t.Fatalf("run event missing: %v", got)
	}
	run, err := h.store.GetRun(context.Background(), res.RunID)
	if err != nil || run.CodeText == "" || run.OracleConfidenceUsed != res.OracleConfidenceUsed {
		t.Fatalf("run not stored: %+v %v", run, err)
	}
}

func TestRunPassRate(t *testing.T) {
	h := newHarness(t, nil)
	versionID := h.readyVersion(t, []model.HiddenTest{{Name: "h1", Input: []any{1.0}, Expected: 1.0}})
	h.box.result = sandbox.ExecutionResult{Passed: 1, Failed: 1, Failures: []sandbox.Failure{failure("h1", "boom", 0.0)}}
	res, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "x", TimeoutSec: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.PassRate != 0.5 || res.ResourceLimits.TimeoutSec != 1 || res.ResourceLimits.MemoryMB != 128 || res.SandboxMode != "local" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunResourceOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		result sandbox.ExecutionResult
		marker string
		errMsg string
	}{
		{"timeout", sandbox.ExecutionResult{TimedOut: true, ExitCode: 137}, "__timeout__", "TIMEOUT"},
		{"oom_exit", sandbox.ExecutionResult{ExitCode: 137}, "__memory__", "MEMORY_LIMIT"},
		{"memory_flag", sandbox.ExecutionResult{MemoryExceeded: true, ExitCode: 1}, "__memory__", "MEMORY_LIMIT"},
		{"parse_failed", sandbox.ExecutionResult{ExitCode: 1, Stderr: strings.Repeat("é", 400)}, "__runner_error__", "RUNNER_PARSE_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			versionID := h.readyVersion(t, []model.HiddenTest{{Name: "h1", Input: []any{1.0}, Expected: 1.0}})
			h.box.result = tc.result
			res, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "x"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Passed != 0 || res.Failed != 2 || res.PassRate != 0 {
				t.Fatalf("all tests should fail: %+v", res)
			}
			f := res.FailuresSummary[0]
			if f.TestName != tc.marker || f.Error == nil || *f.Error != tc.errMsg {
				t.Fatalf("unexpected marker: %+v", f)
			}
			if tc.marker == "__runner_error__" && (len(f.Stderr) > stderrSnipBytes || f.Stderr == "") {
				t.Fatalf("stderr snippet not bounded: %d bytes", len(f.Stderr))
			}
		})
	}
}

func TestRunCodeSources(t *testing.T) {
	h := newHarness(t, nil)
	versionID := h.readyVersion(t, nil)
	h.box.result = sandbox.ExecutionResult{Passed: 1}
	ctx := context.Background()

	_, err := h.svc.Run(ctx, versionID, RunInput{})
	expectCode(t, err, appErr.MissingCode)

	_, err = h.svc.Run(ctx, versionID, RunInput{CurrentFilePath: filepath.Join(t.TempDir(), "missing.py")})
	expectCode(t, err, appErr.CannotReadFile)
	if !strings.HasPrefix(err.Error(), "cannot_read_file:") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	path := filepath.Join(t.TempDir(), "solution.py")
	if err := os.WriteFile(path, []byte("def merge(x): return x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := h.svc.Run(ctx, versionID, RunInput{CurrentFilePath: path}); err != nil {
		t.Fatalf("Run from file: %v", err)
	}
	if got := h.box.function[len(h.box.function)-1].Source.Code; got != "def merge(x): return x" {
		t.Fatalf("file code not used: %q", got)
	}

	snapID, err := h.svc.SaveSnapshot(ctx, SnapshotInput{CodeText: "def merge(x): return []"})
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	res, err := h.svc.Run(ctx, versionID, RunInput{SnapshotID: snapID, CurrentFilePath: path})
	if err != nil {
		t.Fatalf("Run from snapshot: %v", err)
	}
	if got := h.box.function[len(h.box.function)-1].Source.Code; got != "def merge(x): return []" {
		t.Fatalf("snapshot should win over file: %q", got)
	}
	run, _ := h.store.GetRun(ctx, res.RunID)
	if run.CodeText != "" || run.SnapshotID != snapID {
		t.Fatalf("snapshot runs should not copy code: %+v", run)
	}

	_, err = h.svc.Run(ctx, versionID, RunInput{SnapshotID: "nope"})
	expectCode(t, err, appErr.SnapshotNotFound)
}

func TestRunFilePathDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.AllowFilePath = false })
	versionID := h.readyVersion(t, nil)
	_, err := h.svc.Run(context.Background(), versionID, RunInput{CurrentFilePath: "/etc/hostname"})
	expectCode(t, err, appErr.CannotReadFile)
}

func TestRunEntrypointSelection(t *testing.T) {
	h := newHarness(t, nil)
	h.specs.result.Spec.Signature = nil
	versionID := h.readyVersion(t, nil)
	ctx := context.Background()

	_, err := h.svc.Run(ctx, versionID, RunInput{CodeText: "x"})
	expectCode(t, err, appErr.MissingEntrypoint)

	h.box.result = sandbox.ExecutionResult{Passed: 1}
	if _, err := h.svc.Run(ctx, versionID, RunInput{CodeText: "x", Entrypoint: "solve"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.box.function[0].FunctionName != "solve" {
		t.Fatalf("entrypoint should name the function: %+v", h.box.function[0])
	}
}

func TestRunCLIMode(t *testing.T) {
	h := newHarness(t, nil)
	h.specs.result.Spec.Deliverable = model.DeliverableCLI
	versionID := h.readyVersion(t, nil)
	h.box.result = sandbox.ExecutionResult{Passed: 1}
	if _, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "print(1)"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.box.cli) != 1 || len(h.box.function) != 0 {
		t.Fatalf("expected cli mode, got %d cli / %d function", len(h.box.cli), len(h.box.function))
	}
}

func TestRunQueueFull(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RunPoolSize = 1
		c.AcquireTimeout = 20 * time.Millisecond
	})
	versionID := h.readyVersion(t, nil)
	h.box.result = sandbox.ExecutionResult{Passed: 1}
	h.box.started = make(chan struct{}, 1)
	h.box.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "x"})
		done <- err
	}()
	<-h.box.started

	_, err := h.svc.Run(context.Background(), versionID, RunInput{CodeText: "x"})
	expectCode(t, err, appErr.RunQueueFull)

	close(h.box.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestGetTaskListsVersions(t *testing.T) {
	h := newHarness(t, nil)
	taskID, first := h.createSpec(t)
	if _, _, err := h.svc.NewVersion(context.Background(), SpecInput{TaskID: taskID, Description: "again"}); err != nil {
		t.Fatalf("NewVersion: %v", err)
	}
	view, err := h.svc.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(view.Versions) != 2 || view.Versions[0].VersionID != first.VersionID || view.Versions[1].VersionNumber != 2 {
		t.Fatalf("unexpected versions: %+v", view.Versions)
	}
	if view.Versions[0].PublicExamplesCount != 1 || view.Versions[0].HiddenTestsCount != 0 {
		t.Fatalf("unexpected counts: %+v", view.Versions[0])
	}

	_, err = h.svc.GetTask(context.Background(), "missing")
	expectCode(t, err, appErr.TaskNotFound)
	_, err = h.svc.GetVersion(context.Background(), "missing")
	expectCode(t, err, appErr.VersionNotFound)
}

func TestPipelineWithMockCompleter(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Specs = generator.New(llm.MockCompleter{}, nil, generator.Config{Retries: 2})
		c.Tests = testgen.New(llm.MockCompleter{})
	})
	ctx := context.Background()
	taskID, err := h.svc.CreateTask(ctx, "")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	spec, err := h.svc.CreateSpec(ctx, SpecInput{TaskID: taskID, Description: "Print the sum of numbers read from stdin", Deliverable: "cli"})
	if err != nil {
		t.Fatalf("CreateSpec: %v", err)
	}
	if spec.Status != model.StatusReady {
		t.Fatalf("mock spec should be ready, got %s", spec.Status)
	}
	out, err := h.svc.GenerateTests(ctx, spec.VersionID, GenerateTestsInput{})
	if err != nil {
		t.Fatalf("GenerateTests: %v", err)
	}
	if len(out.PublicExamplesPreview) != defaultPublicCount || out.HiddenTestsCount != defaultHiddenCount {
		t.Fatalf("unexpected bundle sizes: %+v", out)
	}
}

func TestLeakControlCollapsesLaterHiddenErrors(t *testing.T) {
	tests := []sandbox.Test{
		{Name: "h1", Hidden: true},
		{Name: "h2", Hidden: true, Tags: []string{"big"}},
		{Name: "h3", Hidden: true},
	}
	got := leakControl([]sandbox.Failure{
		failure("h1", "ValueError: bad input 41", 5.0),
		failure("h2", "IndexError: list index 99 out of range", nil),
		failure("h3", "", nil),
	}, tests)
	if len(got) != 3 {
		t.Fatalf("unexpected summaries: %+v", got)
	}
	if got[0].Error == nil || *got[0].Error != "ValueError: bad input 41" {
		t.Fatalf("first hidden failure should keep its error: %+v", got[0])
	}
	for _, item := range got[1:] {
		if item.Error == nil || *item.Error != hiddenFailedMessage || item.Input != nil || item.Got != nil {
			t.Fatalf("later hidden failure leaked detail: %+v", item)
		}
	}
	if got[1].Tags[0] != "big" {
		t.Fatalf("tags should survive collapse: %+v", got[1])
	}
}

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"日本語", 4, "日"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncateUTF8(tc.in, tc.limit); got != tc.want {
			t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestSnipInputKeepsStructure(t *testing.T) {
	in := map[string]any{"stdin": strings.Repeat("x", 600), "argv": []any{"-v"}}
	out := snipInput(in, inputSnipBytes).(map[string]any)
	if len(out["stdin"].(string)) != inputSnipBytes || len(in["stdin"].(string)) != 600 {
		t.Fatalf("stdin should be truncated on a copy")
	}
	if snipValue(map[string]any{"a": "<b>"}, 100) != `{"a":"<b>"}` {
		t.Fatalf("unexpected json snippet %q", snipValue(map[string]any{"a": "<b>"}, 100))
	}
}
