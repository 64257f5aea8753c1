package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modgen/pkg/llm"
	"modgen/pkg/sandbox"
	"modgen/pkg/state"
)

const sampleCode = `def add(a, b):
    """Return the sum of a and b."""
    return a + b`

const approvedXML = `<review><approved>true</approved><issues></issues><suggestions></suggestions></review>`

const rejectedXML = `<review><approved>false</approved><issues><issue>off by one</issue></issues><suggestions><suggestion>handle negatives</suggestion></suggestions></review>`

// fakeSession scripts RunCode outcomes and records lifecycle calls.
type fakeSession struct {
	results []sandbox.Result
	errs    []error
	idx     int
	closes  int
}

func (f *fakeSession) RunCode(_ context.Context, _ string) (sandbox.Result, error) {
	i := f.idx
	f.idx++
	if i < len(f.errs) && f.errs[i] != nil {
		return sandbox.Result{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return sandbox.Result{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeSession) RunCommand(_ context.Context, _ string) (sandbox.Result, error) {
	return sandbox.Result{}, nil
}

func (f *fakeSession) Backend() sandbox.Backend { return "fake" }

func (f *fakeSession) Close() error {
	f.closes++
	return nil
}

// countingStage wraps a stage and tallies invocations.
type countingStage struct {
	Stage
	runs *int
}

func (c countingStage) Run(ctx context.Context, s state.PipelineState) state.Delta {
	*c.runs++
	return c.Stage.Run(ctx, s)
}

func repeat(resp llm.Response, n int) []llm.Response {
	out := make([]llm.Response, n)
	for i := range out {
		out[i] = resp
	}
	return out
}

type testPipeline struct {
	engine  *Engine
	session *fakeSession
	counts  map[StageName]*int
}

func buildPipeline(t *testing.T, session *fakeSession, reviews []llm.Response) testPipeline {
	t.Helper()

	genClient := llm.NewMockClient(repeat(llm.Response{Content: sampleCode}, 10), nil)
	testClient := llm.NewMockClient(repeat(llm.Response{Content: `print(add(1, 2))`}, 10), nil)
	reviewClient := llm.NewMockClient(reviews, nil)

	counts := map[StageName]*int{
		StageGenerate:      new(int),
		StageGenerateTests: new(int),
		StageExecute:       new(int),
		StageReview:        new(int),
		StagePackage:       new(int),
	}
	wrap := func(s Stage) Stage { return countingStage{Stage: s, runs: counts[s.Name()]} }

	engine := NewEngine(DefaultMaxRetries,
		wrap(NewGenerateStage(genClient, DefaultMaxRetries)),
		wrap(NewGenerateTestsStage(testClient)),
		wrap(NewExecuteStage(session, nil)),
		wrap(NewReviewStage(reviewClient)),
		wrap(NewPackageStage(t.TempDir())),
	)
	return testPipeline{engine: engine, session: session, counts: counts}
}

func runEngine(t *testing.T, p testPipeline, req string) state.PipelineState {
	t.Helper()
	initial := state.New()
	initial.Messages = []state.Message{{Role: state.RoleUser, Content: req}}
	initial.Next = string(StageGenerate)
	final, err := p.engine.Run(context.Background(), initial)
	require.NoError(t, err)
	return final
}

func TestRunSucceedsFirstCycle(t *testing.T) {
	session := &fakeSession{results: []sandbox.Result{{ExitCode: 0, Stdout: "3"}}}
	p := buildPipeline(t, session, []llm.Response{{Content: approvedXML}})

	final := runEngine(t, p, "Write a function that adds two numbers")

	assert.Equal(t, 1, final.Attempts)
	assert.Equal(t, sampleCode, final.Code)
	assert.True(t, state.BoolKey(final.ExecutionResult, state.KeySuccess))
	assert.True(t, state.BoolKey(final.ReviewResult, state.KeyApproved))
	assert.Equal(t, string(StageEnd), final.Next)

	for name, n := range p.counts {
		assert.Equal(t, 1, *n, "stage %s invocations", name)
	}
	assert.NotEmpty(t, state.StringKey(final.PackageInfo, state.KeyModulePath))
}

func TestRunExhaustsBudgetOnExecutionFailure(t *testing.T) {
	session := &fakeSession{results: []sandbox.Result{
		{ExitCode: 1, Stderr: "NameError"},
		{ExitCode: 1, Stderr: "NameError"},
		{ExitCode: 1, Stderr: "NameError"},
	}}
	p := buildPipeline(t, session, nil)

	final := runEngine(t, p, "Write a function")

	assert.Equal(t, DefaultMaxRetries, final.Attempts)
	assert.False(t, state.BoolKey(final.ExecutionResult, state.KeySuccess))
	assert.Equal(t, 3, *p.counts[StageGenerate])
	assert.Equal(t, 3, *p.counts[StageExecute])
	assert.Zero(t, *p.counts[StageReview], "review must not run after failed execution")
	assert.Zero(t, *p.counts[StagePackage])
}

func TestRunRetriesThroughReviewRejections(t *testing.T) {
	session := &fakeSession{}
	p := buildPipeline(t, session, []llm.Response{
		{Content: rejectedXML},
		{Content: rejectedXML},
		{Content: approvedXML},
	})

	final := runEngine(t, p, "Write a function")

	assert.Equal(t, 3, final.Attempts)
	assert.True(t, state.BoolKey(final.ReviewResult, state.KeyApproved))
	assert.Equal(t, 3, *p.counts[StageReview])
	assert.Equal(t, 1, *p.counts[StagePackage])
}

func TestRunTerminatesAfterFinalRejection(t *testing.T) {
	session := &fakeSession{}
	p := buildPipeline(t, session, repeat(llm.Response{Content: rejectedXML}, 3))

	final := runEngine(t, p, "Write a function")

	assert.Equal(t, DefaultMaxRetries, final.Attempts)
	assert.False(t, state.BoolKey(final.ReviewResult, state.KeyApproved))
	assert.Zero(t, *p.counts[StagePackage])
}

func TestStageInvocationsAreBounded(t *testing.T) {
	// Worst case negotiated by the router: full cycles until the budget is
	// spent. The engine guard must never trip on a legal run.
	session := &fakeSession{}
	p := buildPipeline(t, session, repeat(llm.Response{Content: rejectedXML}, 5))

	final := runEngine(t, p, "Write a function")

	total := 0
	for _, n := range p.counts {
		total += *n
	}
	assert.LessOrEqual(t, total, p.engine.iterationCap())
	assert.Equal(t, string(StageEnd), final.Next)
}

func TestExecuteTransportFaultBecomesFailedResult(t *testing.T) {
	session := &fakeSession{errs: []error{errors.New("container vanished")}}
	stage := NewExecuteStage(session, nil)

	st := state.New()
	st.Code = sampleCode
	delta := stage.Run(context.Background(), st)

	merged := state.Merge(st, delta)
	assert.False(t, state.BoolKey(merged.ExecutionResult, state.KeySuccess))
	assert.Contains(t, state.StringKey(merged.ExecutionResult, state.KeyError), "container vanished")
	assert.Equal(t, string(StageGenerate), merged.Next)
}

func TestExecuteSetupFailureBecomesFailedResult(t *testing.T) {
	session := &setupFailSession{}
	stage := NewExecuteStage(session, []string{"pip install nothing"})

	delta := stage.Run(context.Background(), state.New())
	merged := state.Merge(state.New(), delta)
	assert.False(t, state.BoolKey(merged.ExecutionResult, state.KeySuccess))
	assert.Contains(t, state.StringKey(merged.ExecutionResult, state.KeyError), "setup")
}

type setupFailSession struct{ fakeSession }

func (s *setupFailSession) RunCommand(_ context.Context, _ string) (sandbox.Result, error) {
	return sandbox.Result{ExitCode: 1, Stderr: "no network"}, nil
}

func TestGenerateSkipsModelWhenBudgetSpent(t *testing.T) {
	client := llm.NewMockClient(repeat(llm.Response{Content: sampleCode}, 1), nil)
	stage := NewGenerateStage(client, DefaultMaxRetries)

	st := state.New()
	st.Attempts = DefaultMaxRetries
	delta := stage.Run(context.Background(), st)

	assert.Equal(t, string(StageEnd), delta[state.FieldNext])
	assert.Zero(t, client.Calls(), "no model call once the budget is spent")
	_, hasAttempts := delta[state.FieldAttempts]
	assert.False(t, hasAttempts)
}

func TestGenerateProviderFaultConsumesAttempt(t *testing.T) {
	client := llm.NewMockClient(nil, []error{errors.New("rate limited")})
	stage := NewGenerateStage(client, DefaultMaxRetries)

	st := state.New()
	st.Messages = []state.Message{{Role: state.RoleUser, Content: "add"}}
	delta := stage.Run(context.Background(), st)

	assert.Equal(t, 1, delta[state.FieldAttempts])
	assert.Equal(t, string(StageGenerate), delta[state.FieldNext])
}

func TestRouterDecisions(t *testing.T) {
	cases := []struct {
		name     string
		st       state.PipelineState
		after    StageName
		expected StageName
	}{
		{"execute success", withExec(true, 1), StageExecute, StageReview},
		{"execute failure with budget", withExec(false, 1), StageExecute, StageGenerate},
		{"execute failure exhausted", withExec(false, 3), StageExecute, StageEnd},
		{"review approved", withReview(true, 3), StageReview, StagePackage},
		{"review rejected with budget", withReview(false, 2), StageReview, StageGenerate},
		{"review rejected exhausted", withReview(false, 3), StageReview, StageEnd},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got StageName
			if tc.after == StageExecute {
				got = RouteAfterExecute(tc.st, DefaultMaxRetries)
			} else {
				got = RouteAfterReview(tc.st, DefaultMaxRetries)
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func withExec(success bool, attempts int) state.PipelineState {
	st := state.New()
	st.ExecutionResult[state.KeySuccess] = success
	st.Attempts = attempts
	return st
}

func withReview(approved bool, attempts int) state.PipelineState {
	st := state.New()
	st.ExecutionResult[state.KeySuccess] = true
	st.ReviewResult[state.KeyApproved] = approved
	st.Attempts = attempts
	return st
}

func TestEngineRejectsUnknownStage(t *testing.T) {
	engine := NewEngine(DefaultMaxRetries)
	initial := state.New()
	initial.Next = "nonsense"
	_, err := engine.Run(context.Background(), initial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonsense")
}

// journalSpy captures recorded verdicts.
type journalSpy struct{ verdicts []Verdict }

func (j *journalSpy) Record(_ context.Context, v Verdict) error {
	j.verdicts = append(j.verdicts, v)
	return nil
}

func TestControllerSuccessVerdict(t *testing.T) {
	session := &fakeSession{results: []sandbox.Result{{ExitCode: 0, Stdout: "3"}}}
	p := buildPipeline(t, session, []llm.Response{{Content: approvedXML}})
	journal := &journalSpy{}
	ctrl := NewController(p.engine, session, journal)

	v := ctrl.Run(context.Background(), "Write a function that adds two numbers")

	assert.True(t, v.Success)
	assert.NotEmpty(t, v.RunID)
	assert.Equal(t, 1, v.Attempts)
	assert.Empty(t, v.Error)
	assert.Equal(t, 1, session.closes, "session torn down exactly once")
	require.Len(t, journal.verdicts, 1)
	assert.Equal(t, v.RunID, journal.verdicts[0].RunID)
}

func TestControllerFailureVerdictSurvivesTeardown(t *testing.T) {
	session := &fakeSession{results: []sandbox.Result{
		{ExitCode: 1, Stderr: "boom"},
		{ExitCode: 1, Stderr: "boom"},
		{ExitCode: 1, Stderr: "boom"},
	}}
	p := buildPipeline(t, session, nil)
	ctrl := NewController(p.engine, session, nil)

	v := ctrl.Run(context.Background(), "Write a function")

	assert.False(t, v.Success)
	assert.Contains(t, v.Error, "execution failed")
	assert.Equal(t, DefaultMaxRetries, v.Attempts)
	assert.Equal(t, 1, session.closes)
}

type panicStage struct{}

func (panicStage) Name() StageName { return StageGenerate }
func (panicStage) Run(_ context.Context, _ state.PipelineState) state.Delta {
	panic("stage bug")
}

func TestControllerRecoversPanicAndClosesSession(t *testing.T) {
	session := &fakeSession{}
	engine := NewEngine(DefaultMaxRetries, panicStage{})
	ctrl := NewController(engine, session, &journalSpy{})

	v := ctrl.Run(context.Background(), "anything")

	assert.False(t, v.Success)
	assert.Contains(t, v.Error, "stage bug")
	assert.Equal(t, 1, session.closes)
}

func TestControllerRejectsEmptyRequirement(t *testing.T) {
	session := &fakeSession{}
	ctrl := NewController(NewEngine(DefaultMaxRetries), session, nil)

	v := ctrl.Run(context.Background(), "   \n\t  ")

	assert.False(t, v.Success)
	assert.Equal(t, "empty requirement", v.Error)
	assert.Equal(t, 1, session.closes)
}

func TestPackageWritesModuleLayout(t *testing.T) {
	dir := t.TempDir()
	stage := NewPackageStage(dir)

	st := state.New()
	st.Code = sampleCode
	st.Attempts = 2
	st.Messages = []state.Message{{Role: state.RoleUser, Content: "add two numbers"}}

	delta := stage.Run(context.Background(), st)
	merged := state.Merge(st, delta)
	require.Equal(t, string(StageEnd), merged.Next)

	moduleDir := state.StringKey(merged.PackageInfo, state.KeyModulePath)
	require.NotEmpty(t, moduleDir)
	for _, name := range []string{"generated.py", "__init__.py", "README.md"} {
		_, err := os.Stat(filepath.Join(moduleDir, name))
		assert.NoError(t, err, name)
	}

	standalone := state.StringKey(merged.PackageInfo, state.KeyStandaloneFile)
	content, err := os.ReadFile(standalone)
	require.NoError(t, err)
	assert.Contains(t, string(content), "def add")
}

func TestPackageFailureStillTerminates(t *testing.T) {
	// An unwritable output root must end the run, not recycle it.
	dir := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(dir, []byte("file, not dir"), 0o644))
	stage := NewPackageStage(filepath.Join(dir, "out"))

	st := state.New()
	st.Code = sampleCode
	delta := stage.Run(context.Background(), st)

	assert.Equal(t, string(StageEnd), delta[state.FieldNext])
}

func TestDedent(t *testing.T) {
	in := `
        Write a function.

        TEST DATA:
            [1, 2, 3]
    `
	out := Dedent(in)
	assert.Equal(t, "Write a function.\n\nTEST DATA:\n    [1, 2, 3]", out)
}

func TestExtractProvidedData(t *testing.T) {
	cases := []struct {
		req  string
		want string
	}{
		{"Sort a list. TEST DATA: [3, 1, 2]", "[3, 1, 2]"},
		{"Sort a list. sample data: [3, 1, 2]", "[3, 1, 2]"},
		{"Use this:\n```python\ndata = [1]\n```\nplease", "data = [1]"},
		{"No data here", ""},
	}
	for i, tc := range cases {
		assert.Equal(t, tc.want, extractProvidedData(tc.req), "case %d", i)
	}
}

func TestParseSignature(t *testing.T) {
	fn := parseSignature("def top_n(items: list[int], n: int = 5) -> list[int]:\n    pass")
	assert.Equal(t, "top_n", fn.Name)
	assert.Equal(t, []string{"items", "n"}, fn.Params)

	fn = parseSignature("x = 1")
	assert.Equal(t, "main", fn.Name)
}

func TestSmokeTestFallback(t *testing.T) {
	client := llm.NewMockClient(nil, []error{fmt.Errorf("down")})
	stage := NewGenerateTestsStage(client)

	st := state.New()
	st.Code = sampleCode
	st.Messages = []state.Message{{Role: state.RoleUser, Content: "add"}}
	delta := stage.Run(context.Background(), st)

	merged := state.Merge(st, delta)
	code := state.StringKey(merged.TestArtifact, KeyTestCode)
	assert.Contains(t, code, "add(")
	assert.Contains(t, code, "print")
	assert.Equal(t, string(StageExecute), merged.Next)
}

func TestParseReviewVerdict(t *testing.T) {
	v := ParseReviewVerdict("Sure, here is my review:\n" + rejectedXML)
	assert.False(t, v.Approved)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, "off by one", v.Issues[0])

	v = ParseReviewVerdict("<review><approved>TRUE</approved>")
	assert.True(t, v.Approved, "containment fallback is case-insensitive")

	v = ParseReviewVerdict("looks good to me!")
	assert.False(t, v.Approved, "no verdict means rejection")
}
