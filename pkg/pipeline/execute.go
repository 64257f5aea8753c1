package pipeline

import (
	"context"
	"fmt"
	"strings"

	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/sandbox"
	"modgen/pkg/state"
)

// stderrTail caps how much interpreter stderr is carried into the error
// description on failure.
const stderrTail = 2000

// ExecuteStage runs the candidate code together with its test script inside
// a sandbox session. Setup commands run once per session, lazily on the
// first invocation, so a run that never reaches Execute never pays for
// sandbox startup.
type ExecuteStage struct {
	session   sandbox.Session
	setup     []string
	setupDone bool
	recorder  *metrics.Recorder
	logger    *logx.Logger
}

// NewExecuteStage wires an execution stage over the given session. The
// session's lifetime is owned by the run controller, not the stage.
func NewExecuteStage(session sandbox.Session, setup []string) *ExecuteStage {
	return &ExecuteStage{
		session:  session,
		setup:    setup,
		recorder: metrics.Default(),
		logger:   logx.NewLogger("execute"),
	}
}

// Name implements Stage.
func (e *ExecuteStage) Name() StageName { return StageExecute }

// Run implements Stage. Sandbox faults of any kind, including setup
// failures and transport errors, become a failed execution result; the
// engine then routes back to generation like any other failure.
func (e *ExecuteStage) Run(ctx context.Context, s state.PipelineState) state.Delta {
	if err := e.ensureSetup(ctx); err != nil {
		e.logger.Error("sandbox setup failed: %v", err)
		e.recorder.ObserveStage(string(StageExecute), false)
		return failedExecution(fmt.Sprintf("sandbox setup: %v", err))
	}

	payload := combine(s.Code, state.StringKey(s.TestArtifact, KeyTestCode))
	res, err := e.session.RunCode(ctx, payload)
	if err != nil {
		e.logger.Error("sandbox run failed: %v", err)
		e.recorder.ObserveStage(string(StageExecute), false)
		return failedExecution(fmt.Sprintf("sandbox: %v", err))
	}

	success := res.ExitCode == 0
	e.logger.Info("execution finished: exit=%d duration=%s backend=%s",
		res.ExitCode, res.Duration, e.session.Backend())
	e.recorder.ObserveStage(string(StageExecute), success)

	next := StageReview
	errDesc := ""
	if !success {
		next = StageGenerate
		errDesc = fmt.Sprintf("exit status %d: %s", res.ExitCode, tail(res.Stderr, stderrTail))
	}
	return state.Delta{
		state.FieldExecutionResult: map[string]any{
			state.KeySuccess: success,
			state.KeyStdout:  res.Stdout,
			state.KeyStderr:  res.Stderr,
			state.KeyError:   errDesc,
		},
		state.FieldNext: string(next),
	}
}

// ensureSetup runs configured install commands once per stage instance.
func (e *ExecuteStage) ensureSetup(ctx context.Context) error {
	if e.setupDone {
		return nil
	}
	for _, cmd := range e.setup {
		res, err := e.session.RunCommand(ctx, cmd)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("setup command %q exited %d: %s", cmd, res.ExitCode, tail(res.Stderr, stderrTail))
		}
	}
	e.setupDone = true
	return nil
}

func failedExecution(desc string) state.Delta {
	return state.Delta{
		state.FieldExecutionResult: map[string]any{
			state.KeySuccess: false,
			state.KeyStdout:  "",
			state.KeyStderr:  "",
			state.KeyError:   desc,
		},
		state.FieldNext: string(StageGenerate),
	}
}

// combine appends the test script after the candidate code so both run in a
// single interpreter invocation.
func combine(code, testCode string) string {
	code = strings.TrimRight(code, "\n")
	testCode = strings.TrimSpace(testCode)
	if testCode == "" {
		return code + "\n"
	}
	return code + "\n\n\n" + testCode + "\n"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
