package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/sandbox"
	"modgen/pkg/state"
)

// Verdict is the outcome of a complete run. Success requires both a
// successful execution and an approving review.
type Verdict struct {
	RunID           string
	Success         bool
	Code            string
	ExecutionResult map[string]any
	ReviewResult    map[string]any
	PackageInfo     map[string]any
	Attempts        int
	Error           string
	Duration        time.Duration
}

// Recorder persists finished runs. Implementations must tolerate partial
// verdicts from failed runs.
type Recorder interface {
	Record(ctx context.Context, v Verdict) error
}

// Controller owns one run end to end: it seeds the state, drives the
// engine, shapes the verdict, and tears down the sandbox session on every
// exit path, including panics. Run never returns an error; faults are
// reported inside the verdict.
type Controller struct {
	engine  *Engine
	session sandbox.Session
	journal Recorder
	logger  *logx.Logger
}

// NewController wires a controller. session may not be nil; journal may be
// nil when run history is not wanted.
func NewController(engine *Engine, session sandbox.Session, journal Recorder) *Controller {
	return &Controller{
		engine:  engine,
		session: session,
		journal: journal,
		logger:  logx.NewLogger("controller"),
	}
}

// Run executes the pipeline for one natural-language requirement.
func (c *Controller) Run(ctx context.Context, request string) (v Verdict) {
	start := time.Now()
	v.RunID = uuid.NewString()
	c.logger.Info("run %s starting (backend=%s)", v.RunID, c.session.Backend())

	defer func() {
		if closeErr := c.session.Close(); closeErr != nil {
			c.logger.Warn("session close: %v", closeErr)
		}
		if r := recover(); r != nil {
			v.Success = false
			v.Error = fmt.Sprintf("pipeline panic: %v", r)
			c.logger.Error("run %s panicked: %v", v.RunID, r)
		}
		v.Duration = time.Since(start)
		metrics.Default().ObserveRun(v.Success, v.Duration)
		c.record(ctx, v)
		c.logger.Info("run %s finished: success=%t attempts=%d duration=%s",
			v.RunID, v.Success, v.Attempts, v.Duration)
	}()

	request = Dedent(request)
	if strings.TrimSpace(request) == "" {
		v.Error = "empty requirement"
		return v
	}

	initial := state.New()
	initial.Messages = []state.Message{{Role: state.RoleUser, Content: request}}
	initial.Next = string(StageGenerate)

	final, err := c.engine.Run(ctx, initial)
	v.Code = final.Code
	v.ExecutionResult = final.ExecutionResult
	v.ReviewResult = final.ReviewResult
	v.PackageInfo = final.PackageInfo
	v.Attempts = final.Attempts
	if err != nil {
		v.Error = err.Error()
		return v
	}

	v.Success = state.BoolKey(final.ExecutionResult, state.KeySuccess) &&
		state.BoolKey(final.ReviewResult, state.KeyApproved)
	if !v.Success && v.Error == "" {
		v.Error = failureSummary(final)
	}
	return v
}

// record writes the verdict to the journal, best effort. A context already
// canceled by the caller must not block persistence.
func (c *Controller) record(ctx context.Context, v Verdict) {
	if c.journal == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := c.journal.Record(ctx, v); err != nil {
		c.logger.Warn("journal record: %v", err)
	}
}

// failureSummary names the gate a failed run stopped at.
func failureSummary(final state.PipelineState) string {
	if !state.BoolKey(final.ExecutionResult, state.KeySuccess) {
		if desc := state.StringKey(final.ExecutionResult, state.KeyError); desc != "" {
			return "execution failed: " + desc
		}
		return "execution failed"
	}
	return "review rejected"
}

// Dedent strips the longest common leading whitespace from every non-blank
// line and trims surrounding blank lines, so indented heredoc-style
// requirements read cleanly in prompts.
func Dedent(text string) string {
	lines := strings.Split(text, "\n")

	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return strings.TrimSpace(text)
	}

	for i, line := range lines {
		if len(line) >= margin {
			lines[i] = line[margin:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
