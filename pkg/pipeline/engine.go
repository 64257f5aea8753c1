package pipeline

import (
	"context"
	"fmt"

	"modgen/pkg/logx"
	"modgen/pkg/state"
)

// DefaultMaxRetries is the shared retry budget: the maximum number of
// generation cycles a run may consume across execution failures and review
// rejections combined.
const DefaultMaxRetries = 3

// Engine walks the stage graph: look up the current stage, run it, merge
// its delta, pick the next stage. Transitions use the stage's own next
// field except after Execute and Review, where the router's budget-aware
// decision takes precedence.
type Engine struct {
	stages     map[StageName]Stage
	maxRetries int
	logger     *logx.Logger
}

// NewEngine builds an engine over the given stages. maxRetries values below
// one fall back to DefaultMaxRetries.
func NewEngine(maxRetries int, stages ...Stage) *Engine {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	byName := make(map[StageName]Stage, len(stages))
	for _, st := range stages {
		byName[st.Name()] = st
	}
	return &Engine{
		stages:     byName,
		maxRetries: maxRetries,
		logger:     logx.NewLogger("engine"),
	}
}

// MaxRetries returns the engine's retry budget.
func (e *Engine) MaxRetries() int { return e.maxRetries }

// iterationCap bounds total stage invocations as a last-resort guard
// against a routing bug. Every legal run fits well inside it: at most
// maxRetries cycles of four stages plus one packaging step.
func (e *Engine) iterationCap() int {
	return e.maxRetries*4 + 2
}

// Run drives the state machine from entry to the terminal marker and
// returns the final state. The returned error reports engine-level faults
// only (undefined stage, iteration guard); stage-level failures are
// expressed in the state itself.
func (e *Engine) Run(ctx context.Context, initial state.PipelineState) (state.PipelineState, error) {
	st := initial
	current := StageGenerate
	if st.Next != "" {
		current = StageName(st.Next)
	}

	for i := 0; i < e.iterationCap(); i++ {
		if current == StageEnd {
			return st, nil
		}
		stage, ok := e.stages[current]
		if !ok {
			return st, fmt.Errorf("no stage registered for %q", current)
		}

		e.logger.Debug("running stage %s (attempts=%d)", current, st.Attempts)
		delta := stage.Run(ctx, st)
		st = state.Merge(st, delta)

		next := StageName(st.Next)
		switch current {
		case StageExecute:
			next = RouteAfterExecute(st, e.maxRetries)
		case StageReview:
			next = RouteAfterReview(st, e.maxRetries)
		}
		e.logger.Debug("transition %s -> %s", current, next)
		current = next
	}
	return st, fmt.Errorf("iteration guard tripped after %d stage runs", e.iterationCap())
}
