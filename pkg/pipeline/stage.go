// Package pipeline implements the generation-verification pipeline: five
// stages driven by a deterministic workflow engine with a shared retry
// budget, and a run controller that owns resource teardown.
package pipeline

import (
	"context"
	"strings"

	"modgen/pkg/state"
)

// StageName identifies a stage in the workflow.
type StageName string

// The fixed stage set. StageEnd is the terminal marker: it has no Stage
// implementation and no outgoing transition.
const (
	StageGenerate      StageName = "generate"
	StageGenerateTests StageName = "test_generation"
	StageExecute       StageName = "execute"
	StageReview        StageName = "review"
	StagePackage       StageName = "package"
	StageEnd           StageName = "end"
)

// Stage is one unit of the pipeline. Run consumes the current state and
// returns a sparse delta of the fields it changed, always including
// state.FieldNext.
//
// A stage must not fail past its own boundary: internal faults (provider
// errors, malformed output, sandbox trouble) are converted into a failed
// result mapping inside the returned delta, so the engine only ever routes
// on state, never on errors.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, s state.PipelineState) state.Delta
}

// cleanGeneratedCode strips markdown fences and leading prose from model
// output that was asked for bare code.
func cleanGeneratedCode(text string) string {
	text = strings.ReplaceAll(text, "```python", "")
	text = strings.ReplaceAll(text, "```", "")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && len(cleaned) == 0 {
			continue // drop leading blank lines
		}
		if startsWithProse(trimmed) && !strings.Contains(line, "print") && !strings.Contains(line, "assert") {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimRight(strings.Join(cleaned, "\n"), "\n")
}

// startsWithProse reports whether a line looks like model commentary rather
// than code.
func startsWithProse(trimmed string) bool {
	for _, prefix := range []string{"Here", "This", "Note", "The following"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}
