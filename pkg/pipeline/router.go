package pipeline

import "modgen/pkg/state"

// The router owns the two conditional transitions of the workflow. Both
// decision points consult the same retry budget: a failure or rejection
// loops back to generation only while attempts remain, otherwise the run
// terminates with its failure state intact.

// RouteAfterExecute picks the next stage from an execution result.
func RouteAfterExecute(s state.PipelineState, maxRetries int) StageName {
	if state.BoolKey(s.ExecutionResult, state.KeySuccess) {
		return StageReview
	}
	if s.Attempts >= maxRetries {
		return StageEnd
	}
	return StageGenerate
}

// RouteAfterReview picks the next stage from a review verdict.
func RouteAfterReview(s state.PipelineState, maxRetries int) StageName {
	if state.BoolKey(s.ReviewResult, state.KeyApproved) {
		return StagePackage
	}
	if s.Attempts >= maxRetries {
		return StageEnd
	}
	return StageGenerate
}
