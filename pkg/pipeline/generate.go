package pipeline

import (
	"context"

	"modgen/pkg/llm"
	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/state"
)

const generateSystemPrompt = `You are an expert Python developer. Generate clean,
well-documented Python code based on the user's requirement.

Rules:
- Produce a single self-contained Python function (plus helpers if needed).
- Include a docstring describing parameters and return value.
- Do not include markdown fences, backticks, or prose outside the code.
- Do not include example usage or test calls; only the implementation.`

// GenerateStage produces candidate code from the requirement in the message
// history. Each invocation costs one unit of the shared retry budget.
type GenerateStage struct {
	client     llm.Client
	maxRetries int
	recorder   *metrics.Recorder
	logger     *logx.Logger
}

// NewGenerateStage wires a primary-model generation stage.
func NewGenerateStage(client llm.Client, maxRetries int) *GenerateStage {
	return &GenerateStage{
		client:     client,
		maxRetries: maxRetries,
		recorder:   metrics.Default(),
		logger:     logx.NewLogger("generate"),
	}
}

// Name implements Stage.
func (g *GenerateStage) Name() StageName { return StageGenerate }

// Run implements Stage. The budget is checked before any model call so an
// exhausted run never spends another request; otherwise one attempt is
// consumed whether or not the provider call succeeds.
func (g *GenerateStage) Run(ctx context.Context, s state.PipelineState) state.Delta {
	if s.Attempts >= g.maxRetries {
		g.logger.Warn("retry budget exhausted before generation (attempts=%d)", s.Attempts)
		return state.Delta{state.FieldNext: string(StageEnd)}
	}

	req := llm.NewRequest(
		llm.SystemMessage(generateSystemPrompt),
		llm.UserMessage(requirement(s)),
	)
	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		g.logger.Error("generation attempt %d failed: %v", s.Attempts+1, err)
		g.recorder.ObserveStage(string(StageGenerate), false)
		g.recorder.ObserveAttempt()
		// Retry generation directly; the budget check on re-entry
		// terminates the run once attempts reach the ceiling.
		return state.Delta{
			state.FieldAttempts: 1,
			state.FieldNext:     string(StageGenerate),
		}
	}

	code := cleanGeneratedCode(resp.Content)
	g.logger.Info("generated %d bytes of code (attempt %d)", len(code), s.Attempts+1)
	g.recorder.ObserveStage(string(StageGenerate), true)
	g.recorder.ObserveAttempt()

	return state.Delta{
		state.FieldMessages: []state.Message{{Role: state.RoleAssistant, Content: code}},
		state.FieldCode:     code,
		state.FieldAttempts: 1,
		state.FieldNext:     string(StageGenerateTests),
	}
}

// requirement returns the original user requirement from the seed of the
// message history. A retry regenerates from it; prior failure output is not
// threaded back in.
func requirement(s state.PipelineState) string {
	for i := range s.Messages {
		if s.Messages[i].Role == state.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}
