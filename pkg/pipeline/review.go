package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"modgen/pkg/llm"
	"modgen/pkg/logx"
	"modgen/pkg/metrics"
	"modgen/pkg/state"
)

const reviewSystemPrompt = `You are a strict code reviewer. Assess whether the code correctly
and robustly satisfies the requirement, given that it already executed
successfully.

Respond with exactly this XML structure and nothing else:

<review>
  <approved>true|false</approved>
  <issues>
    <issue>...</issue>
  </issues>
  <suggestions>
    <suggestion>...</suggestion>
  </suggestions>
</review>

Approve only when the code is correct, handles edge cases, and matches the
requirement. Leave issues empty when approving.`

// ReviewVerdict is the parsed reviewer response.
type ReviewVerdict struct {
	XMLName     xml.Name `xml:"review"`
	Approved    bool     `xml:"approved"`
	Issues      []string `xml:"issues>issue"`
	Suggestions []string `xml:"suggestions>suggestion"`
}

// ReviewStage gates packaging behind a model review of code that already
// executed successfully. A provider fault or an unparseable verdict counts
// as a rejection, never as an approval.
type ReviewStage struct {
	client   llm.Client
	recorder *metrics.Recorder
	logger   *logx.Logger
}

// NewReviewStage wires a review stage.
func NewReviewStage(client llm.Client) *ReviewStage {
	return &ReviewStage{
		client:   client,
		recorder: metrics.Default(),
		logger:   logx.NewLogger("review"),
	}
}

// Name implements Stage.
func (r *ReviewStage) Name() StageName { return StageReview }

// Run implements Stage.
func (r *ReviewStage) Run(ctx context.Context, s state.PipelineState) state.Delta {
	resp, err := r.client.Complete(ctx, llm.NewRequest(
		llm.SystemMessage(reviewSystemPrompt),
		llm.UserMessage(r.buildPrompt(s)),
	))
	if err != nil {
		r.logger.Error("review call failed: %v", err)
		r.recorder.ObserveStage(string(StageReview), false)
		return reviewDelta(false, fmt.Sprintf("review unavailable: %v", err))
	}

	verdict := ParseReviewVerdict(resp.Content)
	r.logger.Info("review verdict: approved=%t issues=%d", verdict.Approved, len(verdict.Issues))
	r.recorder.ObserveStage(string(StageReview), verdict.Approved)
	return reviewDelta(verdict.Approved, resp.Content)
}

func (r *ReviewStage) buildPrompt(s state.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requirement:\n%s\n\nCode:\n%s\n", requirement(s), s.Code)
	if stdout := state.StringKey(s.ExecutionResult, state.KeyStdout); stdout != "" {
		fmt.Fprintf(&b, "\nExecution output:\n%s\n", stdout)
	}
	return b.String()
}

func reviewDelta(approved bool, raw string) state.Delta {
	next := StagePackage
	if !approved {
		next = StageGenerate
	}
	return state.Delta{
		state.FieldReviewResult: map[string]any{
			state.KeyApproved:  approved,
			state.KeyRawReview: raw,
		},
		state.FieldNext: string(next),
	}
}

// ParseReviewVerdict extracts the <review> document from model output.
// Surrounding prose is tolerated; a response with no parseable verdict and
// no literal approval tag is a rejection.
func ParseReviewVerdict(raw string) ReviewVerdict {
	doc := raw
	if start := strings.Index(doc, "<review>"); start >= 0 {
		if end := strings.Index(doc[start:], "</review>"); end >= 0 {
			doc = doc[start : start+end+len("</review>")]
		}
	}

	var v ReviewVerdict
	if err := xml.Unmarshal([]byte(doc), &v); err == nil {
		return v
	}

	// Degraded parse for malformed XML.
	v = ReviewVerdict{}
	v.Approved = strings.Contains(strings.ToLower(raw), "<approved>true</approved>")
	return v
}
