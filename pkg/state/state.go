// Package state defines the shared pipeline state and its merge semantics.
//
// A run threads a single PipelineState through every stage. Stages never
// mutate the state directly; they return a sparse Delta and the engine folds
// it in through Merge. Each field has a declared reducer, so adding a field
// is a one-line change to the reducer table.
package state

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Field names the mergeable fields of PipelineState.
type Field string

const (
	FieldMessages        Field = "messages"
	FieldCode            Field = "code"
	FieldTestArtifact    Field = "test_artifact"
	FieldExecutionResult Field = "execution_result"
	FieldReviewResult    Field = "review_result"
	FieldPackageInfo     Field = "package_info"
	FieldNext            Field = "next"
	FieldAttempts        Field = "attempts"
)

// Result mapping keys shared by the execute and review stages.
const (
	KeySuccess   = "success"
	KeyStdout    = "stdout"
	KeyStderr    = "stderr"
	KeyError     = "error"
	KeyApproved  = "approved"
	KeyRawReview = "raw_review"
)

// Package descriptor keys written by the packaging stage.
const (
	KeyModulePath     = "module_path"
	KeyStandaloneFile = "standalone_file"
	KeyPackagedAt     = "packaged_at"
)

// Delta is a sparse partial update: only the fields a stage changed.
// FieldAttempts carries a delta (summed in), every other field carries the
// incoming value for its reducer.
type Delta map[Field]any

// PipelineState is the shared record threaded through a run.
type PipelineState struct {
	Messages        []Message
	Code            string
	TestArtifact    map[string]any
	ExecutionResult map[string]any
	ReviewResult    map[string]any
	PackageInfo     map[string]any
	Next            string
	Attempts        int
}

// New returns an empty state with all mapping fields initialized.
func New() PipelineState {
	return PipelineState{
		Messages:        []Message{},
		TestArtifact:    map[string]any{},
		ExecutionResult: map[string]any{},
		ReviewResult:    map[string]any{},
		PackageInfo:     map[string]any{},
	}
}

// reducer folds one incoming field value into the state.
type reducer func(s *PipelineState, incoming any)

// reducers is the per-field merge table. Reducers are total: values of an
// unexpected shape are dropped rather than failing the merge.
//
//nolint:gochecknoglobals // data-driven merge table
var reducers = map[Field]reducer{
	FieldMessages: func(s *PipelineState, incoming any) {
		switch v := incoming.(type) {
		case []Message:
			s.Messages = append(s.Messages, v...)
		case Message:
			s.Messages = append(s.Messages, v)
		}
	},
	FieldCode: func(s *PipelineState, incoming any) {
		if v, ok := incoming.(string); ok {
			s.Code = v
		}
	},
	FieldTestArtifact: func(s *PipelineState, incoming any) {
		s.TestArtifact = shallowMerge(s.TestArtifact, incoming)
	},
	FieldExecutionResult: func(s *PipelineState, incoming any) {
		s.ExecutionResult = shallowMerge(s.ExecutionResult, incoming)
	},
	FieldReviewResult: func(s *PipelineState, incoming any) {
		s.ReviewResult = shallowMerge(s.ReviewResult, incoming)
	},
	FieldPackageInfo: func(s *PipelineState, incoming any) {
		s.PackageInfo = shallowMerge(s.PackageInfo, incoming)
	},
	FieldNext: func(s *PipelineState, incoming any) {
		if v, ok := incoming.(string); ok {
			s.Next = v
		}
	},
	FieldAttempts: func(s *PipelineState, incoming any) {
		if v, ok := incoming.(int); ok {
			s.Attempts += v
		}
	},
}

// Merge applies the reducer of every field present in delta and returns the
// updated state. Fields absent from delta carry over unchanged. Merge is pure:
// neither input is mutated.
func Merge(current PipelineState, delta Delta) PipelineState {
	updated := clone(current)
	for field, incoming := range delta {
		if reduce, ok := reducers[field]; ok {
			reduce(&updated, incoming)
		}
		// Unknown fields are ignored: merge never fails.
	}
	return updated
}

// shallowMerge copies keys from incoming over existing, newer keys winning.
// Keys unique to either side are preserved.
func shallowMerge(existing map[string]any, incoming any) map[string]any {
	in, ok := incoming.(map[string]any)
	if !ok {
		return existing
	}
	merged := make(map[string]any, len(existing)+len(in))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range in {
		merged[k] = v
	}
	return merged
}

func clone(s PipelineState) PipelineState {
	out := s
	out.Messages = append([]Message{}, s.Messages...)
	out.TestArtifact = copyMap(s.TestArtifact)
	out.ExecutionResult = copyMap(s.ExecutionResult)
	out.ReviewResult = copyMap(s.ReviewResult)
	out.PackageInfo = copyMap(s.PackageInfo)
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BoolKey reads a boolean key from a result mapping, defaulting to false for
// missing keys or non-boolean values.
func BoolKey(m map[string]any, key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

// StringKey reads a string key from a result mapping, defaulting to "".
func StringKey(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
