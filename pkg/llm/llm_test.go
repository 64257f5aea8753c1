package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modgen/pkg/state"
)

func TestSplitSystem(t *testing.T) {
	system, alternating, err := splitSystem([]state.Message{
		{Role: state.RoleSystem, Content: "you are a code generator"},
		{Role: state.RoleUser, Content: "instructions"},
		{Role: state.RoleUser, Content: "write bubble sort"},
	})
	require.NoError(t, err)

	assert.Equal(t, "you are a code generator", system)
	require.Len(t, alternating, 1, "consecutive user messages should be merged")
	assert.Equal(t, state.RoleUser, alternating[0].Role)
	assert.Contains(t, alternating[0].Content, "instructions")
	assert.Contains(t, alternating[0].Content, "write bubble sort")
}

func TestSplitSystemEmpty(t *testing.T) {
	_, _, err := splitSystem(nil)
	assert.Error(t, err)

	_, _, err = splitSystem([]state.Message{{Role: state.RoleSystem, Content: "only system"}})
	assert.Error(t, err)
}

func TestSplitSystemMustEndWithUser(t *testing.T) {
	_, _, err := splitSystem([]state.Message{
		{Role: state.RoleUser, Content: "hi"},
		{Role: state.RoleAssistant, Content: "hello"},
	})
	assert.Error(t, err)
}

func TestMockClientSequence(t *testing.T) {
	mock := NewMockClient(
		[]Response{{Content: "first"}, {Content: "second"}},
		[]error{nil, errors.New("boom")},
	)

	resp, err := mock.Complete(context.Background(), NewRequest(UserMessage("hi")))
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	_, err = mock.Complete(context.Background(), NewRequest(UserMessage("again")))
	assert.Error(t, err)

	resp, err = mock.Complete(context.Background(), NewRequest(UserMessage("again")))
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	_, err = mock.Complete(context.Background(), NewRequest(UserMessage("exhausted")))
	assert.Error(t, err)
	assert.Equal(t, 4, mock.Calls())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"rate limit", errors.New("429 Too Many Requests"), ErrorTypeRateLimit},
		{"quota", errors.New("monthly quota exceeded"), ErrorTypeRateLimit},
		{"auth", errors.New("401 Unauthorized"), ErrorTypeAuth},
		{"bad key", errors.New("invalid api key"), ErrorTypeAuth},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeTransient},
		{"timeout", errors.New("request timeout"), ErrorTypeTransient},
		{"overloaded", errors.New("overloaded_error"), ErrorTypeTransient},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError("test", tt.err)
			require.NotNil(t, classified)
			assert.Equal(t, tt.want, classified.Type)
		})
	}
}

func TestClassifyErrorPassthrough(t *testing.T) {
	original := NewError(ErrorTypeBadPrompt, "empty message list")
	assert.Same(t, original, ClassifyError("test", original))
	assert.Nil(t, ClassifyError("test", nil))
}

func TestTokenCounterFallback(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, len("abcdefgh")/4, tc.Count("abcdefgh"))
}

func TestCountTokens(t *testing.T) {
	n := CountTokens("def bubble_sort(items): return sorted(items)")
	assert.Greater(t, n, 0)
}

func TestInstrumentPassesThrough(t *testing.T) {
	mock := NewMockClient([]Response{{Content: "def f(): pass"}}, []error{nil, errors.New("429")})
	client := Instrument(mock, "anthropic")

	resp, err := client.Complete(context.Background(), NewRequest(UserMessage("write f")))
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass", resp.Content)
	assert.Equal(t, "mock", client.ModelName())

	_, err = client.Complete(context.Background(), NewRequest(UserMessage("again")))
	assert.Error(t, err, "errors propagate unchanged")
}
