// Package llm provides the generative text client interface and its provider
// implementations.
package llm

import (
	"context"
	"fmt"
	"strings"

	"modgen/pkg/state"
)

const (
	// DefaultMaxTokens caps completion length for all pipeline prompts.
	DefaultMaxTokens = 4096

	// DefaultTemperature keeps generation output consistent across retries.
	DefaultTemperature float32 = 0.1
)

// Request is a completion request: an ordered, role-tagged conversation.
type Request struct {
	Messages    []state.Message
	MaxTokens   int
	Temperature float32
}

// Response is the provider's completion.
type Response struct {
	Content    string
	StopReason string
}

// Client is the interface every provider implements.
type Client interface {
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// ModelName returns the model this client talks to.
	ModelName() string
}

// NewRequest creates a completion request with pipeline defaults.
func NewRequest(messages ...state.Message) Request {
	return Request{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// UserMessage builds a user-role message.
func UserMessage(content string) state.Message {
	return state.Message{Role: state.RoleUser, Content: content}
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) state.Message {
	return state.Message{Role: state.RoleSystem, Content: content}
}

// splitSystem extracts system messages into a single system prompt and merges
// consecutive non-assistant messages so the remainder strictly alternates
// user/assistant, as the Anthropic and Gemini APIs require.
func splitSystem(messages []state.Message) (systemPrompt string, alternating []state.Message, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var rest []state.Message
	for i := range messages {
		if messages[i].Role == state.RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
		} else {
			rest = append(rest, messages[i])
		}
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	var merged []state.Message
	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, state.Message{
				Role:    state.RoleUser,
				Content: strings.Join(userParts, "\n\n"),
			})
			userParts = nil
		}
	}
	for i := range rest {
		if rest[i].Role == state.RoleAssistant {
			flush()
			merged = append(merged, rest[i])
		} else {
			userParts = append(userParts, rest[i].Content)
		}
	}
	flush()

	if merged[len(merged)-1].Role != state.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}
	return systemPrompt, merged, nil
}
