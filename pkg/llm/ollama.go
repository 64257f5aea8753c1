package llm

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"modgen/pkg/state"
)

// OllamaClient wraps the Ollama API client for locally hosted models.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a new Ollama client.
// hostURL is the Ollama server URL (e.g. "http://localhost:11434").
func NewOllamaClient(hostURL, model string) *OllamaClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &OllamaClient{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Complete implements the Client interface.
func (o *OllamaClient) Complete(ctx context.Context, in Request) (Response, error) {
	if len(in.Messages) == 0 {
		return Response{}, NewError(ErrorTypeBadPrompt, "message list cannot be empty")
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		role := "user"
		switch msg.Role {
		case state.RoleSystem:
			role = "system"
		case state.RoleAssistant:
			role = "assistant"
		}
		messages = append(messages, api.Message{Role: role, Content: msg.Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return Response{}, ClassifyError("ollama", err)
	}
	if response.Message.Content == "" {
		return Response{}, NewError(ErrorTypeEmptyResponse, "no text content in Ollama response")
	}

	return Response{
		Content:    response.Message.Content,
		StopReason: ollamaStopReason(&response),
	}, nil
}

// ModelName returns the model name for this client.
func (o *OllamaClient) ModelName() string {
	return o.model
}

func ollamaStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}
