package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"modgen/pkg/state"
)

// AnthropicClient wraps the Anthropic API client to implement Client.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicClient creates a new Claude client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete implements the Client interface.
func (c *AnthropicClient) Complete(ctx context.Context, in Request) (Response, error) {
	systemPrompt, alternating, err := splitSystem(in.Messages)
	if err != nil {
		return Response{}, NewError(ErrorTypeBadPrompt, err.Error())
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		role := anthropic.MessageParamRoleUser
		if msg.Role == state.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: systemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, ClassifyError("anthropic", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return Response{}, NewError(ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var responseText string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			responseText += block.AsText().Text
		}
	}
	if responseText == "" {
		return Response{}, NewError(ErrorTypeEmptyResponse, "no text content in Claude response")
	}

	return Response{
		Content:    responseText,
		StopReason: string(resp.StopReason),
	}, nil
}

// ModelName returns the model name for this client.
func (c *AnthropicClient) ModelName() string {
	return string(c.model)
}
