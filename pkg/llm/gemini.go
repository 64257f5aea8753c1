package llm

import (
	"context"

	"google.golang.org/genai"

	"modgen/pkg/state"
)

// GeminiClient wraps the Google GenAI client to implement Client.
type GeminiClient struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClient creates a new Gemini client for the given model.
// Client construction requires a context, so it is deferred to the first
// Complete call.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
	}
}

// Complete implements the Client interface.
func (g *GeminiClient) Complete(ctx context.Context, in Request) (Response, error) {
	if g.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return Response{}, ClassifyError("gemini", err)
		}
		g.client = client
	}

	systemPrompt, alternating, err := splitSystem(in.Messages)
	if err != nil {
		return Response{}, NewError(ErrorTypeBadPrompt, err.Error())
	}

	contents := make([]*genai.Content, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		role := "user"
		if msg.Role == state.RoleAssistant {
			role = "model" // Gemini uses "model" instead of "assistant"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	//nolint:gosec // MaxTokens validated at the pipeline layer
	maxTokens := int32(in.MaxTokens)
	config := &genai.GenerateContentConfig{
		Temperature:     &in.Temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Response{}, ClassifyError("gemini", err)
	}
	if result == nil || result.Text() == "" {
		return Response{}, NewError(ErrorTypeEmptyResponse, "no text content in Gemini response")
	}

	return Response{Content: result.Text(), StopReason: "end_turn"}, nil
}

// ModelName returns the model name for this client.
func (g *GeminiClient) ModelName() string {
	return g.model
}
