package llm

import (
	"context"
	"sync"
	"time"

	"modgen/pkg/metrics"
)

// instrumentedClient wraps a Client with request metrics: latency, token
// counts, and classified error types.
type instrumentedClient struct {
	inner    Client
	provider string
	recorder *metrics.Recorder

	counterOnce sync.Once
	counter     *TokenCounter
}

// Instrument wraps client so every Complete call is recorded against the
// provider and model labels.
func Instrument(client Client, provider string) Client {
	return &instrumentedClient{
		inner:    client,
		provider: provider,
		recorder: metrics.Default(),
	}
}

func (c *instrumentedClient) Complete(ctx context.Context, in Request) (Response, error) {
	c.counterOnce.Do(func() {
		c.counter, _ = NewTokenCounter()
	})

	start := time.Now()
	resp, err := c.inner.Complete(ctx, in)
	duration := time.Since(start)

	errType := ""
	completionTokens := 0
	if err != nil {
		errType = ClassifyError(c.provider, err).Type.String()
	} else {
		completionTokens = c.counter.Count(resp.Content)
	}
	c.recorder.ObserveLLMRequest(c.provider, c.inner.ModelName(),
		c.counter.CountRequest(in), completionTokens, errType, duration)
	return resp, err
}

func (c *instrumentedClient) ModelName() string {
	return c.inner.ModelName()
}
