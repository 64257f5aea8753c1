package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter provides token counting for usage metrics. All supported
// providers are approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in the given text, falling back to a
// character-based estimate (4 chars per token) if the codec is unavailable.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountRequest returns the token count of all messages in a request.
func (tc *TokenCounter) CountRequest(in Request) int {
	var total int
	for i := range in.Messages {
		total += tc.Count(in.Messages[i].Content)
	}
	return total
}

var (
	sharedCounter     *TokenCounter //nolint:gochecknoglobals // lazily built shared codec
	sharedCounterOnce sync.Once     //nolint:gochecknoglobals
)

// CountTokens counts tokens with a lazily initialized shared counter.
func CountTokens(text string) int {
	sharedCounterOnce.Do(func() {
		sharedCounter, _ = NewTokenCounter()
	})
	return sharedCounter.Count(text)
}
