package llm

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxTokens is used when a request does not cap its completion.
const DefaultMaxTokens = 4096

// BaseProvider holds the model name shared by every provider.
type BaseProvider struct {
	model string
}

// GetModel returns the provider-native model name.
func (b *BaseProvider) GetModel() string { return b.model }

// maxTokens returns the request cap or the default.
func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}

// TokenCounter provides a utility for estimating token counts from text.
// This is useful when a provider omits usage from its response.
type TokenCounter struct {
	// CharactersPerToken represents the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a new TokenCounter with a default character-per-token ratio.
// The default is a general approximation suitable for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens calculates an estimated token count for a given string of text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/tc.CharactersPerToken + 0.5)
}

// GetTokenCount returns the actual token count if it is available and positive.
// Otherwise, it falls back to estimating the count based on the provided text.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}

// decodeToolArguments parses the JSON argument string providers return for
// function calls. Empty input yields an empty map.
func decodeToolArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	return args, nil
}

// toolSchema returns a tool's parameter schema, defaulting to an empty object.
func toolSchema(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return params
}
