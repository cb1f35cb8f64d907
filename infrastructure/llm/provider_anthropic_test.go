package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc) CoreLLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := newAnthropicProvider(ClientConfig{APIKey: "test-key", Model: "claude-sonnet-4-5", BaseURL: server.URL})
	require.NoError(t, err)
	return p
}

func TestAnthropicProvider_DoRequest(t *testing.T) {
	var captured map[string]any
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Let me search. "},
				{"type": "tool_use", "id": "tu_1", "name": "search", "input": {"q": "golang"}},
				{"type": "text", "text": "Done."}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	})

	temp := 1.5
	resp, err := p.DoRequest(context.Background(), Request{
		System:      "Be brief.",
		Prompt:      "Find Go docs",
		Temperature: &temp,
		Tools: []domain.ToolDefinition{{
			Name:        "search",
			Description: "Web search",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
				"required":   []any{"q"},
			},
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Let me search. Done.", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"q": "golang"}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, domain.Usage{InputTokens: 12, OutputTokens: 7}, resp.Usage)

	assert.Equal(t, "claude-sonnet-4-5", captured["model"])
	assert.Equal(t, 1.0, captured["temperature"], "temperature is clamped to the provider range")
	assert.EqualValues(t, DefaultMaxTokens, captured["max_tokens"])
	system := captured["system"].([]any)
	assert.Equal(t, "Be brief.", system[0].(map[string]any)["text"])
	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "search", tool["name"])
	assert.Equal(t, "Web search", tool["description"])
	schema := tool["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"q"}, schema["required"])
}

func TestAnthropicProvider_JSONModeAddsInstruction(t *testing.T) {
	var captured map[string]any
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"message","role":"assistant","content":[{"type":"text","text":"{}"}],"usage":{}}`))
	})

	resp, err := p.DoRequest(context.Background(), Request{Prompt: "grade this", JSONMode: true})

	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	raw, _ := json.Marshal(captured["messages"])
	assert.Contains(t, string(raw), "single JSON object")
	assert.Greater(t, resp.Usage.InputTokens, 0, "falls back to estimation")
}

func TestAnthropicProvider_ErrorHandling(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		errType  string
		sentinel error
	}{
		{"authentication", http.StatusUnauthorized, "authentication_error", ports.ErrAuthenticationFailed},
		{"rate limit", http.StatusTooManyRequests, "rate_limit_error", ports.ErrRateLimited},
		{"overloaded", http.StatusInternalServerError, "api_error", ports.ErrServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"` + tt.errType + `","message":"nope"}}`))
			})

			_, err := p.DoRequest(context.Background(), Request{Prompt: "p"})

			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, 1, calls, "SDK retries are disabled")
		})
	}
}

func TestAnthropicProvider_EmptyResponse(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"message","role":"assistant","content":[],"usage":{}}`))
	})

	_, err := p.DoRequest(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicSchema(t *testing.T) {
	schema := anthropicSchema(map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{"type": "integer"}},
		"required":             []string{"a"},
		"additionalProperties": false,
	})

	assert.Equal(t, []string{"a"}, schema.Required)
	assert.Equal(t, map[string]any{"additionalProperties": false}, schema.ExtraFields)
	assert.NotNil(t, schema.Properties)
}
