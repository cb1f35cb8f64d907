package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
)

var weatherTool = domain.ToolDefinition{
	Name:        "get_weather",
	Description: "Current weather for a city",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city":  map[string]any{"type": "string"},
			"units": map[string]any{"type": "string", "enum": []any{"c", "f"}},
		},
		"required": []any{"city"},
	},
}

func TestSchemaValidator_ValidateDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		tools   []domain.ToolDefinition
		wantErr string
	}{
		{
			name:  "valid tools",
			tools: []domain.ToolDefinition{weatherTool, {Name: "now"}},
		},
		{
			name:    "missing name",
			tools:   []domain.ToolDefinition{{Description: "nameless"}},
			wantErr: "tool 0: missing name",
		},
		{
			name:    "duplicate name",
			tools:   []domain.ToolDefinition{weatherTool, weatherTool},
			wantErr: `tool "get_weather": duplicate name`,
		},
		{
			name: "schema does not compile",
			tools: []domain.ToolDefinition{{
				Name:       "broken",
				Parameters: map[string]any{"type": 42},
			}},
			wantErr: `tool "broken": invalid parameter schema`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSchemaValidator().ValidateDefinitions(tt.tools)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSchemaValidator_ValidateCall(t *testing.T) {
	tools := []domain.ToolDefinition{weatherTool, {Name: "now"}}

	tests := []struct {
		name    string
		call    domain.ToolCall
		wantErr string
	}{
		{
			name: "valid arguments",
			call: domain.ToolCall{Name: "get_weather", Arguments: map[string]any{"city": "Oslo", "units": "c"}},
		},
		{
			name:    "missing required argument",
			call:    domain.ToolCall{Name: "get_weather", Arguments: map[string]any{"units": "c"}},
			wantErr: "city",
		},
		{
			name:    "nil arguments against required schema",
			call:    domain.ToolCall{Name: "get_weather"},
			wantErr: "arguments failed validation",
		},
		{
			name:    "enum violation",
			call:    domain.ToolCall{Name: "get_weather", Arguments: map[string]any{"city": "Oslo", "units": "k"}},
			wantErr: "units",
		},
		{
			name: "tool without parameters accepts anything",
			call: domain.ToolCall{Name: "now", Arguments: map[string]any{"tz": "UTC"}},
		},
		{
			name:    "unknown tool",
			call:    domain.ToolCall{Name: "launch"},
			wantErr: "unknown tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSchemaValidator().ValidateCall(tools, tt.call)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAnnotate(t *testing.T) {
	calls := []domain.ToolCall{
		{Name: "get_weather", Arguments: map[string]any{"city": "Oslo"}},
		{Name: "get_weather", Arguments: map[string]any{"city": 7}},
		{Name: "launch"},
	}

	got := Annotate(NewSchemaValidator(), []domain.ToolDefinition{weatherTool}, calls)

	require.Len(t, got, 3)
	assert.Empty(t, got[0].ValidationError)
	assert.Contains(t, got[1].ValidationError, "city")
	assert.Contains(t, got[2].ValidationError, "unknown tool")
	assert.Empty(t, calls[1].ValidationError, "input slice is not modified")
	assert.Nil(t, Annotate(NewSchemaValidator(), nil, nil))
}
