package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

const testExperiment = `---
name: summarize
description: Compare summary prompts
hypothesis: Shorter prompts score higher
models:
  - openai:gpt-4o
  - anthropic:claude-sonnet-4
runs: 3
owner: research
---
Notes for humans.
`

const testJudge = `---
model: openai:gpt-4o
score_range: [1, 5]
---
Rate the summary of {{ text }}.
`

// writeFiles creates files relative to root, making parent directories.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestLoadVariant(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"experiment.md": testExperiment,
		"judge.md":      testJudge,
		"inputs.yaml": `
- id: short
  text: "A cat sat."
- text: "A long story."
  runs: 2
`,
		"concise/prompt.md": `---
system: You are terse.
temperature: 0.3
---
Summarize: {{ text }}
`,
	})

	v, err := NewVariantLoader(nil).LoadVariant(filepath.Join(root, "concise"))
	require.NoError(t, err)

	assert.Equal(t, "concise", v.Name)
	assert.Equal(t, "summarize", v.Experiment.Name)
	assert.Equal(t, 3, v.Experiment.Runs)
	assert.Equal(t, map[string]any{"owner": "research"}, v.Experiment.Metadata)
	assert.Equal(t, []string{"openai:gpt-4o", "anthropic:claude-sonnet-4"}, v.Models)
	assert.Equal(t, "Summarize: {{ text }}", v.Prompt)
	assert.Equal(t, "You are terse.", v.System)
	assert.InDelta(t, 0.3, v.Temperature, 1e-9)

	require.Len(t, v.Inputs, 2)
	assert.Equal(t, "short", v.Inputs[0].ID)
	assert.Nil(t, v.Inputs[0].Runs)
	assert.Equal(t, "input-1", v.Inputs[1].ID)
	require.NotNil(t, v.Inputs[1].Runs)
	assert.Equal(t, 2, *v.Inputs[1].Runs)
	assert.Equal(t, map[string]any{"text": "A long story."}, v.Inputs[1].Bindings)

	assert.Equal(t, domain.SingleJudge{Model: "openai:gpt-4o"}, v.Judge.Mode)
	assert.Equal(t, domain.ScoreRange{Min: 1, Max: 5}, v.Judge.Range)
	assert.True(t, v.Judge.ChainOfThought)
	assert.Zero(t, v.Judge.Temperature)
	assert.Equal(t, "Rate the summary of {{ text }}.", v.Judge.Template)
}

func TestLoadVariantDefaultsAndOverrides(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"experiment.md": "---\nmodels: [openai:gpt-4o]\n---\n",
		"judge.md":      testJudge,
		"v1/prompt.md":  "---\nmodels: [google:gemini-2.0-flash]\n---\nHello",
		"v1/judge.md": `---
models: [openai:gpt-4o, anthropic:claude-sonnet-4]
aggregation: median
score_min: 0
score_max: 100
chain_of_thought: false
temperature: 0.5
---
Variant rubric.
`,
		"v1/tools.yaml": `
- name: lookup
  description: Find a record
  parameters:
    type: object
    properties:
      id: {type: string}
    required: [id]
`,
	})

	v, err := NewVariantLoader(nil).LoadVariant(filepath.Join(root, "v1"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(root), v.Experiment.Name, "name defaults to the directory")
	assert.Equal(t, domain.DefaultRuns, v.Experiment.Runs)
	assert.Equal(t, []string{"google:gemini-2.0-flash"}, v.Models)
	assert.Equal(t, domain.DefaultTemperature, v.Temperature)

	require.Len(t, v.Inputs, 1)
	assert.Equal(t, domain.DefaultInputID, v.Inputs[0].ID)

	assert.Equal(t, domain.MultiJudge{
		Models:      []string{"openai:gpt-4o", "anthropic:claude-sonnet-4"},
		Aggregation: domain.AggregationMedian,
	}, v.Judge.Mode)
	assert.Equal(t, domain.ScoreRange{Min: 0, Max: 100}, v.Judge.Range)
	assert.False(t, v.Judge.ChainOfThought)
	assert.InDelta(t, 0.5, v.Judge.Temperature, 1e-9)
	assert.Equal(t, "Variant rubric.", v.Judge.Template)

	require.Len(t, v.Tools, 1)
	assert.Equal(t, "lookup", v.Tools[0].Name)
	assert.Equal(t, "object", v.Tools[0].Parameters["type"])
}

func TestLoadVariantErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantIs  error
		wantMsg string
	}{
		{
			name: "missing experiment file",
			files: map[string]string{
				"judge.md":    testJudge,
				"v/prompt.md": "hi",
			},
			wantIs:  ports.ErrConfigNotFound,
			wantMsg: "experiment.md not found",
		},
		{
			name: "no models",
			files: map[string]string{
				"experiment.md": "---\nname: x\n---\n",
				"judge.md":      testJudge,
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "Models is required",
		},
		{
			name: "malformed model id",
			files: map[string]string{
				"experiment.md": "---\nmodels: [gpt-4o]\n---\n",
				"judge.md":      testJudge,
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "expected format 'provider:model'",
		},
		{
			name: "missing judge",
			files: map[string]string{
				"experiment.md": testExperiment,
				"v/prompt.md":   "hi",
			},
			wantIs:  ports.ErrConfigNotFound,
			wantMsg: "no judge.md found",
		},
		{
			name: "judge model and models both set",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      "---\nmodel: openai:gpt-4o\nmodels: [openai:gpt-4o-mini]\n---\nrubric",
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "cannot be combined with Models",
		},
		{
			name: "unsupported aggregation",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      "---\nmodels: [openai:gpt-4o]\naggregation: mode\n---\nrubric",
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "unsupported aggregation",
		},
		{
			name: "unknown judge key",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      "---\nmodle: openai:gpt-4o\n---\nrubric",
				"v/prompt.md":   "hi",
			},
			wantMsg: "field modle not found",
		},
		{
			name: "zero runs override",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      testJudge,
				"inputs.yaml":   "- id: a\n  runs: 0\n",
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "runs override must be > 0",
		},
		{
			name: "inputs not a list",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      testJudge,
				"inputs.yaml":   "text: hello\n",
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: "must be a list",
		},
		{
			name: "duplicate input ids",
			files: map[string]string{
				"experiment.md": testExperiment,
				"judge.md":      testJudge,
				"inputs.yaml":   "- id: a\n- id: a\n",
				"v/prompt.md":   "hi",
			},
			wantIs:  domain.ErrInvalidConfiguration,
			wantMsg: `duplicate input id "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFiles(t, root, tt.files)

			_, err := NewVariantLoader(nil).LoadVariant(filepath.Join(root, "v"))
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

type rejectTools struct{}

func (rejectTools) ValidateDefinitions([]domain.ToolDefinition) error {
	return assert.AnError
}

func (rejectTools) ValidateCall([]domain.ToolDefinition, domain.ToolCall) error { return nil }

func TestLoadVariantChecksToolDefinitions(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"experiment.md": testExperiment,
		"judge.md":      testJudge,
		"v/prompt.md":   "hi",
		"v/tools.yaml":  "- name: t\n",
	})

	_, err := NewVariantLoader(rejectTools{}).LoadVariant(filepath.Join(root, "v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "tools.yaml")
}

func TestDiscoverVariants(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"experiment.md":       testExperiment,
		"judge.md":            testJudge,
		"b-verbose/prompt.md": "b",
		"a-concise/prompt.md": "a",
		"notes/readme.md":     "not a variant",
	})

	loader := NewVariantLoader(nil)
	dirs, err := loader.DiscoverVariants(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a-concise"),
		filepath.Join(root, "b-verbose"),
	}, dirs)

	variants, err := loader.LoadExperiment(root)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "a-concise", variants[0].Name)
	assert.Equal(t, "b-verbose", variants[1].Name)

	_, err = loader.DiscoverVariants(filepath.Join(root, "notes"))
	assert.ErrorIs(t, err, ErrNoVariants)
}

func TestParseInputs(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []domain.InputCase
		wantErr string
	}{
		{
			name: "empty document",
			data: "",
			want: []domain.InputCase{{ID: "default", Bindings: map[string]any{}}},
		},
		{
			name: "explicit null",
			data: "~\n",
			want: []domain.InputCase{{ID: "default", Bindings: map[string]any{}}},
		},
		{
			name: "numeric id and nested bindings",
			data: "- id: 7\n  user:\n    name: Ada\n",
			want: []domain.InputCase{{
				ID:       "7",
				Bindings: map[string]any{"user": map[string]any{"name": "Ada"}},
			}},
		},
		{
			name:    "non-integer runs",
			data:    "- runs: many\n",
			wantErr: "runs must be an integer",
		},
		{
			name:    "scalar entry",
			data:    "- hello\n",
			wantErr: "input case 0 must be a mapping",
		},
		{
			name:    "invalid yaml",
			data:    "- [unclosed\n",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInputs("inputs.yaml", []byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFrontMatter(t *testing.T) {
	type meta struct {
		A int `yaml:"a"`
	}
	tests := []struct {
		name     string
		in       string
		strict   bool
		wantMeta meta
		wantBody string
		wantErr  string
	}{
		{name: "front matter and body", in: "---\na: 1\n---\nbody\n", wantMeta: meta{A: 1}, wantBody: "body"},
		{name: "no front matter", in: "just text\n", wantBody: "just text"},
		{name: "empty front matter", in: "---\n---\nbody", wantBody: "body"},
		{name: "crlf line endings", in: "---\r\na: 1\r\n---\r\nbody", wantMeta: meta{A: 1}, wantBody: "body"},
		{name: "body with horizontal rule", in: "---\na: 1\n---\nx\n\n---\ny", wantMeta: meta{A: 1}, wantBody: "x\n\n---\ny"},
		{name: "unknown key tolerated", in: "---\na: 2\nb: 3\n---\nbody\n", wantMeta: meta{A: 2}, wantBody: "body"},
		{name: "unknown key rejected when strict", in: "---\na: 2\nb: 3\n---\nbody\n", strict: true, wantErr: "field b not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got meta
			body, err := ParseFrontMatter([]byte(tt.in), &got, tt.strict)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMeta, got)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}
