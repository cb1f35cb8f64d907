package units

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/testutils"
)

const rubric = "Rate how well the response answers the prompt.\n\nPrompt: {{ prompt }}\nResponse: {{ response }}"

func singleJudge(cot bool) domain.JudgeConfig {
	cfg := domain.NewJudgeConfig(rubric, domain.SingleJudge{Model: "openai:gpt-4o"})
	cfg.ChainOfThought = cot
	return cfg
}

func multiJudge(agg domain.Aggregation, models ...string) domain.JudgeConfig {
	return domain.NewJudgeConfig(rubric, domain.MultiJudge{Models: models, Aggregation: agg})
}

func judgeRequest(cfg domain.JudgeConfig) JudgeRequest {
	return JudgeRequest{
		Config:   cfg,
		Prompt:   "Summarize: the cat sat on the mat",
		Bindings: map[string]any{"text": "the cat sat on the mat"},
		Response: "A cat sat.",
	}
}

func newEngine(t *testing.T, m *testutils.MockInvoker) *JudgeEngine {
	t.Helper()
	e, err := NewJudgeEngine(m, nil, nil)
	require.NoError(t, err)
	return e
}

func TestNewJudgeEngine(t *testing.T) {
	_, err := NewJudgeEngine(nil, nil, nil)
	assert.Error(t, err)
}

func TestJudgeEngine_SingleJudge(t *testing.T) {
	// Given a judge answering with reasoning and an in-range score
	m := testutils.NewMockInvoker(testutils.MockRule{
		Model: "openai:gpt-4o",
		Text:  `{"reasoning": "Concise and accurate.", "score": 9}`,
	})
	e := newEngine(t, m)

	// When the response is evaluated
	out, err := e.Evaluate(context.Background(), judgeRequest(singleJudge(true)))

	// Then the score and reasoning are returned and the call used judge settings
	require.NoError(t, err)
	assert.Equal(t, 9.0, out.Score)
	assert.Equal(t, "Concise and accurate.", out.Reasoning)
	require.Len(t, out.Scores, 1)
	assert.Equal(t, "openai:gpt-4o", out.Scores[0].Model)
	assert.Equal(t, int64(25), out.Scores[0].LatencyMS)

	require.Equal(t, 1, m.Calls())
	req := m.Requests()[0]
	assert.Equal(t, 0.0, req.Temperature)
	assert.True(t, req.JSONMode)
	assert.Equal(t, DefaultJudgeMaxTokens, req.MaxTokens)
}

func TestJudgeEngine_MultiJudgeAggregation(t *testing.T) {
	judges := []string{"openai:gpt-4o", "anthropic:claude-3-5-sonnet", "google:gemini-2.0-flash"}
	rules := []testutils.MockRule{
		{Model: judges[0], Text: `{"reasoning": "good", "score": 8}`},
		{Model: judges[1], Text: `{"reasoning": "weak", "score": 6}`},
		{Model: judges[2], Text: `{"reasoning": "great", "score": 10}`},
	}

	tests := []struct {
		name string
		agg  domain.Aggregation
		want float64
	}{
		{name: "mean", agg: domain.AggregationMean, want: 8.0},
		{name: "median", agg: domain.AggregationMedian, want: 8.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutils.NewMockInvoker(rules...)
			out, err := newEngine(t, m).Evaluate(context.Background(), judgeRequest(multiJudge(tt.agg, judges...)))

			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Score)
			assert.Equal(t, 3, m.Calls())

			// Every raw judge score is kept in configured order.
			require.Len(t, out.Scores, 3)
			for i, want := range []float64{8, 6, 10} {
				assert.Equal(t, judges[i], out.Scores[i].Model)
				assert.Equal(t, want, out.Scores[i].Score)
			}
			assert.Contains(t, out.Reasoning, "[anthropic:claude-3-5-sonnet] weak")
		})
	}
}

func TestJudgeEngine_MultiJudgeFailure(t *testing.T) {
	m := testutils.NewMockInvoker(
		testutils.MockRule{Model: "openai:gpt-4o", Text: `{"reasoning": "fine", "score": 7}`},
		testutils.MockRule{Model: "anthropic:claude", Text: `{"reasoning": "way off", "score": 42}`},
	)

	out, err := newEngine(t, m).Evaluate(context.Background(),
		judgeRequest(multiJudge(domain.AggregationMean, "openai:gpt-4o", "anthropic:claude")))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJudgeFormat)
	assert.ErrorIs(t, err, ErrScoreOutOfRange)
	assert.Contains(t, err.Error(), "1 of 2 judges failed")
	require.Len(t, out.Scores, 2)
	assert.False(t, out.Scores[0].Failed())
	assert.True(t, out.Scores[1].Failed())
}

func TestJudgeEngine_Errors(t *testing.T) {
	errProvider := errors.New("provider unavailable")

	tests := []struct {
		name       string
		rule       testutils.MockRule
		wantFormat bool
		wantErr    error
	}{
		{
			name:       "score above range is not clamped",
			rule:       testutils.MockRule{Text: `{"reasoning": "r", "score": 11}`},
			wantFormat: true,
			wantErr:    ErrScoreOutOfRange,
		},
		{
			name:       "score below range",
			rule:       testutils.MockRule{Text: `{"reasoning": "r", "score": 0}`},
			wantFormat: true,
			wantErr:    ErrScoreOutOfRange,
		},
		{
			name:       "no number at all",
			rule:       testutils.MockRule{Text: "I cannot grade this response."},
			wantFormat: true,
			wantErr:    ErrNoScore,
		},
		{
			name:       "missing reasoning with chain of thought",
			rule:       testutils.MockRule{Text: `{"score": 7}`},
			wantFormat: true,
			wantErr:    ErrMissingReasoning,
		},
		{
			name:    "provider failure is not a format error",
			rule:    testutils.MockRule{Err: errProvider},
			wantErr: errProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutils.NewMockInvoker(tt.rule)
			out, err := newEngine(t, m).Evaluate(context.Background(), judgeRequest(singleJudge(true)))

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantFormat, errors.Is(err, domain.ErrJudgeFormat))
			require.Len(t, out.Scores, 1)
			assert.NotEmpty(t, out.Scores[0].Error)
		})
	}
}

func TestJudgeEngine_InvalidConfig(t *testing.T) {
	m := testutils.NewMockInvoker()
	cfg := multiJudge("mode-of-the-week", "openai:gpt-4o")

	_, err := newEngine(t, m).Evaluate(context.Background(), judgeRequest(cfg))

	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.Zero(t, m.Calls(), "configuration errors make no provider call")
}

func TestJudgeEngine_BuildPrompt(t *testing.T) {
	e := newEngine(t, testutils.NewMockInvoker())

	t.Run("chain of thought asks for reasoning first", func(t *testing.T) {
		req := judgeRequest(singleJudge(true))
		req.ToolCalls = []domain.ToolCall{{Name: "lookup", Arguments: map[string]any{"q": "cats"}}}

		prompt, err := e.BuildPrompt(req)
		require.NoError(t, err)

		assert.Contains(t, prompt, "Prompt: Summarize: the cat sat on the mat")
		assert.Contains(t, prompt, "Response: A cat sat.")
		assert.Contains(t, prompt, `"original_prompt": "Summarize: the cat sat on the mat"`)
		assert.Contains(t, prompt, `"text": "the cat sat on the mat"`)
		assert.Contains(t, prompt, `"name": "lookup"`)
		assert.Contains(t, prompt, "step by step")
		assert.Contains(t, prompt, `"reasoning"`)
		assert.Contains(t, prompt, "from 1 to 10 inclusive")
	})

	t.Run("without chain of thought no reasoning is requested", func(t *testing.T) {
		prompt, err := e.BuildPrompt(judgeRequest(singleJudge(false)))
		require.NoError(t, err)

		assert.NotContains(t, prompt, "reasoning")
		assert.NotContains(t, prompt, "step by step")
		assert.Contains(t, prompt, `{"score": <number>}`)
	})

	t.Run("unknown rubric variable", func(t *testing.T) {
		req := judgeRequest(singleJudge(true))
		req.Config.Template = "Grade {{ respose }}"
		_, err := e.BuildPrompt(req)
		assert.ErrorContains(t, err, `did you mean "response"`)
	})
}

func TestJudgeEngine_NoChainOfThought(t *testing.T) {
	m := testutils.NewMockInvoker(testutils.MockRule{Text: `{"score": 4}`})

	out, err := newEngine(t, m).Evaluate(context.Background(), judgeRequest(singleJudge(false)))

	require.NoError(t, err)
	assert.Equal(t, 4.0, out.Score)
	assert.Empty(t, out.Reasoning)
	assert.Equal(t, DefaultJudgeMaxTokensNoReasoning, m.Requests()[0].MaxTokens)
}

func TestParseJudgeOutput(t *testing.T) {
	r := domain.DefaultScoreRange()

	tests := []struct {
		name          string
		text          string
		cot           bool
		wantScore     float64
		wantReasoning string
		wantErr       error
	}{
		{
			name:          "plain json",
			text:          `{"reasoning": "solid", "score": 7}`,
			cot:           true,
			wantScore:     7,
			wantReasoning: "solid",
		},
		{
			name:          "json in markdown fence",
			text:          "Here is my verdict:\n```json\n{\"reasoning\": \"ok\", \"score\": 6.5}\n```",
			cot:           true,
			wantScore:     6.5,
			wantReasoning: "ok",
		},
		{
			name:          "free text with trailing score line",
			text:          "Reasoning: The answer covers the main point.\nIt misses detail.\n\nScore: 7",
			cot:           true,
			wantScore:     7,
			wantReasoning: "The answer covers the main point.\nIt misses detail.",
		},
		{
			name:          "bold final score with denominator",
			text:          "Mostly correct.\n**Final Score:** 8/10",
			cot:           true,
			wantScore:     8,
			wantReasoning: "Mostly correct.",
		},
		{
			name:          "upper case label",
			text:          "fine\nSCORE: 5",
			wantScore:     5,
			wantReasoning: "fine",
		},
		{
			name:      "lone number",
			text:      " 3 ",
			wantScore: 3,
		},
		{
			name:      "range bounds are inclusive",
			text:      `{"score": 10}`,
			wantScore: 10,
		},
		{
			name:    "two score lines are ambiguous",
			text:    "Score: 4\nScore: 9",
			wantErr: ErrAmbiguousScore,
		},
		{
			name:    "out of range free text",
			text:    "bad\nScore: 12",
			wantErr: ErrScoreOutOfRange,
		},
		{
			name:    "score as string in json",
			text:    `{"reasoning": "r", "score": "high"}`,
			wantErr: ErrNoScore,
		},
		{
			name:    "empty output",
			text:    "",
			wantErr: ErrNoScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reasoning, err := ParseJudgeOutput(tt.text, r, tt.cot)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantReasoning, reasoning)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": {"b": "}"}}`, extractJSON(`prefix {"a": {"b": "}"}} suffix`))
	assert.Equal(t, `{"x": 1}`, extractJSON("```\n{\"x\": 1}\n```"))
	assert.Empty(t, extractJSON("no json here"))
	assert.Empty(t, extractJSON(`{"unterminated": 1`))
}
