package units

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

const (
	// DefaultJudgeMaxTokens caps judge completions when chain-of-thought
	// is enabled.
	DefaultJudgeMaxTokens = 1024

	// DefaultJudgeMaxTokensNoReasoning caps judge completions that only
	// carry a score.
	DefaultJudgeMaxTokensNoReasoning = 256
)

// Judge parsing failures wrapped in domain.JudgeFormatError.
var (
	ErrNoScore          = errors.New("no score found in judge output")
	ErrAmbiguousScore   = errors.New("judge output contains more than one score")
	ErrScoreOutOfRange  = errors.New("score out of range")
	ErrMissingReasoning = errors.New("chain-of-thought reasoning missing")
)

// JudgeRequest is one model response to be graded.
type JudgeRequest struct {
	Config domain.JudgeConfig

	// Prompt is the rendered prompt the model was given.
	Prompt string

	// Bindings are the input case's template bindings.
	Bindings map[string]any

	// Response is the model's text reply.
	Response string

	// ToolCalls are the model's tool calls, if any.
	ToolCalls []domain.ToolCall
}

// LLMJudgeResponse is the JSON object a judge must answer with.
type LLMJudgeResponse struct {
	// Reasoning precedes the score when chain-of-thought is enabled.
	Reasoning string `json:"reasoning"`

	// Score is a pointer so that a literal 0 passes the required check.
	Score *float64 `json:"score" validate:"required"`
}

// judgeInput is appended to every judge prompt as a JSON block.
type judgeInput struct {
	OriginalPrompt string          `json:"original_prompt"`
	UserInput      map[string]any  `json:"user_input"`
	Response       string          `json:"response"`
	ToolCalls      []judgeToolCall `json:"tool_calls"`
}

type judgeToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// judgeResult pairs a persisted grade with its typed error.
type judgeResult struct {
	domain.JudgeScore
	err error
}

// JudgeEngine grades model responses with one judge model or a panel.
// It is stateless and safe for concurrent use.
type JudgeEngine struct {
	invoker  ports.ModelInvoker
	renderer ports.Renderer
	validate *validator.Validate
	logger   *slog.Logger
}

// NewJudgeEngine creates a judge engine. A nil renderer uses
// PlaceholderRenderer and a nil logger uses the default.
func NewJudgeEngine(invoker ports.ModelInvoker, renderer ports.Renderer, logger *slog.Logger) (*JudgeEngine, error) {
	if invoker == nil {
		return nil, fmt.Errorf("model invoker cannot be nil")
	}
	if renderer == nil {
		renderer = NewRenderer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JudgeEngine{
		invoker:  invoker,
		renderer: renderer,
		validate: validate,
		logger:   logger.With("component", "judge"),
	}, nil
}

// Evaluate grades req.Response. In multi-judge mode every judge is called
// concurrently and all must succeed before scores are aggregated. The
// returned outcome carries every judge's grade, failed ones included, even
// when err is non-nil.
func (j *JudgeEngine) Evaluate(ctx context.Context, req JudgeRequest) (domain.JudgeOutcome, error) {
	if err := req.Config.Validate(); err != nil {
		return domain.JudgeOutcome{}, err
	}
	models := req.Config.Models()

	prompt, err := j.BuildPrompt(req)
	if err != nil {
		return domain.JudgeOutcome{}, fmt.Errorf("render judge prompt: %w", err)
	}

	results := make([]judgeResult, len(models))
	var g errgroup.Group
	g.SetLimit(len(models))
	for i, model := range models {
		g.Go(func() error {
			results[i] = j.grade(ctx, model, prompt, req.Config)
			return nil
		})
	}
	_ = g.Wait()

	outcome := domain.JudgeOutcome{Scores: make([]domain.JudgeScore, len(results))}
	var errs []error
	raw := make([]float64, 0, len(results))
	for i, r := range results {
		outcome.Scores[i] = r.JudgeScore
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		raw = append(raw, r.Score)
	}

	if len(errs) == 1 && len(models) == 1 {
		return outcome, errs[0]
	}
	if len(errs) > 0 {
		return outcome, fmt.Errorf("%d of %d judges failed: %w", len(errs), len(models), errors.Join(errs...))
	}

	m, multi := req.Config.Mode.(domain.MultiJudge)
	if !multi {
		outcome.Score = raw[0]
		outcome.Reasoning = outcome.Scores[0].Reasoning
		return outcome, nil
	}

	score, err := m.Aggregation.Aggregate(raw)
	if err != nil {
		return outcome, err
	}
	outcome.Score = score
	outcome.Reasoning = joinReasoning(outcome.Scores)
	return outcome, nil
}

// BuildPrompt renders the judge template and appends the response context
// and answer format instructions. The template may reference prompt,
// response, user_input, tool_calls, and any input binding.
func (j *JudgeEngine) BuildPrompt(req JudgeRequest) (string, error) {
	in := judgeInput{
		OriginalPrompt: req.Prompt,
		UserInput:      req.Bindings,
		Response:       req.Response,
		ToolCalls:      make([]judgeToolCall, 0, len(req.ToolCalls)),
	}
	if in.UserInput == nil {
		in.UserInput = map[string]any{}
	}
	for _, tc := range req.ToolCalls {
		in.ToolCalls = append(in.ToolCalls, judgeToolCall{Name: tc.Name, Arguments: tc.Arguments})
	}

	bindings := make(map[string]any, len(req.Bindings)+4)
	for k, v := range req.Bindings {
		bindings[k] = v
	}
	bindings["prompt"] = req.Prompt
	bindings["response"] = req.Response
	bindings["user_input"] = in.UserInput
	bindings["tool_calls"] = in.ToolCalls

	rubric, err := j.renderer.Render(req.Config.Template, bindings)
	if err != nil {
		return "", err
	}

	block, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode judge input: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(rubric))
	b.WriteString("\n\n## Evaluation input\n\n```json\n")
	b.Write(block)
	b.WriteString("\n```\n\n")
	b.WriteString(answerInstructions(req.Config))
	return b.String(), nil
}

// answerInstructions tells the judge how to format its verdict. Without
// chain-of-thought no reasoning is requested.
func answerInstructions(cfg domain.JudgeConfig) string {
	r := cfg.Range
	if cfg.ChainOfThought {
		return fmt.Sprintf("Think through your evaluation step by step before deciding on a score. "+
			"Respond with a single JSON object in exactly this format, writing the reasoning first:\n"+
			`{"reasoning": "<your step-by-step reasoning>", "score": <number>}`+"\n"+
			"The score must be a number from %d to %d inclusive.", r.Min, r.Max)
	}
	return fmt.Sprintf("Respond with a single JSON object in exactly this format:\n"+
		`{"score": <number>}`+"\n"+
		"The score must be a number from %d to %d inclusive.", r.Min, r.Max)
}

// grade calls one judge model and parses its verdict.
func (j *JudgeEngine) grade(ctx context.Context, model, prompt string, cfg domain.JudgeConfig) judgeResult {
	maxTokens := DefaultJudgeMaxTokens
	if !cfg.ChainOfThought {
		maxTokens = DefaultJudgeMaxTokensNoReasoning
	}

	resp, err := j.invoker.Invoke(ctx, ports.InvokeRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: cfg.Temperature,
		MaxTokens:   maxTokens,
		JSONMode:    true,
	})
	if err != nil {
		j.logger.WarnContext(ctx, "judge call failed", "judge", model, "error", err)
		err = fmt.Errorf("judge %s: %w", model, err)
		return judgeResult{JudgeScore: domain.JudgeScore{Model: model, Error: err.Error()}, err: err}
	}

	s := domain.JudgeScore{
		Model:     model,
		LatencyMS: resp.Latency.Milliseconds(),
		Usage:     resp.Usage,
	}
	score, reasoning, err := j.parse(resp.Text, cfg)
	if err != nil {
		ferr := domain.NewJudgeFormatError(model, resp.Text, err)
		j.logger.WarnContext(ctx, "judge output rejected", "judge", model, "error", err)
		s.Error = ferr.Error()
		s.Reasoning = reasoning
		return judgeResult{JudgeScore: s, err: ferr}
	}
	s.Score = score
	s.Reasoning = reasoning
	j.logger.DebugContext(ctx, "judge scored response", "judge", model, "score", score)
	return judgeResult{JudgeScore: s}
}

// parse extracts the score and reasoning from judge output. JSON is tried
// first; otherwise the output must end with a "score:" line or consist of
// a lone number. Scores outside cfg.Range are rejected, never clamped.
func (j *JudgeEngine) parse(text string, cfg domain.JudgeConfig) (float64, string, error) {
	score, reasoning, err := j.parseJSON(text)
	if errors.Is(err, ErrNoScore) {
		score, reasoning, err = parseText(text)
	}
	if err != nil {
		return 0, reasoning, err
	}
	if !cfg.Range.Contains(score) {
		return 0, reasoning, fmt.Errorf("%w: %s not in [%d, %d]",
			ErrScoreOutOfRange, strconv.FormatFloat(score, 'g', -1, 64), cfg.Range.Min, cfg.Range.Max)
	}
	if cfg.ChainOfThought && reasoning == "" {
		return 0, reasoning, ErrMissingReasoning
	}
	return score, reasoning, nil
}

// ParseJudgeOutput parses judge output against a range. It is exposed for
// tooling that re-grades stored judge output.
func ParseJudgeOutput(text string, r domain.ScoreRange, chainOfThought bool) (float64, string, error) {
	j := &JudgeEngine{validate: validate}
	return j.parse(text, domain.JudgeConfig{Range: r, ChainOfThought: chainOfThought})
}

// parseJSON reads a judge JSON object. ErrNoScore means the output held no
// usable JSON object and the text parser should be tried.
func (j *JudgeEngine) parseJSON(text string) (float64, string, error) {
	raw := extractJSON(text)
	if raw == "" {
		return 0, "", ErrNoScore
	}
	var resp LLMJudgeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return 0, "", ErrNoScore
	}
	if err := j.validate.Struct(resp); err != nil {
		return 0, strings.TrimSpace(resp.Reasoning), fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	if math.IsNaN(*resp.Score) || math.IsInf(*resp.Score, 0) {
		return 0, "", fmt.Errorf("%w: non-finite score", ErrNoScore)
	}
	return *resp.Score, strings.TrimSpace(resp.Reasoning), nil
}

var (
	numberPattern     = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)
	scoreValuePattern = regexp.MustCompile(`^\**\s*([-+]?\d+(?:\.\d+)?)\s*(?:(?:/|out of)\s*\d+(?:\.\d+)?)?\s*\**\.?$`)
	scoreLabels       = []string{"final score", "score"}
)

// parseText reads a free-text verdict: reasoning followed by a final
// "Score: N" line, or a lone number.
func parseText(text string) (float64, string, error) {
	trimmed := strings.TrimSpace(text)
	if numberPattern.MatchString(trimmed) {
		v, err := strconv.ParseFloat(trimmed, 64)
		return v, "", err
	}

	fold := cases.Fold()
	lines := strings.Split(trimmed, "\n")
	found := -1
	var score float64
	for i, line := range lines {
		value, ok := labelledValue(fold.String(strings.TrimSpace(line)))
		if !ok {
			continue
		}
		m := scoreValuePattern.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		if found >= 0 {
			return 0, "", ErrAmbiguousScore
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrNoScore, err)
		}
		found, score = i, v
	}
	if found < 0 {
		return 0, "", ErrNoScore
	}

	reasoning := strings.TrimSpace(strings.Join(lines[:found], "\n"))
	for _, p := range []string{"reasoning:", "**reasoning:**", "**reasoning**:"} {
		if len(reasoning) >= len(p) && fold.String(reasoning[:len(p)]) == p {
			reasoning = strings.TrimSpace(reasoning[len(p):])
			break
		}
	}
	return score, reasoning, nil
}

// labelledValue returns the text after a score label on a case-folded line.
func labelledValue(line string) (string, bool) {
	line = strings.TrimLeft(line, "*#- ")
	for _, label := range scoreLabels {
		rest, ok := strings.CutPrefix(line, label)
		if !ok {
			continue
		}
		rest = strings.TrimLeft(rest, "*")
		if rest, ok = strings.CutPrefix(strings.TrimSpace(rest), ":"); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// joinReasoning labels each judge's reasoning with its model.
func joinReasoning(scores []domain.JudgeScore) string {
	parts := make([]string, 0, len(scores))
	for _, s := range scores {
		if s.Reasoning == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", s.Model, s.Reasoning))
	}
	return strings.Join(parts, "\n\n")
}

// extractJSON attempts to extract JSON from a response that might contain
// additional text before or after the JSON object.
// It handles markdown code blocks and text surrounding the JSON object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		// Skip any language identifier.
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	// Find the matching closing brace, handling nested objects and strings.
	depth := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if c == '\\' {
			escapeNext = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
