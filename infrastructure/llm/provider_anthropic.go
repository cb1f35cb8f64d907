package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-promptlab/internal/domain"
)

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Messages API.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// Retries are handled by RetryMiddleware.
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: config.Model},
		client:          anthropic.NewClient(opts...),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends a message to Claude and collects text and tool_use blocks.
func (p *anthropicProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	message, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return Response{}, p.handleError(err)
	}
	return p.processResponse(message, req)
}

// buildParams creates the API request parameters.
func (p *anthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	prompt := req.Prompt
	if req.JSONMode {
		// The Messages API has no JSON response format.
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens(req)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	if req.Temperature != nil {
		// Anthropic accepts temperatures in [0, 1].
		params.Temperature = anthropic.Float(ClampFloat64(*req.Temperature, MinTemperature, 1.0))
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, t := range req.Tools {
		tool := anthropic.ToolUnionParamOfTool(anthropicSchema(t.Parameters), t.Name)
		if t.Description != "" {
			tool.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	return params
}

// anthropicSchema splits a JSON schema into the SDK's typed fields.
func anthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	for k, v := range toolSchema(params) {
		switch k {
		case "type":
		case "properties":
			schema.Properties = v
		case "required":
			schema.Required = requiredFields(v)
		default:
			if schema.ExtraFields == nil {
				schema.ExtraFields = map[string]any{}
			}
			schema.ExtraFields[k] = v
		}
	}
	return schema
}

func requiredFields(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// processResponse extracts content, tool calls and token counts.
func (p *anthropicProvider) processResponse(message *anthropic.Message, req Request) (Response, error) {
	var (
		text  strings.Builder
		calls []domain.ToolCall
	)
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			args, err := decodeToolArguments(string(content.Input))
			if err != nil {
				return Response{}, NewProviderError("anthropic", ErrorTypeUnknown, 0,
					fmt.Sprintf("malformed tool call %q", content.Name), err)
			}
			calls = append(calls, domain.ToolCall{Name: content.Name, Arguments: args})
		}
	}

	out := text.String()
	if out == "" && len(calls) == 0 {
		return Response{}, ErrEmptyResponse
	}

	return Response{
		Text:      out,
		ToolCalls: calls,
		Usage: domain.Usage{
			InputTokens:  p.tokenCounter.GetTokenCount(int(message.Usage.InputTokens), req.System+req.Prompt),
			OutputTokens: p.tokenCounter.GetTokenCount(int(message.Usage.OutputTokens), out),
		},
	}, nil
}

// handleError classifies Anthropic SDK errors.
func (p *anthropicProvider) handleError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.Classify(apiErr.StatusCode, statusMessage(apiErr.StatusCode), err)
	}
	return p.errorClassifier.Classify(0, "", err)
}

func statusMessage(status int) string {
	return fmt.Sprintf("anthropic API returned status %d", status)
}
