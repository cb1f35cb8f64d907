package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-promptlab/internal/domain"
)

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's chat
// completions API.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
// This factory function initializes the provider with configuration
// and validates required settings like API key presence.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}

	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: ValidateTimeout(config.Timeout)}
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: config.Model},
		client:          openai.NewClientWithConfig(clientConfig),
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

// DoRequest sends a chat completion request and returns the first choice,
// including any function calls the model made.
func (p *openAIProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildChatCompletionRequest(req))
	if err != nil {
		return Response{}, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, ErrNoResponseChoice
	}

	msg := resp.Choices[0].Message
	calls, err := p.toolCalls(msg.ToolCalls)
	if err != nil {
		return Response{}, NewProviderError("openai", ErrorTypeUnknown, 0, "malformed tool call", err)
	}
	if msg.Content == "" && len(calls) == 0 {
		return Response{}, ErrEmptyResponse
	}

	return Response{
		Text:      msg.Content,
		ToolCalls: calls,
		Usage: domain.Usage{
			InputTokens:  p.tokenCounter.GetTokenCount(resp.Usage.PromptTokens, req.System+req.Prompt),
			OutputTokens: p.tokenCounter.GetTokenCount(resp.Usage.CompletionTokens, msg.Content),
		},
	}, nil
}

// buildChatCompletionRequest maps a Request onto the OpenAI wire format.
func (p *openAIProvider) buildChatCompletionRequest(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  p.buildMessages(req),
		MaxTokens: maxTokens(req),
	}

	if req.Temperature != nil {
		temp := float32(ClampFloat64(*req.Temperature, MinTemperature, MaxTemperature))
		// The client omits a zero temperature from the payload.
		if temp == 0 {
			temp = math.SmallestNonzeroFloat32
		}
		out.Temperature = temp
	}

	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toolSchema(t.Parameters),
			},
		})
	}

	return out
}

// buildMessages creates the system and user messages.
func (p *openAIProvider) buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
}

func (p *openAIProvider) toolCalls(calls []openai.ToolCall) ([]domain.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, c := range calls {
		args, err := decodeToolArguments(c.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", c.Function.Name, err)
		}
		out = append(out, domain.ToolCall{Name: c.Function.Name, Arguments: args})
	}
	return out, nil
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return p.errorClassifier.Classify(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.Classify(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return p.errorClassifier.Classify(0, "", err)
}
