package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-promptlab/internal/domain"
)

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	tokenCounter    *TokenCounter
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a Gemini provider authenticated with an API key.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		cc.HTTPOptions.BaseURL = validatedURL
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: config.Model},
		client:          client,
		tokenCounter:    NewTokenCounter(),
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a GenerateContent request and returns text and function calls.
func (p *googleProvider) DoRequest(ctx context.Context, req Request) (Response, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, p.buildGenerationConfig(req))
	if err != nil {
		return Response{}, p.handleError(err)
	}

	text := resp.Text()
	var calls []domain.ToolCall
	for _, fc := range resp.FunctionCalls() {
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, domain.ToolCall{Name: fc.Name, Arguments: args})
	}
	if text == "" && len(calls) == 0 {
		return Response{}, ErrEmptyResponse
	}

	var in, out int
	if u := resp.UsageMetadata; u != nil {
		in, out = int(u.PromptTokenCount), int(u.CandidatesTokenCount)
	}
	return Response{
		Text:      text,
		ToolCalls: calls,
		Usage: domain.Usage{
			InputTokens:  p.tokenCounter.GetTokenCount(in, req.System+req.Prompt),
			OutputTokens: p.tokenCounter.GetTokenCount(out, text),
		},
	}, nil
}

// buildGenerationConfig maps a Request onto Gemini generation settings.
func (p *googleProvider) buildGenerationConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(ClampInt(maxTokens(req), MinMaxTokens, math.MaxInt32)),
	}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	if req.Temperature != nil {
		temp := ClampFloat64(*req.Temperature, MinTemperature, MaxTemperature)
		config.Temperature = genai.Ptr(float32(temp))
	}

	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: toolSchema(t.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return config
}

// handleError classifies Gemini errors. Safety blocks are reported as
// content policy errors.
func (p *googleProvider) handleError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isSafetyMessage(apiErr.Message) {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.Classify(apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		if isSafetyMessage(message) || containsBlockedReason(gErr) {
			return NewProviderError("google", ErrorTypeContentPolicy, gErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.Classify(gErr.Code, message, err)
	}

	return p.errorClassifier.Classify(0, "", err)
}

func isSafetyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}

func containsBlockedReason(err *googleapi.Error) bool {
	for _, e := range err.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}
