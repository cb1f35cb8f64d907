// Package llm provides a unified interface for interacting with various LLM providers
// with built-in support for rate limiting, retries, circuit breaking, metrics, and tracing.
//
// The package abstracts multiple LLM providers (OpenAI, Anthropic, Google) behind
// a common interface while adding cross-cutting concerns through a middleware
// pattern. The Registry turns "provider:model" identifiers into middleware-wrapped
// provider clients and implements ports.ModelInvoker for the run orchestrator.
//
// Architecture:
//   - Provider implementations abstracted through the CoreLLM interface
//   - Pluggable middleware for rate limiting, retry, timeouts, circuit breaking,
//     metrics, tracing, and logging
//   - Registry that lazily builds one client per model and resolves API keys
//     from the environment
//
// Basic usage:
//
//	reg, err := llm.NewRegistry(llm.RegistryConfig{Providers: llm.DefaultProviders})
//	resp, err := reg.Invoke(ctx, ports.InvokeRequest{
//	    Model:  "openai:gpt-4o-mini",
//	    Prompt: "Hello world!",
//	})
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// Request is a single provider call.
type Request struct {
	// System is an optional system prompt sent as its own message.
	System string

	// Prompt is the user message.
	Prompt string

	// Tools the model may call.
	Tools []domain.ToolDefinition

	// Temperature is nil to use the provider default.
	Temperature *float64

	// MaxTokens caps the completion; zero selects DefaultMaxTokens.
	MaxTokens int

	// JSONMode requests a JSON object response where the provider supports it.
	JSONMode bool
}

// Response is a provider reply with token usage.
type Response struct {
	Text      string
	ToolCalls []domain.ToolCall
	Usage     domain.Usage
}

// CoreLLM defines the minimal interface that LLM providers must implement.
// This interface abstracts the core functionality needed to make requests
// to different LLM services, allowing the middleware system to wrap
// any conforming implementation.
type CoreLLM interface {
	// DoRequest sends one request to the provider.
	DoRequest(ctx context.Context, req Request) (Response, error)

	// GetModel returns the provider-native model name.
	GetModel() string
}

// ClientConfig holds all configuration options for creating a provider client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	APIKey string

	// Model specifies which LLM model to use for requests.
	// Each provider supports different model names.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout sets the maximum duration for individual HTTP requests.
	// Zero value means no timeout.
	Timeout time.Duration

	// Middleware wraps the provider. The first entry is outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
// This pattern allows composition of features like rate limiting, circuit breaking,
// metrics collection, and custom behavior without modifying core provider logic.
type Middleware func(CoreLLM) CoreLLM

// NewClient creates a provider client and wraps it in the configured middleware.
func NewClient(providerType string, config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := lookupProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return Chain(core, config.Middleware...), nil
}

// Chain wraps core so that middleware[0] is outermost.
func Chain(core CoreLLM, middleware ...Middleware) CoreLLM {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return core
}

// ProviderFactory creates a CoreLLM implementation from configuration.
// This function signature allows the provider registry to create
// provider instances without knowing their specific implementation details.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory allows registration of custom LLM provider factories.
// This enables extension of the client with additional providers
// without modifying the core library code.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func lookupProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}
