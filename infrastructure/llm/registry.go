package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// Registry resolves "provider:model" identifiers to middleware-wrapped
// provider clients. Clients are created lazily on first use and cached,
// one per model id. Registry implements ports.ModelInvoker.
type Registry struct {
	// providers maps provider names to their configuration.
	providers map[string]ProviderConfig
	// clients maps "provider:model" ids to their clients.
	clients map[string]CoreLLM
	// keyRefs overrides the environment variable holding a provider's key.
	keyRefs map[string]string
	// defaultMiddleware is applied to every provider ahead of its own.
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	getenv            func(string) string
	logger            *slog.Logger
	mu                sync.RWMutex
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type selects the registered provider factory (openai, anthropic, google).
	Type string
	// EnvVars lists the environment variables checked for the API key, in order.
	EnvVars []string
	// BaseURL overrides the default API endpoint for the provider.
	BaseURL string
	// Middleware is applied inside the registry defaults.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	// Providers defines the available providers and their configurations.
	Providers map[string]ProviderConfig
	// KeyRefs maps a provider name to the environment variable that holds
	// its API key, replacing the provider's EnvVars.
	KeyRefs map[string]string
	// DefaultTimeout sets the HTTP timeout for every provider client.
	DefaultTimeout time.Duration
	// DefaultMiddleware is applied to all providers. The first entry is outermost.
	DefaultMiddleware []Middleware
	// Getenv reads environment variables; nil uses os.Getenv.
	Getenv func(string) string
	Logger *slog.Logger
}

// DefaultProviders provides standard provider configurations for common LLM services.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:    "openai",
		EnvVars: []string{"OPENAI_API_KEY"},
	},
	"anthropic": {
		Type:    "anthropic",
		EnvVars: []string{"ANTHROPIC_API_KEY"},
	},
	"google": {
		Type:    "google",
		EnvVars: []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	},
}

// NewRegistry creates a provider registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if len(config.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}
	for name := range config.KeyRefs {
		if _, ok := config.Providers[name]; !ok {
			return nil, fmt.Errorf("key_refs: %w %q", ports.ErrUnknownProvider, name)
		}
	}

	getenv := config.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llm_registry")
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]CoreLLM),
		keyRefs:           config.KeyRefs,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		getenv:            getenv,
		logger:            logger,
	}, nil
}

// Invoke implements ports.ModelInvoker. Latency covers the whole middleware
// chain, including rate-limit waits and retries.
func (r *Registry) Invoke(ctx context.Context, req ports.InvokeRequest) (ports.InvokeResponse, error) {
	client, err := r.Client(req.Model)
	if err != nil {
		return ports.InvokeResponse{}, ports.NewLLMError(req.Model, "client", err)
	}

	temp := req.Temperature
	start := time.Now()
	resp, err := client.DoRequest(ctx, Request{
		System:      req.System,
		Prompt:      req.Prompt,
		Tools:       req.Tools,
		Temperature: &temp,
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONMode,
	})
	if err != nil {
		return ports.InvokeResponse{}, ports.NewLLMError(req.Model, "invoke", err)
	}

	return ports.InvokeResponse{
		Text:      resp.Text,
		ToolCalls: resp.ToolCalls,
		Latency:   time.Since(start),
		Usage:     resp.Usage,
	}, nil
}

// Client returns the client for a "provider:model" id, creating it on first use.
func (r *Registry) Client(modelID string) (CoreLLM, error) {
	r.mu.RLock()
	if client, ok := r.clients[modelID]; ok {
		r.mu.RUnlock()
		return client, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[modelID]; ok {
		return client, nil
	}

	client, err := r.createClient(modelID)
	if err != nil {
		return nil, err
	}
	r.clients[modelID] = client
	r.logger.Debug("created llm client", "model", modelID)
	return client, nil
}

// RegisterClient installs a prebuilt client for a model id, wrapped in the
// registry's default middleware.
func (r *Registry) RegisterClient(modelID string, core CoreLLM) error {
	if _, _, err := domain.ParseModelID(modelID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[modelID] = Chain(core, r.defaultMiddleware...)
	return nil
}

// CheckCredentials reports, for each model id, whether its provider's key
// resolves. It creates no clients.
func (r *Registry) CheckCredentials(modelIDs []string) error {
	for _, id := range modelIDs {
		provider, _, err := domain.ParseModelID(id)
		if err != nil {
			return err
		}
		pc, ok := r.providers[provider]
		if !ok {
			return fmt.Errorf("%w %q", ports.ErrUnknownProvider, provider)
		}
		if _, err := r.apiKey(provider, pc); err != nil {
			return err
		}
	}
	return nil
}

// Providers returns the configured provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) createClient(modelID string) (CoreLLM, error) {
	provider, model, err := domain.ParseModelID(modelID)
	if err != nil {
		return nil, err
	}

	pc, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w %q", ports.ErrUnknownProvider, provider)
	}

	apiKey, err := r.apiKey(provider, pc)
	if err != nil {
		return nil, err
	}

	mw := append([]Middleware{}, r.defaultMiddleware...)
	mw = append(mw, pc.Middleware...)

	return NewClient(pc.Type, ClientConfig{
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    pc.BaseURL,
		Timeout:    r.defaultTimeout,
		Middleware: mw,
	})
}

// apiKey resolves a provider's key, honouring key_refs.
func (r *Registry) apiKey(provider string, pc ProviderConfig) (string, error) {
	vars := pc.EnvVars
	if ref, ok := r.keyRefs[provider]; ok {
		vars = []string{ref}
	}
	for _, v := range vars {
		if key := r.getenv(v); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %v for provider %q", ErrMissingAPIKey, vars, provider)
}
