package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-promptlab/internal/domain"
)

// InvokeRequest is one rendered prompt sent to one model.
type InvokeRequest struct {
	// Model is a "provider:model" identifier.
	Model string

	// System is the optional rendered system prompt.
	System string

	// Prompt is the rendered user prompt.
	Prompt string

	// Tools the model may call. Empty disables tool use.
	Tools []domain.ToolDefinition

	Temperature float64

	// MaxTokens caps the completion length; zero uses the provider default.
	MaxTokens int

	// JSONMode asks the provider for a JSON object response when supported.
	JSONMode bool
}

// InvokeResponse is a model's reply to an InvokeRequest.
type InvokeResponse struct {
	Text      string
	ToolCalls []domain.ToolCall
	Latency   time.Duration
	Usage     domain.Usage
}

// ModelInvoker sends prompts to LLM providers.
// Implementations own provider selection, authentication, retries, and
// rate limiting. A returned error means the call produced no response.
type ModelInvoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
}

// ModelInvokerFunc adapts a function to ModelInvoker.
type ModelInvokerFunc func(ctx context.Context, req InvokeRequest) (InvokeResponse, error)

// Invoke implements ModelInvoker.
func (f ModelInvokerFunc) Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error) {
	return f(ctx, req)
}

// CacheStats reports cache size and effectiveness for this process.
type CacheStats struct {
	Entries int64
	Hits    int64
	Misses  int64
}

// CacheStore maps request fingerprints to provider responses.
// Entries are only removed by Clear. Store overwrites any existing entry
// for the same fingerprint, and concurrent stores of one fingerprint are
// last-writer-wins. Implementations must be safe for concurrent use.
type CacheStore interface {
	// Lookup returns the cached response for fp. A miss is not an error.
	Lookup(ctx context.Context, fp domain.Fingerprint) (domain.CachedResponse, bool, error)

	// Store writes resp durably under resp.Fingerprint.
	Store(ctx context.Context, resp domain.CachedResponse) error

	// Clear removes every entry. It cannot be undone.
	Clear(ctx context.Context) error

	// Stats returns entry count and this process's hit/miss counters.
	Stats(ctx context.Context) (CacheStats, error)

	Close() error
}

// LatestRun selects the newest stored run in ResultStore.Load.
const LatestRun = "latest"

// ResultStore persists run summaries per variant. Stored runs are immutable.
type ResultStore interface {
	// Save stores summary under its variant and timestamp.
	Save(ctx context.Context, variantDir string, summary *domain.RunSummary) error

	// Load returns the run at timestamp, or the newest run for LatestRun.
	Load(ctx context.Context, variantDir, timestamp string) (*domain.RunSummary, error)

	// ListRuns returns stored run timestamps, newest first.
	ListRuns(ctx context.Context, variantDir string) ([]string, error)

	// Delete removes one stored run.
	Delete(ctx context.Context, variantDir, timestamp string) error
}

// Renderer substitutes {{ name }} placeholders in templates.
type Renderer interface {
	Render(template string, bindings map[string]any) (string, error)
}

// ToolValidator checks tool definitions and the arguments of tool calls.
type ToolValidator interface {
	// ValidateDefinitions reports any tool whose parameters are not a
	// usable JSON Schema.
	ValidateDefinitions(tools []domain.ToolDefinition) error

	// ValidateCall checks call arguments against the matching definition.
	ValidateCall(tools []domain.ToolDefinition, call domain.ToolCall) error
}

// RunObserver receives orchestrator progress. Methods may be called
// concurrently and must not block.
type RunObserver interface {
	// TripleStarted is called before a triple is executed.
	TripleStarted(ctx context.Context, key domain.RunKey)

	// TripleFinished is called once per triple with its final result.
	TripleFinished(ctx context.Context, result domain.RunResult)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus, OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram, such as judge scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
