package llm

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/go-promptlab/internal/ports"
)

// metricsLLM implements request metrics collection.
// This provides observability into request patterns, latency,
// token usage, and error rates for operational monitoring.
type metricsLLM struct {
	next      CoreLLM
	provider  string
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
// This enables monitoring of LLM usage, performance, and costs across providers.
func MetricsMiddleware(provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			provider:  provider,
			collector: collector,
		}
	}
}

// DoRequest executes the request while recording latency, status and token
// usage labelled by provider and model.
func (m *metricsLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := m.next.DoRequest(ctx, req)
	if m.collector == nil {
		return resp, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		labels["token_type"] = "input"
		m.collector.RecordCounter("llm_tokens_total", float64(resp.Usage.InputTokens), labels)

		labels["token_type"] = "output"
		m.collector.RecordCounter("llm_tokens_total", float64(resp.Usage.OutputTokens), labels)
	}

	return resp, err
}

func requestStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ports.ErrTimeout):
		return "timeout"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }
