package llm

import (
	"context"
	"log/slog"
	"time"
)

// loggingLLM logs each provider call with its outcome.
type loggingLLM struct {
	next     CoreLLM
	provider string
	logger   *slog.Logger
}

// LoggingMiddleware logs provider, model, latency and token usage per call.
// Successful calls log at debug, failures at warn. A nil logger uses the default.
func LoggingMiddleware(provider string, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", provider)
	return func(next CoreLLM) CoreLLM {
		return &loggingLLM{next: next, provider: provider, logger: logger}
	}
}

// DoRequest forwards the request and logs the result.
func (l *loggingLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := l.next.DoRequest(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		l.logger.WarnContext(ctx, "llm request failed",
			"model", l.next.GetModel(),
			"latency_ms", elapsed.Milliseconds(),
			"error", err)
		return resp, err
	}

	l.logger.DebugContext(ctx, "llm request completed",
		"model", l.next.GetModel(),
		"latency_ms", elapsed.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"tool_calls", len(resp.ToolCalls))
	return resp, nil
}

// GetModel returns the model name from the wrapped implementation.
func (l *loggingLLM) GetModel() string { return l.next.GetModel() }
