package middleware

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

var _ ports.RunObserver = (*OTelRunObserver)(nil)

// OTelRunObserver traces every (input, model, run) triple as an
// OpenTelemetry span, from TripleStarted to TripleFinished, recording the
// cache outcome, token usage and judge score as attributes.
type OTelRunObserver struct {
	tracer  trace.Tracer
	variant string

	mu    sync.Mutex
	spans map[domain.RunKey]trace.Span
}

// NewOTelRunObserver creates an observer for one variant run. A nil tracer
// uses the global tracer provider.
func NewOTelRunObserver(tracer trace.Tracer, variant string) *OTelRunObserver {
	if tracer == nil {
		tracer = otel.Tracer("promptlab")
	}
	return &OTelRunObserver{
		tracer:  tracer,
		variant: variant,
		spans:   make(map[domain.RunKey]trace.Span),
	}
}

// TripleStarted implements ports.RunObserver.
func (o *OTelRunObserver) TripleStarted(ctx context.Context, key domain.RunKey) {
	_, span := o.tracer.Start(ctx, "promptlab.triple", trace.WithAttributes(
		attribute.String("promptlab.variant", o.variant),
		attribute.String("promptlab.input", key.InputID),
		attribute.String("promptlab.model", key.Model),
		attribute.Int("promptlab.run", key.Run),
	))

	o.mu.Lock()
	o.spans[key] = span
	o.mu.Unlock()
}

// TripleFinished implements ports.RunObserver.
func (o *OTelRunObserver) TripleFinished(_ context.Context, r domain.RunResult) {
	o.mu.Lock()
	span, ok := o.spans[r.Key()]
	delete(o.spans, r.Key())
	o.mu.Unlock()
	if !ok {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Bool("promptlab.cached", r.Cached),
		attribute.Int64("promptlab.latency_ms", r.LatencyMS),
		attribute.Int("promptlab.tokens.input", r.Usage.InputTokens),
		attribute.Int("promptlab.tokens.output", r.Usage.OutputTokens),
		attribute.Int("promptlab.tool_calls", len(r.ToolCalls)),
	)
	for _, j := range r.Judges {
		span.AddEvent("judge.graded", trace.WithAttributes(
			attribute.String("judge.model", j.Model),
			attribute.Float64("judge.score", j.Score),
			attribute.String("judge.error", j.Error),
		))
	}

	switch r.Failure {
	case domain.FailureProvider:
		span.SetStatus(codes.Error, "provider: "+r.Error)
	case domain.FailureJudge:
		span.SetStatus(codes.Error, "judge: "+r.Error)
	default:
		span.SetAttributes(attribute.Float64("promptlab.score", r.ScoreValue()))
		span.SetStatus(codes.Ok, "")
	}
}

// Open returns the number of triples started but not yet finished.
func (o *OTelRunObserver) Open() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.spans)
}

// MultiObserver fans progress out to several observers in order.
type MultiObserver []ports.RunObserver

// TripleStarted implements ports.RunObserver.
func (m MultiObserver) TripleStarted(ctx context.Context, key domain.RunKey) {
	for _, o := range m {
		o.TripleStarted(ctx, key)
	}
}

// TripleFinished implements ports.RunObserver.
func (m MultiObserver) TripleFinished(ctx context.Context, r domain.RunResult) {
	for _, o := range m {
		o.TripleFinished(ctx, r)
	}
}
