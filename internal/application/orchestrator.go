package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-promptlab/infrastructure/tools"
	"github.com/ahrav/go-promptlab/infrastructure/units"
	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// Judge grades one model response.
type Judge interface {
	Evaluate(ctx context.Context, req units.JudgeRequest) (domain.JudgeOutcome, error)
}

// Plan selects what an orchestrator run executes.
type Plan struct {
	Variant *domain.Variant

	// Model restricts the run to one of the variant's models when set.
	Model string

	// NoCache skips cache lookups. Fresh responses are still stored.
	NoCache bool
}

// Models returns the models the plan runs against, in variant order.
func (p Plan) Models() ([]string, error) {
	if p.Variant == nil {
		return nil, errors.New("plan has no variant")
	}
	if p.Model == "" {
		return p.Variant.Models, nil
	}
	if !slices.Contains(p.Variant.Models, p.Model) {
		verr := domain.NewValidationError("variant " + p.Variant.Name)
		verr.AddErrorf("model %q not in configured models: %v", p.Model, p.Variant.Models)
		return nil, verr
	}
	return []string{p.Model}, nil
}

// Triple is one scheduled (input, model, run) execution.
type Triple struct {
	Input domain.InputCase
	Model string
	Run   int

	// Runs is the input's effective run count. Above one, every run is
	// salted and never served from the cache.
	Runs int
}

// Key returns the result key of the triple.
func (t Triple) Key() domain.RunKey {
	return domain.RunKey{InputID: t.Input.ID, Model: t.Model, Run: t.Run}
}

// Triples enumerates the plan: inputs in listed order, then models, then
// run indexes.
func (p Plan) Triples() ([]Triple, error) {
	models, err := p.Models()
	if err != nil {
		return nil, err
	}
	var out []Triple
	for _, in := range p.Variant.Inputs {
		runs := in.EffectiveRuns(p.Variant.Experiment.Runs)
		for _, m := range models {
			for r := range runs {
				out = append(out, Triple{Input: in, Model: m, Run: r, Runs: runs})
			}
		}
	}
	return out, nil
}

type noopObserver struct{}

func (noopObserver) TripleStarted(context.Context, domain.RunKey)     {}
func (noopObserver) TripleFinished(context.Context, domain.RunResult) {}

type noopMetrics struct{}

func (noopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (noopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (noopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (noopMetrics) RecordHistogram(string, float64, map[string]string)     {}

// Orchestrator executes plans: it renders prompts, serves responses from
// the cache or the model invoker, and grades every response.
type Orchestrator struct {
	invoker     ports.ModelInvoker
	cache       ports.CacheStore
	judge       Judge
	renderer    ports.Renderer
	tools       ports.ToolValidator
	observer    ports.RunObserver
	metrics     ports.MetricsCollector
	concurrency int
	logger      *slog.Logger

	// flight collapses concurrent identical cacheable requests into one
	// provider call.
	flight singleflight.Group
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConcurrency bounds the number of triples in flight.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithObserver reports triple progress to obs.
func WithObserver(obs ports.RunObserver) OrchestratorOption {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m ports.MetricsCollector) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRenderer replaces the default placeholder renderer.
func WithRenderer(r ports.Renderer) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.renderer = r
		}
	}
}

// WithToolValidator replaces the default JSON Schema tool validator.
func WithToolValidator(v ports.ToolValidator) OrchestratorOption {
	return func(o *Orchestrator) {
		if v != nil {
			o.tools = v
		}
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator. invoker, cache and judge are
// required.
func NewOrchestrator(invoker ports.ModelInvoker, cache ports.CacheStore, judge Judge, opts ...OrchestratorOption) (*Orchestrator, error) {
	if invoker == nil {
		return nil, errors.New("model invoker cannot be nil")
	}
	if cache == nil {
		return nil, errors.New("cache store cannot be nil")
	}
	if judge == nil {
		return nil, errors.New("judge cannot be nil")
	}
	o := &Orchestrator{
		invoker:     invoker,
		cache:       cache,
		judge:       judge,
		renderer:    units.NewRenderer(),
		tools:       tools.NewSchemaValidator(),
		observer:    noopObserver{},
		metrics:     noopMetrics{},
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o, nil
}

// rendered holds an input's prompts after substitution.
type rendered struct {
	system string
	prompt string
}

// Run executes every triple of the plan and returns the result set.
//
// Configuration problems, including templates that do not render for some
// input, are returned before any provider call. Provider and judge
// failures are recorded per triple and never abort the run. When ctx is
// cancelled no new triples start; triples already in flight drain to
// completion and the partial set is returned with the context error.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (*domain.ResultSet, error) {
	triples, err := plan.Triples()
	if err != nil {
		return nil, err
	}
	v := plan.Variant
	if err := v.Validate(); err != nil {
		return nil, err
	}
	prompts, err := o.renderAll(v)
	if err != nil {
		return nil, err
	}

	models, _ := plan.Models()
	inputIDs := make([]string, len(v.Inputs))
	for i, in := range v.Inputs {
		inputIDs[i] = in.ID
	}
	set := domain.NewResultSet(inputIDs, models)

	o.logger.Info("starting variant run",
		"variant", v.Name,
		"triples", len(triples),
		"concurrency", o.concurrency,
		"no_cache", plan.NoCache)

	// Started triples run to completion even after cancellation.
	drainCtx := context.WithoutCancel(ctx)

	// Triples never return errors; failures are recorded on their results.
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, tr := range triples {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			set.Add(o.execute(drainCtx, plan, tr, prompts[tr.Input.ID]))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		o.logger.Warn("variant run interrupted",
			"variant", v.Name, "completed", set.Len(), "total", len(triples))
		return set, fmt.Errorf("run interrupted after %d of %d triples: %w", set.Len(), len(triples), err)
	}
	return set, nil
}

// renderAll renders the system and user prompts for every input.
func (o *Orchestrator) renderAll(v *domain.Variant) (map[string]rendered, error) {
	out := make(map[string]rendered, len(v.Inputs))
	verr := domain.NewValidationError("variant " + v.Name)
	for _, in := range v.Inputs {
		var r rendered
		var err error
		if r.prompt, err = o.renderer.Render(v.Prompt, in.Bindings); err != nil {
			verr.AddErrorf("input %q: prompt: %v", in.ID, err)
		}
		if v.System != "" {
			if r.system, err = o.renderer.Render(v.System, in.Bindings); err != nil {
				verr.AddErrorf("input %q: system prompt: %v", in.ID, err)
			}
		}
		out[in.ID] = r
	}
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// execute runs one triple: cache or provider, then the judge.
func (o *Orchestrator) execute(ctx context.Context, plan Plan, tr Triple, r rendered) domain.RunResult {
	key := tr.Key()
	o.observer.TripleStarted(ctx, key)
	start := time.Now()

	res := domain.RunResult{InputID: key.InputID, Model: key.Model, Run: key.Run, Prompt: r.prompt}
	v := plan.Variant
	labels := map[string]string{"variant": v.Name, "model": tr.Model}

	resp, cached, err := o.respond(ctx, plan, tr, r)
	if err != nil {
		res.Failure = domain.FailureProvider
		res.Error = err.Error()
		o.logger.Warn("provider call failed",
			"variant", v.Name, "input", key.InputID, "model", key.Model, "run", key.Run,
			"retryable", ports.IsRetryable(err), "error", err)
		o.finish(ctx, res, start, labels)
		return res
	}

	res.Cached = cached
	res.Response = resp.Text
	res.ToolCalls = tools.Annotate(o.tools, v.Tools, resp.ToolCalls)
	res.LatencyMS = resp.LatencyMS
	res.Usage = resp.Usage

	outcome, err := o.judge.Evaluate(ctx, units.JudgeRequest{
		Config:    v.Judge,
		Prompt:    r.prompt,
		Bindings:  tr.Input.Bindings,
		Response:  resp.Text,
		ToolCalls: res.ToolCalls,
	})
	res.Judges = outcome.Scores
	if err != nil {
		res.Failure = domain.FailureJudge
		res.Error = err.Error()
		o.logger.Warn("judge failed",
			"variant", v.Name, "input", key.InputID, "model", key.Model, "run", key.Run, "error", err)
	} else {
		score := outcome.Score
		res.Score = &score
		res.Reasoning = outcome.Reasoning
		o.metrics.RecordHistogram("judge_score", score, labels)
	}

	o.finish(ctx, res, start, labels)
	return res
}

func (o *Orchestrator) finish(ctx context.Context, res domain.RunResult, start time.Time, labels map[string]string) {
	status := "ok"
	switch {
	case res.Failure == domain.FailureProvider:
		status = "provider_failure"
	case res.Failure == domain.FailureJudge:
		status = "judge_failure"
	case res.Cached:
		status = "cached"
	}
	o.metrics.RecordCounter("triples_total", 1, withLabel(labels, "status", status))
	o.metrics.RecordLatency("triple", time.Since(start), labels)
	o.logger.Debug("triple finished",
		"input", res.InputID, "model", res.Model, "run", res.Run, "status", status)
	o.observer.TripleFinished(ctx, res)
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for key, val := range labels {
		out[key] = val
	}
	out[k] = v
	return out
}

// flightResult is shared between callers collapsed by singleflight.
type flightResult struct {
	resp   domain.CachedResponse
	cached bool
}

// respond returns the model response for a triple and whether it came
// from the cache.
func (o *Orchestrator) respond(ctx context.Context, plan Plan, tr Triple, r rendered) (domain.CachedResponse, bool, error) {
	v := plan.Variant
	req := ports.InvokeRequest{
		Model:       tr.Model,
		System:      r.system,
		Prompt:      r.prompt,
		Tools:       v.Tools,
		Temperature: v.Temperature,
		MaxTokens:   v.MaxTokens,
	}
	fpIn := domain.FingerprintInput{
		Model:       req.Model,
		System:      req.System,
		Prompt:      req.Prompt,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONMode,
	}
	// Repeated runs sample the provider independently and are never
	// written to the cache.
	cacheable := tr.Runs <= 1
	if !cacheable {
		fpIn.Salt = domain.RunSalt(tr.Run)
	}
	fp, err := domain.ComputeFingerprint(fpIn)
	if err != nil {
		return domain.CachedResponse{}, false, err
	}

	if !cacheable {
		resp, err := o.invoke(ctx, fp, req)
		return resp, false, err
	}
	if plan.NoCache {
		resp, err := o.invokeAndStore(ctx, fp, req)
		return resp, false, err
	}

	val, err, _ := o.flight.Do(string(fp), func() (any, error) {
		if hit, ok := o.lookup(ctx, fp, tr.Model); ok {
			return flightResult{resp: hit, cached: true}, nil
		}
		resp, err := o.invokeAndStore(ctx, fp, req)
		if err != nil {
			return nil, err
		}
		return flightResult{resp: resp}, nil
	})
	if err != nil {
		return domain.CachedResponse{}, false, err
	}
	fr := val.(flightResult)
	return fr.resp, fr.cached, nil
}

// lookup consults the cache. Read failures are treated as misses so a
// damaged entry is replaced by a fresh response.
func (o *Orchestrator) lookup(ctx context.Context, fp domain.Fingerprint, model string) (domain.CachedResponse, bool) {
	hit, ok, err := o.cache.Lookup(ctx, fp)
	switch {
	case err != nil:
		o.logger.Warn("cache lookup failed, invoking provider", "fingerprint", fp.Short(), "error", err)
		ok = false
	case ok:
		o.logger.Debug("cache hit", "fingerprint", fp.Short(), "model", model)
	default:
		o.logger.Debug("cache miss", "fingerprint", fp.Short(), "model", model)
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	o.metrics.RecordCounter("cache_lookups_total", 1, map[string]string{"model": model, "result": result})
	return hit, ok
}

func (o *Orchestrator) invoke(ctx context.Context, fp domain.Fingerprint, req ports.InvokeRequest) (domain.CachedResponse, error) {
	resp, err := o.invoker.Invoke(ctx, req)
	if err != nil {
		return domain.CachedResponse{}, err
	}
	return domain.CachedResponse{
		Fingerprint: fp,
		Model:       req.Model,
		Text:        resp.Text,
		ToolCalls:   resp.ToolCalls,
		LatencyMS:   resp.Latency.Milliseconds(),
		Usage:       resp.Usage,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (o *Orchestrator) invokeAndStore(ctx context.Context, fp domain.Fingerprint, req ports.InvokeRequest) (domain.CachedResponse, error) {
	entry, err := o.invoke(ctx, fp, req)
	if err != nil {
		return entry, err
	}
	// The response is valid even when it cannot be cached.
	if err := o.cache.Store(ctx, entry); err != nil {
		o.logger.Warn("failed to cache response", "fingerprint", fp.Short(), "error", err)
	}
	return entry, nil
}
