package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-promptlab/infrastructure/cache"
	"github.com/ahrav/go-promptlab/infrastructure/llm"
	"github.com/ahrav/go-promptlab/infrastructure/middleware"
	"github.com/ahrav/go-promptlab/infrastructure/store"
	"github.com/ahrav/go-promptlab/infrastructure/tools"
	"github.com/ahrav/go-promptlab/infrastructure/units"
	"github.com/ahrav/go-promptlab/internal/application"
	"github.com/ahrav/go-promptlab/internal/ports"
)

const tracerName = "promptlab"

// NewRegistryInvoker builds the provider registry for a run. Every provider
// gets its own middleware instances, so rate limits and circuit breakers
// are tracked per provider and shared by that provider's models.
func NewRegistryInvoker(s application.Settings, keyRefs map[string]string, metrics *middleware.PrometheusMetrics, logger *slog.Logger) (ports.ModelInvoker, error) {
	providers := make(map[string]llm.ProviderConfig, len(llm.DefaultProviders))
	for name, pc := range llm.DefaultProviders {
		pc.Middleware = providerMiddleware(name, s, metrics, logger)
		providers[name] = pc
	}

	reg, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		KeyRefs:           keyRefs,
		DefaultTimeout:    s.RequestTimeout,
		DefaultMiddleware: []llm.Middleware{llm.TracingMiddleware(tracerName)},
		Logger:            logger.With("component", "llm_registry"),
	})
	if err != nil {
		return nil, ports.NewConfigError("key_refs", err)
	}
	return reg, nil
}

// providerMiddleware orders the chain outermost first: one log line and
// one metric per logical call, the breaker sees retried outcomes, and every
// attempt waits for a rate token under its own timeout.
func providerMiddleware(provider string, s application.Settings, metrics *middleware.PrometheusMetrics, logger *slog.Logger) []llm.Middleware {
	mw := []llm.Middleware{
		llm.LoggingMiddleware(provider, logger),
		llm.MetricsMiddleware(provider, metrics),
		llm.CircuitBreakerMiddlewareWithMetrics(s.CircuitFailureThreshold, s.CircuitResetTimeout, metrics.CircuitMetrics(provider)),
	}
	if s.MaxRetries > 0 {
		mw = append(mw, llm.RetryMiddleware(s.MaxRetries, s.RetryBaseDelay, s.RetryMaxDelay))
	}
	if s.RequestsPerSecond > 0 {
		mw = append(mw, llm.RateLimitMiddleware(rate.Limit(s.RequestsPerSecond), s.Burst))
	}
	if s.RequestTimeout > 0 {
		mw = append(mw, llm.TimeoutMiddleware(s.RequestTimeout))
	}
	return mw
}

// services bundles what one command invocation opened.
type services struct {
	experiments *application.ExperimentService
	invoker     ports.ModelInvoker
	cache       *cache.SQLiteStore
	metrics     *middleware.PrometheusMetrics
}

func (s *services) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// readOnlyService serves commands that only read stored runs.
func (a *app) readOnlyService() (*application.ExperimentService, error) {
	return application.NewExperimentService(
		application.NewVariantLoader(tools.NewSchemaValidator()),
		nil,
		store.NewFileResultStore(a.logger),
		a.logger,
	)
}

// runServices wires the full run path for an experiment's key_refs.
func (a *app) runServices(keyRefs map[string]string, observer ports.RunObserver) (*services, error) {
	metrics := middleware.NewPrometheusMetrics()
	invoker, err := a.newInvoker(a.settings, keyRefs, metrics, a.logger)
	if err != nil {
		return nil, err
	}

	judge, err := units.NewJudgeEngine(invoker, nil, a.logger)
	if err != nil {
		return nil, err
	}

	responses, err := cache.NewSQLiteStore(a.settings.CachePath)
	if err != nil {
		return nil, err
	}

	orch, err := application.NewOrchestrator(invoker, responses, judge,
		application.WithConcurrency(a.settings.Concurrency),
		application.WithObserver(observer),
		application.WithMetrics(metrics),
		application.WithLogger(a.logger),
	)
	if err != nil {
		_ = responses.Close()
		return nil, err
	}

	svc, err := application.NewExperimentService(
		application.NewVariantLoader(tools.NewSchemaValidator()),
		orch,
		store.NewFileResultStore(a.logger),
		a.logger,
	)
	if err != nil {
		_ = responses.Close()
		return nil, err
	}
	return &services{experiments: svc, invoker: invoker, cache: responses, metrics: metrics}, nil
}

// serveMetrics exposes metrics on addr until the returned stop is called.
// It returns the bound address.
func serveMetrics(addr string, metrics *middleware.PrometheusMetrics, logger *slog.Logger) (bound string, stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	bound = ln.Addr().String()
	logger.Info("serving metrics", "addr", bound)

	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
