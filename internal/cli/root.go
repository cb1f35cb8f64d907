// Package cli implements the promptlab command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ahrav/go-promptlab/infrastructure/middleware"
	"github.com/ahrav/go-promptlab/internal/application"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// InvokerFactory builds the model invoker for one run. keyRefs comes from
// the experiment and metrics is never nil.
type InvokerFactory func(s application.Settings, keyRefs map[string]string, metrics *middleware.PrometheusMetrics, logger *slog.Logger) (ports.ModelInvoker, error)

// app carries the state shared by every command of one root.
type app struct {
	cfgFile    string
	v          *viper.Viper
	settings   application.Settings
	logger     *slog.Logger
	newInvoker InvokerFactory
	stdin      io.Reader
}

// Option customizes the root command.
type Option func(*app)

// WithInvokerFactory replaces the provider registry used by run.
func WithInvokerFactory(f InvokerFactory) Option {
	return func(a *app) {
		if f != nil {
			a.newInvoker = f
		}
	}
}

// WithStdin sets the reader used for confirmations.
func WithStdin(r io.Reader) Option {
	return func(a *app) {
		if r != nil {
			a.stdin = r
		}
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string, opts ...Option) *cobra.Command {
	a := &app{
		v:          viper.New(),
		logger:     slog.Default(),
		newInvoker: NewRegistryInvoker,
		stdin:      os.Stdin,
	}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:           "promptlab",
		Short:         "Test prompt variants across LLM providers with LLM-as-judge evaluation",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "settings file (default ./promptlab.yaml when present)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	pf.String("cache-path", "", "response cache database")
	pf.Int("concurrency", 0, "maximum in-flight triples")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address during runs")

	// Flags override PROMPTLAB_* variables, which override the settings file.
	for key, flag := range map[string]string{
		application.KeyLogLevel:    "log-level",
		application.KeyLogFormat:   "log-format",
		application.KeyCachePath:   "cache-path",
		application.KeyConcurrency: "concurrency",
		application.KeyMetricsAddr: "metrics-addr",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(
		a.newRunCmd(),
		a.newResultsCmd(),
		a.newShowCmd(),
		a.newCompareCmd(),
		a.newCleanCmd(),
		a.newCacheCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, version string) int {
	root := NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// setup loads settings and installs the process logger.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := application.LoadSettings(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
	slog.SetDefault(a.logger)
	a.logger.Debug("settings loaded",
		"config", a.v.ConfigFileUsed(),
		"cache_path", s.CachePath,
		"concurrency", s.Concurrency)
	return nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}
