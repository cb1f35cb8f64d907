package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptlab/infrastructure/middleware"
	"github.com/ahrav/go-promptlab/infrastructure/tools"
	"github.com/ahrav/go-promptlab/internal/application"
	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

func (a *app) newRunCmd() *cobra.Command {
	var (
		opts  application.RunOptions
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "run <variant-or-experiment-dir>",
		Short: "Run a variant, or every variant of an experiment",
		Long: `Run executes every (input, model, run) triple of a variant, grades each
response with the judge, and saves the run under <variant>/results/.

A directory holding prompt.md is run as a single variant. Any other
directory is treated as an experiment and all of its variants are run in
name order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts, quiet)
		},
	}
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "run only this model")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func (a *app) run(ctx context.Context, out, errOut io.Writer, path string, opts application.RunOptions, quiet bool) error {
	dir, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("path not found: %s", dir)
	}

	// Load once up front for key_refs; the service reloads and validates.
	loader := application.NewVariantLoader(tools.NewSchemaValidator())
	single := isVariantDir(dir)
	var variants []*domain.Variant
	if single {
		v, err := loader.LoadVariant(dir)
		if err != nil {
			return err
		}
		variants = []*domain.Variant{v}
	} else if variants, err = loader.LoadExperiment(dir); err != nil {
		return err
	}

	total := 0
	var models []string
	for _, v := range variants {
		plan := application.Plan{Variant: v, Model: opts.Model}
		triples, err := plan.Triples()
		if err != nil {
			return err
		}
		total += len(triples)
		planned, _ := plan.Models()
		models = append(models, planned...)
		models = append(models, v.Judge.Models()...)
	}

	var progress io.Writer = io.Discard
	if !quiet {
		progress = errOut
	}
	observer := middleware.MultiObserver{
		newProgressObserver(progress, total),
		middleware.NewOTelRunObserver(nil, filepath.Base(dir)),
	}

	svc, err := a.runServices(variants[0].Experiment.KeyRefs, observer)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if c, ok := svc.invoker.(credentialChecker); ok {
		if err := c.CheckCredentials(models); err != nil {
			return ports.NewConfigError("api_key", err)
		}
	}

	if addr := a.settings.MetricsAddr; addr != "" {
		_, stop, err := serveMetrics(addr, svc.metrics, a.logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	fmt.Fprintf(progress, "Running %s (%d triples)\n", filepath.Base(dir), total)

	var summaries []*domain.RunSummary
	if single {
		var s *domain.RunSummary
		s, err = svc.experiments.RunVariant(ctx, dir, opts)
		if s != nil {
			summaries = append(summaries, s)
		}
	} else {
		summaries, err = svc.experiments.RunExperiment(ctx, dir, opts)
	}

	if !single && len(summaries) > 0 {
		printHypothesis(out, summaries[0].Hypothesis)
	}
	for _, s := range summaries {
		printRunComplete(out, s, single)
	}

	if stats, serr := svc.cache.Stats(context.WithoutCancel(ctx)); serr == nil {
		fmt.Fprintf(progress, "Cache: %d hits, %d misses, %d entries\n", stats.Hits, stats.Misses, stats.Entries)
	}
	return err
}

// credentialChecker is implemented by invokers that can resolve provider
// keys without making a call.
type credentialChecker interface {
	CheckCredentials(modelIDs []string) error
}

func isVariantDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, application.PromptFileName))
	return err == nil && !info.IsDir()
}

// progressObserver prints one line per finished triple.
type progressObserver struct {
	mu    sync.Mutex
	w     io.Writer
	total int
	done  int
}

func newProgressObserver(w io.Writer, total int) *progressObserver {
	return &progressObserver{w: w, total: total}
}

func (p *progressObserver) TripleStarted(context.Context, domain.RunKey) {}

func (p *progressObserver) TripleFinished(_ context.Context, r domain.RunResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++

	status := "ok"
	switch {
	case r.Failure != domain.FailureNone:
		status = poor.Sprintf("%s failure", r.Failure)
	case r.Score != nil:
		status = "score " + formatScore(*r.Score)
	}
	if r.Cached {
		status += dim.Sprint(" (cached)")
	}
	width := len(fmt.Sprint(p.total))
	fmt.Fprintf(p.w, "[%*d/%d] %s x %s run %d: %s\n", width, p.done, p.total, r.InputID, r.Model, r.Run+1, status)
}

// Done returns the number of finished triples.
func (p *progressObserver) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
