package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
	"github.com/ahrav/go-promptlab/internal/statistics"
)

// RunOptions are the user-facing switches of a run.
type RunOptions struct {
	// Model restricts the run to one configured model.
	Model string

	// NoCache forces fresh provider calls.
	NoCache bool
}

// ExperimentService runs variants end to end and compares stored runs.
type ExperimentService struct {
	loader       *VariantLoader
	orchestrator *Orchestrator
	store        ports.ResultStore
	logger       *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewExperimentService wires a service. orchestrator may be nil for
// read-only use such as compare.
func NewExperimentService(loader *VariantLoader, orchestrator *Orchestrator, store ports.ResultStore, logger *slog.Logger) (*ExperimentService, error) {
	if loader == nil {
		return nil, errors.New("variant loader cannot be nil")
	}
	if store == nil {
		return nil, errors.New("result store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentService{
		loader:       loader,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger.With("component", "experiment_service"),
		now:          time.Now,
	}, nil
}

// RunVariant loads, runs, and saves one variant.
//
// An interrupted run still saves the triples that completed, marked
// incomplete, and returns the summary together with the interruption error.
func (s *ExperimentService) RunVariant(ctx context.Context, variantDir string, opts RunOptions) (*domain.RunSummary, error) {
	v, err := s.loader.LoadVariant(variantDir)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, v, opts)
}

// RunExperiment runs every variant of an experiment in name order. All
// variants are loaded and checked before the first provider call.
func (s *ExperimentService) RunExperiment(ctx context.Context, experimentDir string, opts RunOptions) ([]*domain.RunSummary, error) {
	variants, err := s.loader.LoadExperiment(experimentDir)
	if err != nil {
		return nil, err
	}
	for _, v := range variants {
		if _, err := (Plan{Variant: v, Model: opts.Model}).Models(); err != nil {
			return nil, err
		}
	}

	summaries := make([]*domain.RunSummary, 0, len(variants))
	for _, v := range variants {
		summary, err := s.run(ctx, v, opts)
		if summary != nil {
			summaries = append(summaries, summary)
		}
		if err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}

func (s *ExperimentService) run(ctx context.Context, v *domain.Variant, opts RunOptions) (*domain.RunSummary, error) {
	if s.orchestrator == nil {
		return nil, errors.New("experiment service has no orchestrator")
	}
	start := s.now()
	set, runErr := s.orchestrator.Run(ctx, Plan{Variant: v, Model: opts.Model, NoCache: opts.NoCache})
	if set == nil {
		return nil, runErr
	}

	models, _ := Plan{Variant: v, Model: opts.Model}.Models()
	summary := BuildSummary(v, models, set, start, s.now().Sub(start))
	summary.Complete = runErr == nil

	// Completed triples are persisted even when the run was interrupted.
	if err := s.store.Save(context.WithoutCancel(ctx), v.Dir, summary); err != nil {
		return nil, errors.Join(runErr, fmt.Errorf("failed to save run: %w", err))
	}
	s.logger.Info("variant run saved",
		"variant", v.Name,
		"timestamp", summary.Timestamp,
		"results", summary.Counts.Total,
		"failed", summary.Counts.Failed(),
		"complete", summary.Complete)
	return summary, runErr
}

// BuildSummary assembles the persisted record of a variant run.
func BuildSummary(v *domain.Variant, models []string, set *domain.ResultSet, start time.Time, elapsed time.Duration) *domain.RunSummary {
	results := set.Results()
	return &domain.RunSummary{
		RunID:           uuid.NewString(),
		Timestamp:       start.Format(domain.TimestampLayout),
		Experiment:      v.Experiment.Name,
		Variant:         v.Name,
		Models:          models,
		InputsCount:     len(v.Inputs),
		RunsPerInput:    v.Experiment.Runs,
		DurationSeconds: statistics.Round(elapsed.Seconds(), 2),
		Counts:          set.Counts(),
		Hypothesis:      v.Experiment.Hypothesis,
		Config:          v.Experiment,
		Judge:           domain.SnapshotJudge(v.Judge),
		Results:         results,
		Stats:           statistics.Summaries(results),
	}
}

// CountTasks returns the number of triples a variant run executes.
func (s *ExperimentService) CountTasks(variantDir, model string) (int, error) {
	v, err := s.loader.LoadVariant(variantDir)
	if err != nil {
		return 0, err
	}
	triples, err := Plan{Variant: v, Model: model}.Triples()
	if err != nil {
		return 0, err
	}
	return len(triples), nil
}

// CountExperimentTasks returns the triple count across all variants.
func (s *ExperimentService) CountExperimentTasks(experimentDir, model string) (int, error) {
	dirs, err := s.loader.DiscoverVariants(experimentDir)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, dir := range dirs {
		n, err := s.CountTasks(dir, model)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// VariantReport is the latest stored run of one variant.
type VariantReport struct {
	Name    string
	Summary *domain.RunSummary

	// Overall summarizes every score of the run.
	Overall domain.StatSummary
}

// PairComparison holds per (input, model) comparisons of two variants.
type PairComparison struct {
	VariantA string
	VariantB string
	Results  []domain.ComparisonResult
}

// Comparison is the cross-variant report of an experiment.
type Comparison struct {
	Variants []VariantReport

	// Overall compares all scores of each pair of variants.
	Overall []domain.ComparisonResult

	// ByKey compares pairs on the (input, model) keys both ran.
	ByKey []PairComparison

	// Missing lists variants with no stored run.
	Missing []string
}

// Compare loads the latest run of every variant and compares them pairwise
// in variant order.
func (s *ExperimentService) Compare(ctx context.Context, experimentDir string) (*Comparison, error) {
	dirs, err := s.loader.DiscoverVariants(experimentDir)
	if err != nil {
		return nil, err
	}

	cmp := &Comparison{}
	for _, dir := range dirs {
		summary, err := s.store.Load(ctx, dir, ports.LatestRun)
		if errors.Is(err, ports.ErrRunNotFound) {
			cmp.Missing = append(cmp.Missing, filepath.Base(dir))
			continue
		}
		if err != nil {
			return nil, err
		}
		cmp.Variants = append(cmp.Variants, VariantReport{
			Name:    summary.Variant,
			Summary: summary,
			Overall: statistics.Summarize(summary.Scores()),
		})
	}
	if len(cmp.Variants) < 2 {
		return cmp, fmt.Errorf("need at least two variants with stored runs to compare, found %d", len(cmp.Variants))
	}

	named := make([]statistics.NamedScores, len(cmp.Variants))
	for i, r := range cmp.Variants {
		named[i] = statistics.NamedScores{Name: r.Name, Scores: r.Summary.Scores()}
	}
	cmp.Overall = statistics.CompareVariants(named)

	for i := range cmp.Variants {
		for j := i + 1; j < len(cmp.Variants); j++ {
			a, b := cmp.Variants[i], cmp.Variants[j]
			if res := statistics.CompareByKey(a.Summary, b.Summary); len(res) > 0 {
				cmp.ByKey = append(cmp.ByKey, PairComparison{VariantA: a.Name, VariantB: b.Name, Results: res})
			}
		}
	}
	return cmp, nil
}

// LoadRun returns a stored run of a variant; "" selects the latest.
func (s *ExperimentService) LoadRun(ctx context.Context, variantDir, timestamp string) (*domain.RunSummary, error) {
	if timestamp == "" {
		timestamp = ports.LatestRun
	}
	return s.store.Load(ctx, variantDir, timestamp)
}

// ListRuns returns the stored run timestamps of a variant, newest first.
func (s *ExperimentService) ListRuns(ctx context.Context, variantDir string) ([]string, error) {
	return s.store.ListRuns(ctx, variantDir)
}

// Clean deletes stored runs of a variant. With an empty timestamp every
// run is deleted. It returns the deleted timestamps.
func (s *ExperimentService) Clean(ctx context.Context, variantDir, timestamp string) ([]string, error) {
	targets := []string{timestamp}
	if timestamp == "" {
		runs, err := s.store.ListRuns(ctx, variantDir)
		if err != nil {
			return nil, err
		}
		targets = runs
	}
	var deleted []string
	for _, ts := range targets {
		if err := s.store.Delete(ctx, variantDir, ts); err != nil {
			return deleted, err
		}
		deleted = append(deleted, ts)
	}
	return deleted, nil
}
