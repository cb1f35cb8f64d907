// Package store persists run summaries on the local file system.
//
// Each run of a variant is written to
//
//	<variant>/results/<timestamp>/run.yaml
//	<variant>/results/<timestamp>/stats.yaml
//	<variant>/results/<timestamp>/responses/<input>_run<N>_<model>.json
//
// Input and model ids are percent-escaped in response file names, so
// distinct results never share a file. run.yaml is written last; a
// directory without it is an incomplete save and is ignored by ListRuns
// and Load. A second save within the same second gets a -N suffix.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

const (
	resultsDir   = "results"
	responsesDir = "responses"
	runFile      = "run.yaml"
	statsFile    = "stats.yaml"
)

// FileResultStore implements ports.ResultStore on the local file system.
type FileResultStore struct {
	logger *slog.Logger
}

var _ ports.ResultStore = (*FileResultStore)(nil)

// NewFileResultStore returns a store. A nil logger uses the default.
func NewFileResultStore(logger *slog.Logger) *FileResultStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileResultStore{logger: logger.With("component", "result_store")}
}

// Save writes summary under variantDir. When a run with the same timestamp
// already exists a numeric suffix is appended and summary.Timestamp is
// updated to match.
func (s *FileResultStore) Save(ctx context.Context, variantDir string, summary *domain.RunSummary) error {
	if summary == nil || summary.Timestamp == "" {
		return ports.NewStoreError(variantDir, "save", errors.New("summary has no timestamp"))
	}
	if err := validTimestamp(summary.Timestamp); err != nil {
		return ports.NewStoreError(variantDir, "save", err)
	}

	base := filepath.Join(variantDir, resultsDir)
	runDir, ts, err := reserveRunDir(base, summary.Timestamp)
	if err != nil {
		return ports.NewStoreError(base, "save", err)
	}
	summary.Timestamp = ts

	respDir := filepath.Join(runDir, responsesDir)
	if err := os.MkdirAll(respDir, 0o755); err != nil {
		return ports.NewStoreError(respDir, "save", err)
	}

	written := make(map[string]domain.RunKey, len(summary.Results))
	for _, r := range summary.Results {
		if err := ctx.Err(); err != nil {
			return ports.NewStoreError(runDir, "save", err)
		}
		name := ResponseFileName(r)
		if prev, dup := written[name]; dup {
			return ports.NewStoreError(runDir, "save",
				fmt.Errorf("results %v and %v both map to %s", prev, r.Key(), name))
		}
		written[name] = r.Key()

		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return ports.NewStoreError(runDir, "save", err)
		}
		path := filepath.Join(respDir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return ports.NewStoreError(path, "save", err)
		}
	}

	if len(summary.Stats) > 0 {
		if err := writeYAML(filepath.Join(runDir, statsFile), summary.Stats); err != nil {
			return ports.NewStoreError(runDir, "save", err)
		}
	}

	meta := *summary
	meta.Results, meta.Stats = nil, nil
	if err := writeYAML(filepath.Join(runDir, runFile), meta); err != nil {
		return ports.NewStoreError(runDir, "save", err)
	}

	s.logger.InfoContext(ctx, "run saved",
		"variant", summary.Variant,
		"timestamp", ts,
		"results", len(summary.Results),
		"path", runDir)
	return nil
}

// Load reads the run at timestamp, or the newest run when timestamp is
// ports.LatestRun or empty.
func (s *FileResultStore) Load(ctx context.Context, variantDir, timestamp string) (*domain.RunSummary, error) {
	if timestamp == "" || timestamp == ports.LatestRun {
		runs, err := s.ListRuns(ctx, variantDir)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, ports.NewStoreError(variantDir, "load",
				fmt.Errorf("%w: no runs in %s", ports.ErrRunNotFound, filepath.Join(variantDir, resultsDir)))
		}
		timestamp = runs[0]
	}
	if err := validTimestamp(timestamp); err != nil {
		return nil, ports.NewStoreError(variantDir, "load", err)
	}

	runDir := filepath.Join(variantDir, resultsDir, timestamp)
	var summary domain.RunSummary
	if err := readYAML(filepath.Join(runDir, runFile), &summary); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ports.NewStoreError(runDir, "load",
				fmt.Errorf("%w: run %q", ports.ErrRunNotFound, timestamp))
		}
		return nil, ports.NewStoreError(runDir, "load", err)
	}

	var stats []domain.InputStats
	if err := readYAML(filepath.Join(runDir, statsFile), &stats); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ports.NewStoreError(runDir, "load", err)
	}
	summary.Stats = stats

	results, err := readResponses(filepath.Join(runDir, responsesDir))
	if err != nil {
		return nil, ports.NewStoreError(runDir, "load", err)
	}
	summary.Results = sortResults(results, stats, summary.Models)

	return &summary, nil
}

// ListRuns returns the timestamps of complete runs, newest first. A variant
// without results yields an empty list.
func (s *FileResultStore) ListRuns(_ context.Context, variantDir string) ([]string, error) {
	base := filepath.Join(variantDir, resultsDir)
	entries, err := os.ReadDir(base)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ports.NewStoreError(base, "list", err)
	}

	var runs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(base, e.Name(), runFile)); err != nil {
			s.logger.Debug("skipping incomplete run", "path", filepath.Join(base, e.Name()))
			continue
		}
		runs = append(runs, e.Name())
	}
	slices.SortFunc(runs, func(a, b string) int { return compareRuns(b, a) })
	return runs, nil
}

// Delete removes one stored run.
func (s *FileResultStore) Delete(ctx context.Context, variantDir, timestamp string) error {
	if err := validTimestamp(timestamp); err != nil {
		return ports.NewStoreError(variantDir, "delete", err)
	}
	runDir := filepath.Join(variantDir, resultsDir, timestamp)
	if _, err := os.Stat(runDir); errors.Is(err, os.ErrNotExist) {
		return ports.NewStoreError(runDir, "delete", fmt.Errorf("%w: run %q", ports.ErrRunNotFound, timestamp))
	}
	if err := os.RemoveAll(runDir); err != nil {
		return ports.NewStoreError(runDir, "delete", err)
	}
	s.logger.InfoContext(ctx, "run deleted", "path", runDir)
	return nil
}

// ResponseFileName returns the response file name for r. Run numbers in
// file names are one-based.
func ResponseFileName(r domain.RunResult) string {
	return fmt.Sprintf("%s_run%d_%s.json", escapeName(r.InputID), r.Run+1, escapeName(r.Model))
}

// nameEscaper escapes the characters url.PathEscape keeps but file names
// cannot use: '_' separates fields and ':' is reserved on Windows.
var nameEscaper = strings.NewReplacer("_", "%5F", ":", "%3A")

// escapeName percent-escapes s. Distinct ids always escape differently.
func escapeName(s string) string {
	return nameEscaper.Replace(url.PathEscape(s))
}

func validTimestamp(ts string) error {
	if ts == "" || ts == "." || strings.ContainsAny(ts, `/\`) || strings.Contains(ts, "..") {
		return fmt.Errorf("invalid run timestamp %q", ts)
	}
	return nil
}

// compareRuns orders run directory names, comparing digit runs by value
// so that a "-10" suffix sorts after "-9".
func compareRuns(a, b string) int {
	for a != "" && b != "" {
		da, db := leadingDigits(a), leadingDigits(b)
		if da == "" || db == "" {
			if a[0] != b[0] {
				return int(a[0]) - int(b[0])
			}
			a, b = a[1:], b[1:]
			continue
		}
		na, nb := strings.TrimLeft(da, "0"), strings.TrimLeft(db, "0")
		if len(na) != len(nb) {
			return len(na) - len(nb)
		}
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
		a, b = a[len(da):], b[len(db):]
	}
	return len(a) - len(b)
}

func leadingDigits(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if i < 0 {
		return s
	}
	return s[:i]
}

// reserveRunDir creates base/ts, adding a -N suffix when ts is taken.
func reserveRunDir(base, ts string) (string, string, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", "", err
	}
	candidate := ts
	for i := 2; ; i++ {
		dir := filepath.Join(base, candidate)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
		candidate = ts + "-" + strconv.Itoa(i)
	}
}

func readResponses(dir string) ([]domain.RunResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	results := make([]domain.RunResult, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var r domain.RunResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		results = append(results, r)
	}
	return results, nil
}

// sortResults restores input order from the stats file and model order
// from the summary.
func sortResults(results []domain.RunResult, stats []domain.InputStats, models []string) []domain.RunResult {
	var inputs []string
	for _, st := range stats {
		inputs = append(inputs, st.InputID)
	}
	set := domain.NewResultSet(inputs, models)
	for _, r := range results {
		set.Add(r)
	}
	return set.Results()
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
