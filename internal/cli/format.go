package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/ahrav/go-promptlab/internal/application"
	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/statistics"
)

// maxShownResponse truncates long responses in show output.
const maxShownResponse = 500

var (
	bold    = color.New(color.Bold)
	dim     = color.New(color.Faint)
	heading = color.New(color.Bold, color.FgCyan)
	good    = color.New(color.Bold, color.FgGreen)
	fair    = color.New(color.FgYellow)
	weak    = color.New(color.FgMagenta)
	poor    = color.New(color.Bold, color.FgRed)
	warning = color.New(color.FgYellow)
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// scoreColor picks a colour by where score falls in the judge range.
func scoreColor(score float64, r domain.ScoreRange) *color.Color {
	frac := 0.0
	if span := float64(r.Max - r.Min); span > 0 {
		frac = (score - float64(r.Min)) / span
	}
	switch {
	case frac >= 0.75:
		return good
	case frac >= 0.5:
		return fair
	case frac >= 0.3:
		return weak
	}
	return poor
}

func formatScore(score float64) string {
	return strconv.FormatFloat(statistics.Round(score, 2), 'f', -1, 64)
}

func formatScores(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = formatScore(s)
	}
	return strings.Join(parts, ", ")
}

func printHypothesis(w io.Writer, hypothesis string) {
	if hypothesis == "" {
		return
	}
	fmt.Fprintf(w, "\n%s %s\n", bold.Sprint("Hypothesis:"), hypothesis)
}

// printRunComplete reports where a run was saved and its results.
func printRunComplete(w io.Writer, s *domain.RunSummary, showHypothesis bool) {
	status := good.Sprint("Complete!")
	if !s.Complete {
		status = warning.Sprint("Interrupted.")
	}
	fmt.Fprintf(w, "\n%s %s/%s saved to results/%s/\n", status, s.Experiment, s.Variant, s.Timestamp)
	printResults(w, s, showHypothesis)
}

// printResults prints per-(input, model) statistics when a run has
// repeated samples and one row per result otherwise.
func printResults(w io.Writer, s *domain.RunSummary, showHypothesis bool) {
	if showHypothesis {
		printHypothesis(w, s.Hypothesis)
	}
	if s.RunsPerInput > 1 && len(s.Stats) > 0 {
		printStatsTable(w, s)
	} else {
		printResultRows(w, s)
	}
	printFailures(w, s)
}

func printStatsTable(w io.Writer, s *domain.RunSummary) {
	fmt.Fprintf(w, "\n%s\n", heading.Sprintf("Results: %s/%s (%d runs/input)", s.Experiment, s.Variant, s.RunsPerInput))

	tw := newTable(w)
	fmt.Fprintln(tw, "INPUT\tMODEL\tN\tMEAN\t95% CI\tRANGE\tSCORES")
	var means []float64
	for _, st := range s.Stats {
		mean, n := "-", strconv.Itoa(st.N)
		rng := "-"
		if st.Defined() {
			mean = scoreColor(st.Mean, s.Judge.Range).Sprint(formatScore(st.Mean))
			rng = formatScore(st.Min) + "-" + formatScore(st.Max)
			means = append(means, st.Mean)
		}
		if st.LowSample {
			n += warning.Sprint("!")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.InputID, st.Model, n, mean, st.CIString(), rng, formatScores(st.Scores))
	}
	_ = tw.Flush()

	for _, st := range s.Stats {
		if st.LowSample {
			fmt.Fprintln(w, warning.Sprintf("! fewer than %d scored runs; treat intervals as unreliable", domain.LowSampleThreshold))
			break
		}
	}

	overall := "-"
	if len(means) > 0 {
		overall = formatScore(statistics.Summarize(means).Mean)
	}
	fmt.Fprintln(w, dim.Sprintf("Duration: %ss | Overall mean: %s | Avg latency: %s | Total runs: %d",
		formatScore(s.DurationSeconds), overall, avgLatency(s.Results), len(s.Results)))
}

func printResultRows(w io.Writer, s *domain.RunSummary) {
	fmt.Fprintf(w, "\n%s\n", heading.Sprintf("Results: %s/%s", s.Experiment, s.Variant))

	tw := newTable(w)
	fmt.Fprintln(tw, "INPUT\tMODEL\tSCORE\tLATENCY\tTOKENS\tCACHED")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%d\t%s\n",
			r.InputID, r.Model, resultScore(r, s.Judge.Range), r.LatencyMS, r.Usage.Total(), yesNo(r.Cached))
	}
	_ = tw.Flush()

	overall := "-"
	if scores := s.Scores(); len(scores) > 0 {
		overall = formatScore(statistics.Summarize(scores).Mean)
	}
	fmt.Fprintln(w, dim.Sprintf("Duration: %ss | Avg score: %s | Avg latency: %s | Cached: %d/%d",
		formatScore(s.DurationSeconds), overall, avgLatency(s.Results), s.Counts.Cached, len(s.Results)))
}

func printFailures(w io.Writer, s *domain.RunSummary) {
	if s.Counts.Failed() == 0 {
		return
	}
	fmt.Fprintln(w, poor.Sprintf("%d failed: %d provider, %d judge (see show for details)",
		s.Counts.Failed(), s.Counts.ProviderFailures, s.Counts.JudgeFailures))
}

func resultScore(r domain.RunResult, rng domain.ScoreRange) string {
	switch {
	case r.Failure != domain.FailureNone:
		return poor.Sprint("x " + string(r.Failure))
	case r.Score == nil:
		return "-"
	}
	return scoreColor(*r.Score, rng).Sprintf("%s/%d", formatScore(*r.Score), rng.Max)
}

func avgLatency(results []domain.RunResult) string {
	if len(results) == 0 {
		return "-"
	}
	var total int64
	for _, r := range results {
		total += r.LatencyMS
	}
	return (time.Duration(total/int64(len(results))) * time.Millisecond).String()
}

func yesNo(b bool) string {
	if b {
		return good.Sprint("yes")
	}
	return dim.Sprint("no")
}

// printComparison prints per-variant summaries followed by the pairwise
// significance tests.
func printComparison(w io.Writer, name string, c *application.Comparison) {
	if len(c.Variants) > 0 {
		printHypothesis(w, c.Variants[0].Summary.Hypothesis)
	}
	fmt.Fprintf(w, "\n%s\n", heading.Sprintf("Comparison: %s", name))

	tw := newTable(w)
	fmt.Fprintln(tw, "VARIANT\tRUN\tMEAN\t95% CI\tN\tAVG LATENCY\tFAILED")
	for _, v := range c.Variants {
		mean := "-"
		if v.Overall.Defined() {
			mean = scoreColor(v.Overall.Mean, v.Summary.Judge.Range).Sprint(formatScore(v.Overall.Mean))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			v.Name, v.Summary.Timestamp, mean, v.Overall.CIString(), v.Overall.N,
			avgLatency(v.Summary.Results), v.Summary.Counts.Failed())
	}
	for _, m := range c.Missing {
		fmt.Fprintf(tw, "%s\t%s\t-\t-\t0\t-\t-\n", m, dim.Sprint("no results"))
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%s\n", bold.Sprintf("Statistical significance (Welch's t-test, alpha=%g):", domain.SignificanceLevel))
	for _, r := range c.Overall {
		fmt.Fprintf(w, "  %s\n", comparisonLine(r))
	}

	for _, pair := range c.ByKey {
		fmt.Fprintf(w, "\n%s\n", bold.Sprintf("%s vs %s by input and model:", pair.VariantA, pair.VariantB))
		tw := newTable(w)
		fmt.Fprintln(tw, "INPUT\tMODEL\tMEAN A\tMEAN B\tP\tVERDICT")
		for _, r := range pair.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				r.InputID, r.Model, formatScore(r.MeanA), formatScore(r.MeanB),
				formatP(r.PValue), verdictText(r))
		}
		_ = tw.Flush()
	}
	fmt.Fprintln(w, dim.Sprint("* p<=0.05  ** p<=0.01"))
}

func comparisonLine(r domain.ComparisonResult) string {
	if !r.Significant() {
		return fmt.Sprintf("%s %s ~ %s %s", dim.Sprint("-"), r.VariantA, r.VariantB,
			dim.Sprintf("(no significant difference, p=%s)", formatP(r.PValue)))
	}
	loser := r.VariantB
	if r.Winner() == r.VariantB {
		loser = r.VariantA
	}
	return fmt.Sprintf("%s %s > %s%s %s", good.Sprint("+"), r.Winner(), loser, r.Marker(),
		dim.Sprintf("(p=%s)", formatP(r.PValue)))
}

func verdictText(r domain.ComparisonResult) string {
	if !r.Significant() {
		return dim.Sprint("~")
	}
	return good.Sprintf("%s wins%s", r.Winner(), r.Marker())
}

func formatP(p float64) string {
	if p < 0.0001 {
		return "<0.0001"
	}
	return strconv.FormatFloat(statistics.Round(p, 4), 'f', -1, 64)
}

// printResponse prints one result with its judge grades.
func printResponse(w io.Writer, r domain.RunResult, rng domain.ScoreRange) {
	title := fmt.Sprintf("%s x %s", r.InputID, r.Model)
	if r.Run > 0 {
		title += fmt.Sprintf(" (run %d)", r.Run+1)
	}
	fmt.Fprintf(w, "\n%s\n", bold.Sprint(title))

	fmt.Fprintln(w, heading.Sprint("RESPONSE"))
	text := r.Response
	if len(text) > maxShownResponse {
		text = text[:maxShownResponse] + "..."
	}
	if text == "" {
		text = dim.Sprint("no content")
	}
	fmt.Fprintln(w, text)

	if len(r.ToolCalls) > 0 {
		fmt.Fprintln(w, heading.Sprint("TOOL CALLS"))
		for _, tc := range r.ToolCalls {
			fmt.Fprintf(w, "- %s(%s)", tc.Name, formatArgs(tc.Arguments))
			if tc.ValidationError != "" {
				fmt.Fprintf(w, " %s", poor.Sprint("invalid: "+tc.ValidationError))
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w, heading.Sprint("JUDGE"))
	if r.Failure != domain.FailureNone {
		fmt.Fprintf(w, "%s %s\n", poor.Sprintf("%s failure:", r.Failure), r.Error)
	}
	if r.Score != nil {
		fmt.Fprintf(w, "Score: %s\n", resultScore(r, rng))
	}
	if r.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning: %s\n", r.Reasoning)
	}
	if len(r.Judges) > 1 {
		for _, j := range r.Judges {
			grade := formatScore(j.Score)
			if j.Error != "" {
				grade = poor.Sprint(j.Error)
			}
			fmt.Fprintf(w, "  %s: %s\n", j.Model, grade)
		}
	}

	fmt.Fprintln(w, heading.Sprint("METRICS"))
	fmt.Fprintf(w, "Latency: %dms | Tokens: %d in / %d out | Cached: %s\n",
		r.LatencyMS, r.Usage.InputTokens, r.Usage.OutputTokens, yesNo(r.Cached))
}

func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return strings.Join(parts, ", ")
}
