package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptlab/internal/domain"
)

func (a *app) newResultsCmd() *cobra.Command {
	var (
		timestamp string
		list      bool
	)
	cmd := &cobra.Command{
		Use:   "results <variant-dir>",
		Short: "Show the results table of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			svc, err := a.readOnlyService()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				runs, err := svc.ListRuns(cmd.Context(), dir)
				if err != nil {
					return err
				}
				for _, ts := range runs {
					fmt.Fprintln(out, ts)
				}
				return nil
			}

			summary, err := svc.LoadRun(cmd.Context(), dir, timestamp)
			if err != nil {
				return err
			}
			if !summary.Complete {
				fmt.Fprintln(out, warning.Sprintf("Run %s was interrupted; %d results were saved.", summary.Timestamp, summary.Counts.Total))
			}
			printResults(out, summary, true)
			return nil
		},
	}
	cmd.Flags().StringVarP(&timestamp, "run", "r", "", "run timestamp (default latest)")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list stored run timestamps, newest first")
	return cmd
}

func (a *app) newShowCmd() *cobra.Command {
	var inputID, model, timestamp string
	cmd := &cobra.Command{
		Use:   "show <variant-dir>",
		Short: "Show responses with their judge grades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			svc, err := a.readOnlyService()
			if err != nil {
				return err
			}
			summary, err := svc.LoadRun(cmd.Context(), dir, timestamp)
			if err != nil {
				return err
			}

			results := filterResults(summary.Results, inputID, model)
			if len(results) == 0 {
				return fmt.Errorf("no results match input %q and model %q in run %s", inputID, model, summary.Timestamp)
			}
			for _, r := range results {
				printResponse(cmd.OutOrStdout(), r, summary.Judge.Range)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&inputID, "input", "i", "", "only this input id")
	cmd.Flags().StringVarP(&model, "model", "m", "", "only this model")
	cmd.Flags().StringVarP(&timestamp, "run", "r", "", "run timestamp (default latest)")
	return cmd
}

func filterResults(results []domain.RunResult, inputID, model string) []domain.RunResult {
	var out []domain.RunResult
	for _, r := range results {
		if inputID != "" && r.InputID != inputID {
			continue
		}
		if model != "" && r.Model != model {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (a *app) newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <experiment-dir>",
		Short: "Compare the latest runs of an experiment's variants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			svc, err := a.readOnlyService()
			if err != nil {
				return err
			}
			c, err := svc.Compare(cmd.Context(), dir)
			if err != nil {
				return err
			}
			printComparison(cmd.OutOrStdout(), filepath.Base(dir), c)
			return nil
		},
	}
}
