package cli

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) newCleanCmd() *cobra.Command {
	var (
		timestamp string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "clean <variant-dir>",
		Short: "Delete stored runs of a variant",
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

			target := "all stored runs"
			if timestamp != "" {
				target = "run " + timestamp
			} else {
				runs, err := svc.ListRuns(cmd.Context(), dir)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No stored runs.")
					return nil
				}
				target = fmt.Sprintf("%d stored runs", len(runs))
			}

			if !yes {
				fmt.Fprintf(out, "Delete %s of %s? [y/N] ", target, filepath.Base(dir))
				line, _ := bufio.NewReader(a.stdin).ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}

			deleted, err := svc.Clean(cmd.Context(), dir, timestamp)
			for _, ts := range deleted {
				fmt.Fprintf(out, "Deleted %s\n", ts)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&timestamp, "run", "r", "", "delete only this run timestamp")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}
