package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptlab/infrastructure/cache"
)

func (a *app) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.NewSQLiteStore(a.settings.CachePath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			byModel, err := c.EntriesByModel(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Path:    %s\nEntries: %d\n", c.Path(), st.Entries)
			models := make([]string, 0, len(byModel))
			for m := range byModel {
				models = append(models, m)
			}
			sort.Strings(models)
			for _, m := range models {
				fmt.Fprintf(out, "  %s: %d\n", m, byModel[m])
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached response",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.NewSQLiteStore(a.settings.CachePath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
