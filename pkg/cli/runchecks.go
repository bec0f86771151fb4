// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pitkley/watchpost/pkg/engine"
	"github.com/pitkley/watchpost/pkg/result"
)

// runChecksCommand runs one full poll and prints the results as a table.
func runChecksCommand(opts Options, configPath *string) *cobra.Command {
	var (
		noCache        bool
		filterPrefix   string
		filterContains string
		onlySync       bool
		onlyAsync      bool
	)

	cmd := &cobra.Command{
		Use:   "run-checks",
		Short: "Run one full poll and print the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if onlySync && onlyAsync {
				return fmt.Errorf("--sync and --async are mutually exclusive")
			}

			e, _, err := buildEngine(*configPath, opts, !noCache)
			if err != nil {
				return err
			}
			defer e.Shutdown(true)

			results, err := e.RunWithOptions(cmd.Context(), engine.RunOptions{
				DisableCache:   noCache,
				FilterPrefix:   filterPrefix,
				FilterContains: filterContains,
				OnlySync:       onlySync,
				OnlyAsync:      onlyAsync,
			})
			if err != nil {
				return err
			}

			printResults(cmd, results)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().StringVar(&filterPrefix, "filter-prefix", "", "only run checks whose ID starts with the prefix")
	cmd.Flags().StringVar(&filterContains, "filter-contains", "", "only run checks whose ID contains the substring")
	cmd.Flags().BoolVar(&onlySync, "sync", false, "only run synchronous checks")
	cmd.Flags().BoolVar(&onlyAsync, "async", false, "only run asynchronous checks")
	return cmd
}

func printResults(cmd *cobra.Command, results []result.ExecutionResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "State\tEnvironment\tService\tSummary")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			colorState(r.State), r.EnvironmentName, r.ServiceName, r.Summary)
	}
	w.Flush() //nolint:errcheck
}

func colorState(state result.CheckState) string {
	switch state {
	case result.OK:
		return color.GreenString(state.String())
	case result.Warn:
		return color.YellowString(state.String())
	case result.Crit:
		return color.RedString(state.String())
	default:
		return color.MagentaString(state.String())
	}
}
