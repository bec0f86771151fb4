// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// listChecksCommand prints every registered check with its parameter types.
// It works purely on the registry, no configuration or engine needed.
func listChecksCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list-checks",
		Short: "List the registered checks and their dependencies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Checks == nil {
				return nil
			}
			for _, c := range opts.Checks.Checks() {
				fmt.Fprintln(cmd.OutOrStdout(), c.Describe())
			}
			return nil
		},
	}
}
