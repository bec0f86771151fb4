// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// hostnamesCommand resolves, without executing anything, the hostname every
// (check, target environment) pair would report with.
func hostnamesCommand(opts Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-check-hostnames",
		Short: "Print the resolved piggyback hostname of every check/environment pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, _, err := buildEngine(*configPath, opts, false)
			if err != nil {
				return err
			}
			defer e.Shutdown(false)

			hostnames := e.CheckHostnames()
			keys := make([]string, 0, len(hostnames))
			for key := range hostnames {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", key, hostnames[key])
			}
			return nil
		},
	}
}
