// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitkley/watchpost/pkg/engine"
)

// verifyCommand runs the registration-time validation only: signature plans,
// duration parsing, strategy conflict detection.
func verifyCommand(opts Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-check-configuration",
		Short: "Validate the check configuration without executing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(*configPath)
			if err != nil {
				return err
			}
			engineOpts, err := engineOptions(cfg, opts, false)
			if err != nil {
				return err
			}
			if err := engine.Verify(engineOpts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Check configuration is valid.")
			return nil
		},
	}
}
