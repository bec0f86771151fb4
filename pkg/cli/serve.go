// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pitkley/watchpost/pkg/api"
	"github.com/pitkley/watchpost/pkg/util/log"
)

// serveCommand runs the HTTP surface until interrupted.
func serveCommand(opts Options, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Checkmk output over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, cfg, err := buildEngine(*configPath, opts, true)
			if err != nil {
				return err
			}
			defer e.Shutdown(true)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := api.NewServer(cfg.API.Listen, e)
			errs := make(chan error, 1)
			go func() {
				errs <- server.ListenAndServe()
			}()
			log.Infof("Serving on %s", cfg.API.Listen)

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
}
