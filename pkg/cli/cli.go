// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package cli assembles the watchpost command-line interface over a set of
// registries declared by the embedding program.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitkley/watchpost/pkg/cache"
	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/config"
	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/engine"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/util/log"
)

// Options carries the registries the embedding program declared in code. A
// nil Environments registry is loaded from the configured environments file
// instead.
type Options struct {
	Environments *env.Registry
	Checks       *check.Registry
	Datasources  *datasource.Registry
}

// New builds the root command with every subcommand attached.
func New(opts Options) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "watchpost",
		Short:         "Transform check functions into Checkmk piggyback output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	root.AddCommand(
		listChecksCommand(opts),
		runChecksCommand(opts, &configPath),
		verifyCommand(opts, &configPath),
		hostnamesCommand(opts, &configPath),
		serveCommand(opts, &configPath),
	)
	return root
}

// load resolves the configuration and sets up logging.
func load(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := log.SetupLogger(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("unable to set up logging: %w", err)
	}
	return cfg, nil
}

// engineOptions maps the configuration onto engine options. The cache is only
// built when wanted, so verify-style commands stay free of back-end I/O.
func engineOptions(cfg *config.Config, opts Options, withCache bool) (engine.Options, error) {
	envs := opts.Environments
	if envs == nil {
		loaded, err := config.LoadEnvironments(cfg.EnvironmentsFile)
		if err != nil {
			return engine.Options{}, err
		}
		envs = loaded
	}

	var resultCache *cache.Cache
	if withCache {
		built, err := cfg.BuildCache()
		if err != nil {
			return engine.Options{}, err
		}
		resultCache = built
	}

	var defaultHostname hostname.Strategy
	if cfg.Hostname.Default != "" {
		defaultHostname = hostname.Template(cfg.Hostname.Default)
	}

	return engine.Options{
		ExecutionEnvironment: cfg.ExecutionEnvironment,
		Environments:         envs,
		Checks:               opts.Checks,
		Datasources:          opts.Datasources,
		Cache:                resultCache,
		Workers:              cfg.Workers,
		QueueSize:            cfg.QueueSize,
		DefaultHostname:      defaultHostname,
		CoerceHostnames:      cfg.Hostname.RFC1123,
		CheckDeadline:        cfg.CheckDeadline,
	}, nil
}

func buildEngine(configPath string, opts Options, withCache bool) (*engine.Engine, *config.Config, error) {
	cfg, err := load(configPath)
	if err != nil {
		return nil, nil, err
	}
	engineOpts, err := engineOptions(cfg, opts, withCache)
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(engineOpts)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}
