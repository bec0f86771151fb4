// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Watchpost turns registered check functions into Checkmk piggyback output.
// This binary registers a small set of self-observing checks; real
// deployments embed pkg/cli with their own registries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/cli"
	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/scheduling"
)

// httpProbe is a datasource wrapping an HTTP client for reachability checks.
type httpProbe struct {
	client *http.Client
}

func newHTTPProbe() *httpProbe {
	return &httpProbe{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *httpProbe) status(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, datasource.Unavailable("GET %s: %v", url, err)
	}
	resp.Body.Close() //nolint:errcheck
	return resp.StatusCode, nil
}

func goroutineCount(*env.Environment) result.CheckResult {
	count := runtime.NumGoroutine()
	builder := result.NewBuilder("goroutine count nominal", "goroutine count elevated")
	builder.AddMetric(result.Metric{
		Name:   "goroutines",
		Value:  float64(count),
		Levels: &result.Thresholds{Warn: 500, Crit: 2000},
	})
	switch {
	case count >= 2000:
		builder.Crit("%d goroutines", count)
	case count >= 500:
		builder.Warn("%d goroutines", count)
	}
	return builder.Finalize()
}

func selfEndpoint(ctx context.Context, probe *httpProbe, target *env.Environment) (result.CheckResult, error) {
	url, ok := target.Metadata("healthcheck_url")
	if !ok {
		return result.CheckResult{
			State:   result.Unknown,
			Summary: "no healthcheck_url metadata on environment " + target.Name(),
		}, nil
	}

	status, err := probe.status(ctx, url)
	if err != nil {
		return result.CheckResult{}, err
	}
	if status >= 400 {
		return result.CheckResult{
			State:   result.Crit,
			Summary: fmt.Sprintf("healthcheck returned %d", status),
		}, nil
	}
	return result.CheckResult{
		State:   result.OK,
		Summary: fmt.Sprintf("healthcheck returned %d", status),
	}, nil
}

func main() {
	environments := env.NewRegistry()
	local := env.New("local",
		env.WithMetadata(map[string]string{"healthcheck_url": "http://localhost:8080/healthcheck"}))
	if err := environments.Register(local); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	datasources := datasource.NewRegistry()
	if err := datasources.Register(newHTTPProbe,
		datasource.WithStrategies(scheduling.MustRunInTargetEnvironment())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	checks := check.NewRegistry()
	checks.MustRegister(goroutineCount, "Watchpost Goroutines",
		[]*env.Environment{local},
		check.WithCacheFor("30s"))
	checks.MustRegister(selfEndpoint, "Watchpost Healthcheck",
		[]*env.Environment{local},
		check.WithCacheFor("1m"))

	root := cli.New(cli.Options{
		Environments: environments,
		Checks:       checks,
		Datasources:  datasources,
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
