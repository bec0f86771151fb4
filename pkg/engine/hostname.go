// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package engine

import (
	"fmt"

	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/result"
)

// resolveHostnames fills the piggyback host of every result by walking the
// resolution hierarchy: result override, check-level strategy,
// environment-level default, engine-level default, synthesized
// "{service_name}-{environment_name}". A result whose hostname cannot be
// resolved is replaced by an UNKNOWN carrying the diagnostic.
func (e *Engine) resolveHostnames(c *check.Check, target *env.Environment, results []result.ExecutionResult) []result.ExecutionResult {
	for i := range results {
		host, err := e.resolveHostname(c, target, &results[i])
		if err != nil {
			results[i] = result.ExecutionResult{
				ServiceName:     results[i].ServiceName,
				ServiceLabels:   results[i].ServiceLabels,
				EnvironmentName: results[i].EnvironmentName,
				State:           result.Unknown,
				Summary:         "hostname resolution failed",
				Details:         err.Error(),
				ID:              c.ID(),
				Check:           c,
			}
			host = e.synthesizedHostname(results[i].ServiceName, target)
		}
		results[i].PiggybackHost = host
	}
	return results
}

func (e *Engine) resolveHostname(c *check.Check, target *env.Environment, r *result.ExecutionResult) (string, error) {
	ctx := hostname.Context{
		CheckID:         c.ID(),
		ServiceName:     r.ServiceName,
		EnvironmentName: target.Name(),
		Metadata:        target.MetadataMap(),
	}

	raw, err := e.rawHostname(c, target, r, ctx)
	if err != nil {
		return "", err
	}
	if raw == result.NoPiggybackHost {
		return raw, nil
	}

	if !e.coerceHostnames {
		if raw == "" {
			return "", fmt.Errorf("hostname for %s resolved empty", pairKey(c, target))
		}
		return raw, nil
	}

	coerced := hostname.Coerce(raw)
	if coerced == "" {
		// nothing survived coercion, fall back to the synthesized default
		coerced = e.synthesizedHostname(r.ServiceName, target)
	}
	return coerced, nil
}

func (e *Engine) rawHostname(c *check.Check, target *env.Environment, r *result.ExecutionResult, ctx hostname.Context) (string, error) {
	if r.PiggybackHost != "" {
		return r.PiggybackHost, nil
	}
	if strategy := c.HostnameStrategy(); strategy != nil {
		return strategy.Hostname(ctx)
	}
	if target.Hostname() != "" {
		return target.Hostname(), nil
	}
	if e.defaultHostname != nil {
		return e.defaultHostname.Hostname(ctx)
	}
	return e.synthesizedHostname(r.ServiceName, target), nil
}

func (e *Engine) synthesizedHostname(serviceName string, target *env.Environment) string {
	return hostname.Coerce(fmt.Sprintf("%s-%s", serviceName, target.Name()))
}

// CheckHostnames resolves, without executing anything, the hostname every
// (check, target environment) pair would report with, for the CLI.
func (e *Engine) CheckHostnames() map[string]string {
	out := make(map[string]string)
	for _, c := range e.checks.Checks() {
		for _, target := range c.TargetEnvironments() {
			r := result.ExecutionResult{ServiceName: c.ServiceName(), EnvironmentName: target.Name()}
			host, err := e.resolveHostname(c, target, &r)
			if err != nil {
				host = fmt.Sprintf("<error: %v>", err)
			}
			out[pairKey(c, target)] = host
		}
	}
	return out
}
