// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/executor"
	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/scheduling"
	"github.com/pitkley/watchpost/pkg/util/log"
)

// RunOptions narrow one poll down, used by the CLI.
type RunOptions struct {
	// DisableCache bypasses cache reads and writes for this poll.
	DisableCache bool
	// FilterPrefix keeps only checks whose ID starts with the prefix.
	FilterPrefix string
	// FilterContains keeps only checks whose ID contains the substring.
	FilterContains string
	// OnlySync / OnlyAsync keep only one execution back-end's checks.
	OnlySync  bool
	OnlyAsync bool
}

func (o RunOptions) matches(c *check.Check) bool {
	if o.FilterPrefix != "" && !strings.HasPrefix(c.ID(), o.FilterPrefix) {
		return false
	}
	if o.FilterContains != "" && !strings.Contains(c.ID(), o.FilterContains) {
		return false
	}
	if o.OnlySync && c.Async() {
		return false
	}
	if o.OnlyAsync && !c.Async() {
		return false
	}
	return true
}

// pairOutcome is what one (check, target environment) pair contributed to a
// poll: either results resolved inline (cache hit, skip, dont-schedule) or a
// future still in flight.
type pairOutcome struct {
	chk     *check.Check
	target  *env.Environment
	results []result.ExecutionResult
	future  *executor.Future
	// fromCache suppresses the cache write-back
	fromCache bool
	// submitErr is a failure to even submit (saturation)
	submitErr error
	skipped   bool
}

// Run executes one full poll and returns the concatenated results in
// enumeration order. Cancelling ctx abandons the poll; in-flight check
// bodies finish in the background and may still populate the cache.
func (e *Engine) Run(ctx context.Context) ([]result.ExecutionResult, error) {
	return e.RunWithOptions(ctx, RunOptions{})
}

// RunWithOptions is Run with CLI-style narrowing.
func (e *Engine) RunWithOptions(ctx context.Context, opts RunOptions) ([]result.ExecutionResult, error) {
	outcomes := e.dispatch(opts)

	var emitted []result.ExecutionResult
	for _, outcome := range outcomes {
		results, err := e.collect(ctx, outcome)
		if err != nil {
			return nil, err
		}
		emitted = append(emitted, results...)
	}
	return emitted, nil
}

// dispatch walks every (check, target environment) pair, decides scheduling
// and starts whatever work the decisions call for. It never blocks on check
// execution.
func (e *Engine) dispatch(opts RunOptions) []pairOutcome {
	var outcomes []pairOutcome

	for _, c := range e.checks.Checks() {
		if !opts.matches(c) {
			continue
		}
		for _, target := range c.TargetEnvironments() {
			outcomes = append(outcomes, e.dispatchPair(c, target, opts))
		}
	}
	return outcomes
}

func (e *Engine) dispatchPair(c *check.Check, target *env.Environment, opts RunOptions) pairOutcome {
	outcome := pairOutcome{chk: c, target: target}
	key := pairKey(c, target)

	decision := scheduling.Aggregate(c.EffectiveStrategies(), e.executionEnv, target)
	switch decision {
	case scheduling.DontSchedule:
		log.Debugf("Not scheduling %s", key)
		outcome.skipped = true
		return outcome

	case scheduling.Skip:
		log.Debugf("Skipping %s, serving from cache if possible", key)
		if cached, ok := e.cachedResults(c, key, true, opts); ok {
			outcome.results = cached
			outcome.fromCache = true
			return outcome
		}
		outcome.results = []result.ExecutionResult{e.syntheticResult(c, target,
			"scheduled-skip-no-cache",
			"the check was skipped by its scheduling strategies and no cached result is available")}
		outcome.fromCache = true
		return outcome

	default: // Schedule
		if cached, ok := e.cachedResults(c, key, false, opts); ok {
			log.Debugf("Serving %s from cache", key)
			outcome.results = cached
			outcome.fromCache = true
			return outcome
		}

		future, err := e.exec.Submit(key, e.jobFor(c, target), c.Async(), e.checkDeadline)
		if err != nil {
			outcome.submitErr = err
			return outcome
		}
		outcome.future = future
		return outcome
	}
}

// cachedResults reads and decodes the cached result list for a pair,
// re-linking the check descriptor the serialization dropped.
func (e *Engine) cachedResults(c *check.Check, key string, allowExpired bool, opts RunOptions) ([]result.ExecutionResult, bool) {
	if e.resultCache == nil || opts.DisableCache || c.CacheFor() == 0 {
		return nil, false
	}

	entry, ok := e.resultCache.Get(key, allowExpired)
	if !ok {
		return nil, false
	}

	var results []result.ExecutionResult
	if err := json.Unmarshal(entry.Value, &results); err != nil {
		log.Warnf("Dropping undecodable cache entry %q: %v", key, err) //nolint:errcheck
		e.resultCache.Delete(key)
		return nil, false
	}
	for i := range results {
		results[i].Check = c
	}
	return results, true
}

// jobFor builds the executor job for one pair: materialize the signature
// plan, call the user function, normalize its return value. A panicking
// check body resolves the future with an error instead of tearing the
// worker down.
func (e *Engine) jobFor(c *check.Check, target *env.Environment) executor.Job {
	return func(ctx context.Context) (results []result.CheckResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("check panicked: %v", r)
			}
		}()

		args, err := e.datasources.Materialize(c.Plan(), reflect.ValueOf(ctx), target)
		if err != nil {
			return nil, err
		}
		return c.NormalizeReturn(c.Func().Call(args))
	}
}

// collect turns one pair outcome into its final ExecutionResults: await the
// future if any, apply error handlers on the catastrophic path, resolve
// hostnames, write the cache.
func (e *Engine) collect(ctx context.Context, outcome pairOutcome) ([]result.ExecutionResult, error) {
	if outcome.skipped {
		return nil, nil
	}
	if outcome.results != nil {
		// resolved inline from cache or synthetic skip; hostnames were
		// resolved before the cache write
		return outcome.results, nil
	}

	c, target := outcome.chk, outcome.target

	var raw []result.CheckResult
	var runErr error
	switch {
	case outcome.submitErr != nil:
		runErr = outcome.submitErr
	default:
		raw, runErr = outcome.future.Wait(ctx)
		if ctx.Err() != nil {
			// poll cancelled; the in-flight body finishes on its own
			return nil, ctx.Err()
		}
	}

	var executionResults []result.ExecutionResult
	if runErr != nil {
		executionResults = []result.ExecutionResult{e.errorResult(c, target, runErr)}
		for _, handler := range c.ErrorHandlers() {
			executionResults = handler.Apply(c, target, executionResults)
		}
	} else {
		executionResults = e.finalize(c, target, raw)
	}

	executionResults = e.resolveHostnames(c, target, executionResults)

	if runErr == nil && e.resultCache != nil && c.CacheFor() > 0 {
		if encoded, err := json.Marshal(executionResults); err == nil {
			e.resultCache.Store(pairKey(c, target), encoded, c.CacheFor())
		} else {
			log.Warnf("Not caching results of %s: %v", pairKey(c, target), err) //nolint:errcheck
		}
	}

	return executionResults, nil
}

// finalize maps normalized CheckResults onto fully attributed
// ExecutionResults.
func (e *Engine) finalize(c *check.Check, target *env.Environment, raw []result.CheckResult) []result.ExecutionResult {
	out := make([]result.ExecutionResult, 0, len(raw))
	for _, r := range raw {
		serviceName := c.ServiceName()
		if r.NameSuffix != "" {
			serviceName += r.NameSuffix
		}
		out = append(out, result.ExecutionResult{
			PiggybackHost:   r.HostnameOverride,
			ServiceName:     serviceName,
			ServiceLabels:   c.ServiceLabels(),
			EnvironmentName: target.Name(),
			State:           r.State,
			Summary:         r.Summary,
			Details:         r.RenderDetails(),
			Metrics:         r.Metrics,
			ID:              c.ID(),
			Check:           c,
		})
	}
	return out
}

// errorResult is the single UNKNOWN produced when a check throws, fails
// injection, or cannot be submitted.
func (e *Engine) errorResult(c *check.Check, target *env.Environment, err error) result.ExecutionResult {
	summary := "check failed"
	var unavailable *datasource.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		summary = "datasource unavailable"
	case errors.Is(err, executor.ErrSaturated):
		summary = "executor saturated"
	}

	return result.ExecutionResult{
		ServiceName:     c.ServiceName(),
		ServiceLabels:   c.ServiceLabels(),
		EnvironmentName: target.Name(),
		State:           result.Unknown,
		Summary:         summary,
		Details:         err.Error(),
		ID:              c.ID(),
		Check:           c,
	}
}

// syntheticResult is an engine-generated result for a pair that produced no
// check output.
func (e *Engine) syntheticResult(c *check.Check, target *env.Environment, summary, details string) result.ExecutionResult {
	r := e.errorResult(c, target, fmt.Errorf("%s", details))
	r.Summary = summary
	return e.resolveHostnames(c, target, []result.ExecutionResult{r})[0]
}
