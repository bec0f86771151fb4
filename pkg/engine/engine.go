// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package engine orchestrates the full check lifecycle: it resolves
// registrations into executable plans at startup, and per poll enumerates
// (check, target environment) pairs, consults scheduling and cache, submits
// work to the executor and post-processes the results.
package engine

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"

	"github.com/pitkley/watchpost/pkg/cache"
	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/executor"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/scheduling"
	"github.com/pitkley/watchpost/pkg/util/log"
)

// InvalidConfigurationError aggregates every registration-time problem found
// during startup. The engine does not start while it is non-nil.
type InvalidConfigurationError struct {
	Problems *multierror.Error
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid check configuration:\n%s", e.Problems.Error())
}

// Engine is the top-level orchestrator. Registries are immutable once New
// returned; the cache and executor carry all mutable state.
type Engine struct {
	executionEnv *env.Environment
	envs         *env.Registry
	checks       *check.Registry
	datasources  *datasource.Registry
	resultCache  *cache.Cache
	exec         *executor.Executor

	defaultStrategies []scheduling.Strategy
	defaultHostname   hostname.Strategy
	coerceHostnames   bool
	checkDeadline     time.Duration
	clock             clock.Clock
}

// Options assembles an Engine.
type Options struct {
	// ExecutionEnvironment is the environment the engine itself runs in.
	// Required, and must be part of Environments.
	ExecutionEnvironment string
	// Environments is the registry of every known environment.
	Environments *env.Registry
	// Checks is the registry of every declared check.
	Checks *check.Registry
	// Datasources is the registry the signature plans resolve against.
	Datasources *datasource.Registry
	// Cache holds results between polls; nil disables caching entirely.
	Cache *cache.Cache
	// Workers is the sync worker pool size; defaults to 8.
	Workers int
	// QueueSize caps pending work per back-end; defaults to 4*Workers.
	QueueSize int
	// DefaultStrategies apply to every check in addition to its own.
	DefaultStrategies []scheduling.Strategy
	// DefaultHostname is the engine-level hostname fallback.
	DefaultHostname hostname.Strategy
	// CoerceHostnames enables RFC 1123 coercion of resolved hostnames.
	CoerceHostnames bool
	// CheckDeadline bounds one check invocation; zero means none.
	CheckDeadline time.Duration

	// Clock substitutes the wall clock, used by tests.
	Clock clock.Clock
}

// New validates the whole configuration and returns a ready engine. The
// resolution order is fixed: signature plans first, then per-check strategy
// sets, then the conflict check. Every problem is collected; any problem at
// all aborts startup with an InvalidConfigurationError.
func New(opts Options) (*Engine, error) {
	if opts.Environments == nil {
		opts.Environments = env.NewRegistry()
	}
	if opts.Checks == nil {
		opts.Checks = check.NewRegistry()
	}
	if opts.Datasources == nil {
		opts.Datasources = datasource.NewRegistry()
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 4 * opts.Workers
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	var problems *multierror.Error

	executionEnv, ok := opts.Environments.Get(opts.ExecutionEnvironment)
	if !ok {
		problems = multierror.Append(problems,
			fmt.Errorf("execution environment %q is not registered", opts.ExecutionEnvironment))
	}

	candidates := opts.Environments.List()
	for _, c := range opts.Checks.Checks() {
		plan, err := opts.Datasources.BuildPlan(c.Func().Interface(), c.FactoryArgs())
		if err != nil {
			problems = multierror.Append(problems, fmt.Errorf("check %s: %w", c.ID(), err))
			continue
		}

		effective := make([]scheduling.Strategy, 0,
			len(c.Strategies())+len(opts.DefaultStrategies))
		effective = append(effective, c.Strategies()...)
		effective = append(effective, opts.Datasources.StrategiesFor(plan)...)
		effective = append(effective, opts.DefaultStrategies...)
		c.Resolve(plan, effective)

		for _, conflict := range scheduling.DetectConflicts(c.ID(), effective, c.TargetEnvironments(), candidates) {
			problems = multierror.Append(problems, conflict)
		}
	}

	if problems.ErrorOrNil() != nil {
		return nil, &InvalidConfigurationError{Problems: problems}
	}

	e := &Engine{
		executionEnv:      executionEnv,
		envs:              opts.Environments,
		checks:            opts.Checks,
		datasources:       opts.Datasources,
		resultCache:       opts.Cache,
		exec:              executor.New(opts.Workers, opts.QueueSize, executor.WithClock(opts.Clock)),
		defaultStrategies: opts.DefaultStrategies,
		defaultHostname:   opts.DefaultHostname,
		coerceHostnames:   opts.CoerceHostnames,
		checkDeadline:     opts.CheckDeadline,
		clock:             opts.Clock,
	}
	log.Infof("Engine ready: %d checks, execution environment %q",
		len(opts.Checks.Checks()), executionEnv.Name())
	return e, nil
}

// Verify runs the registration-time validation only, without starting an
// executor. It reports the same problems New would.
func Verify(opts Options) error {
	opts.Workers = 1
	e, err := New(opts)
	if err != nil {
		return err
	}
	e.Shutdown(false)
	return nil
}

// ExecutionEnvironment returns the environment the engine runs in.
func (e *Engine) ExecutionEnvironment() *env.Environment { return e.executionEnv }

// Checks returns the registered checks in registration order.
func (e *Engine) Checks() []*check.Check { return e.checks.Checks() }

// ExecutorStatistics returns the executor's rolling counters.
func (e *Engine) ExecutorStatistics() executor.Stats { return e.exec.Statistics() }

// ExecutorErrored returns the executor's bounded error buffer.
func (e *Engine) ExecutorErrored() []executor.ErrorRecord { return e.exec.ErroredSnapshot() }

// Shutdown stops the executor and destroys all datasource instances.
func (e *Engine) Shutdown(drain bool) {
	e.exec.Shutdown(drain)
	e.datasources.Close()
}

// pairKey is the dedup and cache key of one (check, target environment)
// pair.
func pairKey(c *check.Check, target *env.Environment) string {
	return c.ID() + "/" + target.Name()
}
