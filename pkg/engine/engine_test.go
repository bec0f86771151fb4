// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitkley/watchpost/pkg/cache"
	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/engine/handlers"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/scheduling"
	"github.com/pitkley/watchpost/pkg/storage"
)

type fixture struct {
	envs        *env.Registry
	checks      *check.Registry
	datasources *datasource.Registry
	clock       *clock.Mock
	cache       *cache.Cache

	prod    *env.Environment
	staging *env.Environment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		envs:        env.NewRegistry(),
		checks:      check.NewRegistry(),
		datasources: datasource.NewRegistry(),
		clock:       clock.NewMock(),
		prod:        env.New("prod"),
		staging:     env.New("staging"),
	}
	f.cache = cache.New(storage.NewMemoryStore(), cache.WithClock(f.clock))
	require.NoError(t, f.envs.Register(f.prod))
	require.NoError(t, f.envs.Register(f.staging))
	return f
}

func (f *fixture) engine(t *testing.T, mutate ...func(*Options)) *Engine {
	t.Helper()

	opts := Options{
		ExecutionEnvironment: "prod",
		Environments:         f.envs,
		Checks:               f.checks,
		Datasources:          f.datasources,
		Cache:                f.cache,
		Workers:              4,
		CoerceHostnames:      true,
		Clock:                f.clock,
	}
	for _, m := range mutate {
		m(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Shutdown(true) })
	return e
}

func TestHappyPathCacheHit(t *testing.T) {
	f := newFixture(t)

	executions := 0
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		executions++
		return result.CheckResult{State: result.OK, Summary: "all good"}
	}, "Demo", []*env.Environment{f.prod},
		check.WithID("checks.demo"),
		check.WithCacheFor("5m"),
	)

	e := f.engine(t)

	first, err := e.Run(context.Background())
	require.NoError(t, err)
	f.clock.Add(time.Minute)
	second, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, executions, "second poll within TTL is served from cache")
	require.Len(t, first, 1)
	assert.Equal(t, result.OK, first[0].State)
	assert.Equal(t, "all good", first[0].Summary)
	assert.Equal(t, first[0].PiggybackHost, second[0].PiggybackHost)
	assert.Equal(t, first[0].Summary, second[0].Summary)
	assert.Equal(t, int64(1), e.ExecutorStatistics().Completed)

	// the cached result is re-linked to its descriptor
	require.NotNil(t, second[0].Check)
	assert.Equal(t, "checks.demo", second[0].Check.CheckID())
}

func TestGraceReadAfterExpiry(t *testing.T) {
	f := newFixture(t)

	executions := 0
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		executions++
		return result.CheckResult{State: result.OK, Summary: "fresh"}
	}, "Demo", []*env.Environment{f.prod},
		check.WithID("checks.grace"),
		check.WithCacheFor("1s"),
	)

	e := f.engine(t)

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executions)

	// t=1.5s: the expired entry is returned once, the check does not rerun
	f.clock.Add(1500 * time.Millisecond)
	results, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, executions, "grace read serves the expired entry")
	require.Len(t, results, 1)
	assert.Equal(t, "fresh", results[0].Summary)

	// the grace read consumed the entry, the next poll reruns
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, executions)
}

func TestDedupUnderConcurrency(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	executions := 0
	release := make(chan struct{})
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		mu.Lock()
		executions++
		mu.Unlock()
		<-release
		return result.CheckResult{State: result.OK, Summary: "slow"}
	}, "Demo", []*env.Environment{f.prod}, check.WithID("checks.slow"))

	e := f.engine(t)

	type pollResult struct {
		results []result.ExecutionResult
		err     error
	}
	polls := make(chan pollResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results, err := e.Run(context.Background())
			polls <- pollResult{results, err}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-polls
	second := <-polls
	require.NoError(t, first.err)
	require.NoError(t, second.err)

	assert.Equal(t, 1, executions, "concurrent polls share one in-flight execution")
	require.Len(t, first.results, 1)
	require.Len(t, second.results, 1)
	assert.Equal(t, first.results[0].Summary, second.results[0].Summary)
}

func TestCatastrophicFailureExpandByHostname(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) (result.CheckResult, error) {
		return result.CheckResult{}, errors.New("database on fire")
	}, "Cluster", []*env.Environment{f.prod},
		check.WithID("checks.cluster"),
		check.WithErrorHandlers(handlers.ExpandByHostname("h1", "h2", "h3")),
	)

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, host := range []string{"h1", "h2", "h3"} {
		assert.Equal(t, host, results[i].PiggybackHost)
		assert.Equal(t, result.Unknown, results[i].State)
		assert.Contains(t, results[i].Details, "database on fire")
	}
}

func TestErrorHandlersComposeMultiplicatively(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) (result.CheckResult, error) {
		return result.CheckResult{}, errors.New("boom")
	}, "Multi", []*env.Environment{f.prod},
		check.WithID("checks.multi"),
		check.WithErrorHandlers(
			handlers.ExpandByHostname("h1", "h2"),
			handlers.ExpandByNameSuffix(" a", " b", " c"),
		),
	)

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 6, "2 hosts x 3 suffixes")
	assert.Equal(t, "Multi a", results[0].ServiceName)
	assert.Equal(t, "h1", results[0].PiggybackHost)
}

func TestErrorHandlersNotAppliedToReturnedUnknown(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.Unknown, Summary: "soft unknown"}
	}, "Soft", []*env.Environment{f.prod},
		check.WithID("checks.soft"),
		check.WithErrorHandlers(handlers.ExpandByHostname("h1", "h2")),
	)

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1, "handlers only run on the catastrophic path")
}

func TestStrategyCompositionFromDatasource(t *testing.T) {
	f := newFixture(t)

	type pingClient struct{}
	require.NoError(t, f.datasources.Register(func() *pingClient { return &pingClient{} },
		datasource.WithStrategies(scheduling.MustRunInTargetEnvironment()),
	))

	f.checks.MustRegister(func(*pingClient, *env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "pinged"}
	}, "Ping", []*env.Environment{f.prod, f.staging}, check.WithID("checks.ping"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1, "only (ping, prod) runs; (ping, staging) emits nothing")
	assert.Equal(t, "prod", results[0].EnvironmentName)
}

func TestConflictingConfigurationRejected(t *testing.T) {
	f := newFixture(t)

	type dsA struct{}
	type dsB struct{}
	require.NoError(t, f.datasources.Register(func() *dsA { return &dsA{} },
		datasource.WithStrategies(scheduling.MustRunInGivenExecutionEnvironment(f.prod))))
	require.NoError(t, f.datasources.Register(func() *dsB { return &dsB{} },
		datasource.WithStrategies(scheduling.MustRunInGivenExecutionEnvironment(f.staging))))

	f.checks.MustRegister(func(*dsA, *dsB) result.CheckResult {
		return result.CheckResult{State: result.OK}
	}, "Torn", []*env.Environment{f.prod}, check.WithID("checks.torn"))

	_, err := New(Options{
		ExecutionEnvironment: "prod",
		Environments:         f.envs,
		Checks:               f.checks,
		Datasources:          f.datasources,
	})
	require.Error(t, err)

	var invalid *InvalidConfigurationError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "MustRunInGivenExecutionEnvironment(prod)")
	assert.Contains(t, err.Error(), "MustRunInGivenExecutionEnvironment(staging)")
}

func TestUnknownDatasourceRejectedAtStartup(t *testing.T) {
	f := newFixture(t)

	type unregistered struct{}
	f.checks.MustRegister(func(*unregistered) result.CheckResult {
		return result.CheckResult{State: result.OK}
	}, "Broken", []*env.Environment{f.prod}, check.WithID("checks.broken"))

	_, err := New(Options{
		ExecutionEnvironment: "prod",
		Environments:         f.envs,
		Checks:               f.checks,
		Datasources:          f.datasources,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no datasource registered")
}

func TestSkipEmitsSyntheticUnknownWithoutCache(t *testing.T) {
	f := newFixture(t)

	skipAll := scheduling.StrategyFunc("SkipAll", func(_, _ *env.Environment) scheduling.Decision {
		return scheduling.Skip
	})
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		t.Fatal("a skipped check must not execute")
		return result.CheckResult{}
	}, "Skippy", []*env.Environment{f.prod},
		check.WithID("checks.skippy"),
		check.WithCacheFor("5m"),
		check.WithStrategies(skipAll),
	)

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.Unknown, results[0].State)
	assert.Equal(t, "scheduled-skip-no-cache", results[0].Summary)
	assert.NotEmpty(t, results[0].PiggybackHost)
}

func TestSkipServesExpiredCache(t *testing.T) {
	f := newFixture(t)

	decision := scheduling.Schedule
	var mu sync.Mutex
	flip := scheduling.StrategyFunc("Flip", func(_, _ *env.Environment) scheduling.Decision {
		mu.Lock()
		defer mu.Unlock()
		return decision
	})

	executions := 0
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		executions++
		return result.CheckResult{State: result.OK, Summary: "cached value"}
	}, "Flippy", []*env.Environment{f.prod},
		check.WithID("checks.flippy"),
		check.WithCacheFor("1s"),
		check.WithStrategies(flip),
	)

	e := f.engine(t)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	decision = scheduling.Skip
	mu.Unlock()
	f.clock.Add(time.Hour) // far past expiry

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cached value", results[0].Summary, "SKIP serves even expired entries")
	assert.Equal(t, 1, executions)
}

func TestCacheForNoneAlwaysExecutes(t *testing.T) {
	f := newFixture(t)

	executions := 0
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		executions++
		return result.CheckResult{State: result.OK, Summary: "fresh"}
	}, "Uncached", []*env.Environment{f.prod},
		check.WithID("checks.uncached"),
		check.WithCacheFor("none"),
	)

	e := f.engine(t)

	for i := 0; i < 3; i++ {
		_, err := e.Run(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, executions)
}

func TestPanicBecomesUnknown(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		panic("nil map write")
	}, "Panicky", []*env.Environment{f.prod}, check.WithID("checks.panicky"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.Unknown, results[0].State)
	assert.Contains(t, results[0].Details, "nil map write")
	assert.Equal(t, int64(1), e.ExecutorStatistics().Errored)
}

func TestAsyncCheckRuns(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(ctx context.Context, target *env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "async " + target.Name()}
	}, "Async", []*env.Environment{f.prod}, check.WithID("checks.async"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "async prod", results[0].Summary)
}

func TestHostnameHierarchy(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.envs.Register(env.New("qa", env.WithHostname("qa-box"))))
	qa, _ := f.envs.Get("qa")

	// result override wins over everything
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "s", HostnameOverride: "Override-Host"}
	}, "A", []*env.Environment{f.prod},
		check.WithID("checks.override"), check.WithStaticHostname("check-host"))

	// check-level strategy wins over environment default
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "s"}
	}, "B", []*env.Environment{qa},
		check.WithID("checks.checklevel"),
		check.WithHostname(hostname.Template("{service_name}.{environment_name}")))

	// environment default
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "s"}
	}, "C", []*env.Environment{qa}, check.WithID("checks.envlevel"))

	// synthesized fallback
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "s"}
	}, "D Service", []*env.Environment{f.prod}, check.WithID("checks.fallback"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byID := map[string]result.ExecutionResult{}
	for _, r := range results {
		byID[r.ID] = r
	}
	assert.Equal(t, "override-host", byID["checks.override"].PiggybackHost, "override, coerced")
	assert.Equal(t, "b.qa", byID["checks.checklevel"].PiggybackHost)
	assert.Equal(t, "qa-box", byID["checks.envlevel"].PiggybackHost)
	assert.Equal(t, "d-service-prod", byID["checks.fallback"].PiggybackHost)
}

func TestEngineDefaultHostname(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "s"}
	}, "Svc", []*env.Environment{f.prod}, check.WithID("checks.default"))

	e := f.engine(t, func(o *Options) {
		o.DefaultHostname = hostname.Static("engine-wide-host")
	})

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "engine-wide-host", results[0].PiggybackHost)
}

func TestRunOptionsFilters(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "a"}
	}, "A", []*env.Environment{f.prod}, check.WithID("alpha.one"))
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "b"}
	}, "B", []*env.Environment{f.prod}, check.WithID("beta.two"))

	e := f.engine(t)

	results, err := e.RunWithOptions(context.Background(), RunOptions{FilterPrefix: "alpha."})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Summary)

	results, err = e.RunWithOptions(context.Background(), RunOptions{FilterContains: "two"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Summary)
}

func TestDisableCacheOption(t *testing.T) {
	f := newFixture(t)

	executions := 0
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		executions++
		return result.CheckResult{State: result.OK, Summary: "s"}
	}, "Svc", []*env.Environment{f.prod},
		check.WithID("checks.nocache"), check.WithCacheFor("5m"))

	e := f.engine(t)

	for i := 0; i < 2; i++ {
		_, err := e.RunWithOptions(context.Background(), RunOptions{DisableCache: true})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, executions)
}

func TestDatasourceUnavailableBecomesUnknown(t *testing.T) {
	f := newFixture(t)

	type flaky struct{}
	require.NoError(t, f.datasources.Register(func() *flaky { return &flaky{} }))

	f.checks.MustRegister(func(*flaky) (result.CheckResult, error) {
		return result.CheckResult{}, datasource.Unavailable("backend timed out")
	}, "Flaky", []*env.Environment{f.prod}, check.WithID("checks.flaky"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.Unknown, results[0].State)
	assert.Equal(t, "datasource unavailable", results[0].Summary)
	assert.Contains(t, results[0].Details, "backend timed out")
}

func TestEnvironmentInjection(t *testing.T) {
	f := newFixture(t)

	f.checks.MustRegister(func(target *env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK, Summary: "target=" + target.Name()}
	}, "Envy", []*env.Environment{f.prod, f.staging}, check.WithID("checks.envy"))

	e := f.engine(t)

	results, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "target=prod", results[0].Summary)
	assert.Equal(t, "target=staging", results[1].Summary)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	f.checks.MustRegister(func(*env.Environment) result.CheckResult {
		return result.CheckResult{State: result.OK}
	}, "Fine", []*env.Environment{f.prod}, check.WithID("checks.fine"))

	require.NoError(t, Verify(Options{
		ExecutionEnvironment: "prod",
		Environments:         f.envs,
		Checks:               f.checks,
		Datasources:          f.datasources,
	}))

	assert.Error(t, Verify(Options{
		ExecutionEnvironment: "missing",
		Environments:         f.envs,
		Checks:               f.checks,
		Datasources:          f.datasources,
	}))
}
