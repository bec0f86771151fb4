// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package check

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/scheduling"
)

var prod = env.New("prod")

func okCheck(*env.Environment) result.CheckResult {
	return result.CheckResult{State: result.OK, Summary: "fine"}
}

func multiCheck(*env.Environment) []result.CheckResult {
	return []result.CheckResult{
		{State: result.OK, Summary: "first"},
		{State: result.Warn, Summary: "second"},
	}
}

func erroringCheck(*env.Environment) (result.CheckResult, error) {
	return result.CheckResult{}, errors.New("boom")
}

func builderCheck(*env.Environment) *result.Builder {
	return result.NewBuilder("ok", "fail").Crit("down")
}

func channelCheck(*env.Environment) <-chan result.CheckResult {
	ch := make(chan result.CheckResult, 2)
	ch <- result.CheckResult{State: result.OK, Summary: "a"}
	ch <- result.CheckResult{State: result.OK, Summary: "b"}
	close(ch)
	return ch
}

func TestRegisterDerivesID(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(okCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)
	assert.Equal(t, "github.com/pitkley/watchpost/pkg/check.okCheck", c.ID())
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register(42, "Demo", []*env.Environment{prod})
	assert.Error(t, err, "non-function")

	_, err = r.Register(okCheck, "", []*env.Environment{prod})
	assert.Error(t, err, "empty service name")

	_, err = r.Register(okCheck, "Demo", nil)
	assert.Error(t, err, "no target environments")

	_, err = r.Register(func(*env.Environment) {}, "Demo", []*env.Environment{prod})
	assert.Error(t, err, "no return value")

	_, err = r.Register(func(*env.Environment) int { return 0 }, "Demo", []*env.Environment{prod})
	assert.Error(t, err, "unsupported return type")

	_, err = r.Register(okCheck, "Demo", []*env.Environment{prod}, WithCacheFor("5minutes"))
	assert.Error(t, err, "bad duration")

	_, err = r.Register(okCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)
	_, err = r.Register(okCheck, "Demo again", []*env.Environment{prod})
	assert.Error(t, err, "duplicate registration")
}

func TestRegisterOptions(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(okCheck, "Demo", []*env.Environment{prod},
		WithServiceLabels(map[string]string{"team": "sre"}),
		WithCacheFor("5m"),
		WithStaticHostname("demo-host"),
		WithStrategies(scheduling.MustRunInTargetEnvironment()),
	)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"team": "sre"}, c.ServiceLabels())
	assert.Equal(t, 5*time.Minute, c.CacheFor())
	require.NotNil(t, c.HostnameStrategy())
	assert.Len(t, c.Strategies(), 1)
}

func TestFromFactoryDuplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(okCheck, "Demo", []*env.Environment{prod},
		FromFactory(1, "a"), FromFactory(1, "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "two factory annotations")
}

func TestDescribe(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(okCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)
	assert.Equal(t, "github.com/pitkley/watchpost/pkg/check.okCheck(*env.Environment)", c.Describe())
}

func callNormalized(t *testing.T, c *Check) ([]result.CheckResult, error) {
	t.Helper()
	out := c.Func().Call([]reflect.Value{reflect.ValueOf(prod)})
	return c.NormalizeReturn(out)
}

func TestNormalizeSingle(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(okCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)

	results, err := callNormalized(t, c)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fine", results[0].Summary)
}

func TestNormalizeSlice(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(multiCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)

	results, err := callNormalized(t, c)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Summary)
	assert.Equal(t, "second", results[1].Summary)
}

func TestNormalizeBuilder(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(builderCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)

	results, err := callNormalized(t, c)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.Crit, results[0].State)
	assert.Equal(t, "fail", results[0].Summary)
}

func TestNormalizeChannelDrained(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(channelCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)

	results, err := callNormalized(t, c)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Summary)
	assert.Equal(t, "b", results[1].Summary)
}

func TestNormalizeError(t *testing.T) {
	r := NewRegistry()
	c, err := r.Register(erroringCheck, "Demo", []*env.Environment{prod})
	require.NoError(t, err)

	_, err = callNormalized(t, c)
	assert.EqualError(t, err, "boom")
}

func TestRegistryOrderAndLookup(t *testing.T) {
	r := NewRegistry()
	first := r.MustRegister(okCheck, "First", []*env.Environment{prod})
	second := r.MustRegister(multiCheck, "Second", []*env.Environment{prod})

	checks := r.Checks()
	require.Len(t, checks, 2)
	assert.Same(t, first, checks[0])
	assert.Same(t, second, checks[1])

	got, ok := r.Get(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestParseDuration(t *testing.T) {
	for spec, expected := range map[string]time.Duration{
		"30s":  30 * time.Second,
		"5m":   5 * time.Minute,
		"2h":   2 * time.Hour,
		"1d":   24 * time.Hour,
		"none": 0,
	} {
		d, err := ParseDuration(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, expected, d, spec)
	}

	for _, spec := range []string{"", "5", "m", "5 m", "5min", "-5m", "5M"} {
		_, err := ParseDuration(spec)
		assert.Error(t, err, spec)
	}
}
