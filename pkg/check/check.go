// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package check turns user functions plus their metadata into the immutable
// check descriptors the engine schedules and executes.
package check

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/pitkley/watchpost/pkg/datasource"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/result"
	"github.com/pitkley/watchpost/pkg/scheduling"
)

// ErrorHandler transforms the results produced when a check fails
// catastrophically, typically multiplying the single failure over the
// services the check would have produced on success.
type ErrorHandler interface {
	Apply(chk *Check, targetEnv *env.Environment, results []result.ExecutionResult) []result.ExecutionResult
}

// Check is the immutable descriptor of one registered check. The signature
// plan and the effective strategy set are resolved by the engine before it
// starts; afterwards nothing mutates the descriptor.
type Check struct {
	id            string
	serviceName   string
	serviceLabels map[string]string
	targetEnvs    []*env.Environment
	cacheFor      time.Duration
	hostname      hostname.Strategy
	strategies    []scheduling.Strategy
	errorHandlers []ErrorHandler
	factoryArgs   map[int][]interface{}

	fn    reflect.Value
	shape returnShape

	// resolved by the engine, in registration order: plan, then effective
	// strategies, then conflict check
	plan                *datasource.Plan
	effectiveStrategies []scheduling.Strategy
}

// ID returns the module-qualified function path identifying the check.
func (c *Check) ID() string { return c.id }

// CheckID implements result.CheckMeta.
func (c *Check) CheckID() string { return c.id }

// CheckServiceName implements result.CheckMeta.
func (c *Check) CheckServiceName() string { return c.serviceName }

// ServiceName returns the Checkmk service name.
func (c *Check) ServiceName() string { return c.serviceName }

// ServiceLabels returns the labels attached to the service.
func (c *Check) ServiceLabels() map[string]string { return c.serviceLabels }

// TargetEnvironments returns the environments the check observes.
func (c *Check) TargetEnvironments() []*env.Environment { return c.targetEnvs }

// CacheFor returns the result TTL; zero means caching is disabled for this
// check.
func (c *Check) CacheFor() time.Duration { return c.cacheFor }

// HostnameStrategy returns the check-level hostname strategy, nil when unset.
func (c *Check) HostnameStrategy() hostname.Strategy { return c.hostname }

// Strategies returns the scheduling strategies declared on the check itself.
func (c *Check) Strategies() []scheduling.Strategy { return c.strategies }

// ErrorHandlers returns the declared error handlers in application order.
func (c *Check) ErrorHandlers() []ErrorHandler { return c.errorHandlers }

// FactoryArgs returns the per-parameter factory annotations.
func (c *Check) FactoryArgs() map[int][]interface{} { return c.factoryArgs }

// Async reports whether the check body takes a context and runs on the async
// back-end.
func (c *Check) Async() bool { return c.plan != nil && c.plan.TakesContext() }

// Plan returns the resolved signature plan, nil before engine resolution.
func (c *Check) Plan() *datasource.Plan { return c.plan }

// EffectiveStrategies returns the aggregated strategy set (check +
// datasources + factories + engine defaults), nil before engine resolution.
func (c *Check) EffectiveStrategies() []scheduling.Strategy { return c.effectiveStrategies }

// Resolve stores the signature plan and the effective strategy set. The
// engine calls this during startup; re-resolving (e.g. a verify pass
// followed by the real start) recomputes the same values.
func (c *Check) Resolve(plan *datasource.Plan, effective []scheduling.Strategy) {
	c.plan = plan
	c.effectiveStrategies = effective
}

// Func returns the reflect handle of the user function.
func (c *Check) Func() reflect.Value { return c.fn }

// Describe renders the check as "id(type, ...)" for the CLI listing.
func (c *Check) Describe() string {
	fnType := c.fn.Type()
	params := make([]string, 0, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		params = append(params, fnType.In(i).String())
	}
	return fmt.Sprintf("%s(%s)", c.id, strings.Join(params, ", "))
}

func (c *Check) String() string { return c.id }

// functionID derives the module-qualified path of a function.
func functionID(fn reflect.Value) string {
	rf := runtime.FuncForPC(fn.Pointer())
	if rf == nil {
		return ""
	}
	return rf.Name()
}
