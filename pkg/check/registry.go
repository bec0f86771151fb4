// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package check

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/hostname"
	"github.com/pitkley/watchpost/pkg/scheduling"
)

// Option configures a check at registration time.
type Option func(*Check) error

// WithID overrides the derived function-path ID, needed for anonymous
// functions.
func WithID(id string) Option {
	return func(c *Check) error {
		c.id = id
		return nil
	}
}

// WithServiceLabels attaches Checkmk service labels.
func WithServiceLabels(labels map[string]string) Option {
	return func(c *Check) error {
		c.serviceLabels = labels
		return nil
	}
}

// WithCacheFor sets the result TTL from a duration string ("30s", "5m",
// "1h", "2d") or the literal "none".
func WithCacheFor(spec string) Option {
	return func(c *Check) error {
		d, err := ParseDuration(spec)
		if err != nil {
			return err
		}
		c.cacheFor = d
		return nil
	}
}

// WithCacheDuration sets the result TTL from an already-parsed duration.
func WithCacheDuration(d time.Duration) Option {
	return func(c *Check) error {
		c.cacheFor = d
		return nil
	}
}

// WithHostname sets the check-level hostname strategy.
func WithHostname(strategy hostname.Strategy) Option {
	return func(c *Check) error {
		c.hostname = strategy
		return nil
	}
}

// WithStaticHostname sets a fixed check-level hostname.
func WithStaticHostname(h string) Option {
	return WithHostname(hostname.Static(h))
}

// WithStrategies declares scheduling strategies on the check.
func WithStrategies(strategies ...scheduling.Strategy) Option {
	return func(c *Check) error {
		c.strategies = append(c.strategies, strategies...)
		return nil
	}
}

// WithErrorHandlers declares error handlers, applied in the given order when
// the check fails catastrophically.
func WithErrorHandlers(handlers ...ErrorHandler) Option {
	return func(c *Check) error {
		c.errorHandlers = append(c.errorHandlers, handlers...)
		return nil
	}
}

// FromFactory marks the parameter at the given index as produced by the
// registered factory for its type, invoked with the given arguments.
func FromFactory(paramIndex int, args ...interface{}) Option {
	return func(c *Check) error {
		if c.factoryArgs == nil {
			c.factoryArgs = make(map[int][]interface{})
		}
		if _, dup := c.factoryArgs[paramIndex]; dup {
			return fmt.Errorf("parameter %d has two factory annotations", paramIndex)
		}
		c.factoryArgs[paramIndex] = args
		return nil
	}
}

// Registry collects check descriptors in registration order.
type Registry struct {
	mu     sync.Mutex
	checks []*Check
	byID   map[string]*Check
}

// NewRegistry returns an empty check registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Check)}
}

// Register normalizes the function plus its metadata into a check
// descriptor. Invalid metadata (empty service name, no target environments,
// bad duration, unsupported return shape) is a configuration error.
func (r *Registry) Register(fn interface{}, serviceName string, targetEnvs []*env.Environment, opts ...Option) (*Check, error) {
	fnValue := reflect.ValueOf(fn)
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("check must be a function, got %T", fn)
	}
	if serviceName == "" {
		return nil, fmt.Errorf("check %s: service name must not be empty", functionID(fnValue))
	}
	if len(targetEnvs) == 0 {
		return nil, fmt.Errorf("check %s: at least one target environment is required", functionID(fnValue))
	}

	shape, err := detectReturnShape(fnValue.Type())
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", functionID(fnValue), err)
	}

	c := &Check{
		id:          functionID(fnValue),
		serviceName: serviceName,
		targetEnvs:  targetEnvs,
		fn:          fnValue,
		shape:       shape,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("check %s: %w", c.id, err)
		}
	}
	if c.id == "" {
		return nil, fmt.Errorf("check for service %q needs an explicit ID (anonymous function)", serviceName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[c.id]; exists {
		return nil, fmt.Errorf("check %s is already registered", c.id)
	}
	r.checks = append(r.checks, c)
	r.byID[c.id] = c
	return c, nil
}

// MustRegister is Register for program-level check declarations; it panics on
// configuration errors so they surface immediately in tests and init code.
func (r *Registry) MustRegister(fn interface{}, serviceName string, targetEnvs []*env.Environment, opts ...Option) *Check {
	c, err := r.Register(fn, serviceName, targetEnvs, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Checks returns the registered checks in registration order.
func (r *Registry) Checks() []*Check {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// Get looks a check up by ID.
func (r *Registry) Get(id string) (*Check, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}
