// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package env models the logical environments checks run in and against.
package env

import (
	"fmt"
	"sort"
	"sync"
)

// Environment is a named logical deployment context. Two environments are
// equal iff their names are equal within one registry; the struct is
// immutable after construction.
type Environment struct {
	name     string
	hostname string
	metadata map[string]string
}

// Option customizes an Environment at construction time.
type Option func(*Environment)

// WithHostname sets the environment-level default piggyback hostname.
func WithHostname(hostname string) Option {
	return func(e *Environment) { e.hostname = hostname }
}

// WithMetadata attaches arbitrary key/value metadata.
func WithMetadata(metadata map[string]string) Option {
	return func(e *Environment) {
		e.metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			e.metadata[k] = v
		}
	}
}

// New returns an immutable Environment.
func New(name string, opts ...Option) *Environment {
	e := &Environment{name: name}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the stable identifier of the environment.
func (e *Environment) Name() string { return e.name }

// Hostname returns the environment-level default hostname, empty when unset.
func (e *Environment) Hostname() string { return e.hostname }

// Metadata returns the value for a metadata key.
func (e *Environment) Metadata(key string) (string, bool) {
	v, ok := e.metadata[key]
	return v, ok
}

// MetadataMap returns a copy of the full metadata mapping.
func (e *Environment) MetadataMap() map[string]string {
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Equal reports whether both environments carry the same name.
func (e *Environment) Equal(other *Environment) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.name == other.name
}

func (e *Environment) String() string { return e.name }

// Registry maps environment names to environments. Registration happens at
// startup; lookups are concurrency-safe.
type Registry struct {
	mu   sync.RWMutex
	envs map[string]*Environment
}

// NewRegistry returns an empty environment registry.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]*Environment)}
}

// Register adds an environment. Registering a duplicate name is a
// configuration error.
func (r *Registry) Register(e *Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.envs[e.Name()]; exists {
		return fmt.Errorf("environment %q is already registered", e.Name())
	}
	r.envs[e.Name()] = e
	return nil
}

// Get looks an environment up by name.
func (r *Registry) Get(name string) (*Environment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.envs[name]
	return e, ok
}

// Contains reports whether an environment with the given name is registered.
func (r *Registry) Contains(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered environments sorted by name.
func (r *Registry) List() []*Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Environment, 0, len(r.envs))
	for _, e := range r.envs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
