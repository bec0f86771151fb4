// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package datasource registers the dependencies check functions consume and
// resolves them into injected instances. Constructors are registered once,
// instances are created lazily and memoized for the lifetime of the engine.
package datasource

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/scheduling"
	"github.com/pitkley/watchpost/pkg/util/log"
)

var (
	errType     = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	envType     = reflect.TypeOf((*env.Environment)(nil))
)

// UnavailableError signals a transient external failure inside a datasource.
// The engine turns it into an UNKNOWN result without substituting a cached
// value.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("datasource unavailable: %s", e.Reason)
}

// Unavailable returns an UnavailableError with a formatted reason.
func Unavailable(format string, params ...interface{}) error {
	return &UnavailableError{Reason: fmt.Sprintf(format, params...)}
}

// Registration holds one registered constructor, its fixed arguments and the
// scheduling strategies it imposes on every check depending on it.
type Registration struct {
	typ        reflect.Type
	construct  reflect.Value
	args       []interface{}
	strategies []scheduling.Strategy
	isFactory  bool
}

// Type returns the datasource type the registration produces.
func (r *Registration) Type() reflect.Type { return r.typ }

// Strategies returns the scheduling strategies declared on the registration.
func (r *Registration) Strategies() []scheduling.Strategy { return r.strategies }

// RegistrationOption customizes a registration.
type RegistrationOption func(*Registration)

// WithArgs fixes the constructor arguments of a direct registration.
func WithArgs(args ...interface{}) RegistrationOption {
	return func(r *Registration) { r.args = args }
}

// WithStrategies attaches scheduling strategies that every check depending on
// this datasource inherits.
func WithStrategies(strategies ...scheduling.Strategy) RegistrationOption {
	return func(r *Registration) { r.strategies = strategies }
}

// Registry holds direct and factory registrations keyed by the type they
// produce, plus the memoized instances.
type Registry struct {
	mu        sync.Mutex
	direct    map[reflect.Type]*Registration
	factories map[reflect.Type]*Registration
	instances map[string]*instanceEntry
}

// instanceEntry memoizes one (type, args) instance. The once runs the
// constructor outside the registry mutex, so one slow constructor never
// blocks resolution of unrelated datasources; concurrent resolvers of the
// same entry wait on the once, not on the registry.
type instanceEntry struct {
	once  sync.Once
	value reflect.Value
	err   error
}

// NewRegistry returns an empty datasource registry.
func NewRegistry() *Registry {
	return &Registry{
		direct:    make(map[reflect.Type]*Registration),
		factories: make(map[reflect.Type]*Registration),
		instances: make(map[string]*instanceEntry),
	}
}

// Register adds a direct registration. The constructor must be a func
// returning the datasource, optionally followed by an error; its produced
// type is the registration key. Fixed arguments are validated against the
// constructor signature now, not at first use.
func (r *Registry) Register(constructor interface{}, opts ...RegistrationOption) error {
	reg, err := newRegistration(constructor, false, opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.direct[reg.typ]; exists {
		return fmt.Errorf("datasource type %s is already registered", reg.typ)
	}
	r.direct[reg.typ] = reg
	log.Debugf("Registered datasource %s", reg.typ)
	return nil
}

// RegisterFactory adds a factory registration. The factory is a func whose
// arguments are supplied per check parameter via the FromFactory annotation;
// its produced type is the registration key.
func (r *Registry) RegisterFactory(factory interface{}, opts ...RegistrationOption) error {
	reg, err := newRegistration(factory, true, opts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[reg.typ]; exists {
		return fmt.Errorf("datasource factory for type %s is already registered", reg.typ)
	}
	r.factories[reg.typ] = reg
	log.Debugf("Registered datasource factory for %s", reg.typ)
	return nil
}

func newRegistration(constructor interface{}, isFactory bool, opts ...RegistrationOption) (*Registration, error) {
	fn := reflect.ValueOf(constructor)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("datasource constructor must be a function, got %T", constructor)
	}

	fnType := fn.Type()
	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) == errType {
			return nil, fmt.Errorf("constructor %s must return a datasource", fnType)
		}
	case 2:
		if fnType.Out(1) != errType {
			return nil, fmt.Errorf("constructor %s second return value must be error", fnType)
		}
	default:
		return nil, fmt.Errorf("constructor %s must return the datasource and an optional error", fnType)
	}

	reg := &Registration{
		typ:       fnType.Out(0),
		construct: fn,
		isFactory: isFactory,
	}
	for _, opt := range opts {
		opt(reg)
	}

	if !isFactory {
		if err := checkArgs(fnType, reg.args); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func checkArgs(fnType reflect.Type, args []interface{}) error {
	if fnType.IsVariadic() {
		if len(args) < fnType.NumIn()-1 {
			return fmt.Errorf("constructor %s needs at least %d arguments, got %d", fnType, fnType.NumIn()-1, len(args))
		}
		return nil
	}
	if len(args) != fnType.NumIn() {
		return fmt.Errorf("constructor %s needs %d arguments, got %d", fnType, fnType.NumIn(), len(args))
	}
	for i, arg := range args {
		if arg == nil {
			continue
		}
		if !reflect.TypeOf(arg).AssignableTo(fnType.In(i)) {
			return fmt.Errorf("constructor %s argument %d: %T is not assignable to %s", fnType, i, arg, fnType.In(i))
		}
	}
	return nil
}

// instanceKey identifies a memoized instance: registrations are singletons
// per (type, args) tuple.
func instanceKey(typ reflect.Type, args []interface{}) string {
	return fmt.Sprintf("%s%v", typ, args)
}

// resolve returns the memoized instance for a plan parameter, constructing it
// on first use. The registry mutex covers only the map lookups; the
// constructor itself runs under the entry's once.
func (r *Registry) resolve(p Param) (reflect.Value, error) {
	r.mu.Lock()
	var reg *Registration
	var args []interface{}
	if p.Factory {
		reg = r.factories[p.Type]
		args = p.FactoryArgs
	} else {
		reg = r.direct[p.Type]
		if reg != nil {
			args = reg.args
		}
	}
	if reg == nil {
		r.mu.Unlock()
		return reflect.Value{}, fmt.Errorf("no registration for datasource type %s", p.Type)
	}

	key := instanceKey(p.Type, args)
	entry, ok := r.instances[key]
	if !ok {
		entry = &instanceEntry{}
		r.instances[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.value, entry.err = construct(reg, args)
		if entry.err == nil {
			log.Debugf("Instantiated datasource %s", key)
		}
	})

	if entry.err != nil {
		// drop the failed entry so the next poll retries the constructor
		r.mu.Lock()
		if r.instances[key] == entry {
			delete(r.instances, key)
		}
		r.mu.Unlock()
		return reflect.Value{}, entry.err
	}
	return entry.value, nil
}

func construct(reg *Registration, args []interface{}) (reflect.Value, error) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(reg.construct.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}

	out := reg.construct.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}

// Close destroys all memoized instances, closing the ones that implement
// io.Closer. Instances are dropped even when closing fails.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.instances {
		if entry.err == nil && entry.value.IsValid() {
			if closer, ok := entry.value.Interface().(io.Closer); ok {
				if err := closer.Close(); err != nil {
					log.Warnf("Error closing datasource %s: %v", key, err) //nolint:errcheck
				}
			}
		}
		delete(r.instances, key)
	}
}
