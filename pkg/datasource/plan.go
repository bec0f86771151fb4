// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package datasource

import (
	"fmt"
	"reflect"

	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/scheduling"
)

// ParamKind discriminates the bindings a signature plan can contain.
type ParamKind int

const (
	// ContextParam injects the execution context (async checks only).
	ContextParam ParamKind = iota
	// EnvironmentParam injects the current target environment.
	EnvironmentParam
	// DatasourceParam injects a resolved datasource instance.
	DatasourceParam
)

// Param is one parameter binding of a signature plan.
type Param struct {
	Kind        ParamKind
	Type        reflect.Type
	Factory     bool
	FactoryArgs []interface{}
}

func (p Param) String() string {
	switch p.Kind {
	case ContextParam:
		return "context.Context"
	case EnvironmentParam:
		return "*env.Environment"
	default:
		if p.Factory {
			return fmt.Sprintf("%s (from factory, args %v)", p.Type, p.FactoryArgs)
		}
		return p.Type.String()
	}
}

// Plan is the ordered list of parameter bindings computed once at check
// registration. Walking the plan with a target environment yields the
// argument list for one invocation.
type Plan struct {
	Params []Param
}

// BuildPlan inspects the check function's parameter types and binds each one.
// A leading context.Context parameter binds the execution context; parameters
// of type *env.Environment bind the target environment; an entry in
// factoryArgs (keyed by parameter index) binds a factory-produced instance;
// every other type must be directly registered. Unknown types fail the plan.
func (r *Registry) BuildPlan(fn interface{}, factoryArgs map[int][]interface{}) (*Plan, error) {
	fnValue := reflect.ValueOf(fn)
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		return nil, fmt.Errorf("check must be a function, got %T", fn)
	}
	fnType := fnValue.Type()

	r.mu.Lock()
	defer r.mu.Unlock()

	plan := &Plan{}
	for i := 0; i < fnType.NumIn(); i++ {
		paramType := fnType.In(i)

		switch {
		case paramType == contextType:
			if i != 0 {
				return nil, fmt.Errorf("parameter %d: context.Context must be the first parameter", i)
			}
			plan.Params = append(plan.Params, Param{Kind: ContextParam, Type: paramType})

		case paramType == envType:
			plan.Params = append(plan.Params, Param{Kind: EnvironmentParam, Type: paramType})

		default:
			args, fromFactory := factoryArgs[i]
			if fromFactory {
				reg, ok := r.factories[paramType]
				if !ok {
					return nil, fmt.Errorf("parameter %d: no factory registered for type %s", i, paramType)
				}
				if err := checkArgs(reg.construct.Type(), args); err != nil {
					return nil, fmt.Errorf("parameter %d: %w", i, err)
				}
				plan.Params = append(plan.Params, Param{
					Kind:        DatasourceParam,
					Type:        paramType,
					Factory:     true,
					FactoryArgs: args,
				})
				continue
			}

			if _, ok := r.direct[paramType]; !ok {
				return nil, fmt.Errorf("parameter %d: no datasource registered for type %s", i, paramType)
			}
			plan.Params = append(plan.Params, Param{Kind: DatasourceParam, Type: paramType})
		}
	}

	for idx := range factoryArgs {
		if idx < 0 || idx >= fnType.NumIn() {
			return nil, fmt.Errorf("factory annotation for parameter %d is out of range", idx)
		}
		if plan.Params[idx].Kind != DatasourceParam || !plan.Params[idx].Factory {
			return nil, fmt.Errorf("factory annotation for parameter %d does not match a datasource parameter", idx)
		}
	}

	return plan, nil
}

// TakesContext reports whether the plan's first binding is the execution
// context, which is what marks a check as asynchronous.
func (p *Plan) TakesContext() bool {
	return len(p.Params) > 0 && p.Params[0].Kind == ContextParam
}

// Materialize resolves the plan into the concrete argument list for one
// invocation against targetEnv. Datasource instances are constructed on
// first use and memoized.
func (r *Registry) Materialize(plan *Plan, ctx reflect.Value, targetEnv *env.Environment) ([]reflect.Value, error) {
	args := make([]reflect.Value, 0, len(plan.Params))
	for _, p := range plan.Params {
		switch p.Kind {
		case ContextParam:
			args = append(args, ctx)
		case EnvironmentParam:
			args = append(args, reflect.ValueOf(targetEnv))
		case DatasourceParam:
			instance, err := r.resolve(p)
			if err != nil {
				return nil, err
			}
			args = append(args, instance)
		}
	}
	return args, nil
}

// StrategiesFor collects the scheduling strategies declared on every
// datasource and factory the plan depends on.
func (r *Registry) StrategiesFor(plan *Plan) []scheduling.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()

	var strategies []scheduling.Strategy
	for _, p := range plan.Params {
		if p.Kind != DatasourceParam {
			continue
		}
		var reg *Registration
		if p.Factory {
			reg = r.factories[p.Type]
		} else {
			reg = r.direct[p.Type]
		}
		if reg != nil {
			strategies = append(strategies, reg.strategies...)
		}
	}
	return strategies
}
