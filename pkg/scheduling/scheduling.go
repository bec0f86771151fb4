// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package scheduling decides whether a (check, execution environment, target
// environment) combination should run. Strategies are pure functions of their
// inputs; a check's effective decision is the strictest decision any of its
// strategies returns.
package scheduling

import (
	"fmt"
	"strings"

	"github.com/pitkley/watchpost/pkg/env"
)

// Decision is the outcome of a strategy evaluation. The total order
// Schedule < Skip < DontSchedule makes the strictest decision win under
// aggregation.
type Decision int

const (
	// Schedule runs the check and emits its results.
	Schedule Decision = iota
	// Skip does not run the check but emits cached results when present.
	Skip
	// DontSchedule neither runs the check nor emits anything.
	DontSchedule
)

func (d Decision) String() string {
	switch d {
	case Schedule:
		return "SCHEDULE"
	case Skip:
		return "SKIP"
	case DontSchedule:
		return "DONT_SCHEDULE"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Strategy answers whether a check should run in executionEnv against
// targetEnv. Implementations must be pure and safe for concurrent use.
type Strategy interface {
	Decide(executionEnv, targetEnv *env.Environment) Decision
	fmt.Stringer
}

// Aggregate evaluates every strategy and returns the maximum decision under
// the Schedule < Skip < DontSchedule order. An empty strategy set schedules.
func Aggregate(strategies []Strategy, executionEnv, targetEnv *env.Environment) Decision {
	decision := Schedule
	for _, s := range strategies {
		if d := s.Decide(executionEnv, targetEnv); d > decision {
			decision = d
		}
	}
	return decision
}

type mustRunInExecutionEnv struct {
	allowed []*env.Environment
}

// MustRunInGivenExecutionEnvironment schedules only when the engine runs in
// one of the given environments.
func MustRunInGivenExecutionEnvironment(allowed ...*env.Environment) Strategy {
	return &mustRunInExecutionEnv{allowed: allowed}
}

func (s *mustRunInExecutionEnv) Decide(executionEnv, _ *env.Environment) Decision {
	for _, e := range s.allowed {
		if e.Equal(executionEnv) {
			return Schedule
		}
	}
	return DontSchedule
}

func (s *mustRunInExecutionEnv) String() string {
	return fmt.Sprintf("MustRunInGivenExecutionEnvironment(%s)", envNames(s.allowed))
}

type mustRunAgainstTargetEnv struct {
	allowed []*env.Environment
}

// MustRunAgainstGivenTargetEnvironment schedules only for the given target
// environments.
func MustRunAgainstGivenTargetEnvironment(allowed ...*env.Environment) Strategy {
	return &mustRunAgainstTargetEnv{allowed: allowed}
}

func (s *mustRunAgainstTargetEnv) Decide(_, targetEnv *env.Environment) Decision {
	for _, e := range s.allowed {
		if e.Equal(targetEnv) {
			return Schedule
		}
	}
	return DontSchedule
}

func (s *mustRunAgainstTargetEnv) String() string {
	return fmt.Sprintf("MustRunAgainstGivenTargetEnvironment(%s)", envNames(s.allowed))
}

type mustRunInTargetEnv struct{}

// MustRunInTargetEnvironment schedules only when the engine runs inside the
// environment it is checking.
func MustRunInTargetEnvironment() Strategy {
	return mustRunInTargetEnv{}
}

func (mustRunInTargetEnv) Decide(executionEnv, targetEnv *env.Environment) Decision {
	if executionEnv.Equal(targetEnv) {
		return Schedule
	}
	return DontSchedule
}

func (mustRunInTargetEnv) String() string {
	return "MustRunInTargetEnvironment()"
}

type strategyFunc struct {
	name string
	fn   func(executionEnv, targetEnv *env.Environment) Decision
}

// StrategyFunc adapts a plain function into a Strategy. The name is what
// conflict diagnostics report.
func StrategyFunc(name string, fn func(executionEnv, targetEnv *env.Environment) Decision) Strategy {
	return &strategyFunc{name: name, fn: fn}
}

func (s *strategyFunc) Decide(executionEnv, targetEnv *env.Environment) Decision {
	return s.fn(executionEnv, targetEnv)
}

func (s *strategyFunc) String() string { return s.name }

type detectImpossibleCombination struct{}

// DetectImpossibleCombination never influences runtime decisions; its
// analysis runs at startup through DetectConflicts.
func DetectImpossibleCombination() Strategy {
	return detectImpossibleCombination{}
}

func (detectImpossibleCombination) Decide(_, _ *env.Environment) Decision {
	return Schedule
}

func (detectImpossibleCombination) String() string {
	return "DetectImpossibleCombination()"
}

// ConflictError describes a (check, target environment) pair no execution
// environment can satisfy.
type ConflictError struct {
	CheckID    string
	TargetEnv  string
	Strategies []Strategy
}

func (e *ConflictError) Error() string {
	names := make([]string, 0, len(e.Strategies))
	for _, s := range e.Strategies {
		names = append(names, s.String())
	}
	return fmt.Sprintf(
		"check %q can never be scheduled against target environment %q: no execution environment satisfies [%s]",
		e.CheckID, e.TargetEnv, strings.Join(names, ", "),
	)
}

// DetectConflicts verifies that for every declared target environment at
// least one candidate execution environment yields a decision other than
// DONT_SCHEDULE. It returns one ConflictError per unsatisfiable target
// environment, naming the strategies that vetoed every candidate.
func DetectConflicts(checkID string, strategies []Strategy, targetEnvs, candidateExecutionEnvs []*env.Environment) []error {
	var conflicts []error

	for _, target := range targetEnvs {
		satisfiable := false
		for _, execution := range candidateExecutionEnvs {
			if Aggregate(strategies, execution, target) != DontSchedule {
				satisfiable = true
				break
			}
		}
		if satisfiable {
			continue
		}

		// Name the strategies that reject every candidate for this target.
		var vetoing []Strategy
		for _, s := range strategies {
			rejectsAll := true
			for _, execution := range candidateExecutionEnvs {
				if s.Decide(execution, target) != DontSchedule {
					rejectsAll = false
					break
				}
			}
			if rejectsAll {
				vetoing = append(vetoing, s)
			}
		}
		if len(vetoing) == 0 {
			// No single strategy rejects everything, the conflict is the
			// intersection of several. Report them all.
			vetoing = strategies
		}

		conflicts = append(conflicts, &ConflictError{
			CheckID:    checkID,
			TargetEnv:  target.Name(),
			Strategies: vetoing,
		})
	}

	return conflicts
}

func envNames(envs []*env.Environment) string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Name())
	}
	return strings.Join(names, ", ")
}
