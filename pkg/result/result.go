// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package result holds the user-facing and engine-internal result types that
// flow out of check executions, together with the severity ordering used to
// aggregate them.
package result

import (
	"fmt"
	"sort"
	"strings"
)

// CheckState is the Checkmk service state. The numeric values are the wire
// values Checkmk expects; severity ordering is a separate total order, see
// Severity.
type CheckState int

// Checkmk wire values.
const (
	OK      CheckState = 0
	Warn    CheckState = 1
	Crit    CheckState = 2
	Unknown CheckState = 3
)

// Severity returns the position of the state in the severity total order
// OK < WARN < UNKNOWN < CRIT. CRIT is strictly worst, UNKNOWN outranks WARN.
func (s CheckState) Severity() int {
	switch s {
	case OK:
		return 0
	case Warn:
		return 1
	case Unknown:
		return 2
	case Crit:
		return 3
	default:
		return 2
	}
}

func (s CheckState) String() string {
	switch s {
	case OK:
		return "OK"
	case Warn:
		return "WARN"
	case Crit:
		return "CRIT"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("CheckState(%d)", int(s))
	}
}

// Worst returns the more severe of the two states under the severity order.
func Worst(a, b CheckState) CheckState {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Thresholds are the warn/crit levels attached to a metric.
type Thresholds struct {
	Warn float64 `json:"warn"`
	Crit float64 `json:"crit"`
}

// Boundaries are the min/max bounds attached to a metric.
type Boundaries struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Metric is a single performance value reported alongside a check result.
type Metric struct {
	Name       string      `json:"name"`
	Value      float64     `json:"value"`
	Levels     *Thresholds `json:"levels,omitempty"`
	Boundaries *Boundaries `json:"boundaries,omitempty"`
	Unit       string      `json:"unit,omitempty"`
}

// CheckResult is what check functions return. Details may be a string, a
// map[string]string rendered as a key/value list, or an error; the engine
// renders it to text during normalization.
type CheckResult struct {
	State            CheckState
	Summary          string
	Details          interface{}
	NameSuffix       string
	HostnameOverride string
	Metrics          []Metric
}

// RenderDetails converts the free-form Details field to the text block that
// ends up in the Checkmk output.
func (r CheckResult) RenderDetails() string {
	switch d := r.Details.(type) {
	case nil:
		return ""
	case string:
		return d
	case error:
		return d.Error()
	case map[string]string:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %s", k, d[k]))
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%v", d)
	}
}

// NoPiggybackHost is the sentinel piggyback host for results that must not be
// attached to any host; the output formatter omits the piggyback framing for
// it.
const NoPiggybackHost = "no-piggyback"

// CheckMeta is the subset of the check descriptor an ExecutionResult keeps a
// reference to. It is an interface so the result package does not depend on
// the check package.
type CheckMeta interface {
	CheckID() string
	CheckServiceName() string
}

// ExecutionResult is the fully resolved, engine-internal form of a result:
// hostname resolved, details rendered, service name finalized.
type ExecutionResult struct {
	PiggybackHost   string            `json:"piggyback_host"`
	ServiceName     string            `json:"service_name"`
	ServiceLabels   map[string]string `json:"service_labels,omitempty"`
	EnvironmentName string            `json:"environment_name"`
	State           CheckState        `json:"state"`
	Summary         string            `json:"summary"`
	Details         string            `json:"details,omitempty"`
	Metrics         []Metric          `json:"metrics,omitempty"`
	ID              string            `json:"check_id"`

	// Check is repopulated by the engine after a cache round-trip, it never
	// crosses a serialization boundary.
	Check CheckMeta `json:"-"`
}
