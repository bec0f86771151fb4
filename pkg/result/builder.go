// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package result

import (
	"fmt"
	"strings"
)

// Builder accumulates per-aspect state/message pairs and folds them into a
// single CheckResult. The final state is the severity-maximum over all
// recorded calls; the summary is the ok summary when everything was OK and
// the fail summary otherwise.
type Builder struct {
	okSummary        string
	failSummary      string
	baseDetails      string
	nameSuffix       string
	hostnameOverride string
	metrics          []Metric

	parts []builderPart
}

type builderPart struct {
	state   CheckState
	message string
}

// BuilderOption customizes a Builder at construction time.
type BuilderOption func(*Builder)

// WithBaseDetails prepends a free-form text block to the generated details.
func WithBaseDetails(details string) BuilderOption {
	return func(b *Builder) { b.baseDetails = details }
}

// WithNameSuffix passes a service name suffix through to the result.
func WithNameSuffix(suffix string) BuilderOption {
	return func(b *Builder) { b.nameSuffix = suffix }
}

// WithHostnameOverride passes a hostname override through to the result.
func WithHostnameOverride(hostname string) BuilderOption {
	return func(b *Builder) { b.hostnameOverride = hostname }
}

// NewBuilder returns a Builder that reports okSummary when every recorded
// part is OK and failSummary otherwise.
func NewBuilder(okSummary, failSummary string, opts ...BuilderOption) *Builder {
	b := &Builder{
		okSummary:   okSummary,
		failSummary: failSummary,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OK records a passing aspect.
func (b *Builder) OK(format string, params ...interface{}) *Builder {
	return b.add(OK, format, params...)
}

// Warn records a degraded aspect.
func (b *Builder) Warn(format string, params ...interface{}) *Builder {
	return b.add(Warn, format, params...)
}

// Crit records a failing aspect.
func (b *Builder) Crit(format string, params ...interface{}) *Builder {
	return b.add(Crit, format, params...)
}

// Unknown records an aspect whose state could not be determined.
func (b *Builder) Unknown(format string, params ...interface{}) *Builder {
	return b.add(Unknown, format, params...)
}

// AddMetric attaches a metric to the final result.
func (b *Builder) AddMetric(m Metric) *Builder {
	b.metrics = append(b.metrics, m)
	return b
}

func (b *Builder) add(state CheckState, format string, params ...interface{}) *Builder {
	b.parts = append(b.parts, builderPart{state: state, message: fmt.Sprintf(format, params...)})
	return b
}

// Finalize folds the accumulated parts into a CheckResult. Non-OK messages
// make up the bulleted details list; OK messages are listed only when no
// non-OK message exists.
func (b *Builder) Finalize() CheckResult {
	state := OK
	for _, p := range b.parts {
		state = Worst(state, p.state)
	}

	summary := b.okSummary
	if state != OK {
		summary = b.failSummary
	}

	var bullets []string
	for _, p := range b.parts {
		if p.state != OK {
			bullets = append(bullets, fmt.Sprintf("- %s: %s", p.state, p.message))
		}
	}
	if len(bullets) == 0 {
		for _, p := range b.parts {
			bullets = append(bullets, fmt.Sprintf("- %s: %s", p.state, p.message))
		}
	}

	var details []string
	if b.baseDetails != "" {
		details = append(details, b.baseDetails)
	}
	details = append(details, bullets...)

	return CheckResult{
		State:            state,
		Summary:          summary,
		Details:          strings.Join(details, "\n"),
		NameSuffix:       b.nameSuffix,
		HostnameOverride: b.hostnameOverride,
		Metrics:          b.metrics,
	}
}
