// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package handlers provides the built-in error handlers that expand a
// catastrophic check failure into the full set of services the check was
// expected to produce, so alerting stays complete even when the check never
// got to emit anything.
package handlers

import (
	"github.com/pitkley/watchpost/pkg/check"
	"github.com/pitkley/watchpost/pkg/env"
	"github.com/pitkley/watchpost/pkg/result"
)

type expandByHostname struct {
	hosts []string
}

// ExpandByHostname duplicates each input result once per host, setting the
// piggyback host. Handlers compose multiplicatively in declaration order.
func ExpandByHostname(hosts ...string) check.ErrorHandler {
	return &expandByHostname{hosts: hosts}
}

func (h *expandByHostname) Apply(_ *check.Check, _ *env.Environment, results []result.ExecutionResult) []result.ExecutionResult {
	expanded := make([]result.ExecutionResult, 0, len(results)*len(h.hosts))
	for _, r := range results {
		for _, host := range h.hosts {
			dup := r
			dup.PiggybackHost = host
			expanded = append(expanded, dup)
		}
	}
	return expanded
}

type expandByNameSuffix struct {
	suffixes []string
}

// ExpandByNameSuffix duplicates each input result once per suffix, appending
// the suffix to the service name.
func ExpandByNameSuffix(suffixes ...string) check.ErrorHandler {
	return &expandByNameSuffix{suffixes: suffixes}
}

func (h *expandByNameSuffix) Apply(_ *check.Check, _ *env.Environment, results []result.ExecutionResult) []result.ExecutionResult {
	expanded := make([]result.ExecutionResult, 0, len(results)*len(h.suffixes))
	for _, r := range results {
		for _, suffix := range h.suffixes {
			dup := r
			dup.ServiceName = r.ServiceName + suffix
			expanded = append(expanded, dup)
		}
	}
	return expanded
}
