// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pitkley/watchpost/pkg/result"
)

func TestExpandByHostname(t *testing.T) {
	in := []result.ExecutionResult{{ServiceName: "Svc", State: result.Unknown}}

	out := ExpandByHostname("h1", "h2", "h3").Apply(nil, nil, in)

	assert.Len(t, out, 3)
	for i, host := range []string{"h1", "h2", "h3"} {
		assert.Equal(t, host, out[i].PiggybackHost)
		assert.Equal(t, "Svc", out[i].ServiceName)
	}
}

func TestExpandByNameSuffix(t *testing.T) {
	in := []result.ExecutionResult{{ServiceName: "Svc", State: result.Unknown}}

	out := ExpandByNameSuffix(" disk", " cpu").Apply(nil, nil, in)

	assert.Len(t, out, 2)
	assert.Equal(t, "Svc disk", out[0].ServiceName)
	assert.Equal(t, "Svc cpu", out[1].ServiceName)
}

func TestHandlersComposeMultiplicatively(t *testing.T) {
	in := []result.ExecutionResult{{ServiceName: "Svc"}}

	out := ExpandByHostname("h1", "h2").Apply(nil, nil, in)
	out = ExpandByNameSuffix(" a", " b", " c").Apply(nil, nil, out)

	assert.Len(t, out, 6)
	assert.Equal(t, "h1", out[0].PiggybackHost)
	assert.Equal(t, "Svc a", out[0].ServiceName)
	assert.Equal(t, "h2", out[3].PiggybackHost)
	assert.Equal(t, "Svc c", out[5].ServiceName)
}
