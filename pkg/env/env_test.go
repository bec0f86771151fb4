// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentEquality(t *testing.T) {
	a := New("prod", WithHostname("prod-host"))
	b := New("prod")
	c := New("staging")

	assert.True(t, a.Equal(b), "equality is by name only")
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestEnvironmentMetadata(t *testing.T) {
	e := New("prod", WithMetadata(map[string]string{"region": "eu-west-1"}))

	v, ok := e.Metadata("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", v)

	_, ok = e.Metadata("missing")
	assert.False(t, ok)

	m := e.MetadataMap()
	m["region"] = "mutated"
	v, _ = e.Metadata("region")
	assert.Equal(t, "eu-west-1", v, "MetadataMap returns a copy")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(New("prod")))
	require.NoError(t, r.Register(New("staging")))

	assert.Error(t, r.Register(New("prod")), "duplicate names are rejected")

	e, ok := r.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "prod", e.Name())

	assert.True(t, r.Contains("staging"))
	assert.False(t, r.Contains("qa"))

	names := []string{}
	for _, e := range r.List() {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"prod", "staging"}, names)
}
