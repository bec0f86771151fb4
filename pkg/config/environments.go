// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/pitkley/watchpost/pkg/env"
)

// environmentsFile is the on-disk shape of the environment registry.
type environmentsFile struct {
	Environments []environmentEntry `yaml:"environments"`
}

type environmentEntry struct {
	Name     string            `yaml:"name"`
	Hostname string            `yaml:"hostname"`
	Metadata map[string]string `yaml:"metadata"`
}

// LoadEnvironments reads the declarative environment registry from path.
func LoadEnvironments(path string) (*env.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read environments file %s: %w", path, err)
	}
	return ParseEnvironments(raw)
}

// ParseEnvironments decodes the environments document and registers every
// entry. Duplicate or unnamed entries are configuration errors.
func ParseEnvironments(raw []byte) (*env.Registry, error) {
	var doc environmentsFile
	if err := yaml.UnmarshalStrict(raw, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode environments document: %w", err)
	}

	registry := env.NewRegistry()
	for i, entry := range doc.Environments {
		if entry.Name == "" {
			return nil, fmt.Errorf("environment entry %d has no name", i)
		}
		var opts []env.Option
		if entry.Hostname != "" {
			opts = append(opts, env.WithHostname(entry.Hostname))
		}
		if len(entry.Metadata) > 0 {
			opts = append(opts, env.WithMetadata(entry.Metadata))
		}
		if err := registry.Register(env.New(entry.Name, opts...)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
