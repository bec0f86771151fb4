// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pitkley/watchpost/pkg/util/log"
)

// MemoizeOption customizes a memoized function.
type MemoizeOption func(*memoizeConfig)

type memoizeConfig struct {
	returnExpired bool
}

// ReturnExpired makes the memoized function accept expired cached values
// instead of recomputing.
func ReturnExpired() MemoizeOption {
	return func(c *memoizeConfig) { c.returnExpired = true }
}

// Memoize wraps fn so that, per distinct argument, it is computed once per
// TTL window. The cache key is keyTemplate formatted against the argument
// (fmt verbs); values round-trip through JSON, so T must marshal cleanly.
func Memoize[A any, T any](c *Cache, keyTemplate string, ttl time.Duration, fn func(A) (T, error), opts ...MemoizeOption) func(A) (T, error) {
	cfg := memoizeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(arg A) (T, error) {
		key := fmt.Sprintf(keyTemplate, arg)

		if entry, ok := c.Get(key, cfg.returnExpired); ok {
			var cached T
			if err := json.Unmarshal(entry.Value, &cached); err == nil {
				return cached, nil
			}
			log.Warnf("Memoized value for %q is not decodable, recomputing", key) //nolint:errcheck
		}

		value, err := fn(arg)
		if err != nil {
			return value, err
		}

		if encoded, err := json.Marshal(value); err == nil {
			c.Store(key, encoded, ttl)
		} else {
			log.Warnf("Memoized value for %q is not encodable, not caching: %v", key, err) //nolint:errcheck
		}
		return value, nil
	}
}
