// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package storage

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process memory. Size is unbounded by the
// contract; the janitor evicts entries once they pass their retention
// horizon, which in practice bounds the store to two TTLs worth of results.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore returns an in-memory store with a background janitor.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Get returns the entry for key, expired or not, or (nil, nil).
func (s *MemoryStore) Get(key string) (*Entry, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return v.(*Entry), nil
}

// Store writes the entry, replacing any previous one for the key.
func (s *MemoryStore) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	s.cache.Set(key, &Entry{Value: value, AddedAt: addedAt, TTL: ttl}, retentionFor(ttl))
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(key string) error {
	s.cache.Delete(key)
	return nil
}
