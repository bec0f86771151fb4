// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package cache layers TTL policy over a storage back-end. Its one
// non-obvious behavior is the grace read: an expired entry is handed out
// exactly once after expiry, then deleted, so a freshly restarted or
// temporarily failing check keeps its last known results for one more poll.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pitkley/watchpost/pkg/storage"
	"github.com/pitkley/watchpost/pkg/util/log"
)

const lockShards = 64

// Cache is the TTL policy layer. Storage errors are logged and degrade to
// misses; they never propagate to callers.
type Cache struct {
	store storage.Store
	clock clock.Clock

	// per-key mutex shard serializing the grace read, so exactly one of the
	// concurrent readers of an expired entry observes it
	locks [lockShards]sync.Mutex
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock substitutes the wall clock, used by tests.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// New returns a cache over the given store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return &c.locks[h.Sum32()%lockShards]
}

// Get returns the entry for key. With allowExpired, expired entries are
// returned without side effects. Without it, a live entry is returned as-is
// and an expired entry is returned exactly once: the entry is deleted under
// the per-key lock before it is handed out, so concurrent readers of the
// same expired entry see one hit and the rest see misses.
func (c *Cache) Get(key string, allowExpired bool) (*storage.Entry, bool) {
	if allowExpired {
		entry, err := c.store.Get(key)
		if err != nil {
			log.Warnf("Cache read for %q failed, treating as miss: %v", key, err) //nolint:errcheck
			return nil, false
		}
		if entry == nil {
			return nil, false
		}
		return entry, true
	}

	lock := c.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	entry, err := c.store.Get(key)
	if err != nil {
		log.Warnf("Cache read for %q failed, treating as miss: %v", key, err) //nolint:errcheck
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if !entry.Expired(c.clock.Now()) {
		return entry, true
	}

	// grace read: delete first, then hand the expired entry out once
	if err := c.store.Delete(key); err != nil {
		log.Warnf("Deleting expired cache entry %q failed: %v", key, err) //nolint:errcheck
		return nil, false
	}
	log.Debugf("Returning expired cache entry %q once", key)
	return entry, true
}

// Store writes value under key, stamped with the current time.
func (c *Cache) Store(key string, value []byte, ttl time.Duration) {
	if err := c.store.Store(key, value, c.clock.Now(), ttl); err != nil {
		log.Warnf("Cache write for %q failed: %v", key, err) //nolint:errcheck
	}
}

// Delete evicts the entry for key.
func (c *Cache) Delete(key string) {
	if err := c.store.Delete(key); err != nil {
		log.Warnf("Cache delete for %q failed: %v", key, err) //nolint:errcheck
	}
}
