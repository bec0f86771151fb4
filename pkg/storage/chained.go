// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package storage

import (
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/pitkley/watchpost/pkg/util/log"
)

// ChainedStore probes an ordered sequence of stores. Get returns the first
// hit and back-propagates it, best-effort, to the stores before the hit;
// Store and Delete fan out to every store.
type ChainedStore struct {
	stores []Store
}

// NewChainedStore chains the given stores, fastest first.
func NewChainedStore(stores ...Store) *ChainedStore {
	return &ChainedStore{stores: stores}
}

// Get probes the stores in order. A transport error in one store is logged
// and probing continues; the hit, when found, is written back to every
// earlier store so the next read is served by the fastest layer.
func (s *ChainedStore) Get(key string) (*Entry, error) {
	for i, store := range s.stores {
		entry, err := store.Get(key)
		if err != nil {
			log.Warnf("Cache store %d failed reading %q, probing next: %v", i, key, err) //nolint:errcheck
			continue
		}
		if entry == nil {
			continue
		}

		for _, earlier := range s.stores[:i] {
			if err := earlier.Store(key, entry.Value, entry.AddedAt, entry.TTL); err != nil {
				log.Warnf("Back-propagating %q failed: %v", key, err) //nolint:errcheck
			}
		}
		return entry, nil
	}
	return nil, nil
}

// Store writes to every store; failures are collected but do not stop the
// fan-out.
func (s *ChainedStore) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	var errs *multierror.Error
	for _, store := range s.stores {
		errs = multierror.Append(errs, store.Store(key, value, addedAt, ttl))
	}
	return errs.ErrorOrNil()
}

// Delete removes the key from every store.
func (s *ChainedStore) Delete(key string) error {
	var errs *multierror.Error
	for _, store := range s.stores {
		errs = multierror.Append(errs, store.Delete(key))
	}
	return errs.ErrorOrNil()
}
