// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package storage provides the single-tier key/value stores the result cache
// is layered on. Stores hold opaque blobs with absolute-expiry bookkeeping;
// they may return expired entries, expiry policy lives in the cache layer.
package storage

import "time"

// Entry is the stored envelope: the blob plus when it was added and for how
// long it is considered live.
type Entry struct {
	Value   []byte        `json:"value"`
	AddedAt time.Time     `json:"added_at"`
	TTL     time.Duration `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.AddedAt) > e.TTL
}

// Store is the single-tier contract. Get may return expired entries and
// returns (nil, nil) on absence; transport errors from persistent back-ends
// surface as errors and are degraded to misses by the cache layer.
type Store interface {
	Get(key string) (*Entry, error)
	Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error
	Delete(key string) error
}

// retentionFor is the back-end garbage-collection horizon for an entry: twice
// the TTL, so the cache layer's one-time grace read of an expired entry stays
// serviceable for a full TTL after expiry.
func retentionFor(ttl time.Duration) time.Duration {
	return 2 * ttl
}
