// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "watchpost:cache:" + diskFormatVersion + ":"

// RedisStore persists entries in Redis, which is what lets several watchpost
// instances share one result cache. Redis-side expiry is set to the retention
// horizon; the live/expired decision stays with the cache layer.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore returns a store over an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, timeout: 5 * time.Second}
}

// NewRedisStoreFromAddr dials a single Redis node.
func NewRedisStoreFromAddr(addr string) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
}

// Get reads the envelope for key, (nil, nil) when absent.
func (s *RedisStore) Get(key string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading cache entry for %q", key)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, errors.Wrapf(err, "decoding cache entry for %q", key)
	}
	return &entry, nil
}

// Store writes the envelope for key with the retention horizon as Redis TTL.
func (s *RedisStore) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	raw, err := json.Marshal(&Entry{Value: value, AddedAt: addedAt, TTL: ttl})
	if err != nil {
		return errors.Wrapf(err, "encoding cache entry for %q", key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, redisKeyPrefix+key, raw, retentionFor(ttl)).Err(); err != nil {
		return errors.Wrapf(err, "writing cache entry for %q", key)
	}
	return nil
}

// Delete removes the envelope for key.
func (s *RedisStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return errors.Wrapf(err, "deleting cache entry for %q", key)
	}
	return nil
}
