// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()

	entry, err := store.Get("absent")
	require.NoError(t, err)
	assert.Nil(t, entry, "absent key yields (nil, nil)")

	addedAt := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Store("k", []byte("payload"), addedAt, time.Minute))

	entry, err = store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("payload"), entry.Value)
	assert.True(t, entry.AddedAt.Equal(addedAt))
	assert.Equal(t, time.Minute, entry.TTL)

	// overwrite
	require.NoError(t, store.Store("k", []byte("other"), addedAt.Add(time.Second), time.Minute))
	entry, err = store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("other"), entry.Value)

	require.NoError(t, store.Delete("k"))
	entry, err = store.Get("k")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, store.Delete("k"), "deleting an absent key is not an error")
}

func TestEntryExpired(t *testing.T) {
	now := time.Now()
	entry := &Entry{AddedAt: now, TTL: time.Second}

	assert.False(t, entry.Expired(now))
	assert.False(t, entry.Expired(now.Add(time.Second)))
	assert.True(t, entry.Expired(now.Add(time.Second+time.Nanosecond)))
}

func TestMemoryStore(t *testing.T) {
	testStoreRoundTrip(t, NewMemoryStore())
}

func TestMemoryStoreReturnsExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	addedAt := time.Now().Add(-time.Hour)
	require.NoError(t, store.Store("k", []byte("old"), addedAt, time.Minute))

	entry, err := store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, entry, "stores hand expired entries to the cache layer")
	assert.True(t, entry.Expired(time.Now()))
}

func TestDiskStore(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	testStoreRoundTrip(t, store)
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Store("k", []byte("persisted"), time.Now(), time.Minute))

	reopened, err := NewDiskStore(dir)
	require.NoError(t, err)
	entry, err := reopened.Get("k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("persisted"), entry.Value)
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	testStoreRoundTrip(t, NewRedisStoreFromAddr(srv.Addr()))
}

func TestRedisStoreTransportError(t *testing.T) {
	srv := miniredis.RunT(t)
	store := NewRedisStoreFromAddr(srv.Addr())
	srv.Close()

	_, err := store.Get("k")
	assert.Error(t, err)
	assert.Error(t, store.Store("k", []byte("v"), time.Now(), time.Minute))
}

type failingStore struct {
	err error
}

func (f *failingStore) Get(string) (*Entry, error) { return nil, f.err }
func (f *failingStore) Store(string, []byte, time.Time, time.Duration) error {
	return f.err
}
func (f *failingStore) Delete(string) error { return f.err }

func TestChainedStore(t *testing.T) {
	fast := NewMemoryStore()
	slow := NewMemoryStore()
	chained := NewChainedStore(fast, slow)

	testStoreRoundTrip(t, chained)

	// a write through the chain lands in every constituent store
	addedAt := time.Now()
	require.NoError(t, chained.Store("shared", []byte("v"), addedAt, time.Minute))
	for _, store := range []Store{fast, slow} {
		entry, err := store.Get("shared")
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, []byte("v"), entry.Value)
	}
}

func TestChainedStoreBackPropagation(t *testing.T) {
	fast := NewMemoryStore()
	slow := NewMemoryStore()
	chained := NewChainedStore(fast, slow)

	addedAt := time.Now()
	require.NoError(t, slow.Store("k", []byte("deep"), addedAt, time.Minute))

	entry, err := chained.Get("k")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("deep"), entry.Value)

	promoted, err := fast.Get("k")
	require.NoError(t, err)
	require.NotNil(t, promoted, "hit is back-propagated to earlier stores")
	assert.Equal(t, []byte("deep"), promoted.Value)
}

func TestChainedStoreSkipsFailingLayer(t *testing.T) {
	broken := &failingStore{err: errors.New("transport down")}
	healthy := NewMemoryStore()
	chained := NewChainedStore(broken, healthy)

	require.NoError(t, healthy.Store("k", []byte("v"), time.Now(), time.Minute))

	entry, err := chained.Get("k")
	require.NoError(t, err, "a failing layer does not fail the chained read")
	require.NotNil(t, entry)
	assert.Equal(t, []byte("v"), entry.Value)

	// fan-out write reports the failure but still writes the healthy layer
	err = chained.Store("k2", []byte("v2"), time.Now(), time.Minute)
	assert.Error(t, err)
	persisted, getErr := healthy.Get("k2")
	require.NoError(t, getErr)
	assert.NotNil(t, persisted)
}
