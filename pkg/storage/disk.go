// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// diskFormatVersion names the on-disk layout; bumping it invalidates every
// cached entry without a migration.
const diskFormatVersion = "v1"

// DiskStore persists entries as JSON envelopes under a versioned directory.
// Keys are hashed into filenames, writes go through a temp file plus rename
// so readers never observe partial envelopes.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the versioned directory and returns the store.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	dir := filepath.Join(baseDir, diskFormatVersion)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %s", dir)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

// Get reads the envelope for key, (nil, nil) when absent.
func (s *DiskStore) Get(key string) (*Entry, error) {
	raw, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
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

// Store atomically writes the envelope for key.
func (s *DiskStore) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	raw, err := json.Marshal(&Entry{Value: value, AddedAt: addedAt, TTL: ttl})
	if err != nil {
		return errors.Wrapf(err, "encoding cache entry for %q", key)
	}

	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing cache entry for %q", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "closing cache entry for %q", key)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "renaming cache entry for %q", key)
	}
	return nil
}

// Delete removes the envelope for key; deleting an absent key is not an
// error.
func (s *DiskStore) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting cache entry for %q", key)
	}
	return nil
}
