// Package memory implements an in-process hive.StorageBackend, adapted
// same purpose (a dependency-free
// backend for tests and local development), generalized from the
// prior path-templated string store to full CredentialObject
// round-tripping with independent clones per call.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/yujiajie1988/hive"
)

// New returns a hive.StorageBackend backed by a guarded in-memory map.
// Every Save/Load hands back an independent clone, so callers can't mutate
// the backend's authoritative copy by holding onto a returned credential.
func New() hive.StorageBackend {
	return &backend{records: make(map[string]*hive.CredentialObject)}
}

type backend struct {
	mu      sync.RWMutex
	records map[string]*hive.CredentialObject
}

// Writable implements hive.StorageBackend.
func (b *backend) Writable() bool { return true }

// Save implements hive.StorageBackend.
func (b *backend) Save(_ context.Context, c *hive.CredentialObject) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[c.ID] = c.Clone()
	return nil
}

// Load implements hive.StorageBackend.
func (b *backend) Load(_ context.Context, id string) (*hive.CredentialObject, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.records[id]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

// Delete implements hive.StorageBackend.
func (b *backend) Delete(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, existed := b.records[id]
	delete(b.records, id)
	return existed, nil
}

// Exists implements hive.StorageBackend.
func (b *backend) Exists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.records[id]
	return ok, nil
}

// List implements hive.StorageBackend.
func (b *backend) List(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
