package repository

import (
	"context"
	"sync"
)

// MemoryKVStore is a process-local KVStore used in tests and as the failover target.
type MemoryKVStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{values: make(map[string]string)}
}

func (r *MemoryKVStore) Get(_ context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *MemoryKVStore) SetMany(_ context.Context, values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

func (r *MemoryKVStore) Delete(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.values, k)
	}
	return nil
}

// Snapshot returns a copy of every stored pair.
func (r *MemoryKVStore) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *MemoryKVStore) Ping(context.Context) error { return nil }

func (r *MemoryKVStore) Close() error { return nil }
