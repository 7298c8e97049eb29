package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKVStore writes to primary and falls back to an in-memory store while the
// primary is failing. Writes made during the outage are replayed on recovery.
type FailoverKVStore struct {
	primary  domain.KVStore
	fallback *MemoryKVStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverKVStore(primary domain.KVStore, fallback *MemoryKVStore, logger *zerolog.Logger) *FailoverKVStore {
	return &FailoverKVStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverKVStore) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverKVStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary queue store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

// tryRecover flushes fallback contents into the primary once the recovery window has passed.
func (r *FailoverKVStore) tryRecover(ctx context.Context) bool {
	r.mu.Lock()
	due := r.now().Sub(r.lastCheck) > recoveryInterval
	if due {
		r.lastCheck = r.now()
	}
	r.mu.Unlock()
	if !due {
		return false
	}

	if err := r.primary.Ping(ctx); err != nil {
		return false
	}
	if pending := r.fallback.Snapshot(); len(pending) > 0 {
		if err := r.primary.SetMany(ctx, pending); err != nil {
			r.logger.Warn().Err(err).Msg("Replaying fallback writes to primary failed")
			return false
		}
		keys := make([]string, 0, len(pending))
		for k := range pending {
			keys = append(keys, k)
		}
		_ = r.fallback.Delete(ctx, keys...)
	}
	r.isDown.Store(false)
	r.logger.Info().Msg("Primary queue store recovered")
	return true
}

func (r *FailoverKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if r.isDown.Load() {
		r.tryRecover(ctx)
	}
	if !r.isDown.Load() {
		v, ok, err := r.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverKVStore) SetMany(ctx context.Context, values map[string]string) error {
	if r.isDown.Load() {
		r.tryRecover(ctx)
	}
	if !r.isDown.Load() {
		err := r.primary.SetMany(ctx, values)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetMany(ctx, values)
}

func (r *FailoverKVStore) Delete(ctx context.Context, keys ...string) error {
	// Keep the fallback free of keys the primary no longer has.
	_ = r.fallback.Delete(ctx, keys...)
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, keys...)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverKVStore) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx)
}

func (r *FailoverKVStore) Close() error {
	return r.primary.Close()
}
