package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldsync/internal/domain"
	"fieldsync/internal/models"
)

// Store serializes the queue collections onto a KVStore.
type Store struct {
	kv domain.KVStore
}

var _ domain.QueueStore = (*Store)(nil)

func New(kv domain.KVStore) *Store {
	return &Store{kv: kv}
}

// KV exposes the underlying key-value store.
func (s *Store) KV() domain.KVStore { return s.kv }

func (s *Store) ReadActive(ctx context.Context) ([]*models.QueueItem, error) {
	return s.readItems(ctx, models.KeyActiveQueue)
}

func (s *Store) ReadCompleted(ctx context.Context) ([]*models.QueueItem, error) {
	return s.readItems(ctx, models.KeyCompletedQueue)
}

// readItems returns an empty slice when the key is absent and a
// *models.StorageCorruptionError when the value cannot be decoded.
func (s *Store) readItems(ctx context.Context, key string) ([]*models.QueueItem, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || raw == "" {
		return []*models.QueueItem{}, nil
	}

	var items []*models.QueueItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []*models.QueueItem{}, &models.StorageCorruptionError{Key: key, Err: err}
	}

	out := items[:0]
	for _, item := range items {
		if item == nil {
			continue
		}
		if item.IncomingMaterials == nil {
			item.IncomingMaterials = []models.MaterialDetail{}
		}
		if item.OutgoingMaterials == nil {
			item.OutgoingMaterials = []models.MaterialDetail{}
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) WriteActive(ctx context.Context, items []*models.QueueItem) error {
	return s.write(ctx, map[string][]*models.QueueItem{models.KeyActiveQueue: items})
}

func (s *Store) WriteCompleted(ctx context.Context, items []*models.QueueItem) error {
	return s.write(ctx, map[string][]*models.QueueItem{models.KeyCompletedQueue: items})
}

// WriteCollections replaces both collections in one atomic write.
func (s *Store) WriteCollections(ctx context.Context, active, completed []*models.QueueItem) error {
	return s.write(ctx, map[string][]*models.QueueItem{
		models.KeyActiveQueue:    active,
		models.KeyCompletedQueue: completed,
	})
}

func (s *Store) write(ctx context.Context, collections map[string][]*models.QueueItem) error {
	values := make(map[string]string, len(collections))
	for key, items := range collections {
		if items == nil {
			items = []*models.QueueItem{}
		}
		data, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		values[key] = string(data)
	}
	if err := s.kv.SetMany(ctx, values); err != nil {
		return fmt.Errorf("write queue collections: %w", err)
	}
	return nil
}

// LastBatchAttempt returns the zero time when no batch has run yet.
func (s *Store) LastBatchAttempt(ctx context.Context) (time.Time, error) {
	raw, ok, err := s.kv.Get(ctx, models.KeyLastBatchAttempt)
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", models.KeyLastBatchAttempt, err)
	}
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, &models.StorageCorruptionError{Key: models.KeyLastBatchAttempt, Err: err}
	}
	return t, nil
}

func (s *Store) SetLastBatchAttempt(ctx context.Context, t time.Time) error {
	err := s.kv.SetMany(ctx, map[string]string{
		models.KeyLastBatchAttempt: t.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", models.KeyLastBatchAttempt, err)
	}
	return nil
}
