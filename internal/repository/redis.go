package repository

import (
	"context"
	"errors"
	"fmt"

	"fieldsync/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore keeps queue keys in Redis under a common prefix.
type RedisKVStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisKVStore(client *redis.Client, prefix string) *RedisKVStore {
	return &RedisKVStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisKVStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return val, true, nil
}

// SetMany issues a single MSET inside MULTI/EXEC.
func (r *RedisKVStore) SetMany(ctx context.Context, values map[string]string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(values) == 0 {
		return nil
	}

	pairs := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, r.key(k), v)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, pairs...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write keys to redis: %w", err)
	}
	return nil
}

func (r *RedisKVStore) Delete(ctx context.Context, keys ...string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func (r *RedisKVStore) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisKVStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
