package storage

import (
	"context"
	"errors"

	"waverchat/internal/redis"
)

// RedisStore is a KV backed by plain redis strings under the client's prefix.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.client.Key(key))
	if errors.Is(err, redis.ErrCacheMiss) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.client.Key(key), value, 0)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.client.Key(key))
}
