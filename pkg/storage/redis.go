package storage

import (
	"context"
	"errors"

	redisclient "github.com/angelmondragon/greenhouse/pkg/redis"
)

// RedisTarget stores values under namespaced Redis keys.
type RedisTarget struct {
	client *redisclient.Client
}

func NewRedisTarget(client *redisclient.Client) (*RedisTarget, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisTarget{client: client}, nil
}

func (t *RedisTarget) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := t.client.GetBytes(ctx, t.client.StorageKey(key))
	if redisclient.IsNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (t *RedisTarget) Set(ctx context.Context, key string, value []byte) error {
	return t.client.Set(ctx, t.client.StorageKey(key), value, 0)
}

func (t *RedisTarget) Remove(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.client.StorageKey(key))
}

func (t *RedisTarget) Name() string { return "redis" }
