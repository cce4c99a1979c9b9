package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/City-of-Helsinki/sotepe-efecte-iloq/pkg/errors"
)

// Redis implements Store on top of a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisWithClient wraps an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Ping verifies connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.WrapKV("ping", "", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Get returns the value stored under key, or errors.ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", errors.NewNotFoundError("kv entry", key)
	}
	if err != nil {
		return "", errors.WrapKV("get", key, err)
	}
	return value, nil
}

// Set stores value under key with no expiry.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.WrapKV("set", key, err)
	}
	return nil
}

// SetEx stores value under key with the given time to live.
func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.WrapKV("setex", key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, errors.WrapKV("exists", key, err)
	}
	return n > 0, nil
}

// Del removes the given keys.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.WrapKV("del", keys[0], err)
	}
	return nil
}

// GetSet returns the members of the set stored under key.
func (r *Redis) GetSet(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, errors.WrapKV("smembers", key, err)
	}
	return members, nil
}

// AddSet adds members to the set stored under key.
func (r *Redis) AddSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SAdd(ctx, key, args...).Err(); err != nil {
		return errors.WrapKV("sadd", key, err)
	}
	return nil
}

// Keys returns all keys starting with the given prefix. It uses SCAN rather
// than KEYS so a large keyspace does not block the server.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		found  []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, errors.WrapKV("keys", prefix, err)
		}
		found = append(found, keys...)
		if next == 0 {
			return found, nil
		}
		cursor = next
	}
}
