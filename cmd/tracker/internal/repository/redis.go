package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stock:"

// Compile-time check to ensure RedisStore implements PriceCache
var _ PriceCache = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(symbol string) string { return keyPrefix + symbol }

func unavailable(op, symbol string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrCacheUnavailable, op, symbol, err)
}

func (r *RedisStore) Exists(ctx context.Context, symbol string) (bool, error) {
	n, err := r.client.Exists(ctx, key(symbol)).Result()
	if err != nil {
		return false, unavailable("exists", symbol, err)
	}
	return n > 0, nil
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := r.client.Get(ctx, key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get", symbol, err)
	}

	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached price for %s: %w", symbol, err)
	}
	return price, true, nil
}

// Set stores the price without TTL; eviction happens when the last viewer leaves
func (r *RedisStore) Set(ctx context.Context, symbol string, price float64) error {
	val := strconv.FormatFloat(price, 'f', -1, 64)
	if err := r.client.Set(ctx, key(symbol), val, 0).Err(); err != nil {
		return unavailable("set", symbol, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, symbol string) error {
	if err := r.client.Del(ctx, key(symbol)).Err(); err != nil {
		return unavailable("delete", symbol, err)
	}
	return nil
}

// Purge removes every cached price. Viewer state does not survive a restart,
// so prices left over from a previous process are stale by definition.
func (r *RedisStore) Purge(ctx context.Context) (int, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, unavailable("scan", keyPrefix+"*", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	// Pipelined deletes keep a large keyspace from blocking Redis with one huge DEL
	pipe := r.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("purge", keyPrefix+"*", err)
	}
	return len(keys), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
