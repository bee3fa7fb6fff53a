// Package cache provides a read-through Redis cache for the Query API,
// built on the go-redis v9 client, and an in-memory fixed-window rate
// limiter.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps go-redis v9 for short-TTL response caching. A nil *Redis is
// valid and treated as disabled, so callers can skip it entirely when
// config.Redis.Enabled is false rather than branching everywhere.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// Dial connects to Redis and verifies connectivity with a Ping.
func Dial(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

func (r *Redis) Close() error {
	if r == nil {
		return nil
	}
	return r.rdb.Close()
}

// GetJSON reads a cached JSON value into dst. Returns ok=false on a cache
// miss, a disabled cache, or any Redis error — callers always fall back to
// the database rather than surfacing a cache failure to clients.
func (r *Redis) GetJSON(ctx context.Context, key string, dst interface{}) bool {
	if r == nil {
		return false
	}
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// SetJSON writes v to the cache with the configured TTL. Errors are
// swallowed: a failed cache write should never fail the request it backs.
func (r *Redis) SetJSON(ctx context.Context, key string, v interface{}) {
	if r == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.rdb.Set(ctx, key, raw, r.ttl)
}
