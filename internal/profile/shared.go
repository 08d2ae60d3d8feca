package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SharedCache is the out-of-process cache layer shared across instances.
// Errors from this layer are never fatal; callers treat them as misses.
type SharedCache interface {
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	Set(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RedisCache implements SharedCache on a redis instance.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return &RedisCache{rdb: redis.NewClient(opt)}, nil
}

// NewRedisCacheFromClient wraps an existing client, mainly for tests.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.rdb.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.rdb.Close()
}

func (rc *RedisCache) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	payload, err := rc.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decoding cached profile: %w", err)
	}
	return &snapshot, nil
}

func (rc *RedisCache) Set(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := rc.rdb.Set(ctx, cacheKey(snapshot.UserID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := rc.rdb.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func cacheKey(id uuid.UUID) string {
	return "profile:" + id.String()
}
