// Package profile resolves user identities through a three-layer cache:
// a bounded in-process layer, a shared redis layer, and the identity
// service as source of truth. The TTL asymmetry (short local, long shared)
// keeps the expensive identity calls rare while bounding staleness.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/identity"
)

// ErrNotFound means the user is unknown to the identity service. Callers
// must not treat this as retryable.
var ErrNotFound = errors.New("profile not found")

// Cache is the three-layer profile cache.
type Cache struct {
	local     *localCache
	shared    SharedCache
	origin    identity.Client
	sharedTTL time.Duration
	chunk     int
	counters  *counters
	logger    *zap.Logger

	refreshing sync.Map // uuid.UUID -> struct{}, in-flight background refreshes
}

type Options struct {
	LocalSize     int
	LocalTTL      time.Duration
	SharedTTL     time.Duration
	BatchChunk    int
	LatencyWindow int
}

func NewCache(shared SharedCache, origin identity.Client, opts Options, logger *zap.Logger) *Cache {
	return &Cache{
		local:     newLocalCache(opts.LocalSize, opts.LocalTTL),
		shared:    shared,
		origin:    origin,
		sharedTTL: opts.SharedTTL,
		chunk:     opts.BatchChunk,
		counters:  newCounters(opts.LatencyWindow),
		logger:    logger,
	}
}

// Get resolves a single profile, checking local then shared then origin.
// A shared-layer error degrades to an origin call rather than failing the read.
func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		c.counters.recordLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if snapshot := c.local.get(id); snapshot != nil {
		c.counters.localHit()
		return snapshot, nil
	}
	c.counters.localMiss()

	if snapshot, stale := c.sharedGet(ctx, id); snapshot != nil {
		c.counters.sharedHit()
		c.local.set(snapshot)
		if stale {
			c.refreshAsync(id)
		}
		return snapshot, nil
	}
	c.counters.sharedMiss()

	return c.Refresh(ctx, id)
}

// GetBatch resolves many profiles with at most one origin request per
// still-uncached id, chunked to bound worst-case load.
func (c *Cache) GetBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Snapshot, error) {
	result := make(map[uuid.UUID]*Snapshot, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var uncached []uuid.UUID

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if snapshot := c.local.get(id); snapshot != nil {
			c.counters.localHit()
			result[id] = snapshot
			continue
		}
		c.counters.localMiss()
		uncached = append(uncached, id)
	}

	if len(uncached) == 0 {
		return result, nil
	}

	var missing []uuid.UUID
	for _, id := range uncached {
		if snapshot, stale := c.sharedGet(ctx, id); snapshot != nil {
			c.counters.sharedHit()
			c.local.set(snapshot)
			result[id] = snapshot
			if stale {
				c.refreshAsync(id)
			}
			continue
		}
		c.counters.sharedMiss()
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return result, nil
	}

	for i := 0; i < len(missing); i += c.chunk {
		end := min(i+c.chunk, len(missing))
		chunk := missing[i:end]

		c.counters.origin(int64(len(chunk)))
		users, err := c.origin.GetByIDs(ctx, chunk)
		if err != nil {
			c.logger.Warn("batch origin lookup failed",
				zap.Int("ids", len(chunk)),
				zap.Error(err),
			)
			continue
		}

		for id, user := range users {
			snapshot := c.snapshotFrom(user)
			result[id] = snapshot
			c.storeAll(ctx, snapshot)
		}

		if end < len(missing) {
			// Brief pause between chunks to be gentle on the identity service.
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}
	}

	return result, nil
}

// Refresh bypasses both cache layers, fetches from the identity service and
// writes the result through.
func (c *Cache) Refresh(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	c.counters.origin(1)

	user, err := c.origin.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.logger.Debug("user unknown to identity service", zap.String("userID", id.String()))
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("refreshing profile %s: %w", id, err)
	}

	snapshot := c.snapshotFrom(user)
	c.storeAll(ctx, snapshot)
	return snapshot, nil
}

// Invalidate removes the profile from both cache layers without refetching.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) {
	c.local.delete(id)
	if err := c.shared.Delete(ctx, id); err != nil {
		c.logger.Warn("shared cache invalidation failed",
			zap.String("userID", id.String()),
			zap.Error(err),
		)
	}
}

// WarmUp primes the cache for a set of users, chunked with a small delay so
// a large warmup does not swamp the identity service.
func (c *Cache) WarmUp(ctx context.Context, ids []uuid.UUID) error {
	c.logger.Info("warming up profile cache", zap.Int("users", len(ids)))

	for i := 0; i < len(ids); i += c.chunk {
		end := min(i+c.chunk, len(ids))
		if _, err := c.GetBatch(ctx, ids[i:end]); err != nil {
			return fmt.Errorf("warming up chunk: %w", err)
		}

		if end < len(ids) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
	return nil
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() MetricsSnapshot {
	return c.counters.snapshot()
}

// sharedGet reads the shared layer. A past-expiry snapshot is still returned,
// flagged stale, so reads never block on a synchronous origin call; the caller
// kicks off a background refresh instead.
func (c *Cache) sharedGet(ctx context.Context, id uuid.UUID) (*Snapshot, bool) {
	snapshot, err := c.shared.Get(ctx, id)
	if err != nil {
		// Shared cache trouble is never fatal; fall through to the origin.
		c.logger.Warn("shared cache read failed", zap.String("userID", id.String()), zap.Error(err))
		return nil, false
	}
	if snapshot == nil {
		return nil, false
	}
	return snapshot, snapshot.Expired(time.Now())
}

// refreshAsync refreshes one profile off the request path. At most one
// refresh per id is in flight at a time.
func (c *Cache) refreshAsync(id uuid.UUID) {
	if _, loaded := c.refreshing.LoadOrStore(id, struct{}{}); loaded {
		return
	}
	go func() {
		defer c.refreshing.Delete(id)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, err := c.Refresh(ctx, id); err != nil {
			c.logger.Debug("background profile refresh failed",
				zap.String("userID", id.String()),
				zap.Error(err),
			)
		}
	}()
}

func (c *Cache) storeAll(ctx context.Context, snapshot *Snapshot) {
	c.local.set(snapshot)
	if err := c.shared.Set(ctx, snapshot, c.sharedTTL); err != nil {
		c.logger.Warn("shared cache write failed",
			zap.String("userID", snapshot.UserID.String()),
			zap.Error(err),
		)
	}
}

func (c *Cache) snapshotFrom(user *identity.UserInfo) *Snapshot {
	now := time.Now().UTC()
	return &Snapshot{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Username:    user.Username,
		AvatarURL:   user.AvatarURL,
		IsVerified:  user.IsVerified,
		IsActive:    user.IsActive,
		LastUpdated: now,
		CacheExpiry: now.Add(c.sharedTTL),
	}
}
