package profile

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type localEntry struct {
	snapshot *Snapshot
	expires  time.Time
	lastUsed time.Time
}

// localCache is the bounded in-process layer. Entries expire after a short
// TTL; when the cache is full the least recently used entry is evicted.
type localCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*localEntry
	size    int
	ttl     time.Duration
}

func newLocalCache(size int, ttl time.Duration) *localCache {
	return &localCache{
		entries: make(map[uuid.UUID]*localEntry, size),
		size:    size,
		ttl:     ttl,
	}
}

func (lc *localCache) get(id uuid.UUID) *Snapshot {
	now := time.Now()

	lc.mu.RLock()
	entry, ok := lc.entries[id]
	lc.mu.RUnlock()

	if !ok {
		return nil
	}

	if now.After(entry.expires) {
		lc.mu.Lock()
		// Recheck under the write lock; a concurrent set may have renewed it.
		if cur, ok := lc.entries[id]; ok && now.After(cur.expires) {
			delete(lc.entries, id)
		}
		lc.mu.Unlock()
		return nil
	}

	lc.mu.Lock()
	entry.lastUsed = now
	lc.mu.Unlock()

	return entry.snapshot
}

func (lc *localCache) set(snapshot *Snapshot) {
	now := time.Now()

	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, ok := lc.entries[snapshot.UserID]; !ok && len(lc.entries) >= lc.size {
		lc.evictLocked(now)
	}

	lc.entries[snapshot.UserID] = &localEntry{
		snapshot: snapshot,
		expires:  now.Add(lc.ttl),
		lastUsed: now,
	}
}

func (lc *localCache) delete(id uuid.UUID) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.entries, id)
}

func (lc *localCache) len() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.entries)
}

// evictLocked removes expired entries, or the least recently used entry when
// nothing has expired. Linear scan is fine at this cache size.
func (lc *localCache) evictLocked(now time.Time) {
	var oldestID uuid.UUID
	var oldestUsed time.Time
	found := false

	for id, entry := range lc.entries {
		if now.After(entry.expires) {
			delete(lc.entries, id)
			found = true
			continue
		}
		if !found && (oldestUsed.IsZero() || entry.lastUsed.Before(oldestUsed)) {
			oldestID = id
			oldestUsed = entry.lastUsed
		}
	}

	if !found && !oldestUsed.IsZero() {
		delete(lc.entries, oldestID)
	}
}
