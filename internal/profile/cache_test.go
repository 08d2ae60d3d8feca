package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/identity"
)

type fakeOrigin struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*identity.UserInfo
	calls   int
	byIDReq []uuid.UUID
}

func (f *fakeOrigin) GetByID(ctx context.Context, id uuid.UUID) (*identity.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.byIDReq = append(f.byIDReq, id)
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (f *fakeOrigin) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*identity.UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls += len(ids)
	out := make(map[uuid.UUID]*identity.UserInfo)
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeOrigin) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeShared struct {
	mu       sync.Mutex
	data     map[uuid.UUID]*Snapshot
	failing  bool
	getCalls int
}

func (f *fakeShared) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failing {
		return nil, errors.New("shared cache down")
	}
	return f.data[id], nil
}

func (f *fakeShared) Set(ctx context.Context, snapshot *Snapshot, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("shared cache down")
	}
	f.data[snapshot.UserID] = snapshot
	return nil
}

func (f *fakeShared) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, id)
	return nil
}

func newTestCache(origin *fakeOrigin, shared *fakeShared) *Cache {
	logger, _ := zap.NewDevelopment()
	return NewCache(shared, origin, Options{
		LocalSize:     10,
		LocalTTL:      time.Minute,
		SharedTTL:     time.Hour,
		BatchChunk:    3,
		LatencyWindow: 100,
	}, logger)
}

func seedUser(origin *fakeOrigin) uuid.UUID {
	id := uuid.New()
	origin.users[id] = &identity.UserInfo{
		ID:          id,
		DisplayName: "Seed User",
		Username:    "seed",
		IsActive:    true,
	}
	return id
}

func TestGetCachesAfterFirstMiss(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)
	id := seedUser(origin)

	first, err := cache.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	second, err := cache.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	if origin.callCount() != 1 {
		t.Errorf("expected 1 origin call, got %d", origin.callCount())
	}
	if !first.LastUpdated.Equal(second.LastUpdated) {
		t.Error("repeated Get within TTL must return the same snapshot")
	}

	m := cache.Metrics()
	if m.LocalHits != 1 || m.LocalMisses != 1 {
		t.Errorf("expected 1 local hit and 1 miss, got %d/%d", m.LocalHits, m.LocalMisses)
	}
	if m.OriginCalls != 1 {
		t.Errorf("expected 1 origin call in metrics, got %d", m.OriginCalls)
	}
}

func TestGetFromSharedLayer(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)

	id := uuid.New()
	shared.data[id] = &Snapshot{
		UserID:      id,
		Username:    "fromshared",
		LastUpdated: time.Now(),
		CacheExpiry: time.Now().Add(time.Hour),
	}

	got, err := cache.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "fromshared" {
		t.Errorf("expected shared-layer snapshot, got '%s'", got.Username)
	}
	if origin.callCount() != 0 {
		t.Errorf("expected no origin calls, got %d", origin.callCount())
	}

	// Promoted to the local layer: next read should not touch shared.
	before := shared.getCalls
	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if shared.getCalls != before {
		t.Error("expected local hit without a shared-layer read")
	}
}

func TestGetServesStaleSharedEntryAndRefreshesInBackground(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)
	id := seedUser(origin)

	shared.data[id] = &Snapshot{
		UserID:      id,
		Username:    "stale",
		LastUpdated: time.Now().Add(-2 * time.Hour),
		CacheExpiry: time.Now().Add(-time.Hour),
	}

	// The read returns the stale snapshot immediately, no origin call inline.
	got, err := cache.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Username != "stale" {
		t.Errorf("expected the stale snapshot to be served, got '%s'", got.Username)
	}

	// The refresh happens off the read path and writes through.
	deadline := time.After(time.Second)
	for {
		shared.mu.Lock()
		refreshed := shared.data[id].Username
		shared.mu.Unlock()
		if refreshed == "seed" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("stale read never triggered a background refresh, shared still '%s'", refreshed)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if origin.callCount() != 1 {
		t.Errorf("expected exactly 1 origin call from the background refresh, got %d", origin.callCount())
	}
}

func TestGetDegradesWhenSharedFails(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}, failing: true}
	cache := newTestCache(origin, shared)
	id := seedUser(origin)

	got, err := cache.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get must degrade to origin when shared cache fails: %v", err)
	}
	if got.Username != "seed" {
		t.Errorf("expected origin snapshot, got '%s'", got.Username)
	}
}

func TestGetNotFound(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)

	_, err := cache.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateForcesOriginCall(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)
	id := seedUser(origin)

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	cache.Invalidate(context.Background(), id)

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatalf("Get after Invalidate failed: %v", err)
	}
	if origin.callCount() != 2 {
		t.Errorf("expected exactly 2 origin calls (one per invalidation), got %d", origin.callCount())
	}
}

func TestRefreshBypassesCaches(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)
	id := seedUser(origin)

	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := cache.Refresh(context.Background(), id); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if origin.callCount() != 2 {
		t.Errorf("Refresh must always call the origin, got %d calls", origin.callCount())
	}
}

func TestGetBatchOriginCallsBounded(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)

	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		ids = append(ids, seedUser(origin))
	}

	// Pre-cache two of them locally.
	if _, err := cache.Get(context.Background(), ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(context.Background(), ids[1]); err != nil {
		t.Fatal(err)
	}
	callsBefore := origin.callCount()

	// Include a duplicate id; it must not cost an extra origin call.
	batch := append([]uuid.UUID{}, ids...)
	batch = append(batch, ids[2])

	result, err := cache.GetBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if len(result) != 7 {
		t.Errorf("expected 7 profiles, got %d", len(result))
	}

	originDelta := origin.callCount() - callsBefore
	if originDelta != 5 {
		t.Errorf("expected exactly 5 origin calls for 5 uncached ids, got %d", originDelta)
	}
}

func TestGetBatchAllCached(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)

	id := seedUser(origin)
	if _, err := cache.Get(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	before := origin.callCount()

	result, err := cache.GetBatch(context.Background(), []uuid.UUID{id})
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(result))
	}
	if origin.callCount() != before {
		t.Error("fully cached batch must not call the origin")
	}
}

func TestGetBatchUnknownUsersAbsent(t *testing.T) {
	origin := &fakeOrigin{users: map[uuid.UUID]*identity.UserInfo{}}
	shared := &fakeShared{data: map[uuid.UUID]*Snapshot{}}
	cache := newTestCache(origin, shared)

	known := seedUser(origin)
	unknown := uuid.New()

	result, err := cache.GetBatch(context.Background(), []uuid.UUID{known, unknown})
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if _, ok := result[unknown]; ok {
		t.Error("unknown user must be absent from batch result")
	}
	if _, ok := result[known]; !ok {
		t.Error("known user missing from batch result")
	}
}

func TestLocalCacheEviction(t *testing.T) {
	lc := newLocalCache(2, time.Minute)

	a := &Snapshot{UserID: uuid.New()}
	b := &Snapshot{UserID: uuid.New()}
	c := &Snapshot{UserID: uuid.New()}

	lc.set(a)
	time.Sleep(time.Millisecond)
	lc.set(b)
	time.Sleep(time.Millisecond)
	lc.get(a.UserID) // a is now more recently used than b
	time.Sleep(time.Millisecond)
	lc.set(c)

	if lc.len() != 2 {
		t.Fatalf("expected cache bounded at 2 entries, got %d", lc.len())
	}
	if lc.get(b.UserID) != nil {
		t.Error("expected least recently used entry to be evicted")
	}
	if lc.get(a.UserID) == nil || lc.get(c.UserID) == nil {
		t.Error("expected surviving entries to remain readable")
	}
}

func TestLocalCacheTTL(t *testing.T) {
	lc := newLocalCache(10, 10*time.Millisecond)
	s := &Snapshot{UserID: uuid.New()}
	lc.set(s)

	if lc.get(s.UserID) == nil {
		t.Fatal("expected fresh entry to be readable")
	}
	time.Sleep(20 * time.Millisecond)
	if lc.get(s.UserID) != nil {
		t.Error("expected expired entry to be dropped on read")
	}
}
