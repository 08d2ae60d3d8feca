package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/store"
)

// ChangeFunc receives each detected change.
type ChangeFunc func(store.ChangeEvent)

// Source detects feed changes and reports them through a callback. Two
// implementations exist: a native push subscription and timestamp-windowed
// polling.
type Source interface {
	Start(ctx context.Context, fn ChangeFunc) error
	Stop()
	Active() bool
}

// pushSource consumes the store's native change feed, one watch loop per
// entity kind so a failure in one stream does not block the other.
type pushSource struct {
	store     store.EntityStore
	kinds     []store.EntityKind
	retryBase time.Duration
	retryMax  int
	logger    *zap.Logger

	// onExhausted fires once when every watch loop has died with its
	// retries spent, so the supervisor can fall back to polling.
	onExhausted func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
	dead   atomic.Int32
}

func newPushSource(st store.EntityStore, kinds []store.EntityKind, retryBase time.Duration, retryMax int, onExhausted func(), logger *zap.Logger) *pushSource {
	return &pushSource{
		store:       st,
		kinds:       kinds,
		retryBase:   retryBase,
		retryMax:    retryMax,
		onExhausted: onExhausted,
		logger:      logger,
	}
}

// Start opens a subscription per kind. Any kind failing to subscribe fails
// the whole start synchronously so the caller can choose polling instead.
func (ps *pushSource) Start(ctx context.Context, fn ChangeFunc) error {
	runCtx, cancel := context.WithCancel(ctx)

	subs := make(map[store.EntityKind]<-chan store.ChangeEvent, len(ps.kinds))
	for _, kind := range ps.kinds {
		events, err := ps.store.WatchChanges(runCtx, kind)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribing to %s changes: %w", kind, err)
		}
		subs[kind] = events
	}

	ps.cancel = cancel
	ps.active.Store(true)
	ps.dead.Store(0)

	for kind, events := range subs {
		ps.wg.Add(1)
		go ps.watchLoop(runCtx, kind, events, fn)
	}

	ps.logger.Info("push change source started", zap.Int("streams", len(subs)))
	return nil
}

func (ps *pushSource) watchLoop(ctx context.Context, kind store.EntityKind, events <-chan store.ChangeEvent, fn ChangeFunc) {
	defer ps.wg.Done()

	backoff := NewBackoff(ps.retryBase, ps.retryBase*16, 2.0)

	for {
		for change := range events {
			fn(change)
			backoff.Reset()
		}

		// Channel closed: either we are shutting down or the stream died.
		if ctx.Err() != nil {
			return
		}

		if backoff.Attempts() >= ps.retryMax {
			ps.logger.Error("change stream retries exhausted, giving up on stream",
				zap.String("kind", string(kind)),
				zap.Int("attempts", backoff.Attempts()),
			)
			ps.streamDied()
			return
		}

		wait := backoff.Next()
		ps.logger.Warn("change stream lost, resubscribing",
			zap.String("kind", string(kind)),
			zap.Int("attempt", backoff.Attempts()),
			zap.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		next, err := ps.store.WatchChanges(ctx, kind)
		if err != nil {
			ps.logger.Warn("resubscribe failed",
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			// Loop again with an empty closed channel to hit the retry path.
			closed := make(chan store.ChangeEvent)
			close(closed)
			events = closed
			continue
		}
		events = next
	}
}

func (ps *pushSource) streamDied() {
	if int(ps.dead.Add(1)) == len(ps.kinds) && ps.onExhausted != nil {
		ps.logger.Warn("all push streams exhausted")
		ps.onExhausted()
	}
}

func (ps *pushSource) Stop() {
	if ps.cancel != nil {
		ps.cancel()
	}
	ps.wg.Wait()
	ps.active.Store(false)
}

func (ps *pushSource) Active() bool {
	return ps.active.Load()
}

// pollSource queries each watched kind on a fixed interval for entities in
// the window (cursor, now], processes them in timestamp order, and only
// then advances the cursor. An empty window advances the cursor to now so
// it cannot starve.
type pollSource struct {
	store    store.EntityStore
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cursors map[store.EntityKind]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	active atomic.Bool
}

func newPollSource(st store.EntityStore, interval time.Duration, logger *zap.Logger) *pollSource {
	return &pollSource{
		store:    st,
		interval: interval,
		logger:   logger,
		cursors:  make(map[store.EntityKind]time.Time),
	}
}

func (ps *pollSource) Start(ctx context.Context, fn ChangeFunc) error {
	runCtx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel

	// Cursors start at process time: history is not replayed.
	now := time.Now()
	ps.mu.Lock()
	ps.cursors[store.EntityPost] = now
	ps.cursors[store.EntityVote] = now
	ps.mu.Unlock()

	ps.active.Store(true)
	ps.wg.Add(1)

	go func() {
		defer ps.wg.Done()

		ticker := time.NewTicker(ps.interval)
		defer ticker.Stop()

		ps.logger.Info("poll change source started", zap.Duration("interval", ps.interval))

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				ps.cycle(runCtx, fn)
			}
		}
	}()

	return nil
}

func (ps *pollSource) cycle(ctx context.Context, fn ChangeFunc) {
	until := time.Now()
	total := 0

	total += ps.pollPosts(ctx, until, fn)
	total += ps.pollVotes(ctx, until, fn)

	pollBatchSize.Observe(float64(total))
	ps.logger.Debug("polling cycle completed", zap.Int("changes", total))
}

func (ps *pollSource) pollPosts(ctx context.Context, until time.Time, fn ChangeFunc) int {
	since := ps.Cursor(store.EntityPost)

	posts, err := ps.store.FindPostsSince(ctx, since, until)
	if err != nil {
		// Transient failure: keep the cursor so the window is retried.
		ps.logger.Warn("poll query for posts failed", zap.Error(err))
		return 0
	}

	cursor := until
	for _, post := range posts {
		fn(store.ChangeEvent{
			Entity:     store.EntityPost,
			Op:         store.OpInsert,
			EntityID:   post.ID,
			OccurredAt: post.CreatedAt,
			Post:       post,
		})
		cursor = post.CreatedAt
	}

	ps.setCursor(store.EntityPost, cursor)
	return len(posts)
}

func (ps *pollSource) pollVotes(ctx context.Context, until time.Time, fn ChangeFunc) int {
	since := ps.Cursor(store.EntityVote)

	votes, err := ps.store.FindVotesSince(ctx, since, until)
	if err != nil {
		ps.logger.Warn("poll query for votes failed", zap.Error(err))
		return 0
	}

	cursor := until
	for _, vote := range votes {
		fn(store.ChangeEvent{
			Entity:     store.EntityVote,
			Op:         store.OpInsert,
			EntityID:   vote.ID,
			OccurredAt: vote.CreatedAt,
			Vote:       vote,
		})
		cursor = vote.CreatedAt
	}

	ps.setCursor(store.EntityVote, cursor)
	return len(votes)
}

// Cursor returns the current watermark for a kind.
func (ps *pollSource) Cursor(kind store.EntityKind) time.Time {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.cursors[kind]
}

func (ps *pollSource) setCursor(kind store.EntityKind, t time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.cursors[kind] = t
}

func (ps *pollSource) Stop() {
	if ps.cancel != nil {
		ps.cancel()
	}
	ps.wg.Wait()
	ps.active.Store(false)
}

func (ps *pollSource) Active() bool {
	return ps.active.Load()
}
