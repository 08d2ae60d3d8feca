package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/store"
)

// Mode describes which change source is currently driving the pipeline.
type Mode string

const (
	ModeStopped Mode = "stopped"
	ModePush    Mode = "push"
	ModePoll    Mode = "poll"
)

// Options configures the supervisor's sources.
type Options struct {
	PollInterval  time.Duration
	PushRetryBase time.Duration
	PushRetryMax  int

	// OnModeChange runs on every mode transition, outside the supervisor
	// lock. Used for operator alerting.
	OnModeChange func(from, to Mode)
}

// Supervisor owns the change sources and the push-to-poll fallback. It
// prefers the store's native change feed and drops to interval polling
// when the feed cannot be opened, or later when every stream dies with
// its retries spent.
type Supervisor struct {
	store      store.EntityStore
	dispatcher *Dispatcher
	opts       Options
	logger     *zap.Logger

	mu      sync.Mutex
	mode    Mode
	source  Source
	baseCtx context.Context
}

func NewSupervisor(st store.EntityStore, dispatcher *Dispatcher, opts Options, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		store:      st,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
		mode:       ModeStopped,
	}
}

// Start brings the pipeline up. Calling it while running is a logged no-op.
// It returns an error only when neither source can start, in which case the
// pipeline stays stopped.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != ModeStopped {
		s.logger.Warn("pipeline already running", zap.String("mode", string(s.mode)))
		return nil
	}

	s.baseCtx = ctx

	// An unreachable store rules out opening push subscriptions right now;
	// polling keeps retrying its queries until the store comes back.
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("store unreachable, starting in polling mode", zap.Error(err))
		return s.startPollLocked(ctx)
	}

	if err := s.startPushLocked(ctx); err != nil {
		s.logger.Warn("push source unavailable, falling back to polling", zap.Error(err))
		return s.startPollLocked(ctx)
	}
	return nil
}

func (s *Supervisor) startPushLocked(ctx context.Context) error {
	kinds := []store.EntityKind{store.EntityPost, store.EntityVote}
	push := newPushSource(s.store, kinds, s.opts.PushRetryBase, s.opts.PushRetryMax, s.fallBackToPolling, s.logger)

	if err := push.Start(ctx, s.handleChange); err != nil {
		return err
	}

	s.source = push
	s.setModeLocked(ModePush)
	return nil
}

func (s *Supervisor) startPollLocked(ctx context.Context) error {
	poll := newPollSource(s.store, s.opts.PollInterval, s.logger)
	if err := poll.Start(ctx, s.handleChange); err != nil {
		return fmt.Errorf("starting poll source: %w", err)
	}

	s.source = poll
	s.setModeLocked(ModePoll)
	return nil
}

// fallBackToPolling runs when the push source reports all streams dead at
// runtime. Existing connections stay up; only the detection mechanism moves.
func (s *Supervisor) fallBackToPolling() {
	// The push source's watch loops call this; stopping the source joins
	// those goroutines, so it must happen off the calling goroutine.
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.mode != ModePush {
			return
		}

		s.logger.Warn("switching pipeline from push to polling")
		s.source.Stop()
		s.source = nil

		if s.baseCtx.Err() != nil {
			s.setModeLocked(ModeStopped)
			return
		}
		if err := s.startPollLocked(s.baseCtx); err != nil {
			s.setModeLocked(ModeStopped)
			s.logger.Error("poll fallback failed, pipeline stopped", zap.Error(err))
		}
	}()
}

func (s *Supervisor) handleChange(change store.ChangeEvent) {
	ctx := s.baseCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.dispatcher.Dispatch(ctx, change)
}

// Stop shuts the active source down and returns once its goroutines have
// exited. Stopping a stopped pipeline is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		s.source.Stop()
		s.source = nil
	}
	s.setModeLocked(ModeStopped)
}

func (s *Supervisor) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Supervisor) IsActive() bool {
	return s.Mode() != ModeStopped
}

func (s *Supervisor) setModeLocked(m Mode) {
	prev := s.mode
	s.mode = m
	setModeGauge(m)

	if s.opts.OnModeChange != nil && prev != m {
		go s.opts.OnModeChange(prev, m)
	}
}
