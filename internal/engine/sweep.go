package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/payrecon/internal/domain"
)

// ErrSweepInProgress is returned when a sweep tick overlaps a running pass.
var ErrSweepInProgress = errors.New("sweep already running")

// sweepStates are the stuck states the pull path reconciles. Intents here
// have a provider on the hook but no timely webhook.
var sweepStates = []domain.IntentStatus{
	domain.StatusPendingProvider,
	domain.StatusProcessing,
	domain.StatusWaitingForDeposit,
	domain.StatusPartiallyPaid,
}

// SweepConfig tunes the polling sweep.
type SweepConfig struct {
	// Interval between passes.
	Interval time.Duration
	// MaxAge is how long an intent may sit without progress before it is
	// polled.
	MaxAge time.Duration
	// BatchLimit caps intents per pass.
	BatchLimit int
	// Concurrency bounds parallel provider polls within one pass.
	Concurrency int
	// PollTimeout bounds each PollStatus call.
	PollTimeout time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	return c
}

// Sweeper is the pull reconciliation path: a periodic job that polls
// providers for intents that never received a webhook. Passes are
// single-flight; an overlapping tick is skipped, never queued.
type Sweeper struct {
	cfg     SweepConfig
	engine  *Engine
	running atomic.Bool
}

// NewSweeper builds a sweeper over the engine's stores and adapters.
func NewSweeper(cfg SweepConfig, engine *Engine) *Sweeper {
	return &Sweeper{cfg: cfg.withDefaults(), engine: engine}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
				s.engine.logger.Error("sweep pass failed", "err", err)
			}
		}
	}
}

// RunOnce executes a single sweep pass. The in-progress flag is released on
// every exit path.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		sweepRunsTotal.WithLabelValues("skipped").Inc()
		return ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := s.engine.clock()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := start.Add(-s.cfg.MaxAge)
	stuck, err := s.engine.intents.ListStuck(ctx, sweepStates, cutoff, s.cfg.BatchLimit)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list stuck intents: %w", err)
	}
	if len(stuck) == 0 {
		sweepRunsTotal.WithLabelValues("ok").Inc()
		return nil
	}
	s.engine.logger.Info("sweep pass", "stuck", len(stuck))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, intent := range stuck {
		intent := intent
		g.Go(func() error {
			s.poll(gctx, intent)
			return nil
		})
	}
	_ = g.Wait()
	sweepRunsTotal.WithLabelValues("ok").Inc()
	return nil
}

// poll reconciles one stuck intent. Errors fail open: state is left
// unchanged and the next pass retries.
func (s *Sweeper) poll(ctx context.Context, intent *domain.PaymentIntent) {
	if intent.GatewayPaymentID == "" {
		// Initiation never completed (crash between the claim and the
		// provider call); there is nothing to poll, so park the intent
		// for admin recovery.
		s.engine.moveToError(ctx, intent, "initiation never completed")
		return
	}
	adapter, ok := s.engine.registry.Get(intent.Gateway)
	if !ok {
		s.engine.logger.Error("stuck intent references unknown gateway",
			"session_id", intent.SessionID, "gateway", intent.Gateway)
		return
	}
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()
	ev, err := adapter.PollStatus(pollCtx, intent.GatewayPaymentID)
	if err != nil {
		s.engine.logger.Warn("poll failed, will retry next pass",
			"session_id", intent.SessionID, "gateway", intent.Gateway, "err", err)
		return
	}
	if err := s.engine.Apply(ctx, ev); err != nil {
		s.engine.logger.Error("sweep apply failed", "session_id", intent.SessionID, "err", err)
	}
}
