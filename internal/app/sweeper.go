// Package app hosts the background jobs of an instance: the presence
// reconciliation sweep and the archival prune.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/garloon/meet-and-greet-server/internal/metrics"
)

// Run bound for a single sweep pass; store operations must not stall the
// loop indefinitely.
const sweepTimeout = time.Minute

// OrphanReaper is the store-side half of the reconciliation sweep.
type OrphanReaper interface {
	ReapOrphans(ctx context.Context) (reaped, emptied int, err error)
}

// Sweeper periodically repairs presence state left behind by ungraceful
// disconnects: membership entries whose connection key has expired, and
// membership sets that shrank to empty. Advisory and eventually
// consistent; TTL expiry and disconnect handling remain the primary
// cleanup mechanisms.
type Sweeper struct {
	store    OrphanReaper
	interval time.Duration
	clock    clockwork.Clock
	stopCh   chan struct{}
}

func NewSweeper(store OrphanReaper, interval time.Duration, clock clockwork.Clock) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.sweep(ctx)
		case <-s.stopCh:
			slog.Info("Reconciliation sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("Reconciliation sweeper context cancelled")
			return
		}
	}
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	reaped, emptied, err := s.store.ReapOrphans(sweepCtx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		slog.Error("Reconciliation sweep failed", "reaped", reaped, "error", err)
		return
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	if reaped > 0 || emptied > 0 {
		slog.Info("Reconciliation sweep completed", "stale_members_removed", reaped, "empty_channels_removed", emptied)
	} else {
		slog.Debug("Reconciliation sweep completed, nothing to repair")
	}
}
