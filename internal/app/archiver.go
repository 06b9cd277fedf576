package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/garloon/meet-and-greet-server/internal/domain"
)

// Archiver prunes old archived messages on a long period. Delegated to
// the durable storage collaborator; failures are logged, never fatal.
type Archiver struct {
	archive   domain.MessageArchive
	interval  time.Duration
	retention time.Duration
	clock     clockwork.Clock
	stopCh    chan struct{}
}

func NewArchiver(archive domain.MessageArchive, interval, retention time.Duration, clock clockwork.Clock) *Archiver {
	return &Archiver{
		archive:   archive,
		interval:  interval,
		retention: retention,
		clock:     clock,
		stopCh:    make(chan struct{}),
	}
}

func (a *Archiver) Start(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			a.prune(ctx)
		case <-a.stopCh:
			slog.Info("Archiver stopped")
			return
		case <-ctx.Done():
			slog.Info("Archiver context cancelled")
			return
		}
	}
}

func (a *Archiver) Stop() {
	close(a.stopCh)
}

func (a *Archiver) prune(ctx context.Context) {
	cutoff := a.clock.Now().Add(-a.retention)
	removed, err := a.archive.PruneOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Archive prune failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Pruned archived messages", "removed", removed, "cutoff", cutoff)
	}
}
