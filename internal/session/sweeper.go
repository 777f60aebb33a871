package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweeper periodically purges expired session records so long-running hosts
// do not accumulate them.
type Sweeper struct {
	store  *Store
	poll   time.Duration
	logger *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0, it defaults to 1h.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, poll: interval, logger: slog.Default()}
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("session sweep failed", "error", err)
		} else if n > 0 {
			w.logger.Debug("purged expired sessions", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce loads every stored record, which removes the expired ones, and
// returns how many were removed.
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ids, err := w.store.BotIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	purged := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		if w.store.Load(ctx, id) == nil {
			purged++
		}
	}
	return purged, nil
}
