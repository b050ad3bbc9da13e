package chat

import (
	"context"
	"log/slog"
	"time"
)

type Reaper struct {
	Store       *Store
	IdleTimeout time.Duration
	Interval    time.Duration
	Logger      *slog.Logger
}

// Run reaps idle sessions every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	r.ensureDefaults()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reaped := r.RunOnce()
			if len(reaped) > 0 && r.Logger != nil {
				r.Logger.InfoContext(ctx, "reaped idle sessions", slog.Int("count", len(reaped)), slog.Any("session_ids", reaped))
			}
		}
	}
}

func (r *Reaper) RunOnce() []string {
	r.ensureDefaults()
	return r.Store.ReapIdle(r.IdleTimeout)
}

func (r *Reaper) ensureDefaults() {
	if r.IdleTimeout <= 0 {
		r.IdleTimeout = 30 * time.Minute
	}
	if r.Interval <= 0 {
		r.Interval = time.Minute
	}
}
