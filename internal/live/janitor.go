package live

import (
	"context"
	"log/slog"
	"time"
)

const janitorInterval = time.Minute

// Sweeper is anything holding idle per-tab state the janitor reclaims.
type Sweeper interface {
	Sweep(before time.Time) int
}

// idleAger lets a sweeper keep state for its own idle age instead of the
// registry ttl.
type idleAger interface {
	IdleTTL() time.Duration
}

// StartJanitor periodically unmounts components idle longer than ttl and
// lets extra sweepers drop their own stale state. It stops with ctx.
func StartJanitor(ctx context.Context, reg *Registry, ttl time.Duration, extra ...Sweeper) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Live janitor started", "interval", janitorInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepIdle(reg, ttl, extra)
			case <-ctx.Done():
				closed := reg.CloseAll()
				slog.Info("Live janitor shutting down", "reason", ctx.Err(), "closed", closed)
				return
			}
		}
	}()
}

func sweepIdle(reg *Registry, ttl time.Duration, extra []Sweeper) {
	if n := reg.Sweep(ttl); n > 0 {
		slog.Info("Live janitor unmounted idle components", "count", n, "remaining", reg.Len())
	}
	now := reg.clock.Now()
	for _, s := range extra {
		age := ttl
		if a, ok := s.(idleAger); ok && a.IdleTTL() > 0 {
			age = a.IdleTTL()
		}
		if n := s.Sweep(now.Add(-age)); n > 0 {
			slog.Info("Live janitor dropped stale state", "count", n)
		}
	}
}
