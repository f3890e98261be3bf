package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

type sweepFunc func(ctx context.Context) (int64, error)

// janitor periodically removes expired rows and idle in-memory state.
type janitor struct {
	logger *slog.Logger
	names  []string
	sweeps []sweepFunc
}

func (j *janitor) add(name string, fn sweepFunc) {
	j.names = append(j.names, name)
	j.sweeps = append(j.sweeps, fn)
}

func (j *janitor) run(ctx context.Context, clock clockwork.Clock, interval time.Duration) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	for i, fn := range j.sweeps {
		n, err := fn(ctx)
		if err != nil {
			j.logger.WarnContext(ctx, "janitor sweep failed", "target", j.names[i], "error", err)
			continue
		}
		if n > 0 {
			j.logger.DebugContext(ctx, "janitor removed expired entries", "target", j.names[i], "count", n)
		}
	}
}
