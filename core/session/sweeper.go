package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/m3rciful/copperxbot/core/logger"
)

// DefaultSweepInterval is how often expired records are purged.
const DefaultSweepInterval = 5 * time.Minute

// StartSweeper purges expired records every interval until ctx is done.
// The returned channel is closed when the worker exits.
func StartSweeper(ctx context.Context, backend Backend, interval time.Duration, now func() time.Time) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if now == nil {
		now = time.Now
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, backend, now())
			}
		}
	}()
	return done
}

func sweepOnce(ctx context.Context, backend Backend, now time.Time) {
	start := time.Now()
	n, err := backend.Sweep(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "session", "sweep.fail",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if n > 0 {
		logger.Info(ctx, "session", "sweep.done",
			slog.String("status", "ok"),
			slog.Int64("swept", n),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
