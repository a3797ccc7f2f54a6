package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

// runJanitor evicts jobs older than maxAge every interval until ctx ends.
// A non-positive interval or maxAge disables it.
func runJanitor(ctx context.Context, store sheetsim.JobStore, interval, maxAge time.Duration, logger *zap.Logger) {
	if interval <= 0 || maxAge <= 0 {
		logger.Info("job janitor disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.EvictJobs(ctx, maxAge)
			if err != nil {
				logger.Warn("job eviction failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("evicted old jobs", zap.Int("removed", removed), zap.Duration("max_age", maxAge))
			}
		}
	}
}
