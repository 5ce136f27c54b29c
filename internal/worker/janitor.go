package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnJanitors starts the cache cleanup and stale job supervisor loops.
// Either loop can be disabled by configuring its interval to zero.
func (w *Worker) spawnJanitors(ctx context.Context) {
	w.wg.Add(1)
	go w.runCacheCleanup(ctx)

	w.wg.Add(1)
	go w.runStaleSupervisor(ctx)
}

// runCacheCleanup periodically evicts cache entries that are both old and
// rarely accessed.
func (w *Worker) runCacheCleanup(ctx context.Context) {
	defer w.wg.Done()

	if w.cleanupInterval <= 0 {
		w.logger.Info("Cache cleanup disabled")
		return
	}

	w.logger.Info("Cache cleanup started",
		slog.Duration("interval", w.cleanupInterval),
		slog.Duration("retention", w.cacheRetention),
		slog.Int("min_access_count", w.cacheMinAccess),
	)

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := w.cache.EvictStale(ctx, w.cacheRetention, w.cacheMinAccess)
			if err != nil {
				w.logger.Error("Cache cleanup failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if removed > 0 {
				w.logger.Info("Evicted stale cache entries",
					slog.Int64("removed", removed),
				)
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runStaleSupervisor periodically fails processing jobs whose worker died or
// whose analysis overran the stale bound. This is the recovery path for jobs
// whose terminal write was lost.
func (w *Worker) runStaleSupervisor(ctx context.Context) {
	defer w.wg.Done()

	if w.supervisorInterval <= 0 {
		w.logger.Info("Stale job supervisor disabled")
		return
	}

	w.logger.Info("Stale job supervisor started",
		slog.Duration("interval", w.supervisorInterval),
		slog.Duration("stale_after", w.staleAfter),
	)

	reason := fmt.Sprintf("Analysis timed out after %s", w.staleAfter)

	ticker := time.NewTicker(w.supervisorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			failed, err := w.store.FailStale(ctx, w.staleAfter, reason)
			if err != nil {
				w.logger.Error("Stale job sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if failed > 0 {
				w.logger.Warn("Failed stale processing jobs",
					slog.Int64("count", failed),
				)
			}
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
