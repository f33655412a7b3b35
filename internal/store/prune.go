package store

import (
	"context"
	"log/slog"
	"time"
)

// StartPruneWorker runs a background goroutine that periodically removes
// input history older than retention.
func StartPruneWorker(ctx context.Context, repo Repository, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("History prune worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				deleted, err := repo.PruneHistory(ctx, retention)
				if err != nil {
					slog.Error("History prune worker failed", "error", err)
					continue
				}
				if deleted > 0 {
					slog.Info("History prune worker removed entries", "count", deleted)
				}
			case <-ctx.Done():
				slog.Info("History prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
