package cache

import (
	"context"
	"log/slog"
	"time"
)

// WarmQuery is one query the Warmer keeps populated. Load produces the
// entry's value when warming finds it missing: the pipeline package
// wires this to its own fan-out and rank stages.
type WarmQuery struct {
	Key         string
	ContentType ContentType
	Load        Loader
}

// QuerySource supplies the current set of queries worth pre-populating;
// the orchestrator builds it from the configured seed list through the
// pipeline's (C6) WarmQueriesFor.
type QuerySource func(ctx context.Context) []WarmQuery

// Warmer periodically runs GetOrLoad for a set of cache entries, loading
// those that are missing or expired; entries still cached are left as
// they are. Adapted from the teacher's pkg/history/cache/warmer.go
// ticker-driven background loop.
type Warmer struct {
	manager *Manager
	source  QuerySource
	logger  *slog.Logger
	stopCh  chan struct{}
}

func NewWarmer(manager *Manager, source QuerySource, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{manager: manager, source: source, logger: logger, stopCh: make(chan struct{})}
}

// Start runs the warming loop until ctx is canceled or Stop is called.
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.warm(ctx)
	for {
		select {
		case <-ticker.C:
			w.warm(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Warmer) Stop() {
	close(w.stopCh)
}

func (w *Warmer) warm(ctx context.Context) {
	start := time.Now()
	queries := w.source(ctx)
	warmed := 0
	for _, q := range queries {
		if _, err := w.manager.GetOrLoad(ctx, q.Key, q.ContentType, q.Load); err != nil {
			w.logger.Warn("cache warm failed for query", "key", q.Key, "error", err)
			continue
		}
		warmed++
	}
	w.logger.Info("cache warming complete", "warmed", warmed, "total", len(queries), "duration", time.Since(start))
}
