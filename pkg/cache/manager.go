package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager orchestrates the L1/L2 tiers behind a single Get/Set/GetOrLoad
// surface, adapted from the teacher's pkg/history/cache.Manager. It adds
// single-flight coalescing (golang.org/x/sync/singleflight), which the
// teacher's cache only gestured at in comments but never implemented.
type Manager struct {
	cfg     *Config
	l1      *l1Tier
	l2      *l2Tier
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group
}

// NewManager builds a Manager from cfg. L2 connection failure degrades
// gracefully to L1-only operation rather than failing construction,
// matching the teacher's "continue without it" behavior.
func NewManager(cfg *Config, logger *slog.Logger, metrics *Metrics) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg, logger: logger, metrics: metrics}

	if cfg.L1Enabled && cfg.Strategy != StrategyDistributedOnly && cfg.Strategy != StrategyDisabled {
		l1, err := newL1Tier(cfg.L1MaxEntries)
		if err != nil {
			return nil, err
		}
		m.l1 = l1
	}

	if cfg.L2Enabled && cfg.Strategy != StrategyL1Only && cfg.Strategy != StrategyDisabled {
		l2, err := newL2Tier(cfg, logger)
		if err != nil {
			logger.Warn("L2 cache unavailable, continuing L1-only", "error", err)
		} else {
			m.l2 = l2
		}
	}

	return m, nil
}

// Get looks up key across the enabled tiers, promoting an L2 hit into L1.
func (m *Manager) Get(ctx context.Context, key string, ct ContentType) ([]byte, bool) {
	start := time.Now()

	if m.l1 != nil {
		if v, ok := m.l1.Get(key); ok {
			m.observe("l1", "get", start)
			m.incHits("l1")
			return v, true
		}
		m.incMisses("l1")
	}

	if m.l2 != nil {
		l2Start := time.Now()
		v, err := m.l2.Get(ctx, key)
		if err == nil {
			m.observe("l2", "get", l2Start)
			m.incHits("l2")
			if m.l1 != nil {
				m.l1.Set(key, v, m.cfg.ttlFor(ct, m.cfg.L1DefaultTTL))
			}
			return v, true
		}
		if err != ErrNotFound {
			m.incErrors("l2")
			m.logger.Warn("L2 cache error", "error", err, "key", key)
		}
		m.incMisses("l2")
	}

	return nil, false
}

// Set stores value in every enabled tier using the content type's TTL.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ct ContentType) error {
	if m.l1 != nil {
		m.l1.Set(key, value, m.cfg.ttlFor(ct, m.cfg.L1DefaultTTL))
	}
	if m.l2 != nil {
		if err := m.l2.Set(ctx, key, value, m.cfg.ttlFor(ct, m.cfg.L2DefaultTTL)); err != nil {
			m.incErrors("l2")
			return err
		}
	}
	return nil
}

// Invalidate removes key from every enabled tier.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	if m.l1 != nil {
		m.l1.Delete(key)
	}
	if m.l2 != nil {
		return m.l2.Delete(ctx, key)
	}
	return nil
}

// InvalidatePattern removes all keys matching pattern from L2 (L1 has no
// pattern index; entries there simply expire on their own TTL).
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if m.l2 != nil {
		return m.l2.DeletePattern(ctx, pattern)
	}
	return nil
}

// Loader produces the value to cache on a miss.
type Loader func(ctx context.Context) ([]byte, error)

// GetOrLoad is the cache-stampede-safe entry point the pipeline (C6)
// calls: on a miss, concurrent callers for the same key share a single
// in-flight load via singleflight instead of all hitting the adapter.
func (m *Manager) GetOrLoad(ctx context.Context, key string, ct ContentType, load Loader) ([]byte, error) {
	if v, ok := m.Get(ctx, key, ct); ok {
		return v, nil
	}

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		if v, ok := m.Get(ctx, key, ct); ok {
			return v, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if setErr := m.Set(ctx, key, loaded, ct); setErr != nil {
			m.logger.Warn("failed to populate cache after load", "error", setErr, "key", key)
		}
		return loaded, nil
	})
	if shared && m.metrics != nil {
		m.metrics.coalesced.Inc()
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Key derives a stable cache key from an arbitrary, JSON-marshalable
// request shape plus a namespace prefix (e.g. "search", "runbook").
func Key(namespace string, req any) string {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("pp:%s:%s", namespace, base64.RawURLEncoding.EncodeToString(sum[:]))
}

// Stats reports point-in-time tier occupancy for the health aggregator (C8).
func (m *Manager) Stats() map[string]any {
	stats := map[string]any{}
	if m.l1 != nil {
		stats["l1_entries"] = m.l1.Len()
	}
	stats["l2_enabled"] = m.l2 != nil
	return stats
}

func (m *Manager) Close() error {
	if m.l2 != nil {
		return m.l2.Close()
	}
	return nil
}

func (m *Manager) observe(tier, op string, start time.Time) {
	if m.metrics != nil {
		m.metrics.latency.WithLabelValues(tier, op).Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) incHits(tier string) {
	if m.metrics != nil {
		m.metrics.hits.WithLabelValues(tier).Inc()
	}
}

func (m *Manager) incMisses(tier string) {
	if m.metrics != nil {
		m.metrics.misses.WithLabelValues(tier).Inc()
	}
}

func (m *Manager) incErrors(tier string) {
	if m.metrics != nil {
		m.metrics.errors.WithLabelValues(tier).Inc()
	}
}
