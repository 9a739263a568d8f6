// Package health implements the Health/Metrics Aggregator (C8): it rolls
// up the mcp_server ready flag, cache round-trip, source registry
// fan-out, and response-time/error-rate performance signals into one
// overall status. Grounded on the teacher's
// internal/business/publishing/health.go HealthMonitor (aggregate
// health of N backends, degrade-not-fail philosophy, thread-safe status
// cache) adapted from "N publishing targets" to "this process's own
// subsystems".
package health

import (
	"context"
	"sync"
	"time"

	"github.com/personalpipeline/personal-pipeline/pkg/cache"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

// Status is the overall aggregate health level (spec.md §4.8).
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Performance captures the p95/error-rate/memory signals the aggregator
// folds into the overall health percentage.
type Performance struct {
	P95ResponseTime time.Duration
	ErrorRate       float64 // 0..1
	MemoryBytes     uint64
	MemoryLimit     uint64
}

// PerformanceSource supplies the current performance snapshot; the
// orchestrator wires this to its request-latency/error tracker.
type PerformanceSource func() Performance

// Report is the full health/metrics aggregation result.
type Report struct {
	Overall      Status
	HealthScore  float64 // 0..100
	ServerReady  bool
	Cache        CacheHealth
	Sources      []source.HealthCheck
	Performance  Performance
	CheckedAt    time.Time
}

// CacheHealth is the C2 cache's self-reported round-trip result.
type CacheHealth struct {
	L1OK bool
	L2OK bool
}

// Aggregator computes Report on demand; a thin, stateless wrapper
// around the registry/cache it was constructed with, following the
// teacher's "status cache is optional, compute-on-demand is always
// correct" fallback path.
type Aggregator struct {
	mu          sync.Mutex
	registry    *registry.Registry
	cache       *cache.Manager
	ready       func() bool
	performance PerformanceSource
}

func New(reg *registry.Registry, mgr *cache.Manager, ready func() bool, perf PerformanceSource) *Aggregator {
	return &Aggregator{registry: reg, cache: mgr, ready: ready, performance: perf}
}

// Check computes the current aggregate health. Never returns an error:
// a failing subsystem is reflected in the Report, not in the call.
func (a *Aggregator) Check(ctx context.Context) Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := Report{CheckedAt: time.Now()}

	if a.ready != nil {
		report.ServerReady = a.ready()
	}

	report.Cache = a.checkCache(ctx)

	if a.registry != nil {
		report.Sources = a.registry.Health(ctx)
	}

	if a.performance != nil {
		report.Performance = a.performance()
	}

	score := a.score(report)
	report.HealthScore = score
	switch {
	case score >= 80:
		report.Overall = StatusHealthy
	case score >= 50:
		report.Overall = StatusDegraded
	default:
		report.Overall = StatusUnhealthy
	}
	return report
}

// checkCache performs a synthetic put/get round-trip through the cache
// manager, whose read is served from L1. L2 is not pinged and its write
// result is not checked: when L2 is enabled, L2OK repeats the L1 result.
func (a *Aggregator) checkCache(ctx context.Context) CacheHealth {
	if a.cache == nil {
		return CacheHealth{L1OK: true, L2OK: true}
	}
	key := "pp:health:roundtrip"
	const probe = "ok"
	_ = a.cache.Set(ctx, key, []byte(probe), cache.ContentHealthCheck)
	v, ok := a.cache.Get(ctx, key, cache.ContentHealthCheck)
	l1OK := ok && string(v) == probe
	_ = a.cache.Invalidate(ctx, key)

	stats := a.cache.Stats()
	l2OK := true
	if enabled, _ := stats["l2_enabled"].(bool); enabled {
		l2OK = l1OK // no separate L2 probe
	}
	return CacheHealth{L1OK: l1OK, L2OK: l2OK}
}

// score weights each subsystem into a single 0..100 health percentage.
// Sources contribute most (registry is the system's core purpose);
// server-ready and cache are binary gates; performance scales linearly.
func (a *Aggregator) score(r Report) float64 {
	total := 0.0
	weight := 0.0

	if r.ServerReady {
		total += 20
	}
	weight += 20

	if r.Cache.L1OK && r.Cache.L2OK {
		total += 15
	}
	weight += 15

	if len(r.Sources) > 0 {
		healthy := 0
		criticalHealthy := false
		for _, s := range r.Sources {
			if s.Status == source.HealthHealthy {
				healthy++
				criticalHealthy = true
			}
		}
		ratio := float64(healthy) / float64(len(r.Sources))
		sourcesScore := ratio * 45
		if ratio < 0.5 && criticalHealthy {
			sourcesScore = 45 * 0.5 // at least one healthy source floors this at "meets minimum"
		}
		total += sourcesScore
		weight += 45
	} else {
		weight += 45
	}

	perfScore := 20.0
	if r.Performance.P95ResponseTime > 2*time.Second {
		perfScore -= 10
	}
	if r.Performance.ErrorRate > 0.1 {
		perfScore -= 10
	}
	if perfScore < 0 {
		perfScore = 0
	}
	total += perfScore
	weight += 20

	if weight == 0 {
		return 0
	}
	return total / weight * 100
}
