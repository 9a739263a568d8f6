// Package orchestrator implements the Orchestrator (C9): fail-fast
// startup (config → cache → breakers → factories → adapters → tool
// layer → cache warmers → accept traffic) and graceful shutdown (stop
// accepting → cancel in-flight with a grace period → cleanup registry →
// shut down cache → exit). Grounded on the teacher's cmd/server/main.go
// construct-wire-run ordering and signal-driven graceful shutdown,
// generalized from one HTTP server to this process's adapter/pipeline
// wiring.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/personalpipeline/personal-pipeline/pkg/source/database"
	_ "github.com/personalpipeline/personal-pipeline/pkg/source/file"
	_ "github.com/personalpipeline/personal-pipeline/pkg/source/githost"
	_ "github.com/personalpipeline/personal-pipeline/pkg/source/web"
	_ "github.com/personalpipeline/personal-pipeline/pkg/source/wiki"

	"github.com/personalpipeline/personal-pipeline/internal/config"
	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/cache"
	"github.com/personalpipeline/personal-pipeline/pkg/health"
	"github.com/personalpipeline/personal-pipeline/pkg/pipeline"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
	"github.com/personalpipeline/personal-pipeline/pkg/tools"
)

// runbooksContentType is the cache.Config content-type key the critical
// runbook seed list is configured under (cache.content_types.runbooks).
const runbooksContentType = "runbooks"

// ShutdownGracePeriod bounds how long in-flight work gets to finish
// once shutdown begins before the registry is forcibly cleaned up.
const ShutdownGracePeriod = 10 * time.Second

// Orchestrator wires every component together per spec.md §4.9 and
// tracks readiness for the health aggregator's server-ready gate.
type Orchestrator struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	cacheMgr   *cache.Manager
	sourceReg  *registry.Registry
	pipeline   *pipeline.Pipeline
	tools      *tools.Service
	aggregator *health.Aggregator
	warmer     *cache.Warmer

	ready atomic.Bool
}

// New performs the fail-fast startup sequence. A best-effort policy
// applies only to individual adapter construction (spec.md §4.9); every
// other failure aborts startup.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, feedback tools.FeedbackStore) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	cacheCfg := toCacheConfig(cfg.Cache)
	cacheMetrics := cache.NewMetrics(o.registry, "personalpipeline")
	cacheMgr, err := cache.NewManager(cacheCfg, logger, cacheMetrics)
	if err != nil {
		return nil, err
	}
	o.cacheMgr = cacheMgr

	breakerMetrics := breaker.NewMetrics(o.registry, "personalpipeline")
	o.sourceReg = registry.New(logger, breakerMetrics, nil)

	priorities := map[string]sourcePriority{}
	for _, sc := range cfg.Sources {
		if !sc.Enabled {
			continue
		}
		priorities[sc.Name] = sourcePriority{priority: sc.Priority, kind: sc.Kind}

		typeName := factoryTypeName(sc)
		settings := resolveSettings(sc)
		defaults := breaker.DefaultConfig()
		bcfg := breaker.Config{
			MaxFailures:         cfg.CircuitBreaker.FailureThreshold,
			ResetTimeout:        cfg.CircuitBreaker.RecoveryTimeout,
			FailureThreshold:    float64(cfg.CircuitBreaker.FailureThreshold) / 10,
			TimeWindow:          cfg.CircuitBreaker.MonitoringWindow,
			SlowCallDuration:    cfg.CircuitBreaker.OperationTimeout,
			HalfOpenMaxCalls:    defaults.HalfOpenMaxCalls,
			CloseAfterSuccesses: cfg.CircuitBreaker.SuccessThreshold,
			Enabled:             true,
		}
		if err := o.sourceReg.Build(ctx, sc.Name, typeName, settings, bcfg); err != nil {
			// Best-effort: log and continue so one misconfigured source
			// doesn't prevent the rest of the fleet from starting.
			logger.Error("failed to construct source adapter", "name", sc.Name, "kind", sc.Kind, "error", err)
			continue
		}
	}

	priorityFn := func(name string) (int, string, bool) {
		p, ok := priorities[name]
		return p.priority, p.kind, ok
	}

	o.pipeline = pipeline.New(o.sourceReg, o.cacheMgr, priorityFn, logger, nil)
	if rated, ok := feedback.(successRateStore); ok {
		o.pipeline.WithSuccessRateSource(rated.SuccessRate)
	}
	o.tools = tools.New(o.sourceReg, o.pipeline, feedback, logger)
	o.aggregator = health.New(o.sourceReg, o.cacheMgr, o.ready.Load, nil)

	o.warmer = cache.NewWarmer(o.cacheMgr, o.warmSeedQueries, logger)
	if cfg.Cache.Enabled {
		go o.warmer.Start(ctx, cfg.Cache.Memory.CheckPeriod)
	}

	o.ready.Store(true)
	return o, nil
}

// warmSeedQueries supplies the cache warmer's query list: the critical
// runbook identifiers configured under cache.content_types.runbooks.seed,
// pre-run through the pipeline so a cold-start warm cycle populates the
// exact cache entry a subsequent identical search_runbooks call hits.
func (o *Orchestrator) warmSeedQueries(ctx context.Context) []cache.WarmQuery {
	ct, ok := o.cfg.Cache.ContentTypes[runbooksContentType]
	if !ok || !ct.Warmup || len(ct.Seed) == 0 {
		return nil
	}
	return o.pipeline.WarmQueriesFor(ct.Seed, source.Filter{})
}

type sourcePriority struct {
	priority int
	kind     string
}

// successRateStore is satisfied by internal/feedbackstore.Store; an
// optional capability the pipeline's ranking metadata score uses when
// the configured FeedbackStore supports it.
type successRateStore interface {
	SuccessRate(ctx context.Context, documentID string) (rate float64, ok bool)
}

// factoryTypeName resolves a SourceConfig's declared kind to the
// registered pkg/registry.Factory type name. "git_host" fans out to the
// provider-specific factory ("gitea" or "gitlab") named in Settings.
func factoryTypeName(sc config.SourceConfig) string {
	if sc.Kind == "git_host" {
		if provider, ok := sc.Settings["provider"].(string); ok && provider != "" {
			return provider
		}
		return "gitea"
	}
	return sc.Kind
}

// resolveSettings copies a source's settings and resolves its
// credential_ref into the concrete secret value the adapter factory
// expects under "token", per spec.md §6's TOKEN_ENV convention. No other
// settings key (such as "password") is filled from credential_ref.
func resolveSettings(sc config.SourceConfig) map[string]any {
	settings := map[string]any{}
	for k, v := range sc.Settings {
		settings[k] = v
	}
	if sc.CredentialRef != "" {
		if secret, ok := config.ResolveCredential(sc.CredentialRef); ok {
			settings["token"] = secret
		}
	}
	return settings
}

func toCacheConfig(c config.CacheConfig) *cache.Config {
	cfg := cache.DefaultConfig()
	cfg.L1Enabled = c.Enabled
	cfg.L1MaxEntries = c.Memory.MaxKeys
	cfg.L1DefaultTTL = c.Memory.TTL
	cfg.L2Enabled = c.Distributed.Enabled
	cfg.RedisAddr = c.Distributed.URL
	cfg.L2DefaultTTL = c.Distributed.TTL
	for ct, tt := range c.ContentTypes {
		if cfg.TTLByContentType == nil {
			cfg.TTLByContentType = map[cache.ContentType]time.Duration{}
		}
		cfg.TTLByContentType[cache.ContentType(ct)] = tt.TTL
	}
	switch c.Strategy {
	case config.CacheStrategyMemoryOnly:
		cfg.Strategy = cache.StrategyL1Only
	case config.CacheStrategyDistributedOnly:
		cfg.Strategy = cache.StrategyDistributedOnly
	default:
		cfg.Strategy = cache.StrategyHybrid
	}
	if !c.Enabled {
		cfg.Strategy = cache.StrategyDisabled
	}
	return cfg
}

// Tools exposes the wired tool-layer service to the transport surface.
func (o *Orchestrator) Tools() *tools.Service { return o.tools }

// Health returns the current aggregate health report.
func (o *Orchestrator) Health(ctx context.Context) health.Report { return o.aggregator.Check(ctx) }

// Registerer exposes the Prometheus registry backing every component's
// metrics, for a metrics-scrape endpoint the transport surface may expose.
func (o *Orchestrator) Registerer() *prometheus.Registry { return o.registry }

// Shutdown stops accepting new work, gives in-flight work a grace
// period, then cleans up the registry and cache, per spec.md §4.9.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(ctx, ShutdownGracePeriod)
	defer cancel()

	if o.warmer != nil {
		o.warmer.Stop()
	}

	if err := o.sourceReg.Close(shutdownCtx); err != nil {
		o.logger.Warn("error during source registry cleanup", "error", err)
	}

	if err := o.cacheMgr.Close(); err != nil {
		return perrors.Wrap(perrors.CodeInternal, "failed to close cache manager", err)
	}
	return nil
}

// WaitHealthy polls Health until it reports healthy or deadline elapses,
// used by the `healthcheck` CLI subcommand.
func (o *Orchestrator) WaitHealthy(ctx context.Context, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		report := o.Health(ctx)
		if report.Overall == health.StatusHealthy {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("service did not become healthy within %s (last status: %s)", deadline, report.Overall)
		case <-ticker.C:
		}
	}
}
