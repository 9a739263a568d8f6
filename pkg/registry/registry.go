// Package registry implements the Adapter Registry (C5): a name-keyed
// factory and health-aggregation layer over pkg/source.Adapter
// instances, wrapping every call in a per-adapter circuit breaker and
// retry policy so one unhealthy source degrades gracefully instead of
// stalling the whole pipeline. Grounded on the teacher's
// internal/infrastructure/publishing registry.go FormatRegistry pattern
// (register-by-name, lookup, list) and internal/storage/factory.go's
// backend-selection-by-config factory.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/retry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

// healthCheckDeadline bounds how long healthcheck_all waits for any one
// adapter before reporting it down, so a single wedged adapter can't
// stall the aggregate health report (spec.md §4.5).
const healthCheckDeadline = 5 * time.Second

// Factory builds an Adapter from its configuration section. Concrete
// adapter packages (pkg/source/file, pkg/source/githost, ...) register a
// Factory under their type name at init time via Register.
type Factory func(name string, cfg map[string]any) (source.Adapter, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a Factory available under typeName for config-driven
// adapter construction (e.g. `sources[].kind: "file"`). Intended to be
// called from each adapter package's init().
func Register(typeName string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typeName] = f
}

func lookupFactory(typeName string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[typeName]
	return f, ok
}

// entry bundles one registered adapter with the resilience wrapper
// the pipeline calls through.
type entry struct {
	adapter source.Adapter
	breaker *breaker.Breaker
}

// Registry holds every configured source adapter, reachable by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
	metrics *breaker.Metrics
	retryPolicy *retry.Policy
}

// New builds an empty Registry. metrics may be nil to disable breaker
// metrics (e.g. in unit tests).
func New(logger *slog.Logger, metrics *breaker.Metrics, retryPolicy *retry.Policy) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if retryPolicy == nil {
		p := retry.DefaultPolicy()
		p.ErrorChecker = retry.TaggedErrorChecker{}
		retryPolicy = p
	}
	return &Registry{entries: map[string]*entry{}, logger: logger, metrics: metrics, retryPolicy: retryPolicy}
}

// Build constructs an adapter of typeName via its registered Factory,
// initializes it, and adds it to the registry under name, wrapped in its
// own circuit breaker.
func (r *Registry) Build(ctx context.Context, name, typeName string, cfg map[string]any, bcfg breaker.Config) error {
	f, ok := lookupFactory(typeName)
	if !ok {
		return perrors.Config(fmt.Sprintf("unknown source adapter type %q", typeName))
	}
	adapter, err := f(name, cfg)
	if err != nil {
		return perrors.Wrap(perrors.CodeConfig, "failed to construct adapter", err)
	}
	return r.Add(ctx, adapter, bcfg)
}

// Add initializes adapter and registers it under its own Name().
func (r *Registry) Add(ctx context.Context, adapter source.Adapter, bcfg breaker.Config) error {
	name := adapter.Name()

	if err := adapter.Initialize(ctx); err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, fmt.Sprintf("adapter %q failed to initialize", name), err)
	}

	b, err := breaker.New(name, bcfg, r.logger, r.metrics)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.entries[name] = &entry{adapter: adapter, breaker: b}
	r.mu.Unlock()

	r.logger.Info("source adapter registered", "name", name)
	return nil
}

// get returns the named adapter's entry, or false if not registered.
func (r *Registry) get(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names lists every registered adapter name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Search runs query against the named adapter through its retry +
// circuit-breaker wrapper.
func (r *Registry) Search(ctx context.Context, name, query string, filter source.Filter) ([]source.SearchResult, error) {
	e, ok := r.get(name)
	if !ok {
		return nil, perrors.NotFound(fmt.Sprintf("source %q is not registered", name))
	}

	var results []source.SearchResult
	err := r.call(ctx, e, func(ctx context.Context) error {
		var err error
		results, err = e.adapter.Search(ctx, query, filter)
		return err
	})
	return results, err
}

// SearchRunbooks is Search scoped to runbooks.
func (r *Registry) SearchRunbooks(ctx context.Context, name, query string, filter source.Filter) ([]source.Runbook, error) {
	e, ok := r.get(name)
	if !ok {
		return nil, perrors.NotFound(fmt.Sprintf("source %q is not registered", name))
	}

	var results []source.Runbook
	err := r.call(ctx, e, func(ctx context.Context) error {
		var err error
		results, err = e.adapter.SearchRunbooks(ctx, query, filter)
		return err
	})
	return results, err
}

// Get retrieves a single document by ID from the named adapter.
func (r *Registry) Get(ctx context.Context, name, id string) (*source.Document, error) {
	e, ok := r.get(name)
	if !ok {
		return nil, perrors.NotFound(fmt.Sprintf("source %q is not registered", name))
	}

	var doc *source.Document
	err := r.call(ctx, e, func(ctx context.Context) error {
		var err error
		doc, err = e.adapter.Get(ctx, id)
		return err
	})
	return doc, err
}

// RefreshIndex triggers a refresh on the named adapter.
func (r *Registry) RefreshIndex(ctx context.Context, name string) error {
	e, ok := r.get(name)
	if !ok {
		return perrors.NotFound(fmt.Sprintf("source %q is not registered", name))
	}
	return r.call(ctx, e, func(ctx context.Context) error {
		return e.adapter.RefreshIndex(ctx)
	})
}

// Health returns the aggregate health of every registered adapter,
// fanning out in parallel under a shared deadline so one slow or
// panicking adapter can't delay or crash the rest (spec.md §4.5
// healthcheck_all), never failing the whole call when an individual
// adapter is down (graceful degradation, spec.md C5).
func (r *Registry) Health(ctx context.Context) []source.HealthCheck {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, healthCheckDeadline)
	defer cancel()

	checks := make([]source.HealthCheck, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *entry) {
			defer wg.Done()
			checks[i] = r.safeHealthCheck(ctx, e)
		}(i, e)
	}
	wg.Wait()
	return checks
}

// safeHealthCheck runs one adapter's HealthCheck in its own goroutine so
// a panic there can be recovered instead of taking down the whole
// healthcheck_all call, and reports down-with-message on timeout.
func (r *Registry) safeHealthCheck(ctx context.Context, e *entry) source.HealthCheck {
	name := e.adapter.Name()
	done := make(chan source.HealthCheck, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- source.HealthCheck{
					SourceName: name, Status: source.HealthDown,
					Message: fmt.Sprintf("health check panicked: %v", rec), LastCheck: time.Now(),
				}
			}
		}()
		done <- e.adapter.HealthCheck(ctx)
	}()

	select {
	case hc := <-done:
		return hc
	case <-ctx.Done():
		return source.HealthCheck{
			SourceName: name, Status: source.HealthDown,
			Message: "health check timed out", LastCheck: time.Now(),
		}
	}
}

// Metadata lists every adapter's descriptive metadata (list_sources, C7).
func (r *Registry) Metadata(ctx context.Context) []source.Metadata {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	meta := make([]source.Metadata, 0, len(entries))
	for _, e := range entries {
		meta = append(meta, e.adapter.Metadata(ctx))
	}
	return meta
}

// BreakerState exposes an adapter's circuit breaker state for health
// reporting without leaking the breaker type itself to callers.
func (r *Registry) BreakerState(name string) (breaker.State, bool) {
	e, ok := r.get(name)
	if !ok {
		return breaker.StateClosed, false
	}
	return e.breaker.State(), true
}

// Close cleans up every registered adapter.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := e.adapter.Cleanup(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Registry) call(ctx context.Context, e *entry, op func(ctx context.Context) error) error {
	return e.breaker.Call(ctx, func(ctx context.Context) error {
		policy := *r.retryPolicy
		policy.OperationName = e.adapter.Name()
		return retry.Do(ctx, &policy, op)
	})
}
