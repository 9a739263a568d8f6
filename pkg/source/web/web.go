// Package web implements a Source Adapter (C4) that fetches documents
// over plain HTTP(S) from a curated list of URLs — vendor status pages,
// public runbooks, internal wikis exposed read-only over HTTP. Polite
// pacing via golang.org/x/time/rate mirrors pkg/source/githost's limiter
// use, generalized to any URL rather than one forge's API.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func init() {
	registry.Register("web", func(name string, cfg map[string]any) (source.Adapter, error) {
		c := Config{RateLimitPerSecond: 2, Timeout: 10 * time.Second}
		if urls, ok := cfg["urls"].([]string); ok {
			c.URLs = urls
		}
		if v, ok := cfg["timeout_seconds"].(int); ok && v > 0 {
			c.Timeout = time.Duration(v) * time.Second
		}
		return New(name, c), nil
	})
}

// Config configures one web adapter instance.
type Config struct {
	URLs               []string
	Timeout            time.Duration
	RateLimitPerSecond float64
}

// Adapter serves a curated set of HTTP(S) URLs as documents.
type Adapter struct {
	name    string
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func New(name string, cfg Config) *Adapter {
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		name:    name,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1),
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error {
	if len(a.cfg.URLs) == 0 {
		return perrors.Config("web adapter requires at least one url")
	}
	return nil
}

func (a *Adapter) fetch(ctx context.Context, url string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", perrors.Wrap(perrors.CodeTimeout, "rate limit wait canceled", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", perrors.Wrap(perrors.CodeValidation, "invalid url", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", perrors.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", perrors.Unavailable(fmt.Sprintf("%s returned status %d", url, resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", perrors.Wrap(perrors.CodeInternal, "failed to read response body", err)
	}
	return string(body), nil
}

func (a *Adapter) Search(ctx context.Context, query string, filter source.Filter) ([]source.SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	var results []source.SearchResult

	for _, url := range a.cfg.URLs {
		content, err := a.fetch(ctx, url)
		if err != nil {
			continue // one unreachable page shouldn't fail the whole search
		}
		score := lexicalScore(content, query)
		if query != "" && score == 0 {
			continue
		}
		results = append(results, source.SearchResult{
			Document: source.Document{
				ID: url, SourceName: a.name, Title: url, Content: content, URL: url, UpdatedAt: time.Now(),
			},
			RelevanceScore: score,
			MatchType:      "lexical",
		})
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			break
		}
	}
	return results, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*source.Document, error) {
	content, err := a.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return &source.Document{ID: id, SourceName: a.name, Title: id, Content: content, URL: id, UpdatedAt: time.Now()}, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, query string, filter source.Filter) ([]source.Runbook, error) {
	results, err := a.Search(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	runbooks := make([]source.Runbook, 0, len(results))
	for _, r := range results {
		runbooks = append(runbooks, source.Runbook{Document: r.Document})
	}
	return runbooks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) source.HealthCheck {
	start := time.Now()
	var err error
	if len(a.cfg.URLs) > 0 {
		_, err = a.fetch(ctx, a.cfg.URLs[0])
	}
	status := source.HealthHealthy
	msg := ""
	if err != nil {
		status = source.HealthDegraded
		msg = err.Error()
	}
	return source.HealthCheck{SourceName: a.name, Status: status, Message: msg, LastCheck: time.Now(), Latency: time.Since(start)}
}

// RefreshIndex is a no-op: pages are fetched fresh on every Search/Get.
func (a *Adapter) RefreshIndex(ctx context.Context) error { return nil }

func (a *Adapter) Metadata(ctx context.Context) source.Metadata {
	return source.Metadata{Name: a.name, Type: "web", DocumentCount: len(a.cfg.URLs)}
}

func (a *Adapter) Cleanup(ctx context.Context) error { return nil }

func lexicalScore(content, query string) float64 {
	if query == "" {
		return 0.1
	}
	lower := strings.ToLower(content)
	count := strings.Count(lower, query)
	if count == 0 {
		return 0
	}
	s := float64(count) / float64(len(strings.Fields(content))+1)
	if s > 1 {
		s = 1
	}
	return s
}
