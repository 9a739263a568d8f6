// Package githost implements a Source Adapter (C4) over self-hosted git
// forges: Gitea and GitLab. Rather than a true search-API integration —
// each forge exposes a different, narrow text-search surface — this
// adapter fetches a configured set of document paths out of one
// repository and performs lexical matching locally, which is enough for
// the runbook-and-wiki-page use case (small, curated repos) SPEC_FULL.md
// targets. Grounded on pack repo evalgo-org-eve's forge/gitea.go and
// forge/gitlab.go for client construction and content retrieval.
package githost

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"code.gitea.io/sdk/gitea"
	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func init() {
	registry.Register("gitea", func(name string, cfg map[string]any) (source.Adapter, error) {
		return newFromConfig(name, "gitea", cfg)
	})
	registry.Register("gitlab", func(name string, cfg map[string]any) (source.Adapter, error) {
		return newFromConfig(name, "gitlab", cfg)
	})
}

// Config configures one git-host adapter instance.
type Config struct {
	Provider string // "gitea" or "gitlab"
	BaseURL  string
	Token    string
	Owner    string
	Repo     string
	Ref      string
	// Paths is the curated set of document paths this adapter serves,
	// since neither forge's public API offers a stable full-text search
	// this adapter can rely on across self-hosted versions.
	Paths []string
	// RateLimitPerSecond bounds outbound calls to the forge, per
	// SPEC_FULL.md's "conservative rate budget" note for these adapters.
	RateLimitPerSecond float64
}

func newFromConfig(name, provider string, cfg map[string]any) (source.Adapter, error) {
	c := Config{Provider: provider, Ref: "main", RateLimitPerSecond: 5}
	if v, ok := cfg["base_url"].(string); ok {
		c.BaseURL = v
	}
	if v, ok := cfg["token"].(string); ok {
		c.Token = v
	}
	if v, ok := cfg["owner"].(string); ok {
		c.Owner = v
	}
	if v, ok := cfg["repo"].(string); ok {
		c.Repo = v
	}
	if v, ok := cfg["ref"].(string); ok && v != "" {
		c.Ref = v
	}
	if v, ok := cfg["paths"].([]string); ok {
		c.Paths = v
	}
	return New(name, c)
}

// rawContentFetcher abstracts the two SDKs' content-retrieval calls
// behind one signature so Search/Get share a single code path.
type rawContentFetcher interface {
	fetchFile(ctx context.Context, path string) (content string, webURL string, err error)
	ping(ctx context.Context) error
}

// Adapter implements source.Adapter over a single git-host repository.
type Adapter struct {
	name    string
	cfg     Config
	fetcher rawContentFetcher
	limiter *rate.Limiter
}

// New constructs an adapter for the given provider ("gitea" or "gitlab").
func New(name string, cfg Config) (*Adapter, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, perrors.Config("githost adapter requires owner and repo")
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 5
	}

	a := &Adapter{name: name, cfg: cfg, limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), 1)}
	return a, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error {
	switch a.cfg.Provider {
	case "gitea":
		client, err := gitea.NewClient(a.cfg.BaseURL, gitea.SetToken(a.cfg.Token))
		if err != nil {
			return perrors.Wrap(perrors.CodeConfig, "failed to create gitea client", err)
		}
		a.fetcher = &giteaFetcher{client: client, owner: a.cfg.Owner, repo: a.cfg.Repo, ref: a.cfg.Ref}
	case "gitlab":
		client, err := gitlab.NewClient(a.cfg.Token, gitlab.WithBaseURL(a.cfg.BaseURL))
		if err != nil {
			return perrors.Wrap(perrors.CodeConfig, "failed to create gitlab client", err)
		}
		a.fetcher = &gitlabFetcher{client: client, project: a.cfg.Owner + "/" + a.cfg.Repo, ref: a.cfg.Ref}
	default:
		return perrors.Config(fmt.Sprintf("unsupported git-host provider %q", a.cfg.Provider))
	}
	return a.fetcher.ping(ctx)
}

func (a *Adapter) Search(ctx context.Context, query string, filter source.Filter) ([]source.SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	var results []source.SearchResult

	for _, path := range a.cfg.Paths {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, perrors.Wrap(perrors.CodeTimeout, "rate limit wait canceled", err)
		}

		content, webURL, err := a.fetcher.fetchFile(ctx, path)
		if err != nil {
			continue // one missing/unreadable path shouldn't fail the whole search
		}

		score := lexicalScore(content, query)
		if score == 0 {
			continue
		}

		results = append(results, source.SearchResult{
			Document: source.Document{
				ID:         path,
				SourceName: a.name,
				Title:      path,
				Content:    content,
				URL:        webURL,
				UpdatedAt:  time.Now(),
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
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, perrors.Wrap(perrors.CodeTimeout, "rate limit wait canceled", err)
	}
	content, webURL, err := a.fetcher.fetchFile(ctx, id)
	if err != nil {
		return nil, perrors.Wrap(perrors.CodeNotFound, fmt.Sprintf("file %q not found in %s/%s", id, a.cfg.Owner, a.cfg.Repo), err)
	}
	return &source.Document{
		ID: id, SourceName: a.name, Title: id, Content: content, URL: webURL, UpdatedAt: time.Now(),
	}, nil
}

// SearchRunbooks narrows Search to paths under a "runbooks/" prefix, the
// convention this adapter expects curated operational repos to follow.
func (a *Adapter) SearchRunbooks(ctx context.Context, query string, filter source.Filter) ([]source.Runbook, error) {
	results, err := a.Search(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	var runbooks []source.Runbook
	for _, r := range results {
		if !strings.HasPrefix(r.Document.ID, "runbooks/") {
			continue
		}
		runbooks = append(runbooks, source.Runbook{Document: r.Document})
	}
	return runbooks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) source.HealthCheck {
	start := time.Now()
	err := a.fetcher.ping(ctx)
	status := source.HealthHealthy
	msg := ""
	if err != nil {
		status = source.HealthDown
		msg = err.Error()
	}
	return source.HealthCheck{SourceName: a.name, Status: status, Message: msg, LastCheck: time.Now(), Latency: time.Since(start)}
}

// RefreshIndex is a no-op: this adapter has no local index to refresh,
// it fetches paths on demand.
func (a *Adapter) RefreshIndex(ctx context.Context) error { return nil }

func (a *Adapter) Metadata(ctx context.Context) source.Metadata {
	return source.Metadata{Name: a.name, Type: "githost:" + a.cfg.Provider, DocumentCount: len(a.cfg.Paths)}
}

func (a *Adapter) Cleanup(ctx context.Context) error { return nil }

func lexicalScore(content, query string) float64 {
	if query == "" {
		return 0
	}
	lower := strings.ToLower(content)
	count := strings.Count(lower, query)
	if count == 0 {
		return 0
	}
	score := float64(count) / float64(len(strings.Fields(content))+1)
	if score > 1 {
		score = 1
	}
	return score
}

type giteaFetcher struct {
	client *gitea.Client
	owner  string
	repo   string
	ref    string
}

func (f *giteaFetcher) fetchFile(ctx context.Context, path string) (string, string, error) {
	contents, _, err := f.client.GetContents(f.owner, f.repo, f.ref, path)
	if err != nil {
		return "", "", err
	}
	if contents.Content == nil {
		return "", "", fmt.Errorf("path %q is not a file", path)
	}
	decoded, err := base64.StdEncoding.DecodeString(*contents.Content)
	if err != nil {
		return "", "", err
	}
	return string(decoded), contents.HTMLURL, nil
}

func (f *giteaFetcher) ping(ctx context.Context) error {
	_, _, err := f.client.GetRepo(f.owner, f.repo)
	return err
}

type gitlabFetcher struct {
	client  *gitlab.Client
	project string
	ref     string
}

func (f *gitlabFetcher) fetchFile(ctx context.Context, path string) (string, string, error) {
	file, _, err := f.client.RepositoryFiles.GetFile(f.project, path, &gitlab.GetFileOptions{Ref: gitlab.Ptr(f.ref)})
	if err != nil {
		return "", "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return "", "", err
	}
	webURL := fmt.Sprintf("%s/-/blob/%s/%s", f.project, f.ref, path)
	return string(decoded), webURL, nil
}

func (f *gitlabFetcher) ping(ctx context.Context) error {
	_, _, err := f.client.Projects.GetProject(f.project, nil)
	return err
}
