// Package wiki implements a Source Adapter (C4) over space-and-page wiki
// systems (Confluence-shaped REST APIs being the common case). No example
// repo in the retrieval pack ships a wiki-specific client, so this
// adapter is built directly on net/http, following the request/response
// shape of pkg/source/web and the auth-header pattern of
// pkg/source/githost's forge clients. It authenticates via bearer,
// basic, or API-key credentials, paginates through spaces, and honors a
// server Retry-After header on 429s.
package wiki

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func init() {
	registry.Register("wiki", func(name string, cfg map[string]any) (source.Adapter, error) {
		c := Config{PageSize: 25, Timeout: 15 * time.Second}
		if v, ok := cfg["base_url"].(string); ok {
			c.BaseURL = v
		}
		if v, ok := cfg["auth_type"].(string); ok {
			c.AuthType = AuthType(v)
		}
		if v, ok := cfg["token"].(string); ok {
			c.Token = v
		}
		if v, ok := cfg["username"].(string); ok {
			c.Username = v
		}
		if v, ok := cfg["password"].(string); ok {
			c.Password = v
		}
		if v, ok := cfg["space_keys"].([]string); ok {
			c.SpaceKeys = v
		}
		return New(name, c), nil
	})
}

// AuthType selects how requests to the wiki API are authenticated.
type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// Config configures one wiki adapter instance.
type Config struct {
	BaseURL   string
	AuthType  AuthType
	Token     string // bearer token or API key
	Username  string // basic auth
	Password  string // basic auth
	SpaceKeys []string
	PageSize  int
	Timeout   time.Duration
}

// page mirrors the minimal shape of a Confluence-style content-search
// response: enough to walk pages and paginate.
type page struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type searchResponse struct {
	Results []page `json:"results"`
	Start   int    `json:"start"`
	Limit   int    `json:"limit"`
	Size    int    `json:"size"`
}

// Adapter serves wiki pages across one or more configured spaces.
type Adapter struct {
	name   string
	cfg    Config
	client *http.Client
}

func New(name string, cfg Config) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Adapter{name: name, cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.cfg.BaseURL == "" {
		return perrors.Config("wiki adapter requires a base_url")
	}
	return nil
}

func (a *Adapter) authorize(req *http.Request) {
	switch a.cfg.AuthType {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	case AuthBasic:
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	case AuthAPIKey:
		req.Header.Set("X-Api-Key", a.cfg.Token)
	}
}

// doRequest issues one GET, retrying once after the server's Retry-After
// window on a 429 response.
func (a *Adapter) doRequest(ctx context.Context, url string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, perrors.Wrap(perrors.CodeValidation, "invalid wiki request url", err)
		}
		req.Header.Set("Accept", "application/json")
		a.authorize(req)

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, perrors.Classify(err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil, perrors.Timeout("wiki request canceled while waiting on retry-after")
			}
		}

		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, perrors.Unavailable(fmt.Sprintf("wiki api returned status %d for %s", resp.StatusCode, url))
		}
		return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	}
	return nil, perrors.RateLimited("wiki api rate limit exceeded after retry-after wait")
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

// listSpacePages paginates through one space's content listing, adding
// a non-empty query to the request as a title parameter, and stops once
// limit pages are collected (limit <= 0 means no limit). Search applies
// its own local match on top for a non-empty query.
func (a *Adapter) listSpacePages(ctx context.Context, spaceKey, query string, limit int) ([]page, error) {
	var all []page
	start := 0
	for {
		url := fmt.Sprintf("%s/rest/api/content?spaceKey=%s&expand=body.storage&start=%d&limit=%d",
			strings.TrimRight(a.cfg.BaseURL, "/"), spaceKey, start, a.cfg.PageSize)
		if query != "" {
			url += "&title=" + query
		}

		body, err := a.doRequest(ctx, url)
		if err != nil {
			return all, err
		}
		var resp searchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return all, perrors.Wrap(perrors.CodeInternal, "failed to decode wiki search response", err)
		}
		all = append(all, resp.Results...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if len(resp.Results) < a.cfg.PageSize {
			return all, nil
		}
		start += a.cfg.PageSize
	}
}

func (a *Adapter) Search(ctx context.Context, query string, filter source.Filter) ([]source.SearchResult, error) {
	var results []source.SearchResult
	spaces := a.cfg.SpaceKeys
	if len(spaces) == 0 {
		spaces = []string{""}
	}

	for _, space := range spaces {
		pages, err := a.listSpacePages(ctx, space, query, filter.MaxResults)
		if err != nil {
			continue // one unreachable space shouldn't fail the whole search
		}
		for _, p := range pages {
			content := p.Body.Storage.Value
			if query != "" && !strings.Contains(strings.ToLower(content), strings.ToLower(query)) &&
				!strings.Contains(strings.ToLower(p.Title), strings.ToLower(query)) {
				continue
			}
			results = append(results, source.SearchResult{
				Document: source.Document{
					ID: p.ID, SourceName: a.name, Title: p.Title, Content: content,
					URL: strings.TrimRight(a.cfg.BaseURL, "/") + p.Links.WebUI, UpdatedAt: time.Now(),
				},
				RelevanceScore: 1,
				MatchType:      "lexical",
			})
		}
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			return results[:filter.MaxResults], nil
		}
	}
	return results, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*source.Document, error) {
	url := fmt.Sprintf("%s/rest/api/content/%s?expand=body.storage", strings.TrimRight(a.cfg.BaseURL, "/"), id)
	body, err := a.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, perrors.Wrap(perrors.CodeInternal, "failed to decode wiki page", err)
	}
	return &source.Document{
		ID: p.ID, SourceName: a.name, Title: p.Title, Content: p.Body.Storage.Value,
		URL: strings.TrimRight(a.cfg.BaseURL, "/") + p.Links.WebUI, UpdatedAt: time.Now(),
	}, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, query string, filter source.Filter) ([]source.Runbook, error) {
	results, err := a.Search(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	runbooks := make([]source.Runbook, 0, len(results))
	for _, r := range results {
		if !strings.Contains(strings.ToLower(r.Document.Title), "runbook") {
			continue
		}
		runbooks = append(runbooks, source.Runbook{Document: r.Document})
	}
	return runbooks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) source.HealthCheck {
	start := time.Now()
	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/rest/api/space?limit=1"
	_, err := a.doRequest(ctx, url)
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
	return source.Metadata{Name: a.name, Type: "wiki", DocumentCount: 0}
}

func (a *Adapter) Cleanup(ctx context.Context) error { return nil }

// basicAuthHeader builds a Basic Authorization header value. Nothing in
// this package calls it; authorize uses SetBasicAuth instead.
func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
