// Package file implements a Source Adapter (C4) over a local directory
// tree of runbook/documentation files — the simplest adapter, useful for
// bundled default runbooks and local development. New code; follows the
// same Adapter contract shape as pkg/source/githost.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func init() {
	registry.Register("file", func(name string, cfg map[string]any) (source.Adapter, error) {
		root, _ := cfg["root"].(string)
		return New(name, root), nil
	})
}

type cachedDoc struct {
	content   string
	updatedAt time.Time
}

// Adapter serves Markdown/text files under Root as documents, keyed by
// their path relative to Root.
type Adapter struct {
	name string
	root string

	mu    sync.RWMutex
	index map[string]cachedDoc
}

func New(name, root string) *Adapter {
	return &Adapter{name: name, root: root, index: map[string]cachedDoc{}}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(ctx context.Context) error {
	if a.root == "" {
		return perrors.Config("file adapter requires a root directory")
	}
	if info, err := os.Stat(a.root); err != nil || !info.IsDir() {
		return perrors.Config(fmt.Sprintf("file adapter root %q is not a directory", a.root))
	}
	return a.RefreshIndex(ctx)
}

// RefreshIndex walks Root and rebuilds the in-memory document index.
func (a *Adapter) RefreshIndex(ctx context.Context) error {
	index := map[string]cachedDoc{}
	err := filepath.WalkDir(a.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isDocument(path) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // skip unreadable files rather than failing the whole refresh
		}
		rel, _ := filepath.Rel(a.root, path)
		info, _ := d.Info()
		updated := time.Now()
		if info != nil {
			updated = info.ModTime()
		}
		index[rel] = cachedDoc{content: string(data), updatedAt: updated}
		return nil
	})
	if err != nil {
		return perrors.Wrap(perrors.CodeUnavailable, "failed to walk file adapter root", err)
	}

	a.mu.Lock()
	a.index = index
	a.mu.Unlock()
	return nil
}

func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt", ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}

func (a *Adapter) Search(ctx context.Context, query string, filter source.Filter) ([]source.SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))

	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []source.SearchResult
	for path, doc := range a.index {
		if query != "" && !strings.Contains(strings.ToLower(doc.content), query) && !strings.Contains(strings.ToLower(path), query) {
			continue
		}
		results = append(results, source.SearchResult{
			Document: source.Document{
				ID: path, SourceName: a.name, Title: path, Content: doc.content, UpdatedAt: doc.updatedAt,
			},
			RelevanceScore: score(doc.content, path, query),
			MatchType:      "lexical",
		})
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			break
		}
	}
	return results, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (*source.Document, error) {
	a.mu.RLock()
	doc, ok := a.index[id]
	a.mu.RUnlock()
	if !ok {
		return nil, perrors.NotFound(fmt.Sprintf("document %q not found", id))
	}
	return &source.Document{ID: id, SourceName: a.name, Title: id, Content: doc.content, UpdatedAt: doc.updatedAt}, nil
}

func (a *Adapter) SearchRunbooks(ctx context.Context, query string, filter source.Filter) ([]source.Runbook, error) {
	results, err := a.Search(ctx, query, filter)
	if err != nil {
		return nil, err
	}
	var runbooks []source.Runbook
	for _, r := range results {
		if !strings.HasPrefix(r.Document.ID, "runbooks"+string(filepath.Separator)) {
			continue
		}
		runbooks = append(runbooks, source.Runbook{Document: r.Document})
	}
	return runbooks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) source.HealthCheck {
	start := time.Now()
	_, err := os.Stat(a.root)
	status := source.HealthHealthy
	msg := ""
	if err != nil {
		status = source.HealthDown
		msg = err.Error()
	}
	return source.HealthCheck{SourceName: a.name, Status: status, Message: msg, LastCheck: time.Now(), Latency: time.Since(start)}
}

func (a *Adapter) Metadata(ctx context.Context) source.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return source.Metadata{Name: a.name, Type: "file", DocumentCount: len(a.index)}
}

func (a *Adapter) Cleanup(ctx context.Context) error { return nil }

func score(content, path, query string) float64 {
	if query == "" {
		return 0.1
	}
	count := strings.Count(strings.ToLower(content), query)
	if strings.Contains(strings.ToLower(path), query) {
		count += 3
	}
	s := float64(count) / float64(len(strings.Fields(content))+1)
	if s > 1 {
		s = 1
	}
	return s
}
