package githost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

type fakeFetcher struct {
	files   map[string]string
	pingErr error
}

func (f *fakeFetcher) fetchFile(ctx context.Context, path string) (string, string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", "", errNotFound
	}
	return content, "https://example.invalid/" + path, nil
}

func (f *fakeFetcher) ping(ctx context.Context) error { return f.pingErr }

var errNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func newTestAdapter(files map[string]string) *Adapter {
	a, _ := New("repo-docs", Config{
		Provider: "gitea", Owner: "team", Repo: "runbooks", Ref: "main",
		Paths:              []string{"runbooks/disk-full.md", "README.md"},
		RateLimitPerSecond: 1000,
	})
	a.fetcher = &fakeFetcher{files: files}
	return a
}

func TestGithostSearchScoresMatchingPaths(t *testing.T) {
	a := newTestAdapter(map[string]string{
		"runbooks/disk-full.md": "Disk full remediation steps.",
		"README.md":             "General repository overview.",
	})

	results, err := a.Search(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "runbooks/disk-full.md", results[0].Document.ID)
}

func TestGithostSearchRunbooksScopesToPrefix(t *testing.T) {
	a := newTestAdapter(map[string]string{
		"runbooks/disk-full.md": "disk full disk full disk",
		"README.md":             "disk mentioned once here too",
	})

	runbooks, err := a.SearchRunbooks(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, runbooks, 1)
	require.Equal(t, "runbooks/disk-full.md", runbooks[0].Document.ID)
}

func TestGithostGetMissingPathReturnsError(t *testing.T) {
	a := newTestAdapter(map[string]string{})
	_, err := a.Get(context.Background(), "missing.md")
	require.Error(t, err)
}

func TestGithostHealthCheckReflectsPingFailure(t *testing.T) {
	a := newTestAdapter(map[string]string{})
	a.fetcher = &fakeFetcher{files: map[string]string{}, pingErr: errNotFound}

	hc := a.HealthCheck(context.Background())
	require.Equal(t, source.HealthDown, hc.Status)
}

func TestNewRejectsMissingOwnerOrRepo(t *testing.T) {
	_, err := New("x", Config{Provider: "gitea"})
	require.Error(t, err)
}
