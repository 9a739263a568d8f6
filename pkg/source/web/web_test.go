package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebAdapterSearchMatchesContent(t *testing.T) {
	srv := newTestServer(t, "Disk full remediation steps go here.")
	a := New("status-page", Config{URLs: []string{srv.URL}, RateLimitPerSecond: 1000})
	require.NoError(t, a.Initialize(context.Background()))

	results, err := a.Search(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, srv.URL, results[0].Document.ID)
}

func TestWebAdapterGetReturnsBody(t *testing.T) {
	srv := newTestServer(t, "hello world")
	a := New("status-page", Config{URLs: []string{srv.URL}, RateLimitPerSecond: 1000})

	doc, err := a.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "hello world", doc.Content)
}

func TestWebAdapterInitializeRequiresURLs(t *testing.T) {
	a := New("status-page", Config{})
	require.Error(t, a.Initialize(context.Background()))
}

func TestWebAdapterHealthCheckDetectsFailure(t *testing.T) {
	a := New("status-page", Config{URLs: []string{"http://127.0.0.1:1"}, RateLimitPerSecond: 1000})
	hc := a.HealthCheck(context.Background())
	require.Equal(t, source.HealthDegraded, hc.Status)
}
