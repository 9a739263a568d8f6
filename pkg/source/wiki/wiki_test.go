package wiki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func newTestWikiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content", func(w http.ResponseWriter, r *http.Request) {
		resp := searchResponse{
			Start: 0, Limit: 25, Size: 1,
			Results: []page{{ID: "101", Title: "Disk Full Runbook"}},
		}
		resp.Results[0].Body.Storage.Value = "Clear temp files to recover disk space."
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/rest/api/content/101", func(w http.ResponseWriter, r *http.Request) {
		p := page{ID: "101", Title: "Disk Full Runbook"}
		p.Body.Storage.Value = "Clear temp files to recover disk space."
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("/rest/api/space", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWikiAdapterSearchFindsPage(t *testing.T) {
	srv := newTestWikiServer(t)
	a := New("confluence", Config{BaseURL: srv.URL, AuthType: AuthBearer, Token: "x"})
	require.NoError(t, a.Initialize(context.Background()))

	results, err := a.Search(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "101", results[0].Document.ID)
}

func TestWikiAdapterGetReturnsPage(t *testing.T) {
	srv := newTestWikiServer(t)
	a := New("confluence", Config{BaseURL: srv.URL})

	doc, err := a.Get(context.Background(), "101")
	require.NoError(t, err)
	require.Contains(t, doc.Content, "Clear temp files")
}

func TestWikiAdapterSearchRunbooksFiltersByTitle(t *testing.T) {
	srv := newTestWikiServer(t)
	a := New("confluence", Config{BaseURL: srv.URL})

	runbooks, err := a.SearchRunbooks(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, runbooks, 1)
}

func TestWikiAdapterInitializeRequiresBaseURL(t *testing.T) {
	a := New("confluence", Config{})
	require.Error(t, a.Initialize(context.Background()))
}

func TestRetryAfterParsesSeconds(t *testing.T) {
	require.Equal(t, "2s", retryAfter("2").String())
}
