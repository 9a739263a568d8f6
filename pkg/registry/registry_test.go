package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

type fakeAdapter struct {
	name      string
	searchErr error
	results   []source.SearchResult
	healthy   bool
}

func (f *fakeAdapter) Name() string                           { return f.name }
func (f *fakeAdapter) Initialize(ctx context.Context) error    { return nil }
func (f *fakeAdapter) Search(ctx context.Context, q string, flt source.Filter) ([]source.SearchResult, error) {
	return f.results, f.searchErr
}
func (f *fakeAdapter) Get(ctx context.Context, id string) (*source.Document, error) {
	return &source.Document{ID: id, SourceName: f.name}, nil
}
func (f *fakeAdapter) SearchRunbooks(ctx context.Context, q string, flt source.Filter) ([]source.Runbook, error) {
	return nil, nil
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) source.HealthCheck {
	status := source.HealthHealthy
	if !f.healthy {
		status = source.HealthDown
	}
	return source.HealthCheck{SourceName: f.name, Status: status, LastCheck: time.Now()}
}
func (f *fakeAdapter) RefreshIndex(ctx context.Context) error { return nil }
func (f *fakeAdapter) Metadata(ctx context.Context) source.Metadata {
	return source.Metadata{Name: f.name, Type: "fake"}
}
func (f *fakeAdapter) Cleanup(ctx context.Context) error { return nil }

func testBreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.MaxFailures = 2
	cfg.TimeWindow = time.Minute
	return cfg
}

func TestRegistryAddAndSearch(t *testing.T) {
	reg := New(nil, nil, nil)
	adapter := &fakeAdapter{name: "wiki", healthy: true, results: []source.SearchResult{{Document: source.Document{ID: "1"}}}}

	require.NoError(t, reg.Add(context.Background(), adapter, testBreakerConfig()))

	results, err := reg.Search(context.Background(), "wiki", "q", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRegistrySearchUnknownSource(t *testing.T) {
	reg := New(nil, nil, nil)
	_, err := reg.Search(context.Background(), "missing", "q", source.Filter{})
	assert.Error(t, err)
}

func TestRegistryHealthAggregatesAcrossAdapters(t *testing.T) {
	reg := New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "a", healthy: true}, testBreakerConfig()))
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "b", healthy: false}, testBreakerConfig()))

	checks := reg.Health(context.Background())
	require.Len(t, checks, 2)
}

type panickyAdapter struct{ fakeAdapter }

func (p *panickyAdapter) HealthCheck(ctx context.Context) source.HealthCheck {
	panic("adapter exploded")
}

func TestRegistryHealthRecoversFromPanickingAdapter(t *testing.T) {
	reg := New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &panickyAdapter{fakeAdapter{name: "flaky"}}, testBreakerConfig()))
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "ok", healthy: true}, testBreakerConfig()))

	checks := reg.Health(context.Background())
	require.Len(t, checks, 2)

	byName := map[string]source.HealthCheck{}
	for _, c := range checks {
		byName[c.SourceName] = c
	}
	assert.Equal(t, source.HealthDown, byName["flaky"].Status)
	assert.Equal(t, source.HealthHealthy, byName["ok"].Status)
}

func TestRegistryNamesListsAllAdapters(t *testing.T) {
	reg := New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "a"}, testBreakerConfig()))
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "b"}, testBreakerConfig()))
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}

func TestRegistryBuildUnknownType(t *testing.T) {
	reg := New(nil, nil, nil)
	err := reg.Build(context.Background(), "x", "nonexistent-type", nil, testBreakerConfig())
	assert.Error(t, err)
}
