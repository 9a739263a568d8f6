package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

type fakeAdapter struct {
	name    string
	healthy bool
}

func (f *fakeAdapter) Name() string                        { return f.name }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }
func (f *fakeAdapter) Search(ctx context.Context, q string, flt source.Filter) ([]source.SearchResult, error) {
	return nil, nil
}
func (f *fakeAdapter) Get(ctx context.Context, id string) (*source.Document, error) { return nil, nil }
func (f *fakeAdapter) SearchRunbooks(ctx context.Context, q string, flt source.Filter) ([]source.Runbook, error) {
	return nil, nil
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) source.HealthCheck {
	status := source.HealthHealthy
	if !f.healthy {
		status = source.HealthDown
	}
	return source.HealthCheck{SourceName: f.name, Status: status}
}
func (f *fakeAdapter) RefreshIndex(ctx context.Context) error          { return nil }
func (f *fakeAdapter) Metadata(ctx context.Context) source.Metadata    { return source.Metadata{Name: f.name} }
func (f *fakeAdapter) Cleanup(ctx context.Context) error               { return nil }

func breakerCfg() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.MaxFailures = 2
	cfg.TimeWindow = time.Minute
	return cfg
}

func TestCheckReportsHealthyWhenEverythingUp(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "a", healthy: true}, breakerCfg()))

	agg := New(reg, nil, func() bool { return true }, func() Performance { return Performance{} })
	report := agg.Check(context.Background())
	require.Equal(t, StatusHealthy, report.Overall)
}

func TestCheckDegradesWhenSourcesDown(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{name: "a", healthy: false}, breakerCfg()))

	agg := New(reg, nil, func() bool { return true }, func() Performance { return Performance{} })
	report := agg.Check(context.Background())
	require.NotEqual(t, StatusHealthy, report.Overall)
}

func TestCheckUnhealthyWhenServerNotReady(t *testing.T) {
	agg := New(nil, nil, func() bool { return false }, nil)
	report := agg.Check(context.Background())
	require.False(t, report.ServerReady)
	require.Equal(t, StatusUnhealthy, report.Overall)
}
