package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
	"github.com/personalpipeline/personal-pipeline/pkg/breaker"
	"github.com/personalpipeline/personal-pipeline/pkg/pipeline"
	"github.com/personalpipeline/personal-pipeline/pkg/registry"
	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

type fakeAdapter struct {
	name    string
	results []source.SearchResult
	docs    map[string]*source.Document
}

func (f *fakeAdapter) Name() string                        { return f.name }
func (f *fakeAdapter) Initialize(ctx context.Context) error { return nil }
func (f *fakeAdapter) Search(ctx context.Context, q string, flt source.Filter) ([]source.SearchResult, error) {
	return f.results, nil
}
func (f *fakeAdapter) Get(ctx context.Context, id string) (*source.Document, error) {
	if doc, ok := f.docs[id]; ok {
		return doc, nil
	}
	return nil, perrors.NotFound("document not found")
}
func (f *fakeAdapter) SearchRunbooks(ctx context.Context, q string, flt source.Filter) ([]source.Runbook, error) {
	return nil, nil
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) source.HealthCheck {
	return source.HealthCheck{SourceName: f.name, Status: source.HealthHealthy}
}
func (f *fakeAdapter) RefreshIndex(ctx context.Context) error { return nil }
func (f *fakeAdapter) Metadata(ctx context.Context) source.Metadata {
	return source.Metadata{Name: f.name, Type: "fake"}
}
func (f *fakeAdapter) Cleanup(ctx context.Context) error { return nil }

type fakeFeedbackStore struct {
	records []FeedbackRecord
	stats   map[string]SourceStats
}

func (s *fakeFeedbackStore) Record(ctx context.Context, rec FeedbackRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeFeedbackStore) SourceStats(ctx context.Context, sourceName string) (successRate float64, total int, ok bool) {
	st, ok := s.stats[sourceName]
	if !ok {
		return 0, 0, false
	}
	return st.SuccessRate, st.FeedbackCount, true
}

func defaultBreakerConfig() breaker.Config {
	cfg := breaker.DefaultConfig()
	cfg.MaxFailures = 2
	cfg.TimeWindow = time.Minute
	return cfg
}

func newTestService(t *testing.T, feedback FeedbackStore) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, nil, nil)
	require.NoError(t, reg.Add(context.Background(), &fakeAdapter{
		name: "runbooks",
		results: []source.SearchResult{{
			Document:       source.Document{ID: "disk-full", SourceName: "runbooks", Title: "Disk Full", UpdatedAt: time.Now()},
			RelevanceScore: 0.9,
		}},
		docs: map[string]*source.Document{
			"disk-full": {ID: "disk-full", SourceName: "runbooks", Title: "Disk Full", Content: "Clear logs."},
		},
	}, defaultBreakerConfig()))

	pl := pipeline.New(reg, nil, nil, nil, nil)
	return New(reg, pl, feedback, nil), reg
}

func TestSearchRunbooksReturnsResults(t *testing.T) {
	svc, _ := newTestService(t, nil)
	out, err := svc.SearchRunbooks(context.Background(), SearchRunbooksInput{AlertType: "disk full", Severity: "high"})
	require.NoError(t, err)
	require.Len(t, out.Runbooks, 1)
}

func TestSearchRunbooksRejectsInvalidSeverity(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.SearchRunbooks(context.Background(), SearchRunbooksInput{AlertType: "disk full", Severity: "bogus"})
	require.Error(t, err)
}

func TestGetProcedureReturnsNotFoundForMissingID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.GetProcedure(context.Background(), GetProcedureInput{ProcedureID: "nope"})
	require.Error(t, err)
}

func TestGetEscalationPathScalesWithSeverity(t *testing.T) {
	svc, _ := newTestService(t, nil)
	out, err := svc.GetEscalationPath(context.Background(), GetEscalationPathInput{IncidentType: "outage", Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, out.Levels, 3)
	require.Contains(t, out.CommunicationChannels, "phone_bridge")
}

func TestRecordResolutionFeedbackStoresEntry(t *testing.T) {
	store := &fakeFeedbackStore{}
	svc, _ := newTestService(t, store)

	out, err := svc.RecordResolutionFeedback(context.Background(), RecordResolutionFeedbackInput{
		IncidentID: "inc-1", ResolutionTimeMinutes: 5, WasSuccessful: true, ResolutionSummary: "fixed it",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.FeedbackID)
	require.Len(t, store.records, 1)
}

func TestRecordResolutionFeedbackWithoutStoreConfiguredFails(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.RecordResolutionFeedback(context.Background(), RecordResolutionFeedbackInput{
		IncidentID: "inc-1", ResolutionTimeMinutes: 5, WasSuccessful: true, ResolutionSummary: "fixed it",
	})
	require.Error(t, err)
}

func TestListSourcesReportsHealth(t *testing.T) {
	svc, _ := newTestService(t, nil)
	out, err := svc.ListSources(context.Background(), ListSourcesInput{IncludeHealth: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Total)
	require.Equal(t, 1, out.Healthy)
}

func TestListSourcesIncludesStatsWhenAvailable(t *testing.T) {
	store := &fakeFeedbackStore{stats: map[string]SourceStats{
		"runbooks": {SuccessRate: 0.75, FeedbackCount: 4},
	}}
	svc, _ := newTestService(t, store)

	out, err := svc.ListSources(context.Background(), ListSourcesInput{IncludeStats: true})
	require.NoError(t, err)
	require.Len(t, out.Sources, 1)
	require.NotNil(t, out.Sources[0].Stats)
	require.InDelta(t, 0.75, out.Sources[0].Stats.SuccessRate, 0.0001)
	require.Equal(t, 4, out.Sources[0].Stats.FeedbackCount)
}

func TestListSourcesOmitsStatsWhenNotRequested(t *testing.T) {
	store := &fakeFeedbackStore{stats: map[string]SourceStats{
		"runbooks": {SuccessRate: 0.75, FeedbackCount: 4},
	}}
	svc, _ := newTestService(t, store)

	out, err := svc.ListSources(context.Background(), ListSourcesInput{})
	require.NoError(t, err)
	require.Nil(t, out.Sources[0].Stats)
}

func TestRecordResolutionFeedbackResolvesSourceName(t *testing.T) {
	store := &fakeFeedbackStore{}
	svc, _ := newTestService(t, store)

	_, err := svc.RecordResolutionFeedback(context.Background(), RecordResolutionFeedbackInput{
		IncidentID: "inc-1", RunbookUsed: "disk-full", ResolutionTimeMinutes: 5,
		WasSuccessful: true, ResolutionSummary: "fixed it",
	})
	require.NoError(t, err)
	require.Len(t, store.records, 1)
	require.Equal(t, "runbooks", store.records[0].SourceName)
}
