package feedbackstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/tools"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + t.TempDir() + "/feedback.db?cache=shared"
	store, err := Open(context.Background(), DialectSQLite, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordAndSuccessRate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, tools.FeedbackRecord{
		ID: "f1", IncidentID: "inc-1", RunbookUsed: "disk-full", ResolutionTimeMinutes: 10,
		WasSuccessful: true, ResolutionSummary: "cleared logs", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Record(ctx, tools.FeedbackRecord{
		ID: "f2", IncidentID: "inc-2", RunbookUsed: "disk-full", ResolutionTimeMinutes: 20,
		WasSuccessful: false, ResolutionSummary: "did not resolve", CreatedAt: time.Now(),
	}))

	rate, ok := store.SuccessRate(ctx, "disk-full")
	require.True(t, ok)
	require.InDelta(t, 0.5, rate, 0.0001)
}

func TestSuccessRateUnknownRunbookReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, ok := store.SuccessRate(context.Background(), "never-used")
	require.False(t, ok)
}

func TestStoreRecordAndSourceStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, tools.FeedbackRecord{
		ID: "f1", IncidentID: "inc-1", RunbookUsed: "disk-full", SourceName: "runbooks",
		ResolutionTimeMinutes: 10, WasSuccessful: true, ResolutionSummary: "cleared logs", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Record(ctx, tools.FeedbackRecord{
		ID: "f2", IncidentID: "inc-2", RunbookUsed: "disk-full", SourceName: "runbooks",
		ResolutionTimeMinutes: 20, WasSuccessful: false, ResolutionSummary: "did not resolve", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Record(ctx, tools.FeedbackRecord{
		ID: "f3", IncidentID: "inc-3", RunbookUsed: "other-doc", SourceName: "confluence",
		ResolutionTimeMinutes: 5, WasSuccessful: true, ResolutionSummary: "other source", CreatedAt: time.Now(),
	}))

	rate, total, ok := store.SourceStats(ctx, "runbooks")
	require.True(t, ok)
	require.Equal(t, 2, total)
	require.InDelta(t, 0.5, rate, 0.0001)
}

func TestSourceStatsUnknownSourceReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, _, ok := store.SourceStats(context.Background(), "never-used")
	require.False(t, ok)
}
