package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/internal/config"
	"github.com/personalpipeline/personal-pipeline/pkg/health"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	docPath := filepath.Join(dir, "runbook.md")
	require.NoError(t, os.WriteFile(docPath, []byte("# disk pressure runbook\nclear logs"), 0o644))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.Distributed.Enabled = false
	cfg.Sources = []config.SourceConfig{
		{
			Name:    "local-docs",
			Kind:    "file",
			Enabled: true,
			Settings: map[string]any{
				"root": dir,
			},
		},
	}
	return cfg
}

func TestNewWiresSourcesAndReportsHealth(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	orch, err := New(ctx, cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, orch.Tools())

	report := orch.Health(ctx)
	require.True(t, report.ServerReady)
	require.NotEqual(t, health.Status(""), report.Overall)

	require.NoError(t, orch.Shutdown(ctx))
}

func TestWaitHealthyTimesOutWhenNotReady(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Sources = nil // no sources: registry stays empty, health never reaches "healthy"

	orch, err := New(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer orch.Shutdown(ctx)

	err = orch.WaitHealthy(ctx, 0)
	require.Error(t, err) // zero deadline and status never healthy: times out on the first check
}
