package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/pkg/source"
)

func writeTestTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "runbooks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runbooks", "disk-full.md"), []byte("# Disk Full\nClear temp files."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "overview.md"), []byte("General overview of the system."), 0o644))
	return dir
}

func TestFileAdapterSearchAndGet(t *testing.T) {
	dir := writeTestTree(t)
	a := New("local-docs", dir)
	require.NoError(t, a.Initialize(context.Background()))

	results, err := a.Search(context.Background(), "disk", source.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join("runbooks", "disk-full.md"), results[0].Document.ID)

	doc, err := a.Get(context.Background(), filepath.Join("runbooks", "disk-full.md"))
	require.NoError(t, err)
	require.Contains(t, doc.Content, "Clear temp files")
}

func TestFileAdapterSearchRunbooksScopesToPrefix(t *testing.T) {
	dir := writeTestTree(t)
	a := New("local-docs", dir)
	require.NoError(t, a.Initialize(context.Background()))

	runbooks, err := a.SearchRunbooks(context.Background(), "", source.Filter{})
	require.NoError(t, err)
	require.Len(t, runbooks, 1)
}

func TestFileAdapterGetMissingReturnsNotFound(t *testing.T) {
	dir := writeTestTree(t)
	a := New("local-docs", dir)
	require.NoError(t, a.Initialize(context.Background()))

	_, err := a.Get(context.Background(), "nope.md")
	require.Error(t, err)
}

func TestFileAdapterInitializeRejectsMissingRoot(t *testing.T) {
	a := New("local-docs", "/nonexistent/path/xyz")
	require.Error(t, a.Initialize(context.Background()))
}
