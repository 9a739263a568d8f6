package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, CacheStrategyHybrid, cfg.Cache.Strategy)
	require.Equal(t, "sqlite", cfg.Feedback.Dialect)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 4000\n  log_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  log_level: verbose\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateSourceNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`sources:
  - name: docs
    kind: file
    enabled: true
  - name: docs
    kind: file
    enabled: true
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLogLevelEnvOverridesConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestResolveCredentialFromEnv(t *testing.T) {
	t.Setenv("MY_TOKEN", "secret")
	v, ok := ResolveCredential("env:MY_TOKEN")
	require.True(t, ok)
	require.Equal(t, "secret", v)
}

func TestResolveCredentialLiteral(t *testing.T) {
	v, ok := ResolveCredential("literal-value")
	require.True(t, ok)
	require.Equal(t, "literal-value", v)
}
