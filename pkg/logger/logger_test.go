package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestNewJSONHandler(t *testing.T) {
	cfg := Config{Level: "info", Format: "json", Output: "stdout"}
	log := New(cfg)
	require.NotNil(t, log)
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationIDFrom(ctx))

	id := NewCorrelationID()
	require.True(t, strings.HasPrefix(id, "cid_"))

	ctx = WithCorrelationID(ctx, id)
	assert.Equal(t, id, CorrelationIDFrom(ctx))
}

func TestFromContextEnrichesLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithCorrelationID(context.Background(), "cid_test123")
	log := FromContext(ctx, base)
	log.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cid_test123", entry["correlation_id"])
}
