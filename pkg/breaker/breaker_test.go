package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxFailures = 3
	cfg.TimeWindow = time.Minute
	cfg.ResetTimeout = 20 * time.Millisecond
	cfg.HalfOpenMaxCalls = 1
	return cfg
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, err := New("test", testConfig(), nil, nil)
	require.NoError(t, err)

	failing := func(ctx context.Context) error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), failing)
	}
	assert.Equal(t, StateOpen, b.State())

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b, err := New("test", testConfig(), nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenRequiresConsecutiveSuccesses(t *testing.T) {
	cfg := testConfig()
	cfg.CloseAfterSuccesses = 2
	cfg.HalfOpenMaxCalls = 2
	b, err := New("test", cfg, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State(), "one success short of close_after_successes stays half-open")

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerManualTripAndReset(t *testing.T) {
	b, err := New("test", testConfig(), nil, nil)
	require.NoError(t, err)

	b.Trip()
	assert.Equal(t, StateOpen, b.State())

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)

	b.ManualReset()
	assert.Equal(t, StateClosed, b.State())

	err = b.Call(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestBreakerSubscribeNotifiesOnStateChange(t *testing.T) {
	b, err := New("test", testConfig(), nil, nil)
	require.NoError(t, err)

	var transitions []string
	b.Subscribe(func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	b.Trip()
	require.Len(t, transitions, 1)
	assert.Equal(t, "closed->open", transitions[0])
}

func TestBreakerMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "personalpipeline")
	b, err := New("source-a", testConfig(), nil, metrics)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_ = b.Call(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	assert.Equal(t, StateOpen, b.State())
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailures = 0
	_, err := New("bad", cfg, nil, nil)
	assert.Error(t, err)
}
