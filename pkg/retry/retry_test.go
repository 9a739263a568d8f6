package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalpipeline/personal-pipeline/internal/perrors"
)

func quickPolicy() *Policy {
	return &Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickPolicy(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.Unavailable("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableErrorWithChecker(t *testing.T) {
	policy := quickPolicy()
	policy.ErrorChecker = TaggedErrorChecker{}
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return perrors.Validation("bad input")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quickPolicy(), func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls) // initial + 2 retries
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, func(ctx context.Context) error {
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoValueReturnsLastResultOnFailure(t *testing.T) {
	result, err := DoValue(context.Background(), quickPolicy(), func(ctx context.Context) (int, error) {
		return 42, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 42, result)
}
