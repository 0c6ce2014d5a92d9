package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphsync/internal/backend"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), backend.IsBusiness, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpOnBusinessErrorImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5, time.Millisecond), backend.IsBusiness, func(ctx context.Context, attempt int) error {
		calls++
		return backend.Errorf(backend.CodeInvalidCredentials, "bad password")
	})

	require.Error(t, err)
	assert.True(t, backend.HasCode(err, backend.CodeInvalidCredentials))
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTechnicalErrorUpToCeiling(t *testing.T) {
	calls := 0
	retried := 0
	policy := Fixed(4, time.Millisecond)
	policy.OnRetry = func(attempt int, err error) { retried++ }

	err := Do(context.Background(), policy, backend.IsBusiness, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("timeout")
	})

	require.EqualError(t, err, "timeout")
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, retried)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Fixed(10, time.Hour), nil, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("unreachable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValueBacksOff(t *testing.T) {
	policy := Policy{Attempts: 3, Delay: time.Millisecond, Multiplier: 2, MaxDelay: 3 * time.Millisecond}
	got, err := Value(context.Background(), policy, nil, func(ctx context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errors.New("busy")
		}
		return "4.4.0", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "4.4.0", got)
}

func TestZeroAttemptsStillRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, nil, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
