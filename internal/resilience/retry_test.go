package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/resilience"
)

func TestRetrySucceedsWithoutExhaustingAttempts(t *testing.T) {
	calls := 0
	v, err := resilience.Retry(context.Background(), 5, time.Millisecond, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestRetryReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	wantErr := errors.New("permanent")
	calls := 0
	_, err := resilience.Retry(context.Background(), 3, time.Millisecond, func() (int, error) {
		calls++
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 3, calls)
}

func TestRetryZeroAttemptsIsNoop(t *testing.T) {
	calls := 0
	v, err := resilience.Retry(context.Background(), 0, time.Millisecond, func() (int, error) {
		calls++
		return 99, nil
	})
	require.NoError(t, err)
	require.Zero(t, v)
	require.Zero(t, calls)
}

func TestRetryAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resilience.Retry(ctx, 3, 10*time.Millisecond, func() (int, error) {
		return 0, errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
}
