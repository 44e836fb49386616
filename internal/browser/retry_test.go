package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy() *ExponentialRetryPolicy {
	return NewExponentialRetryPolicy().WithBaseDelay(time.Millisecond)
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy()
	require.False(t, policy.ShouldRetry(nil, 1))
	require.True(t, policy.ShouldRetry(errors.New("net::ERR_CONNECTION_RESET"), 1))
	require.True(t, policy.ShouldRetry(context.DeadlineExceeded, 2))
	require.False(t, policy.ShouldRetry(errors.New("boom"), 3))
	require.False(t, policy.ShouldRetry(context.Canceled, 1))
	require.False(t, policy.ShouldRetry(ErrPageClosed, 1))
	require.Equal(t, 3, policy.MaxAttempts())
	require.Equal(t, 1, policy.WithMaxAttempts(0).MaxAttempts())
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy()
	for attempt := 0; attempt < 10; attempt++ {
		d := policy.Backoff(attempt)
		if d < 0 || d > policy.maxDelay {
			t.Fatalf("backoff %v out of range for attempt %d", d, attempt)
		}
	}
}

func TestRetryExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	var observed []int
	err := Retry(context.Background(), fastPolicy(), time.Second,
		func(attempt int, _ error) { observed = append(observed, attempt) },
		func(context.Context) error {
			calls++
			return errors.New("net::ERR_TIMED_OUT")
		})
	require.ErrorIs(t, err, ErrNavigation)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2, 3}, observed)
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastPolicy(), time.Second, nil, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryRetriesAttemptTimeout(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastPolicy(), 5*time.Millisecond, nil, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrNavigation)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnClosedPage(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), fastPolicy(), time.Second, nil, func(context.Context) error {
		calls++
		return ErrPageClosed
	})
	require.ErrorIs(t, err, ErrPageClosed)
	require.NotErrorIs(t, err, ErrNavigation)
	require.Equal(t, 1, calls)
}

func TestRetryHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastPolicy(), time.Second, nil, func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
