package browser

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when a failed navigation is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
	MaxAttempts() int
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// WithMaxAttempts returns a copy using n attempts (n < 1 means 1).
func (p *ExponentialRetryPolicy) WithMaxAttempts(n int) *ExponentialRetryPolicy {
	cp := *p
	if n < 1 {
		n = 1
	}
	cp.maxAttempts = n
	return &cp
}

// WithBaseDelay returns a copy using d as the first backoff step.
func (p *ExponentialRetryPolicy) WithBaseDelay(d time.Duration) *ExponentialRetryPolicy {
	cp := *p
	cp.baseDelay = d
	return &cp
}

// MaxAttempts reports the attempt budget.
func (p *ExponentialRetryPolicy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry decides whether the error is retryable. Attempt deadlines are
// retried; cancellation and closed pages are not.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrPageClosed) || errors.Is(err, ErrBrowserClosed) {
		return false
	}
	return true
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Retry runs fn until it succeeds or policy gives up. Each attempt gets its
// own timeout derived from ctx. Cancellation of ctx is returned as is;
// an exhausted budget is wrapped in ErrNavigation.
func Retry(
	ctx context.Context,
	policy RetryPolicy,
	timeout time.Duration,
	onAttempt func(attempt int, err error),
	fn func(ctx context.Context) error,
) error {
	for attempt := 1; ; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := fn(attemptCtx)
		cancel()
		if onAttempt != nil {
			onAttempt(attempt, err)
		}
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrPageClosed) || errors.Is(err, ErrBrowserClosed) {
			return err
		}
		if !policy.ShouldRetry(err, attempt) {
			return fmt.Errorf("%w after %d attempt(s): %w", ErrNavigation, attempt, err)
		}
		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
