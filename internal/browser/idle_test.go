package browser

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIdleTrackerCountsInflight(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Unix(1700000000, 0)}
	tracker := newIdleTracker(clock.Now)

	tracker.handle(&network.EventRequestWillBeSent{RequestID: "1"})
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "2"})
	require.Equal(t, 2, tracker.pending())

	tracker.handle(&network.EventLoadingFinished{RequestID: "1"})
	tracker.handle(&network.EventLoadingFailed{RequestID: "2"})
	tracker.handle(&network.EventLoadingFinished{RequestID: "unknown"})
	require.Zero(t, tracker.pending())

	require.False(t, tracker.idle(idleQuietWindow))
	clock.Advance(idleQuietWindow)
	require.True(t, tracker.idle(idleQuietWindow))
}

func TestIdleTrackerWaitTimesOutWithoutError(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker(nil)
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})

	start := time.Now()
	err := tracker.wait(context.Background(), 10*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestIdleTrackerWaitReturnsWhenQuiet(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker(nil)
	err := tracker.wait(context.Background(), 0, time.Minute)
	require.NoError(t, err)
}

func TestIdleTrackerWaitCanceled(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker(nil)
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "stuck"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tracker.wait(ctx, 0, time.Minute), context.Canceled)
}

func TestIdleTrackerWaitHoldsQuietWindowAfterCall(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker(nil)
	tracker.lastChange = time.Now().Add(-time.Second)

	start := time.Now()
	require.NoError(t, tracker.wait(context.Background(), 80*time.Millisecond, time.Minute))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestIdleTrackerWaitSeesRequestStartedAfterCall(t *testing.T) {
	t.Parallel()

	tracker := newIdleTracker(nil)
	tracker.lastChange = time.Now().Add(-time.Second)

	go func() {
		time.Sleep(30 * time.Millisecond)
		tracker.handle(&network.EventRequestWillBeSent{RequestID: "xhr"})
		time.Sleep(200 * time.Millisecond)
		tracker.handle(&network.EventLoadingFinished{RequestID: "xhr"})
	}()

	require.NoError(t, tracker.wait(context.Background(), 150*time.Millisecond, 5*time.Second))
	require.Zero(t, tracker.pending())
}
