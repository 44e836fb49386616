package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

const (
	idleQuietWindow  = 500 * time.Millisecond
	idlePollInterval = 100 * time.Millisecond
)

// idleTracker counts in-flight network requests for a tab from CDP events.
type idleTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
	now        func() time.Time
}

func newIdleTracker(now func() time.Time) *idleTracker {
	if now == nil {
		now = time.Now
	}
	return &idleTracker{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: now(),
		now:        now,
	}
}

func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID)
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	}
}

func (t *idleTracker) start(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.lastChange = t.now()
}

func (t *idleTracker) finish(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	t.lastChange = t.now()
}

// idle reports whether nothing has been in flight for at least quiet.
func (t *idleTracker) idle(quiet time.Duration) bool {
	return t.idleSince(quiet, time.Time{})
}

// idleSince is idle with the quiet window starting no earlier than since.
func (t *idleTracker) idleSince(quiet time.Duration, since time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.lastChange
	if since.After(from) {
		from = since
	}
	return len(t.inflight) == 0 && t.now().Sub(from) >= quiet
}

func (t *idleTracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// wait polls until idle or timeout. A full quiet window must pass after the
// call so requests triggered just before it get a chance to start. Only
// cancellation of ctx is an error.
func (t *idleTracker) wait(ctx context.Context, quiet, timeout time.Duration) error {
	start := t.now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if t.idleSince(quiet, start) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}
