// Package system provides the wall clocks stamped onto catalog records.
package system

import (
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

var (
	_ catalog.Clock = Clock{}
	_ catalog.Clock = (*Frozen)(nil)
)

// Clock implements catalog.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Frozen is a clock that only moves when told to. Useful for tests and dry runs.
type Frozen struct {
	mu  sync.Mutex
	now time.Time
}

// NewFrozen returns a Frozen clock set to t.
func NewFrozen(t time.Time) *Frozen {
	return &Frozen{now: t.UTC()}
}

// Now returns the frozen instant.
func (f *Frozen) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Frozen) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
