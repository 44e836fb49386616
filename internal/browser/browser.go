// Package browser drives a real browser for the crawl and ingestion stages.
// Everything DOM specific goes through Page so the rest of the pipeline stays
// browser agnostic and can be exercised against fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNavigation wraps a navigation that failed after exhausting its retry budget.
	ErrNavigation = errors.New("navigation failed")
	// ErrPageClosed is returned when a page is used after Close.
	ErrPageClosed = errors.New("page closed")
	// ErrBrowserClosed means the browser process or its context is gone. It is
	// the only driver error a run treats as fatal.
	ErrBrowserClosed = errors.New("browser closed")
)

// Browser hands out isolated pages backed by one browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single browser tab.
type Page interface {
	// Navigate loads url, retrying transient failures.
	Navigate(ctx context.Context, url string) error
	// Attribute returns the trimmed attribute of the first element matching
	// selector. ok is false when nothing matches or the value is empty.
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// Text returns the trimmed text content of the first matching element.
	Text(ctx context.Context, selector string) (value string, ok bool, err error)
	// Evaluate runs a read-only function in the page and decodes its JSON result into out.
	Evaluate(ctx context.Context, script Script, out any) error
	// WaitFor waits up to timeout for selector to match. A timeout yields false.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// WaitIdle waits until no requests are in flight, or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	// URL reports the current document location.
	URL(ctx context.Context) (string, error)
	Close() error
}

// Script is an in-page function. Source must be a JavaScript function
// expression; it is invoked with Args spread as its parameters.
type Script struct {
	Name   string
	Source string
	Args   []any
}

// With returns a copy of s bound to args.
func (s Script) With(args ...any) Script {
	s.Args = args
	return s
}
