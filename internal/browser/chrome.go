package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// DefaultBlockedURLs keeps heavy assets and trackers out of every tab.
var DefaultBlockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.woff", "*.woff2", "*.ttf", "*.mp4", "*.webm",
	"*google-analytics.com*", "*googletagmanager.com*", "*doubleclick.net*", "*facebook.net*",
}

// Config controls the chromedp browser.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	AcceptLanguage    string
	Locale            string
	Timezone          string
	BlockedURLs       []string
	NavigationTimeout time.Duration
	NavigationRetries int
	NavigationQPS     float64
	WindowWidth       int
	WindowHeight      int
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.NavigationRetries <= 0 {
		c.NavigationRetries = 3
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = 1366, 900
	}
	if c.BlockedURLs == nil {
		c.BlockedURLs = DefaultBlockedURLs
	}
	return c
}

// Chrome is a Browser backed by one headless Chrome process.
type Chrome struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	limiter         *rate.Limiter
	policy          RetryPolicy
	closeOnce       sync.Once
}

var _ Browser = (*Chrome)(nil)

// NewChrome starts the browser process and waits for it to be ready.
func NewChrome(ctx context.Context, cfg Config, logger *zap.Logger) (*Chrome, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	limit := rate.Inf
	if cfg.NavigationQPS > 0 {
		limit = rate.Limit(cfg.NavigationQPS)
	}
	logger.Info("browser started",
		zap.Bool("headless", cfg.Headless),
		zap.Float64("navigation_qps", cfg.NavigationQPS),
		zap.Int("blocked_patterns", len(cfg.BlockedURLs)),
	)
	return &Chrome{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		limiter:         rate.NewLimiter(limit, 1),
		policy:          NewExponentialRetryPolicy().WithMaxAttempts(cfg.NavigationRetries),
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (c *Chrome) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.browserCancel()
		c.allocatorCancel()
	})
	return nil
}

// NewPage opens an isolated tab with network setup applied.
func (c *Chrome) NewPage(ctx context.Context) (Page, error) {
	if err := c.browserCtx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowserClosed, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	tracker := newIdleTracker(nil)
	chromedp.ListenTarget(tabCtx, tracker.handle)

	if err := chromedp.Run(tabCtx, c.setupAction()); err != nil {
		cancelTab()
		if c.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrBrowserClosed, err)
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromePage{
		ctx:     tabCtx,
		cancel:  cancelTab,
		browser: c,
		tracker: tracker,
	}, nil
}

// blockURLs returns the request-blocking command for patterns, or nil when
// there is nothing to block.
func blockURLs(patterns []string) *network.SetBlockedURLsParams {
	if len(patterns) == 0 {
		return nil
	}
	return network.SetBlockedURLs(patterns)
}

func (c *Chrome) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if block := blockURLs(c.cfg.BlockedURLs); block != nil {
			if err := block.Do(ctx); err != nil {
				return fmt.Errorf("set blocked urls: %w", err)
			}
		}
		if c.cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(c.cfg.UserAgent)
			if c.cfg.AcceptLanguage != "" {
				ua = ua.WithAcceptLanguage(c.cfg.AcceptLanguage)
			}
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if c.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": c.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if c.cfg.Locale != "" {
			if err := emulation.SetLocaleOverride().WithLocale(c.cfg.Locale).Do(ctx); err != nil {
				return fmt.Errorf("set locale: %w", err)
			}
		}
		if c.cfg.Timezone != "" {
			if err := emulation.SetTimezoneOverride(c.cfg.Timezone).Do(ctx); err != nil {
				return fmt.Errorf("set timezone: %w", err)
			}
		}
		return nil
	})
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	browser *Chrome
	tracker *idleTracker
	closed  atomic.Bool
}

// Navigate loads url with throttling, per-attempt timeouts and retries.
func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if p.closed.Load() {
		return ErrPageClosed
	}
	if err := p.browser.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("navigation throttle: %w", err)
	}
	logger := p.browser.logger.With(zap.String("url", url))
	onAttempt := func(attempt int, err error) {
		if err == nil {
			metrics.ObserveNavigation(url, "ok")
			return
		}
		metrics.ObserveNavigation(url, "error")
		logger.Warn("navigation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return Retry(ctx, p.browser.policy, p.browser.cfg.NavigationTimeout, onAttempt, func(attemptCtx context.Context) error {
		return p.run(attemptCtx, chromedp.Navigate(url))
	})
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var res lookupResult
	if err := p.Evaluate(ctx, attributeScript.With(selector, name), &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Found && res.Value != "", nil
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, bool, error) {
	var res lookupResult
	if err := p.Evaluate(ctx, textScript.With(selector), &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Found && res.Value != "", nil
}

// Evaluate invokes script.Source with its JSON-encoded arguments. Promises
// are awaited.
func (p *chromePage) Evaluate(ctx context.Context, script Script, out any) error {
	expr, err := script.expression()
	if err != nil {
		return err
	}
	if out == nil {
		var discard any
		out = &discard
	}
	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := p.run(ctx, chromedp.Evaluate(expr, out, awaitPromise)); err != nil {
		return fmt.Errorf("evaluate %s: %w", script.Name, err)
	}
	return nil
}

// WaitFor polls for selector instead of chromedp.WaitVisible so absence
// resolves to false once timeout elapses.
func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		var found bool
		err := p.Evaluate(ctx, existsScript.With(selector), &found)
		switch {
		case errors.Is(err, ErrPageClosed):
			return false, err
		case ctx.Err() != nil:
			return false, ctx.Err()
		case err == nil && found:
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(idlePollInterval):
		}
	}
}

func (p *chromePage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	if p.closed.Load() {
		return ErrPageClosed
	}
	return p.tracker.wait(ctx, idleQuietWindow, timeout)
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Close closes the tab. It is safe to call more than once.
func (p *chromePage) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel()
	return nil
}

// run executes actions on the tab while honoring the caller's context.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return ErrPageClosed
	}
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case p.closed.Load():
		return ErrPageClosed
	case p.browser.browserCtx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrBrowserClosed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

type lookupResult struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (s Script) expression() (string, error) {
	args := s.Args
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s arguments: %w", s.Name, err)
	}
	return fmt.Sprintf("(%s)(...%s)", s.Source, encoded), nil
}
