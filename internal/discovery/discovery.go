// Package discovery walks category and listing pages to find subcategory and
// product-detail URLs.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
)

// Selectors locate links and controls on the target site.
type Selectors struct {
	SubcategoryLink string `mapstructure:"subcategory_link"`
	ProductLink     string `mapstructure:"product_link"`
	LoadMore        string `mapstructure:"load_more"`
}

// DefaultSelectors returns the selectors for the target site's current layout.
func DefaultSelectors() Selectors {
	return Selectors{
		SubcategoryLink: "a.category-block-link",
		ProductLink:     "a.product.photo.product-item-photo",
		LoadMore:        ".load-more-button .load-more-products",
	}
}

// Config bounds the waits and the load-more loop.
type Config struct {
	SettleDelay           time.Duration
	LoadWait              time.Duration
	StagnationThreshold   int
	MaxLoadMoreIterations int
}

// DefaultConfig mirrors the timings the site needs in practice.
func DefaultConfig() Config {
	return Config{
		SettleDelay:           time.Second,
		LoadWait:              4 * time.Second,
		StagnationThreshold:   3,
		MaxLoadMoreIterations: 500,
	}
}

// Discoverer extracts links from pages it is handed.
type Discoverer struct {
	sel    Selectors
	cfg    Config
	logger *zap.Logger
}

// New builds a Discoverer. Zero-valued fields fall back to the defaults.
func New(sel Selectors, cfg Config, logger *zap.Logger) *Discoverer {
	def := DefaultSelectors()
	if sel.SubcategoryLink == "" {
		sel.SubcategoryLink = def.SubcategoryLink
	}
	if sel.ProductLink == "" {
		sel.ProductLink = def.ProductLink
	}
	if sel.LoadMore == "" {
		sel.LoadMore = def.LoadMore
	}
	defCfg := DefaultConfig()
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defCfg.SettleDelay
	}
	if cfg.LoadWait <= 0 {
		cfg.LoadWait = defCfg.LoadWait
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = defCfg.StagnationThreshold
	}
	if cfg.MaxLoadMoreIterations <= 0 {
		cfg.MaxLoadMoreIterations = defCfg.MaxLoadMoreIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{sel: sel, cfg: cfg, logger: logger}
}

// Subcategories opens categoryURL and returns the absolute subcategory links
// found on it, de-duplicated in document order.
func (d *Discoverer) Subcategories(ctx context.Context, page browser.Page, categoryURL string) ([]string, error) {
	if err := page.Navigate(ctx, categoryURL); err != nil {
		return nil, fmt.Errorf("open category %s: %w", categoryURL, err)
	}
	if _, err := page.WaitFor(ctx, d.sel.SubcategoryLink, d.cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("wait for subcategories: %w", err)
	}
	return d.collect(ctx, page, categoryURL, d.sel.SubcategoryLink)
}

// ProductLinks opens a listing, expands it through its load-more controls
// until the product count stops growing, and returns every product link
// present at that point.
func (d *Discoverer) ProductLinks(ctx context.Context, page browser.Page, listingURL string) ([]string, error) {
	if err := page.Navigate(ctx, listingURL); err != nil {
		return nil, fmt.Errorf("open listing %s: %w", listingURL, err)
	}
	logger := d.logger.With(zap.String("url", listingURL))

	prev, err := d.count(ctx, page)
	if err != nil {
		return nil, err
	}
	stagnant := 0
	iterations := 0
	for iterations < d.cfg.MaxLoadMoreIterations && stagnant < d.cfg.StagnationThreshold {
		var res clickResult
		if err := page.Evaluate(ctx, clickLoadMoreScript.With(d.sel.LoadMore), &res); err != nil {
			if stopErr := fatal(ctx, err); stopErr != nil {
				return nil, stopErr
			}
			logger.Warn("load-more click failed", zap.Error(err))
			break
		}
		if res.Found == 0 {
			break
		}
		iterations++
		if err := page.WaitIdle(ctx, d.cfg.LoadWait); err != nil {
			return nil, fmt.Errorf("wait for listing load: %w", err)
		}
		current, err := d.count(ctx, page)
		if err != nil {
			return nil, err
		}
		if current > prev {
			stagnant = 0
			prev = current
		} else {
			stagnant++
		}
	}
	if iterations >= d.cfg.MaxLoadMoreIterations {
		logger.Warn("load-more iteration ceiling reached", zap.Int("iterations", iterations))
	}
	logger.Debug("listing expanded", zap.Int("iterations", iterations), zap.Int("count", prev))
	return d.collect(ctx, page, listingURL, d.sel.ProductLink)
}

func (d *Discoverer) count(ctx context.Context, page browser.Page) (int, error) {
	var n int
	if err := page.Evaluate(ctx, countScript.With(d.sel.ProductLink), &n); err != nil {
		return 0, fmt.Errorf("count product links: %w", err)
	}
	return n, nil
}

func (d *Discoverer) collect(ctx context.Context, page browser.Page, fallbackBase, selector string) ([]string, error) {
	var hrefs []string
	if err := page.Evaluate(ctx, collectLinksScript.With(selector), &hrefs); err != nil {
		return nil, fmt.Errorf("collect links: %w", err)
	}
	base := fallbackBase
	if current, err := page.URL(ctx); err == nil && current != "" {
		base = current
	}
	return Normalize(base, hrefs), nil
}

// fatal reports errors that must abort the current page rather than end the loop.
func fatal(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, browser.ErrPageClosed) || errors.Is(err, browser.ErrBrowserClosed) {
		return err
	}
	return nil
}

// Normalize resolves hrefs against base, drops fragments, non-http links and
// duplicates, and preserves first-seen order.
func Normalize(base string, hrefs []string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}
	seen := make(map[string]struct{}, len(hrefs))
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if href == "" {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		if baseURL != nil {
			u = baseURL.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		u.Fragment = ""
		abs := u.String()
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

type clickResult struct {
	Found   int `json:"found"`
	Clicked int `json:"clicked"`
}
