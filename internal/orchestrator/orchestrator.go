// Package orchestrator drives discovery over the category tree: seeds yield
// listing categories, listings yield product links, and failed categories are
// retried in bounded generations.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/report"
)

// LinkDiscoverer finds links on a page it is handed.
type LinkDiscoverer interface {
	Subcategories(ctx context.Context, page browser.Page, categoryURL string) ([]string, error)
	ProductLinks(ctx context.Context, page browser.Page, listingURL string) ([]string, error)
}

// Config controls retries and concurrency.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `mapstructure:"max_retries"`
	// ListingConcurrency bounds the listing stage pool.
	ListingConcurrency int `mapstructure:"listing_concurrency"`
	// Full re-walks categories that are already done.
	Full bool `mapstructure:"full"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, ListingConcurrency: 2}
}

// Orchestrator runs discovery against a catalog store.
type Orchestrator struct {
	store   catalog.Store
	browser browser.Browser
	disc    LinkDiscoverer
	clock   catalog.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds an Orchestrator. A negative MaxRetries is treated as zero.
func New(
	store catalog.Store,
	br browser.Browser,
	disc LinkDiscoverer,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ListingConcurrency <= 0 {
		cfg.ListingConcurrency = DefaultConfig().ListingConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, browser: br, disc: disc, clock: clock, cfg: cfg, logger: logger}
}

func (o *Orchestrator) maxAttempts() int {
	return o.cfg.MaxRetries + 1
}

// Run walks seeds and every listing under them, retrying failed categories in
// up to MaxRetries further generations. Per-category failures end up in the
// report; the returned error is non-nil only when the browser died or ctx was
// cancelled, in which case the report covers the work done so far.
func (o *Orchestrator) Run(ctx context.Context, seeds []string) (report.Discovery, error) {
	return o.run(ctx, seeds, o.cfg.MaxRetries+1)
}

// Pass runs a single generation: one attempt per eligible seed, then one per
// eligible listing.
func (o *Orchestrator) Pass(ctx context.Context, seeds []string) (report.Discovery, error) {
	return o.run(ctx, seeds, 1)
}

func (o *Orchestrator) run(ctx context.Context, seeds []string, generations int) (report.Discovery, error) {
	rep := report.Discovery{RunID: uuid.New(), StartedAt: o.clock.Now()}
	seeds = dedupe(seeds)
	if len(seeds) == 0 {
		return rep, errors.New("at least one seed category is required")
	}
	logger := o.logger.With(zap.String("run_id", rep.RunID.String()))

	if _, err := o.store.EnsureCategories(ctx, seeds); err != nil {
		return rep, fmt.Errorf("register seeds: %w", err)
	}

	t := newTally()
	seedSet := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedSet[s] = struct{}{}
	}

	var runErr error
	for g := 0; g < generations; g++ {
		before := t.failures()
		worked, err := o.generation(ctx, g, seeds, seedSet, t)
		if worked {
			rep.Generations++
		}
		if err != nil {
			runErr = err
			break
		}
		logger.Info("discovery generation finished",
			zap.Int("generation", g),
			zap.Int("failed", t.failures()-before),
		)
		if !worked || t.failures() == before {
			break
		}
	}

	t.fill(&rep)
	rep.FinishedAt = o.clock.Now()
	metrics.ObserveRun("discovery", rep.FinishedAt.Sub(rep.StartedAt))
	logger.Info("discovery finished", rep.Fields()...)
	return rep, runErr
}

// generation runs the seed stage then the listing stage. It reports whether
// any category was eligible.
func (o *Orchestrator) generation(
	ctx context.Context,
	g int,
	seeds []string,
	seedSet map[string]struct{},
	t *tally,
) (bool, error) {
	seedWork, err := o.seedWork(ctx, seeds, g)
	if err != nil {
		return false, err
	}
	if err := o.walkSeeds(ctx, seedWork, t); err != nil {
		return len(seedWork) > 0, err
	}
	listingWork, err := o.listingWork(ctx, seedSet, g)
	if err != nil {
		return len(seedWork) > 0, err
	}
	if err := o.walkListings(ctx, listingWork, t); err != nil {
		return true, err
	}
	return len(seedWork)+len(listingWork) > 0, nil
}

func (o *Orchestrator) eligible(c catalog.Category, g int) bool {
	if c.Status == catalog.CategoryDone {
		return o.cfg.Full && g == 0
	}
	return c.Attempts < o.maxAttempts()
}

func (o *Orchestrator) seedWork(ctx context.Context, seeds []string, g int) ([]string, error) {
	var out []string
	for _, s := range seeds {
		c, err := o.store.Category(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("load seed %s: %w", s, err)
		}
		if o.eligible(c, g) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (o *Orchestrator) listingWork(ctx context.Context, seedSet map[string]struct{}, g int) ([]string, error) {
	var (
		cats []catalog.Category
		err  error
	)
	if o.cfg.Full && g == 0 {
		cats, err = o.store.AllCategories(ctx)
	} else {
		cats, err = o.store.CategoriesToCrawl(ctx, o.maxAttempts())
	}
	if err != nil {
		return nil, fmt.Errorf("load listing work: %w", err)
	}
	var out []string
	for _, c := range cats {
		if _, isSeed := seedSet[c.URL]; isSeed || !o.eligible(c, g) {
			continue
		}
		out = append(out, c.URL)
	}
	return out, nil
}

// walkSeeds fans out one task per seed. Subcategories are persisted as soon
// as each seed returns them.
func (o *Orchestrator) walkSeeds(ctx context.Context, urls []string, t *tally) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, u := range urls {
		eg.Go(func() error {
			return o.visit(egCtx, u, report.StageSeed, t, func(page browser.Page) error {
				subs, err := o.disc.Subcategories(egCtx, page, u)
				if err != nil {
					return err
				}
				added, err := o.store.EnsureCategories(egCtx, subs)
				if err != nil {
					return fmt.Errorf("persist subcategories: %w", err)
				}
				t.addSubcategories(added)
				return nil
			})
		})
	}
	return eg.Wait()
}

// walkListings runs a bounded pool over listing categories.
func (o *Orchestrator) walkListings(ctx context.Context, urls []string, t *tally) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.cfg.ListingConcurrency)
	for _, u := range urls {
		eg.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			return o.visit(egCtx, u, report.StageListing, t, func(page browser.Page) error {
				links, err := o.disc.ProductLinks(egCtx, page, u)
				if err != nil {
					return err
				}
				added, err := o.store.AddProductLinks(egCtx, u, links)
				if err != nil {
					return fmt.Errorf("persist product links: %w", err)
				}
				metrics.AddProductLinks(added)
				t.addLinks(added)
				return nil
			})
		})
	}
	return eg.Wait()
}

// visit opens a page for url, runs work on it and records the attempt. Only
// fatal errors are returned; they cancel the sibling tasks.
func (o *Orchestrator) visit(
	ctx context.Context,
	url, stage string,
	t *tally,
	work func(browser.Page) error,
) error {
	page, err := o.browser.NewPage(ctx)
	if err == nil {
		err = work(page)
		if closeErr := page.Close(); closeErr != nil {
			o.logger.Debug("close page", zap.String("url", url), zap.Error(closeErr))
		}
	}
	if fatalErr := fatal(ctx, err); fatalErr != nil {
		return fatalErr
	}

	status := catalog.CategoryDone
	if err != nil {
		status = catalog.CategoryFailed
		o.logger.Warn("category attempt failed",
			zap.String("url", url),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
	c, recErr := o.store.RecordCategoryAttempt(ctx, url, status, o.clock.Now())
	if recErr != nil {
		o.logger.Error("record category attempt",
			zap.String("url", url),
			zap.String("status", string(status)),
			zap.Error(recErr),
		)
		if err == nil {
			err = fmt.Errorf("record attempt: %w", recErr)
		}
		status = catalog.CategoryFailed
	}
	metrics.ObserveCategory(stage, string(status))
	t.record(url, stage, err, c.Attempts)
	return nil
}

func fatal(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, browser.ErrBrowserClosed) {
		return err
	}
	return nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// tally accumulates outcomes across generations.
type tally struct {
	mu            sync.Mutex
	attempted     int
	done          int
	failed        int
	subcategories int
	links         int
	open          map[string]report.Failure
}

func newTally() *tally {
	return &tally{open: make(map[string]report.Failure)}
}

func (t *tally) record(url, stage string, err error, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempted++
	if err == nil {
		t.done++
		delete(t.open, url)
		return
	}
	t.failed++
	t.open[url] = report.Failure{
		URL:   url,
		Stage: stage,
		Error: fmt.Sprintf("%v (attempt %d)", err, attempts),
	}
}

func (t *tally) failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

func (t *tally) addSubcategories(n int) {
	t.mu.Lock()
	t.subcategories += n
	t.mu.Unlock()
}

func (t *tally) addLinks(n int) {
	t.mu.Lock()
	t.links += n
	t.mu.Unlock()
}

func (t *tally) fill(rep *report.Discovery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep.CategoriesAttempted = t.attempted
	rep.CategoriesDone = t.done
	rep.CategoriesFailed = len(t.open)
	rep.SubcategoriesFound = t.subcategories
	rep.ProductLinksFound = t.links
	rep.Failures = make([]report.Failure, 0, len(t.open))
	for _, f := range t.open {
		rep.Failures = append(rep.Failures, f)
	}
	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].URL < rep.Failures[j].URL })
}
