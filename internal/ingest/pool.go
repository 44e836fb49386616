// Package ingest scrapes every queued product link with a fixed pool of
// browser workers and writes the results to the catalog.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/report"
)

// Extractor turns a loaded product page into records.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page) ([]catalog.Product, error)
}

// Config sizes the pool.
type Config struct {
	Workers int `mapstructure:"workers"`
	// StaleAfter re-queues links scraped longer ago than this. Zero disables it.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{Workers: 6}
}

// Pool runs ingestion.
type Pool struct {
	store     catalog.Store
	browser   browser.Browser
	extractor Extractor
	clock     catalog.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Pool.
func New(
	store catalog.Store,
	br browser.Browser,
	extractor Extractor,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{store: store, browser: br, extractor: extractor, clock: clock, cfg: cfg, logger: logger}
}

// Run drains the scrape queue derived from the store. It returns once the
// queue is empty and every worker has exited. Per-URL failures are only
// reported; the error is non-nil when the browser died or ctx was cancelled,
// and the report then covers the URLs finished before that.
func (p *Pool) Run(ctx context.Context) (report.Ingestion, error) {
	rep := report.Ingestion{RunID: uuid.New(), StartedAt: p.clock.Now()}
	logger := p.logger.With(zap.String("run_id", rep.RunID.String()))

	var staleBefore *time.Time
	if p.cfg.StaleAfter > 0 {
		t := rep.StartedAt.Add(-p.cfg.StaleAfter)
		staleBefore = &t
	}
	links, err := p.store.ProductLinksToScrape(ctx, staleBefore)
	if err != nil {
		return rep, fmt.Errorf("load scrape queue: %w", err)
	}
	rep.Queued = len(links)
	logger.Info("ingestion started", zap.Int("queued", rep.Queued), zap.Int("workers", p.cfg.Workers))

	// stopCtx only gates dequeuing; URLs already taken finish on ctx.
	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	setFatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			stop()
		})
	}

	queue := make(chan string)
	results := make(chan report.Outcome)
	collected := make(chan struct{})
	go func() {
		report.Collect(results, &rep)
		close(collected)
	}()

	go func() {
		defer close(queue)
		for _, l := range links {
			select {
			case queue <- l.URL:
			case <-stopCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for url := range queue {
				out, err := p.process(ctx, url)
				if err != nil {
					setFatal(err)
					continue
				}
				results <- out
			}
		}()
	}
	wg.Wait()
	close(results)
	<-collected

	if fatalErr == nil && ctx.Err() != nil {
		fatalErr = ctx.Err()
	}
	rep.FinishedAt = p.clock.Now()
	metrics.ObserveRun("ingest", rep.FinishedAt.Sub(rep.StartedAt))
	logger.Info("ingestion finished", rep.Fields()...)
	return rep, fatalErr
}

// process scrapes one URL. The returned error is set only for failures that
// must stop the pool; everything else is carried in the outcome.
func (p *Pool) process(ctx context.Context, url string) (report.Outcome, error) {
	out := report.Outcome{URL: url}
	logger := p.logger.With(zap.String("url", url))
	fail := func(stage string, err error) (report.Outcome, error) {
		if fatalErr := fatal(ctx, err); fatalErr != nil {
			return out, fatalErr
		}
		metrics.ObserveProductFailure(stage)
		logger.Warn("product failed", zap.String("stage", stage), zap.Error(err))
		out.Stage = stage
		out.Err = err
		return out, nil
	}

	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return fail(report.StagePage, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			logger.Debug("close page", zap.Error(closeErr))
		}
	}()

	if err := page.Navigate(ctx, url); err != nil {
		return fail(report.StageNavigate, err)
	}
	products, err := p.extractor.Extract(ctx, page)
	if err != nil {
		return fail(report.StageExtract, err)
	}

	var persistErrs []error
	for _, prod := range products {
		// Records are keyed to the queued link so the scrape queue's
		// anti-join sees them even when the site redirected.
		prod.URL = url
		if err := p.store.UpsertProduct(ctx, prod); err != nil {
			persistErrs = append(persistErrs, fmt.Errorf("upsert %s: %w", prod.SKU, err))
			continue
		}
		out.Products++
		added, err := p.store.AddAlternateSKUs(ctx, catalog.AlternateSKUs(prod))
		if err != nil {
			persistErrs = append(persistErrs, fmt.Errorf("alternate skus for %s: %w", prod.SKU, err))
			continue
		}
		out.AlternateSKUs += added
	}
	metrics.ObserveProducts(out.Products)
	if len(persistErrs) > 0 {
		return fail(report.StagePersist, errors.Join(persistErrs...))
	}
	if err := p.store.MarkProductLinkScraped(ctx, url, p.clock.Now()); err != nil {
		return fail(report.StageMarkState, err)
	}
	logger.Debug("product scraped", zap.Int("records", out.Products))
	return out, nil
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
