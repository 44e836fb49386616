// Package app builds the long-lived services a command needs from Config and
// runs the discovery and ingestion stages against them.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	catalogmemory "github.com/JakeFAU/catalog-crawler/internal/catalog/memory"
	"github.com/JakeFAU/catalog-crawler/internal/catalog/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/extractor"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
	publishermemory "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/report"
	"github.com/JakeFAU/catalog-crawler/internal/server"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// Run modes recorded in archived reports.
const (
	ModeDiscover = "discover"
	ModeIngest   = "ingest"
	ModeRun      = "run"
)

// BrowserFactory starts a browser.
type BrowserFactory func(ctx context.Context, cfg browser.Config, logger *zap.Logger) (browser.Browser, error)

// Migrator is implemented by stores that own their schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the shared services for one command invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    catalog.Store
	clock    catalog.Clock
	archiver *report.Archiver

	newBrowser BrowserFactory
	discoverer orchestrator.LinkDiscoverer
	extractor  *extractor.Extractor
	closers    []func() error
}

// Option customizes an App.
type Option func(*App)

// WithStore replaces the configured catalog store.
func WithStore(store catalog.Store) Option {
	return func(a *App) { a.store = store }
}

// WithBrowserFactory replaces Chrome.
func WithBrowserFactory(f BrowserFactory) Option {
	return func(a *App) { a.newBrowser = f }
}

// WithDiscoverer replaces the DOM-driven link discoverer.
func WithDiscoverer(d orchestrator.LinkDiscoverer) Option {
	return func(a *App) { a.discoverer = d }
}

// WithClock replaces the system clock.
func WithClock(c catalog.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithArchiver replaces the configured report archiver.
func WithArchiver(ar *report.Archiver) Option {
	return func(a *App) { a.archiver = ar }
}

// New opens the catalog store and the report archive described by cfg. It
// fails fast when a configured backend is unreachable.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		newBrowser: func(ctx context.Context, bc browser.Config, l *zap.Logger) (browser.Browser, error) {
			c, err := browser.NewChrome(ctx, bc, l)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.discoverer == nil {
		a.discoverer = discovery.New(cfg.Selectors.Discovery, cfg.DiscoveryOptions(), logger.Named("discovery"))
	}
	a.extractor = extractor.New(cfg.Selectors.Product, cfg.ExtractorOptions(), a.clock, logger.Named("extractor"))

	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	if a.archiver == nil {
		if err := a.openArchive(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.logger.Warn("using in-memory catalog store; nothing will be persisted")
		a.store = catalogmemory.New()
	case config.BackendPostgres, "":
		pg, err := postgres.NewStore(ctx, a.cfg.PostgresOptions())
		if err != nil {
			return fmt.Errorf("open catalog store: %w", err)
		}
		a.logger.Info("postgres catalog store connected")
		a.store = pg
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	var blobs report.BlobStore
	switch a.cfg.Report.Store {
	case config.BackendNone, "":
	case config.BackendMemory:
		blobs = memorystorage.NewBlobStore()
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.LocalDir})
		if err != nil {
			return fmt.Errorf("open local report store: %w", err)
		}
		blobs = store
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Report.GCSBucket}, a.logger)
		if err != nil {
			return fmt.Errorf("open gcs report store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
	default:
		return fmt.Errorf("unknown report store %q", a.cfg.Report.Store)
	}

	var pub report.Publisher
	switch {
	case a.cfg.PubSub.ProjectID != "":
		p, err := gcppublisher.Open(ctx, gcppublisher.Config{
			ProjectID: a.cfg.PubSub.ProjectID,
			TopicID:   a.cfg.PubSub.Topic,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("open pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		pub = p
	case a.cfg.Report.Store == config.BackendMemory:
		pub = publishermemory.New()
	}
	a.archiver = report.NewArchiver(blobs, pub, a.cfg.PubSub.Topic, a.cfg.Report.Prefix, a.logger.Named("report"))
	return nil
}

// Store returns the catalog store.
func (a *App) Store() catalog.Store {
	return a.store
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Extractor returns the product extractor.
func (a *App) Extractor() *extractor.Extractor {
	return a.extractor
}

// Migrate applies the store schema when the store has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(Migrator)
	if !ok {
		a.logger.Info("catalog store has no schema to migrate")
		return nil
	}
	return m.Migrate(ctx)
}

// Ready pings the store when it supports it.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Server builds the health and metrics endpoint.
func (a *App) Server() *server.Server {
	return server.New(a.Ready, a.logger.Named("http"))
}

// OpenBrowser starts a browser with the configured options.
func (a *App) OpenBrowser(ctx context.Context) (browser.Browser, error) {
	br, err := a.newBrowser(ctx, a.cfg.BrowserOptions(), a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return br, nil
}

// Discover walks seeds with a fresh browser. seeds default to the configured
// list when empty.
func (a *App) Discover(ctx context.Context, seeds []string) (report.Discovery, error) {
	var rep report.Discovery
	err := a.withBrowser(ctx, func(br browser.Browser) error {
		var runErr error
		rep, runErr = a.discover(ctx, br, seeds)
		return runErr
	})
	a.archive(ctx, report.Run{RunID: rep.RunID, Mode: ModeDiscover, Discovery: &rep}, err)
	return rep, err
}

// Ingest scrapes every queued product link with a fresh browser.
func (a *App) Ingest(ctx context.Context) (report.Ingestion, error) {
	var rep report.Ingestion
	err := a.withBrowser(ctx, func(br browser.Browser) error {
		var runErr error
		rep, runErr = a.ingest(ctx, br)
		return runErr
	})
	a.archive(ctx, report.Run{RunID: rep.RunID, Mode: ModeIngest, Ingestion: &rep}, err)
	return rep, err
}

// RunAll runs discovery then ingestion on one browser and archives a single
// combined report. Ingestion is skipped when discovery ended fatally.
func (a *App) RunAll(ctx context.Context, seeds []string) (report.Run, error) {
	run := report.Run{RunID: uuid.New(), Mode: ModeRun}
	err := a.withBrowser(ctx, func(br browser.Browser) error {
		disc, err := a.discover(ctx, br, seeds)
		run.Discovery = &disc
		if err != nil {
			return err
		}
		ing, err := a.ingest(ctx, br)
		run.Ingestion = &ing
		return err
	})
	a.archive(ctx, run, err)
	return run, err
}

func (a *App) discover(ctx context.Context, br browser.Browser, seeds []string) (report.Discovery, error) {
	if len(seeds) == 0 {
		seeds = a.cfg.Discovery.Seeds
	}
	o := orchestrator.New(a.store, br, a.discoverer, a.clock, a.cfg.OrchestratorOptions(), a.logger.Named("orchestrator"))
	return o.Run(ctx, seeds)
}

func (a *App) ingest(ctx context.Context, br browser.Browser) (report.Ingestion, error) {
	pool := ingest.New(a.store, br, a.extractor, a.clock, a.cfg.IngestOptions(), a.logger.Named("ingest"))
	return pool.Run(ctx)
}

func (a *App) withBrowser(ctx context.Context, fn func(browser.Browser) error) error {
	br, err := a.OpenBrowser(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := br.Close(); closeErr != nil {
			a.logger.Warn("close browser", zap.Error(closeErr))
		}
	}()
	return fn(br)
}

func (a *App) archive(ctx context.Context, run report.Run, runErr error) {
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if _, err := a.archiver.Archive(context.WithoutCancel(ctx), run, a.clock.Now()); err != nil {
		a.logger.Warn("archive run report", zap.String("run_id", run.RunID.String()), zap.Error(err))
	}
}

// Close releases every opened resource.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.store != nil {
		a.store.Close()
	}
	return errors.Join(errs...)
}
