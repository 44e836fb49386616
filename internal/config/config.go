// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/discovery"
	"github.com/JakeFAU/catalog-crawler/internal/extractor"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
)

// Store and report backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
	Report    ReportConfig    `mapstructure:"report"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StoreConfig picks the catalog backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// BrowserConfig configures the Chrome process and its tabs.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	Locale            string        `mapstructure:"locale"`
	Timezone          string        `mapstructure:"timezone"`
	BlockedURLs       []string      `mapstructure:"blocked_urls"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	NavigationRetries int           `mapstructure:"navigation_retries"`
	NavigationQPS     float64       `mapstructure:"navigation_qps"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
}

// DiscoveryConfig covers seeds, retries and listing expansion.
type DiscoveryConfig struct {
	Seeds                 []string      `mapstructure:"seeds"`
	MaxRetries            int           `mapstructure:"max_retries"`
	ListingConcurrency    int           `mapstructure:"listing_concurrency"`
	Full                  bool          `mapstructure:"full"`
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	LoadWait              time.Duration `mapstructure:"load_wait"`
	StagnationThreshold   int           `mapstructure:"stagnation_threshold"`
	MaxLoadMoreIterations int           `mapstructure:"max_load_more_iterations"`
}

// IngestConfig sizes the product worker pool.
type IngestConfig struct {
	Workers          int           `mapstructure:"workers"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	VariantWait      time.Duration `mapstructure:"variant_wait"`
	AvailabilityWait time.Duration `mapstructure:"availability_wait"`
}

// SelectorsConfig overrides the target site's CSS selectors.
type SelectorsConfig struct {
	Discovery discovery.Selectors `mapstructure:"discovery"`
	Product   extractor.Selectors `mapstructure:"product"`
}

// ReportConfig controls where run reports are archived.
type ReportConfig struct {
	Store     string `mapstructure:"store"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds the run-complete topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the health and metrics listener. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// Load builds a Config from defaults, an optional file and CATALOG_*
// environment variables. DATABASE_URL is honoured when database.dsn is unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to Unmarshal when set only
	// through the environment.
	for _, key := range []string{
		"logging.file", "database.dsn", "browser.exec_path", "discovery.seeds",
		"report.gcs_bucket", "pubsub.project_id", "pubsub.topic", "server.addr",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("discovery.full", false)
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("store.backend", BackendPostgres)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("browser.accept_language", "lv-LV,lv;q=0.9,en;q=0.8")
	v.SetDefault("browser.locale", "lv-LV")
	v.SetDefault("browser.timezone", "Europe/Riga")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.navigation_retries", 3)
	v.SetDefault("browser.navigation_qps", 2.0)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("discovery.max_retries", 3)
	v.SetDefault("discovery.listing_concurrency", 2)
	v.SetDefault("discovery.settle_delay", "1s")
	v.SetDefault("discovery.load_wait", "4s")
	v.SetDefault("discovery.stagnation_threshold", 3)
	v.SetDefault("discovery.max_load_more_iterations", 500)
	v.SetDefault("ingest.workers", 6)
	v.SetDefault("ingest.stale_after", "0s")
	v.SetDefault("ingest.variant_wait", "5s")
	v.SetDefault("ingest.availability_wait", "5s")
	v.SetDefault("report.store", BackendNone)
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("report.local_dir", "data")
	v.SetDefault("schedule.cron", "0 3 * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn (or DATABASE_URL) is required for the postgres store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be postgres or memory", c.Store.Backend))
	}
	if c.Discovery.MaxRetries < 0 {
		errs = append(errs, errors.New("discovery.max_retries must be >= 0"))
	}
	if c.Discovery.ListingConcurrency <= 0 {
		errs = append(errs, errors.New("discovery.listing_concurrency must be > 0"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("ingest.workers must be > 0"))
	}
	if c.Ingest.StaleAfter < 0 {
		errs = append(errs, errors.New("ingest.stale_after must be >= 0"))
	}
	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("browser.navigation_timeout must be > 0"))
	}
	switch c.Report.Store {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Report.LocalDir == "" {
			errs = append(errs, errors.New("report.local_dir is required for the local report store"))
		}
	case BackendGCS:
		if c.Report.GCSBucket == "" {
			errs = append(errs, errors.New("report.gcs_bucket is required for the gcs report store"))
		}
	default:
		errs = append(errs, fmt.Errorf("report.store %q must be none, local, gcs or memory", c.Report.Store))
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		errs = append(errs, errors.New("pubsub.project_id and pubsub.topic must be set together"))
	}
	return errors.Join(errs...)
}

// BrowserOptions converts the browser section.
func (c Config) BrowserOptions() browser.Config {
	return browser.Config{
		Headless:          c.Browser.Headless,
		ExecPath:          c.Browser.ExecPath,
		UserAgent:         c.Browser.UserAgent,
		AcceptLanguage:    c.Browser.AcceptLanguage,
		Locale:            c.Browser.Locale,
		Timezone:          c.Browser.Timezone,
		BlockedURLs:       c.Browser.BlockedURLs,
		NavigationTimeout: c.Browser.NavigationTimeout,
		NavigationRetries: c.Browser.NavigationRetries,
		NavigationQPS:     c.Browser.NavigationQPS,
		WindowWidth:       c.Browser.WindowWidth,
		WindowHeight:      c.Browser.WindowHeight,
	}
}

// PostgresOptions converts the database section.
func (c Config) PostgresOptions() postgres.Config {
	return postgres.Config{
		DSN:             c.Database.DSN,
		MaxConns:        c.Database.MaxConns,
		MinConns:        c.Database.MinConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
	}
}

// DiscoveryOptions converts the discovery section for the link discoverer.
func (c Config) DiscoveryOptions() discovery.Config {
	return discovery.Config{
		SettleDelay:           c.Discovery.SettleDelay,
		LoadWait:              c.Discovery.LoadWait,
		StagnationThreshold:   c.Discovery.StagnationThreshold,
		MaxLoadMoreIterations: c.Discovery.MaxLoadMoreIterations,
	}
}

// OrchestratorOptions converts the discovery section for the orchestrator.
func (c Config) OrchestratorOptions() orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:         c.Discovery.MaxRetries,
		ListingConcurrency: c.Discovery.ListingConcurrency,
		Full:               c.Discovery.Full,
	}
}

// IngestOptions converts the ingest section for the worker pool.
func (c Config) IngestOptions() ingest.Config {
	return ingest.Config{Workers: c.Ingest.Workers, StaleAfter: c.Ingest.StaleAfter}
}

// ExtractorOptions converts the ingest section for the product extractor.
func (c Config) ExtractorOptions() extractor.Config {
	return extractor.Config{VariantWait: c.Ingest.VariantWait, AvailabilityWait: c.Ingest.AvailabilityWait}
}
