// Package cmd defines the CLI commands for the catalog crawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject in-memory
// backends.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// session owns what PersistentPreRunE opened so Execute can release it even
// when the subcommand fails.
type session struct {
	app    *app.App
	logger *zap.Logger
}

func (s *session) close() {
	if s.app != nil {
		if err := s.app.Close(); err != nil && s.logger != nil {
			s.logger.Warn("close app", zap.Error(err))
		}
		s.app = nil
	}
	if s.logger != nil {
		logging.Sync(s.logger)
		s.logger = nil
	}
}

func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a retail catalog into Postgres.",
		Long: `catalog-crawler walks a retailer's category tree in a headless browser,
queues every product link it finds, and scrapes each product page into a
Postgres catalog. Runs are resumable: finished categories and scraped links
are skipped on the next run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			s.logger = logger
			zap.ReplaceGlobals(logger)
			metrics.Init()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newDiscoverCmd(),
		newIngestCmd(),
		newRunCmd(),
		newScheduleCmd(),
		newScrapeCmd(),
		newStatsCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// applyFlags copies subcommand flags the user set explicitly into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("full") {
		cfg.Discovery.Full, err = flags.GetBool("full")
		if err != nil {
			return err
		}
	}
	if flags.Changed("max-retries") {
		cfg.Discovery.MaxRetries, err = flags.GetInt("max-retries")
		if err != nil {
			return err
		}
	}
	if flags.Changed("workers") {
		cfg.Ingest.Workers, err = flags.GetInt("workers")
		if err != nil {
			return err
		}
	}
	if flags.Changed("stale-after") {
		cfg.Ingest.StaleAfter, err = flags.GetDuration("stale-after")
		if err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	s := &session{}
	err := newRootCmd(s).ExecuteContext(ctx)
	if err != nil && s.logger != nil {
		s.logger.Error("command failed", zap.Error(err))
	}
	s.close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
