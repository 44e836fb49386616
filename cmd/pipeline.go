package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [seeds...]",
		Short: "Walks seed categories and queues product links",
		Long: `Walks every seed category and its subcategories, expanding listings
until no more products load, and records each product link. Seeds default to
discovery.seeds. Failed categories are retried within the run up to
discovery.max_retries more times. Categories already done are skipped unless
--full is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, runErr := a.Discover(cmd.Context(), args)
			if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if runErr == nil {
				a.Logger().Info("discover command finished", zap.Int("failures", len(rep.Failures)))
			}
			return runErr
		},
	}
	cmd.Flags().Bool("full", false, "re-walk categories that are already done")
	cmd.Flags().Int("max-retries", 0, "retry generations for failed categories (overrides discovery.max_retries)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Scrapes every queued product link",
		Long: `Scrapes each product link that has no product record yet, or whose
last scrape is older than --stale-after, and writes the products and their
alternate SKUs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rep, runErr := a.Ingest(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Int("workers", 0, "concurrent product pages (overrides ingest.workers)")
	cmd.Flags().Duration("stale-after", 0, "re-scrape links scraped longer ago than this")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [seeds...]",
		Short: "Runs discovery then ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			run, runErr := a.RunAll(cmd.Context(), args)
			if err := printJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Bool("full", false, "re-walk categories that are already done")
	cmd.Flags().Int("max-retries", 0, "retry generations for failed categories (overrides discovery.max_retries)")
	cmd.Flags().Int("workers", 0, "concurrent product pages (overrides ingest.workers)")
	cmd.Flags().Duration("stale-after", 0, "re-scrape links scraped longer ago than this")
	return cmd
}
