package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/extractor"
)

type scrapeOutput struct {
	URL          string                        `json:"url"`
	Products     []catalog.Product             `json:"products"`
	Availability []extractor.StoreAvailability `json:"availability,omitempty"`
}

func newScrapeCmd() *cobra.Command {
	var (
		availability bool
		size         string
	)
	cmd := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Scrapes one product page and prints it as JSON",
		Long: `Loads a single product page with the configured browser and selectors
and prints the extracted records without writing them. Useful for checking
selectors against the live site.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			br, err := a.OpenBrowser(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := br.Close(); err != nil {
					a.Logger().Warn("close browser", zap.Error(err))
				}
			}()
			page, err := br.NewPage(ctx)
			if err != nil {
				return fmt.Errorf("open tab: %w", err)
			}
			defer func() { _ = page.Close() }()

			out := scrapeOutput{URL: args[0]}
			if err := page.Navigate(ctx, out.URL); err != nil {
				return err
			}
			out.Products, err = a.Extractor().Extract(ctx, page)
			if err != nil {
				return fmt.Errorf("extract %s: %w", out.URL, err)
			}
			if availability {
				out.Availability, err = a.Extractor().Availability(ctx, page, size)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&availability, "availability", false, "also read per-store availability")
	cmd.Flags().StringVar(&size, "size", "", "variant option value to select before reading availability")
	return cmd
}
