package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type statsOutput struct {
	Categories      map[catalog.CategoryStatus]int `json:"categories"`
	ProductLinks    int                            `json:"productLinks"`
	ScrapedLinks    int                            `json:"scrapedLinks"`
	PendingLinks    int                            `json:"pendingLinks"`
	Products        int                            `json:"products"`
	AlternateSKUs   int                            `json:"alternateSkus"`
	LastProductScan *time.Time                     `json:"lastProductScan,omitempty"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Prints catalog counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.Store().Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), statsOutput{
				Categories:      st.Categories,
				ProductLinks:    st.ProductLinks,
				ScrapedLinks:    st.ScrapedLinks,
				PendingLinks:    st.ProductLinks - st.ScrapedLinks,
				Products:        st.Products,
				AlternateSKUs:   st.AlternateSKUs,
				LastProductScan: st.LastProductScan,
			})
		},
	}
}
