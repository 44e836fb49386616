package catalog

import (
	"context"
	"time"
)

// Store persists the catalog. Every write is either insert-if-absent or a
// full-row replace, so implementations must be safe for concurrent callers
// issuing overlapping writes for the same keys.
type Store interface {
	// EnsureCategories inserts pending categories that do not exist yet.
	EnsureCategories(ctx context.Context, urls []string) (int, error)
	// RecordCategoryAttempt increments the attempt count, stamps last_attempt
	// and sets the outcome status.
	RecordCategoryAttempt(ctx context.Context, url string, status CategoryStatus, at time.Time) (Category, error)
	// Category loads one category or returns ErrNotFound.
	Category(ctx context.Context, url string) (Category, error)
	// CategoriesToCrawl lists categories not yet done with fewer than maxAttempts attempts.
	CategoriesToCrawl(ctx context.Context, maxAttempts int) ([]Category, error)
	// AllCategories lists every known category.
	AllCategories(ctx context.Context) ([]Category, error)

	// AddProductLinks inserts links that do not exist yet.
	AddProductLinks(ctx context.Context, categoryURL string, urls []string) (int, error)
	// ProductLinksToScrape lists links not marked scraped, links with no
	// product row for their URL and, when staleBefore is set, links last
	// scraped before it.
	ProductLinksToScrape(ctx context.Context, staleBefore *time.Time) ([]ProductLink, error)
	// MarkProductLinkScraped flags a link as successfully extracted.
	MarkProductLinkScraped(ctx context.Context, url string, at time.Time) error

	// UpsertProduct inserts the product or replaces the existing row wholesale.
	UpsertProduct(ctx context.Context, p Product) error
	// Product loads one product by canonical SKU or returns ErrNotFound.
	Product(ctx context.Context, sku string) (Product, error)
	// AddAlternateSKUs inserts alias rows that do not exist yet.
	AddAlternateSKUs(ctx context.Context, alts []AlternateSKU) (int, error)

	// Stats reports row counts across the catalog.
	Stats(ctx context.Context) (Stats, error)
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
