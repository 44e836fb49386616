package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock, func() time.Time { return fixedNow })
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, nil)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS categories").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureCategoriesDeduplicatesBeforeInsert(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO categories").
		WithArgs([]string{"https://shop/a", "https://shop/b"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.EnsureCategories(context.Background(), []string{"https://shop/a", "", "https://shop/b", "https://shop/a"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureCategoriesSkipsEmptyInput(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n, err := store.EnsureCategories(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCategoryAttemptReturnsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := fixedNow
	mock.ExpectQuery("INSERT INTO categories").
		WithArgs("https://shop/a", "failed", at).
		WillReturnRows(pgxmock.NewRows([]string{"url", "status", "last_attempt", "attempts"}).
			AddRow("https://shop/a", "failed", &at, 2))

	cat, err := store.RecordCategoryAttempt(context.Background(), "https://shop/a", catalog.CategoryFailed, at)
	require.NoError(t, err)
	require.Equal(t, catalog.CategoryFailed, cat.Status)
	require.Equal(t, 2, cat.Attempts)
	require.Equal(t, at, *cat.LastAttempt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCategoryAttemptRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.RecordCategoryAttempt(context.Background(), "https://shop/a", "retrying", fixedNow)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoryNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT url, status, last_attempt, attempts FROM categories").
		WithArgs("https://shop/missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Category(context.Background(), "https://shop/missing")
	require.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCategoriesToCrawlFiltersByAttempts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("WHERE status <> 'done' AND attempts < ").
		WithArgs(4).
		WillReturnRows(pgxmock.NewRows([]string{"url", "status", "last_attempt", "attempts"}).
			AddRow("https://shop/a", "pending", nil, 0).
			AddRow("https://shop/b", "failed", &fixedNow, 3))

	cats, err := store.CategoriesToCrawl(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Nil(t, cats[0].LastAttempt)
	require.Equal(t, catalog.CategoryFailed, cats[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddProductLinksInsertsBatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO product_links").
		WithArgs([]string{"https://shop/p/1", "https://shop/p/2"}, catalog.StringPtr("https://shop/c"), fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := store.AddProductLinks(context.Background(), "https://shop/c", []string{"https://shop/p/1", "https://shop/p/2"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductLinksToScrapeScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	cutoff := fixedNow.Add(-24 * time.Hour)
	mock.ExpectQuery("FROM product_links pl").
		WithArgs(&cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"url", "category_url", "discovered_at", "scraped", "scraped_at"}).
			AddRow("https://shop/p/1", catalog.StringPtr("https://shop/c"), fixedNow, false, nil))

	links, err := store.ProductLinksToScrape(context.Background(), &cutoff)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "https://shop/c", *links[0].CategoryURL)
	require.Nil(t, links[0].ScrapedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductLinksToScrapeIncludesUnmarkedLinks(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE NOT pl\.scraped\s+OR NOT EXISTS`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"url", "category_url", "discovered_at", "scraped", "scraped_at"}))

	links, err := store.ProductLinksToScrape(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, links)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProductLinkScrapedMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE product_links SET scraped").
		WithArgs(fixedNow, "https://shop/p/9").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkProductLinkScraped(context.Background(), "https://shop/p/9", fixedNow)
	require.True(t, errors.Is(err, catalog.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductWritesJSONColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := catalog.Product{
		SKU:        "42",
		URL:        "https://shop/p/42",
		Title:      "Kettle",
		Image:      "https://cdn/42.jpg",
		Prices:     catalog.Prices{RegularPrice: catalog.StringPtr("12.50")},
		Attributes: []catalog.Attribute{{Label: "Color", Data: "red"}},
		Sizes:      []catalog.Variant{{Size: catalog.DefaultVariantLabel, SKU: "42"}},
		ScrapedAt:  fixedNow,
	}
	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			"42",
			"https://shop/p/42",
			"Kettle",
			"https://cdn/42.jpg",
			"",
			[]byte(`{"regularPrice":"12.50"}`),
			[]byte(`[{"label":"Color","data":"red"}]`),
			[]byte(`[{"size":"Default","sku":"42"}]`),
			fixedNow,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertProduct(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductRejectsInvalid(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	err := store.UpsertProduct(context.Background(), catalog.Product{SKU: "42"})
	require.True(t, errors.Is(err, catalog.ErrInvalidProduct))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProductDecodesJSONColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM products WHERE sku").
		WithArgs("42").
		WillReturnRows(pgxmock.NewRows([]string{
			"sku", "url", "title", "image", "description", "prices", "attributes", "sizes", "scraped_at",
		}).AddRow(
			"42", "https://shop/p/42", "Kettle", "", "Boils water",
			[]byte(`{"specialPrice":"9.99"}`),
			[]byte(`[{"label":"SKU","data":"42, 7001"}]`),
			[]byte(`[{"size":"1L","sku":"42"},{"size":"2L","sku":"43"}]`),
			fixedNow,
		))

	p, err := store.Product(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "9.99", *p.Prices.SpecialPrice)
	require.Nil(t, p.Prices.RegularPrice)
	require.Len(t, p.Sizes, 2)
	require.Equal(t, "SKU", p.Attributes[0].Label)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAlternateSKUsDropsSelfReferences(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO product_alternate_skus").
		WithArgs([]string{"42"}, []string{"7001"}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.AddAlternateSKUs(context.Background(), []catalog.AlternateSKU{
		{ProductSKU: "42", AltSKU: "42"},
		{ProductSKU: "42", AltSKU: "7001"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsCountsTables(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("done", int64(4)).
			AddRow("failed", int64(1)))
	mock.ExpectQuery("FROM product_alternate_skus").
		WillReturnRows(pgxmock.NewRows([]string{"links", "scraped", "products", "alts", "last"}).
			AddRow(int64(10), int64(7), int64(8), int64(3), &fixedNow))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, stats.Categories[catalog.CategoryDone])
	require.Equal(t, 1, stats.Categories[catalog.CategoryFailed])
	require.Equal(t, 10, stats.ProductLinks)
	require.Equal(t, 7, stats.ScrapedLinks)
	require.Equal(t, 8, stats.Products)
	require.Equal(t, 3, stats.AlternateSKUs)
	require.Equal(t, fixedNow, *stats.LastProductScan)
	require.NoError(t, mock.ExpectationsWereMet())
}
