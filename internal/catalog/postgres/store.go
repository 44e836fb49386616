// Package postgres implements catalog.Store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists the catalog in Postgres. Every write is a single statement.
type Store struct {
	pool pool
	now  func() time.Time
}

var _ catalog.Store = (*Store)(nil)

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p, now: func() time.Time { return time.Now().UTC() }}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, now func() time.Time) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{pool: p, now: now}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureCategories inserts pending rows for URLs not yet known.
func (s *Store) EnsureCategories(ctx context.Context, urls []string) (int, error) {
	urls = compact(urls)
	if len(urls) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO categories (url, status, attempts)
		SELECT u, 'pending', 0 FROM unnest($1::text[]) AS u
		ON CONFLICT (url) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query, urls)
	if err != nil {
		return 0, fmt.Errorf("insert categories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecordCategoryAttempt bumps attempts, stamps last_attempt and sets status.
func (s *Store) RecordCategoryAttempt(
	ctx context.Context,
	url string,
	status catalog.CategoryStatus,
	at time.Time,
) (catalog.Category, error) {
	if !status.Valid() {
		return catalog.Category{}, fmt.Errorf("invalid category status %q", status)
	}
	const query = `
		INSERT INTO categories (url, status, last_attempt, attempts)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (url) DO UPDATE
		SET status = EXCLUDED.status,
			last_attempt = EXCLUDED.last_attempt,
			attempts = categories.attempts + 1
		RETURNING url, status, last_attempt, attempts;
	`
	cat, err := scanCategory(s.pool.QueryRow(ctx, query, url, string(status), at))
	if err != nil {
		return catalog.Category{}, fmt.Errorf("record category attempt: %w", err)
	}
	return cat, nil
}

// Category loads a category by URL.
func (s *Store) Category(ctx context.Context, url string) (catalog.Category, error) {
	const query = `SELECT url, status, last_attempt, attempts FROM categories WHERE url = $1;`
	cat, err := scanCategory(s.pool.QueryRow(ctx, query, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Category{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Category{}, fmt.Errorf("load category: %w", err)
	}
	return cat, nil
}

// CategoriesToCrawl lists categories not done with attempts below maxAttempts.
func (s *Store) CategoriesToCrawl(ctx context.Context, maxAttempts int) ([]catalog.Category, error) {
	const query = `
		SELECT url, status, last_attempt, attempts FROM categories
		WHERE status <> 'done' AND attempts < $1
		ORDER BY url;
	`
	return s.queryCategories(ctx, query, maxAttempts)
}

// AllCategories lists every category.
func (s *Store) AllCategories(ctx context.Context) ([]catalog.Category, error) {
	const query = `SELECT url, status, last_attempt, attempts FROM categories ORDER BY url;`
	return s.queryCategories(ctx, query)
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...any) ([]catalog.Category, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

// AddProductLinks inserts unseen links in one statement.
func (s *Store) AddProductLinks(ctx context.Context, categoryURL string, urls []string) (int, error) {
	urls = compact(urls)
	if len(urls) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO product_links (url, category_url, discovered_at)
		SELECT u, $2, $3 FROM unnest($1::text[]) AS u
		ON CONFLICT (url) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query, urls, catalog.StringPtr(categoryURL), s.now())
	if err != nil {
		return 0, fmt.Errorf("insert product links: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ProductLinksToScrape returns links not yet marked scraped or without a
// product row, adding links last scraped before staleBefore when it is set.
func (s *Store) ProductLinksToScrape(ctx context.Context, staleBefore *time.Time) ([]catalog.ProductLink, error) {
	const query = `
		SELECT pl.url, pl.category_url, pl.discovered_at, pl.scraped, pl.scraped_at
		FROM product_links pl
		WHERE NOT pl.scraped
			OR NOT EXISTS (SELECT 1 FROM products p WHERE p.url = pl.url)
			OR ($1::timestamptz IS NOT NULL AND (pl.scraped_at IS NULL OR pl.scraped_at < $1))
		ORDER BY pl.url;
	`
	rows, err := s.pool.Query(ctx, query, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("query product links: %w", err)
	}
	defer rows.Close()
	var out []catalog.ProductLink
	for rows.Next() {
		var link catalog.ProductLink
		if err := rows.Scan(&link.URL, &link.CategoryURL, &link.DiscoveredAt, &link.Scraped, &link.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan product link: %w", err)
		}
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product links: %w", err)
	}
	return out, nil
}

// MarkProductLinkScraped flags a link as extracted.
func (s *Store) MarkProductLinkScraped(ctx context.Context, url string, at time.Time) error {
	const query = `UPDATE product_links SET scraped = TRUE, scraped_at = $1 WHERE url = $2;`
	tag, err := s.pool.Exec(ctx, query, at, url)
	if err != nil {
		return fmt.Errorf("mark product link scraped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// UpsertProduct validates p and replaces any row with the same SKU.
func (s *Store) UpsertProduct(ctx context.Context, p catalog.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	prices, attrs, sizes, err := marshalProduct(p)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO products (sku, url, title, image, description, prices, attributes, sizes, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sku) DO UPDATE
		SET url = EXCLUDED.url,
			title = EXCLUDED.title,
			image = EXCLUDED.image,
			description = EXCLUDED.description,
			prices = EXCLUDED.prices,
			attributes = EXCLUDED.attributes,
			sizes = EXCLUDED.sizes,
			scraped_at = EXCLUDED.scraped_at;
	`
	_, err = s.pool.Exec(ctx, query,
		p.SKU,
		p.URL,
		p.Title,
		p.Image,
		p.Description,
		prices,
		attrs,
		sizes,
		p.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.SKU, err)
	}
	return nil
}

// Product loads a product by canonical SKU.
func (s *Store) Product(ctx context.Context, sku string) (catalog.Product, error) {
	const query = `
		SELECT sku, url, COALESCE(title, ''), COALESCE(image, ''), COALESCE(description, ''),
			prices, attributes, sizes, scraped_at
		FROM products WHERE sku = $1;
	`
	var (
		p                    catalog.Product
		prices, attrs, sizes []byte
	)
	err := s.pool.QueryRow(ctx, query, sku).Scan(
		&p.SKU, &p.URL, &p.Title, &p.Image, &p.Description,
		&prices, &attrs, &sizes, &p.ScrapedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("load product: %w", err)
	}
	if err := json.Unmarshal(prices, &p.Prices); err != nil {
		return catalog.Product{}, fmt.Errorf("decode prices: %w", err)
	}
	if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
		return catalog.Product{}, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal(sizes, &p.Sizes); err != nil {
		return catalog.Product{}, fmt.Errorf("decode sizes: %w", err)
	}
	return p, nil
}

// AddAlternateSKUs inserts unseen alias rows in one statement.
func (s *Store) AddAlternateSKUs(ctx context.Context, alts []catalog.AlternateSKU) (int, error) {
	products := make([]string, 0, len(alts))
	altSKUs := make([]string, 0, len(alts))
	for _, alt := range alts {
		if alt.AltSKU == "" || alt.AltSKU == alt.ProductSKU {
			continue
		}
		products = append(products, alt.ProductSKU)
		altSKUs = append(altSKUs, alt.AltSKU)
	}
	if len(altSKUs) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO product_alternate_skus (product_sku, alt_sku)
		SELECT p, a FROM unnest($1::text[], $2::text[]) AS t(p, a)
		ON CONFLICT (alt_sku) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query, products, altSKUs)
	if err != nil {
		return 0, fmt.Errorf("insert alternate skus: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats reports row counts across the four tables.
func (s *Store) Stats(ctx context.Context) (catalog.Stats, error) {
	stats := catalog.Stats{Categories: make(map[catalog.CategoryStatus]int)}
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM categories GROUP BY status;`)
	if err != nil {
		return stats, fmt.Errorf("count categories: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan category count: %w", err)
		}
		stats.Categories[catalog.CategoryStatus(status)] = int(count)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate category counts: %w", err)
	}

	const query = `
		SELECT
			(SELECT COUNT(*) FROM product_links),
			(SELECT COUNT(*) FROM product_links WHERE scraped),
			(SELECT COUNT(*) FROM products),
			(SELECT COUNT(*) FROM product_alternate_skus),
			(SELECT MAX(scraped_at) FROM products);
	`
	var links, scraped, products, alts int64
	if err := s.pool.QueryRow(ctx, query).Scan(&links, &scraped, &products, &alts, &stats.LastProductScan); err != nil {
		return stats, fmt.Errorf("count catalog rows: %w", err)
	}
	stats.ProductLinks = int(links)
	stats.ScrapedLinks = int(scraped)
	stats.Products = int(products)
	stats.AlternateSKUs = int(alts)
	return stats, nil
}

func scanCategory(row pgx.Row) (catalog.Category, error) {
	var (
		cat    catalog.Category
		status string
	)
	if err := row.Scan(&cat.URL, &status, &cat.LastAttempt, &cat.Attempts); err != nil {
		return catalog.Category{}, err
	}
	cat.Status = catalog.CategoryStatus(status)
	return cat, nil
}

func marshalProduct(p catalog.Product) (prices, attrs, sizes []byte, err error) {
	if prices, err = json.Marshal(p.Prices); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal prices: %w", err)
	}
	attributes := p.Attributes
	if attributes == nil {
		attributes = []catalog.Attribute{}
	}
	if attrs, err = json.Marshal(attributes); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal attributes: %w", err)
	}
	variants := p.Sizes
	if variants == nil {
		variants = []catalog.Variant{}
	}
	if sizes, err = json.Marshal(variants); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sizes: %w", err)
	}
	return prices, attrs, sizes, nil
}

func compact(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
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
