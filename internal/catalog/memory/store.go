// Package memory provides an in-memory catalog.Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// Store keeps catalog rows in maps guarded by a single lock. It honors the
// same insert-if-absent and full-replace semantics as the Postgres store.
type Store struct {
	mu         sync.RWMutex
	now        func() time.Time
	categories map[string]catalog.Category
	links      map[string]catalog.ProductLink
	products   map[string]catalog.Product
	alts       map[string]catalog.AlternateSKU
}

var _ catalog.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		categories: make(map[string]catalog.Category),
		links:      make(map[string]catalog.ProductLink),
		products:   make(map[string]catalog.Product),
		alts:       make(map[string]catalog.AlternateSKU),
	}
}

// EnsureCategories inserts pending categories for unseen URLs.
func (s *Store) EnsureCategories(_ context.Context, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := s.categories[url]; ok {
			continue
		}
		s.categories[url] = catalog.Category{URL: url, Status: catalog.CategoryPending}
		inserted++
	}
	return inserted, nil
}

// RecordCategoryAttempt bumps the attempt counter and sets the status.
func (s *Store) RecordCategoryAttempt(
	_ context.Context,
	url string,
	status catalog.CategoryStatus,
	at time.Time,
) (catalog.Category, error) {
	if !status.Valid() {
		return catalog.Category{}, fmt.Errorf("invalid category status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cat, ok := s.categories[url]
	if !ok {
		cat = catalog.Category{URL: url}
	}
	ts := at
	cat.Status = status
	cat.LastAttempt = &ts
	cat.Attempts++
	s.categories[url] = cat
	return cat, nil
}

// Category returns one category by URL.
func (s *Store) Category(_ context.Context, url string) (catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[url]
	if !ok {
		return catalog.Category{}, catalog.ErrNotFound
	}
	return cat, nil
}

// CategoriesToCrawl lists unfinished categories with attempts left.
func (s *Store) CategoriesToCrawl(_ context.Context, maxAttempts int) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Category
	for _, cat := range s.categories {
		if cat.Status == catalog.CategoryDone || cat.Attempts >= maxAttempts {
			continue
		}
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// AllCategories lists every category ordered by URL.
func (s *Store) AllCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Category, 0, len(s.categories))
	for _, cat := range s.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// AddProductLinks inserts unseen links owned by categoryURL.
func (s *Store) AddProductLinks(_ context.Context, categoryURL string, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	now := s.now()
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := s.links[url]; ok {
			continue
		}
		s.links[url] = catalog.ProductLink{
			URL:          url,
			CategoryURL:  catalog.StringPtr(categoryURL),
			DiscoveredAt: now,
		}
		inserted++
	}
	return inserted, nil
}

// ProductLinksToScrape returns unscraped links and links without a product
// row, plus stale ones.
func (s *Store) ProductLinksToScrape(_ context.Context, staleBefore *time.Time) ([]catalog.ProductLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scrapedURLs := make(map[string]struct{}, len(s.products))
	for _, p := range s.products {
		scrapedURLs[p.URL] = struct{}{}
	}
	var out []catalog.ProductLink
	for _, link := range s.links {
		_, hasProduct := scrapedURLs[link.URL]
		stale := staleBefore != nil && (link.ScrapedAt == nil || link.ScrapedAt.Before(*staleBefore))
		if link.Scraped && hasProduct && !stale {
			continue
		}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// MarkProductLinkScraped flags the link as scraped at the given time.
func (s *Store) MarkProductLinkScraped(_ context.Context, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[url]
	if !ok {
		return catalog.ErrNotFound
	}
	ts := at
	link.Scraped = true
	link.ScrapedAt = &ts
	s.links[url] = link
	return nil
}

// UpsertProduct replaces the product stored under the SKU.
func (s *Store) UpsertProduct(_ context.Context, p catalog.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Attributes = append([]catalog.Attribute(nil), p.Attributes...)
	p.Sizes = append([]catalog.Variant(nil), p.Sizes...)
	s.products[p.SKU] = p
	return nil
}

// Product loads a product by SKU.
func (s *Store) Product(_ context.Context, sku string) (catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[sku]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// AddAlternateSKUs inserts unseen alias rows.
func (s *Store) AddAlternateSKUs(_ context.Context, alts []catalog.AlternateSKU) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, alt := range alts {
		if alt.AltSKU == "" || alt.AltSKU == alt.ProductSKU {
			continue
		}
		if _, ok := s.alts[alt.AltSKU]; ok {
			continue
		}
		s.alts[alt.AltSKU] = alt
		inserted++
	}
	return inserted, nil
}

// AlternateSKUs returns all alias rows, for inspection in tests.
func (s *Store) AlternateSKUs() []catalog.AlternateSKU {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.AlternateSKU, 0, len(s.alts))
	for _, alt := range s.alts {
		out = append(out, alt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AltSKU < out[j].AltSKU })
	return out
}

// ProductLinks returns all links, for inspection in tests.
func (s *Store) ProductLinks() []catalog.ProductLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.ProductLink, 0, len(s.links))
	for _, link := range s.links {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Stats counts rows per table.
func (s *Store) Stats(_ context.Context) (catalog.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := catalog.Stats{
		Categories:    make(map[catalog.CategoryStatus]int),
		ProductLinks:  len(s.links),
		Products:      len(s.products),
		AlternateSKUs: len(s.alts),
	}
	for _, cat := range s.categories {
		stats.Categories[cat.Status]++
	}
	for _, link := range s.links {
		if link.Scraped {
			stats.ScrapedLinks++
		}
	}
	for _, p := range s.products {
		if stats.LastProductScan == nil || p.ScrapedAt.After(*stats.LastProductScan) {
			ts := p.ScrapedAt
			stats.LastProductScan = &ts
		}
	}
	return stats, nil
}

// Close is a no-op.
func (s *Store) Close() {}
