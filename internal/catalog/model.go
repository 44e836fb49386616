// Package catalog defines the persisted catalog records shared by the crawl
// and ingestion stages, and the Store contract they are written through.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// ErrInvalidProduct is returned when a product fails validation at the store boundary.
var ErrInvalidProduct = errors.New("invalid product")

// DefaultVariantLabel labels the synthetic variant of a product page without a size selector.
const DefaultVariantLabel = "Default"

// CategoryStatus mirrors the categories.status column.
type CategoryStatus string

// Category statuses persisted in categories.status.
const (
	CategoryPending CategoryStatus = "pending"
	CategoryDone    CategoryStatus = "done"
	CategoryFailed  CategoryStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s CategoryStatus) Valid() bool {
	switch s {
	case CategoryPending, CategoryDone, CategoryFailed:
		return true
	default:
		return false
	}
}

// Category is a node in the site's navigation tree.
type Category struct {
	URL         string
	Status      CategoryStatus
	LastAttempt *time.Time
	Attempts    int
}

// ProductLink is a discovered product-detail URL.
type ProductLink struct {
	URL          string
	CategoryURL  *string
	DiscoveredAt time.Time
	Scraped      bool
	ScrapedAt    *time.Time
}

// Prices holds the four independently optional price tiers of a product.
// A nil field means the tier does not apply, never zero.
type Prices struct {
	RegularPrice *string `json:"regularPrice,omitempty"`
	SpecialPrice *string `json:"specialPrice,omitempty"`
	LoyaltyPrice *string `json:"loyaltyPrice,omitempty"`
	OldPrice     *string `json:"oldPrice,omitempty"`
}

// Attribute is one label/value row of the product attribute panel.
type Attribute struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Variant maps a size/option label to the SKU it resolves to.
type Variant struct {
	Size string `json:"size"`
	SKU  string `json:"sku"`
}

// Product is the canonical record for one purchasable SKU.
type Product struct {
	SKU         string
	URL         string
	Title       string
	Description string
	Image       string
	Prices      Prices
	Attributes  []Attribute
	Sizes       []Variant
	ScrapedAt   time.Time
}

// AlternateSKU resolves a secondary identifier to a canonical product SKU.
type AlternateSKU struct {
	ProductSKU string
	AltSKU     string
}

// Stats summarizes the catalog contents.
type Stats struct {
	Categories      map[CategoryStatus]int
	ProductLinks    int
	ScrapedLinks    int
	Products        int
	AlternateSKUs   int
	LastProductScan *time.Time
}

// Validate checks a product before it is written.
func (p Product) Validate() error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrInvalidProduct)
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("%w: url is required for sku %s", ErrInvalidProduct, p.SKU)
	}
	if err := p.Prices.Validate(); err != nil {
		return fmt.Errorf("%w: sku %s: %w", ErrInvalidProduct, p.SKU, err)
	}
	for i, v := range p.Sizes {
		if strings.TrimSpace(v.SKU) == "" {
			return fmt.Errorf("%w: sku %s: variant %d has no sku", ErrInvalidProduct, p.SKU, i)
		}
	}
	return nil
}

// Validate ensures every present price tier is a decimal number.
func (p Prices) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"regularPrice", p.RegularPrice},
		{"specialPrice", p.SpecialPrice},
		{"loyaltyPrice", p.LoyaltyPrice},
		{"oldPrice", p.OldPrice},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if _, err := strconv.ParseFloat(*f.value, 64); err != nil {
			return fmt.Errorf("%s %q is not numeric", f.name, *f.value)
		}
	}
	return nil
}

// AlternateSKUs derives alias rows from the product's "SKU" attribute, a
// comma separated list that may include the canonical SKU itself.
func AlternateSKUs(p Product) []AlternateSKU {
	var raw string
	for _, attr := range p.Attributes {
		if strings.EqualFold(strings.TrimSpace(attr.Label), "sku") {
			raw = attr.Data
			break
		}
	}
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []AlternateSKU
	for _, part := range strings.Split(raw, ",") {
		alt := strings.TrimSpace(part)
		if alt == "" || alt == p.SKU {
			continue
		}
		if _, ok := seen[alt]; ok {
			continue
		}
		seen[alt] = struct{}{}
		out = append(out, AlternateSKU{ProductSKU: p.SKU, AltSKU: alt})
	}
	return out
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
