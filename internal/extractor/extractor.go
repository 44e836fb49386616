// Package extractor turns a loaded product-detail page into catalog records,
// one per purchasable variant.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ErrMissingSKU marks a product page whose SKU element is absent or empty.
var ErrMissingSKU = errors.New("product sku not found")

const skuPollInterval = 50 * time.Millisecond

// Selectors locate product fields on the detail page.
type Selectors struct {
	Title          string `mapstructure:"title"`
	SKU            string `mapstructure:"sku"`
	Description    string `mapstructure:"description"`
	Image          string `mapstructure:"image"`
	ImageAttr      string `mapstructure:"image_attr"`
	SpecialPrice   string `mapstructure:"special_price"`
	RegularPrice   string `mapstructure:"regular_price"`
	LoyaltyPrice   string `mapstructure:"loyalty_price"`
	OldPrice       string `mapstructure:"old_price"`
	PriceAttr      string `mapstructure:"price_attr"`
	AttributePanel string `mapstructure:"attribute_panel"`
	AttributeRow   string `mapstructure:"attribute_row"`
	AttributeLabel string `mapstructure:"attribute_label"`
	AttributeData  string `mapstructure:"attribute_data"`
	VariantSelect  string `mapstructure:"variant_select"`
	Availability   string `mapstructure:"availability"`
}

// DefaultSelectors returns the selectors for the target site's current layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:          "h1.page-title",
		SKU:            "div.product.attribute.sku div.value",
		Description:    ".sales-text-data-wrapper td.col.data",
		Image:          "#mtImageContainer img",
		ImageAttr:      "src",
		SpecialPrice:   ".product-info-main .special-price span.price-wo-currency",
		RegularPrice:   ".product-info-main .price-box:not(:has(.special-price)) span.price-wo-currency",
		LoyaltyPrice:   ".product-info-main .loyalty-price span.price-wo-currency",
		OldPrice:       ".product-info-main .old-price span.price-wo-currency",
		PriceAttr:      "data-value",
		AttributePanel: ".attributes-wrapper",
		AttributeRow:   ".attribute",
		AttributeLabel: ".col.label",
		AttributeData:  ".col.data",
		VariantSelect:  "#product-options-wrapper select.super-attribute-select",
		Availability:   "table.availability-table",
	}
}

func (s Selectors) withDefaults() Selectors {
	def := DefaultSelectors()
	fill := func(dst *string, fallback string) {
		if *dst == "" {
			*dst = fallback
		}
	}
	fill(&s.Title, def.Title)
	fill(&s.SKU, def.SKU)
	fill(&s.Description, def.Description)
	fill(&s.Image, def.Image)
	fill(&s.ImageAttr, def.ImageAttr)
	fill(&s.SpecialPrice, def.SpecialPrice)
	fill(&s.RegularPrice, def.RegularPrice)
	fill(&s.LoyaltyPrice, def.LoyaltyPrice)
	fill(&s.OldPrice, def.OldPrice)
	fill(&s.PriceAttr, def.PriceAttr)
	fill(&s.AttributePanel, def.AttributePanel)
	fill(&s.AttributeRow, def.AttributeRow)
	fill(&s.AttributeLabel, def.AttributeLabel)
	fill(&s.AttributeData, def.AttributeData)
	fill(&s.VariantSelect, def.VariantSelect)
	fill(&s.Availability, def.Availability)
	return s
}

// Config bounds in-page waits.
type Config struct {
	VariantWait      time.Duration
	AvailabilityWait time.Duration
}

// Extractor reads product records from a page that is already loaded.
type Extractor struct {
	sel    Selectors
	cfg    Config
	clock  catalog.Clock
	logger *zap.Logger
}

// New builds an Extractor.
func New(sel Selectors, cfg Config, clock catalog.Clock, logger *zap.Logger) *Extractor {
	if cfg.VariantWait <= 0 {
		cfg.VariantWait = 5 * time.Second
	}
	if cfg.AvailabilityWait <= 0 {
		cfg.AvailabilityWait = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{sel: sel.withDefaults(), cfg: cfg, clock: clock, logger: logger}
}

type variantOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type variantControl struct {
	Present bool            `json:"present"`
	Options []variantOption `json:"options"`
}

// Extract returns one product per variant. A page without a variant control
// yields a single product whose only size is DefaultVariantLabel. Every
// record carries the full label to SKU list of its siblings.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) ([]catalog.Product, error) {
	var control variantControl
	if err := page.Evaluate(ctx, variantOptionsScript.With(e.sel.VariantSelect), &control); err != nil {
		return nil, fmt.Errorf("read variant options: %w", err)
	}
	if !control.Present || len(control.Options) == 0 {
		p, err := e.scrape(ctx, page)
		if err != nil {
			return nil, err
		}
		p.Sizes = []catalog.Variant{{Size: catalog.DefaultVariantLabel, SKU: p.SKU}}
		return []catalog.Product{p}, nil
	}

	products := make([]catalog.Product, 0, len(control.Options))
	sizes := make([]catalog.Variant, 0, len(control.Options))
	prevSKU := ""
	for _, opt := range control.Options {
		if err := e.selectVariant(ctx, page, opt.Value); err != nil {
			return nil, fmt.Errorf("select variant %q: %w", opt.Label, err)
		}
		if prevSKU != "" {
			if err := e.waitForSKUChange(ctx, page, prevSKU); err != nil {
				return nil, fmt.Errorf("variant %q: %w", opt.Label, err)
			}
		}
		p, err := e.scrape(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", opt.Label, err)
		}
		products = append(products, p)
		sizes = append(sizes, catalog.Variant{Size: opt.Label, SKU: p.SKU})
		prevSKU = p.SKU
	}
	for i := range products {
		products[i].Sizes = append([]catalog.Variant(nil), sizes...)
	}
	return products, nil
}

func (e *Extractor) selectVariant(ctx context.Context, page browser.Page, value string) error {
	var selected bool
	if err := page.Evaluate(ctx, selectOptionScript.With(e.sel.VariantSelect, value), &selected); err != nil {
		return err
	}
	if !selected {
		return fmt.Errorf("option %q not selectable", value)
	}
	return page.WaitIdle(ctx, e.cfg.VariantWait)
}

// waitForSKUChange polls the SKU until it differs from prev or VariantWait
// runs out. A SKU that never changes is scraped as is.
func (e *Extractor) waitForSKUChange(ctx context.Context, page browser.Page, prev string) error {
	deadline := time.NewTimer(e.cfg.VariantWait)
	defer deadline.Stop()
	ticker := time.NewTicker(skuPollInterval)
	defer ticker.Stop()
	for {
		sku, ok, err := page.Text(ctx, e.sel.SKU)
		if err != nil {
			return fmt.Errorf("read sku: %w", err)
		}
		if ok && sku != prev {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			e.logger.Debug("sku unchanged after variant switch", zap.String("sku", prev))
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Extractor) scrape(ctx context.Context, page browser.Page) (catalog.Product, error) {
	var p catalog.Product
	sku, ok, err := page.Text(ctx, e.sel.SKU)
	if err != nil {
		return p, fmt.Errorf("read sku: %w", err)
	}
	if !ok {
		return p, ErrMissingSKU
	}
	p.SKU = sku

	if p.Title, _, err = page.Text(ctx, e.sel.Title); err != nil {
		return p, fmt.Errorf("read title: %w", err)
	}
	if p.Description, _, err = page.Text(ctx, e.sel.Description); err != nil {
		return p, fmt.Errorf("read description: %w", err)
	}
	if p.Image, _, err = page.Attribute(ctx, e.sel.Image, e.sel.ImageAttr); err != nil {
		return p, fmt.Errorf("read image: %w", err)
	}

	tiers := []struct {
		selector string
		dst      **string
	}{
		{e.sel.SpecialPrice, &p.Prices.SpecialPrice},
		{e.sel.RegularPrice, &p.Prices.RegularPrice},
		{e.sel.LoyaltyPrice, &p.Prices.LoyaltyPrice},
		{e.sel.OldPrice, &p.Prices.OldPrice},
	}
	for _, tier := range tiers {
		raw, ok, err := page.Attribute(ctx, tier.selector, e.sel.PriceAttr)
		if err != nil {
			return p, fmt.Errorf("read price: %w", err)
		}
		if !ok {
			continue
		}
		price, valid := normalizePrice(raw)
		if !valid {
			e.logger.Warn("dropping unparseable price",
				zap.String("sku", p.SKU),
				zap.String("selector", tier.selector),
				zap.String("raw", raw),
			)
			continue
		}
		*tier.dst = &price
	}

	var attrs []catalog.Attribute
	script := attributesScript.With(e.sel.AttributePanel, e.sel.AttributeRow, e.sel.AttributeLabel, e.sel.AttributeData)
	if err := page.Evaluate(ctx, script, &attrs); err != nil {
		return p, fmt.Errorf("read attributes: %w", err)
	}
	if attrs == nil {
		attrs = []catalog.Attribute{}
	}
	p.Attributes = attrs

	if p.URL, err = page.URL(ctx); err != nil {
		return p, fmt.Errorf("read url: %w", err)
	}
	p.ScrapedAt = e.clock.Now()
	return p, nil
}

// normalizePrice accepts "12.50", "12,50", "1 299,00", "1,299.00" and
// "1.299,00" style values. With both separators present the last one is the
// decimal point.
func normalizePrice(raw string) (string, bool) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case dot > comma:
		s = strings.ReplaceAll(s, ",", "")
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil || s == "" {
		return "", false
	}
	return s, true
}
