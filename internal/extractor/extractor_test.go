package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/browser/browsertest"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
)

const productURL = "https://shop.example/pillow-wellpur.html"

var scrapedAt = time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC)

func newTestExtractor() *Extractor {
	return New(Selectors{}, Config{VariantWait: time.Millisecond}, system.NewFrozen(scrapedAt), nil)
}

func loadedPage(t *testing.T) *browsertest.Page {
	t.Helper()
	page := browsertest.NewPage()
	require.NoError(t, page.Navigate(context.Background(), productURL))
	return page
}

func setProduct(page *browsertest.Page, sku, title string) {
	sel := DefaultSelectors()
	page.SetText(productURL, sel.SKU, sku)
	page.SetText(productURL, sel.Title, title)
}

func noVariants(page *browsertest.Page) {
	page.Handle(variantOptionsScript.Name, func(string, []any) (any, error) {
		return variantControl{Present: false}, nil
	})
}

func attributes(page *browsertest.Page, attrs []catalog.Attribute) {
	page.Handle(attributesScript.Name, func(string, []any) (any, error) {
		return attrs, nil
	})
}

func TestExtractWithoutVariantControl(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	sel := DefaultSelectors()
	setProduct(page, "3600456", "Pillow WELLPUR 50x70")
	page.SetText(productURL, sel.Description, "Soft pillow")
	page.SetAttribute(productURL, sel.Image, "src", "https://cdn.example/pillow.jpg")
	page.SetAttribute(productURL, sel.RegularPrice, "data-value", "12.99")
	page.SetAttribute(productURL, sel.LoyaltyPrice, "data-value", "10,99")
	noVariants(page)
	attributes(page, []catalog.Attribute{{Label: "SKU", Data: "3600456, 7001"}})

	products, err := newTestExtractor().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	require.Equal(t, "3600456", p.SKU)
	require.Equal(t, productURL, p.URL)
	require.Equal(t, "Pillow WELLPUR 50x70", p.Title)
	require.Equal(t, "Soft pillow", p.Description)
	require.Equal(t, "https://cdn.example/pillow.jpg", p.Image)
	require.Equal(t, "12.99", *p.Prices.RegularPrice)
	require.Equal(t, "10.99", *p.Prices.LoyaltyPrice)
	require.Nil(t, p.Prices.SpecialPrice)
	require.Nil(t, p.Prices.OldPrice)
	require.Equal(t, []catalog.Variant{{Size: catalog.DefaultVariantLabel, SKU: "3600456"}}, p.Sizes)
	require.Equal(t, scrapedAt, p.ScrapedAt)
	require.NoError(t, p.Validate())
}

func TestExtractVariantsShareSizeList(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	skus := map[string]string{"101": "5000101", "102": "5000102", "103": "5000103"}
	page.Handle(variantOptionsScript.Name, func(string, []any) (any, error) {
		return variantControl{Present: true, Options: []variantOption{
			{Value: "101", Label: "50x70"},
			{Value: "102", Label: "60x80"},
			{Value: "103", Label: "70x90"},
		}}, nil
	})
	page.Handle(selectOptionScript.Name, func(_ string, args []any) (any, error) {
		value, _ := args[1].(string)
		sku, ok := skus[value]
		if !ok {
			return false, nil
		}
		setProduct(page, sku, "Duvet "+value)
		return true, nil
	})
	attributes(page, nil)

	products, err := newTestExtractor().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, products, 3)

	want := []catalog.Variant{
		{Size: "50x70", SKU: "5000101"},
		{Size: "60x80", SKU: "5000102"},
		{Size: "70x90", SKU: "5000103"},
	}
	for _, p := range products {
		require.Equal(t, want, p.Sizes)
		require.NotEqual(t, -1, indexOf(p.Sizes, p.SKU), "variant %s must list itself", p.SKU)
		require.NotNil(t, p.Attributes)
	}
	require.Equal(t, "Duvet 102", products[1].Title)
}

func TestExtractWaitsForVariantRefresh(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	setProduct(page, "5000101", "Duvet 101")
	page.Handle(variantOptionsScript.Name, func(string, []any) (any, error) {
		return variantControl{Present: true, Options: []variantOption{
			{Value: "101", Label: "50x70"},
			{Value: "102", Label: "60x80"},
		}}, nil
	})
	page.Handle(selectOptionScript.Name, func(_ string, args []any) (any, error) {
		if value, _ := args[1].(string); value == "102" {
			// The option's content arrives after the change event returns.
			go func() {
				time.Sleep(80 * time.Millisecond)
				sel := DefaultSelectors()
				page.SetText(productURL, sel.Title, "Duvet 102")
				page.SetText(productURL, sel.SKU, "5000102")
			}()
		}
		return true, nil
	})
	attributes(page, nil)

	ex := New(Selectors{}, Config{VariantWait: 2 * time.Second}, system.NewFrozen(scrapedAt), nil)
	products, err := ex.Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, []catalog.Variant{
		{Size: "50x70", SKU: "5000101"},
		{Size: "60x80", SKU: "5000102"},
	}, products[0].Sizes)
	require.Equal(t, "Duvet 102", products[1].Title)
}

func indexOf(sizes []catalog.Variant, sku string) int {
	for i, v := range sizes {
		if v.SKU == sku {
			return i
		}
	}
	return -1
}

func TestExtractMissingSKU(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	page.SetText(productURL, DefaultSelectors().Title, "Orphan")
	noVariants(page)

	_, err := newTestExtractor().Extract(context.Background(), page)
	require.ErrorIs(t, err, ErrMissingSKU)
}

func TestExtractUnselectableVariantFails(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	page.Handle(variantOptionsScript.Name, func(string, []any) (any, error) {
		return variantControl{Present: true, Options: []variantOption{{Value: "9", Label: "XL"}}}, nil
	})
	page.Handle(selectOptionScript.Name, func(string, []any) (any, error) {
		return false, nil
	})

	_, err := newTestExtractor().Extract(context.Background(), page)
	require.Error(t, err)
}

func TestExtractDropsUnparseablePrice(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	setProduct(page, "1", "Lamp")
	page.SetAttribute(productURL, DefaultSelectors().SpecialPrice, "data-value", "call us")
	noVariants(page)
	attributes(page, nil)

	products, err := newTestExtractor().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Nil(t, products[0].Prices.SpecialPrice)
}

func TestExtractPropagatesEvaluateFailure(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	page.Handle(variantOptionsScript.Name, func(string, []any) (any, error) {
		return nil, errors.New("execution context was destroyed")
	})

	_, err := newTestExtractor().Extract(context.Background(), page)
	require.Error(t, err)
}

func TestNormalizePrice(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		want string
		ok   bool
	}{
		"12.50":        {"12.50", true},
		"12,50":        {"12.50", true},
		"1 299,00":     {"1299.00", true},
		"1,299.00":     {"1299.00", true},
		"1.299,00":     {"1299.00", true},
		"1.299.000,5":  {"1299000.5", true},
		" 7 ":          {"7", true},
		"":             {"", false},
		"n/a":          {"", false},
		"1\u00a0099,5": {"1099.5", true},
	}
	for raw, tc := range cases {
		got, ok := normalizePrice(raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("normalizePrice(%q) = %q, %v; want %q, %v", raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAvailabilityCarriesRows(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	var selected string
	page.Handle(selectOptionScript.Name, func(_ string, args []any) (any, error) {
		selected, _ = args[1].(string)
		return true, nil
	})
	page.SetPresent(productURL, "table.availability-table tbody")
	page.Handle(availabilityScript.Name, func(string, []any) (any, error) {
		return []StoreAvailability{
			{City: "Riga", Address: "Brivibas 1", Stock: "In stock", SampleAvailable: true},
			{City: "Riga", Address: "Krasta 2", Stock: "Few left"},
		}, nil
	})

	rows, err := newTestExtractor().Availability(context.Background(), page, "102")
	require.NoError(t, err)
	require.Equal(t, "102", selected)
	require.Len(t, rows, 2)
	require.Equal(t, "Riga", rows[1].City)
	require.True(t, rows[0].SampleAvailable)
}

func TestAvailabilityWithoutTable(t *testing.T) {
	t.Parallel()

	page := loadedPage(t)
	page.Handle(availabilityScript.Name, func(string, []any) (any, error) {
		return []StoreAvailability{}, nil
	})

	rows, err := newTestExtractor().Availability(context.Background(), page, "")
	require.NoError(t, err)
	require.Empty(t, rows)
}
