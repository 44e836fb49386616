package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlternateSKUsExcludesCanonical(t *testing.T) {
	t.Parallel()

	p := Product{
		SKU: "3600123",
		Attributes: []Attribute{
			{Label: "Color", Data: "white"},
			{Label: "SKU", Data: "3600123, 7001, 7002 ,,7001"},
		},
	}

	alts := AlternateSKUs(p)
	require.Equal(t, []AlternateSKU{
		{ProductSKU: "3600123", AltSKU: "7001"},
		{ProductSKU: "3600123", AltSKU: "7002"},
	}, alts)
	for _, alt := range alts {
		require.NotEqual(t, p.SKU, alt.AltSKU)
	}
}

func TestAlternateSKUsLabelIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	p := Product{SKU: "1", Attributes: []Attribute{{Label: " sku ", Data: "2"}}}
	require.Equal(t, []AlternateSKU{{ProductSKU: "1", AltSKU: "2"}}, AlternateSKUs(p))
}

func TestAlternateSKUsWithoutAttribute(t *testing.T) {
	t.Parallel()

	require.Empty(t, AlternateSKUs(Product{SKU: "1"}))
	require.Empty(t, AlternateSKUs(Product{SKU: "1", Attributes: []Attribute{{Label: "SKU", Data: "1"}}}))
}

func TestProductValidate(t *testing.T) {
	t.Parallel()

	valid := Product{
		SKU:    "100",
		URL:    "https://shop.example/p/100",
		Prices: Prices{RegularPrice: StringPtr("19.99"), OldPrice: StringPtr("25")},
		Sizes:  []Variant{{Size: DefaultVariantLabel, SKU: "100"}},
	}
	require.NoError(t, valid.Validate())

	cases := map[string]Product{
		"missing sku":   {URL: "https://shop.example/p"},
		"missing url":   {SKU: "100"},
		"bad price":     {SKU: "100", URL: "u", Prices: Prices{SpecialPrice: StringPtr("n/a")}},
		"empty variant": {SKU: "100", URL: "u", Sizes: []Variant{{Size: "M"}}},
	}
	for name, p := range cases {
		err := p.Validate()
		if !errors.Is(err, ErrInvalidProduct) {
			t.Fatalf("%s: expected ErrInvalidProduct, got %v", name, err)
		}
	}
}

func TestCategoryStatusValid(t *testing.T) {
	t.Parallel()

	require.True(t, CategoryPending.Valid())
	require.True(t, CategoryDone.Valid())
	require.True(t, CategoryFailed.Valid())
	require.False(t, CategoryStatus("retrying").Valid())
}

func TestStringPtr(t *testing.T) {
	t.Parallel()

	require.Nil(t, StringPtr(""))
	require.Equal(t, "x", *StringPtr("x"))
}
