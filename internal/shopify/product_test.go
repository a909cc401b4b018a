package shopify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProductInputNoSubItems(t *testing.T) {
	spec := ProductSpec{Title: "1999 Pokemon Charizard #4 PSA GEM MT 10"}
	price := decimal.RequireFromString("499.99")

	product, variants := BuildProductInput(spec, price, "gid://shopify/Location/1")

	assert.Equal(t, spec.Title, product.Title)
	assert.Equal(t, "ACTIVE", product.Status)

	require.Len(t, variants, 1)
	assert.Equal(t, "Default Title", variants[0].Title)
	assert.True(t, variants[0].Price.Equal(price))
	assert.Equal(t, 1, variants[0].Quantity)
	assert.True(t, variants[0].InventoryManaged)
}

func TestBuildProductInputOneVariantPerSubItem(t *testing.T) {
	spec := ProductSpec{
		Title: "Multi-grade cert",
		SubItems: []SubItemSpec{
			{Title: "Centering 9", Quantity: 1},
			{Title: "Surface 10", Quantity: 1},
		},
	}
	price := decimal.RequireFromString("19.99")

	_, variants := BuildProductInput(spec, price, "gid://shopify/Location/1")

	require.Len(t, variants, 2)
	assert.Equal(t, "Centering 9", variants[0].Title)
	assert.Equal(t, "Surface 10", variants[1].Title)
	for _, v := range variants {
		assert.True(t, v.Price.Equal(price))
		assert.Equal(t, "gid://shopify/Location/1", v.LocationID)
	}
}

func TestBuildProductInputPriceOverride(t *testing.T) {
	override := decimal.RequireFromString("5.00")
	spec := ProductSpec{
		Title: "Overridden",
		SubItems: []SubItemSpec{
			{Title: "Standard"},
			{Title: "Special", PriceOverride: &override},
		},
	}

	_, variants := BuildProductInput(spec, decimal.RequireFromString("10.00"), "loc")

	require.Len(t, variants, 2)
	assert.Equal(t, "10", variants[0].Price.String())
	assert.Equal(t, "5", variants[1].Price.String())
}

func TestBuildProductInputDefaultsQuantity(t *testing.T) {
	spec := ProductSpec{
		Title:    "Zero quantity",
		SubItems: []SubItemSpec{{Title: "A", Quantity: 0}, {Title: "B", Quantity: 3}},
	}

	_, variants := BuildProductInput(spec, decimal.Zero, "loc")

	require.Len(t, variants, 2)
	assert.Equal(t, 1, variants[0].Quantity)
	assert.Equal(t, 3, variants[1].Quantity)
}

func TestGIDSuffix(t *testing.T) {
	assert.Equal(t, "123", GIDSuffix("gid://shopify/Product/123"))
	assert.Equal(t, "plain", GIDSuffix("plain"))
}
