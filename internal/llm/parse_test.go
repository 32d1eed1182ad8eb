package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

func TestParseProductsFromProseWrappedResponse(t *testing.T) {
	response := "Oto wyodrębnione produkty:\n```json\n" +
		`[
			{"product": "Mleko UHT 3,2%", "quantity": 2, "unit": "szt.", "purchase_date": "2025-08-14"},
			{"product": "Jabłka", "quantity": 0.5, "unit": "kg"},
			{"product": "Chleb"}
		]` + "\n```\nMam nadzieję, że pomogłem!"

	products, err := ParseProducts(response, nil)
	require.NoError(t, err)
	require.Len(t, products, 3)

	assert.Equal(t, "Mleko UHT 3,2%", products[0].Name)
	assert.Equal(t, 2.0, products[0].Quantity)
	require.NotNil(t, products[0].PurchaseDate)
	assert.Equal(t, "2025-08-14", *products[0].PurchaseDate)

	assert.Equal(t, 0.5, products[1].Quantity)
	assert.Equal(t, "kg", products[1].Unit)

	// defaults applied
	assert.Equal(t, 1.0, products[2].Quantity)
	assert.Equal(t, "szt.", products[2].Unit)
	assert.Nil(t, products[2].PurchaseDate)
}

func TestParseProductsDropsNamelessEntries(t *testing.T) {
	response := `[{"product": "Mleko"}, {"quantity": 2}, {"product": "   "}]`
	products, err := ParseProducts(response, nil)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Mleko", products[0].Name)
}

func TestParseProductsNoArrayIsError(t *testing.T) {
	_, err := ParseProducts("Niestety nie znalazłem produktów na tym paragonie.", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JSON array")
}

func TestParseProductsEmptyArrayIsNotError(t *testing.T) {
	products, err := ParseProducts("Wynik: []", nil)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestParseProductsToleratesStringNumbers(t *testing.T) {
	response := `[{"product": "Ser", "quantity": "0,25", "unit": "kg", "unit_price": "29.90"}]`
	products, err := ParseProducts(response, nil)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 0.25, products[0].Quantity)
	require.NotNil(t, products[0].UnitPrice)
	assert.InDelta(t, 29.90, *products[0].UnitPrice, 1e-9)
}

func TestLocateJSONArrayIgnoresBracketsInStrings(t *testing.T) {
	response := `note [not json] here: [{"product": "Piwo [puszka]", "unit": "szt."}]`
	// the first '[' opens "[not json]" which is a valid, if useless, array
	// candidate; the parser must fail decoding it and the caller retries
	arr, err := locateJSONArray(response)
	require.NoError(t, err)
	assert.Equal(t, "[not json]", arr)

	// with no leading noise the product string survives intact
	arr, err = locateJSONArray(`[{"product": "Piwo [puszka]"}]`)
	require.NoError(t, err)
	assert.Equal(t, `[{"product": "Piwo [puszka]"}]`, arr)
}

func TestFilterBySchemaClearsBadOptionalFields(t *testing.T) {
	products, err := ParseProducts(`[
		{"product": "Mleko", "quantity": 1, "unit": "l"},
		{"product": "Chleb", "purchase_date": "14.08.2025"},
		{"product": "Masło", "unit_price": -4.99}
	]`, nil)
	require.NoError(t, err)
	require.Len(t, products, 3)

	kept := FilterBySchema(products, nil)
	require.Len(t, kept, 3)
	assert.Equal(t, "Mleko", kept[0].Name)

	// the wrongly formatted date is dropped, the named product survives
	assert.Equal(t, "Chleb", kept[1].Name)
	assert.Nil(t, kept[1].PurchaseDate)

	// same for a negative price
	assert.Equal(t, "Masło", kept[2].Name)
	assert.Nil(t, kept[2].UnitPrice)
}

func TestFilterBySchemaStillDropsUnsalvageableEntries(t *testing.T) {
	bad := "14.08.2025"
	kept := FilterBySchema([]entity.ProductEntry{
		{Name: "", Quantity: 1, Unit: entity.DefaultUnit, PurchaseDate: &bad},
	}, nil)
	assert.Empty(t, kept)
}
