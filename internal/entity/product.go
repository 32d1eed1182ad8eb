package entity

// DefaultUnit is applied when the model does not report one ("szt." = piece).
const DefaultUnit = "szt."

// ProductEntry is one extracted line item. The JSON shape is the persisted
// extracted_data element and the contract asked of the language model.
type ProductEntry struct {
	Name         string   `json:"product"`
	Quantity     float64  `json:"quantity"`
	Unit         string   `json:"unit"`
	PurchaseDate *string  `json:"purchase_date,omitempty"` // YYYY-MM-DD
	UnitPrice    *float64 `json:"unit_price,omitempty"`
	TotalPrice   *float64 `json:"total_price,omitempty"`
}
