package llm

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// productSchema constrains one extracted entry. Only the product name is
// required: quantities and units are defaulted upstream, and dates and
// prices are best-effort.
const productSchema = `{
	"type": "object",
	"properties": {
		"product": {"type": "string", "minLength": 1},
		"quantity": {"type": "number", "exclusiveMinimum": 0},
		"unit": {"type": "string", "minLength": 1},
		"purchase_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"unit_price": {"type": "number", "minimum": 0},
		"total_price": {"type": "number", "minimum": 0}
	},
	"required": ["product"]
}`

var compiledProductSchema = jsonschema.MustCompileString("product.json", productSchema)

// FilterBySchema validates entries against the product schema. An entry with
// a usable name but malformed optional fields keeps the product and loses
// those fields; an entry that stays invalid after that is dropped. Decisions
// are per-entry so one bad line does not throw away a good extraction.
func FilterBySchema(products []entity.ProductEntry, logger *slog.Logger) []entity.ProductEntry {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]entity.ProductEntry, 0, len(products))
	for i, p := range products {
		err := validateEntry(p)
		if err == nil {
			kept = append(kept, p)
			continue
		}

		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			cleaned, cleared := clearRejectedFields(p, ve)
			if len(cleared) > 0 && validateEntry(cleaned) == nil {
				logger.Warn("llm.schema.fields_cleared",
					"index", i,
					"product", p.Name,
					"fields", strings.Join(cleared, ","),
				)
				kept = append(kept, cleaned)
				continue
			}
		}
		logger.Warn("llm.schema.entry_rejected", "index", i, "product", p.Name, "error", err)
	}
	return kept
}

func validateEntry(p entity.ProductEntry) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return compiledProductSchema.Validate(doc)
}

// clearRejectedFields resets the non-required fields the schema objected to
// and reports which ones were touched. A bad product name is left alone so
// the entry gets rejected.
func clearRejectedFields(p entity.ProductEntry, ve *jsonschema.ValidationError) (entity.ProductEntry, []string) {
	locations := map[string]struct{}{}
	collectLeafLocations(ve, locations)

	var cleared []string
	if _, ok := locations["/purchase_date"]; ok && p.PurchaseDate != nil {
		p.PurchaseDate = nil
		cleared = append(cleared, "purchase_date")
	}
	if _, ok := locations["/unit_price"]; ok && p.UnitPrice != nil {
		p.UnitPrice = nil
		cleared = append(cleared, "unit_price")
	}
	if _, ok := locations["/total_price"]; ok && p.TotalPrice != nil {
		p.TotalPrice = nil
		cleared = append(cleared, "total_price")
	}
	if _, ok := locations["/quantity"]; ok {
		p.Quantity = 1
		cleared = append(cleared, "quantity")
	}
	if _, ok := locations["/unit"]; ok {
		p.Unit = entity.DefaultUnit
		cleared = append(cleared, "unit")
	}
	return p, cleared
}

func collectLeafLocations(ve *jsonschema.ValidationError, out map[string]struct{}) {
	if len(ve.Causes) == 0 {
		out[ve.InstanceLocation] = struct{}{}
		return
	}
	for _, cause := range ve.Causes {
		collectLeafLocations(cause, out)
	}
}
