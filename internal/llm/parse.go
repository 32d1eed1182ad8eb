package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

// locateJSONArray finds the first top-level JSON array in a chat response.
// Models wrap their output in prose and markdown fences, so we scan for the
// first '[' and walk to its matching ']', ignoring brackets inside strings.
func locateJSONArray(s string) (string, error) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", fmt.Errorf("no JSON array found in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON array in response")
}

// ParseProducts extracts validated product entries from a raw chat response.
// Entries without a product name are dropped; missing quantity and unit get
// the documented defaults. A response with no parsable array is an error, a
// parsable but empty array is not.
func ParseProducts(response string, logger *slog.Logger) ([]entity.ProductEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	arr, err := locateJSONArray(response)
	if err != nil {
		logger.Warn("llm.parse.no_array", "response_preview", preview(response, 200))
		return nil, err
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(arr), &raw); err != nil {
		logger.Warn("llm.parse.decode_error", "error", err, "json_preview", preview(arr, 200))
		return nil, fmt.Errorf("decode products array: %w", err)
	}

	products := make([]entity.ProductEntry, 0, len(raw))
	for i, item := range raw {
		name := asString(item["product"])
		if strings.TrimSpace(name) == "" {
			logger.Warn("llm.parse.nameless_entry_dropped", "index", i)
			continue
		}

		p := entity.ProductEntry{
			Name:     strings.TrimSpace(name),
			Quantity: 1.0,
			Unit:     entity.DefaultUnit,
		}
		if q, ok := asFloat(item["quantity"]); ok && q > 0 {
			p.Quantity = q
		}
		if u := strings.TrimSpace(asString(item["unit"])); u != "" {
			p.Unit = u
		}
		if d := strings.TrimSpace(asString(item["purchase_date"])); d != "" {
			p.PurchaseDate = &d
		}
		if v, ok := asFloat(item["unit_price"]); ok {
			p.UnitPrice = &v
		}
		if v, ok := asFloat(item["total_price"]); ok {
			p.TotalPrice = &v
		}
		products = append(products, p)
	}
	return products, nil
}

// asString tolerates numbers where strings are expected; models do both.
func asString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// asFloat tolerates quoted numbers, including comma decimal separators.
func asFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
