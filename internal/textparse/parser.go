// Package textparse pulls the receipt header fields out of raw OCR text
// with plain pattern matching. The language model extracts products; this
// parser supplies the store name, total, and date the validator compares
// them against.
package textparse

import (
	"regexp"
	"strconv"
	"strings"
)

// ParsedReceipt holds the heuristically extracted header fields. Zero
// values mean "not found".
type ParsedReceipt struct {
	StoreName   string
	TotalAmount float64
	Date        string // as printed, e.g. 14.08.2025 or 2025-08-14
}

var knownStores = []string{
	"biedronka", "lidl", "żabka", "zabka", "kaufland", "carrefour",
	"auchan", "tesco", "netto", "dino", "aldi", "intermarche",
	"polo market", "stokrotka", "lewiatan", "rossmann",
}

var (
	rePrice    = regexp.MustCompile(`(\d{1,6})[,.](\d{2})`)
	reDate     = regexp.MustCompile(`\d{2}[-/.]\d{2}[-/.]\d{4}|\d{4}-\d{2}-\d{2}`)
	reAnyDigit = regexp.MustCompile(`\d`)
)

var totalKeywords = []string{"suma", "razem", "total", "do zapłaty", "do zaplaty"}

// Parse extracts the header fields. It never fails: unparsable input just
// leaves fields at their zero values.
func Parse(text string) ParsedReceipt {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return ParsedReceipt{
		StoreName:   extractStoreName(lines),
		TotalAmount: extractTotal(lines),
		Date:        extractDate(lines),
	}
}

// extractStoreName prefers a known chain anywhere in the header, then falls
// back to the first digit-free line of reasonable length.
func extractStoreName(lines []string) string {
	header := lines
	if len(header) > 5 {
		header = header[:5]
	}
	for _, line := range header {
		low := strings.ToLower(line)
		for _, store := range knownStores {
			if strings.Contains(low, store) {
				return strings.TrimSpace(line)
			}
		}
	}
	for _, line := range header {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && !reAnyDigit.MatchString(trimmed) {
			return trimmed
		}
	}
	return ""
}

// extractTotal scans from the bottom for a keyword line carrying an amount.
// Receipts print the grand total near the end, after the item lines that
// would otherwise shadow it.
func extractTotal(lines []string) float64 {
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		low := strings.ToLower(line)
		keyword := false
		for _, kw := range totalKeywords {
			if strings.Contains(low, kw) {
				keyword = true
				break
			}
		}
		if !keyword {
			continue
		}
		if m := rePrice.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1]+"."+m[2], 64); err == nil {
				return v
			}
		}
	}
	return 0
}

func extractDate(lines []string) string {
	for _, line := range lines {
		if m := reDate.FindString(line); m != "" {
			return m
		}
	}
	return ""
}
