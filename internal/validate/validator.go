// Package validate checks OCR and extraction results for logical
// consistency before a receipt is offered for review.
package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/pantrybot/receipt-pipeline/internal/entity"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Issue is one validation finding.
type Issue struct {
	Severity     Severity
	Code         string
	Message      string
	Field        string
	SuggestedFix string
}

// ReceiptData is the structured view of a receipt under validation: header
// fields from the text parser plus products from the extraction stage.
type ReceiptData struct {
	StoreName       string
	TotalAmount     *float64
	TransactionDate string
	Products        []entity.ProductEntry
}

// Result of a validation pass. CorrectedData is nil unless the validator
// could repair something (currently only a small total mismatch).
type Result struct {
	IsValid         bool
	ConfidenceScore float64
	Issues          []Issue
	CorrectedData   *ReceiptData
}

func (r Result) IssuesBySeverity(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

func (r Result) HasCritical() bool { return len(r.IssuesBySeverity(SeverityCritical)) > 0 }
func (r Result) HasErrors() bool   { return len(r.IssuesBySeverity(SeverityError)) > 0 }

var knownStores = map[string]struct{}{
	"biedronka": {}, "lidl": {}, "kaufland": {}, "carrefour": {},
	"auchan": {}, "tesco": {}, "żabka": {}, "zabka": {}, "netto": {},
	"polo market": {}, "dino": {}, "intermarche": {}, "mila": {},
	"lewiatan": {}, "groszek": {},
}

var (
	reCurrency = regexp.MustCompile(`(?i)\b\d{1,4}[,.]\d{2}\s*(?:zł|pln)?\b`)
	reDigit    = regexp.MustCompile(`\d`)
)

var dateLayouts = []string{
	"2006-01-02", "02.01.2006", "02-01-2006", "02/01/2006",
	"2006-01-02 15:04", "02.01.2006 15:04",
}

// Validator is stateless and read-only apart from the corrected copy it may
// hand back.
type Validator struct {
	minTotal     decimal.Decimal
	maxTotal     decimal.Decimal
	maxUnitPrice decimal.Decimal
	tolerance    decimal.Decimal
	maxAutoFix   decimal.Decimal
	logger       *slog.Logger

	now func() time.Time
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		minTotal:     decimal.NewFromFloat(0.01),
		maxTotal:     decimal.NewFromFloat(9999.99),
		maxUnitPrice: decimal.NewFromFloat(999.99),
		tolerance:    decimal.NewFromFloat(0.05),
		maxAutoFix:   decimal.NewFromFloat(0.50),
		logger:       logger,
		now:          time.Now,
	}
}

// Validate runs every check and aggregates the findings. It never mutates
// its input.
func (v *Validator) Validate(ocrText string, data ReceiptData) Result {
	var issues []Issue

	issues = append(issues, v.checkTextQuality(ocrText)...)
	issues = append(issues, v.checkStoreName(data.StoreName)...)

	totalIssues, correctedTotal := v.checkTotal(data.TotalAmount, data.Products)
	issues = append(issues, totalIssues...)

	issues = append(issues, v.checkProducts(data.Products)...)
	issues = append(issues, v.checkDate(data.TransactionDate)...)
	issues = append(issues, v.checkConsistency(ocrText, data)...)

	var corrected *ReceiptData
	if correctedTotal != nil {
		fixed := data
		t, _ := correctedTotal.Float64()
		fixed.TotalAmount = &t
		corrected = &fixed
	}

	confidence := v.confidenceScore(issues, ocrText, data)
	isValid := true
	for _, issue := range issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityCritical {
			isValid = false
			break
		}
	}

	v.logger.Info("validation completed",
		"issues", len(issues),
		"valid", isValid,
		"confidence", fmt.Sprintf("%.2f", confidence),
	)

	return Result{
		IsValid:         isValid,
		ConfidenceScore: confidence,
		Issues:          issues,
		CorrectedData:   corrected,
	}
}

func (v *Validator) checkTextQuality(text string) []Issue {
	var issues []Issue

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []Issue{{
			Severity: SeverityCritical,
			Code:     "EMPTY_TEXT",
			Message:  "OCR returned empty text",
		}}
	}

	if len(trimmed) < 20 {
		issues = append(issues, Issue{
			Severity:     SeverityWarning,
			Code:         "SHORT_TEXT",
			Message:      fmt.Sprintf("OCR text is very short (%d characters)", len(text)),
			SuggestedFix: "Consider re-scanning the image with better lighting",
		})
	}

	runes := []rune(text)
	printable := 0
	for _, r := range runes {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	garbageRatio := 1 - float64(printable)/float64(len(runes))
	if garbageRatio > 0.3 {
		issues = append(issues, Issue{
			Severity:     SeverityError,
			Code:         "HIGH_GARBAGE_RATIO",
			Message:      fmt.Sprintf("High ratio of non-printable characters (%.0f%%)", garbageRatio*100),
			SuggestedFix: "OCR quality is poor, consider image preprocessing",
		})
	}

	if !reDigit.MatchString(text) {
		issues = append(issues, Issue{
			Severity:     SeverityWarning,
			Code:         "NO_NUMBERS",
			Message:      "No numbers found in OCR text",
			SuggestedFix: "Verify this is a receipt image",
		})
	}
	if !reCurrency.MatchString(text) {
		issues = append(issues, Issue{
			Severity:     SeverityWarning,
			Code:         "NO_CURRENCY",
			Message:      "No currency amounts detected",
			SuggestedFix: "Check if image contains prices",
		})
	}

	return issues
}

func (v *Validator) checkStoreName(storeName string) []Issue {
	if storeName == "" {
		return []Issue{{
			Severity: SeverityWarning,
			Code:     "MISSING_STORE_NAME",
			Message:  "Store name not detected",
			Field:    "store_name",
		}}
	}

	var issues []Issue
	low := strings.ToLower(storeName)
	known := false
	for store := range knownStores {
		if strings.Contains(low, store) {
			known = true
			break
		}
	}
	if !known {
		issues = append(issues, Issue{
			Severity:     SeverityInfo,
			Code:         "UNKNOWN_STORE",
			Message:      fmt.Sprintf("Store %q is not in known stores database", storeName),
			Field:        "store_name",
			SuggestedFix: "Consider adding to known stores if valid",
		})
	}
	if len([]rune(storeName)) < 2 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Code:     "SHORT_STORE_NAME",
			Message:  fmt.Sprintf("Store name is very short: %q", storeName),
			Field:    "store_name",
		})
	}
	return issues
}

func (v *Validator) checkTotal(total *float64, products []entity.ProductEntry) ([]Issue, *decimal.Decimal) {
	if total == nil {
		return []Issue{{
			Severity: SeverityError,
			Code:     "MISSING_TOTAL",
			Message:  "Total amount not detected",
			Field:    "total_amount",
		}}, nil
	}

	var issues []Issue
	totalDec := decimal.NewFromFloat(*total)

	if totalDec.LessThan(v.minTotal) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Code:     "UNREASONABLY_LOW_TOTAL",
			Message:  fmt.Sprintf("Total amount is very low: %s", totalDec),
			Field:    "total_amount",
		})
	}
	if totalDec.GreaterThan(v.maxTotal) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Code:     "UNREASONABLY_HIGH_TOTAL",
			Message:  fmt.Sprintf("Total amount is very high: %s", totalDec),
			Field:    "total_amount",
		})
	}

	var correctedTotal *decimal.Decimal
	if sum, ok := productsSum(products); ok {
		diff := totalDec.Sub(sum).Abs()
		if diff.GreaterThan(v.tolerance) {
			// a mismatch against the line items stays a warning as long as
			// a total was read at all; only a missing total is an error
			issues = append(issues, Issue{
				Severity:     SeverityWarning,
				Code:         "TOTAL_MISMATCH",
				Message:      fmt.Sprintf("Total (%s) doesn't match product sum (%s), difference: %s", totalDec, sum, diff),
				Field:        "total_amount",
				SuggestedFix: fmt.Sprintf("Consider using calculated sum: %s", sum),
			})
			if diff.LessThanOrEqual(v.maxAutoFix) {
				correctedTotal = &sum
			}
		}
	}

	return issues, correctedTotal
}

// productsSum adds the products' total prices. It returns ok=false when no
// product carries one, so a mismatch against zero is never reported.
func productsSum(products []entity.ProductEntry) (decimal.Decimal, bool) {
	sum := decimal.Zero
	any := false
	for _, p := range products {
		if p.TotalPrice != nil {
			sum = sum.Add(decimal.NewFromFloat(*p.TotalPrice))
			any = true
		}
	}
	return sum, any
}

func (v *Validator) checkProducts(products []entity.ProductEntry) []Issue {
	if len(products) == 0 {
		return []Issue{{
			Severity:     SeverityWarning,
			Code:         "NO_PRODUCTS",
			Message:      "No products detected in receipt",
			SuggestedFix: "Check OCR quality for product detection",
		}}
	}

	var issues []Issue
	for i, p := range products {
		issues = append(issues, v.checkSingleProduct(p, i)...)
	}

	seen := map[string]int{}
	for _, p := range products {
		seen[strings.ToLower(p.Name)]++
	}
	var duplicates []string
	for name, count := range seen {
		if name != "" && count > 1 {
			duplicates = append(duplicates, name)
		}
	}
	if len(duplicates) > 0 {
		issues = append(issues, Issue{
			Severity:     SeverityWarning,
			Code:         "DUPLICATE_PRODUCTS",
			Message:      fmt.Sprintf("Potential duplicate products detected: %s", strings.Join(duplicates, ", ")),
			SuggestedFix: "Review if these are actually different items",
		})
	}

	return issues
}

func (v *Validator) checkSingleProduct(p entity.ProductEntry, index int) []Issue {
	var issues []Issue

	if len([]rune(strings.TrimSpace(p.Name))) < 2 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Code:     "SHORT_PRODUCT_NAME",
			Message:  fmt.Sprintf("Product %d has very short name: %q", index+1, p.Name),
			Field:    fmt.Sprintf("products[%d].name", index),
		})
	}

	if p.UnitPrice != nil {
		unitPrice := decimal.NewFromFloat(*p.UnitPrice)
		if unitPrice.IsNegative() {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     "INVALID_UNIT_PRICE",
				Message:  fmt.Sprintf("Product %q has invalid unit price: %s", p.Name, unitPrice),
				Field:    fmt.Sprintf("products[%d].unit_price", index),
			})
		} else if unitPrice.GreaterThan(v.maxUnitPrice) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Code:     "HIGH_UNIT_PRICE",
				Message:  fmt.Sprintf("Product %q has high unit price: %s", p.Name, unitPrice),
				Field:    fmt.Sprintf("products[%d].unit_price", index),
			})
		}
	}

	if p.UnitPrice != nil && p.TotalPrice != nil && p.Quantity > 0 {
		qty := decimal.NewFromFloat(p.Quantity)
		unitPrice := decimal.NewFromFloat(*p.UnitPrice)
		totalPrice := decimal.NewFromFloat(*p.TotalPrice)

		calculated := qty.Mul(unitPrice)
		diff := calculated.Sub(totalPrice).Abs()
		if diff.GreaterThan(v.tolerance) {
			issues = append(issues, Issue{
				Severity:     SeverityWarning,
				Code:         "PRICE_CALCULATION_MISMATCH",
				Message:      fmt.Sprintf("Product %q: %v × %s ≠ %s (diff: %s)", p.Name, p.Quantity, unitPrice, totalPrice, diff),
				Field:        fmt.Sprintf("products[%d]", index),
				SuggestedFix: fmt.Sprintf("Calculated total should be %s", calculated),
			})
		}
	}

	return issues
}

func (v *Validator) checkDate(transactionDate string) []Issue {
	if transactionDate == "" {
		return []Issue{{
			Severity: SeverityInfo,
			Code:     "MISSING_DATE",
			Message:  "Transaction date not detected",
			Field:    "transaction_date",
		}}
	}

	var parsed time.Time
	ok := false
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, transactionDate); err == nil {
			parsed = t
			ok = true
			break
		}
	}
	if !ok {
		return []Issue{{
			Severity: SeverityWarning,
			Code:     "INVALID_DATE_FORMAT",
			Message:  fmt.Sprintf("Invalid date format: %q", transactionDate),
			Field:    "transaction_date",
		}}
	}

	now := v.now()
	switch {
	case parsed.After(now):
		return []Issue{{
			Severity: SeverityError,
			Code:     "FUTURE_DATE",
			Message:  fmt.Sprintf("Transaction date is in the future: %s", parsed.Format("2006-01-02")),
			Field:    "transaction_date",
		}}
	case now.Sub(parsed) > 365*24*time.Hour:
		return []Issue{{
			Severity: SeverityWarning,
			Code:     "OLD_DATE",
			Message:  fmt.Sprintf("Transaction date is over a year old: %s", parsed.Format("2006-01-02")),
			Field:    "transaction_date",
		}}
	}
	return nil
}

func (v *Validator) checkConsistency(ocrText string, data ReceiptData) []Issue {
	var issues []Issue

	if data.TotalAmount != nil && *data.TotalAmount > 0 {
		totalDec := decimal.NewFromFloat(*data.TotalAmount)
		// the printed total may use either decimal separator
		pattern := strings.ReplaceAll(regexp.QuoteMeta(totalDec.StringFixed(2)), `\.`, `[,.]`)
		if matched, err := regexp.MatchString(pattern, ocrText); err == nil && !matched {
			issues = append(issues, Issue{
				Severity:     SeverityWarning,
				Code:         "TOTAL_NOT_IN_TEXT",
				Message:      fmt.Sprintf("Total amount %s not found in OCR text", totalDec),
				SuggestedFix: "Verify parsing accuracy",
			})
		}
	}

	if name := data.StoreName; len([]rune(name)) > 3 {
		if !strings.Contains(strings.ToLower(ocrText), strings.ToLower(name)) {
			issues = append(issues, Issue{
				Severity:     SeverityInfo,
				Code:         "STORE_NOT_IN_TEXT",
				Message:      fmt.Sprintf("Store name %q not clearly found in OCR text", name),
				SuggestedFix: "Verify store name detection",
			})
		}
	}

	return issues
}

// confidenceScore starts at 1.0, deducts per issue by severity, and adds
// small bonuses for the indicators of a well-read receipt.
func (v *Validator) confidenceScore(issues []Issue, ocrText string, data ReceiptData) float64 {
	score := 1.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 0.4
		case SeverityError:
			score -= 0.2
		case SeverityWarning:
			score -= 0.1
		case SeverityInfo:
			score -= 0.05
		}
	}

	if data.StoreName != "" {
		score += 0.1
	}
	if data.TotalAmount != nil {
		score += 0.1
	}
	if len(data.Products) > 0 {
		score += 0.1
	}
	if len(ocrText) > 100 {
		score += 0.05
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
