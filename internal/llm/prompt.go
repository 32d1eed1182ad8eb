package llm

import "fmt"

// BuildExtractionPrompt renders the product-extraction prompt. The prompt is
// Polish because the receipts are Polish; the model follows formatting
// instructions in the language of the payload noticeably better.
func BuildExtractionPrompt(receiptText string) string {
	return fmt.Sprintf(`
Jesteś asystentem, który analizuje tekst z paragonów. Twoim zadaniem jest wyodrębnienie nazw produktów, ich ilości oraz jednostek (np. szt., kg, g, l, ml) z podanego tekstu.
Zwróć wynik w formacie JSON, jako listę obiektów. Jeśli nie możesz znaleźć ilości lub jednostki, użyj wartości domyślnych: ilość 1.0, jednostka 'szt.'.
Dodatkowo, jeśli w tekście paragonu znajdziesz datę, spróbuj ją wyodrębnić i dodać jako pole 'purchase_date' w formacie YYYY-MM-DD.

Przykładowy format JSON:
[
    {"product": "Mleko", "quantity": 1.0, "unit": "l", "purchase_date": "2025-08-14"},
    {"product": "Chleb", "quantity": 1.0, "unit": "szt."},
    {"product": "Jabłka", "quantity": 0.5, "unit": "kg"}
]

Tekst z paragonu:
%s

Wyodrębnione produkty (tylko JSON):
`, receiptText)
}
