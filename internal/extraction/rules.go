package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCurrency is used when the text carries no currency marker.
const DefaultCurrency = "USD"

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)\b(?:invoice|inv|bill)\b(?:\s*(?:no\.?|number|num|#)\s*[:#]?|\s*[:#])?\s*([A-Za-z0-9][A-Za-z0-9-]*)`)
	reDate          = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|\d{1,2}-\d{1,2}-\d{4})\b`)
	reTotal         = regexp.MustCompile(`(?i)\b(?:total|amount|sum)\b[^\d\n]{0,24}?(\d[\d,]*(?:\.\d+)?)`)
	reCurrency      = regexp.MustCompile(`(?i)\b(usd|eur|gbp|jpy|cad|aud|inr|chf|cny)\b|[$€£¥₹]`)
	reLineItem      = regexp.MustCompile(`(?m)^[ \t]*([A-Za-z][^\n]*?)[ \t]+(\d+)(?:[ \t]*[xX×][ \t]*|[ \t]+)\$?(\d[\d,]*(?:\.\d{1,2})?)[ \t]+\$?(\d[\d,]*(?:\.\d{1,2})?)[ \t]*$`)
)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
	"₹": "INR",
}

// Rules is the default pattern-matching Extractor. Each field is matched
// independently of the others.
type Rules struct{}

// NewRules returns the default rule set.
func NewRules() *Rules {
	return &Rules{}
}

// Extract applies every rule to text. It only fails when text is not valid
// UTF-8 or contains NUL bytes, which means the engine did not hand back text.
func (r *Rules) Extract(text string) (Fields, error) {
	if !utf8.ValidString(text) || strings.ContainsRune(text, 0) {
		return Fields{}, fmt.Errorf("%w: input is not text", ErrMalformedText)
	}

	return Fields{
		InvoiceNumber: invoiceNumber(text),
		Date:          firstDate(text),
		Vendor:        vendor(text),
		TotalAmount:   totalAmount(text),
		Currency:      currency(text),
		Items:         lineItems(text),
	}, nil
}

func invoiceNumber(text string) string {
	for _, m := range reInvoiceNumber.FindAllStringSubmatch(text, -1) {
		// a token without digits is another word ("Invoice Date", "Bill To")
		if strings.IndexFunc(m[1], unicode.IsDigit) >= 0 {
			return m[1]
		}
	}
	return ""
}

// firstDate returns the first date-looking substring verbatim.
func firstDate(text string) string {
	return reDate.FindString(text)
}

func totalAmount(text string) *float64 {
	m := reTotal.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, ok := parseAmount(m[1])
	if !ok {
		return nil
	}
	return &v
}

func currency(text string) string {
	m := reCurrency.FindString(text)
	if m == "" {
		return DefaultCurrency
	}
	if code, ok := currencySymbols[m]; ok {
		return code
	}
	return strings.ToUpper(m)
}

// vendor picks the first line with more than three characters that contains
// at least one letter.
func vendor(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= 3 {
			continue
		}
		if strings.IndexFunc(line, unicode.IsLetter) < 0 {
			continue
		}
		return line
	}
	return ""
}

func lineItems(text string) []Item {
	items := []Item{}
	for _, m := range reLineItem.FindAllStringSubmatch(text, -1) {
		qty, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		unit, ok := parseAmount(m[3])
		if !ok {
			continue
		}
		total, ok := parseAmount(m[4])
		if !ok {
			continue
		}
		items = append(items, Item{
			Description: strings.TrimSpace(m[1]),
			Quantity:    qty,
			UnitPrice:   unit,
			TotalPrice:  total,
		})
	}
	return items
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
