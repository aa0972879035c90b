package extraction

import "errors"

// ErrMalformedText is returned when the input cannot be treated as text at all.
// Finding no fields is not an error.
var ErrMalformedText = errors.New("malformed ocr text")

// Item is a single line item recovered from invoice text.
type Item struct {
	Description string
	Quantity    int
	UnitPrice   float64
	TotalPrice  float64
}

// Fields holds the structured invoice data recovered from OCR text.
// Unmatched fields keep their zero value; TotalAmount is nil when no total was found.
type Fields struct {
	InvoiceNumber string
	Date          string
	Vendor        string
	TotalAmount   *float64
	Currency      string
	Items         []Item
}

// Extractor turns raw OCR text into invoice fields.
// Implementations must be deterministic and must not touch the network or disk.
type Extractor interface {
	Extract(text string) (Fields, error)
}
