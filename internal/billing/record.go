package billing

import (
	"slices"
	"time"
)

// Status is the processing state of a BillingRecord
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the record has left processing
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// BillingItem is a single line item on an invoice
type BillingItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
}

// BillingRecord represents one uploaded billing document and what was read from it
type BillingRecord struct {
	ID               string        `json:"id"`
	Status           Status        `json:"status"`
	OriginalFilename string        `json:"originalFilename"`
	UploadedAt       time.Time     `json:"uploadedAt"`
	ExtractedAt      *time.Time    `json:"extractedAt"`
	InvoiceNumber    string        `json:"invoiceNumber"`
	Vendor           string        `json:"vendor"`
	Date             string        `json:"date"`
	TotalAmount      *float64      `json:"totalAmount"` // nil when no total was found
	Currency         string        `json:"currency"`
	Items            []BillingItem `json:"items"`
	Confidence       float64       `json:"confidence"`
	RawText          string        `json:"rawText"`
	ContentType      string        `json:"contentType"`

	// StoragePath is the stored original's name inside Storage
	StoragePath string `json:"-"`
}

// Clone returns a deep copy, so callers never share slices or pointers with the store
func (r *BillingRecord) Clone() *BillingRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExtractedAt != nil {
		t := *r.ExtractedAt
		c.ExtractedAt = &t
	}
	if r.TotalAmount != nil {
		v := *r.TotalAmount
		c.TotalAmount = &v
	}
	c.Items = slices.Clone(r.Items)
	if c.Items == nil {
		c.Items = []BillingItem{}
	}
	return &c
}

// RecordSummary is the list projection of a record. It leaves out the raw OCR text.
type RecordSummary struct {
	ID               string        `json:"id"`
	Status           Status        `json:"status"`
	OriginalFilename string        `json:"originalFilename"`
	UploadedAt       time.Time     `json:"uploadedAt"`
	ExtractedAt      *time.Time    `json:"extractedAt"`
	InvoiceNumber    string        `json:"invoiceNumber"`
	Vendor           string        `json:"vendor"`
	Date             string        `json:"date"`
	TotalAmount      *float64      `json:"totalAmount"`
	Currency         string        `json:"currency"`
	Items            []BillingItem `json:"items"`
	Confidence       float64       `json:"confidence"`
	ContentType      string        `json:"contentType"`
}

// Summary projects the record for listing
func (r *BillingRecord) Summary() RecordSummary {
	c := r.Clone()
	return RecordSummary{
		ID:               c.ID,
		Status:           c.Status,
		OriginalFilename: c.OriginalFilename,
		UploadedAt:       c.UploadedAt,
		ExtractedAt:      c.ExtractedAt,
		InvoiceNumber:    c.InvoiceNumber,
		Vendor:           c.Vendor,
		Date:             c.Date,
		TotalAmount:      c.TotalAmount,
		Currency:         c.Currency,
		Items:            c.Items,
		Confidence:       c.Confidence,
		ContentType:      c.ContentType,
	}
}
