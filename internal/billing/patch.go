package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// RecordPatch is a user correction of extracted fields. Nil fields are left alone.
type RecordPatch struct {
	InvoiceNumber *string
	Vendor        *string
	Date          *string
	Currency      *string
	TotalAmount   *float64
	// ClearTotalAmount resets the total to absent
	ClearTotalAmount bool
	Items            *[]BillingItem
}

func (p RecordPatch) apply(r *BillingRecord) {
	if p.InvoiceNumber != nil {
		r.InvoiceNumber = *p.InvoiceNumber
	}
	if p.Vendor != nil {
		r.Vendor = *p.Vendor
	}
	if p.Date != nil {
		r.Date = *p.Date
	}
	if p.Currency != nil {
		r.Currency = *p.Currency
	}
	if p.ClearTotalAmount {
		r.TotalAmount = nil
	} else if p.TotalAmount != nil {
		v := *p.TotalAmount
		r.TotalAmount = &v
	}
	if p.Items != nil {
		r.Items = slices.Clone(*p.Items)
	}
}

// DecodeRecordPatch reads a JSON object of editable fields.
// Keys outside invoiceNumber, vendor, date, totalAmount, currency and items
// are rejected, as is an empty object.
func DecodeRecordPatch(r io.Reader) (RecordPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return RecordPatch{}, invalid("body", "must be a JSON object: %v", err)
	}
	if len(raw) == 0 {
		return RecordPatch{}, invalid("body", "no fields to update")
	}

	var p RecordPatch
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		value := raw[key]
		var err error
		switch key {
		case "invoiceNumber":
			p.InvoiceNumber, err = decodeText(key, value)
		case "vendor":
			p.Vendor, err = decodeText(key, value)
		case "date":
			p.Date, err = decodeText(key, value)
		case "currency":
			p.Currency, err = decodeText(key, value)
			if err == nil {
				*p.Currency = strings.ToUpper(*p.Currency)
			}
		case "totalAmount":
			if isNull(value) {
				p.ClearTotalAmount = true
				continue
			}
			var v float64
			if jsonErr := json.Unmarshal(value, &v); jsonErr != nil {
				return RecordPatch{}, invalid(key, "must be a number or null")
			}
			if v < 0 {
				return RecordPatch{}, invalid(key, "must not be negative")
			}
			p.TotalAmount = &v
		case "items":
			p.Items, err = decodeItems(value)
		default:
			return RecordPatch{}, invalid(key, "is not editable")
		}
		if err != nil {
			return RecordPatch{}, err
		}
	}
	return p, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func decodeText(key string, value json.RawMessage) (*string, error) {
	s := ""
	if !isNull(value) {
		if err := json.Unmarshal(value, &s); err != nil {
			return nil, invalid(key, "must be a string")
		}
	}
	s = strings.TrimSpace(s)
	return &s, nil
}

func decodeItems(value json.RawMessage) (*[]BillingItem, error) {
	items := []BillingItem{}
	if !isNull(value) {
		if err := json.Unmarshal(value, &items); err != nil {
			return nil, invalid("items", "must be an array of line items")
		}
	}
	if items == nil {
		items = []BillingItem{}
	}
	for i, it := range items {
		if it.Quantity < 0 || it.UnitPrice < 0 || it.TotalPrice < 0 {
			return nil, invalid(fmt.Sprintf("items[%d]", i), "quantity and prices must not be negative")
		}
	}
	return &items, nil
}
