package billing

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet   = "Summary"
	LineItemsSheet = "Line Items"

	// Placeholder fills summary cells that have no value
	Placeholder = "N/A"
	// NoItemsDescription marks the row written for a record without line items
	NoItemsDescription = "No items extracted"

	// ExportContentType is the MIME type of the generated workbook
	ExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	summaryHeaders = []any{
		"Invoice Number", "Vendor", "Date", "Total Amount", "Currency",
		"Status", "Processed Date", "Original File", "Confidence",
	}
	lineItemHeaders = []any{
		"Invoice Number", "Vendor", "Description", "Quantity", "Unit Price", "Total Price",
	}
)

// ExportFilename names a workbook generated at t
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("billing_export_%s.xlsx", t.Format("20060102_150405"))
}

func orPlaceholder(s string) string {
	if s == "" {
		return Placeholder
	}
	return s
}

// GenerateExport renders the completed records as a two-sheet XLSX workbook.
// Records in any other status are ignored. It returns ErrNothingToExport when
// no record is completed.
func GenerateExport(records []*BillingRecord) ([]byte, error) {
	completed := make([]*BillingRecord, 0, len(records))
	for _, r := range records {
		if r != nil && r.Status == StatusCompleted {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		return nil, ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("naming summary sheet: %w", err)
	}
	if _, err := f.NewSheet(LineItemsSheet); err != nil {
		return nil, fmt.Errorf("creating line items sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("creating header style: %w", err)
	}

	if err := writeSummary(f, completed, header); err != nil {
		return nil, err
	}
	if err := writeLineItems(f, completed, header); err != nil {
		return nil, err
	}

	idx, _ := f.GetSheetIndex(SummarySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []any, style int) error {
	if err := writeRow(f, sheet, 1, headers); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeSummary(f *excelize.File, records []*BillingRecord, header int) error {
	if err := writeHeader(f, SummarySheet, summaryHeaders, header); err != nil {
		return err
	}

	for i, r := range records {
		var total any = Placeholder
		if r.TotalAmount != nil {
			total = *r.TotalAmount
		}
		processed := Placeholder
		if r.ExtractedAt != nil {
			processed = r.ExtractedAt.Format("2006-01-02 15:04:05")
		}

		row := []any{
			orPlaceholder(r.InvoiceNumber),
			orPlaceholder(r.Vendor),
			orPlaceholder(r.Date),
			total,
			orPlaceholder(r.Currency),
			string(r.Status),
			processed,
			orPlaceholder(r.OriginalFilename),
			r.Confidence,
		}
		if err := writeRow(f, SummarySheet, i+2, row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(SummarySheet, "A", "C", 20)
	_ = f.SetColWidth(SummarySheet, "D", "F", 14)
	_ = f.SetColWidth(SummarySheet, "G", "H", 24)
	_ = f.SetColWidth(SummarySheet, "I", "I", 12)
	return nil
}

// writeLineItems writes one row per item, and a single placeholder row for
// records without items so every completed record appears on the sheet
func writeLineItems(f *excelize.File, records []*BillingRecord, header int) error {
	if err := writeHeader(f, LineItemsSheet, lineItemHeaders, header); err != nil {
		return err
	}

	row := 2
	for _, r := range records {
		invoice, vendor := orPlaceholder(r.InvoiceNumber), orPlaceholder(r.Vendor)

		if len(r.Items) == 0 {
			total := 0.0
			if r.TotalAmount != nil {
				total = *r.TotalAmount
			}
			if err := writeRow(f, LineItemsSheet, row, []any{invoice, vendor, NoItemsDescription, 0, 0.0, total}); err != nil {
				return err
			}
			row++
			continue
		}

		for _, it := range r.Items {
			if err := writeRow(f, LineItemsSheet, row, []any{invoice, vendor, it.Description, it.Quantity, it.UnitPrice, it.TotalPrice}); err != nil {
				return err
			}
			row++
		}
	}

	_ = f.SetColWidth(LineItemsSheet, "A", "B", 20)
	_ = f.SetColWidth(LineItemsSheet, "C", "C", 40)
	_ = f.SetColWidth(LineItemsSheet, "D", "F", 12)
	return nil
}
