package invoice

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-extractor/internal/assemble"
)

const (
	invoiceSheet  = "Invoices"
	lineItemSheet = "Line Items"
)

var (
	invoiceHeaders = []string{
		"ID", "File", "Status", "Invoice Number", "Issue Date", "Due Date",
		"Total", "Currency", "Confidence", "Pages", "Uploaded",
	}
	lineItemHeaders = []string{
		"Invoice ID", "Invoice Number", "Description", "Quantity", "Unit Price", "Amount", "Confidence",
	}
)

// ExportXLSX returns a workbook with one row per invoice and one row per
// line item
func (s *Service) ExportXLSX() ([]byte, error) {
	start := time.Now()

	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", invoiceSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(lineItemSheet); err != nil {
		return nil, fmt.Errorf("creating sheet: %w", err)
	}
	writeRow(f, invoiceSheet, 1, toCells(invoiceHeaders))
	writeRow(f, lineItemSheet, 1, toCells(lineItemHeaders))

	invoiceRow, itemRow := 2, 2
	for _, inv := range invoices {
		doc, err := inv.Document()
		if err != nil {
			s.logger.Warn("skipping invoice with unreadable record", "id", inv.ID, "error", err)
			continue
		}

		number := fieldText(doc.InvoiceNumber)
		writeRow(f, invoiceSheet, invoiceRow, []any{
			inv.ID,
			inv.Filename,
			string(inv.Status),
			number,
			fieldText(doc.IssueDate),
			fieldText(doc.DueDate),
			fieldText(doc.TotalAmount),
			fieldText(doc.Currency),
			doc.OverallConfidence,
			doc.PageCount,
			inv.CreatedAt.Format(time.DateTime),
		})
		invoiceRow++

		for _, item := range doc.LineItems {
			row := []any{inv.ID, number, item.Description, "", optional(item.UnitPrice), optional(item.Amount), item.Confidence}
			if item.Quantity != nil {
				row[3] = item.Quantity.String()
			}
			writeRow(f, lineItemSheet, itemRow, row)
			itemRow++
		}
	}

	_ = f.SetColWidth(invoiceSheet, "A", "B", 40)
	_ = f.SetColWidth(invoiceSheet, "C", "F", 16)
	_ = f.SetColWidth(invoiceSheet, "G", "J", 12)
	_ = f.SetColWidth(invoiceSheet, "K", "K", 20)
	_ = f.SetColWidth(lineItemSheet, "A", "B", 24)
	_ = f.SetColWidth(lineItemSheet, "C", "C", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("writing xlsx: %w", err)
	}

	s.logger.Info("exported invoices",
		"invoices", invoiceRow-2,
		"line_items", itemRow-2,
		"duration_ms", time.Since(start).Milliseconds())

	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toCells(headers []string) []any {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func fieldText(v *assemble.FieldValue) string {
	if v == nil {
		return ""
	}
	return v.Value
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
