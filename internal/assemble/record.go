package assemble

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-extractor/internal/normalize"
)

// Status is the extraction outcome of a record
type Status string

const (
	StatusComplete Status = "Complete"
	StatusPartial  Status = "Partial"
	StatusFailed   Status = "Failed"
)

// Record is an assembled invoice. It is immutable: accessors return copies.
type Record struct {
	fields    map[normalize.FieldName]normalize.Field
	lineItems []normalize.LineItem
	overall   float64
	pageCount int
	status    Status
	warnings  []normalize.Warning
}

// Field returns the named singular field if it was extracted
func (r *Record) Field(name normalize.FieldName) (normalize.Field, bool) {
	f, ok := r.fields[name]
	if !ok {
		return normalize.Field{}, false
	}
	f.Sources = slices.Clone(f.Sources)
	return f, true
}

// LineItems returns the line items in page, then vertical, order
func (r *Record) LineItems() []normalize.LineItem {
	items := make([]normalize.LineItem, len(r.lineItems))
	for i, item := range r.lineItems {
		items[i] = cloneLineItem(item)
	}
	return items
}

func cloneLineItem(item normalize.LineItem) normalize.LineItem {
	item.Sources = slices.Clone(item.Sources)
	item.Quantity = cloneDecimal(item.Quantity)
	item.UnitPrice = cloneDecimal(item.UnitPrice)
	item.Amount = cloneDecimal(item.Amount)
	return item
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// OverallConfidence is the weighted mean of every retained confidence
func (r *Record) OverallConfidence() float64 {
	return r.overall
}

// PageCount is the number of pages in the source document
func (r *Record) PageCount() int {
	return r.pageCount
}

// Status is the extraction status
func (r *Record) Status() Status {
	return r.status
}

// Warnings lists normalization warnings and skipped pages
func (r *Record) Warnings() []normalize.Warning {
	return slices.Clone(r.warnings)
}

// Empty reports whether nothing was extracted
func (r *Record) Empty() bool {
	return len(r.fields) == 0 && len(r.lineItems) == 0
}

// FieldValue is a serialized singular field
type FieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// LineItemValue is a serialized line item
type LineItemValue struct {
	Description string       `json:"description"`
	Quantity    *json.Number `json:"quantity"`
	UnitPrice   *string      `json:"unit_price"`
	Amount      *string      `json:"amount"`
	Confidence  float64      `json:"confidence"`
}

// Document is the serialized form of a Record, the stable output contract.
// Consumers decode stored records into it.
type Document struct {
	InvoiceNumber     *FieldValue     `json:"invoice_number"`
	IssueDate         *FieldValue     `json:"issue_date"`
	DueDate           *FieldValue     `json:"due_date"`
	TotalAmount       *FieldValue     `json:"total_amount"`
	Currency          *FieldValue     `json:"currency"`
	LineItems         []LineItemValue `json:"line_items"`
	OverallConfidence float64         `json:"overall_confidence"`
	PageCount         int             `json:"page_count"`
	ExtractionStatus  Status          `json:"extraction_status"`
}

// Document converts the record to its serialized form
func (r *Record) Document() Document {
	doc := Document{
		InvoiceNumber:     r.fieldValue(normalize.InvoiceNumber),
		IssueDate:         r.fieldValue(normalize.IssueDate),
		DueDate:           r.fieldValue(normalize.DueDate),
		TotalAmount:       r.fieldValue(normalize.TotalAmount),
		Currency:          r.fieldValue(normalize.Currency),
		LineItems:         make([]LineItemValue, 0, len(r.lineItems)),
		OverallConfidence: roundConfidence(r.overall),
		PageCount:         r.pageCount,
		ExtractionStatus:  r.status,
	}
	for _, item := range r.lineItems {
		v := LineItemValue{
			Description: item.Description,
			UnitPrice:   normalize.FormatDecimal(item.UnitPrice),
			Amount:      normalize.FormatDecimal(item.Amount),
			Confidence:  roundConfidence(item.Confidence),
		}
		if q := normalize.FormatDecimal(item.Quantity); q != nil {
			n := json.Number(*q)
			v.Quantity = &n
		}
		doc.LineItems = append(doc.LineItems, v)
	}
	return doc
}

// MarshalJSON encodes the record in the output contract shape
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Document())
}

func (r *Record) fieldValue(name normalize.FieldName) *FieldValue {
	f, ok := r.fields[name]
	if !ok {
		return nil
	}
	return &FieldValue{Value: f.Value, Confidence: roundConfidence(f.Confidence)}
}

func roundConfidence(c float64) float64 {
	return math.Round(c*1e4) / 1e4
}
