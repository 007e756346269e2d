package assemble

import (
	"cmp"
	"slices"

	"github.com/zombor/invoice-extractor/internal/normalize"
)

const (
	defaultCompleteThreshold = 0.6
	defaultWeight            = 1.0
)

// Config holds the assembly policy
type Config struct {
	// Weights gives the importance of each singular field; missing fields weigh 1
	Weights map[normalize.FieldName]float64
	// LineItemWeight is the weight of each line item
	LineItemWeight float64
	// CompleteThreshold is the confidence invoice_number and total_amount
	// need for a Complete record
	CompleteThreshold float64
}

// DefaultConfig weighs the total and the invoice number double
func DefaultConfig() Config {
	return Config{
		Weights: map[normalize.FieldName]float64{
			normalize.TotalAmount:   2,
			normalize.InvoiceNumber: 2,
		},
		LineItemWeight:    defaultWeight,
		CompleteThreshold: defaultCompleteThreshold,
	}
}

// Assembler merges per-page results into one Record
type Assembler struct {
	cfg Config
}

// New creates an Assembler
func New(cfg Config) *Assembler {
	if cfg.LineItemWeight <= 0 {
		cfg.LineItemWeight = defaultWeight
	}
	if cfg.CompleteThreshold <= 0 {
		cfg.CompleteThreshold = defaultCompleteThreshold
	}
	return &Assembler{cfg: cfg}
}

// Assemble merges page results into a Record. Pages may arrive in any
// order. For each singular field the most confident instance wins, ties
// going to the earliest page. It never fails: with nothing extracted the
// record is Failed.
func (a *Assembler) Assemble(pageCount int, pages []normalize.PageResult, warnings ...normalize.Warning) *Record {
	sorted := slices.Clone(pages)
	slices.SortStableFunc(sorted, func(x, y normalize.PageResult) int {
		return cmp.Compare(x.Page, y.Page)
	})

	r := &Record{
		fields:    make(map[normalize.FieldName]normalize.Field),
		pageCount: pageCount,
		warnings:  slices.Clone(warnings),
	}

	for _, page := range sorted {
		for _, f := range page.Fields {
			current, ok := r.fields[f.Name]
			if !ok || f.Confidence > current.Confidence {
				f.Sources = slices.Clone(f.Sources)
				r.fields[f.Name] = f
			}
		}
		for _, item := range page.LineItems {
			r.lineItems = append(r.lineItems, cloneLineItem(item))
		}
		r.warnings = append(r.warnings, page.Warnings...)
	}

	slices.SortStableFunc(r.lineItems, func(x, y normalize.LineItem) int {
		return cmp.Or(
			cmp.Compare(x.Page, y.Page),
			cmp.Compare(x.Top, y.Top),
			cmp.Compare(x.Table, y.Table),
			cmp.Compare(x.Row, y.Row),
		)
	})

	r.overall = a.overallConfidence(r)
	r.status = a.status(r)
	return r
}

func (a *Assembler) overallConfidence(r *Record) float64 {
	var sum, weights float64
	for _, name := range normalize.Fields {
		f, ok := r.fields[name]
		if !ok {
			continue
		}
		w, ok := a.cfg.Weights[name]
		if !ok {
			w = defaultWeight
		}
		sum += f.Confidence * w
		weights += w
	}
	for _, item := range r.lineItems {
		sum += item.Confidence * a.cfg.LineItemWeight
		weights += a.cfg.LineItemWeight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func (a *Assembler) status(r *Record) Status {
	if r.Empty() {
		return StatusFailed
	}
	number, hasNumber := r.fields[normalize.InvoiceNumber]
	total, hasTotal := r.fields[normalize.TotalAmount]
	_, hasCurrency := r.fields[normalize.Currency]

	if hasTotal && !hasCurrency {
		return StatusPartial
	}
	if hasNumber && hasTotal &&
		number.Confidence >= a.cfg.CompleteThreshold &&
		total.Confidence >= a.cfg.CompleteThreshold {
		return StatusComplete
	}
	return StatusPartial
}
