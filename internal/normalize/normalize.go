package normalize

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-extractor/internal/extraction"
)

// ElementRef points at the raw element a value was read from
type ElementRef struct {
	Page  int `json:"page"`
	Index int `json:"index"`
}

// Field is one normalized singular field. Value holds the canonical string
// form (ISO date, plain decimal, ISO-4217 code); Date and Amount carry the
// typed value for those fields.
type Field struct {
	Name       FieldName
	Value      string
	Date       time.Time
	Amount     decimal.Decimal
	Confidence float64
	Sources    []ElementRef
	Page       int
}

// LineItem is one row of a line-item table
type LineItem struct {
	Description string
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	Amount      *decimal.Decimal
	Confidence  float64
	Sources     []ElementRef
	Page        int
	// Top is the vertical position of the row on its page
	Top   float64
	Table int
	Row   int
}

// Warning records an ambiguity or a dropped value. It lowers confidence
// or removes a candidate but never fails a run.
type Warning struct {
	Page    int    `json:"page"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	if w.Field == "" {
		return fmt.Sprintf("page %d: %s", w.Page, w.Message)
	}
	return fmt.Sprintf("page %d: %s: %s", w.Page, w.Field, w.Message)
}

// PageResult is the normalized content of one page. Fields holds at most
// one entry per field name.
type PageResult struct {
	Page      int
	Fields    []Field
	LineItems []LineItem
	Warnings  []Warning
}

// Field returns the named field if the page has it
func (r PageResult) Field(name FieldName) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Normalizer maps raw page responses onto the invoice fields
type Normalizer struct {
	policy     Policy
	labels     *labelMatcher[FieldName]
	headers    *labelMatcher[string]
	summary    *labelMatcher[string]
	currencies *currencyTable
	noise      map[string]bool
	logger     *slog.Logger
}

// New creates a Normalizer for the given policy
func New(policy Policy, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	noise := make(map[string]bool, len(policy.DateNoiseWords))
	for _, w := range policy.DateNoiseWords {
		noise[strings.ToLower(w)] = true
	}
	return &Normalizer{
		policy:     policy,
		labels:     newLabelMatcher(Fields, policy.Labels, policy.FuzzyThreshold),
		headers:    newLabelMatcher([]string{RoleDescription, RoleQuantity, RoleUnitPrice, RoleAmount}, policy.LineItemHeaders, policy.FuzzyThreshold),
		summary:    newLabelMatcher([]string{"summary"}, map[string][]string{"summary": policy.SummaryRows}, policy.FuzzyThreshold),
		currencies: newCurrencyTable(policy),
		noise:      noise,
		logger:     logger,
	}
}

// candidate is a raw element that may hold a field value
type candidate struct {
	index int
	el    extraction.Element
	value string
	match labelMatch
}

// Normalize maps one page response onto the invoice fields. Nothing is
// produced for a field without a parseable candidate.
func (n *Normalizer) Normalize(resp *extraction.PageResponse, loc Locale) PageResult {
	if resp == nil {
		return PageResult{}
	}
	res := PageResult{Page: resp.Page}
	for _, w := range resp.Warnings {
		res.Warnings = append(res.Warnings, Warning{Page: resp.Page, Message: w})
	}

	kv := map[FieldName][]candidate{}
	lines := map[FieldName][]candidate{}
	var cells []indexedElement

	for i, el := range resp.Elements {
		switch el.Kind {
		case extraction.KindKeyValuePair:
			if field, m, ok := n.fieldFor(el.Key, el.Text, loc); ok {
				kv[field] = append(kv[field], candidate{index: i, el: el, value: el.Text, match: m})
			}
		case extraction.KindLine:
			label, value, ok := splitLabeled(el.Text)
			if !ok {
				continue
			}
			if field, m, ok := n.fieldFor(label, value, loc); ok {
				lines[field] = append(lines[field], candidate{index: i, el: el, value: value, match: m})
			}
		case extraction.KindTableCell:
			cells = append(cells, indexedElement{index: i, el: el})
		}
	}

	for _, name := range []FieldName{InvoiceNumber, IssueDate, DueDate, TotalAmount} {
		cands := kv[name]
		if len(cands) == 0 {
			cands = lines[name]
		}
		if f, ok := n.pickField(name, rankCandidates(cands), resp.Page, loc, &res.Warnings); ok {
			res.Fields = append(res.Fields, f)
		}
	}

	cands := kv[Currency]
	if len(cands) == 0 {
		cands = lines[Currency]
	}
	if f, ok := n.pickCurrency(rankCandidates(cands), resp, res, &res.Warnings); ok {
		res.Fields = append(res.Fields, f)
	}

	items, warnings := n.lineItems(resp.Page, cells, loc)
	res.LineItems = items
	res.Warnings = append(res.Warnings, warnings...)

	n.logger.Debug("normalized page",
		"page", resp.Page,
		"elements", len(resp.Elements),
		"fields", len(res.Fields),
		"line_items", len(res.LineItems),
		"warnings", len(res.Warnings))

	return res
}

// fieldFor picks the field a label names. An exact match decides alone.
// Among fuzzy matches a date, amount or currency field whose value parses
// is preferred, since an invoice number has no shape to check.
func (n *Normalizer) fieldFor(label, value string, loc Locale) (FieldName, labelMatch, bool) {
	ms := n.labels.matches(label)
	if len(ms) == 0 {
		return "", labelMatch{}, false
	}
	if ms[0].match.exact {
		return ms[0].key, ms[0].match, true
	}
	for _, m := range ms {
		if m.key != InvoiceNumber && n.parses(m.key, value, loc) {
			return m.key, m.match, true
		}
	}
	for _, m := range ms {
		if m.key == InvoiceNumber && n.parses(m.key, value, loc) {
			return m.key, m.match, true
		}
	}
	return ms[0].key, ms[0].match, true
}

// parses reports whether value reads as the given field
func (n *Normalizer) parses(name FieldName, value string, loc Locale) bool {
	switch name {
	case IssueDate, DueDate:
		_, ok := n.parseDate(value, loc.DateOrder)
		return ok
	case TotalAmount:
		_, _, err := n.parseAmount(value, n.decimalSeparator(value, loc))
		return err == nil
	case Currency:
		_, ok := n.currencies.parseValue(value)
		return ok
	case InvoiceNumber:
		return cleanIdentifier(value) != ""
	}
	return false
}

// rankCandidates orders exact label matches first in reading order, then
// fuzzy matches by descending similarity.
func rankCandidates(cands []candidate) []candidate {
	ranked := slices.Clone(cands)
	slices.SortStableFunc(ranked, func(a, b candidate) int {
		switch {
		case a.match.exact && !b.match.exact:
			return -1
		case !a.match.exact && b.match.exact:
			return 1
		case a.match.exact:
			return 0
		case a.match.score > b.match.score:
			return -1
		case a.match.score < b.match.score:
			return 1
		}
		return 0
	})
	return ranked
}

// pickField returns the first ranked candidate whose value parses
func (n *Normalizer) pickField(name FieldName, cands []candidate, page int, loc Locale, warnings *[]Warning) (Field, bool) {
	for _, c := range cands {
		f := Field{
			Name:    name,
			Page:    page,
			Sources: []ElementRef{{Page: page, Index: c.index}},
		}
		ambiguous := false

		switch name {
		case InvoiceNumber:
			v := cleanIdentifier(c.value)
			if v == "" {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("empty value for label %q", c.el.Key)})
				continue
			}
			f.Value = v

		case IssueDate, DueDate:
			d, ok := n.parseDate(c.value, loc.DateOrder)
			if !ok {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("unparseable date %q dropped", c.value)})
				continue
			}
			value := d.Time.Format(time.DateOnly)
			if d.Ambiguous {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("ambiguous date %q read as %s", c.value, value)})
			}
			if d.Residual {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("date %q read as %s ignoring surrounding text", c.value, value)})
			}
			f.Date, f.Value, ambiguous = d.Time, value, d.Ambiguous || d.Residual

		case TotalAmount:
			d, amb, err := n.parseAmount(c.value, n.decimalSeparator(c.value, loc))
			if err != nil {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("amount %q dropped: %v", c.value, err)})
				continue
			}
			if amb {
				*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("ambiguous separator in %q read as %s", c.value, formatDecimal(d))})
			}
			f.Amount, f.Value, ambiguous = d, formatDecimal(d), amb
		}

		f.Confidence = n.confidence(c.el.Confidence, c.match, ambiguous)
		if !c.match.exact {
			*warnings = append(*warnings, Warning{Page: page, Field: string(name), Message: fmt.Sprintf("label %q matched fuzzily", labelOf(c.el))})
		}
		return f, true
	}
	return Field{}, false
}

// pickCurrency takes a labelled currency, else the currency printed with
// the total, else one printed anywhere on the page.
func (n *Normalizer) pickCurrency(cands []candidate, resp *extraction.PageResponse, res PageResult, warnings *[]Warning) (Field, bool) {
	page := resp.Page
	build := func(hit currencyHit, el extraction.Element, index int, m labelMatch, penalty float64) Field {
		conf := n.confidence(el.Confidence, m, hit.Ambiguous) * penalty
		if hit.Ambiguous {
			*warnings = append(*warnings, Warning{Page: page, Field: string(Currency), Message: fmt.Sprintf("ambiguous currency symbol read as %s", hit.Code)})
		}
		return Field{
			Name:       Currency,
			Value:      hit.Code,
			Confidence: conf,
			Sources:    []ElementRef{{Page: page, Index: index}},
			Page:       page,
		}
	}

	for _, c := range cands {
		if hit, ok := n.currencies.parseValue(c.value); ok {
			return build(hit, c.el, c.index, c.match, 1), true
		}
		*warnings = append(*warnings, Warning{Page: page, Field: string(Currency), Message: fmt.Sprintf("unknown currency %q dropped", c.value)})
	}

	if total, ok := res.Field(TotalAmount); ok {
		idx := total.Sources[0].Index
		el := resp.Elements[idx]
		if hits := n.currencies.find(el.Text); len(hits) > 0 {
			return build(hits[0], el, idx, labelMatch{score: 1, exact: true}, 1), true
		}
	}

	for i, el := range resp.Elements {
		if el.Kind == extraction.KindWord {
			continue
		}
		if hits := n.currencies.findInText(el.Text); len(hits) > 0 {
			return build(hits[0], el, i, labelMatch{score: 1, exact: true}, n.policy.TextCurrencyPenalty), true
		}
	}
	return Field{}, false
}

// confidence applies the label and ambiguity penalties to an element confidence
func (n *Normalizer) confidence(base float64, m labelMatch, ambiguous bool) float64 {
	c := base
	if !m.exact {
		c *= n.policy.FuzzyPenalty
	}
	if ambiguous {
		c *= n.policy.AmbiguityPenalty
	}
	return c
}

// decimalSeparator prefers the convention of a currency printed with the
// value over the document locale.
func (n *Normalizer) decimalSeparator(value string, loc Locale) string {
	for _, hit := range n.currencies.find(value) {
		if hit.Ambiguous {
			continue
		}
		if hint, ok := n.policy.CurrencyHints[hit.Code]; ok && hint.DecimalSeparator != "" {
			return hint.DecimalSeparator
		}
	}
	return loc.DecimalSeparator
}

// splitLabeled splits "Label: value" lines
func splitLabeled(text string) (string, string, bool) {
	label, value, ok := strings.Cut(text, ":")
	if !ok {
		return "", "", false
	}
	label, value = strings.TrimSpace(label), strings.TrimSpace(value)
	if label == "" || value == "" {
		return "", "", false
	}
	return label, value, true
}

// cleanIdentifier trims the punctuation OCR leaves around identifiers
func cleanIdentifier(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " :#.-")
}

func labelOf(el extraction.Element) string {
	if el.Key != "" {
		return el.Key
	}
	label, _, _ := splitLabeled(el.Text)
	return label
}
