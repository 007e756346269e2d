package normalize

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-extractor/internal/extraction"
)

type indexedElement struct {
	index int
	el    extraction.Element
}

// lineItems turns every line-item table on the page into LineItems. A
// table qualifies when its first row matches enough column roles.
func (n *Normalizer) lineItems(page int, cells []indexedElement, loc Locale) ([]LineItem, []Warning) {
	var (
		items    []LineItem
		warnings []Warning
	)

	tables := map[int][]indexedElement{}
	var tableIDs []int
	for _, c := range cells {
		if _, ok := tables[c.el.Table]; !ok {
			tableIDs = append(tableIDs, c.el.Table)
		}
		tables[c.el.Table] = append(tables[c.el.Table], c)
	}
	slices.Sort(tableIDs)

	for _, id := range tableIDs {
		rows := map[int][]indexedElement{}
		var rowIDs []int
		for _, c := range tables[id] {
			if _, ok := rows[c.el.Row]; !ok {
				rowIDs = append(rowIDs, c.el.Row)
			}
			rows[c.el.Row] = append(rows[c.el.Row], c)
		}
		slices.Sort(rowIDs)
		if len(rowIDs) < 2 {
			continue
		}

		columns, headerFactor, ok := n.headerRoles(rows[rowIDs[0]])
		if !ok {
			continue
		}
		if _, ok := columns[RoleDescription]; !ok {
			warnings = append(warnings, Warning{Page: page, Field: "line_item", Message: fmt.Sprintf("table %d has no description column", id)})
			continue
		}

		for _, rowID := range rowIDs[1:] {
			item, rowWarnings, ok := n.lineItem(page, id, rowID, rows[rowID], columns, headerFactor, loc)
			warnings = append(warnings, rowWarnings...)
			if ok {
				items = append(items, item)
			}
		}
	}
	return items, warnings
}

// headerRoles maps column roles to column indexes. The factor is the
// fuzzy penalty when any header matched fuzzily.
func (n *Normalizer) headerRoles(header []indexedElement) (map[string]int, float64, bool) {
	columns := map[string]int{}
	factor := 1.0
	for _, c := range header {
		role, m, ok := n.headers.match(c.el.Text)
		if !ok {
			continue
		}
		if _, taken := columns[role]; taken {
			continue
		}
		columns[role] = c.el.Column
		if !m.exact {
			factor = n.policy.FuzzyPenalty
		}
	}
	return columns, factor, len(columns) >= n.policy.MinHeaderMatches
}

func (n *Normalizer) lineItem(page, table, rowID int, row []indexedElement, columns map[string]int, headerFactor float64, loc Locale) (LineItem, []Warning, bool) {
	var warnings []Warning
	byColumn := map[int]indexedElement{}
	for _, c := range row {
		byColumn[c.el.Column] = c
	}

	desc, ok := byColumn[columns[RoleDescription]]
	description := strings.Join(strings.Fields(desc.el.Text), " ")
	if !ok || description == "" {
		return LineItem{}, nil, false
	}
	if _, _, summary := n.summary.match(description); summary {
		return LineItem{}, nil, false
	}

	item := LineItem{
		Description: description,
		Page:        page,
		Table:       table,
		Row:         rowID,
		Top:         math.Inf(1),
	}
	conf := desc.el.Confidence
	ambiguous := false

	for _, c := range row {
		item.Sources = append(item.Sources, ElementRef{Page: page, Index: c.index})
		item.Top = math.Min(item.Top, c.el.Box.Top)
	}

	for _, role := range []string{RoleQuantity, RoleUnitPrice, RoleAmount} {
		col, ok := columns[role]
		if !ok {
			continue
		}
		cell, ok := byColumn[col]
		if !ok || strings.TrimSpace(cell.el.Text) == "" {
			continue
		}
		d, amb, err := n.parseAmount(cell.el.Text, n.decimalSeparator(cell.el.Text, loc))
		if err != nil {
			warnings = append(warnings, Warning{Page: page, Field: "line_item", Message: fmt.Sprintf("row %d %s %q dropped: %v", rowID, role, cell.el.Text, err)})
			continue
		}
		if amb {
			ambiguous = true
			warnings = append(warnings, Warning{Page: page, Field: "line_item", Message: fmt.Sprintf("row %d ambiguous separator in %q", rowID, cell.el.Text)})
		}
		conf = math.Min(conf, cell.el.Confidence)
		v := d
		switch role {
		case RoleQuantity:
			item.Quantity = &v
		case RoleUnitPrice:
			item.UnitPrice = &v
		case RoleAmount:
			item.Amount = &v
		}
	}

	conf *= headerFactor
	if ambiguous {
		conf *= n.policy.AmbiguityPenalty
	}
	item.Confidence = conf
	return item, warnings, true
}

// FormatDecimal renders an optional decimal with its source scale
func FormatDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := formatDecimal(*d)
	return &s
}
