package normalize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldName identifies a singular invoice field
type FieldName string

const (
	InvoiceNumber FieldName = "invoice_number"
	IssueDate     FieldName = "issue_date"
	DueDate       FieldName = "due_date"
	TotalAmount   FieldName = "total_amount"
	Currency      FieldName = "currency"
)

// Fields lists the singular fields in output order
var Fields = []FieldName{InvoiceNumber, IssueDate, DueDate, TotalAmount, Currency}

// Column roles of a line-item table
const (
	RoleDescription = "description"
	RoleQuantity    = "quantity"
	RoleUnitPrice   = "unit_price"
	RoleAmount      = "amount"
)

// DateOrder tells which component comes first in a numeric date
type DateOrder string

const (
	DayFirst   DateOrder = "day_first"
	MonthFirst DateOrder = "month_first"
	YearFirst  DateOrder = "year_first"
	// Named layouts spell the month out and are never ambiguous
	Named DateOrder = "named"
)

// DateFormat is a Go time layout tagged with its component order
type DateFormat struct {
	Layout string    `yaml:"layout"`
	Order  DateOrder `yaml:"order"`
}

// LocaleHint is the number and date convention implied by a language or currency
type LocaleHint struct {
	DateOrder        DateOrder `yaml:"date_order"`
	DecimalSeparator string    `yaml:"decimal_separator"`
}

// Policy holds every table and constant the normalizer uses. The zero value
// is not useful; start from DefaultPolicy and override.
type Policy struct {
	// Labels maps each field to the label synonyms that introduce it
	Labels map[FieldName][]string `yaml:"labels"`
	// LineItemHeaders maps a column role to its header synonyms
	LineItemHeaders map[string][]string `yaml:"line_item_headers"`
	// SummaryRows are table row descriptions that are not line items
	SummaryRows []string     `yaml:"summary_rows"`
	DateFormats []DateFormat `yaml:"date_formats"`
	// MonthNames translates localized month names to English
	MonthNames map[string]string `yaml:"month_names"`
	// DateNoiseWords are dropped from date text ("15 de março de 2024")
	DateNoiseWords []string `yaml:"date_noise_words"`
	// CurrencySymbols maps printed symbols to ISO-4217 codes
	CurrencySymbols map[string]string `yaml:"currency_symbols"`
	// AmbiguousSymbols are symbols shared by several currencies
	AmbiguousSymbols []string `yaml:"ambiguous_symbols"`
	// LanguageHints is keyed by BCP 47 tag or base language
	LanguageHints map[string]LocaleHint `yaml:"language_hints"`
	// CurrencyHints is keyed by ISO-4217 code
	CurrencyHints map[string]LocaleHint `yaml:"currency_hints"`

	FuzzyThreshold   float64 `yaml:"fuzzy_threshold"`
	FuzzyPenalty     float64 `yaml:"fuzzy_penalty"`
	AmbiguityPenalty float64 `yaml:"ambiguity_penalty"`
	// TextCurrencyPenalty applies to a currency found only in running text
	TextCurrencyPenalty float64 `yaml:"text_currency_penalty"`
	MinHeaderMatches    int     `yaml:"min_header_matches"`
}

// DefaultPolicy returns the built-in policy. English and Portuguese labels
// are covered, with common Spanish, French and German variants.
func DefaultPolicy() Policy {
	return Policy{
		Labels: map[FieldName][]string{
			InvoiceNumber: {
				"Invoice No", "Invoice No.", "Invoice Number", "Invoice #", "Invoice Nr", "Invoice ID", "Invoice",
				"Bill No", "Bill Number", "Document No",
				"Nº Fatura", "Número da Fatura", "Fatura", "Fatura Nº", "Nota Fiscal", "Nº Nota Fiscal", "NF-e", "Número",
				"Nº Factura", "Número de Factura", "Factura", "Facture N°", "Numéro de Facture", "Rechnungsnummer", "Rechnung Nr",
			},
			IssueDate: {
				"Invoice Date", "Date", "Issue Date", "Date of Issue", "Issued", "Billing Date",
				"Data", "Data de Emissão", "Emissão", "Data da Fatura",
				"Fecha", "Fecha de Emisión", "Date de Facture", "Rechnungsdatum", "Datum",
			},
			DueDate: {
				"Due Date", "Payment Due", "Due", "Pay By", "Date Due",
				"Vencimento", "Data de Vencimento", "Vence em",
				"Fecha de Vencimiento", "Date d'échéance", "Échéance", "Fällig am", "Fälligkeitsdatum",
			},
			TotalAmount: {
				"Total", "Total Amount", "Amount Due", "Total Due", "Grand Total", "Balance Due", "Invoice Total", "Total to Pay",
				"Valor Total", "Total a Pagar", "Valor a Pagar", "Valor Total da Nota", "Total Geral",
				"Importe Total", "Montant Total", "Total TTC", "Gesamtbetrag", "Summe",
			},
			Currency: {
				"Currency", "Moeda", "Moneda", "Devise", "Währung",
			},
		},
		LineItemHeaders: map[string][]string{
			RoleDescription: {"Description", "Item", "Items", "Product", "Service", "Details", "Descrição", "Produto", "Serviço", "Descripción", "Désignation", "Beschreibung"},
			RoleQuantity:    {"Qty", "Quantity", "Qtd", "Qtde", "Quantidade", "Units", "Cantidad", "Quantité", "Menge"},
			RoleUnitPrice:   {"Unit Price", "Price", "Rate", "Unit Cost", "Valor Unitário", "Preço Unitário", "Vl Unit", "Precio Unitario", "Prix Unitaire", "Einzelpreis"},
			RoleAmount:      {"Amount", "Total", "Line Total", "Subtotal", "Valor", "Valor Total", "Importe", "Montant", "Betrag"},
		},
		SummaryRows: []string{
			"Total", "Subtotal", "Sub-total", "Grand Total", "Tax", "VAT", "Discount", "Shipping",
			"Valor Total", "Desconto", "Impostos", "Frete",
		},
		DateFormats: []DateFormat{
			{Layout: "2006-01-02", Order: YearFirst},
			{Layout: "2006/1/2", Order: YearFirst},
			{Layout: "2006.1.2", Order: YearFirst},
			{Layout: "2/1/2006", Order: DayFirst},
			{Layout: "1/2/2006", Order: MonthFirst},
			{Layout: "2-1-2006", Order: DayFirst},
			{Layout: "1-2-2006", Order: MonthFirst},
			{Layout: "2.1.2006", Order: DayFirst},
			{Layout: "2/1/06", Order: DayFirst},
			{Layout: "1/2/06", Order: MonthFirst},
			{Layout: "2 January 2006", Order: Named},
			{Layout: "2 Jan 2006", Order: Named},
			{Layout: "January 2 2006", Order: Named},
			{Layout: "Jan 2 2006", Order: Named},
			{Layout: "2-Jan-2006", Order: Named},
			{Layout: "2 January, 2006", Order: Named},
			{Layout: "January 2, 2006", Order: Named},
			{Layout: "Jan 2, 2006", Order: Named},
		},
		MonthNames: map[string]string{
			"janeiro": "january", "fevereiro": "february", "março": "march", "marco": "march", "abril": "april",
			"maio": "may", "junho": "june", "julho": "july", "agosto": "august", "setembro": "september",
			"outubro": "october", "novembro": "november", "dezembro": "december",
			"enero": "january", "febrero": "february", "marzo": "march", "mayo": "may", "junio": "june",
			"julio": "july", "septiembre": "september", "octubre": "october", "noviembre": "november", "diciembre": "december",
			"janvier": "january", "février": "february", "fevrier": "february", "mars": "march", "avril": "april",
			"mai": "may", "juin": "june", "juillet": "july", "août": "august", "aout": "august", "septembre": "september",
			"octobre": "october", "novembre": "november", "décembre": "december", "decembre": "december",
			"januar": "january", "februar": "february", "märz": "march", "juni": "june", "juli": "july",
			"oktober": "october", "dezember": "december",
			"fev": "feb", "abr": "apr", "ago": "aug", "set": "sep", "out": "oct", "dez": "dec",
		},
		DateNoiseWords: []string{"de", "del", "of", "le", "the"},
		CurrencySymbols: map[string]string{
			"R$": "BRL", "US$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "₹": "INR", "C$": "CAD", "A$": "AUD", "CHF": "CHF", "$": "USD",
		},
		AmbiguousSymbols: []string{"$", "¥"},
		LanguageHints: map[string]LocaleHint{
			"pt":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"es":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"fr":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"de":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"it":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"nl":    {DateOrder: DayFirst, DecimalSeparator: ","},
			"en":    {DateOrder: MonthFirst, DecimalSeparator: "."},
			"en-GB": {DateOrder: DayFirst, DecimalSeparator: "."},
			"en-IN": {DateOrder: DayFirst, DecimalSeparator: "."},
			"en-AU": {DateOrder: DayFirst, DecimalSeparator: "."},
			"ja":    {DateOrder: YearFirst, DecimalSeparator: "."},
			"zh":    {DateOrder: YearFirst, DecimalSeparator: "."},
		},
		CurrencyHints: map[string]LocaleHint{
			"BRL": {DateOrder: DayFirst, DecimalSeparator: ","},
			"EUR": {DateOrder: DayFirst, DecimalSeparator: ","},
			"ARS": {DateOrder: DayFirst, DecimalSeparator: ","},
			"USD": {DateOrder: MonthFirst, DecimalSeparator: "."},
			"GBP": {DateOrder: DayFirst, DecimalSeparator: "."},
			"INR": {DateOrder: DayFirst, DecimalSeparator: "."},
			"AUD": {DateOrder: DayFirst, DecimalSeparator: "."},
			"JPY": {DateOrder: YearFirst, DecimalSeparator: "."},
		},
		FuzzyThreshold:      0.8,
		FuzzyPenalty:        0.85,
		AmbiguityPenalty:    0.5,
		TextCurrencyPenalty: 0.85,
		MinHeaderMatches:    2,
	}
}

// LoadPolicy reads a YAML file and overlays it on the default policy. Maps
// replace the default entry per key; lists and scalars replace wholesale.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy overlays YAML policy data on the default policy
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parsing policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks the policy constants are usable
func (p Policy) Validate() error {
	for name, v := range map[string]float64{
		"fuzzy_threshold":       p.FuzzyThreshold,
		"fuzzy_penalty":         p.FuzzyPenalty,
		"ambiguity_penalty":     p.AmbiguityPenalty,
		"text_currency_penalty": p.TextCurrencyPenalty,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("policy %s must be in (0,1], got %v", name, v)
		}
	}
	if p.MinHeaderMatches < 1 {
		return fmt.Errorf("policy min_header_matches must be at least 1, got %d", p.MinHeaderMatches)
	}
	if len(p.DateFormats) == 0 {
		return fmt.Errorf("policy needs at least one date format")
	}
	for _, f := range p.DateFormats {
		switch f.Order {
		case DayFirst, MonthFirst, YearFirst, Named:
		default:
			return fmt.Errorf("policy date format %q has unknown order %q", f.Layout, f.Order)
		}
	}
	return nil
}
