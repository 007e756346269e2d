package normalize

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/currency"
)

// a currency code counts only when it sits next to a number ("BRL 10,00", "10.00 USD").
// In running text the number must carry a decimal separator so words like
// "TOP 10" are not read as currencies.
var (
	codeBeforeNumber = regexp.MustCompile(`(?:^|[^A-Za-z])([A-Z]{3})\s?[-\d]`)
	codeAfterNumber  = regexp.MustCompile(`\d\s?([A-Z]{3})(?:[^A-Za-z]|$)`)
	codeBeforeAmount = regexp.MustCompile(`(?:^|[^A-Za-z])([A-Z]{3})\s?-?\d[\d.,]*[.,]\d`)
	codeAfterAmount  = regexp.MustCompile(`\d[.,]\d+\s?([A-Z]{3})(?:[^A-Za-z]|$)`)
)

// currencyHit is a currency found in text
type currencyHit struct {
	Code      string
	Ambiguous bool
}

// currencyTable looks up printed symbols and ISO codes
type currencyTable struct {
	// symbols sorted longest first so "R$" is tried before "$"
	symbols   []string
	codes     map[string]string
	ambiguous map[string]bool
}

func newCurrencyTable(p Policy) *currencyTable {
	t := &currencyTable{codes: make(map[string]string), ambiguous: make(map[string]bool)}
	for sym, code := range p.CurrencySymbols {
		t.symbols = append(t.symbols, sym)
		t.codes[sym] = strings.ToUpper(code)
	}
	slices.SortFunc(t.symbols, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	for _, sym := range p.AmbiguousSymbols {
		t.ambiguous[sym] = true
	}
	return t
}

// isoCode validates an ISO-4217 code
func isoCode(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 3 {
		return "", false
	}
	unit, err := currency.ParseISO(s)
	if err != nil {
		return "", false
	}
	return unit.String(), true
}

// parseValue reads a currency field value: an ISO code or a known symbol
func (t *currencyTable) parseValue(s string) (currencyHit, bool) {
	s = strings.TrimSpace(s)
	if code, ok := isoCode(s); ok {
		return currencyHit{Code: code}, true
	}
	hits := t.find(s)
	if len(hits) == 0 {
		return currencyHit{}, false
	}
	return hits[0], true
}

// find returns the currencies in a value: symbols first, then ISO codes
// adjacent to a number.
func (t *currencyTable) find(s string) []currencyHit {
	return t.scan(s, codeBeforeNumber, codeAfterNumber)
}

// findInText is find for running text, where codes need an amount with a
// decimal separator next to them.
func (t *currencyTable) findInText(s string) []currencyHit {
	return t.scan(s, codeBeforeAmount, codeAfterAmount)
}

func (t *currencyTable) scan(s string, codePatterns ...*regexp.Regexp) []currencyHit {
	var hits []currencyHit
	masked := s
	for _, sym := range t.symbols {
		for strings.Contains(masked, sym) {
			hits = append(hits, currencyHit{Code: t.codes[sym], Ambiguous: t.ambiguous[sym]})
			masked = strings.Replace(masked, sym, strings.Repeat(" ", len(sym)), 1)
		}
	}
	for _, re := range codePatterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if code, ok := isoCode(m[1]); ok {
				hits = append(hits, currencyHit{Code: code})
			}
		}
	}
	return hits
}

// stripCurrency removes symbols and ISO codes so only the number is left
func (t *currencyTable) stripCurrency(s string) string {
	for _, sym := range t.symbols {
		s = strings.ReplaceAll(s, sym, " ")
	}
	return s
}
