package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	errNoNumber = errors.New("no number found")
	errNegative = errors.New("negative amount")

	numberToken = regexp.MustCompile(`\d[\d.,']*`)
	// space, no-break space and narrow no-break space used as thousands separators
	spacedThousands = regexp.MustCompile(`(\d)[ \x{00a0}\x{202f}](\d{3})(?:\b|$)`)
)

// parseAmount reads the first number in s as a non-negative decimal.
// decimalSep is the locale's decimal separator, "" when unknown. The bool
// result reports that the separator had to be guessed.
func (n *Normalizer) parseAmount(s string, decimalSep string) (decimal.Decimal, bool, error) {
	text := n.currencies.stripCurrency(s)
	for spacedThousands.MatchString(text) {
		text = spacedThousands.ReplaceAllString(text, "$1$2")
	}

	loc := numberToken.FindStringIndex(text)
	if loc == nil {
		return decimal.Decimal{}, false, errNoNumber
	}
	if negativeSign(text[:loc[0]], text[loc[1]:]) {
		return decimal.Decimal{}, false, errNegative
	}

	token := strings.TrimRight(text[loc[0]:loc[1]], ".,")
	token = strings.ReplaceAll(token, "'", "")

	plain, ambiguous, err := canonicalNumber(token, decimalSep)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	d, err := decimal.NewFromString(plain)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parsing %q: %w", plain, err)
	}
	return d, ambiguous, nil
}

// negativeSign reports a minus or opening parenthesis attached to the
// number. A dash standing between a label and the number ("Total - 10,00")
// or trailing text ("10,00 - vencimento") is punctuation, not a sign.
func negativeSign(before, after string) bool {
	if strings.HasPrefix(after, "-") {
		return true
	}
	for _, sign := range []string{"-", "−", "("} {
		if strings.HasSuffix(before, sign) {
			return true
		}
		// the sign may be separated from the digits by a stripped currency symbol
		if strings.TrimSpace(before) == sign {
			return true
		}
	}
	return false
}

// canonicalNumber rewrites a digit string with '.' and ',' separators into
// plain "1234.56" form.
func canonicalNumber(token, decimalSep string) (string, bool, error) {
	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	switch {
	case lastDot < 0 && lastComma < 0:
		return token, false, nil

	case lastDot >= 0 && lastComma >= 0:
		// both present: whichever comes last is the decimal separator
		dec, thousands := ".", ","
		if lastComma > lastDot {
			dec, thousands = ",", "."
		}
		i := strings.LastIndex(token, dec)
		intPart, err := ungroup(token[:i], thousands)
		if err != nil {
			return "", false, err
		}
		frac := token[i+1:]
		if strings.ContainsAny(frac, ".,") {
			return "", false, fmt.Errorf("malformed number %q", token)
		}
		return intPart + "." + frac, false, nil
	}

	sep := "."
	if lastComma >= 0 {
		sep = ","
	}
	if strings.Count(token, sep) > 1 {
		intPart, err := ungroup(token, sep)
		return intPart, false, err
	}

	i := strings.Index(token, sep)
	intPart, frac := token[:i], token[i+1:]
	if intPart == "" {
		intPart = "0"
	}
	// only "d.ddd" / "ddd,ddd" can be a thousands group
	if len(frac) != 3 || len(intPart) > 3 || intPart == "0" {
		return intPart + "." + frac, false, nil
	}
	switch decimalSep {
	case sep:
		return intPart + "." + frac, false, nil
	case "":
		return intPart + frac, true, nil
	default:
		return intPart + frac, false, nil
	}
}

// ungroup removes thousands separators, checking the groups are well formed
func ungroup(s, sep string) (string, error) {
	groups := strings.Split(s, sep)
	for i, g := range groups {
		if g == "" || len(g) > 3 || (i > 0 && len(g) != 3) {
			return "", fmt.Errorf("malformed digit grouping %q", s)
		}
	}
	return strings.Join(groups, ""), nil
}

// formatDecimal renders d keeping the scale it was read with ("20.00")
func formatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}
