package normalize

import (
	"regexp"
	"strings"
	"time"
)

var (
	ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th|º|°)`)
	numericDate   = regexp.MustCompile(`\d{1,4}[./-]\d{1,2}[./-]\d{1,4}`)
)

type parsedDate struct {
	t     time.Time
	order DateOrder
}

// dateReading is a parsed date and how much of the text it relied on
type dateReading struct {
	Time time.Time
	// Ambiguous is set when layouts disagreed and no locale order decided
	Ambiguous bool
	// Residual is set when only a numeric date inside the text parsed
	Residual bool
}

// parseDate reads s with every policy layout that consumes the whole string.
// When layouts disagree the locale's date order decides; without one the
// first layout wins and the result is reported ambiguous. When nothing
// consumes the whole string a numeric date inside it is tried and the
// reading is marked residual.
func (n *Normalizer) parseDate(s string, order DateOrder) (dateReading, bool) {
	cleaned := n.cleanDate(s)
	var reading dateReading
	results := n.tryLayouts(cleaned)
	if len(results) == 0 {
		if m := numericDate.FindString(cleaned); m != "" && m != cleaned {
			results = n.tryLayouts(m)
			reading.Residual = true
		}
	}
	if len(results) == 0 {
		return dateReading{}, false
	}

	first := results[0]
	reading.Time = first.t
	for _, r := range results[1:] {
		if !r.t.Equal(first.t) {
			reading.Ambiguous = true
			break
		}
	}
	if !reading.Ambiguous || order == "" {
		return reading, true
	}

	for _, r := range results {
		if r.order == order {
			reading.Time, reading.Ambiguous = r.t, false
			break
		}
	}
	return reading, true
}

func (n *Normalizer) tryLayouts(s string) []parsedDate {
	var results []parsedDate
	for _, f := range n.policy.DateFormats {
		t, err := time.Parse(f.Layout, s)
		if err != nil {
			continue
		}
		results = append(results, parsedDate{t: t, order: f.Order})
	}
	return results
}

// cleanDate lowercases s, translates month names to English and drops
// ordinal suffixes and noise words.
func (n *Normalizer) cleanDate(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = ordinalSuffix.ReplaceAllString(s, "$1")

	var out []string
	for _, tok := range strings.Fields(s) {
		core := strings.TrimRight(tok, ".,")
		suffix := ""
		if strings.HasSuffix(tok, ",") {
			suffix = ","
		}
		if n.noise[core] {
			continue
		}
		if en, ok := n.policy.MonthNames[core]; ok {
			out = append(out, en+suffix)
			continue
		}
		if isAlpha(core) {
			// "jan." and "march," keep only the word
			out = append(out, core+suffix)
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
