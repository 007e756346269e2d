package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/zombor/invoice-extractor/internal/extraction"
)

var languageMarker = regexp.MustCompile(`(?i)\b(?:lang|language|locale|idioma|langue|sprache)\s*[:=]\s*([a-z]{2,3}(?:[-_][a-z0-9]{2,8})*)`)

// Locale is the number and date convention of a document. Empty fields
// mean the convention could not be inferred.
type Locale struct {
	// Tag is the language from an explicit marker in the text
	Tag              string
	Currency         string
	DateOrder        DateOrder
	DecimalSeparator string
}

// Known reports whether any convention was inferred
func (l Locale) Known() bool {
	return l.DateOrder != "" || l.DecimalSeparator != ""
}

// InferLocale derives the document locale from every page. An explicit
// language marker ("lang: pt-BR") wins over currency evidence; among
// currencies the most frequent unambiguous one is used, and an ambiguous
// symbol such as "$" only when nothing else was seen.
func (n *Normalizer) InferLocale(resps ...*extraction.PageResponse) Locale {
	var (
		loc      Locale
		tag      language.Tag
		tagFound bool
		order    []string
		weakCode string
	)
	counts := map[string]int{}

	for _, resp := range resps {
		if resp == nil {
			continue
		}
		for _, el := range resp.Elements {
			if !tagFound {
				if t, ok := findLanguage(el); ok {
					tag, tagFound = t, true
				}
			}

			var hits []currencyHit
			if el.Kind == extraction.KindKeyValuePair {
				if field, _, ok := n.labels.match(el.Key); ok && field == Currency {
					if hit, ok := n.currencies.parseValue(el.Text); ok {
						hits = append(hits, hit)
					}
				}
			}
			hits = append(hits, n.currencies.findInText(el.Text)...)
			for _, hit := range hits {
				if hit.Ambiguous {
					if weakCode == "" {
						weakCode = hit.Code
					}
					continue
				}
				if counts[hit.Code] == 0 {
					order = append(order, hit.Code)
				}
				counts[hit.Code]++
			}
		}
	}

	for _, code := range order {
		if loc.Currency == "" || counts[code] > counts[loc.Currency] {
			loc.Currency = code
		}
	}
	if loc.Currency == "" {
		loc.Currency = weakCode
	}

	if tagFound {
		loc.Tag = tag.String()
		if hint, ok := n.languageHint(tag); ok {
			loc.DateOrder = hint.DateOrder
			loc.DecimalSeparator = hint.DecimalSeparator
			return loc
		}
	}
	if hint, ok := n.policy.CurrencyHints[loc.Currency]; ok {
		loc.DateOrder = hint.DateOrder
		loc.DecimalSeparator = hint.DecimalSeparator
	}
	return loc
}

func findLanguage(el extraction.Element) (language.Tag, bool) {
	candidates := []string{}
	if el.Kind == extraction.KindKeyValuePair {
		switch foldLabel(el.Key) {
		case "lang", "language", "locale", "idioma", "langue", "sprache":
			candidates = append(candidates, strings.TrimSpace(el.Text))
		}
	}
	if m := languageMarker.FindStringSubmatch(el.Text); m != nil {
		candidates = append(candidates, m[1])
	}
	for _, c := range candidates {
		tag, err := language.Parse(strings.ReplaceAll(c, "_", "-"))
		if err == nil && tag != language.Und {
			return tag, true
		}
	}
	return language.Und, false
}

// languageHint looks the tag up by full tag, then language-region, then
// base language.
func (n *Normalizer) languageHint(tag language.Tag) (LocaleHint, bool) {
	if hint, ok := n.policy.LanguageHints[tag.String()]; ok {
		return hint, true
	}
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact {
		if hint, ok := n.policy.LanguageHints[base.String()+"-"+region.String()]; ok {
			return hint, true
		}
	}
	hint, ok := n.policy.LanguageHints[base.String()]
	return hint, ok
}
