package normalize

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldLabel lowercases s, strips accents and punctuation (except '#') and
// collapses whitespace, so "Nº  Fatura:" and "no fatura" compare equal.
func foldLabel(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	// the degree sign stands in for º on many invoices but has no decomposition
	folded, _, err := transform.String(t, strings.ReplaceAll(s, "°", "o"))
	if err != nil {
		folded = s
	}

	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// similarity is 2*|longest common substring| / (|a|+|b|) over runes
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	longest := 0
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
				longest = max(longest, cur[j])
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return 2 * float64(longest) / float64(len(ra)+len(rb))
}

// labelMatch is the outcome of matching a label against a synonym table
type labelMatch struct {
	score float64
	exact bool
}

// better reports whether m beats o: exact beats fuzzy, then higher score
func (m labelMatch) better(o labelMatch) bool {
	if m.exact != o.exact {
		return m.exact
	}
	return m.score > o.score
}

// labelMatcher matches folded labels against folded synonym tables
type labelMatcher[K comparable] struct {
	keys      []K
	synonyms  map[K][]string
	threshold float64
}

func newLabelMatcher[K comparable](keys []K, table map[K][]string, threshold float64) *labelMatcher[K] {
	m := &labelMatcher[K]{keys: keys, synonyms: make(map[K][]string, len(table)), threshold: threshold}
	for _, k := range keys {
		for _, s := range table[k] {
			if f := foldLabel(s); f != "" {
				m.synonyms[k] = append(m.synonyms[k], f)
			}
		}
	}
	return m
}

// keyMatch is one key's best match for a label
type keyMatch[K comparable] struct {
	key   K
	match labelMatch
}

// match returns the key whose synonyms best match label. An exact match
// always wins; otherwise the best fuzzy match at or above the threshold.
func (m *labelMatcher[K]) match(label string) (K, labelMatch, bool) {
	ms := m.matches(label)
	if len(ms) == 0 {
		var zero K
		return zero, labelMatch{}, false
	}
	return ms[0].key, ms[0].match, true
}

// matches returns every key with a synonym matching label, best first.
// Ties keep key order.
func (m *labelMatcher[K]) matches(label string) []keyMatch[K] {
	folded := foldLabel(label)
	if folded == "" {
		return nil
	}
	var out []keyMatch[K]
	for _, k := range m.keys {
		var (
			best  labelMatch
			found bool
		)
		for _, syn := range m.synonyms[k] {
			var cand labelMatch
			if syn == folded {
				cand = labelMatch{score: 1, exact: true}
			} else {
				s := similarity(folded, syn)
				if s < m.threshold {
					continue
				}
				cand = labelMatch{score: s}
			}
			if !found || cand.better(best) {
				best, found = cand, true
			}
		}
		if found {
			out = append(out, keyMatch[K]{key: k, match: best})
		}
	}
	slices.SortStableFunc(out, func(a, b keyMatch[K]) int {
		switch {
		case a.match.better(b.match):
			return -1
		case b.match.better(a.match):
			return 1
		}
		return 0
	})
	return out
}
