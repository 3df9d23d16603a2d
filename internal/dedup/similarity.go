package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText lowercases s, folds diacritics ("Café" -> "cafe"), replaces
// punctuation with spaces and collapses whitespace.
func NormalizeText(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Ratio is the normalized Levenshtein similarity of a and b in [0, 1].
func Ratio(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// TokenSetRatio compares a and b as sets of words, so word order and
// repeated words do not matter. Inputs are normalized first. The measure is
// symmetric and returns 1 for non-empty strings that normalize identically.
// When one word set contains the other the score is also 1 ("The Loft" vs
// "The Loft Rooftop"). Strings with no words ("", "!!!") never match.
func TokenSetRatio(a, b string) float64 {
	ta, tb := tokenSet(NormalizeText(a)), tokenSet(NormalizeText(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, onlyA, onlyB []string
	for w := range ta {
		if _, ok := tb[w]; ok {
			inter = append(inter, w)
		} else {
			onlyA = append(onlyA, w)
		}
	}
	for w := range tb {
		if _, ok := ta[w]; !ok {
			onlyB = append(onlyB, w)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(inter, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	best := Ratio(withA, withB)
	if base != "" {
		best = max(best, Ratio(base, withA), Ratio(base, withB))
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
