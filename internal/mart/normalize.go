package mart

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks after NFD decomposition, so
// "São Paulo" and "Sao Paulo" canonicalize to the same string.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldPlace canonicalizes a city/state name for lookups: diacritics removed,
// lowercased, inner whitespace collapsed.
//
// Source feeds are inconsistent about accents and casing ("são paulo",
// "Sao Paulo", "SAO PAULO"), so every map keyed by place name must key on the
// folded form.
func FoldPlace(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Removal transforms only fail on malformed UTF-8; fall back to
		// the raw string rather than dropping the value.
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
