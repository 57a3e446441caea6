package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// prefixUpperBound sorts after every character used in search keys, so [p, p+prefixUpperBound)
// covers all keys starting with p.
const prefixUpperBound = "\uf8ff"

// SearchKey folds s into the form stored for prefix search: lower case, accents removed,
// whitespace collapsed. "  Café  Ñandú " becomes "cafe nandu".
func SearchKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// PrefixRange returns the half-open range of search keys that start with prefix. prefix must
// already be a SearchKey.
func PrefixRange(prefix string) (string, string) {
	return prefix, prefix + prefixUpperBound
}

// Digits drops every rune that is not an ASCII digit.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
