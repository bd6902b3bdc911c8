package catalog

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize folds s for matching: NFKC, Unicode case folding, punctuation
// collapsed to single spaces.
func Normalize(s string) string {
	s = folder.String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Similarity returns 1 - editDistance/maxLen over runes, in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// bestTokenSimilarity compares query with every window of name's words as
// long as the query and returns the best score, so "sensr" against
// "temperature sensor pt100" scores on "sensor". A query longer than the name
// is compared with the whole name.
func bestTokenSimilarity(query, name string) float64 {
	words := strings.Fields(name)
	width := len(strings.Fields(query))
	if width == 0 || width >= len(words) {
		return Similarity(query, name)
	}
	best := 0.0
	for i := 0; i+width <= len(words); i++ {
		if s := Similarity(query, strings.Join(words[i:i+width], " ")); s > best {
			best = s
		}
	}
	return best
}
