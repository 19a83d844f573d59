package drug

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// normalizeName folds width and compatibility forms, lowercases, and drops
// all whitespace so "타이레놀 정" and "ＴＹＬＥＮＯＬ" compare sensibly.
func normalizeName(s string) string {
	s = width.Fold.String(norm.NFKC.String(s))
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Similarity returns 1 - levenshtein/maxLen over normalized runes, in [0,1].
func Similarity(a, b string) float64 {
	a, b = normalizeName(a), normalizeName(b)
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

// bestMatch prefers the first exact match (substring either direction after
// normalization), then the most similar name at or above threshold.
func bestMatch(items []Info, query string, threshold float64) (Info, bool) {
	q := normalizeName(query)
	if q == "" {
		return Info{}, false
	}
	for _, item := range items {
		n := normalizeName(item.Name)
		if n == "" {
			continue
		}
		if strings.Contains(n, q) || strings.Contains(q, n) {
			return item, true
		}
	}

	bestIdx, bestScore := -1, 0.0
	for i, item := range items {
		if item.Name == "" {
			continue
		}
		if score := Similarity(item.Name, query); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 || bestScore < threshold {
		return Info{}, false
	}
	return items[bestIdx], true
}
