// Package match provides pure string matching used across the catalog,
// fulfillment engine and enrichment worker: normalization, similarity
// scoring, filename parsing and release classification. No I/O.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	punctuationRe   = regexp.MustCompile(`[^\w\s]`)
	multipleSpaceRe = regexp.MustCompile(`\s+`)

	accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize prepares a string for comparison by lowercasing, stripping
// accents, removing parenthesized segments and collapsing punctuation and
// whitespace to single spaces.
func Normalize(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(accentStripper, s); err == nil {
		s = folded
	}
	s = parentheticalRe.ReplaceAllString(s, " ")
	s = punctuationRe.ReplaceAllString(s, " ")
	s = multipleSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Similarity returns a score in [0,1] for two strings after normalization.
// 1.0 means the normalized forms are equal. Symmetric.
func Similarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	dist := levenshteinDistance(na, nb)
	maxLen := max(len([]rune(na)), len([]rune(nb)))
	return 1.0 - float64(dist)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}

	runesA := []rune(a)
	runesB := []rune(b)
	lenA := len(runesA)
	lenB := len(runesB)

	// Only two rows of the matrix are needed.
	prev := make([]int, lenB+1)
	curr := make([]int, lenB+1)

	for j := 0; j <= lenB; j++ {
		prev[j] = j
	}

	for i := 1; i <= lenA; i++ {
		curr[0] = i
		for j := 1; j <= lenB; j++ {
			cost := 1
			if runesA[i-1] == runesB[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[lenB]
}
