package match

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// tokenBonusWeight is how much of the remaining gap a full token overlap closes
const tokenBonusWeight = 0.5

// Similarity scores two folded keys in 0..1: normalized Levenshtein
// similarity, raised toward 1 by the share of query tokens that also appear
// whole in the candidate
func Similarity(query, candidate string, queryTokens, candidateTokens []string) float64 {
	if query == candidate {
		return 1
	}
	lev := levenshteinSimilarity(query, candidate)
	cov := tokenCoverage(queryTokens, candidateTokens)
	return lev + (1-lev)*tokenBonusWeight*cov
}

func levenshteinSimilarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// tokenCoverage is the fraction of query tokens present in the candidate
func tokenCoverage(query, candidate []string) float64 {
	if len(query) == 0 {
		return 0
	}
	shared := 0
	for _, q := range query {
		for _, c := range candidate {
			if q == c {
				shared++
				break
			}
		}
	}
	return float64(shared) / float64(len(query))
}
