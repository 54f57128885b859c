package match

import (
	"math"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Tier scores. Every confidence a tier can produce is strictly above every
// confidence the next tier can produce.
const (
	ScoreExact    = 100
	ScoreSynonym  = 95
	ScoreFuzzyMax = 94
	ScoreFuzzyMin = 51
	ScoreCategory = 50
	ScoreNone     = 0

	// LowConfidenceThreshold marks candidates for manual review
	LowConfidenceThreshold = 70

	DefaultFuzzyFloor = 60.0
	DefaultTopK       = 3
)

// Confidence rounds a raw tier score to an integer percentage and clips it to
// the band of its tier
func Confidence(tier types.MatchType, raw float64) int {
	if math.IsNaN(raw) {
		raw = 0
	}
	switch tier {
	case types.MatchExact:
		return ScoreExact
	case types.MatchSynonym:
		return ScoreSynonym
	case types.MatchFuzzy:
		return clamp(int(math.Round(raw)), ScoreFuzzyMin, ScoreFuzzyMax)
	case types.MatchCategoryFallback:
		return ScoreCategory
	case types.MatchManual:
		return clamp(int(math.Round(raw)), 0, 100)
	}
	return ScoreNone
}

// ManualConfidence is the stored confidence of a reviewer-accepted match.
// A missing value means the reviewer is certain.
func ManualConfidence(c *int) int {
	if c == nil {
		return 100
	}
	return clamp(*c, 0, 100)
}

// IsLowConfidence flags a confidence for review without changing it
func IsLowConfidence(confidence int) bool {
	return confidence < LowConfidenceThreshold
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
