package match

import "github.com/noot-app/ingredient-matcher/internal/types"

// Stats summarizes a set of persisted matches
type Stats struct {
	Total             int                     `json:"total"`
	ByType            map[types.MatchType]int `json:"by_type"`
	Manual            int                     `json:"manual"`
	LowConfidence     int                     `json:"low_confidence"`
	AverageConfidence float64                 `json:"average_confidence"`
}

// Summarize counts matches per type and averages their confidence
func Summarize(records []types.MatchRecord) Stats {
	s := Stats{ByType: make(map[types.MatchType]int)}
	sum := 0
	for _, r := range records {
		s.Total++
		s.ByType[r.MatchType]++
		if r.Manual {
			s.Manual++
		}
		if IsLowConfidence(r.Confidence) {
			s.LowConfidence++
		}
		sum += r.Confidence
	}
	if s.Total > 0 {
		s.AverageConfidence = float64(sum) / float64(s.Total)
	}
	return s
}
