// Package match resolves normalized names against a catalog using a tiered
// strategy: exact, synonym, fuzzy similarity, then category fallback.
package match

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/noot-app/ingredient-matcher/internal/catalog"
	"github.com/noot-app/ingredient-matcher/internal/normalize"
	"github.com/noot-app/ingredient-matcher/internal/synonym"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Candidate is one ranked match result
type Candidate struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Tier          types.MatchType `json:"tier"`
	RawScore      float64         `json:"raw_score"`
	Confidence    int             `json:"confidence"`
	LowConfidence bool            `json:"low_confidence"`
}

// Config tunes the engine
type Config struct {
	FuzzyFloor float64
	TopK       int
}

// Options are per-query settings
type Options struct {
	TopK         int
	CategoryHint string
}

// Engine is stateless apart from its immutable synonym table and config.
// It never mutates the catalog and is safe for concurrent use.
type Engine struct {
	synonyms *synonym.Table
	floor    float64
	topK     int
	log      *slog.Logger
}

// NewEngine creates a matching engine
func NewEngine(synonyms *synonym.Table, cfg Config, log *slog.Logger) *Engine {
	if cfg.FuzzyFloor <= 0 {
		cfg.FuzzyFloor = DefaultFuzzyFloor
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Engine{
		synonyms: synonyms,
		floor:    cfg.FuzzyFloor,
		topK:     cfg.TopK,
		log:      log,
	}
}

// MatchText normalizes text and matches it
func (e *Engine) MatchText(text string, cat *catalog.Catalog, opts Options) []Candidate {
	return e.Match(normalize.Normalize(text), cat, opts)
}

// Match returns up to TopK candidates from the first tier that produces any.
// An empty result means no match; it is not an error.
func (e *Engine) Match(q normalize.Name, cat *catalog.Catalog, opts Options) []Candidate {
	start := time.Now()
	topK := opts.TopK
	if topK <= 0 {
		topK = e.topK
	}
	if cat == nil || cat.Len() == 0 {
		return nil
	}

	var out []Candidate
	if q.Key != "" {
		out = e.exact(q, cat, topK)
		if len(out) == 0 {
			out = e.synonym(q, cat, topK)
		}
		if len(out) == 0 {
			out = e.fuzzy(q, cat, topK)
		}
	}
	if len(out) == 0 && strings.TrimSpace(opts.CategoryHint) != "" {
		out = e.category(opts.CategoryHint, cat)
	}

	tier := "none"
	if len(out) > 0 {
		tier = string(out[0].Tier)
	}
	e.log.Debug("matched name",
		"key", q.Key,
		"catalog", cat.Kind(),
		"tier", tier,
		"candidates", len(out),
		"duration", time.Since(start))
	return out
}

func (e *Engine) exact(q normalize.Name, cat *catalog.Catalog, topK int) []Candidate {
	return fixed(cat.ByKey(q.Key), types.MatchExact, ScoreExact, topK)
}

func (e *Engine) synonym(q normalize.Name, cat *catalog.Catalog, topK int) []Candidate {
	if e.synonyms == nil {
		return nil
	}
	canon, ok := e.synonyms.Canonical(q.Key)
	if !ok {
		return nil
	}
	return fixed(cat.ByKey(canon), types.MatchSynonym, ScoreSynonym, topK)
}

func (e *Engine) fuzzy(q normalize.Name, cat *catalog.Catalog, topK int) []Candidate {
	queryTokens := strings.Fields(q.Folded)

	var out []Candidate
	for _, entry := range cat.Entries() {
		if entry.Folded == "" {
			continue
		}
		raw := 100 * Similarity(q.Folded, entry.Folded, queryTokens, entry.FoldedTokens)
		if raw < e.floor {
			continue
		}
		out = append(out, candidate(entry, types.MatchFuzzy, raw))
	}
	sortCandidates(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (e *Engine) category(hint string, cat *catalog.Catalog) []Candidate {
	if e.synonyms == nil {
		return nil
	}
	if group, ok := e.synonyms.CategoryGroup(hint); ok {
		if id, ok := e.synonyms.Representative(group); ok {
			if entry, ok := cat.Get(id); ok {
				return []Candidate{candidate(entry, types.MatchCategoryFallback, ScoreCategory)}
			}
		}
	}
	for _, name := range e.synonyms.CategoryNames(hint) {
		entries := cat.ByCategory(name)
		if len(entries) == 0 {
			continue
		}
		rep := Representative(entries)
		return []Candidate{candidate(rep, types.MatchCategoryFallback, ScoreCategory)}
	}
	return nil
}

// Representative picks the most common entry of a category: the normalized
// name that occurs most often, then the smallest id. entries must not be
// empty.
func Representative(entries []catalog.Entry) catalog.Entry {
	freq := make(map[string]int, len(entries))
	for _, e := range entries {
		freq[e.Key]++
	}
	best := entries[0]
	for _, e := range entries[1:] {
		fb, fe := freq[best.Key], freq[e.Key]
		switch {
		case fe > fb:
			best = e
		case fe == fb && lessID(e.ID, best.ID):
			best = e
		}
	}
	return best
}

func fixed(entries []catalog.Entry, tier types.MatchType, score float64, topK int) []Candidate {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		out = append(out, candidate(entry, tier, score))
	}
	sortCandidates(out)
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func candidate(entry catalog.Entry, tier types.MatchType, raw float64) Candidate {
	conf := Confidence(tier, raw)
	return Candidate{
		ID:            entry.ID,
		Name:          entry.Name,
		Tier:          tier,
		RawScore:      raw,
		Confidence:    conf,
		LowConfidence: IsLowConfidence(conf),
	}
}

// sortCandidates orders by confidence, then raw score, then shorter name,
// then smaller id
func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		if c[i].RawScore != c[j].RawScore {
			return c[i].RawScore > c[j].RawScore
		}
		li, lj := utf8.RuneCountInString(c[i].Name), utf8.RuneCountInString(c[j].Name)
		if li != lj {
			return li < lj
		}
		return c[i].ID < c[j].ID
	})
}

// lessID compares numeric ids by value, anything else lexicographically
func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na < nb
	}
	return a < b
}
