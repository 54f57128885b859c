package types

import "time"

// MatchType records which tier produced a match
type MatchType string

const (
	MatchExact            MatchType = "exact"
	MatchSynonym          MatchType = "synonym"
	MatchFuzzy            MatchType = "fuzzy"
	MatchCategoryFallback MatchType = "category-fallback"
	MatchManual           MatchType = "manual"
)

// Valid reports whether t is a known match type
func (t MatchType) Valid() bool {
	switch t {
	case MatchExact, MatchSynonym, MatchFuzzy, MatchCategoryFallback, MatchManual:
		return true
	}
	return false
}

// CatalogKind selects the catalog a match points into
type CatalogKind string

const (
	CatalogNutrition CatalogKind = "nutrition"
	CatalogProduct   CatalogKind = "product"
)

// Valid reports whether k is a known catalog kind
func (k CatalogKind) Valid() bool {
	return k == CatalogNutrition || k == CatalogProduct
}

// MatchRecord is a persisted link from a source entity to a catalog entry
type MatchRecord struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id"`
	TargetID    string      `json:"target_id"`
	CatalogKind CatalogKind `json:"catalog_kind"`
	Confidence  int         `json:"confidence"`
	MatchType   MatchType   `json:"match_type"`
	Manual      bool        `json:"manual"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
