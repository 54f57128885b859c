package reference

import (
	"sort"
	"strings"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/dedupe"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// MergeStats reports what a scrape changed in the product history
type MergeStats struct {
	Scraped     int `json:"scraped"`
	Duplicates  int `json:"duplicates"`
	Added       int `json:"added"`
	Updated     int `json:"updated"`
	Unavailable int `json:"unavailable"`
	// Skipped counts listings without a store or external id, plus rows
	// the reader could not use
	Skipped int `json:"skipped"`
}

// MergeListings folds a fresh scrape into the product history. Products in
// the scrape become available with LastSeen=now; products missing from it are
// kept and flagged unavailable. Duplicate listings for the same
// (store, external id) in one scrape keep the first occurrence. Listings
// without a store or external id are skipped and counted.
func MergeListings(history, scrape []types.ProductRecord, now time.Time) ([]types.ProductRecord, MergeStats) {
	stats := MergeStats{Scraped: len(scrape)}

	keyed := make([]types.ProductRecord, 0, len(scrape))
	for _, p := range scrape {
		if !identified(p) {
			stats.Skipped++
			continue
		}
		keyed = append(keyed, p)
	}

	unique, groups := dedupe.KeepEarliest(keyed, types.ProductRecord.CatalogID, nil)
	for _, g := range groups {
		stats.Duplicates += len(g.Dropped)
	}

	byID := make(map[string]types.ProductRecord, len(history)+len(unique))
	for _, p := range history {
		byID[p.CatalogID()] = p
	}

	fresh := make(map[string]struct{}, len(unique))
	for _, p := range unique {
		id := p.CatalogID()
		fresh[id] = struct{}{}

		prev, existed := byID[id]
		if existed {
			stats.Updated++
			if p.OnSale && p.OriginalPrice == nil {
				if prev.OriginalPrice != nil {
					p.OriginalPrice = prev.OriginalPrice
				} else if prev.Price > p.Price {
					p.OriginalPrice = types.Float(prev.Price)
				}
			}
			if p.Category == "" {
				p.Category = prev.Category
			}
			if p.ImageURL == "" {
				p.ImageURL = prev.ImageURL
			}
		} else {
			stats.Added++
		}
		p.Available = true
		p.LastSeen = now
		byID[id] = p
	}

	for id, p := range byID {
		if _, ok := fresh[id]; ok {
			continue
		}
		if p.Available {
			stats.Unavailable++
		}
		p.Available = false
		byID[id] = p
	}

	out := make([]types.ProductRecord, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CatalogID() < out[j].CatalogID() })
	return out, stats
}

func identified(p types.ProductRecord) bool {
	return strings.TrimSpace(p.Store) != "" && strings.TrimSpace(p.ExternalID) != ""
}
