// Package catalog holds the read-only, pre-normalized views of the nutrition
// reference and the product listings that the matching engine searches.
package catalog

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/noot-app/ingredient-matcher/internal/normalize"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Entry is one searchable catalog item
type Entry struct {
	ID           string
	Name         string
	Key          string
	Folded       string
	Tokens       []string
	FoldedTokens []string
	Category     string // normalized
}

// Catalog is immutable once built
type Catalog struct {
	kind       types.CatalogKind
	entries    []Entry
	byID       map[string]int
	byKey      map[string][]int
	byCategory map[string][]int
}

// New builds a catalog. Entries are ordered by id so every scan is deterministic.
func New(kind types.CatalogKind, entries []Entry) *Catalog {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Catalog{
		kind:       kind,
		entries:    make([]Entry, 0, len(sorted)),
		byID:       make(map[string]int, len(sorted)),
		byKey:      make(map[string][]int),
		byCategory: make(map[string][]int),
	}
	for _, e := range sorted {
		if _, dup := c.byID[e.ID]; dup || e.ID == "" {
			continue
		}
		idx := len(c.entries)
		c.entries = append(c.entries, e)
		c.byID[e.ID] = idx
		if e.Key != "" {
			c.byKey[e.Key] = append(c.byKey[e.Key], idx)
		}
		if e.Category != "" {
			c.byCategory[e.Category] = append(c.byCategory[e.Category], idx)
		}
	}
	return c
}

// NewEntry normalizes a catalog name into an Entry
func NewEntry(id, name, category string) Entry {
	n := normalize.Normalize(name)
	return Entry{
		ID:           id,
		Name:         name,
		Key:          n.Key,
		Folded:       n.Folded,
		Tokens:       n.Tokens,
		FoldedTokens: strings.Fields(n.Folded),
		Category:     normalize.Key(category),
	}
}

// FromNutrition builds the nutrition catalog keyed by food id
func FromNutrition(records map[string]types.NutritionRecord) *Catalog {
	entries := make([]Entry, 0, len(records))
	for id, r := range records {
		entries = append(entries, NewEntry(id, r.NameDa, r.Category))
	}
	return New(types.CatalogNutrition, entries)
}

// FromProducts builds the product catalog. Unavailable products are not
// searchable but remain in the listing history.
func FromProducts(products []types.ProductRecord) *Catalog {
	entries := make([]Entry, 0, len(products))
	for _, p := range products {
		if !p.Available {
			continue
		}
		entries = append(entries, NewEntry(p.CatalogID(), p.Name, p.Category))
	}
	return New(types.CatalogProduct, entries)
}

// Kind is the catalog kind
func (c *Catalog) Kind() types.CatalogKind { return c.kind }

// Len is the number of entries
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns all entries in id order. Callers must not modify them.
func (c *Catalog) Entries() []Entry { return c.entries }

// Get returns the entry with the given id
func (c *Catalog) Get(id string) (Entry, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[idx], true
}

// ByKey returns every entry whose normalized name equals key, in id order
func (c *Catalog) ByKey(key string) []Entry {
	return c.collect(c.byKey[key])
}

// ByCategory returns every entry in a normalized category, in id order
func (c *Catalog) ByCategory(category string) []Entry {
	return c.collect(c.byCategory[category])
}

func (c *Catalog) collect(idxs []int) []Entry {
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Entry, len(idxs))
	for i, idx := range idxs {
		out[i] = c.entries[idx]
	}
	return out
}

// Registry publishes the current catalog per kind. A catalog is only visible
// once it has been fully built, and readers never see a partial swap.
type Registry struct {
	nutrition atomic.Pointer[Catalog]
	product   atomic.Pointer[Catalog]
}

// NewRegistry returns a registry holding empty catalogs
func NewRegistry() *Registry {
	r := &Registry{}
	r.nutrition.Store(New(types.CatalogNutrition, nil))
	r.product.Store(New(types.CatalogProduct, nil))
	return r
}

// Get returns the current catalog of a kind, or nil for an unknown kind
func (r *Registry) Get(kind types.CatalogKind) *Catalog {
	switch kind {
	case types.CatalogNutrition:
		return r.nutrition.Load()
	case types.CatalogProduct:
		return r.product.Load()
	}
	return nil
}

// Swap replaces the catalog of c's kind and returns the previous one
func (r *Registry) Swap(c *Catalog) *Catalog {
	switch c.Kind() {
	case types.CatalogNutrition:
		return r.nutrition.Swap(c)
	case types.CatalogProduct:
		return r.product.Swap(c)
	}
	return nil
}
