// Package synonym holds the versioned alias table used by the synonym tier and
// the category groups used by the category fallback tier.
package synonym

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/noot-app/ingredient-matcher/internal/normalize"
)

//go:embed synonyms.yaml
var defaultTable []byte

// document is the on-disk YAML layout
type document struct {
	Version         int                 `yaml:"version"`
	Synonyms        map[string][]string `yaml:"synonyms"`
	Categories      map[string][]string `yaml:"categories"`
	Representatives map[string]string   `yaml:"representatives"`
}

// Table is immutable after construction and safe for concurrent use
type Table struct {
	version int

	// normalized alias -> normalized canonical
	canonical map[string]string
	// normalized canonical -> normalized aliases, sorted
	aliases map[string][]string

	// normalized alias or group name -> normalized group name
	groups map[string]string
	// normalized group name -> normalized member names (group first)
	groupMembers map[string][]string

	representatives map[string]string
}

// Default returns the embedded table
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads an override table from path, or the embedded table when path is empty
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonym table: %w", err)
	}
	return Parse(data)
}

// Parse builds a Table from YAML
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse synonym table: %w", err)
	}

	t := &Table{
		version:         doc.Version,
		canonical:       make(map[string]string),
		aliases:         make(map[string][]string),
		groups:          make(map[string]string),
		groupMembers:    make(map[string][]string),
		representatives: make(map[string]string),
	}

	// sorted iteration keeps conflict detection deterministic
	for _, canon := range sortedKeys(doc.Synonyms) {
		ck := normalize.Key(canon)
		if ck == "" {
			return nil, fmt.Errorf("synonym table: empty canonical name %q", canon)
		}
		for _, alias := range doc.Synonyms[canon] {
			ak := normalize.Key(alias)
			if ak == "" || ak == ck {
				continue
			}
			if prev, ok := t.canonical[ak]; ok && prev != ck {
				return nil, fmt.Errorf("synonym table: alias %q maps to both %q and %q", alias, prev, canon)
			}
			if _, ok := t.canonical[ak]; ok {
				continue
			}
			t.canonical[ak] = ck
			t.aliases[ck] = append(t.aliases[ck], ak)
		}
		sort.Strings(t.aliases[ck])
	}

	for _, group := range sortedKeys(doc.Categories) {
		gk := normalize.Key(group)
		if gk == "" {
			continue
		}
		t.groups[gk] = gk
		members := []string{gk}
		for _, alias := range doc.Categories[group] {
			ak := normalize.Key(alias)
			if ak == "" || ak == gk {
				continue
			}
			if _, ok := t.groups[ak]; !ok {
				t.groups[ak] = gk
			}
			members = append(members, ak)
		}
		t.groupMembers[gk] = members
	}

	for group, id := range doc.Representatives {
		if id != "" {
			t.representatives[normalize.Key(group)] = id
		}
	}

	return t, nil
}

// Version is the table's declared version
func (t *Table) Version() int {
	return t.version
}

// Canonical returns the canonical key for a normalized alias key
func (t *Table) Canonical(key string) (string, bool) {
	c, ok := t.canonical[key]
	return c, ok
}

// Aliases returns the known aliases of a canonical key
func (t *Table) Aliases(canonical string) []string {
	return append([]string(nil), t.aliases[canonical]...)
}

// CategoryGroup resolves a free-text category hint to its group name
func (t *Table) CategoryGroup(hint string) (string, bool) {
	g, ok := t.groups[normalize.Key(hint)]
	return g, ok
}

// CategoryNames returns the normalized category names to try in a catalog for
// a hint: the group name first, then its aliases. An unknown hint yields just
// its own normalized key.
func (t *Table) CategoryNames(hint string) []string {
	key := normalize.Key(hint)
	if key == "" {
		return nil
	}
	g, ok := t.groups[key]
	if !ok {
		return []string{key}
	}
	return append([]string(nil), t.groupMembers[g]...)
}

// Representative returns the configured catalog id for a category group
func (t *Table) Representative(group string) (string, bool) {
	id, ok := t.representatives[group]
	return id, ok
}

// Len is the number of aliases in the table
func (t *Table) Len() int {
	return len(t.canonical)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
