package nutrition

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed units.yaml
var defaultUnits []byte

// DefaultGramsPerUnit is assumed for units missing from the table
const DefaultGramsPerUnit = 100.0

// Units converts recipe units to grams. It is immutable after construction.
type Units struct {
	version int
	grams   map[string]float64
}

type unitsDocument struct {
	Version int                `yaml:"version"`
	Grams   map[string]float64 `yaml:"grams"`
}

// DefaultUnits returns the embedded unit table
func DefaultUnits() (*Units, error) {
	return ParseUnits(defaultUnits)
}

// LoadUnits reads a unit table from path, or the embedded one when path is empty
func LoadUnits(path string) (*Units, error) {
	if path == "" {
		return DefaultUnits()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit table: %w", err)
	}
	return ParseUnits(data)
}

// ParseUnits builds a unit table from YAML
func ParseUnits(data []byte) (*Units, error) {
	var doc unitsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse unit table: %w", err)
	}
	u := &Units{version: doc.Version, grams: make(map[string]float64, len(doc.Grams))}
	for unit, g := range doc.Grams {
		if g <= 0 {
			return nil, fmt.Errorf("unit table: %q must weigh more than 0 g", unit)
		}
		u.grams[canonicalUnit(unit)] = g
	}
	return u, nil
}

// Version is the table's declared version
func (u *Units) Version() int {
	return u.version
}

// GramsPer returns grams per unit and whether the unit is known
func (u *Units) GramsPer(unit string) (float64, bool) {
	g, ok := u.grams[canonicalUnit(unit)]
	if !ok {
		return DefaultGramsPerUnit, false
	}
	return g, true
}

// canonicalUnit lowercases and drops a trailing period ("Spsk." -> "spsk")
func canonicalUnit(unit string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".")
}
