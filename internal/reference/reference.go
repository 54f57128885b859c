// Package reference pivots long-format nutrition rows into one record per
// food and merges product listings into the product history.
package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Row is one food x parameter measurement as delivered by the reference
// dataset. A nil Value is an explicit "not measured".
type Row struct {
	FoodID    string
	NameDa    string
	NameEn    string
	Category  string
	Parameter string
	Value     *float64
}

// RowSource streams rows one at a time
type RowSource interface {
	Each(ctx context.Context, fn func(Row) error) error
}

// Rows is an in-memory RowSource
type Rows []Row

// Each calls fn for every row in order
func (r Rows) Each(ctx context.Context, fn func(Row) error) error {
	for _, row := range r {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Skip reasons reported in LoadStats
const (
	ReasonMissingFoodID    = "missing_food_id"
	ReasonMissingParameter = "missing_parameter"
	ReasonNegativeValue    = "negative_value"
	ReasonInvalidValue     = "invalid_value"
)

// DataError describes a malformed reference row
type DataError struct {
	Row    int
	Reason string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// LoadStats reports the outcome of a normalization pass
type LoadStats struct {
	RowsProcessed       int            `json:"rows_processed"`
	RecordsProduced     int            `json:"records_produced"`
	RowsSkipped         int            `json:"rows_skipped"`
	SkipReasons         map[string]int `json:"skip_reasons,omitempty"`
	DuplicateParameters int            `json:"duplicate_parameters"`
	Duration            time.Duration  `json:"duration"`
}

// DefaultParameters maps dataset parameter names onto core nutrients.
// Matching is case-sensitive.
var DefaultParameters = map[string]string{
	"Energi (kcal)":        types.NutrientEnergy,
	"Protein (g)":          types.NutrientProtein,
	"Protein":              types.NutrientProtein,
	"Fedt (g)":             types.NutrientFat,
	"Fedt":                 types.NutrientFat,
	"Kulhydrat (g)":        types.NutrientCarbohydrate,
	"Kulhydrat difference": types.NutrientCarbohydrate,
	"Fiber (g)":            types.NutrientFiber,
	"Kostfibre":            types.NutrientFiber,
}

// Normalizer pivots reference rows
type Normalizer struct {
	params map[string]string
	log    *slog.Logger
}

// NewNormalizer creates a normalizer. A nil params map uses DefaultParameters.
func NewNormalizer(params map[string]string, log *slog.Logger) *Normalizer {
	if params == nil {
		params = DefaultParameters
	}
	return &Normalizer{params: params, log: log}
}

// Normalize groups rows by food id. Malformed rows are skipped and counted;
// only a failing source or a cancelled context aborts the pass.
func (n *Normalizer) Normalize(ctx context.Context, src RowSource) (map[string]types.NutritionRecord, LoadStats, error) {
	start := time.Now()
	n.log.Debug("Normalizing reference rows")

	records := make(map[string]types.NutritionRecord)
	// food id -> parameter names already seen with a known value
	seen := make(map[string]map[string]struct{})
	stats := LoadStats{SkipReasons: make(map[string]int)}

	err := src.Each(ctx, func(row Row) error {
		stats.RowsProcessed++

		if err := validate(row, stats.RowsProcessed); err != nil {
			var de *DataError
			if errors.As(err, &de) {
				stats.RowsSkipped++
				stats.SkipReasons[de.Reason]++
				n.log.Debug("Skipping reference row", "row", de.Row, "reason", de.Reason)
				return nil
			}
			return err
		}

		id := strings.TrimSpace(row.FoodID)
		rec, ok := records[id]
		if !ok {
			rec = types.NutritionRecord{FoodID: id}
			seen[id] = make(map[string]struct{})
		}
		if rec.NameDa == "" {
			rec.NameDa = strings.TrimSpace(row.NameDa)
		}
		if rec.NameEn == "" {
			rec.NameEn = strings.TrimSpace(row.NameEn)
		}
		if rec.Category == "" {
			rec.Category = strings.TrimSpace(row.Category)
		}

		param := strings.TrimSpace(row.Parameter)
		target := param
		if core, ok := n.params[param]; ok {
			target = core
		}
		if _, dup := seen[id][target]; dup {
			stats.DuplicateParameters++
		} else {
			n.assign(&rec, param, row.Value)
			if row.Value != nil {
				seen[id][target] = struct{}{}
			}
		}

		records[id] = rec
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read reference rows: %w", err)
	}

	stats.RecordsProduced = len(records)
	stats.Duration = time.Since(start)
	n.log.Info("Normalized reference rows",
		"rows", stats.RowsProcessed,
		"records", stats.RecordsProduced,
		"skipped", stats.RowsSkipped,
		"duration", stats.Duration)
	return records, stats, nil
}

// assign stores a value on its core field or in the extra bag
func (n *Normalizer) assign(rec *types.NutritionRecord, param string, value *float64) {
	var v *float64
	if value != nil {
		v = types.Float(*value)
	}
	if core, ok := n.params[param]; ok {
		rec.Nutrients.Set(core, v)
		return
	}
	if rec.Extra == nil {
		rec.Extra = make(map[string]*float64)
	}
	rec.Extra[param] = v
}

func validate(row Row, index int) error {
	switch {
	case strings.TrimSpace(row.FoodID) == "":
		return &DataError{Row: index, Reason: ReasonMissingFoodID}
	case strings.TrimSpace(row.Parameter) == "":
		return &DataError{Row: index, Reason: ReasonMissingParameter}
	case row.Value != nil && (math.IsNaN(*row.Value) || math.IsInf(*row.Value, 0)):
		return &DataError{Row: index, Reason: ReasonInvalidValue}
	case row.Value != nil && *row.Value < 0:
		return &DataError{Row: index, Reason: ReasonNegativeValue}
	}
	return nil
}
