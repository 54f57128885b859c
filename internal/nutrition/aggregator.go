// Package nutrition scales matched per-100g nutrient profiles by recipe
// quantities into per-ingredient, per-recipe and per-serving totals.
package nutrition

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Resolution is the nutrition record an ingredient is matched to
type Resolution struct {
	Match  types.MatchRecord
	Record types.NutritionRecord
}

// Resolver finds the nutrition record for an ingredient. A nil Resolution
// means the ingredient is unmatched.
type Resolver func(ctx context.Context, ing types.Ingredient) (*Resolution, error)

// Item is one ingredient line of a breakdown. Contribution is nil when the
// ingredient is unmatched: unknown, not zero.
type Item struct {
	IngredientID string           `json:"ingredient_id"`
	Name         string           `json:"name"`
	Amount       float64          `json:"amount"`
	Unit         string           `json:"unit"`
	Grams        float64          `json:"grams"`
	UnitKnown    bool             `json:"unit_known"`
	Matched      bool             `json:"matched"`
	FoodID       string           `json:"food_id,omitempty"`
	FoodName     string           `json:"food_name,omitempty"`
	MatchType    types.MatchType  `json:"match_type,omitempty"`
	Confidence   int              `json:"confidence,omitempty"`
	Contribution *types.Nutrients `json:"contribution"`
	Caveats      []string         `json:"caveats,omitempty"`
}

// Breakdown is the nutrition summary of one recipe
type Breakdown struct {
	RecipeID   string          `json:"recipe_id,omitempty"`
	Title      string          `json:"title,omitempty"`
	Servings   int             `json:"servings"`
	Items      []Item          `json:"items"`
	Unmatched  []string        `json:"unmatched"`
	Totals     types.Nutrients `json:"totals"`
	PerServing types.Nutrients `json:"per_serving"`
	Caveats    []string        `json:"caveats,omitempty"`
}

// Aggregator computes breakdowns
type Aggregator struct {
	units *Units
	log   *slog.Logger
}

// NewAggregator creates an aggregator over a unit table
func NewAggregator(units *Units, log *slog.Logger) *Aggregator {
	return &Aggregator{units: units, log: log}
}

// Breakdown resolves every ingredient and sums the known contributions. An
// ingredient that fails to resolve is listed as unmatched; it never fails the
// whole recipe. Only a cancelled context is returned as an error.
func (a *Aggregator) Breakdown(ctx context.Context, recipe types.Recipe, resolve Resolver) (Breakdown, error) {
	start := time.Now()
	a.log.Debug("Computing nutrition breakdown", "recipe_id", recipe.ID, "ingredients", len(recipe.Ingredients))

	out := Breakdown{
		RecipeID:  recipe.ID,
		Title:     recipe.Title,
		Servings:  recipe.Servings,
		Items:     make([]Item, 0, len(recipe.Ingredients)),
		Unmatched: []string{},
	}

	for _, ing := range recipe.Ingredients {
		if err := ctx.Err(); err != nil {
			return Breakdown{}, err
		}

		item := a.item(ing)
		res, err := resolve(ctx, ing)
		if err != nil {
			a.log.Warn("Failed to resolve ingredient", "ingredient", ing.Name, "error", err)
			item.Caveats = append(item.Caveats, fmt.Sprintf("could not resolve %q: %v", ing.Name, err))
			res = nil
		}

		if res == nil {
			out.Unmatched = append(out.Unmatched, ing.Name)
		} else {
			contribution := res.Record.Profile().Scale(item.Grams / 100)
			item.Matched = true
			item.FoodID = res.Record.FoodID
			item.FoodName = res.Record.NameDa
			item.MatchType = res.Match.MatchType
			item.Confidence = res.Match.Confidence
			item.Contribution = &contribution
			out.Totals = out.Totals.Add(contribution)
		}
		out.Caveats = append(out.Caveats, item.Caveats...)
		out.Items = append(out.Items, item)
	}

	sortByEnergy(out.Items)

	servings := recipe.Servings
	if servings < 1 {
		servings = 1
	}
	out.PerServing = out.Totals.Scale(1 / float64(servings))

	a.log.Info("Computed nutrition breakdown",
		"recipe_id", recipe.ID,
		"matched", len(out.Items)-len(out.Unmatched),
		"unmatched", len(out.Unmatched),
		"duration", time.Since(start))
	return out, nil
}

// item converts an ingredient's amount to grams
func (a *Aggregator) item(ing types.Ingredient) Item {
	perUnit, known := a.units.GramsPer(ing.Unit)
	amount := ing.Amount
	if amount < 0 {
		amount = 0
	}
	item := Item{
		IngredientID: ing.ID,
		Name:         ing.Name,
		Amount:       amount,
		Unit:         ing.Unit,
		Grams:        amount * perUnit,
		UnitKnown:    known,
	}
	if !known {
		item.Caveats = append(item.Caveats, fmt.Sprintf("unknown unit %q for %q, counted as %g g per unit", ing.Unit, ing.Name, DefaultGramsPerUnit))
	}
	return item
}

// sortByEnergy puts the largest known energy contribution first; lines with
// unknown energy keep their recipe order at the end
func sortByEnergy(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ei, ej := energy(items[i]), energy(items[j])
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		}
		return *ei > *ej
	})
}

func energy(it Item) *float64 {
	if it.Contribution == nil {
		return nil
	}
	return it.Contribution.Energy
}
