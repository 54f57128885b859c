package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// ErrRecipeNotFound is returned for an unknown recipe id
var ErrRecipeNotFound = errors.New("recipe not found")

// RecipeSource hands over recipes owned by an external system
type RecipeSource interface {
	Recipe(ctx context.Context, id string) (types.Recipe, error)
	Recipes(ctx context.Context) ([]types.Recipe, error)
}

// Recipes is an in-memory RecipeSource
type Recipes struct {
	byID  map[string]types.Recipe
	order []string
}

// NewRecipes indexes recipes by id. Later duplicates replace earlier ones.
func NewRecipes(recipes []types.Recipe) *Recipes {
	r := &Recipes{byID: make(map[string]types.Recipe, len(recipes))}
	for _, rec := range recipes {
		if _, ok := r.byID[rec.ID]; !ok {
			r.order = append(r.order, rec.ID)
		}
		r.byID[rec.ID] = rec
	}
	sort.Strings(r.order)
	return r
}

// LoadRecipes reads a JSON array of recipes. A missing file yields no recipes.
func LoadRecipes(path string) (*Recipes, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewRecipes(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recipes: %w", err)
	}
	var recipes []types.Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		return nil, fmt.Errorf("failed to parse recipes %s: %w", path, err)
	}
	return NewRecipes(recipes), nil
}

// Recipe returns one recipe
func (r *Recipes) Recipe(ctx context.Context, id string) (types.Recipe, error) {
	rec, ok := r.byID[id]
	if !ok {
		return types.Recipe{}, fmt.Errorf("%w: %q", ErrRecipeNotFound, id)
	}
	return rec, nil
}

// Recipes returns every recipe sorted by id
func (r *Recipes) Recipes(ctx context.Context) ([]types.Recipe, error) {
	out := make([]types.Recipe, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out, nil
}
