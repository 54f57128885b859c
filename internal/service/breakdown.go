package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/nutrition"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// BreakdownRequest names a stored recipe or carries one inline. With
// AutoMatch, ingredients without a stored match are matched on the fly; the
// result is used for this breakdown only and is not persisted.
type BreakdownRequest struct {
	RecipeID  string        `json:"recipe_id,omitempty"`
	Recipe    *types.Recipe `json:"recipe,omitempty"`
	AutoMatch bool          `json:"auto_match"`
}

// Breakdown computes per-ingredient contributions and recipe totals
func (s *Service) Breakdown(ctx context.Context, req BreakdownRequest) (nutrition.Breakdown, error) {
	var recipe types.Recipe
	switch {
	case req.Recipe != nil:
		recipe = *req.Recipe
	case strings.TrimSpace(req.RecipeID) != "":
		r, err := s.recipes.Recipe(ctx, strings.TrimSpace(req.RecipeID))
		if err != nil {
			return nutrition.Breakdown{}, err
		}
		recipe = r
	default:
		return nutrition.Breakdown{}, fmt.Errorf("%w: recipe_id or recipe is required", ErrInvalidRequest)
	}

	return s.aggregator.Breakdown(ctx, recipe, s.resolver(req.AutoMatch))
}

// resolver looks up an ingredient's active nutrition match in the store,
// falling back to the engine when autoMatch is set
func (s *Service) resolver(autoMatch bool) nutrition.Resolver {
	return func(ctx context.Context, ing types.Ingredient) (*nutrition.Resolution, error) {
		snap := s.nutrition.Load()

		if ing.ID != "" {
			active, err := s.store.Active(ctx, ing.ID)
			switch {
			case err == nil && active.CatalogKind == types.CatalogNutrition:
				rec, ok := snap.records[active.TargetID]
				if !ok {
					return nil, fmt.Errorf("matched food %q is not in the loaded reference", active.TargetID)
				}
				return &nutrition.Resolution{Match: active, Record: rec}, nil
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return nil, err
			}
		}

		if !autoMatch {
			return nil, nil
		}
		candidates := s.engine.MatchText(ing.Name, snap.catalog, match.Options{TopK: 1})
		if len(candidates) == 0 {
			return nil, nil
		}
		best := candidates[0]
		rec, ok := snap.records[best.ID]
		if !ok {
			return nil, nil
		}
		return &nutrition.Resolution{
			Match: types.MatchRecord{
				SourceID:    ing.ID,
				TargetID:    best.ID,
				CatalogKind: types.CatalogNutrition,
				Confidence:  best.Confidence,
				MatchType:   best.Tier,
			},
			Record: rec,
		}, nil
	}
}
