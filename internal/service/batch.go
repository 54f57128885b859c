package service

import (
	"context"
	"fmt"

	"github.com/noot-app/ingredient-matcher/internal/dedupe"
	"github.com/noot-app/ingredient-matcher/internal/normalize"
	"github.com/noot-app/ingredient-matcher/internal/rematch"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// RematchRequest runs the engine over many sources. Without Sources, every
// ingredient of every recipe is rematched against the nutrition catalog.
type RematchRequest struct {
	Job         string            `json:"job"`
	CatalogKind types.CatalogKind `json:"catalog_kind"`
	Sources     []rematch.Source  `json:"sources,omitempty"`
}

// Rematch runs a resumable batch rematch
func (s *Service) Rematch(ctx context.Context, req RematchRequest) (rematch.Report, error) {
	cat, err := s.catalog(req.CatalogKind)
	if err != nil {
		return rematch.Report{}, err
	}
	if req.Job == "" {
		req.Job = "rematch-" + string(cat.Kind())
	}

	sources := req.Sources
	if len(sources) == 0 {
		ingredients, err := s.ingredients(ctx)
		if err != nil {
			return rematch.Report{}, err
		}
		for _, ing := range ingredients {
			sources = append(sources, rematch.Source{ID: ing.ID, Name: ing.Name})
		}
	}

	return s.runner.Run(ctx, req.Job, cat, sources)
}

// IngredientRef is an ingredient with the recipe it belongs to
type IngredientRef struct {
	RecipeID string `json:"recipe_id"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

// DuplicateIngredients groups ingredient names that normalize to the same key
// and keeps the earliest occurrence of each, in recipe id order
func (s *Service) DuplicateIngredients(ctx context.Context) ([]dedupe.Group[IngredientRef], error) {
	refs, err := s.ingredients(ctx)
	if err != nil {
		return nil, err
	}
	_, groups := dedupe.KeepEarliest(refs, func(r IngredientRef) string {
		return normalize.Key(r.Name)
	}, nil)
	return groups, nil
}

func (s *Service) ingredients(ctx context.Context) ([]IngredientRef, error) {
	recipes, err := s.recipes.Recipes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	var refs []IngredientRef
	for _, r := range recipes {
		for _, ing := range r.Ingredients {
			refs = append(refs, IngredientRef{RecipeID: r.ID, ID: ing.ID, Name: ing.Name})
		}
	}
	return refs, nil
}
