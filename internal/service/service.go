// Package service is the entry point for transports. It owns the loaded
// catalogs and wires the matching engine, match store and nutrition
// aggregator together.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/catalog"
	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/nutrition"
	"github.com/noot-app/ingredient-matcher/internal/reference"
	"github.com/noot-app/ingredient-matcher/internal/rematch"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/synonym"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

var (
	// ErrCatalogNotLoaded is returned when a query targets an empty catalog
	ErrCatalogNotLoaded = errors.New("catalog not loaded")
	// ErrInvalidRequest is returned for requests missing required fields
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownTarget is returned when accepting a match to an id the
	// loaded catalog does not contain
	ErrUnknownTarget = errors.New("target not in catalog")
)

// Options configures a Service
type Options struct {
	Synonyms   *synonym.Table
	Units      *nutrition.Units
	Store      store.Store
	Recipes    RecipeSource
	Parameters map[string]string
	Match      match.Config
	Rematch    rematch.Config
	// Now is used to stamp product listings, defaults to time.Now
	Now func() time.Time
}

// Service implements the match query, persistence, reference load and
// nutrition breakdown operations
type Service struct {
	registry   *catalog.Registry
	engine     *match.Engine
	store      store.Store
	aggregator *nutrition.Aggregator
	normalizer *reference.Normalizer
	runner     *rematch.Runner
	recipes    RecipeSource
	now        func() time.Time

	// nutrition is published as one snapshot so readers never pair a
	// catalog with another load's records
	nutrition atomic.Pointer[nutritionSnapshot]

	productsMu sync.Mutex
	products   []types.ProductRecord

	log *slog.Logger
}

// New creates a service. Store and Units are required.
func New(opts Options, logger *slog.Logger) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: a match store is required", ErrInvalidRequest)
	}
	if opts.Units == nil {
		return nil, fmt.Errorf("%w: a unit table is required", ErrInvalidRequest)
	}
	if opts.Recipes == nil {
		opts.Recipes = NewRecipes(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	engine := match.NewEngine(opts.Synonyms, opts.Match, logger)
	s := &Service{
		registry:   catalog.NewRegistry(),
		engine:     engine,
		store:      opts.Store,
		aggregator: nutrition.NewAggregator(opts.Units, logger),
		normalizer: reference.NewNormalizer(opts.Parameters, logger),
		runner:     rematch.NewRunner(engine, opts.Store, opts.Rematch, logger),
		recipes:    opts.Recipes,
		now:        opts.Now,
		log:        logger,
	}
	s.nutrition.Store(&nutritionSnapshot{
		catalog: catalog.New(types.CatalogNutrition, nil),
		records: map[string]types.NutritionRecord{},
	})
	return s, nil
}

// nutritionSnapshot is the loaded nutrition catalog and the records behind it
type nutritionSnapshot struct {
	catalog *catalog.Catalog
	records map[string]types.NutritionRecord
}

// LoadReference normalizes reference rows and publishes the resulting
// nutrition catalog. The previous catalog stays visible until the new one is
// complete; a failed load leaves it in place.
func (s *Service) LoadReference(ctx context.Context, src reference.RowSource) (reference.LoadStats, error) {
	records, stats, err := s.normalizer.Normalize(ctx, src)
	if err != nil {
		return stats, fmt.Errorf("failed to load reference data: %w", err)
	}

	cat := catalog.FromNutrition(records)
	s.nutrition.Store(&nutritionSnapshot{catalog: cat, records: records})

	s.log.Info("Nutrition catalog published", "foods", cat.Len())
	return stats, nil
}

// LoadProducts merges a scrape into the product history and publishes the
// product catalog. Products missing from the scrape are kept as unavailable.
func (s *Service) LoadProducts(ctx context.Context, scrape []types.ProductRecord) (reference.MergeStats, error) {
	if err := ctx.Err(); err != nil {
		return reference.MergeStats{}, err
	}

	s.productsMu.Lock()
	defer s.productsMu.Unlock()

	merged, stats := reference.MergeListings(s.products, scrape, s.now())
	cat := catalog.FromProducts(merged)
	s.products = merged
	s.registry.Swap(cat)

	s.log.Info("Product catalog published",
		"products", len(merged),
		"available", cat.Len(),
		"unavailable", stats.Unavailable,
		"skipped", stats.Skipped)
	return stats, nil
}

// Products returns the merged product history, sorted by catalog id
func (s *Service) Products() []types.ProductRecord {
	s.productsMu.Lock()
	defer s.productsMu.Unlock()
	return append([]types.ProductRecord(nil), s.products...)
}

// NutritionRecord returns a loaded food by id
func (s *Service) NutritionRecord(foodID string) (types.NutritionRecord, bool) {
	rec, ok := s.nutrition.Load().records[foodID]
	return rec, ok
}

// Status describes what is loaded
type Status struct {
	NutritionFoods int    `json:"nutrition_foods"`
	Products       int    `json:"products"`
	Store          string `json:"store"`
}

// Status reports catalog sizes and store reachability
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		NutritionFoods: s.nutrition.Load().catalog.Len(),
		Products:       s.registry.Get(types.CatalogProduct).Len(),
		Store:          "ok",
	}
	if err := s.store.Ping(ctx); err != nil {
		st.Store = err.Error()
	}
	return st
}

// HealthCheck fails when the store is unreachable or no nutrition catalog
// has been loaded
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if s.nutrition.Load().catalog.Len() == 0 {
		return fmt.Errorf("nutrition %w", ErrCatalogNotLoaded)
	}
	return nil
}

// catalog returns the loaded catalog of kind
func (s *Service) catalog(kind types.CatalogKind) (*catalog.Catalog, error) {
	if kind == "" {
		kind = types.CatalogNutrition
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown catalog kind %q", ErrInvalidRequest, kind)
	}
	cat := s.registry.Get(kind)
	if kind == types.CatalogNutrition {
		cat = s.nutrition.Load().catalog
	}
	if cat.Len() == 0 {
		return nil, fmt.Errorf("%s %w", kind, ErrCatalogNotLoaded)
	}
	return cat, nil
}
