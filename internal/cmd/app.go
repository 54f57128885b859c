package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/config"
	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/nutrition"
	"github.com/noot-app/ingredient-matcher/internal/reference"
	"github.com/noot-app/ingredient-matcher/internal/rematch"
	"github.com/noot-app/ingredient-matcher/internal/service"
	"github.com/noot-app/ingredient-matcher/internal/source"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/synonym"
)

// app bundles the service with the resources it holds open
type app struct {
	svc    *service.Service
	store  store.Store
	reader *source.Reader
	log    *slog.Logger

	reference *reference.LoadStats
	products  *reference.MergeStats
}

// openApp builds the service from configuration and loads the reference
// dataset, recipes and (when present) product listings
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	start := time.Now()

	synonyms, err := loadSynonyms(cfg.SynonymsPath)
	if err != nil {
		return nil, err
	}
	units, err := loadUnits(cfg.UnitsPath)
	if err != nil {
		return nil, err
	}
	recipes, err := service.LoadRecipes(cfg.RecipesPath)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	svc, err := service.New(service.Options{
		Synonyms: synonyms,
		Units:    units,
		Store:    st,
		Recipes:  recipes,
		Match:    match.Config{FuzzyFloor: cfg.FuzzyFloor, TopK: cfg.TopK},
		Rematch:  rematch.Config{Workers: cfg.RematchWorkers, ChunkSize: cfg.RematchChunk},
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	reader, err := source.NewReader(logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{svc: svc, store: st, reader: reader, log: logger}
	if err := a.loadData(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug("Matcher ready", "duration", time.Since(start))
	return a, nil
}

func (a *app) loadData(ctx context.Context, cfg *config.Config) error {
	if _, err := os.Stat(cfg.ReferencePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.log.Warn("Reference dataset missing, nutrition catalog is empty. Run fetch-data first.",
				"path", cfg.ReferencePath)
			return nil
		}
		return fmt.Errorf("failed to stat reference dataset: %w", err)
	}
	stats, err := a.svc.LoadReference(ctx, a.reader.ReferenceRows(cfg.ReferencePath, source.FridaColumns))
	if err != nil {
		return err
	}
	a.reference = &stats

	if _, err := os.Stat(cfg.ProductsPath); err != nil {
		a.log.Debug("No product listings", "path", cfg.ProductsPath)
		return nil
	}
	listings, err := a.reader.Products(ctx, cfg.ProductsPath, source.DefaultProductColumns)
	if err != nil {
		return err
	}
	merged, err := a.svc.LoadProducts(ctx, listings.Products)
	if err != nil {
		return err
	}
	merged.Skipped += listings.Skipped
	a.products = &merged
	return nil
}

// Close releases the store and the DuckDB reader
func (a *app) Close() error {
	return errors.Join(a.reader.Close(), a.store.Close())
}

// openStore opens the configured match store. STORE_DRIVER=memory keeps
// matches for the lifetime of the process only.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("Using in-memory match store, matches are lost on exit")
		return store.NewMemory(), nil
	}
	if dir := filepath.Dir(cfg.StorePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return store.Open(ctx, cfg.StoreDriver, cfg.StorePath, logger)
}

func loadSynonyms(path string) (*synonym.Table, error) {
	if path == "" {
		return synonym.Default()
	}
	return synonym.Load(path)
}

func loadUnits(path string) (*nutrition.Units, error) {
	if path == "" {
		return nutrition.DefaultUnits()
	}
	return nutrition.LoadUnits(path)
}
