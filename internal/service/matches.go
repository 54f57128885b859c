package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/normalize"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// QueryRequest asks for candidates for a free-text name
type QueryRequest struct {
	FreeText     string            `json:"free_text"`
	CatalogKind  types.CatalogKind `json:"catalog_kind"`
	CategoryHint string            `json:"category_hint,omitempty"`
	TopK         int               `json:"top_k,omitempty"`
}

// QueryResult holds the ranked candidates. No candidates means no match.
type QueryResult struct {
	Query       string            `json:"query"`
	Normalized  string            `json:"normalized"`
	Qualifiers  []string          `json:"qualifiers,omitempty"`
	Quantity    *float64          `json:"quantity,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	CatalogKind types.CatalogKind `json:"catalog_kind"`
	Candidates  []match.Candidate `json:"candidates"`
}

// Query matches free text against a catalog
func (s *Service) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return QueryResult{}, err
	}
	cat, err := s.catalog(req.CatalogKind)
	if err != nil {
		return QueryResult{}, err
	}

	name := normalize.Normalize(req.FreeText)
	candidates := s.engine.Match(name, cat, match.Options{TopK: req.TopK, CategoryHint: req.CategoryHint})
	if candidates == nil {
		candidates = []match.Candidate{}
	}
	return QueryResult{
		Query:       req.FreeText,
		Normalized:  name.Key,
		Qualifiers:  name.Qualifiers,
		Quantity:    name.Quantity,
		Unit:        name.Unit,
		CatalogKind: cat.Kind(),
		Candidates:  candidates,
	}, nil
}

// AcceptRequest persists a match. A manual accept records a reviewer's
// decision and is protected from automatic rematching; a non-manual accept
// must carry the tier and confidence the engine produced.
type AcceptRequest struct {
	SourceID    string            `json:"source_id"`
	TargetID    string            `json:"target_id"`
	CatalogKind types.CatalogKind `json:"catalog_kind"`
	MatchType   types.MatchType   `json:"match_type,omitempty"`
	Confidence  *int              `json:"confidence,omitempty"`
	Manual      bool              `json:"manual"`
}

// Accept stores a match for a source
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (types.MatchRecord, error) {
	start := time.Now()
	req.SourceID = strings.TrimSpace(req.SourceID)
	req.TargetID = strings.TrimSpace(req.TargetID)
	if req.SourceID == "" || req.TargetID == "" {
		return types.MatchRecord{}, fmt.Errorf("%w: source_id and target_id are required", ErrInvalidRequest)
	}
	cat, err := s.catalog(req.CatalogKind)
	if err != nil {
		return types.MatchRecord{}, err
	}
	if _, ok := cat.Get(req.TargetID); !ok {
		return types.MatchRecord{}, fmt.Errorf("%w: %s %q", ErrUnknownTarget, cat.Kind(), req.TargetID)
	}

	rec := types.MatchRecord{
		SourceID:    req.SourceID,
		TargetID:    req.TargetID,
		CatalogKind: cat.Kind(),
		Manual:      req.Manual,
		MatchType:   req.MatchType,
	}
	if req.Manual {
		rec.MatchType = types.MatchManual
		rec.Confidence = match.ManualConfidence(req.Confidence)
	} else {
		if !rec.MatchType.Valid() || rec.MatchType == types.MatchManual {
			return types.MatchRecord{}, fmt.Errorf("%w: automatic matches need an engine match type, got %q", ErrInvalidRequest, rec.MatchType)
		}
		if req.Confidence == nil {
			return types.MatchRecord{}, fmt.Errorf("%w: confidence is required for automatic matches", ErrInvalidRequest)
		}
		// keep stored confidences inside their tier's band
		rec.Confidence = match.Confidence(rec.MatchType, float64(*req.Confidence))
	}

	saved, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return types.MatchRecord{}, fmt.Errorf("failed to accept match: %w", err)
	}

	s.log.Info("Match accepted",
		"source_id", saved.SourceID,
		"target_id", saved.TargetID,
		"match_type", saved.MatchType,
		"confidence", saved.Confidence,
		"duration", time.Since(start))
	return saved, nil
}

// ListMatches returns a page of matches, most recent first
func (s *Service) ListMatches(ctx context.Context, f store.Filter) (store.Page, error) {
	page, err := s.store.List(ctx, f)
	if err != nil {
		return store.Page{}, fmt.Errorf("failed to list matches: %w", err)
	}
	return page, nil
}

// DeleteMatch removes a match permanently. The source is unmatched afterwards.
func (s *Service) DeleteMatch(ctx context.Context, id string) (types.MatchRecord, error) {
	rec, err := s.store.Delete(ctx, strings.TrimSpace(id))
	if err != nil {
		return types.MatchRecord{}, fmt.Errorf("failed to delete match: %w", err)
	}
	s.log.Info("Match deleted", "id", rec.ID, "source_id", rec.SourceID, "target_id", rec.TargetID)
	return rec, nil
}

// MatchStats summarizes every stored match
func (s *Service) MatchStats(ctx context.Context, kind types.CatalogKind) (match.Stats, error) {
	var all []types.MatchRecord
	f := store.Filter{CatalogKind: kind, Limit: store.MaxLimit}
	for {
		page, err := s.store.List(ctx, f)
		if err != nil {
			return match.Stats{}, fmt.Errorf("failed to list matches: %w", err)
		}
		all = append(all, page.Matches...)
		if !page.HasMore {
			break
		}
		f.Offset += len(page.Matches)
	}
	return match.Summarize(all), nil
}
