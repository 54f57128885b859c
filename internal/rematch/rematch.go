// Package rematch re-runs the matching engine over stored sources after a
// catalog or synonym table update. Work is chunked by source id and
// checkpointed so an interrupted run resumes where it stopped.
package rematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noot-app/ingredient-matcher/internal/catalog"
	"github.com/noot-app/ingredient-matcher/internal/match"
	"github.com/noot-app/ingredient-matcher/internal/store"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Status is the outcome for one source
type Status string

const (
	StatusMatched   Status = "matched"
	StatusUnchanged Status = "unchanged"
	StatusProtected Status = "protected"
	StatusNoMatch   Status = "no-match"
	StatusError     Status = "error"
)

const (
	DefaultWorkers   = 4
	DefaultChunkSize = 100
)

// Source is one entity to match
type Source struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CategoryHint string `json:"category_hint,omitempty"`
}

// Result is the per-source outcome
type Result struct {
	SourceID   string          `json:"source_id"`
	Status     Status          `json:"status"`
	TargetID   string          `json:"target_id,omitempty"`
	MatchType  types.MatchType `json:"match_type,omitempty"`
	Confidence int             `json:"confidence,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Report summarizes a run
type Report struct {
	Job          string         `json:"job"`
	ResumedAfter string         `json:"resumed_after,omitempty"`
	Results      []Result       `json:"results"`
	Counts       map[Status]int `json:"counts"`
	Completed    bool           `json:"completed"`
	Duration     time.Duration  `json:"duration"`
}

// Config tunes a runner
type Config struct {
	Workers   int
	ChunkSize int
}

// Runner executes rematch jobs
type Runner struct {
	engine  *match.Engine
	store   store.Store
	workers int
	chunk   int
	log     *slog.Logger
}

// NewRunner creates a runner
func NewRunner(engine *match.Engine, st store.Store, cfg Config, log *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Runner{
		engine:  engine,
		store:   st,
		workers: cfg.Workers,
		chunk:   cfg.ChunkSize,
		log:     log,
	}
}

// Run matches every source against cat and upserts the best candidate.
// Sources are processed in ascending id order, one chunk at a time with up to
// Workers sources in flight. The last id of each finished chunk is saved as
// the job checkpoint; a later run of the same job skips ids up to it. A run
// that finishes clears the checkpoint. Per-source failures are reported, not
// returned. The returned error is non-nil only for cancellation or a failing
// checkpoint write, in which case the report holds the work done so far.
func (r *Runner) Run(ctx context.Context, job string, cat *catalog.Catalog, sources []Source) (Report, error) {
	start := time.Now()
	report := Report{Job: job, Counts: map[Status]int{}}
	if cat == nil {
		return report, errors.New("rematch: catalog is not loaded")
	}

	after, err := r.store.Checkpoint(ctx, job)
	if err != nil {
		return report, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	report.ResumedAfter = after

	pending := pendingSources(sources, after)
	r.log.Debug("Starting rematch",
		"job", job,
		"catalog", cat.Kind(),
		"sources", len(sources),
		"pending", len(pending),
		"resumed_after", after)

	for offset := 0; offset < len(pending); offset += r.chunk {
		end := min(offset+r.chunk, len(pending))
		chunk := pending[offset:end]

		results, err := r.runChunk(ctx, cat, chunk)
		if err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		for _, res := range results {
			report.Results = append(report.Results, res)
			report.Counts[res.Status]++
		}

		last := chunk[len(chunk)-1].ID
		if err := r.store.SaveCheckpoint(ctx, job, last); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("failed to save checkpoint: %w", err)
		}
		r.log.Debug("Rematch chunk done", "job", job, "last_source_id", last, "done", end, "pending", len(pending))
	}

	if err := r.store.ClearCheckpoint(ctx, job); err != nil {
		report.Duration = time.Since(start)
		return report, fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	report.Completed = true
	report.Duration = time.Since(start)

	r.log.Info("Rematch completed",
		"job", job,
		"processed", len(report.Results),
		"matched", report.Counts[StatusMatched],
		"unchanged", report.Counts[StatusUnchanged],
		"protected", report.Counts[StatusProtected],
		"no_match", report.Counts[StatusNoMatch],
		"errors", report.Counts[StatusError],
		"duration", report.Duration)
	return report, nil
}

// runChunk processes one chunk. Results keep the chunk's order. A chunk
// interrupted by cancellation is discarded so its checkpoint is never written.
func (r *Runner) runChunk(ctx context.Context, cat *catalog.Catalog, chunk []Source) ([]Result, error) {
	results := make([]Result, len(chunk))

	g, grpCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, src := range chunk {
		g.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			results[i] = r.one(grpCtx, cat, src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// one matches a single source and stores the result
func (r *Runner) one(ctx context.Context, cat *catalog.Catalog, src Source) Result {
	res := Result{SourceID: src.ID}

	active, err := r.store.Active(ctx, src.ID)
	hasActive := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return failed(res, err)
	}
	if hasActive && active.Manual {
		res.Status = StatusProtected
		res.TargetID = active.TargetID
		res.MatchType = active.MatchType
		res.Confidence = active.Confidence
		return res
	}

	candidates := r.engine.MatchText(src.Name, cat, match.Options{TopK: 1, CategoryHint: src.CategoryHint})
	if len(candidates) == 0 {
		res.Status = StatusNoMatch
		return res
	}
	best := candidates[0]
	res.TargetID = best.ID
	res.MatchType = best.Tier
	res.Confidence = best.Confidence

	if hasActive && active.TargetID == best.ID && active.MatchType == best.Tier &&
		active.Confidence == best.Confidence && active.CatalogKind == cat.Kind() {
		res.Status = StatusUnchanged
		return res
	}

	_, err = r.store.Upsert(ctx, types.MatchRecord{
		SourceID:    src.ID,
		TargetID:    best.ID,
		CatalogKind: cat.Kind(),
		Confidence:  best.Confidence,
		MatchType:   best.Tier,
	})
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		// a manual match landed after the Active read
		res.Status = StatusProtected
		res.TargetID = conflict.Existing.TargetID
		res.MatchType = conflict.Existing.MatchType
		res.Confidence = conflict.Existing.Confidence
	case err != nil:
		return failed(res, err)
	default:
		res.Status = StatusMatched
	}
	return res
}

func failed(res Result, err error) Result {
	res.Status = StatusError
	res.Error = err.Error()
	return res
}

// pendingSources sorts by id, drops duplicates and blank ids, and skips ids
// up to and including after
func pendingSources(sources []Source, after string) []Source {
	sorted := make([]Source, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		if s.ID == "" {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if after == "" {
		return sorted
	}
	idx := sort.Search(len(sorted), func(i int) bool { return sorted[i].ID > after })
	return sorted[idx:]
}
