package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Memory is an in-process Store
type Memory struct {
	mu          sync.RWMutex
	records     map[string]types.MatchRecord // id -> record
	pairs       map[[2]string]string         // (source, target) -> id
	active      map[string]string            // source -> id of its active record
	checkpoints map[string]string

	sources *keyedMutex
	clock   *stamper
	newID   func() string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory(opts ...Option) *Memory {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{
		records:     make(map[string]types.MatchRecord),
		pairs:       make(map[[2]string]string),
		active:      make(map[string]string),
		checkpoints: make(map[string]string),
		sources:     newKeyedMutex(),
		clock:       &stamper{now: o.now},
		newID:       o.newID,
	}
}

// Upsert implements Store
func (m *Memory) Upsert(ctx context.Context, rec types.MatchRecord) (types.MatchRecord, error) {
	rec, err := prepare(rec)
	if err != nil {
		return types.MatchRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.MatchRecord{}, err
	}

	unlock := m.sources.Lock(rec.SourceID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	active := m.activeLocked(rec.SourceID)
	if conflicts(active, rec) {
		return types.MatchRecord{}, &ConflictError{Existing: *active}
	}

	key := [2]string{rec.SourceID, rec.TargetID}
	if id, ok := m.pairs[key]; ok {
		existing := m.records[id]
		existing.CatalogKind = rec.CatalogKind
		existing.Confidence = rec.Confidence
		existing.MatchType = rec.MatchType
		existing.Manual = rec.Manual
		existing.UpdatedAt = m.clock.next()
		m.records[id] = existing
		m.active[rec.SourceID] = id
		return existing, nil
	}

	now := m.clock.next()
	rec.ID = m.newID()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.records[rec.ID] = rec
	m.pairs[key] = rec.ID
	m.active[rec.SourceID] = rec.ID
	return rec, nil
}

// activeLocked requires m.mu
func (m *Memory) activeLocked(sourceID string) *types.MatchRecord {
	id, ok := m.active[sourceID]
	if !ok {
		return nil
	}
	rec := m.records[id]
	return &rec
}

// Get implements Store
func (m *Memory) Get(ctx context.Context, id string) (types.MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return types.MatchRecord{}, ErrNotFound
	}
	return rec, nil
}

// Active implements Store
func (m *Memory) Active(ctx context.Context, sourceID string) (types.MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if active := m.activeLocked(sourceID); active != nil {
		return *active, nil
	}
	return types.MatchRecord{}, ErrNotFound
}

// List implements Store
func (m *Memory) List(ctx context.Context, f Filter) (Page, error) {
	f = normalizeFilter(f)

	m.mu.RLock()
	var matched []types.MatchRecord
	for _, r := range m.records {
		if f.SourceID != "" && r.SourceID != f.SourceID {
			continue
		}
		if f.TargetID != "" && r.TargetID != f.TargetID {
			continue
		}
		if f.CatalogKind != "" && r.CatalogKind != f.CatalogKind {
			continue
		}
		if f.ManualOnly && !r.Manual {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.RUnlock()

	sortRecent(matched)
	page := Page{Total: len(matched), Offset: f.Offset, Limit: f.Limit, Matches: []types.MatchRecord{}}
	if f.Offset < len(matched) {
		end := f.Offset + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Matches = matched[f.Offset:end]
	}
	page.HasMore = f.Offset+len(page.Matches) < page.Total
	return page, nil
}

// Delete implements Store
func (m *Memory) Delete(ctx context.Context, id string) (types.MatchRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return types.MatchRecord{}, ErrNotFound
	}

	unlock := m.sources.Lock(rec.SourceID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// re-read under the source lock
	rec, ok = m.records[id]
	if !ok {
		return types.MatchRecord{}, ErrNotFound
	}
	delete(m.records, id)
	delete(m.pairs, [2]string{rec.SourceID, rec.TargetID})
	if m.active[rec.SourceID] == id {
		delete(m.active, rec.SourceID)
	}
	return rec, nil
}

// SaveCheckpoint implements Store
func (m *Memory) SaveCheckpoint(ctx context.Context, job, lastSourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[job] = lastSourceID
	return nil
}

// Checkpoint implements Store
func (m *Memory) Checkpoint(ctx context.Context, job string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[job], nil
}

// ClearCheckpoint implements Store
func (m *Memory) ClearCheckpoint(ctx context.Context, job string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, job)
	return nil
}

// Ping implements Store
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements Store
func (m *Memory) Close() error {
	return nil
}
