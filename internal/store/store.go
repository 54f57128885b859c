// Package store persists accepted matches. At most one match per source id is
// active: the most recently updated one that has not been deleted.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

var (
	// ErrNotFound is returned when no match exists for an id or source
	ErrNotFound = errors.New("match not found")
	// ErrUnavailable wraps backend failures. Callers may retry.
	ErrUnavailable = errors.New("match store unavailable")
	// ErrConflict is matched by *ConflictError
	ErrConflict = errors.New("source has a manual match")
	// ErrInvalid is returned for records that can never be stored
	ErrInvalid = errors.New("invalid match record")
)

// ConflictError is returned when an automatic upsert would replace a manual match
type ConflictError struct {
	Existing types.MatchRecord
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("source %q has a manual match to %q", e.Existing.SourceID, e.Existing.TargetID)
}

// Is makes errors.Is(err, ErrConflict) true
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Filter selects matches for List
type Filter struct {
	SourceID    string
	TargetID    string
	CatalogKind types.CatalogKind
	ManualOnly  bool
	Offset      int
	Limit       int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Page is one page of matches, most recent first
type Page struct {
	Matches []types.MatchRecord `json:"matches"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
	HasMore bool                `json:"has_more"`
}

// Store is implemented by the in-memory and SQL stores
type Store interface {
	// Upsert inserts or updates the match for (SourceID, TargetID) and makes
	// it the active match of its source. An automatic upsert is rejected with
	// *ConflictError when the source's active match is manual.
	Upsert(ctx context.Context, rec types.MatchRecord) (types.MatchRecord, error)
	Get(ctx context.Context, id string) (types.MatchRecord, error)
	// Active returns the authoritative match of a source, or ErrNotFound
	Active(ctx context.Context, sourceID string) (types.MatchRecord, error)
	List(ctx context.Context, f Filter) (Page, error)
	// Delete removes a match permanently. Deleting the active match leaves the
	// source without an active match; older history is not promoted.
	Delete(ctx context.Context, id string) (types.MatchRecord, error)

	SaveCheckpoint(ctx context.Context, job, lastSourceID string) error
	// Checkpoint returns "" when the job has no checkpoint
	Checkpoint(ctx context.Context, job string) (string, error)
	ClearCheckpoint(ctx context.Context, job string) error

	Ping(ctx context.Context) error
	Close() error
}

// Option configures a store
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces the uuid generator
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// stamper hands out strictly increasing timestamps so "most recent" is
// always well defined
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Round(0)
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

// keyedMutex serializes work per key and drops idle entries
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock locks key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// prepare validates a record and fills defaults
func prepare(rec types.MatchRecord) (types.MatchRecord, error) {
	rec.SourceID = strings.TrimSpace(rec.SourceID)
	rec.TargetID = strings.TrimSpace(rec.TargetID)
	if rec.SourceID == "" || rec.TargetID == "" {
		return rec, fmt.Errorf("%w: source and target are required", ErrInvalid)
	}
	if rec.CatalogKind == "" {
		rec.CatalogKind = types.CatalogNutrition
	}
	if !rec.CatalogKind.Valid() {
		return rec, fmt.Errorf("%w: unknown catalog kind %q", ErrInvalid, rec.CatalogKind)
	}
	if rec.Manual {
		rec.MatchType = types.MatchManual
	}
	if !rec.MatchType.Valid() {
		return rec, fmt.Errorf("%w: unknown match type %q", ErrInvalid, rec.MatchType)
	}
	if rec.MatchType == types.MatchManual {
		rec.Manual = true
	}
	if rec.Confidence < 0 {
		rec.Confidence = 0
	}
	if rec.Confidence > 100 {
		rec.Confidence = 100
	}
	return rec, nil
}

// conflicts reports whether rec may not replace the active match
func conflicts(active *types.MatchRecord, rec types.MatchRecord) bool {
	return active != nil && active.Manual && !rec.Manual
}

func normalizeFilter(f Filter) Filter {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

// sortRecent orders most recently updated first
func sortRecent(recs []types.MatchRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
