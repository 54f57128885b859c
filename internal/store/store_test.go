package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noot-app/ingredient-matcher/internal/config"
	"github.com/noot-app/ingredient-matcher/internal/types"
)

var testEpoch = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testEpoch }

type storeFactory func(t *testing.T) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			return NewMemory(WithClock(fixedClock))
		},
		"sqlite": func(t *testing.T) Store {
			s, err := Open(context.Background(), DriverSQLite, "", config.NewTestLogger(io.Discard, "error"), WithClock(fixedClock))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"duckdb": func(t *testing.T) Store {
			s, err := Open(context.Background(), DriverDuckDB, "", config.NewTestLogger(io.Discard, "error"), WithClock(fixedClock))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// forEachStore runs fn against every Store implementation
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func auto(source, target string, confidence int) types.MatchRecord {
	return types.MatchRecord{
		SourceID:    source,
		TargetID:    target,
		CatalogKind: types.CatalogNutrition,
		Confidence:  confidence,
		MatchType:   types.MatchFuzzy,
	}
}

func manual(source, target string) types.MatchRecord {
	return types.MatchRecord{
		SourceID:    source,
		TargetID:    target,
		CatalogKind: types.CatalogNutrition,
		Confidence:  100,
		Manual:      true,
	}
}

func TestStore_ResubmitRefreshesTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.Upsert(ctx, auto("ing-1", "food-12", 80))
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, testEpoch, first.CreatedAt)

		second, err := s.Upsert(ctx, auto("ing-1", "food-12", 80))
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

		third, err := s.Upsert(ctx, auto("ing-1", "food-12", 85))
		require.NoError(t, err)
		assert.Equal(t, first.ID, third.ID)
		assert.Equal(t, 85, third.Confidence)
		assert.True(t, third.UpdatedAt.After(second.UpdatedAt))
		assert.True(t, third.CreatedAt.Equal(first.CreatedAt))

		page, err := s.List(ctx, Filter{SourceID: "ing-1"})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})
}

func TestStore_ActiveIsMostRecent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.Upsert(ctx, auto("ing-1", "food-a", 70))
		require.NoError(t, err)
		b, err := s.Upsert(ctx, auto("ing-1", "food-b", 75))
		require.NoError(t, err)

		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, b.ID, active.ID)

		// accepting an older target again makes it active
		_, err = s.Upsert(ctx, auto("ing-1", "food-a", 70))
		require.NoError(t, err)
		active, err = s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, a.ID, active.ID)

		_, err = s.Active(ctx, "ing-unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ActiveIndexedPerSource(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const sources = 20

		ids := map[[2]string]string{}
		for target := 0; target < 3; target++ {
			for src := 0; src < sources; src++ {
				rec, err := s.Upsert(ctx, auto(fmt.Sprintf("ing-%d", src), fmt.Sprintf("food-%d", target), 70+target))
				require.NoError(t, err)
				ids[[2]string{rec.SourceID, rec.TargetID}] = rec.ID
			}
		}

		// re-submitting an older pair makes it active again
		for src := 0; src < sources; src += 2 {
			_, err := s.Upsert(ctx, auto(fmt.Sprintf("ing-%d", src), "food-0", 70))
			require.NoError(t, err)
		}

		for src := 0; src < sources; src++ {
			source := fmt.Sprintf("ing-%d", src)
			want := "food-2"
			if src%2 == 0 {
				want = "food-0"
			}
			active, err := s.Active(ctx, source)
			require.NoError(t, err)
			assert.Equal(t, ids[[2]string{source, want}], active.ID, source)
		}

		// deleting history leaves the active record alone
		_, err := s.Delete(ctx, ids[[2]string{"ing-1", "food-0"}])
		require.NoError(t, err)
		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, "food-2", active.TargetID)

		// deleting the active record affects only its own source
		_, err = s.Delete(ctx, ids[[2]string{"ing-0", "food-0"}])
		require.NoError(t, err)
		_, err = s.Active(ctx, "ing-0")
		assert.ErrorIs(t, err, ErrNotFound)
		active, err = s.Active(ctx, "ing-2")
		require.NoError(t, err)
		assert.Equal(t, "food-0", active.TargetID)
	})
}

func TestStore_DeleteActiveDoesNotPromoteHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Upsert(ctx, auto("ing-1", "food-a", 70))
		require.NoError(t, err)
		b, err := s.Upsert(ctx, auto("ing-1", "food-b", 75))
		require.NoError(t, err)

		deleted, err := s.Delete(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.ID, deleted.ID)

		_, err = s.Active(ctx, "ing-1")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Get(ctx, b.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// history stays listed
		page, err := s.List(ctx, Filter{SourceID: "ing-1"})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		// a new acceptance becomes active again
		c, err := s.Upsert(ctx, auto("ing-1", "food-c", 90))
		require.NoError(t, err)
		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, c.ID, active.ID)
	})
}

func TestStore_DeleteHistoricalKeepsActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.Upsert(ctx, auto("ing-1", "food-a", 70))
		require.NoError(t, err)
		b, err := s.Upsert(ctx, auto("ing-1", "food-b", 75))
		require.NoError(t, err)

		_, err = s.Delete(ctx, a.ID)
		require.NoError(t, err)

		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, b.ID, active.ID)

		_, err = s.Delete(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UndoRestoresPriorState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Upsert(ctx, auto("ing-2", "food-a", 70))
		require.NoError(t, err)
		before, err := s.List(ctx, Filter{})
		require.NoError(t, err)

		rec, err := s.Upsert(ctx, auto("ing-1", "food-b", 88))
		require.NoError(t, err)
		_, err = s.Delete(ctx, rec.ID)
		require.NoError(t, err)

		after, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, before.Total, after.Total)
		require.Len(t, after.Matches, len(before.Matches))
		for i := range before.Matches {
			assert.Equal(t, before.Matches[i].ID, after.Matches[i].ID)
		}
		_, err = s.Active(ctx, "ing-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ManualMatchIsProtected(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		m, err := s.Upsert(ctx, manual("ing-1", "food-a"))
		require.NoError(t, err)
		assert.Equal(t, types.MatchManual, m.MatchType)
		assert.True(t, m.Manual)

		_, err = s.Upsert(ctx, auto("ing-1", "food-b", 94))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)
		var conflict *ConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, m.ID, conflict.Existing.ID)

		// an automatic rematch to the same target is rejected as well
		_, err = s.Upsert(ctx, auto("ing-1", "food-a", 94))
		assert.ErrorIs(t, err, ErrConflict)

		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, m.ID, active.ID)
		assert.True(t, active.Manual)

		// reviewers can replace their own match
		m2, err := s.Upsert(ctx, manual("ing-1", "food-c"))
		require.NoError(t, err)
		active, err = s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, m2.ID, active.ID)

		// after undo, automatic matches are allowed again
		_, err = s.Delete(ctx, m2.ID)
		require.NoError(t, err)
		_, err = s.Upsert(ctx, auto("ing-1", "food-b", 94))
		require.NoError(t, err)
	})
}

func TestStore_InvalidRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Upsert(ctx, auto("", "food-a", 70))
		assert.ErrorIs(t, err, ErrInvalid)

		rec := auto("ing-1", "food-a", 70)
		rec.MatchType = "guess"
		_, err = s.Upsert(ctx, rec)
		assert.ErrorIs(t, err, ErrInvalid)

		rec = auto("ing-1", "food-a", 140)
		rec.CatalogKind = ""
		stored, err := s.Upsert(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, 100, stored.Confidence)
		assert.Equal(t, types.CatalogNutrition, stored.CatalogKind)
	})
}

func TestStore_ListPagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var ids []string
		for i := 0; i < 5; i++ {
			rec := auto(fmt.Sprintf("ing-%d", i), "food-a", 60+i)
			if i == 4 {
				rec = manual("ing-4", "netto/42")
				rec.CatalogKind = types.CatalogProduct
			}
			stored, err := s.Upsert(ctx, rec)
			require.NoError(t, err)
			ids = append(ids, stored.ID)
		}

		page, err := s.List(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Matches, 2)
		// most recent first
		assert.Equal(t, ids[4], page.Matches[0].ID)
		assert.Equal(t, ids[3], page.Matches[1].ID)

		page, err = s.List(ctx, Filter{Offset: 4, Limit: 2})
		require.NoError(t, err)
		assert.False(t, page.HasMore)
		require.Len(t, page.Matches, 1)
		assert.Equal(t, ids[0], page.Matches[0].ID)

		page, err = s.List(ctx, Filter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Matches)
		assert.Equal(t, DefaultLimit, page.Limit)

		page, err = s.List(ctx, Filter{ManualOnly: true})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		page, err = s.List(ctx, Filter{CatalogKind: types.CatalogNutrition, TargetID: "food-a"})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
	})
}

func TestStore_Checkpoints(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		last, err := s.Checkpoint(ctx, "rematch")
		require.NoError(t, err)
		assert.Equal(t, "", last)

		require.NoError(t, s.SaveCheckpoint(ctx, "rematch", "ing-10"))
		require.NoError(t, s.SaveCheckpoint(ctx, "rematch", "ing-20"))
		last, err = s.Checkpoint(ctx, "rematch")
		require.NoError(t, err)
		assert.Equal(t, "ing-20", last)

		require.NoError(t, s.ClearCheckpoint(ctx, "rematch"))
		last, err = s.Checkpoint(ctx, "rematch")
		require.NoError(t, err)
		assert.Equal(t, "", last)
	})
}

func TestStore_ConcurrentUpsertsSameSource(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Upsert(ctx, auto("ing-1", fmt.Sprintf("food-%d", i), 70))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		page, err := s.List(ctx, Filter{SourceID: "ing-1"})
		require.NoError(t, err)
		assert.Equal(t, 10, page.Total)

		active, err := s.Active(ctx, "ing-1")
		require.NoError(t, err)
		assert.Equal(t, page.Matches[0].ID, active.ID)
	})
}

func TestStore_Ping(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "", config.NewTestLogger(io.Discard, "error"))
	require.Error(t, err)
}

func TestOpen_FileBackedSQLitePersists(t *testing.T) {
	path := t.TempDir() + "/matches.sqlite"
	logger := config.NewTestLogger(io.Discard, "error")
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, path, logger)
	require.NoError(t, err)
	rec, err := s.Upsert(ctx, manual("ing-1", "food-a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path, logger)
	require.NoError(t, err)
	defer s.Close()

	active, err := s.Active(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, active.ID)
	assert.True(t, active.Manual)
}

func TestConflictError(t *testing.T) {
	err := fmt.Errorf("rematch: %w", &ConflictError{Existing: types.MatchRecord{SourceID: "a", TargetID: "b"}})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), `source "a" has a manual match to "b"`)
}

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := unavailable("insert match", cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestKeyedMutex_ReleasesIdleKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}
