package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/noot-app/ingredient-matcher/internal/types"
)

// Supported drivers
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

// schema is portable across DuckDB and SQLite. Timestamps are unix nanoseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		id VARCHAR PRIMARY KEY,
		source_id VARCHAR NOT NULL,
		target_id VARCHAR NOT NULL,
		catalog_kind VARCHAR NOT NULL,
		confidence INTEGER NOT NULL,
		match_type VARCHAR NOT NULL,
		manual INTEGER NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS matches_source_target ON matches (source_id, target_id)`,
	`CREATE INDEX IF NOT EXISTS matches_source ON matches (source_id)`,
	`CREATE TABLE IF NOT EXISTS match_resets (
		source_id VARCHAR PRIMARY KEY,
		reset_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		job VARCHAR PRIMARY KEY,
		last_source_id VARCHAR NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

const matchColumns = `id, source_id, target_id, catalog_kind, confidence, match_type, manual, created_at, updated_at`

// SQLStore persists matches in DuckDB or SQLite
type SQLStore struct {
	db      *sql.DB
	driver  string
	sources *keyedMutex
	clock   *stamper
	newID   func() string
	log     *slog.Logger
}

var _ Store = (*SQLStore)(nil)

// Open opens (and migrates) a SQL store. An empty path opens an in-memory database.
func Open(ctx context.Context, driver, path string, logger *slog.Logger, opts ...Option) (*SQLStore, error) {
	start := time.Now()
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := path
	switch driver {
	case DriverDuckDB:
	case DriverSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if driver == DriverSQLite {
		// one writer; an in-memory database also lives on a single connection
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		db:      db,
		driver:  driver,
		sources: newKeyedMutex(),
		clock:   &stamper{now: o.now},
		newID:   o.newID,
		log:     logger,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Match store ready", "driver", driver, "path", path, "duration", time.Since(start))
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("migrate", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping implements Store
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (types.MatchRecord, error) {
	var (
		rec                  types.MatchRecord
		kind, matchType      string
		manual               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.SourceID, &rec.TargetID, &kind, &rec.Confidence, &matchType, &manual, &createdAt, &updatedAt); err != nil {
		return rec, err
	}
	rec.CatalogKind = types.CatalogKind(kind)
	rec.MatchType = types.MatchType(matchType)
	rec.Manual = manual != 0
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// active returns the active match of a source, or nil
func (s *SQLStore) active(ctx context.Context, q querier, sourceID string) (*types.MatchRecord, error) {
	rec, err := scanMatch(q.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE source_id = ?
		  AND updated_at > COALESCE((SELECT reset_at FROM match_resets WHERE source_id = ?), 0)
		ORDER BY updated_at DESC, id ASC
		LIMIT 1`, sourceID, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert implements Store
func (s *SQLStore) Upsert(ctx context.Context, rec types.MatchRecord) (types.MatchRecord, error) {
	start := time.Now()
	rec, err := prepare(rec)
	if err != nil {
		return types.MatchRecord{}, err
	}

	unlock := s.sources.Lock(rec.SourceID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.MatchRecord{}, unavailable("begin", err)
	}
	defer tx.Rollback()

	active, err := s.active(ctx, tx, rec.SourceID)
	if err != nil {
		return types.MatchRecord{}, unavailable("read active match", err)
	}
	if conflicts(active, rec) {
		return types.MatchRecord{}, &ConflictError{Existing: *active}
	}

	existing, err := scanMatch(tx.QueryRowContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches
		WHERE source_id = ? AND target_id = ?`, rec.SourceID, rec.TargetID))
	switch {
	case err == nil:
		existing.CatalogKind = rec.CatalogKind
		existing.Confidence = rec.Confidence
		existing.MatchType = rec.MatchType
		existing.Manual = rec.Manual
		existing.UpdatedAt = s.clock.next()
		if _, err := tx.ExecContext(ctx, `
			UPDATE matches
			SET catalog_kind = ?, confidence = ?, match_type = ?, manual = ?, updated_at = ?
			WHERE id = ?`,
			string(existing.CatalogKind), existing.Confidence, string(existing.MatchType),
			boolInt(existing.Manual), existing.UpdatedAt.UnixNano(), existing.ID); err != nil {
			return types.MatchRecord{}, unavailable("update match", err)
		}
		rec = existing
	case errors.Is(err, sql.ErrNoRows):
		now := s.clock.next()
		rec.ID = s.newID()
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO matches (`+matchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.SourceID, rec.TargetID, string(rec.CatalogKind), rec.Confidence,
			string(rec.MatchType), boolInt(rec.Manual), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano()); err != nil {
			return types.MatchRecord{}, unavailable("insert match", err)
		}
	default:
		return types.MatchRecord{}, unavailable("read match", err)
	}

	if err := tx.Commit(); err != nil {
		return types.MatchRecord{}, unavailable("commit", err)
	}

	s.log.Debug("Upserted match", "source_id", rec.SourceID, "target_id", rec.TargetID, "type", rec.MatchType, "duration", time.Since(start))
	return rec, nil
}

// Get implements Store
func (s *SQLStore) Get(ctx context.Context, id string) (types.MatchRecord, error) {
	rec, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.MatchRecord{}, ErrNotFound
	}
	if err != nil {
		return types.MatchRecord{}, unavailable("get match", err)
	}
	return rec, nil
}

// Active implements Store
func (s *SQLStore) Active(ctx context.Context, sourceID string) (types.MatchRecord, error) {
	rec, err := s.active(ctx, s.db, sourceID)
	if err != nil {
		return types.MatchRecord{}, unavailable("read active match", err)
	}
	if rec == nil {
		return types.MatchRecord{}, ErrNotFound
	}
	return *rec, nil
}

// List implements Store
func (s *SQLStore) List(ctx context.Context, f Filter) (Page, error) {
	start := time.Now()
	f = normalizeFilter(f)

	var (
		where []string
		args  []any
	)
	if f.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, f.TargetID)
	}
	if f.CatalogKind != "" {
		where = append(where, "catalog_kind = ?")
		args = append(args, string(f.CatalogKind))
	}
	if f.ManualOnly {
		where = append(where, "manual = 1")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := Page{Offset: f.Offset, Limit: f.Limit, Matches: []types.MatchRecord{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM matches`+clause, args...).Scan(&page.Total); err != nil {
		return Page{}, unavailable("count matches", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM matches`+clause+`
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return Page{}, unavailable("list matches", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return Page{}, unavailable("scan match", err)
		}
		page.Matches = append(page.Matches, rec)
	}
	if err := rows.Err(); err != nil {
		return Page{}, unavailable("list matches", err)
	}

	page.HasMore = f.Offset+len(page.Matches) < page.Total
	s.log.Debug("Listed matches", "total", page.Total, "returned", len(page.Matches), "duration", time.Since(start))
	return page, nil
}

// Delete implements Store
func (s *SQLStore) Delete(ctx context.Context, id string) (types.MatchRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return types.MatchRecord{}, err
	}

	unlock := s.sources.Lock(rec.SourceID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.MatchRecord{}, unavailable("begin", err)
	}
	defer tx.Rollback()

	active, err := s.active(ctx, tx, rec.SourceID)
	if err != nil {
		return types.MatchRecord{}, unavailable("read active match", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
	if err != nil {
		return types.MatchRecord{}, unavailable("delete match", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.MatchRecord{}, ErrNotFound
	}

	if active != nil && active.ID == id {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_resets (source_id, reset_at) VALUES (?, ?)
			ON CONFLICT (source_id) DO UPDATE SET reset_at = excluded.reset_at`,
			rec.SourceID, s.clock.next().UnixNano()); err != nil {
			return types.MatchRecord{}, unavailable("reset source", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return types.MatchRecord{}, unavailable("commit", err)
	}
	s.log.Info("Deleted match", "id", id, "source_id", rec.SourceID)
	return rec, nil
}

// SaveCheckpoint implements Store
func (s *SQLStore) SaveCheckpoint(ctx context.Context, job, lastSourceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (job, last_source_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (job) DO UPDATE SET last_source_id = excluded.last_source_id, updated_at = excluded.updated_at`,
		job, lastSourceID, s.clock.next().UnixNano())
	if err != nil {
		return unavailable("save checkpoint", err)
	}
	return nil
}

// Checkpoint implements Store
func (s *SQLStore) Checkpoint(ctx context.Context, job string) (string, error) {
	var last string
	err := s.db.QueryRowContext(ctx, `SELECT last_source_id FROM checkpoints WHERE job = ?`, job).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("read checkpoint", err)
	}
	return last, nil
}

// ClearCheckpoint implements Store
func (s *SQLStore) ClearCheckpoint(ctx context.Context, job string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE job = ?`, job); err != nil {
		return unavailable("clear checkpoint", err)
	}
	return nil
}
