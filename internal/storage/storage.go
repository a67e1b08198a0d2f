// Package storage keeps a SQLite index of digest runs: one row per run and
// one row per directory outcome. The index is history only; digests
// themselves live next to the directories they describe.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/digin/internal/types"
)

// Index is the run history database.
type Index struct {
	db   *sql.DB
	path string
}

// RunSummary is a run row without its per-directory outcomes.
type RunSummary struct {
	ID             string
	Root           string
	Provider       string
	Stats          types.RunStatistics
	RootKind       types.Kind
	RootConfidence int
}

// Open opens or creates the index at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string) (*Index, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
		dsn = "file:" + filepath.ToSlash(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// One connection keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, path: path}, nil
}

// Path returns the database location.
func (x *Index) Path() string { return x.path }

// Close releases the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// RecordRun stores a run and its outcomes in one transaction.
func (x *Index) RecordRun(ctx context.Context, rec *types.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record must have an ID")
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	s := rec.Stats
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, root, provider, started_at, ended_at, directories,
		                  cache_hits, cache_misses, analyzer_calls, aggregations,
		                  errors, skipped, files_processed, cancelled,
		                  root_kind, root_confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Root, rec.Provider,
		s.StartedAt.UnixNano(), s.EndedAt.UnixNano(), s.DirectoriesVisited,
		s.CacheHits, s.CacheMisses, s.AnalyzerCalls, s.Aggregations,
		s.Errors, s.Skipped, s.FilesProcessed, s.Cancelled,
		string(rec.RootKind), types.ClampConfidence(rec.RootConfidence),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO directory_outcomes (run_id, seq, path, outcome, kind, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, o := range rec.Outcomes {
		if _, err := stmt.ExecContext(ctx, rec.ID, i, o.Path, string(o.Outcome), string(o.Kind), o.Error, o.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to insert outcome for %s: %w", o.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecentRuns returns the newest runs first. An empty root matches every
// root; limit <= 0 means 20.
func (x *Index) RecentRuns(ctx context.Context, root string, limit int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT id, root, provider, started_at, ended_at, directories,
		       cache_hits, cache_misses, analyzer_calls, aggregations,
		       errors, skipped, files_processed, cancelled,
		       root_kind, root_confidence
		FROM runs
		WHERE ? = '' OR root = ?
		ORDER BY started_at DESC, id
		LIMIT ?
	`, root, root, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*RunSummary
	for rows.Next() {
		r := &RunSummary{}
		var started, ended int64
		var kind string
		err := rows.Scan(
			&r.ID, &r.Root, &r.Provider, &started, &ended, &r.Stats.DirectoriesVisited,
			&r.Stats.CacheHits, &r.Stats.CacheMisses, &r.Stats.AnalyzerCalls, &r.Stats.Aggregations,
			&r.Stats.Errors, &r.Stats.Skipped, &r.Stats.FilesProcessed, &r.Stats.Cancelled,
			&kind, &r.RootConfidence,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Stats.StartedAt = time.Unix(0, started)
		r.Stats.EndedAt = time.Unix(0, ended)
		r.RootKind = types.Kind(kind)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunOutcomes returns the outcomes of one run in processing order.
func (x *Index) RunOutcomes(ctx context.Context, runID string) ([]types.DirectoryOutcome, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT path, outcome, kind, error, duration_ms
		FROM directory_outcomes
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []types.DirectoryOutcome
	for rows.Next() {
		var o types.DirectoryOutcome
		var outcome, kind string
		var ms int64
		if err := rows.Scan(&o.Path, &outcome, &kind, &o.Error, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Outcome = types.Outcome(outcome)
		o.Kind = types.Kind(kind)
		o.Duration = time.Duration(ms) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// FailureCounts returns how often each path failed across the most recent
// runs of root, for spotting directories that fail repeatedly.
func (x *Index) FailureCounts(ctx context.Context, root string, lastRuns int) (map[string]int, error) {
	if lastRuns <= 0 {
		lastRuns = 10
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT o.path, COUNT(*)
		FROM directory_outcomes o
		JOIN (SELECT id FROM runs WHERE root = ? ORDER BY started_at DESC LIMIT ?) r ON r.id = o.run_id
		WHERE o.outcome = 'failed'
		GROUP BY o.path
	`, root, lastRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		counts[path] = n
	}
	return counts, rows.Err()
}
