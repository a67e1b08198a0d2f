package storage

const schema = `
-- One row per orchestrator run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    provider TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL, -- unix nanoseconds
    ended_at INTEGER NOT NULL,
    directories INTEGER NOT NULL DEFAULT 0,
    cache_hits INTEGER NOT NULL DEFAULT 0,
    cache_misses INTEGER NOT NULL DEFAULT 0,
    analyzer_calls INTEGER NOT NULL DEFAULT 0,
    aggregations INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    files_processed INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0 CHECK(cancelled IN (0, 1)),
    root_kind TEXT NOT NULL DEFAULT 'unknown',
    root_confidence INTEGER NOT NULL DEFAULT 0 CHECK(root_confidence >= 0 AND root_confidence <= 100)
);

CREATE INDEX IF NOT EXISTS idx_runs_root_started ON runs(root, started_at);

-- Per-directory outcomes of a run
CREATE TABLE IF NOT EXISTS directory_outcomes (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    path TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK(outcome IN ('hit', 'analyzed', 'aggregated', 'failed', 'skipped', 'cancelled')),
    kind TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, seq),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_outcomes_path ON directory_outcomes(path);
`
