package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digin/internal/types"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(context.Background(), filepath.Join(t.TempDir(), ".digin", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleRun(id, root string, started time.Time) *types.RunRecord {
	return &types.RunRecord{
		ID:       id,
		Root:     root,
		Provider: "claude",
		Stats: types.RunStatistics{
			DirectoriesVisited: 3,
			CacheHits:          1,
			CacheMisses:        2,
			AnalyzerCalls:      1,
			Aggregations:       1,
			FilesProcessed:     4,
			StartedAt:          started,
			EndedAt:            started.Add(2 * time.Second),
		},
		RootKind:       types.KindService,
		RootConfidence: 85,
		Outcomes: []types.DirectoryOutcome{
			{Path: "a", Outcome: types.OutcomeHit, Kind: types.KindLib, Duration: 3 * time.Millisecond},
			{Path: "b", Outcome: types.OutcomeAnalyzed, Kind: types.KindUI, Duration: 1500 * time.Millisecond},
			{Path: ".", Outcome: types.OutcomeAggregated, Kind: types.KindService},
		},
	}
}

func TestRecordAndReadRun(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, idx.RecordRun(ctx, sampleRun("run-1", "/src/app", started)))

	runs, err := idx.RecentRuns(ctx, "/src/app", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, "claude", r.Provider)
	assert.Equal(t, types.KindService, r.RootKind)
	assert.Equal(t, 85, r.RootConfidence)
	assert.Equal(t, 3, r.Stats.DirectoriesVisited)
	assert.Equal(t, 4, r.Stats.FilesProcessed)
	assert.False(t, r.Stats.Cancelled)
	assert.True(t, r.Stats.StartedAt.Equal(started))
	assert.Equal(t, 2*time.Second, r.Stats.Duration())

	outcomes, err := idx.RunOutcomes(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "a", outcomes[0].Path)
	assert.Equal(t, types.OutcomeAnalyzed, outcomes[1].Outcome)
	assert.Equal(t, 1500*time.Millisecond, outcomes[1].Duration)
	assert.Equal(t, ".", outcomes[2].Path)
}

func TestRecentRunsOrderAndFilter(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, idx.RecordRun(ctx, sampleRun("old", "/src/app", base)))
	require.NoError(t, idx.RecordRun(ctx, sampleRun("new", "/src/app", base.Add(time.Hour))))
	require.NoError(t, idx.RecordRun(ctx, sampleRun("other", "/src/lib", base.Add(2*time.Hour))))

	runs, err := idx.RecentRuns(ctx, "/src/app", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[1].ID)

	all, err := idx.RecentRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "other", all[0].ID)
}

func TestRecordRunRejectsDuplicatesAtomically(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, idx.RecordRun(ctx, sampleRun("dup", "/src/app", now)))
	err := idx.RecordRun(ctx, sampleRun("dup", "/src/app", now))
	require.Error(t, err)

	outcomes, err := idx.RunOutcomes(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, outcomes, 3)
}

func TestRecordRunValidation(t *testing.T) {
	idx := openTestIndex(t)
	assert.Error(t, idx.RecordRun(context.Background(), nil))
	assert.Error(t, idx.RecordRun(context.Background(), &types.RunRecord{}))
}

func TestCancelledRunAndFailures(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"r1", "r2"} {
		rec := sampleRun(id, "/src/app", base.Add(time.Duration(i)*time.Minute))
		rec.Stats.Cancelled = i == 1
		rec.Outcomes = append(rec.Outcomes,
			types.DirectoryOutcome{Path: "flaky", Outcome: types.OutcomeFailed, Error: "timeout"})
		if i == 1 {
			rec.Outcomes = append(rec.Outcomes,
				types.DirectoryOutcome{Path: "late", Outcome: types.OutcomeCancelled})
		}
		require.NoError(t, idx.RecordRun(ctx, rec))
	}

	runs, err := idx.RecentRuns(ctx, "/src/app", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Stats.Cancelled)

	counts, err := idx.FailureCounts(ctx, "/src/app", 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"flaky": 2}, counts)
}

func TestOpenInMemoryAndReopen(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, mem.RecordRun(ctx, sampleRun("m", "/x", time.Now())))
	require.NoError(t, mem.Close())

	path := filepath.Join(t.TempDir(), "nested", "index.db")
	idx, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, idx.RecordRun(ctx, sampleRun("keep", "/x", time.Now())))
	require.NoError(t, idx.Close())

	// Reopening applies no migration twice and keeps the data.
	idx, err = Open(ctx, path)
	require.NoError(t, err)
	defer idx.Close()
	runs, err := idx.RecentRuns(ctx, "/x", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "keep", runs[0].ID)

	v, err := schemaVersion(ctx, idx.db)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestDiscoverIndex(t *testing.T) {
	root := t.TempDir()

	t.Run("default under state dir", func(t *testing.T) {
		t.Setenv(IndexPathEnv, "")
		p, err := DiscoverIndex(root, "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, ".digin", "index.db"), p)
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv(IndexPathEnv, ":memory:")
		p, err := DiscoverIndex(root, "")
		require.NoError(t, err)
		assert.Equal(t, ":memory:", p)
	})

	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(IndexPathEnv, ":memory:")
		explicit := filepath.Join(t.TempDir(), "runs.db")
		p, err := DiscoverIndex(root, explicit)
		require.NoError(t, err)
		assert.Equal(t, explicit, p)
	})

	t.Run("missing root", func(t *testing.T) {
		t.Setenv(IndexPathEnv, "")
		_, err := DiscoverIndex(filepath.Join(root, "nope"), "")
		assert.Error(t, err)
	})

	t.Run("file root", func(t *testing.T) {
		t.Setenv(IndexPathEnv, "")
		f := filepath.Join(root, "file.txt")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
		_, err := DiscoverIndex(f, "")
		assert.Error(t, err)
	})
}

func TestValidateAlignment(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		index   string
		wantErr bool
	}{
		{"memory", ":memory:", false},
		{"state dir", filepath.Join(root, ".digin", "index.db"), false},
		{"outside tree", filepath.Join(t.TempDir(), "index.db"), false},
		{"inside tree", filepath.Join(root, "src", "index.db"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAlignment(tt.index, root)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunLock(t *testing.T) {
	root := t.TempDir()

	lockPath, err := AcquireRunLock(root, "analyze", "test")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".digin", LockFileName), lockPath)

	held, err := ReadRunLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), held.PID)
	assert.Equal(t, "analyze", held.Command)

	// This process is alive, so a second acquire fails.
	_, err = AcquireRunLock(root, "watch", "test")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, ReleaseRunLock(lockPath))
	require.NoError(t, ReleaseRunLock(lockPath))
	require.NoError(t, ReleaseRunLock(""))

	_, err = AcquireRunLock(root, "watch", "test")
	require.NoError(t, err)
}

func TestRunLockTakesOverStaleLock(t *testing.T) {
	root := t.TempDir()
	lockPath, err := AcquireRunLock(root, "analyze", "test")
	require.NoError(t, err)

	// Rewrite the lock as if held by a process that no longer exists.
	host, err := os.Hostname()
	require.NoError(t, err)
	stale := `{"command":"analyze","pid":999999999,"hostname":"` + host + `","started_at":"2025-01-01T00:00:00Z","version":"old"}`
	require.NoError(t, os.WriteFile(lockPath, []byte(stale), 0644))

	_, err = AcquireRunLock(root, "analyze", "test")
	require.NoError(t, err)
	held, err := ReadRunLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), held.PID)
}
