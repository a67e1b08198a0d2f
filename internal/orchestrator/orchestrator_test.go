package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/digin/internal/analyzer"
	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/types"
)

// fakeAnalyzer returns a canned digest per leaf and fails for directories
// whose name is listed in failFor.
type fakeAnalyzer struct {
	mu          sync.Mutex
	unavailable bool
	failFor     map[string]bool
	calls       []string
	onAnalyze   func(req analyzer.Request)
}

func (f *fakeAnalyzer) Name() string { return "fake" }

func (f *fakeAnalyzer) CheckAvailable(context.Context) error {
	if f.unavailable {
		return fmt.Errorf("%w: fake is offline", analyzer.ErrAnalysisUnavailable)
	}
	return nil
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (*types.Digest, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.RelPath)
	f.mu.Unlock()
	if f.onAnalyze != nil {
		f.onAnalyze(req)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", analyzer.ErrAnalysisFailed, err)
	}
	if f.failFor[req.Dir.Name] {
		return nil, fmt.Errorf("%w: model returned garbage", analyzer.ErrAnalysisFailed)
	}
	return (&types.Digest{
		Name:            req.Dir.Name,
		Path:            req.RelPath,
		Kind:            types.KindLib,
		Summary:         "Helpers for " + req.Dir.Name,
		Capabilities:    []string{req.Dir.Name + " helpers"},
		Confidence:      80,
		AnalyzedAt:      types.Now(),
		AnalyzerVersion: types.AnalyzerVersion(),
	}).Compact(), nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memRecorder struct {
	records []*types.RunRecord
	err     error
}

func (m *memRecorder) RecordRun(_ context.Context, rec *types.RunRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// buildTree creates root/{A/a.go, B/b.go, C/{c1/x.go, c2/y.go}, main.go}.
func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "A", "a.go"), "package a\n")
	writeFile(t, filepath.Join(root, "B", "b.go"), "package b\n")
	writeFile(t, filepath.Join(root, "C", "c1", "x.go"), "package c1\n")
	writeFile(t, filepath.Join(root, "C", "c2", "y.go"), "package c2\n")
	return root
}

func newOrchestrator(t *testing.T, fa *fakeAnalyzer, mutate func(*config.Settings), rec RunRecorder) *Orchestrator {
	t.Helper()
	s := config.DefaultSettings()
	if mutate != nil {
		mutate(s)
	}
	o, err := New(Config{Settings: s, Analyzer: fa, Recorder: rec})
	require.NoError(t, err)
	return o
}

func outcomesByPath(res *Result) map[string]types.Outcome {
	m := make(map[string]types.Outcome)
	for _, o := range res.Outcomes {
		m[o.Path] = o.Outcome
	}
	return m
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Analyzer: &fakeAnalyzer{}})
	assert.Error(t, err)
	_, err = New(Config{Settings: config.DefaultSettings()})
	assert.Error(t, err)
}

func TestRun_FullTree(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{}
	rec := &memRecorder{}
	o := newOrchestrator(t, fa, nil, rec)

	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 6, res.Stats.DirectoriesVisited)
	assert.Equal(t, 4, res.Stats.AnalyzerCalls)
	assert.Equal(t, 2, res.Stats.Aggregations)
	assert.Equal(t, 0, res.Stats.CacheHits)
	assert.Equal(t, 6, res.Stats.CacheMisses)
	assert.Equal(t, 0, res.Stats.Errors)
	assert.Equal(t, 5, res.Stats.FilesProcessed)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, types.KindLib, res.Digest.Kind)
	assert.Equal(t, ".", res.Digest.Path)
	assert.Contains(t, res.Digest.Evidence.Files, "A/digest.json")
	assert.Contains(t, res.Digest.Evidence.Files, "C/digest.json")
	assert.Contains(t, res.Digest.Evidence.Files, "main.go")
	assert.Len(t, res.Digests, 6)

	// Every directory carries both artifacts.
	for _, dir := range []string{"", "A", "B", "C", "C/c1", "C/c2"} {
		assert.FileExists(t, filepath.Join(root, dir, types.DigestFileName))
		assert.FileExists(t, filepath.Join(root, dir, types.FingerprintFileName))
	}

	// Children are always processed before their parent.
	pos := make(map[string]int)
	for i, out := range res.Outcomes {
		pos[out.Path] = i
	}
	assert.Less(t, pos["C/c1"], pos["C"])
	assert.Less(t, pos["C/c2"], pos["C"])
	assert.Less(t, pos["C"], pos["."])
	assert.Equal(t, len(res.Outcomes)-1, pos["."])

	require.Len(t, rec.records, 1)
	assert.Equal(t, res.RunID, rec.records[0].ID)
	assert.Equal(t, "fake", rec.records[0].Provider)
	assert.Equal(t, types.KindLib, rec.records[0].RootKind)
}

func TestRun_FailureIsolation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "a.go"), "package a\n")
	writeFile(t, filepath.Join(root, "B", "b.go"), "package b\n")

	fa := &fakeAnalyzer{failFor: map[string]bool{"B": true}}
	o := newOrchestrator(t, fa, nil, nil)

	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Errors)
	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeFailed, outcomes["B"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["."])

	assert.Equal(t, types.KindLib, res.Digest.Kind)
	assert.Equal(t, []string{"A/digest.json"}, res.Digest.Evidence.Files)
	assert.NoFileExists(t, filepath.Join(root, "B", types.DigestFileName))
	assert.NotContains(t, res.Digests, "B")
}

func TestRun_FailedDirectoryClearsStaleCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "a.go"), "package a\n")
	writeFile(t, filepath.Join(root, "B", "b.go"), "package b\n")

	o := newOrchestrator(t, &fakeAnalyzer{}, nil, nil)
	_, err := o.Run(context.Background(), root)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(root, "B", types.DigestFileName))

	// B changes and now fails; its old digest must not survive, and the
	// root must not be served from cache.
	writeFile(t, filepath.Join(root, "B", "b.go"), "package b\n\nfunc Broken() {}\n")
	o = newOrchestrator(t, &fakeAnalyzer{failFor: map[string]bool{"B": true}}, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeHit, outcomes["A"])
	assert.Equal(t, types.OutcomeFailed, outcomes["B"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["."])
	assert.NoFileExists(t, filepath.Join(root, "B", types.DigestFileName))
	assert.NoFileExists(t, filepath.Join(root, "B", types.FingerprintFileName))
	assert.Equal(t, []string{"A/digest.json"}, res.Digest.Evidence.Files)
}

func TestRun_Idempotent(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, nil, nil)

	first, err := o.Run(context.Background(), root)
	require.NoError(t, err)
	calls := fa.callCount()

	second, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, first.Stats.DirectoriesVisited, second.Stats.CacheHits)
	assert.Equal(t, 0, second.Stats.CacheMisses)
	assert.Equal(t, calls, fa.callCount())
	assert.Equal(t, first.Digest, second.Digest)
}

func TestRun_ChangePropagatesToAncestors(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, nil, nil)
	_, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "C", "c1", "x.go"), "package c1\n\nfunc X() {}\n")
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeAnalyzed, outcomes["C/c1"])
	assert.Equal(t, types.OutcomeHit, outcomes["C/c2"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["C"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["."])
	assert.Equal(t, types.OutcomeHit, outcomes["A"])
	assert.Equal(t, types.OutcomeHit, outcomes["B"])
}

func TestRun_AnalyzerUnavailableIsFatal(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{unavailable: true}
	o := newOrchestrator(t, fa, nil, nil)

	res, err := o.Run(context.Background(), root)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, analyzer.ErrAnalysisUnavailable)
	assert.Zero(t, fa.callCount())
	assert.NoFileExists(t, filepath.Join(root, types.DigestFileName))
}

func TestRun_ChildrenAllFailedTreatsParentAsLeaf(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "pkg.go"), "package pkg\n")
	writeFile(t, filepath.Join(root, "pkg", "bad", "bad.go"), "package bad\n")

	fa := &fakeAnalyzer{failFor: map[string]bool{"bad": true}}
	o := newOrchestrator(t, fa, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeFailed, outcomes["pkg/bad"])
	assert.Equal(t, types.OutcomeAnalyzed, outcomes["pkg"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["."])
	assert.Contains(t, fa.calls, "pkg")
}

func TestRun_FilelessParentWithFailedChildrenIsAnalyzed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "svc", "bad", "bad.go"), "package bad\n")
	writeFile(t, filepath.Join(root, "ok", "ok.go"), "package ok\n")

	fa := &fakeAnalyzer{failFor: map[string]bool{"bad": true}}
	o := newOrchestrator(t, fa, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeFailed, outcomes[filepath.Join("svc", "bad")])
	assert.Equal(t, types.OutcomeAnalyzed, outcomes["svc"])
	assert.Equal(t, types.OutcomeAnalyzed, outcomes["ok"])
	assert.Equal(t, types.OutcomeAggregated, outcomes["."])
	assert.Contains(t, fa.calls, "svc")
	assert.Equal(t, 0, res.Stats.Skipped)
	assert.Equal(t, 1, res.Stats.Errors)
	assert.FileExists(t, filepath.Join(root, "svc", types.DigestFileName))
}

func TestRun_RootWithOnlyFailedChildIsAnalyzed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "a.go"), "package a\n")

	fa := &fakeAnalyzer{failFor: map[string]bool{"A": true}}
	o := newOrchestrator(t, fa, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeAnalyzed, outcomesByPath(res)["."])
	assert.Equal(t, types.KindLib, res.Digest.Kind)
	assert.Equal(t, 80, res.Digest.Confidence)
}

func TestRun_EmptyDirectoriesAreSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "A", "a.go"), "package a\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	writeFile(t, filepath.Join(root, "assets", "logo.png"), "png")

	o := newOrchestrator(t, &fakeAnalyzer{}, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	outcomes := outcomesByPath(res)
	assert.Equal(t, types.OutcomeSkipped, outcomes["empty"])
	assert.Equal(t, types.OutcomeSkipped, outcomes["assets"])
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Equal(t, 0, res.Stats.Errors)
	assert.NoFileExists(t, filepath.Join(root, "empty", types.DigestFileName))
	assert.Equal(t, []string{"A/digest.json"}, res.Digest.Evidence.Files)
}

func TestRun_EmptyRootYieldsEmptyDigest(t *testing.T) {
	root := t.TempDir()
	o := newOrchestrator(t, &fakeAnalyzer{}, nil, nil)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, types.KindUnknown, res.Digest.Kind)
	assert.Equal(t, 0, res.Digest.Confidence)
	assert.Equal(t, 1, res.Stats.Skipped)
}

func TestRun_CacheDisabled(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, func(s *config.Settings) { s.CacheEnabled = false }, nil)

	_, err := o.Run(context.Background(), root)
	require.NoError(t, err)
	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Stats.CacheHits)
	assert.Equal(t, 0, res.Stats.CacheMisses)
	assert.Equal(t, 8, fa.callCount())
	assert.NoFileExists(t, filepath.Join(root, types.DigestFileName))
	assert.NoFileExists(t, filepath.Join(root, "A", types.FingerprintFileName))
}

func TestRun_Cancellation(t *testing.T) {
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	fa := &fakeAnalyzer{}
	fa.onAnalyze = func(req analyzer.Request) {
		if req.RelPath == "A" {
			cancel()
		}
	}
	o := newOrchestrator(t, fa, func(s *config.Settings) { s.ParallelWorkers = 1 }, nil)

	res, err := o.Run(ctx, root)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.True(t, res.Stats.Cancelled)
	assert.Equal(t, types.KindUnknown, res.Digest.Kind)
	assert.Equal(t, 0, res.Stats.Errors)
	assert.Equal(t, types.OutcomeCancelled, outcomesByPath(res)["A"])
	assert.NoFileExists(t, filepath.Join(root, types.DigestFileName))
	assert.Contains(t, res.Digest.Summary, "cancelled")

	// Directories that never started are still accounted for.
	require.Len(t, res.Outcomes, 6)
	for _, out := range res.Outcomes {
		assert.Equal(t, types.OutcomeCancelled, out.Outcome, out.Path)
	}
	assert.Equal(t, 1, res.Stats.DirectoriesVisited)
}

func TestRun_CancelledRunRecordsEveryDirectory(t *testing.T) {
	root := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	fa := &fakeAnalyzer{}
	fa.onAnalyze = func(req analyzer.Request) {
		if req.RelPath == "B" {
			cancel()
		}
	}
	rec := &memRecorder{}
	o := newOrchestrator(t, fa, func(s *config.Settings) { s.ParallelWorkers = 1 }, rec)

	_, err := o.Run(ctx, root)
	require.ErrorIs(t, err, ErrCancelled)
	require.Len(t, rec.records, 1)

	got := make(map[string]types.Outcome)
	for _, out := range rec.records[0].Outcomes {
		got[out.Path] = out.Outcome
	}
	assert.Equal(t, map[string]types.Outcome{
		"A":                      types.OutcomeAnalyzed,
		"B":                      types.OutcomeCancelled,
		filepath.Join("C", "c1"): types.OutcomeCancelled,
		filepath.Join("C", "c2"): types.OutcomeCancelled,
		"C":                      types.OutcomeCancelled,
		".":                      types.OutcomeCancelled,
	}, got)
	assert.True(t, rec.records[0].Stats.Cancelled)
}

func TestRun_ParallelWorkersKeepOrdering(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			writeFile(t, filepath.Join(root, fmt.Sprintf("m%d", i), fmt.Sprintf("s%d", j), "f.go"), "package f\n")
		}
	}
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, func(s *config.Settings) { s.ParallelWorkers = 4 }, nil)

	res, err := o.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Stats.DirectoriesVisited)
	assert.Equal(t, 18, res.Stats.AnalyzerCalls)
	assert.Equal(t, 7, res.Stats.Aggregations)

	pos := make(map[string]int)
	for i, out := range res.Outcomes {
		pos[out.Path] = i
	}
	for path, p := range pos {
		if path == "." {
			continue
		}
		parent := filepath.Dir(path)
		assert.Less(t, p, pos[parent], "%s must finish before %s", path, parent)
	}
	assert.Len(t, res.Digest.Evidence.Files, 6)
}

func TestRun_RecorderFailureIsNotFatal(t *testing.T) {
	root := buildTree(t)
	rec := &memRecorder{err: errors.New("disk full")}
	o := newOrchestrator(t, &fakeAnalyzer{}, nil, rec)
	_, err := o.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, rec.records, 1)
}

func TestRun_Hooks(t *testing.T) {
	root := buildTree(t)
	var started int
	var events []Event
	s := config.DefaultSettings()
	o, err := New(Config{
		Settings: s,
		Analyzer: &fakeAnalyzer{},
		Hooks: Hooks{
			OnStart:     func(_ string, total int) { started = total },
			OnDirectory: func(e Event) { events = append(events, e) },
		},
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 6, started)
	require.Len(t, events, 6)
	assert.Equal(t, 6, events[5].Done)
	assert.Equal(t, ".", events[5].RelPath)
}

func TestDryRun(t *testing.T) {
	root := buildTree(t)
	fa := &fakeAnalyzer{}
	o := newOrchestrator(t, fa, nil, nil)

	sum, err := o.DryRun(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 6, sum.Directories)
	assert.Equal(t, 4, sum.Leaves)
	assert.Equal(t, 2, sum.Parents)
	assert.Equal(t, 2, sum.MaxDepth)
	assert.Equal(t, 5, sum.EstimatedFiles)
	assert.Equal(t, ".", sum.Order[len(sum.Order)-1])
	assert.True(t, strings.HasPrefix(sum.Describe(), "Would process 6 directories"))

	// Nothing was analyzed or written.
	assert.Zero(t, fa.callCount())
	var artifacts []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && types.IsArtifactName(d.Name()) {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	sort.Strings(artifacts)
	assert.Empty(t, artifacts)
}
