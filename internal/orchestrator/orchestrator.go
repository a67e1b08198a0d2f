// Package orchestrator drives a digest run: it walks the tree bottom-up,
// serves directories from cache where it can, sends leaves to the leaf
// analyzer, aggregates parents and persists every new digest.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/digin/internal/aggregate"
	"github.com/steveyegge/digin/internal/analyzer"
	"github.com/steveyegge/digin/internal/cache"
	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

// ErrCancelled is returned together with a partial Result when the run was
// stopped before every directory was processed.
var ErrCancelled = errors.New("run cancelled")

// RunRecorder persists a summary of every finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec *types.RunRecord) error
}

// Event is reported to Hooks.OnDirectory after each directory finishes.
type Event struct {
	Path     string
	RelPath  string
	Outcome  types.Outcome
	Kind     types.Kind
	Err      error
	Duration time.Duration
	Done     int // directories finished so far, including this one
	Total    int
}

// Hooks let callers observe a run. Callbacks may be invoked from several
// goroutines but never concurrently.
type Hooks struct {
	OnStart     func(root string, total int)
	OnDirectory func(Event)
}

// Config wires the orchestrator's collaborators. Settings and Analyzer are
// required; the rest default from Settings.
type Config struct {
	Settings   *config.Settings
	Traverser  *traverse.Traverser
	Cache      *cache.Store
	Aggregator *aggregate.Aggregator
	Analyzer   analyzer.LeafAnalyzer
	Recorder   RunRecorder
	Logger     *slog.Logger
	Hooks      Hooks
}

// Orchestrator runs the digest pipeline.
type Orchestrator struct {
	settings   *config.Settings
	traverser  *traverse.Traverser
	cache      *cache.Store
	aggregator *aggregate.Aggregator
	analyzer   analyzer.LeafAnalyzer
	recorder   RunRecorder
	logger     *slog.Logger
	hooks      Hooks
}

// New validates cfg and fills in default collaborators.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("orchestrator: settings are required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("orchestrator: leaf analyzer is required")
	}
	logger := logging.OrDiscard(cfg.Logger)
	o := &Orchestrator{
		settings:   cfg.Settings,
		traverser:  cfg.Traverser,
		cache:      cfg.Cache,
		aggregator: cfg.Aggregator,
		analyzer:   cfg.Analyzer,
		recorder:   cfg.Recorder,
		logger:     logger.With("component", "orchestrator"),
		hooks:      cfg.Hooks,
	}
	if o.traverser == nil {
		o.traverser = traverse.New(cfg.Settings, logger)
	}
	if o.cache == nil {
		o.cache = cache.New(cfg.Settings, o.traverser, logger)
	}
	if o.aggregator == nil {
		o.aggregator = aggregate.New(cfg.Settings)
	}
	return o, nil
}

// Result is the outcome of one run.
type Result struct {
	RunID    string
	Root     string
	Digest   *types.Digest
	Stats    types.RunStatistics
	Outcomes []types.DirectoryOutcome // in processing order

	// Digests holds every digest produced or loaded, keyed by
	// root-relative path.
	Digests map[string]*types.Digest
}

// run is the mutable state of one Run call. mu guards everything below it.
type run struct {
	id    string
	root  string
	tree  *traverse.Tree
	total int

	mu        sync.Mutex
	completed map[traverse.NodeID]*types.Digest
	visited   map[traverse.NodeID]bool
	stats     types.RunStatistics
	outcomes  []types.DirectoryOutcome
}

// Run digests the tree under root and returns the root digest. The only
// fatal error is an unavailable leaf analyzer at the start. Per-directory
// failures are counted and logged; the run continues without them. If ctx
// is cancelled the partial Result is returned with ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, root string) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := o.analyzer.CheckAvailable(ctx); err != nil {
		return nil, err
	}

	r := &run{
		id:        uuid.NewString(),
		root:      root,
		tree:      o.traverser.BuildTree(root),
		completed: make(map[traverse.NodeID]*types.Digest),
		visited:   make(map[traverse.NodeID]bool),
	}
	r.total = r.tree.Len()
	r.stats.StartedAt = time.Now()

	logger := o.logger.With("run_id", r.id)
	logger.Info("run started",
		"root", root,
		"directories", r.total,
		"provider", o.analyzer.Name(),
		"cache", o.settings.CacheEnabled,
		"workers", o.settings.ParallelWorkers)
	if o.hooks.OnStart != nil {
		o.hooks.OnStart(root, r.total)
	}

	for _, level := range r.tree.Levels() {
		if ctx.Err() != nil {
			break
		}
		g := new(errgroup.Group)
		g.SetLimit(max(1, o.settings.ParallelWorkers))
		for _, id := range level {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				o.processDirectory(ctx, r, id, logger)
				return nil
			})
		}
		_ = g.Wait()
	}

	r.stats.EndedAt = time.Now()
	r.stats.Cancelled = ctx.Err() != nil
	if r.stats.Cancelled {
		r.markUnvisitedCancelled()
	}

	res := &Result{
		RunID:    r.id,
		Root:     root,
		Stats:    r.stats,
		Outcomes: r.outcomes,
		Digests:  make(map[string]*types.Digest, len(r.completed)),
	}
	for id, d := range r.completed {
		res.Digests[r.tree.Node(id).Rel] = d
	}
	if d, ok := r.completed[r.tree.Root().ID]; ok {
		res.Digest = d
	} else {
		reason := "No digest could be produced for this directory."
		if r.stats.Cancelled {
			reason = "Run cancelled before the root directory was digested."
		}
		res.Digest = types.EmptyDigest(root, ".", reason)
	}

	logger.Info("run finished", "summary", r.stats.Summary())
	o.record(ctx, res, logger)

	if r.stats.Cancelled {
		return res, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return res, nil
}

// processDirectory takes one directory from cache-check to done or failed.
// All children of id are finished before it is called.
func (o *Orchestrator) processDirectory(ctx context.Context, r *run, id traverse.NodeID, logger *slog.Logger) {
	node := r.tree.Node(id)
	start := time.Now()
	logger = logger.With("dir", node.Rel)

	outcome, digest, err := o.resolve(ctx, r, node, logger)

	r.mu.Lock()
	r.visited[id] = true
	r.stats.DirectoriesVisited++
	switch outcome {
	case types.OutcomeHit:
		r.stats.CacheHits++
	case types.OutcomeAnalyzed:
		r.stats.AnalyzerCalls++
	case types.OutcomeAggregated:
		r.stats.Aggregations++
	case types.OutcomeFailed:
		r.stats.Errors++
	case types.OutcomeSkipped:
		r.stats.Skipped++
	}
	if outcome != types.OutcomeHit && o.settings.CacheEnabled {
		r.stats.CacheMisses++
	}
	if digest != nil {
		r.completed[id] = digest
	}
	out := types.DirectoryOutcome{
		Path:     node.Rel,
		Outcome:  outcome,
		Duration: time.Since(start),
	}
	if digest != nil {
		out.Kind = digest.Kind
	}
	if err != nil {
		out.Error = err.Error()
	}
	r.outcomes = append(r.outcomes, out)
	done := len(r.outcomes)
	if o.hooks.OnDirectory != nil {
		o.hooks.OnDirectory(Event{
			Path:     node.Path,
			RelPath:  node.Rel,
			Outcome:  outcome,
			Kind:     out.Kind,
			Err:      err,
			Duration: out.Duration,
			Done:     done,
			Total:    r.total,
		})
	}
	r.mu.Unlock()

	switch outcome {
	case types.OutcomeFailed:
		logger.Warn("directory failed", "error", err)
	case types.OutcomeCancelled:
		logger.Debug("directory cancelled", "error", err)
	default:
		logger.Debug("directory done", "outcome", string(outcome), "duration", out.Duration)
	}
}

// resolve produces the digest for one directory and says how it got it.
func (o *Orchestrator) resolve(ctx context.Context, r *run, node *traverse.Node, logger *slog.Logger) (types.Outcome, *types.Digest, error) {
	if o.settings.CacheEnabled {
		if d, ok := o.cache.Get(node.Path); ok {
			return types.OutcomeHit, d, nil
		}
	}

	info := o.traverser.CollectDirectoryInfo(node.Path)
	children := r.childDigests(node)

	r.mu.Lock()
	r.stats.FilesProcessed += len(info.Files)
	r.mu.Unlock()

	var (
		digest  *types.Digest
		outcome types.Outcome
		err     error
	)
	switch {
	case info.IsEmpty():
		o.discard(node.Path, logger)
		return types.OutcomeSkipped, nil, nil
	case len(children) == 0:
		// Also covers parents whose children all failed or were skipped,
		// even when the parent has no files of its own.
		outcome = types.OutcomeAnalyzed
		digest, err = o.analyzer.Analyze(ctx, analyzer.Request{Dir: info, RelPath: node.Rel})
	default:
		outcome = types.OutcomeAggregated
		digest, err = o.aggregator.Aggregate(node.Path, node.Rel, children, info.Files)
	}
	if err == nil && digest == nil {
		err = fmt.Errorf("no digest returned for %s", node.Rel)
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.OutcomeCancelled, nil, err
		}
		o.discard(node.Path, logger)
		return types.OutcomeFailed, nil, err
	}

	if o.settings.CacheEnabled {
		if _, err := o.cache.Save(node.Path, digest); err != nil {
			o.discard(node.Path, logger)
			return types.OutcomeFailed, nil, fmt.Errorf("failed to persist digest: %w", err)
		}
	}
	return outcome, digest, nil
}

// discard removes stale artifacts of a directory that produced no digest
// this run, so that ancestors hash it as having none.
func (o *Orchestrator) discard(dir string, logger *slog.Logger) {
	if !o.settings.CacheEnabled {
		return
	}
	if _, err := o.cache.Clear(dir, false); err != nil {
		logger.Warn("failed to clear stale cache entry", "error", err)
	}
}

// markUnvisitedCancelled records a cancelled outcome, in processing order,
// for every directory the run never started.
func (r *run) markUnvisitedCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, level := range r.tree.Levels() {
		for _, id := range level {
			if r.visited[id] {
				continue
			}
			r.visited[id] = true
			r.outcomes = append(r.outcomes, types.DirectoryOutcome{
				Path:    r.tree.Node(id).Rel,
				Outcome: types.OutcomeCancelled,
				Error:   "run cancelled before the directory was started",
			})
		}
	}
}

// childDigests returns the completed digests of node's children in path
// order. Failed and skipped children are absent.
func (r *run) childDigests(node *traverse.Node) []*types.Digest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Digest
	for _, c := range node.Children {
		if d, ok := r.completed[c]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (o *Orchestrator) record(ctx context.Context, res *Result, logger *slog.Logger) {
	if o.recorder == nil {
		return
	}
	rec := &types.RunRecord{
		ID:             res.RunID,
		Root:           res.Root,
		Provider:       o.analyzer.Name(),
		Stats:          res.Stats,
		RootKind:       res.Digest.Kind,
		RootConfidence: res.Digest.Confidence,
		Outcomes:       res.Outcomes,
	}
	// A cancelled run is still worth recording.
	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}
