// Package watch re-triggers digest runs when files under a root change.
// Events are filtered through the same ignore rules a run uses, and cache
// artifacts never count as changes, so a run's own writes do not trigger
// the next one.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

// DefaultDebounce is how long the tree must stay quiet before a change
// batch is delivered.
const DefaultDebounce = 500 * time.Millisecond

// Options tune a Watcher.
type Options struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// ChangeFunc receives the changed paths of one batch, sorted and
// deduplicated. It runs on the watcher goroutine; events arriving meanwhile
// are queued for the next batch.
type ChangeFunc func(ctx context.Context, changed []string)

// Watcher watches every in-scope directory under a root.
type Watcher struct {
	root      string
	traverser *traverse.Traverser
	fsw       *fsnotify.Watcher
	debounce  time.Duration
	logger    *slog.Logger
}

// New starts watching root and all of its in-scope subdirectories.
func New(root string, settings *config.Settings, opts Options, logger *slog.Logger) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	logger = logging.OrDiscard(logger)
	w := &Watcher{
		root:      root,
		traverser: traverse.New(settings, logger),
		fsw:       fsw,
		debounce:  opts.Debounce,
		logger:    logger.With("component", "watch"),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every in-scope directory below it.
func (w *Watcher) addTree(dir string) error {
	tree := w.traverser.BuildTree(dir)
	for i := 0; i < tree.Len(); i++ {
		path := tree.Node(traverse.NodeID(i)).Path
		if err := w.fsw.Add(path); err != nil {
			if path == w.root {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			w.logger.Debug("failed to watch directory", "dir", path, "error", err)
		}
	}
	return nil
}

// Watched returns the directories currently watched, sorted.
func (w *Watcher) Watched() []string {
	list := w.fsw.WatchList()
	sort.Strings(list)
	return list
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers debounced change batches to fn until ctx is done. It
// returns nil on cancellation and an error only if the watcher fails.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = true
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Debug("failed to watch new directory", "dir", ev.Name, "error", err)
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			clear(pending)
			w.logger.Info("changes settled", "paths", len(changed))
			fn(ctx, changed)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("file watcher overflowed, forcing a run", "error", err)
				pending[w.root] = true
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				}
				continue
			}
			return fmt.Errorf("file watcher failed: %w", err)
		}
	}
}

// relevant reports whether an event could change a digest.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	for _, dir := range parts[:len(parts)-1] {
		if w.traverser.ShouldIgnoreDirectory(dir) {
			return false
		}
	}
	if types.IsArtifactName(parts[len(parts)-1]) {
		return false
	}

	info, err := os.Lstat(ev.Name)
	switch {
	case err != nil:
		// Gone, so it may have been a file or a directory. Only names that
		// look like files are checked against the file rules.
		if filepath.Ext(ev.Name) == "" {
			return true
		}
		return !w.traverser.ShouldIgnoreFile(ev.Name)
	case info.IsDir():
		return !w.traverser.ShouldIgnoreDirectory(ev.Name)
	default:
		return !w.traverser.ShouldIgnoreFile(ev.Name)
	}
}
