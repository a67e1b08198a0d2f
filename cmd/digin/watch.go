package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/analyzer"
	"github.com/steveyegge/digin/internal/cache"
	"github.com/steveyegge/digin/internal/orchestrator"
	"github.com/steveyegge/digin/internal/storage"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
	"github.com/steveyegge/digin/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep digests current while files change",
	Long: `Run once, then watch every in-scope directory and re-run after changes
settle. Unchanged directories are cache hits, so each re-run only analyzes
what was edited. Stop with Ctrl+C.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot(args)
		settings, _ := loadSettings(cmd, root)
		if err := settings.Validate(); err != nil {
			fatal("%v", err)
		}
		debounce, _ := cmd.Flags().GetDuration("debounce")
		quiet, _ := cmd.Flags().GetBool("quiet")

		logger := newLogger(cmd, settings)
		defer logger.Close()

		ctx, stop := signalContext()
		defer stop()

		leaf, err := analyzer.New(settings, logger.Logger)
		if err != nil {
			fatal("%v", err)
		}
		lockPath, err := storage.AcquireRunLock(root, "watch", types.Version)
		if err != nil {
			fatal("%v", err)
		}
		defer func() { _ = storage.ReleaseRunLock(lockPath) }()

		traverser := traverse.New(settings, logger.Logger)
		var recorder orchestrator.RunRecorder
		if idx := openIndex(ctx, root, settings, logger.Logger); idx != nil {
			defer idx.Close()
			recorder = idx
		}
		orch, err := orchestrator.New(orchestrator.Config{
			Settings:  settings,
			Traverser: traverser,
			Cache:     cache.New(settings, traverser, logger.Logger),
			Analyzer:  leaf,
			Recorder:  recorder,
			Logger:    logger.Logger,
		})
		if err != nil {
			_ = storage.ReleaseRunLock(lockPath)
			fatal("%v", err)
		}

		if !runOnce(ctx, orch, root, quiet) {
			_ = storage.ReleaseRunLock(lockPath)
			os.Exit(1)
		}

		w, err := watch.New(root, settings, watch.Options{Debounce: debounce}, logger.Logger)
		if err != nil {
			_ = storage.ReleaseRunLock(lockPath)
			fatal("%v", err)
		}
		defer w.Close()
		if !quiet {
			fmt.Fprintf(os.Stderr, "\n%s %d directories under %s (Ctrl+C to stop)\n",
				cyan("Watching"), len(w.Watched()), root)
		}

		err = w.Run(ctx, func(ctx context.Context, changed []string) {
			if !quiet {
				fmt.Fprintf(os.Stderr, "\n%s %s\n", cyan("Changed:"), describeChanges(root, changed))
			}
			runOnce(ctx, orch, root, quiet)
		})
		if err != nil {
			_ = storage.ReleaseRunLock(lockPath)
			fatal("%v", err)
		}
	},
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a re-run")
	rootCmd.AddCommand(watchCmd)
}

// runOnce runs the orchestrator and reports the outcome on stderr. It
// returns false when the run could not start at all.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, root string, quiet bool) bool {
	res, err := orch.Run(ctx, root)
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		return true
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return false
	}
	if quiet {
		return true
	}
	printStats(os.Stderr, res.Stats)
	if res.Digest != nil {
		fmt.Fprintf(os.Stderr, "  Root: %s %s\n", cyan(string(res.Digest.Kind)),
			gray(fmt.Sprintf("(%d%%)", res.Digest.Confidence)))
	}
	return true
}

// describeChanges lists up to three changed paths relative to root.
func describeChanges(root string, changed []string) string {
	const shown = 3
	var out string
	for i, p := range changed {
		if i == shown {
			out += fmt.Sprintf(" and %d more", len(changed)-shown)
			break
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		if i > 0 {
			out += ", "
		}
		out += rel
	}
	return out
}
