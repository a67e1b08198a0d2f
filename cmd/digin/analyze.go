package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/analyzer"
	"github.com/steveyegge/digin/internal/cache"
	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/orchestrator"
	"github.com/steveyegge/digin/internal/storage"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

// Output formats for the root digest.
const (
	formatJSON    = "json"
	formatTree    = "tree"
	formatSummary = "summary"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [path]",
	Short: "Digest a directory tree (default command)",
	Long: `Digest every in-scope directory under path (default: the current directory),
bottom-up, and print the root digest.

Unchanged directories are served from the digest.json/.digin_hash files left
by earlier runs. Use --force to rebuild everything or --no-cache to run
without reading or writing cache files.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(cmd, args)
	},
}

func init() {
	addAnalyzeFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().String("provider", "", "Leaf analyzer: claude, gemini or anthropic")
	cmd.Flags().String("model", "", "Model for the leaf analyzer")
	cmd.Flags().Bool("force", false, "Clear cached digests first and rebuild everything")
	cmd.Flags().Bool("no-cache", false, "Neither read nor write cache files")
	cmd.Flags().Bool("dry-run", false, "Show what would be processed without analyzing anything")
	cmd.Flags().StringP("output-format", "o", formatSummary, "Root digest output: json, tree or summary")
	cmd.Flags().Bool("narrative", false, "Add reader-facing narratives to aggregated digests")
	cmd.Flags().IntP("workers", "w", 0, "Directories processed in parallel per level")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the run index")
}

// applyAnalyzeFlags copies explicitly set flags over the loaded settings.
func applyAnalyzeFlags(cmd *cobra.Command, s *config.Settings) {
	f := cmd.Flags()
	if f.Changed("provider") {
		s.Provider, _ = f.GetString("provider")
	}
	if f.Changed("model") {
		s.ProviderOptions.Model, _ = f.GetString("model")
	}
	if f.Changed("narrative") {
		s.NarrativeEnabled, _ = f.GetBool("narrative")
	}
	if f.Changed("workers") {
		s.ParallelWorkers, _ = f.GetInt("workers")
	}
	if noCache, _ := f.GetBool("no-cache"); noCache {
		s.CacheEnabled = false
	}
}

func runAnalyze(cmd *cobra.Command, args []string) {
	root := resolveRoot(args)
	settings, _ := loadSettings(cmd, root)
	applyAnalyzeFlags(cmd, settings)
	if err := settings.Validate(); err != nil {
		fatal("%v", err)
	}

	format, _ := cmd.Flags().GetString("output-format")
	switch format {
	case formatJSON, formatTree, formatSummary:
	default:
		fatal("unknown output format %q (want json, tree or summary)", format)
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	logger := newLogger(cmd, settings)
	defer logger.Close()

	ctx, stop := signalContext()
	defer stop()

	traverser := traverse.New(settings, logger.Logger)
	store := cache.New(settings, traverser, logger.Logger)

	if dryRun {
		// Dry runs never need a working provider.
		orch, err := orchestrator.New(orchestrator.Config{
			Settings:  settings,
			Traverser: traverser,
			Cache:     store,
			Analyzer:  unavailableAnalyzer{name: settings.Provider},
			Logger:    logger.Logger,
		})
		if err != nil {
			fatal("%v", err)
		}
		printDryRun(ctx, orch, root)
		return
	}

	leaf, err := analyzer.New(settings, logger.Logger)
	if err != nil {
		fatal("%v", err)
	}

	lockPath, err := storage.AcquireRunLock(root, "analyze", types.Version)
	if err != nil {
		fatal("%v", err)
	}
	// os.Exit skips deferred calls, so every exit below releases the lock
	// through unlock first.
	unlock := func() {
		if err := storage.ReleaseRunLock(lockPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	defer unlock()

	if force && settings.CacheEnabled {
		n, err := store.Clear(root, true)
		if err != nil {
			unlock()
			fatal("failed to clear cache: %v", err)
		}
		if !quiet && n > 0 {
			fmt.Fprintf(os.Stderr, "%s Cleared %d cached digests\n", yellow("!"), n)
		}
	}

	var recorder orchestrator.RunRecorder
	if !noHistory {
		if idx := openIndex(ctx, root, settings, logger.Logger); idx != nil {
			defer idx.Close()
			recorder = idx
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Settings:  settings,
		Traverser: traverser,
		Cache:     store,
		Analyzer:  leaf,
		Recorder:  recorder,
		Logger:    logger.Logger,
		Hooks:     progressHooks(quiet),
	})
	if err != nil {
		unlock()
		fatal("%v", err)
	}

	res, err := orch.Run(ctx, root)
	switch {
	case errors.Is(err, orchestrator.ErrCancelled):
		fmt.Fprintf(os.Stderr, "\n%s Run cancelled, printing partial results\n", yellow("!"))
	case err != nil:
		unlock()
		fatal("%v", err)
	}

	printResult(os.Stdout, res, format)
	if !quiet {
		printStats(os.Stderr, res.Stats)
	}
	if res.Stats.Cancelled {
		unlock()
		os.Exit(1)
	}
}

// openIndex opens the run index for root. History is optional, so every
// failure is a warning.
func openIndex(ctx context.Context, root string, settings *config.Settings, logger *slog.Logger) *storage.Index {
	path, err := storage.DiscoverIndex(root, settings.IndexPath)
	if err == nil {
		err = storage.ValidateAlignment(path, root)
	}
	if err != nil {
		logger.Warn("run history disabled", "error", err)
		return nil
	}
	idx, err := storage.Open(ctx, path)
	if err != nil {
		logger.Warn("run history disabled", "error", err)
		return nil
	}
	return idx
}

// progressHooks prints one status line per finished directory to stderr.
func progressHooks(quiet bool) orchestrator.Hooks {
	if quiet {
		return orchestrator.Hooks{}
	}
	return orchestrator.Hooks{
		OnStart: func(root string, total int) {
			fmt.Fprintf(os.Stderr, "%s %s (%d directories)\n", cyan("Digesting"), root, total)
		},
		OnDirectory: func(ev orchestrator.Event) {
			icon, label := green("✓"), string(ev.Outcome)
			switch ev.Outcome {
			case types.OutcomeHit:
				icon = gray("○")
			case types.OutcomeSkipped:
				icon = gray("-")
			case types.OutcomeFailed:
				icon, label = red("✗"), fmt.Sprintf("failed: %v", ev.Err)
			case types.OutcomeCancelled:
				icon = yellow("⚠")
			}
			kind := ""
			if ev.Kind != "" {
				kind = " " + cyan(string(ev.Kind))
			}
			fmt.Fprintf(os.Stderr, "  [%d/%d] %s %s%s %s\n", ev.Done, ev.Total, icon, ev.RelPath, kind,
				gray(fmt.Sprintf("(%s, %v)", label, ev.Duration.Round(time.Millisecond))))
		},
	}
}

func printDryRun(ctx context.Context, orch *orchestrator.Orchestrator, root string) {
	sum, err := orch.DryRun(ctx, root)
	if err != nil {
		fatal("dry run failed: %v", err)
	}
	fmt.Printf("%s\n", yellow("DRY RUN - nothing will be analyzed or written"))
	fmt.Println(sum.Describe())
	fmt.Printf("  Estimated size: %s (from %d sampled directories)\n",
		humanize.Bytes(uint64(sum.EstimatedBytes)), sum.SampledDirectories)
	fmt.Printf("\n%s\n", bold("Processing order:"))
	for i, rel := range sum.Order {
		fmt.Printf("  %3d. %s\n", i+1, rel)
	}
}

// unavailableAnalyzer stands in for the provider during dry runs.
type unavailableAnalyzer struct{ name string }

func (u unavailableAnalyzer) Name() string { return u.name }

func (u unavailableAnalyzer) CheckAvailable(context.Context) error {
	return fmt.Errorf("%w: dry run", analyzer.ErrAnalysisUnavailable)
}

func (u unavailableAnalyzer) Analyze(context.Context, analyzer.Request) (*types.Digest, error) {
	return nil, fmt.Errorf("%w: dry run", analyzer.ErrAnalysisUnavailable)
}
