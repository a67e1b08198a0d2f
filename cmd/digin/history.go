package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/storage"
	"github.com/steveyegge/digin/internal/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [path]",
	Short: "Show recorded runs for a project",
	Long: `List recent runs from the run index, or the per-directory outcomes of one
run with --run. Directories that failed repeatedly across recent runs are
listed at the end.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot(args)
		settings, _ := loadSettings(cmd, root)
		limit, _ := cmd.Flags().GetInt("limit")
		runID, _ := cmd.Flags().GetString("run")

		if lock, err := storage.ReadRunLock(filepath.Join(storage.StateDir(root), storage.LockFileName)); err == nil {
			fmt.Printf("%s %s run in progress (pid %d on %s, started %s)\n\n", yellow("!"),
				lock.Command, lock.PID, lock.Hostname, humanize.Time(lock.StartedAt))
		}

		path, err := storage.DiscoverIndex(root, settings.IndexPath)
		if err != nil {
			fatal("%v", err)
		}
		// Reading history must not create an index as a side effect.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No runs recorded")
			return
		}

		ctx, stop := signalContext()
		defer stop()
		idx, err := storage.Open(ctx, path)
		if err != nil {
			fatal("%v", err)
		}
		defer idx.Close()

		if runID != "" {
			outcomes, err := idx.RunOutcomes(ctx, runID)
			if err != nil {
				fatal("%v", err)
			}
			if len(outcomes) == 0 {
				fmt.Printf("No outcomes recorded for run %s\n", runID)
				return
			}
			fmt.Printf("%s %s\n\n", bold("Run"), runID)
			for _, o := range outcomes {
				fmt.Printf("  %s %-40s %s\n", outcomeIcon(o.Outcome), o.Path,
					gray(fmt.Sprintf("%s %v", o.Outcome, o.Duration.Round(time.Millisecond))))
				if o.Error != "" {
					fmt.Printf("      %s\n", red(o.Error))
				}
			}
			return
		}

		runs, err := idx.RecentRuns(ctx, root, limit)
		if err != nil {
			fatal("%v", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return
		}
		fmt.Printf("%s (%d)\n\n", bold("Recent runs"), len(runs))
		for _, r := range runs {
			status := green("complete")
			if r.Stats.Cancelled {
				status = yellow("cancelled")
			} else if r.Stats.Errors > 0 {
				status = red(fmt.Sprintf("%d errors", r.Stats.Errors))
			}
			fmt.Printf("  %s  %s  %s  %s\n", cyan(r.ID[:min(8, len(r.ID))]),
				humanize.Time(r.Stats.StartedAt), r.Provider, status)
			fmt.Printf("      %d dirs, %.0f%% cached, %d analyzed, %d aggregated in %v, root %s (%d%%)\n",
				r.Stats.DirectoriesVisited, r.Stats.HitRate()*100, r.Stats.AnalyzerCalls,
				r.Stats.Aggregations, r.Stats.Duration().Round(time.Millisecond), r.RootKind, r.RootConfidence)
		}

		failures, err := idx.FailureCounts(ctx, root, 0)
		if err != nil {
			fatal("%v", err)
		}
		var repeated []string
		for path, n := range failures {
			if n > 1 {
				repeated = append(repeated, path)
			}
		}
		if len(repeated) == 0 {
			return
		}
		sort.Slice(repeated, func(i, j int) bool {
			if failures[repeated[i]] != failures[repeated[j]] {
				return failures[repeated[i]] > failures[repeated[j]]
			}
			return repeated[i] < repeated[j]
		})
		fmt.Printf("\n%s\n", bold("Repeated failures:"))
		for _, path := range repeated {
			fmt.Printf("  %s %s %s\n", red("✗"), path, gray(fmt.Sprintf("(%d runs)", failures[path])))
		}
	},
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().String("run", "", "Show the directory outcomes of one run ID")
	rootCmd.AddCommand(historyCmd)
}

func outcomeIcon(o types.Outcome) string {
	switch o {
	case types.OutcomeHit:
		return gray("○")
	case types.OutcomeFailed:
		return red("✗")
	case types.OutcomeCancelled:
		return yellow("⚠")
	case types.OutcomeSkipped:
		return gray("-")
	default:
		return green("✓")
	}
}
