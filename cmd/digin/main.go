package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "digin [path]",
	Short: "Build a cached, hierarchical understanding of a code tree",
	Long: `digin walks a directory tree bottom-up, asks a language model to describe
each leaf directory, merges those descriptions into parent digests and caches
every result next to the directory it describes. Re-runs only revisit what
changed.

Running "digin [path]" is the same as "digin analyze [path]".`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAnalyze(cmd, args)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Settings file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "No progress output or console logs")
	rootCmd.PersistentFlags().String("log-dir", "", "Also write JSON logs to this directory")
	addAnalyzeFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatal prints an error the way every command reports one and exits 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// resolveRoot returns the absolute, existing directory named by args.
func resolveRoot(args []string) string {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		fatal("failed to resolve %s: %v", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		fatal("cannot analyze %s: %v", root, err)
	}
	if !info.IsDir() {
		fatal("%s is not a directory", root)
	}
	return abs
}

// loadSettings layers defaults, config files and the global flags.
func loadSettings(cmd *cobra.Command, root string) (*config.Settings, []string) {
	configPath, _ := cmd.Flags().GetString("config")
	settings, applied, err := config.Load(root, configPath)
	if err != nil {
		fatal("failed to load settings: %v", err)
	}
	if cmd.Flags().Changed("verbose") {
		settings.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("log-dir") {
		settings.LogDir, _ = cmd.Flags().GetString("log-dir")
	}
	return settings, applied
}

// newLogger builds the run logger. Console logs go to stderr so that
// stdout only ever carries command output.
func newLogger(cmd *cobra.Command, settings *config.Settings) *logging.Logger {
	quiet, _ := cmd.Flags().GetBool("quiet")
	level := settings.LogLevel
	if settings.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level: level,
		Dir:   settings.LogDir,
		Quiet: quiet,
	})
	if err != nil {
		fatal("failed to set up logging: %v", err)
	}
	return logger
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)
