package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage digin settings files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Create a settings file",
	Long: `Write an annotated .digin.yaml into path (default: the current directory),
or the per-user settings file with --global. With --provider or --workers
only those values are written.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		global, _ := cmd.Flags().GetBool("global")
		force, _ := cmd.Flags().GetBool("force")

		var target string
		if global {
			target = config.UserConfigPath()
			if target == "" {
				fatal("cannot determine the user config directory")
			}
		} else {
			target = filepath.Join(resolveRoot(args), config.ProjectFileNames[0])
		}
		if _, err := os.Stat(target); err == nil && !force {
			fatal("%s already exists (use --force to overwrite)", target)
		}

		if cmd.Flags().Changed("provider") || cmd.Flags().Changed("workers") {
			cf := &config.ConfigFile{}
			if cmd.Flags().Changed("provider") {
				provider, _ := cmd.Flags().GetString("provider")
				cf.Provider = &provider
			}
			if cmd.Flags().Changed("workers") {
				workers, _ := cmd.Flags().GetInt("workers")
				cf.ParallelWorkers = &workers
			}
			check := config.DefaultSettings()
			if err := cf.Apply(check); err != nil {
				fatal("%v", err)
			}
			if err := check.Validate(); err != nil {
				fatal("%v", err)
			}
			if err := config.SaveConfigFile(target, cf); err != nil {
				fatal("%v", err)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				fatal("failed to create %s: %v", filepath.Dir(target), err)
			}
			if err := os.WriteFile(target, []byte(config.ExampleConfigFile()), 0644); err != nil {
				fatal("failed to write %s: %v", target, err)
			}
		}
		fmt.Printf("%s Created %s\n", green("✓"), target)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective settings for a project",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot(args)
		settings, applied := loadSettings(cmd, root)

		if len(applied) == 0 {
			fmt.Printf("%s built-in defaults\n\n", gray("Source:"))
		} else {
			for _, path := range applied {
				fmt.Printf("%s %s\n", gray("Source:"), path)
			}
			fmt.Println()
		}
		fmt.Print(settings.Describe())
	},
}

func init() {
	configInitCmd.Flags().Bool("global", false, "Write the per-user settings file instead")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().String("provider", "", "Leaf analyzer provider to write")
	configInitCmd.Flags().Int("workers", 0, "Parallel workers to write")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
