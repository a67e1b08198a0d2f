package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/cache"
	"github.com/steveyegge/digin/internal/storage"
	"github.com/steveyegge/digin/internal/traverse"
	"github.com/steveyegge/digin/internal/types"
)

var clearCmd = &cobra.Command{
	Use:   "clear [path]",
	Short: "Remove cached digests",
	Long: `Remove digest.json and .digin_hash from path and, unless --recursive=false,
from every directory below it. The next run rebuilds what was cleared.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot(args)
		settings, _ := loadSettings(cmd, root)
		recursive, _ := cmd.Flags().GetBool("recursive")

		lockPath, err := storage.AcquireRunLock(root, "clear", types.Version)
		if err != nil {
			fatal("%v", err)
		}
		store := cache.New(settings, traverse.New(settings, nil), nil)
		n, err := store.Clear(root, recursive)
		if relErr := storage.ReleaseRunLock(lockPath); relErr != nil && err == nil {
			err = relErr
		}
		if err != nil {
			fatal("failed to clear cache: %v", err)
		}

		if n == 0 {
			fmt.Println("No cached digests found")
			return
		}
		fmt.Printf("%s Cleared cached digests in %d directories\n", green("✓"), n)
	},
}

func init() {
	clearCmd.Flags().BoolP("recursive", "r", true, "Also clear every directory below path")
	rootCmd.AddCommand(clearCmd)
}
