package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/digin/internal/projectmap"
)

var mapCmd = &cobra.Command{
	Use:   "map [path]",
	Short: "Show an onboarding map built from cached digests",
	Long: `Build a project map from the digests already on disk: a tree of modules,
an ordered onboarding path and a recommended reading list. Nothing is
analyzed; run "digin analyze" first to produce digests.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot(args)
		settings, _ := loadSettings(cmd, root)
		logger := newLogger(cmd, settings)
		defer logger.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		output, _ := cmd.Flags().GetString("output")

		m, err := projectmap.NewBuilder(settings, logger.Logger).Build(root)
		if err != nil {
			fatal("%v", err)
		}
		for _, problem := range m.Validate() {
			fmt.Fprintf(os.Stderr, "%s %s\n", yellow("Warning:"), problem)
		}

		var out string
		if asJSON {
			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				fatal("failed to encode project map: %v", err)
			}
			out = string(data) + "\n"
		} else {
			out = m.Render()
		}

		if output == "" {
			fmt.Print(out)
			return
		}
		if err := os.WriteFile(output, []byte(out), 0644); err != nil {
			fatal("failed to write %s: %v", output, err)
		}
		fmt.Printf("%s Wrote project map to %s\n", green("✓"), output)
	},
}

func init() {
	mapCmd.Flags().Bool("json", false, "Emit the map as JSON")
	mapCmd.Flags().StringP("output", "O", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(mapCmd)
}
