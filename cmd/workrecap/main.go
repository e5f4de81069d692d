// Package main provides the workrecap command-line interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "workrecap",
	Short: "Personal GitHub Enterprise activity recaps",
	Long: `workrecap collects your GitHub Enterprise activity, normalizes it into a
unified timeline and turns it into daily, weekly, monthly and yearly
Markdown recaps with an LLM.

The three stages (fetch, normalize, summarize) are idempotent per date:
re-running a range only touches dates whose inputs changed. Use 'pipeline'
to run all three at once, or run stages individually.

Examples:
  workrecap init                         # Scaffold config in the current directory
  workrecap pipeline yesterday           # Full pipeline for one day
  workrecap pipeline --catchup --weekly  # Catch up since the last run
  workrecap query "what did I ship in March?"
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		v := config.Viper()
		flags := cmd.Root().PersistentFlags()
		// Bind only flags the user set, so unset flags do not shadow the
		// config file with their empty defaults.
		for flag, key := range map[string]string{"data-dir": "data_dir", "log-level": "log.level"} {
			if f := flags.Lookup(flag); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		logging.Setup(v.GetString("log.file"), v.GetString("log.level"))
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
