package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/state"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [date]",
	Short: "Fetch raw GitHub activity for a date or range",
	Long: `Fetch your GitHub Enterprise activity into the raw data layer.

Collects pull requests you authored, reviewed or commented on, plus your
commits and issues, and writes them as JSON under data/raw/. Dates that
were already fetched are skipped unless --force is set.

Examples:
  workrecap fetch 2025-02-16
  workrecap fetch yesterday
  workrecap fetch --since 2025-02-01 --until 2025-02-28
  workrecap fetch --catchup                  # Resume from the last checkpoint
  workrecap fetch yesterday --types prs,commits
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		catchup, _ := cmd.Flags().GetBool("catchup")
		force, _ := cmd.Flags().GetBool("force")
		workers, _ := cmd.Flags().GetInt("workers")
		typeList, _ := cmd.Flags().GetStringSlice("types")

		svc, err := openServices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		kinds, err := parseTypes(typeList)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		from, to, err := resolveRange(args, since, until, catchup, svc, state.KeyLastFetch)
		if errors.Is(err, errUpToDate) {
			fmt.Println("Already up to date.")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		if from == to && !force {
			dir, err := svc.fetcher.Fetch(ctx, from, kinds)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Fetched %s → %s\n", from, dir)
			return
		}

		results, err := svc.fetcher.FetchRange(ctx, from, to, kinds, force, workers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if printResults(results) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	fetchCmd.Flags().String("since", "", "Range start (YYYY-MM-DD or natural language)")
	fetchCmd.Flags().String("until", "", "Range end (inclusive)")
	fetchCmd.Flags().Bool("catchup", false, "Fetch from the last checkpoint through today")
	fetchCmd.Flags().Bool("force", false, "Refetch dates that are already fetched")
	fetchCmd.Flags().Int("workers", 1, "Parallel workers for range fetches")
	fetchCmd.Flags().StringSlice("types", nil, "Limit to activity types: prs, commits, issues")
	rootCmd.AddCommand(fetchCmd)
}
