package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/state"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [date]",
	Short: "Normalize raw activity into the unified timeline",
	Long: `Convert raw fetched data into the normalized activity timeline.

Each date's pull requests, commits and issues become one chronological
activities.jsonl plus a stats.json, with an LLM classification pass adding
intent and change summaries. Dates whose raw data has not changed since
the last normalize are skipped unless --force is set.

Examples:
  workrecap normalize 2025-02-16
  workrecap normalize --since 2025-02-01 --until 2025-02-28 --workers 4
  workrecap normalize --catchup --batch      # Cheap overnight enrichment
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		catchup, _ := cmd.Flags().GetBool("catchup")
		force, _ := cmd.Flags().GetBool("force")
		workers, _ := cmd.Flags().GetInt("workers")
		batch, _ := cmd.Flags().GetBool("batch")

		svc, err := openServices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		from, to, err := resolveRange(args, since, until, catchup, svc, state.KeyLastNormalize)
		if errors.Is(err, errUpToDate) {
			fmt.Println("Already up to date.")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		if from == to && !batch {
			activities, _, err := svc.normalizer.Normalize(ctx, from)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Normalized %s: %d activities\n", from, len(activities))
			svc.printLLMUsage()
			return
		}

		results, err := svc.normalizer.NormalizeRange(ctx, from, to, force, workers, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failed := printResults(results)
		svc.printLLMUsage()
		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	normalizeCmd.Flags().String("since", "", "Range start (YYYY-MM-DD or natural language)")
	normalizeCmd.Flags().String("until", "", "Range end (inclusive)")
	normalizeCmd.Flags().Bool("catchup", false, "Normalize from the last checkpoint through today")
	normalizeCmd.Flags().Bool("force", false, "Renormalize dates that are already up to date")
	normalizeCmd.Flags().Int("workers", 1, "Parallel workers for range runs")
	normalizeCmd.Flags().Bool("batch", false, "Enrich via the provider batch API (slower, cheaper)")
	rootCmd.AddCommand(normalizeCmd)
}
