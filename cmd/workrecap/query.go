package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/summarize"
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about your recent work",
	Long: `Answer a free-form question from your summary history.

The question is answered against your monthly summaries for the lookback
window, falling back to weeklies and then dailies when higher levels have
not been generated yet. The answer is rendered to the terminal and not
written to disk.

Examples:
  workrecap query "what did I ship in March?"
  workrecap query --months-back 6 "which repos did I touch most?"
`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		monthsBack, _ := cmd.Flags().GetInt("months-back")

		svc, err := openServices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer svc.Close()

		question := strings.Join(args, " ")
		answer, err := svc.summarizer.Query(cmd.Context(), question, monthsBack)
		if errors.Is(err, summarize.ErrNoQueryContext) {
			fmt.Fprintln(os.Stderr, "No summaries to query yet. Run 'workrecap pipeline' first.")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		printMarkdown(answer)
		svc.printLLMUsage()
	},
}

func init() {
	queryCmd.Flags().Int("months-back", 0, "Months of history to consider (default from config)")
	rootCmd.AddCommand(queryCmd)
}
