package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/state"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate Markdown recaps from normalized activity",
	Long: `Generate Markdown recaps at the daily, weekly, monthly or yearly level.

Higher levels are built from the level below: weeklies from dailies,
monthlies from weeklies, yearlies from monthlies. A level is regenerated
only when its output is missing or older than any of its inputs.

Examples:
  workrecap summarize daily 2025-02-16
  workrecap summarize daily --since 2025-02-01 --until 2025-02-28 --batch
  workrecap summarize weekly 2025 7
  workrecap summarize monthly 2025 2
  workrecap summarize yearly 2025
`,
}

var summarizeDailyCmd = &cobra.Command{
	Use:   "daily [date]",
	Short: "Generate daily recaps",
	Args:  cobra.MaximumNArgs(1),
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

		from, to, err := resolveRange(args, since, until, catchup, svc, state.KeyLastSummarize)
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
			path, err := svc.summarizer.Daily(ctx, from)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote %s\n", path)
			svc.printLLMUsage()
			return
		}

		results, err := svc.summarizer.DailyRange(ctx, from, to, force, workers, batch)
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

var summarizeWeeklyCmd = &cobra.Command{
	Use:   "weekly [year week]",
	Short: "Generate a weekly recap from its dailies",
	Args:  cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		year, week := time.Now().UTC().ISOWeek()
		var err error
		if len(args) == 2 {
			if year, week, err = parseYearAndPart(args, 53); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		runLevel(func(svc *services) (string, error) {
			return svc.summarizer.Weekly(cmd.Context(), year, week, force)
		})
	},
}

var summarizeMonthlyCmd = &cobra.Command{
	Use:   "monthly [year month]",
	Short: "Generate a monthly recap from its weeklies",
	Args:  cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		now := time.Now().UTC()
		year, month := now.Year(), int(now.Month())
		var err error
		if len(args) == 2 {
			if year, month, err = parseYearAndPart(args, 12); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		runLevel(func(svc *services) (string, error) {
			return svc.summarizer.Monthly(cmd.Context(), year, month, force)
		})
	},
}

var summarizeYearlyCmd = &cobra.Command{
	Use:   "yearly [year]",
	Short: "Generate a yearly recap from its monthlies",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		year := time.Now().UTC().Year()
		if len(args) == 1 {
			y, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid year %q\n", args[0])
				os.Exit(1)
			}
			year = y
		}
		runLevel(func(svc *services) (string, error) {
			return svc.summarizer.Yearly(cmd.Context(), year, force)
		})
	},
}

// runLevel opens services, runs one period-level generation and reports.
func runLevel(generate func(*services) (string, error)) {
	svc, err := openServices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	path, err := generate(svc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
	svc.printLLMUsage()
}

func parseYearAndPart(args []string, max int) (int, int, error) {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year %q", args[0])
	}
	part, err := strconv.Atoi(args[1])
	if err != nil || part < 1 || part > max {
		return 0, 0, fmt.Errorf("invalid value %q, want 1-%d", args[1], max)
	}
	return year, part, nil
}

func init() {
	summarizeDailyCmd.Flags().String("since", "", "Range start (YYYY-MM-DD or natural language)")
	summarizeDailyCmd.Flags().String("until", "", "Range end (inclusive)")
	summarizeDailyCmd.Flags().Bool("catchup", false, "Summarize from the last checkpoint through today")
	summarizeDailyCmd.Flags().Bool("force", false, "Regenerate summaries that are already up to date")
	summarizeDailyCmd.Flags().Int("workers", 1, "Parallel workers for range runs")
	summarizeDailyCmd.Flags().Bool("batch", false, "Generate via the provider batch API (slower, cheaper)")
	for _, c := range []*cobra.Command{summarizeWeeklyCmd, summarizeMonthlyCmd, summarizeYearlyCmd} {
		c.Flags().Bool("force", false, "Regenerate even when up to date")
	}
	summarizeCmd.AddCommand(summarizeDailyCmd, summarizeWeeklyCmd, summarizeMonthlyCmd, summarizeYearlyCmd)
	rootCmd.AddCommand(summarizeCmd)
}
