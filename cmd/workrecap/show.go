package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a generated recap in the terminal",
	Long: `Display a generated recap, rendered as Markdown when stdout is a
terminal.

Examples:
  workrecap show daily 2025-02-16
  workrecap show daily yesterday
  workrecap show weekly 2025 7
  workrecap show monthly 2025 2
  workrecap show yearly 2025
`,
}

var showDailyCmd = &cobra.Command{
	Use:   "daily <date>",
	Short: "Display a daily recap",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := pathsConfig()
		date, err := resolveDate(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		showFile(cfg.DailySummaryPath(date))
	},
}

var showWeeklyCmd = &cobra.Command{
	Use:   "weekly [year week]",
	Short: "Display a weekly recap",
	Args:  cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := pathsConfig()
		year, week := time.Now().UTC().ISOWeek()
		if len(args) == 2 {
			var err error
			if year, week, err = parseYearAndPart(args, 53); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		showFile(cfg.WeeklySummaryPath(year, week))
	},
}

var showMonthlyCmd = &cobra.Command{
	Use:   "monthly [year month]",
	Short: "Display a monthly recap",
	Args:  cobra.RangeArgs(0, 2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := pathsConfig()
		now := time.Now().UTC()
		year, month := now.Year(), int(now.Month())
		if len(args) == 2 {
			var err error
			if year, month, err = parseYearAndPart(args, 12); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
		showFile(cfg.MonthlySummaryPath(year, month))
	},
}

var showYearlyCmd = &cobra.Command{
	Use:   "yearly [year]",
	Short: "Display a yearly recap",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := pathsConfig()
		year := time.Now().UTC().Year()
		if len(args) == 1 {
			y, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid year %q\n", args[0])
				os.Exit(1)
			}
			year = y
		}
		showFile(cfg.YearlySummaryPath(year))
	},
}

// pathsConfig resolves just the data-dir layout, without requiring the
// GitHub credentials a read-only command never uses.
func pathsConfig() *config.Config {
	return &config.Config{DataDir: config.Viper().GetString("data_dir")}
}

func showFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "No recap at %s, generate it with 'workrecap summarize'\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	printMarkdown(string(data))
}

func init() {
	showCmd.AddCommand(showDailyCmd, showWeeklyCmd, showMonthlyCmd, showYearlyCmd)
	rootCmd.AddCommand(showCmd)
}
