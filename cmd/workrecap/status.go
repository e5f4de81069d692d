package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline checkpoints and problem dates",
	Long: `Show where each pipeline stage last ran, pending batch jobs, and dates
that exhausted their fetch retries.

Exits non-zero when any date has exhausted its retries, so the command can
gate a scheduled catch-up run.

Examples:
  workrecap status
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := &config.Config{DataDir: config.Viper().GetString("data_dir")}
		checkpoints := state.NewCheckpointStore(cfg.CheckpointsPath())
		failed := state.NewFailedDateStore(cfg.FailedDatesPath(), config.Viper().GetInt("github.max_retries"))
		batches := state.NewBatchJobStore(cfg.BatchJobsPath())

		fmt.Println(titleStyle.Render("Checkpoints"))
		all, err := checkpoints.All()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, key := range []string{state.KeyLastFetch, state.KeyLastNormalize, state.KeyLastSummarize} {
			value := all[key]
			if value == "" {
				value = dimStyle.Render("never")
			}
			fmt.Printf("  %-20s %s\n", key, value)
		}

		if active, err := batches.Active(); err == nil && len(active) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Batch jobs in flight"))
			for _, job := range active {
				fmt.Printf("  %s  %s/%s  %s (%d requests)\n",
					job.JobID, job.Provider, job.Model, job.Status, len(job.CustomIDs))
			}
		}

		exhausted, dateList, err := failed.ExhaustedDates()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(dateList) == 0 {
			fmt.Println()
			fmt.Println(dimStyle.Render("No dates have exhausted their retries."))
			return
		}

		fmt.Println()
		fmt.Println(failStyle.Render(titleStyle.Render("Dates needing attention")))
		sort.Strings(dateList)
		for _, date := range dateList {
			rec := exhausted[date]
			fmt.Printf("  %s  %d attempts, last: %s\n", date, rec.Attempts, rec.LastError)
		}
		fmt.Println(dimStyle.Render("Rerun them with 'workrecap fetch <date> --force' once the cause is fixed."))
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
