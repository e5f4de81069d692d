package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/workrecap/workrecap/internal/pipeline"
	"github.com/workrecap/workrecap/internal/state"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline [date]",
	Short: "Run fetch, normalize and summarize in one pass",
	Long: `Run the full pipeline for a date or range.

Stages run in order and each date is idempotent: a stage only reruns when
its inputs changed. With --weekly/--monthly/--yearly the matching period
summaries are regenerated after the daily range; --yearly implies the
other two. Cascades are skipped when any date failed.

With --watch the command keeps running after the initial pass and
regenerates the summaries whenever a prompt template changes, so prompt
tuning gets a fast feedback loop.

Examples:
  workrecap pipeline yesterday
  workrecap pipeline --since 2025-02-01 --until 2025-02-28 --weekly --monthly
  workrecap pipeline --catchup --yearly --workers 4
  workrecap pipeline 2025-02-16 --watch
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		catchup, _ := cmd.Flags().GetBool("catchup")
		force, _ := cmd.Flags().GetBool("force")
		workers, _ := cmd.Flags().GetInt("workers")
		batch, _ := cmd.Flags().GetBool("batch")
		weekly, _ := cmd.Flags().GetBool("weekly")
		monthly, _ := cmd.Flags().GetBool("monthly")
		yearly, _ := cmd.Flags().GetBool("yearly")
		watch, _ := cmd.Flags().GetBool("watch")
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

		opts := pipeline.RangeOptions{
			Force:   force,
			Workers: workers,
			Batch:   batch,
			Types:   kinds,
			Weekly:  weekly,
			Monthly: monthly,
			Yearly:  yearly,
		}

		ctx := cmd.Context()
		results, err := svc.pipeline.RunRange(ctx, from, to, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failed := printResults(results)
		svc.printLLMUsage()

		if watch {
			if err := watchPrompts(ctx, svc, from, to, opts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if failed > 0 {
			os.Exit(1)
		}
	},
}

// promptDebounce coalesces editor write bursts into one regeneration.
const promptDebounce = 500 * time.Millisecond

// watchPrompts blocks watching the prompts directory and re-runs the
// summarize stage (with cascades) whenever a template changes. Returns on
// SIGINT/SIGTERM.
func watchPrompts(ctx context.Context, svc *services, since, until string, opts pipeline.RangeOptions) error {
	if svc.cfg.PromptsDir == "" {
		return fmt.Errorf("--watch needs prompts_dir configured")
	}
	if _, err := os.Stat(svc.cfg.PromptsDir); err != nil {
		return fmt.Errorf("--watch: %w (run 'workrecap init' to export the templates)", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(svc.cfg.PromptsDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Watching %s for template changes (Ctrl-C to stop)\n", svc.cfg.PromptsDir)

	var mu sync.Mutex
	var timer *time.Timer
	regenerate := func() {
		mu.Lock()
		defer mu.Unlock()
		fmt.Println("Templates changed, regenerating summaries...")
		// Force so every date in the range picks up the new template.
		sumOpts := opts
		sumOpts.Force = true
		results, err := svc.summarizer.DailyRange(ctx, since, until, true, opts.Workers, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Regenerate failed: %v\n", err)
			return
		}
		printResults(results)
		if sumOpts.Weekly || sumOpts.Monthly || sumOpts.Yearly {
			svc.pipeline.RunCascades(ctx, since, until, sumOpts)
		}
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Stopped watching.")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(promptDebounce, regenerate)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		}
	}
}

func init() {
	pipelineCmd.Flags().String("since", "", "Range start (YYYY-MM-DD or natural language)")
	pipelineCmd.Flags().String("until", "", "Range end (inclusive)")
	pipelineCmd.Flags().Bool("catchup", false, "Run from the last fetch checkpoint through today")
	pipelineCmd.Flags().Bool("force", false, "Rerun every stage even when up to date")
	pipelineCmd.Flags().Int("workers", 1, "Parallel workers for range runs")
	pipelineCmd.Flags().Bool("batch", false, "Use the provider batch API for LLM stages")
	pipelineCmd.Flags().Bool("weekly", false, "Regenerate weekly summaries the range touches")
	pipelineCmd.Flags().Bool("monthly", false, "Regenerate monthly summaries the range touches")
	pipelineCmd.Flags().Bool("yearly", false, "Regenerate yearly summaries (implies --weekly --monthly)")
	pipelineCmd.Flags().Bool("watch", false, "Keep running and regenerate summaries on prompt changes")
	pipelineCmd.Flags().StringSlice("types", nil, "Limit fetch to activity types: prs, commits, issues")
	rootCmd.AddCommand(pipelineCmd)
}
