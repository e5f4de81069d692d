package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/fetch"
	"github.com/workrecap/workrecap/internal/ghes"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/normalize"
	"github.com/workrecap/workrecap/internal/pipeline"
	"github.com/workrecap/workrecap/internal/prompts"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/storage"
	"github.com/workrecap/workrecap/internal/summarize"
	"github.com/workrecap/workrecap/internal/types"
)

// services bundles everything a command can need, wired once per process.
type services struct {
	cfg         *config.Config
	checkpoints *state.CheckpointStore
	daily       *state.DailyStateStore
	failed      *state.FailedDateStore
	batches     *state.BatchJobStore
	providerCfg *llm.Config
	router      *llm.Router
	prompts     *prompts.Library
	mirror      *storage.Mirror
	fetcher     *fetch.Fetcher
	normalizer  *normalize.Normalizer
	summarizer  *summarize.Summarizer
	pipeline    *pipeline.Pipeline
}

// openServices loads configuration and constructs the full service graph.
// A missing provider config only disables LLM-backed operations; fetch and
// normalize still work, with enrichment skipped.
func openServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pool := ghes.NewPool(cfg.PoolSize, ghes.Options{
		BaseURL:        cfg.GitHubBaseURL,
		Token:          cfg.GitHubToken,
		SearchInterval: time.Duration(cfg.SearchInterval * float64(time.Second)),
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
	})

	s := &services{
		cfg:         cfg,
		checkpoints: state.NewCheckpointStore(cfg.CheckpointsPath()),
		daily:       state.NewDailyStateStore(cfg.DailyStatePath()),
		failed:      state.NewFailedDateStore(cfg.FailedDatesPath(), cfg.MaxRetries),
		batches:     state.NewBatchJobStore(cfg.BatchJobsPath()),
		prompts:     prompts.NewLibrary(cfg.PromptsDir),
	}

	providerCfg, err := llm.LoadConfig(cfg.ProviderConfigPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		slog.Warn("provider config not found, LLM features disabled", "path", cfg.ProviderConfigPath)
		providerCfg = &llm.Config{}
		providerCfg.Strategy.Mode = "fixed"
	}
	s.providerCfg = providerCfg
	s.router = llm.NewRouter(providerCfg, llm.NewUsageTracker(), s.batches)

	if cfg.MirrorSQLitePath != "" {
		mirror, err := storage.Open(cfg.MirrorSQLitePath)
		if err != nil {
			slog.Warn("mirror unavailable, continuing without it", "path", cfg.MirrorSQLitePath, "err", err)
		} else {
			s.mirror = mirror
		}
	}

	stores := fetch.Stores{
		Checkpoints: s.checkpoints,
		Daily:       s.daily,
		Failed:      s.failed,
		Progress:    state.NewFetchProgressStore(cfg.FetchProgressDir()),
	}
	s.fetcher = fetch.New(cfg, pool, stores)
	s.normalizer = normalize.New(cfg, s.router, s.prompts, s.checkpoints, s.daily)
	s.summarizer = summarize.New(cfg, s.router, s.prompts, s.checkpoints, s.daily)
	s.pipeline = pipeline.New(cfg, s.fetcher, s.normalizer, s.summarizer, s.mirror)
	return s, nil
}

func (s *services) Close() {
	if s.mirror != nil {
		_ = s.mirror.Close()
	}
}

// printLLMUsage writes the usage report for this invocation to stdout when
// any calls were made.
func (s *services) printLLMUsage() {
	if s.router.Usage().CallCount == 0 {
		return
	}
	fmt.Println()
	fmt.Println(s.router.Tracker().FormatReport())
}

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// resolveDate accepts either YYYY-MM-DD or a natural-language expression
// like "yesterday" or "last monday".
func resolveDate(s string) (string, error) {
	if _, err := dates.Parse(s); err == nil {
		return s, nil
	}
	r, err := whenParser.Parse(s, time.Now())
	if err != nil || r == nil {
		return "", fmt.Errorf("cannot parse date %q (use YYYY-MM-DD or e.g. \"yesterday\")", s)
	}
	return dates.Format(r.Time), nil
}

// errUpToDate signals that --catchup found nothing newer than the
// checkpoint. Commands report it as a normal outcome, not a failure.
var errUpToDate = errors.New("already up to date")

// resolveRange turns the (date-arg, since, until, catchup) command inputs
// into a concrete [since, until] pair. checkpointKey names the checkpoint
// that --catchup resumes from.
func resolveRange(args []string, since, until string, catchup bool, s *services, checkpointKey string) (string, string, error) {
	switch {
	case catchup:
		last, err := s.checkpoints.Get(checkpointKey)
		if err != nil {
			return "", "", err
		}
		if last == "" {
			return "", "", fmt.Errorf("no checkpoint recorded yet, run with an explicit date or range first")
		}
		from, to, err := dates.CatchupRange(last, time.Now())
		if err != nil {
			return "", "", err
		}
		if from > to {
			return "", "", errUpToDate
		}
		return from, to, nil
	case len(args) == 1:
		date, err := resolveDate(args[0])
		if err != nil {
			return "", "", err
		}
		return date, date, nil
	case since != "" && until != "":
		from, err := resolveDate(since)
		if err != nil {
			return "", "", err
		}
		to, err := resolveDate(until)
		if err != nil {
			return "", "", err
		}
		return from, to, nil
	default:
		return "", "", fmt.Errorf("specify a date, --since and --until, or --catchup")
	}
}

func parseTypes(kinds []string) (fetch.Types, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	t := fetch.Types{}
	for _, k := range kinds {
		switch k {
		case fetch.KindPRs, fetch.KindCommits, fetch.KindIssues:
			t[k] = true
		default:
			return nil, fmt.Errorf("unknown type %q (valid: %s, %s, %s)", k, fetch.KindPRs, fetch.KindCommits, fetch.KindIssues)
		}
	}
	return t, nil
}

// printResults summarizes per-date outcomes and returns the failure count.
func printResults(results []types.DateResult) int {
	var success, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case "success":
			success++
		case "skipped":
			skipped++
		case "failed":
			failed++
			fmt.Printf("  %s  failed: %s\n", r.Date, r.Error)
		}
	}
	fmt.Printf("%d dates: %d processed, %d up to date, %d failed\n", len(results), success, skipped, failed)
	return failed
}
