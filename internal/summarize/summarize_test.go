package summarize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/llm/provider"
	"github.com/workrecap/workrecap/internal/prompts"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

const day = "2025-02-16"

type fakeProvider struct {
	response  string
	calls     int
	system    string
	user      string
	batchReqs []provider.BatchRequest
	results   []provider.BatchResult
}

func (f *fakeProvider) Name() string { return "anthropic" }

func (f *fakeProvider) Chat(ctx context.Context, model, system, user string, opts provider.ChatOptions) (string, types.TokenUsage, error) {
	f.calls++
	f.system = system
	f.user = user
	return f.response, types.TokenUsage{TotalTokens: 10, CallCount: 1}, nil
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (f *fakeProvider) SubmitBatch(ctx context.Context, reqs []provider.BatchRequest) (string, error) {
	f.batchReqs = reqs
	return "batch-1", nil
}

func (f *fakeProvider) GetBatchStatus(ctx context.Context, id string) (provider.BatchStatus, error) {
	return provider.BatchCompleted, nil
}

func (f *fakeProvider) GetBatchResults(ctx context.Context, id string) ([]provider.BatchResult, error) {
	return f.results, nil
}

func newSummarizer(t *testing.T) (*Summarizer, *fakeProvider, *config.Config) {
	t.Helper()
	fake := &fakeProvider{response: "# Recap\n\nGenerated."}
	tasks := map[string]llm.TaskConfig{}
	for _, task := range []string{"daily", "weekly", "monthly", "yearly", "query"} {
		tasks[task] = llm.TaskConfig{Provider: "anthropic", Model: "m"}
	}
	routerConfig := &llm.Config{
		Providers: map[string]llm.ProviderEntry{"anthropic": {APIKey: "k"}},
		Tasks:     tasks,
	}
	routerConfig.Strategy.Mode = "fixed"
	router := llm.NewRouter(routerConfig, nil, nil)
	router.RegisterProvider("anthropic", fake)

	cfg := &config.Config{DataDir: t.TempDir(), Username: "testuser", QueryMonthsBack: 3}
	stateDir := t.TempDir()
	checkpoints := state.NewCheckpointStore(filepath.Join(stateDir, "checkpoints.json"))
	daily := state.NewDailyStateStore(filepath.Join(stateDir, "daily_state.json"))
	return New(cfg, router, prompts.NewLibrary(""), checkpoints, daily), fake, cfg
}

func writeNormalized(t *testing.T, cfg *config.Config, date string, activities []types.Activity) {
	t.Helper()
	stats := types.DailyStats{Date: date}
	for _, a := range activities {
		if a.Kind == types.KindPRAuthored {
			stats.GitHub.AuthoredCount++
			stats.GitHub.TotalAdditions += a.Additions
			stats.GitHub.TotalDeletions += a.Deletions
		}
	}
	dir := cfg.NormalizedDir(date)
	if err := types.SaveJSONL(filepath.Join(dir, "activities.jsonl"), activities); err != nil {
		t.Fatal(err)
	}
	if err := types.SaveJSON(filepath.Join(dir, "stats.json"), stats); err != nil {
		t.Fatal(err)
	}
}

func sampleActivity() types.Activity {
	return types.Activity{
		TS:        day + "T10:00:00Z",
		Kind:      types.KindPRAuthored,
		Repo:      "org/repo",
		Title:     "Add parser",
		URL:       "https://ghes/org/repo/pull/1",
		Additions: 100,
		Deletions: 20,
		Files:     []string{"src/parser.go"},
		Body:      "Implements the parser",
	}
}

func writeFileAt(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestDailyGeneratesSummary(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	writeNormalized(t, cfg, day, []types.Activity{sampleActivity()})

	path, err := s.Daily(context.Background(), day)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if path != cfg.DailySummaryPath(day) {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Recap\n\nGenerated." {
		t.Errorf("content = %q", data)
	}
	if fake.calls != 1 {
		t.Errorf("chat calls = %d", fake.calls)
	}
	// Per-day data belongs in the user content, not the cacheable system.
	if strings.Contains(fake.system, day) {
		t.Errorf("system prompt carries the date:\n%s", fake.system)
	}
	if !strings.Contains(fake.user, day) || !strings.Contains(fake.user, "1 PRs authored") ||
		!strings.Contains(fake.user, "Add parser") {
		t.Errorf("user content:\n%s", fake.user)
	}

	got, err := s.checkpoints.Get(state.KeyLastSummarize)
	if err != nil || got != day {
		t.Errorf("checkpoint = %q err=%v", got, err)
	}
}

func TestDailyMissingInputs(t *testing.T) {
	s, _, cfg := newSummarizer(t)
	if _, err := s.Daily(context.Background(), day); err == nil ||
		!strings.Contains(err.Error(), "activities file not found") {
		t.Errorf("err = %v", err)
	}

	if err := types.SaveJSONL(filepath.Join(cfg.NormalizedDir(day), "activities.jsonl"), []types.Activity{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Daily(context.Background(), day); err == nil ||
		!strings.Contains(err.Error(), "stats file not found") {
		t.Errorf("err = %v", err)
	}
}

func TestDailyEmptyActivitiesWritesMarker(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	writeNormalized(t, cfg, day, []types.Activity{})

	path, err := s.Daily(context.Background(), day)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "No activity on this day") || !strings.Contains(string(data), day) {
		t.Errorf("marker content = %q", data)
	}
	if fake.calls != 0 {
		t.Errorf("LLM called for an empty day: %d", fake.calls)
	}
	got, err := s.checkpoints.Get(state.KeyLastSummarize)
	if err != nil || got != day {
		t.Errorf("checkpoint = %q err=%v", got, err)
	}
}

func TestFormatActivities(t *testing.T) {
	files := make([]string, 12)
	for i := range files {
		files[i] = "src/file" + string(rune('a'+i)) + ".go"
	}
	activities := []types.Activity{
		{
			Kind: types.KindCommit, Title: "fix: null pointer", Repo: "org/repo",
			Additions: 12, Deletions: 3, URL: "https://ghes/c/abc",
			Intent: "fix", ChangeSummary: "guards the nil case",
			Files: files,
			Body:  strings.Repeat("b", 1200),
			ReviewBodies: []string{
				strings.Repeat("r", 600), "short", "third", "fourth",
			},
			FilePatches: map[string]string{"src/filea.go": "@@ -1 +1 @@"},
			CommentCtxs: []types.CommentContext{
				{Path: "src/filea.go", Line: 7, DiffHunk: strings.Repeat("h", 400), Body: "rename"},
			},
		},
	}
	got := formatActivities(activities)

	if !strings.Contains(got, "- [commit] fix: null pointer (org/repo) +12/-3 URL: https://ghes/c/abc") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "Intent: fix") || !strings.Contains(got, "Change Summary: guards the nil case") {
		t.Errorf("missing enrichment lines:\n%s", got)
	}
	if !strings.Contains(got, "and 4 more") {
		t.Errorf("missing file overflow:\n%s", got)
	}
	if !strings.Contains(got, strings.Repeat("b", 1000)+"...") {
		t.Errorf("body not truncated at 1000:\n%.200s", got)
	}
	if strings.Contains(got, "fourth") {
		t.Errorf("more than 3 review bodies included:\n%s", got)
	}
	if !strings.Contains(got, strings.Repeat("r", 500)+"...") {
		t.Errorf("review body not truncated at 500")
	}
	if !strings.Contains(got, "--- src/filea.go ---") {
		t.Errorf("missing patches section:\n%s", got)
	}
	if !strings.Contains(got, "at src/filea.go:7") || !strings.Contains(got, "comment: rename") {
		t.Errorf("missing inline comments:\n%s", got)
	}
	// Hunk keeps its tail, where the commented lines live.
	if strings.Contains(got, strings.Repeat("h", 301)) {
		t.Errorf("hunk not truncated at 300")
	}
}

func TestWeekly(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	old := time.Now().Add(-time.Hour)
	// 2025-W07 runs Mon 2025-02-10 through Sun 2025-02-16.
	writeFileAt(t, cfg.DailySummaryPath("2025-02-10"), "# Mon content", old)
	writeFileAt(t, cfg.DailySummaryPath("2025-02-14"), "# Fri content", old)

	path, err := s.Weekly(context.Background(), 2025, 7, false)
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}
	if path != cfg.WeeklySummaryPath(2025, 7) {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(fake.user, "Mon content") || !strings.Contains(fake.user, "Fri content") {
		t.Errorf("user content:\n%s", fake.user)
	}
	if !strings.Contains(fake.user, "week 7 of 2025") {
		t.Errorf("week header missing:\n%s", fake.user)
	}

	// Fresh output skips the LLM.
	if _, err := s.Weekly(context.Background(), 2025, 7, false); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 1 {
		t.Errorf("fresh weekly regenerated, calls = %d", fake.calls)
	}

	// A newer daily makes it stale again.
	writeFileAt(t, cfg.DailySummaryPath("2025-02-11"), "# Tue content", time.Now().Add(time.Hour))
	if _, err := s.Weekly(context.Background(), 2025, 7, false); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 2 {
		t.Errorf("stale weekly not regenerated, calls = %d", fake.calls)
	}

	// force bypasses the staleness check.
	if _, err := s.Weekly(context.Background(), 2025, 7, true); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 3 {
		t.Errorf("force did not regenerate, calls = %d", fake.calls)
	}
}

func TestWeeklyNoDailies(t *testing.T) {
	s, _, _ := newSummarizer(t)
	if _, err := s.Weekly(context.Background(), 2099, 1, false); err == nil ||
		!strings.Contains(err.Error(), "no daily summaries found") {
		t.Errorf("err = %v", err)
	}
}

func TestMonthly(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	old := time.Now().Add(-time.Hour)
	// February 2025 overlaps ISO weeks 5 through 9.
	for w := 5; w <= 8; w++ {
		writeFileAt(t, cfg.WeeklySummaryPath(2025, w), "# Week content", old)
	}
	if _, err := s.Monthly(context.Background(), 2025, 2, false); err != nil {
		t.Fatalf("Monthly: %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d", fake.calls)
	}
	if !strings.Contains(fake.user, "2025-02") {
		t.Errorf("month header missing:\n%s", fake.user)
	}

	if _, err := s.Monthly(context.Background(), 2099, 1, false); err == nil ||
		!strings.Contains(err.Error(), "no weekly summaries found") {
		t.Errorf("err = %v", err)
	}
}

func TestYearly(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	old := time.Now().Add(-time.Hour)
	writeFileAt(t, cfg.MonthlySummaryPath(2025, 1), "# Jan", old)
	writeFileAt(t, cfg.MonthlySummaryPath(2025, 2), "# Feb", old)

	path, err := s.Yearly(context.Background(), 2025, false)
	if err != nil {
		t.Fatalf("Yearly: %v", err)
	}
	if path != cfg.YearlySummaryPath(2025) {
		t.Errorf("path = %q", path)
	}
	if !strings.Contains(fake.user, "# Jan") || !strings.Contains(fake.user, "# Feb") {
		t.Errorf("user content:\n%s", fake.user)
	}

	if _, err := s.Yearly(context.Background(), 2099, false); err == nil ||
		!strings.Contains(err.Error(), "no monthly summaries found") {
		t.Errorf("err = %v", err)
	}
}

func TestQueryMonthlyContext(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	s.now = func() time.Time { return time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC) }
	writeFileAt(t, cfg.MonthlySummaryPath(2025, 2), "# Feb work", time.Now())

	answer, err := s.Query(context.Background(), "what shipped in February?", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if answer != "# Recap\n\nGenerated." {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(fake.user, "# Feb work") || !strings.Contains(fake.user, "what shipped in February?") {
		t.Errorf("user content:\n%s", fake.user)
	}
}

func TestQueryFallsBackToWeeklies(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	s.now = func() time.Time { return time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC) }
	writeFileAt(t, cfg.WeeklySummaryPath(2025, 7), "# W07 work", time.Now())

	if _, err := s.Query(context.Background(), "recent work?", 3); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(fake.user, "# W07 work") {
		t.Errorf("user content:\n%s", fake.user)
	}
}

func TestQueryFallsBackToDailies(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	s.now = func() time.Time { return time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC) }
	writeFileAt(t, cfg.DailySummaryPath("2025-02-16"), "# Sunday work", time.Now())

	if _, err := s.Query(context.Background(), "recent work?", 3); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(fake.user, "# Sunday work") {
		t.Errorf("user content:\n%s", fake.user)
	}
}

func TestQueryNoContext(t *testing.T) {
	s, _, _ := newSummarizer(t)
	s.now = func() time.Time { return time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC) }
	if _, err := s.Query(context.Background(), "anything?", 3); !errors.Is(err, ErrNoQueryContext) {
		t.Errorf("err = %v", err)
	}
}

func TestDailyRangeSkipsFresh(t *testing.T) {
	s, _, cfg := newSummarizer(t)
	writeNormalized(t, cfg, day, []types.Activity{sampleActivity()})
	writeNormalized(t, cfg, "2025-02-17", []types.Activity{sampleActivity()})
	// 2025-02-16: normalized and summarized, fresh. 2025-02-17: stale.
	for _, d := range []string{day, "2025-02-17"} {
		if err := s.daily.MarkNormalized(d); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.daily.MarkSummarized(day); err != nil {
		t.Fatal(err)
	}

	results, err := s.DailyRange(context.Background(), day, "2025-02-17", false, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != "skipped" || results[1].Status != "success" {
		t.Errorf("results = %+v", results)
	}
	if results[1].Path != cfg.DailySummaryPath("2025-02-17") {
		t.Errorf("path = %q", results[1].Path)
	}
}

func TestDailyRangeBatch(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	writeNormalized(t, cfg, day, []types.Activity{sampleActivity()})
	if err := s.daily.MarkNormalized(day); err != nil {
		t.Fatal(err)
	}
	fake.results = []provider.BatchResult{{CustomID: "daily-" + day, Content: "# Batch recap"}}

	results, err := s.DailyRange(context.Background(), day, day, false, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Status != "success" {
		t.Fatalf("results = %+v", results)
	}
	if len(fake.batchReqs) != 1 || fake.batchReqs[0].CustomID != "daily-"+day {
		t.Fatalf("batch requests = %+v", fake.batchReqs)
	}
	data, err := os.ReadFile(cfg.DailySummaryPath(day))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Batch recap" {
		t.Errorf("content = %q", data)
	}
	if fake.calls != 0 {
		t.Errorf("batch run used the chat path: %d", fake.calls)
	}
}

func TestDailyRangeBatchEmptyDaySkipsBatch(t *testing.T) {
	s, fake, cfg := newSummarizer(t)
	writeNormalized(t, cfg, day, []types.Activity{})
	if err := s.daily.MarkNormalized(day); err != nil {
		t.Fatal(err)
	}

	results, err := s.DailyRange(context.Background(), day, day, false, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != "success" {
		t.Fatalf("results = %+v", results)
	}
	if len(fake.batchReqs) != 0 {
		t.Errorf("empty day entered the batch: %+v", fake.batchReqs)
	}
	data, err := os.ReadFile(cfg.DailySummaryPath(day))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "No activity on this day") {
		t.Errorf("content = %q", data)
	}
}
