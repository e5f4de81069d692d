package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/llm/provider"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// DailyRange generates daily summaries for [since, until] with the range
// pipeline's skip/force discipline. batch=true funnels all prompts through
// one provider batch; otherwise workers>1 fans dates out over goroutines.
func (s *Summarizer) DailyRange(ctx context.Context, since, until string, force bool, workers int, batch bool) ([]types.DateResult, error) {
	dateList, err := dates.Range(since, until)
	if err != nil {
		return nil, err
	}
	slog.Info("summarize range", "since", since, "until", until,
		"dates", len(dateList), "force", force, "workers", workers, "batch", batch)

	if batch {
		return s.rangeBatch(ctx, dateList, force), nil
	}
	if workers <= 1 {
		results := make([]types.DateResult, 0, len(dateList))
		for _, d := range dateList {
			results = append(results, s.rangeOne(ctx, d, force))
		}
		return results, nil
	}
	return s.rangeParallel(ctx, dateList, force, workers), nil
}

// fresh reports whether date needs no summarize pass.
func (s *Summarizer) fresh(date string) bool {
	stale, err := s.daily.Stale(date, state.PhaseSummarize)
	if err != nil {
		slog.Warn("failed to read daily state, resummarizing", "date", date, "err", err)
		return false
	}
	return !stale
}

func (s *Summarizer) rangeOne(ctx context.Context, date string, force bool) types.DateResult {
	if !force && s.fresh(date) {
		return types.DateResult{Date: date, Status: "skipped"}
	}
	path, err := s.Daily(ctx, date)
	if err != nil {
		slog.Warn("failed to summarize", "date", date, "err", err)
		return types.DateResult{Date: date, Status: "failed", Error: err.Error()}
	}
	return types.DateResult{Date: date, Status: "success", Path: path}
}

func (s *Summarizer) rangeParallel(ctx context.Context, dateList []string, force bool, workers int) []types.DateResult {
	if workers > len(dateList) {
		workers = len(dateList)
	}
	work := make(chan int)
	results := make([]types.DateResult, len(dateList))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = s.rangeOne(ctx, dateList[idx], force)
			}
		}()
	}
	for idx := range dateList {
		work <- idx
	}
	close(work)
	wg.Wait()
	return results
}

// rangeBatch prepares every day's prompt up front, submits one provider
// batch and distributes the completions to per-day files. Empty days are
// written directly and never enter the batch.
func (s *Summarizer) rangeBatch(ctx context.Context, dateList []string, force bool) []types.DateResult {
	results := make([]types.DateResult, len(dateList))
	var requests []llm.BatchChatRequest
	pending := map[string]int{} // custom id -> results index

	for i, d := range dateList {
		if !force && s.fresh(d) {
			results[i] = types.DateResult{Date: d, Status: "skipped"}
			continue
		}
		activities, stats, err := s.loadNormalized(d)
		if err != nil {
			slog.Warn("failed to summarize", "date", d, "err", err)
			results[i] = types.DateResult{Date: d, Status: "failed", Error: err.Error()}
			continue
		}
		if len(activities) == 0 {
			path := s.cfg.DailySummaryPath(d)
			content := fmt.Sprintf("# %s\n\nNo activity on this day.\n", d)
			if err := saveMarkdown(path, content); err == nil {
				err = s.markSummarized(d)
			}
			if err != nil {
				results[i] = types.DateResult{Date: d, Status: "failed", Error: err.Error()}
			} else {
				results[i] = types.DateResult{Date: d, Status: "success", Path: path}
			}
			continue
		}
		system, user, err := s.dailyPrompt(d, activities, stats)
		if err != nil {
			results[i] = types.DateResult{Date: d, Status: "failed", Error: err.Error()}
			continue
		}
		customID := "daily-" + d
		pending[customID] = i
		requests = append(requests, llm.BatchChatRequest{
			CustomID:     customID,
			SystemPrompt: system,
			UserContent:  user,
			ChatOptions:  llm.ChatOptions{CacheSystemPrompt: true},
		})
	}
	if len(requests) == 0 {
		return results
	}

	slog.Info("submitting batch summaries", "dates", len(requests))
	batchResults, err := s.runBatch(ctx, requests)
	if err != nil {
		slog.Warn("batch summarize failed", "err", err)
		for customID, i := range pending {
			results[i] = types.DateResult{Date: dateList[i], Status: "failed",
				Error: fmt.Sprintf("batch failed for %s: %v", customID, err)}
		}
		return results
	}

	byID := map[string]provider.BatchResult{}
	for _, r := range batchResults {
		byID[r.CustomID] = r
	}
	for customID, i := range pending {
		d := dateList[i]
		r, ok := byID[customID]
		switch {
		case !ok:
			results[i] = types.DateResult{Date: d, Status: "failed", Error: "batch result missing"}
		case r.Err != "":
			results[i] = types.DateResult{Date: d, Status: "failed", Error: r.Err}
		default:
			path := s.cfg.DailySummaryPath(d)
			err := saveMarkdown(path, r.Content)
			if err == nil {
				err = s.markSummarized(d)
			}
			if err != nil {
				results[i] = types.DateResult{Date: d, Status: "failed", Error: err.Error()}
			} else {
				results[i] = types.DateResult{Date: d, Status: "success", Path: path}
			}
		}
	}
	return results
}

func (s *Summarizer) runBatch(ctx context.Context, requests []llm.BatchChatRequest) ([]provider.BatchResult, error) {
	batchID, err := s.router.SubmitBatch(ctx, "daily", requests)
	if err != nil {
		return nil, err
	}
	return s.router.WaitForBatch(ctx, "daily", batchID, llm.BatchTimeout(len(requests)))
}
