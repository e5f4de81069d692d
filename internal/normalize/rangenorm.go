package normalize

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// NormalizeRange processes [since, until] with the skip/force discipline of
// the range pipeline. batch=true funnels all enrichment through one provider
// batch; otherwise workers>1 fans dates out over goroutines.
func (n *Normalizer) NormalizeRange(ctx context.Context, since, until string, force bool, workers int, batch bool) ([]types.DateResult, error) {
	dateList, err := dates.Range(since, until)
	if err != nil {
		return nil, err
	}
	slog.Info("normalize range", "since", since, "until", until,
		"dates", len(dateList), "force", force, "workers", workers, "batch", batch)

	if batch && n.router != nil {
		return n.rangeBatch(ctx, dateList, force), nil
	}
	if workers <= 1 {
		return n.rangeSequential(ctx, dateList, force), nil
	}
	return n.rangeParallel(ctx, dateList, force, workers), nil
}

// fresh reports whether date needs no normalization pass.
func (n *Normalizer) fresh(date string) bool {
	stale, err := n.daily.Stale(date, state.PhaseNormalize)
	if err != nil {
		slog.Warn("failed to read daily state, renormalizing", "date", date, "err", err)
		return false
	}
	return !stale
}

func (n *Normalizer) rangeOne(ctx context.Context, date string, force bool) types.DateResult {
	if !force && n.fresh(date) {
		return types.DateResult{Date: date, Status: "skipped"}
	}
	if _, _, err := n.Normalize(ctx, date); err != nil {
		slog.Warn("failed to normalize", "date", date, "err", err)
		return types.DateResult{Date: date, Status: "failed", Error: err.Error()}
	}
	return types.DateResult{Date: date, Status: "success"}
}

func (n *Normalizer) rangeSequential(ctx context.Context, dateList []string, force bool) []types.DateResult {
	results := make([]types.DateResult, 0, len(dateList))
	for _, d := range dateList {
		results = append(results, n.rangeOne(ctx, d, force))
	}
	return results
}

func (n *Normalizer) rangeParallel(ctx context.Context, dateList []string, force bool, workers int) []types.DateResult {
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
				results[idx] = n.rangeOne(ctx, dateList[idx], force)
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

// rangeBatch normalizes every date without enrichment first, then runs one
// provider batch for all enrich prompts and rewrites the activity files.
// A failed batch leaves the dates normalized but unenriched.
func (n *Normalizer) rangeBatch(ctx context.Context, dateList []string, force bool) []types.DateResult {
	dateActivities := map[string][]types.Activity{}
	results := make([]types.DateResult, 0, len(dateList))

	for _, d := range dateList {
		if !force && n.fresh(d) {
			results = append(results, types.DateResult{Date: d, Status: "skipped"})
			continue
		}
		activities, err := n.normalizeWithoutEnrich(d)
		if err != nil {
			slog.Warn("failed to normalize", "date", d, "err", err)
			results = append(results, types.DateResult{Date: d, Status: "failed", Error: err.Error()})
			continue
		}
		dateActivities[d] = activities
		results = append(results, types.DateResult{Date: d, Status: "success"})
	}

	if len(dateActivities) > 0 {
		n.batchEnrich(ctx, dateActivities)
		for d, activities := range dateActivities {
			path := filepath.Join(n.cfg.NormalizedDir(d), "activities.jsonl")
			if err := types.SaveJSONL(path, activities); err != nil {
				slog.Warn("failed to save enriched activities", "date", d, "err", err)
			}
		}
	}
	return results
}

// batchEnrich submits one enrich request per date and applies the results
// in place. All failures are logged and swallowed.
func (n *Normalizer) batchEnrich(ctx context.Context, dateActivities map[string][]types.Activity) {
	var requests []llm.BatchChatRequest
	for d, activities := range dateActivities {
		system, user, ok := n.enrichPrompt(activities)
		if !ok {
			continue
		}
		requests = append(requests, llm.BatchChatRequest{
			CustomID:     "enrich-" + d,
			SystemPrompt: system,
			UserContent:  user,
			ChatOptions:  llm.ChatOptions{JSONMode: true, CacheSystemPrompt: true},
		})
	}
	if len(requests) == 0 {
		slog.Info("no enrichment prompts prepared for batch")
		return
	}

	slog.Info("submitting batch enrichment", "dates", len(requests))
	batchID, err := n.router.SubmitBatch(ctx, "enrich", requests)
	if err != nil {
		slog.Warn("batch enrichment submit failed, continuing without enrichment", "err", err)
		return
	}
	batchResults, err := n.router.WaitForBatch(ctx, "enrich", batchID, llm.BatchTimeout(len(requests)))
	if err != nil {
		slog.Warn("batch enrichment failed, continuing without enrichment", "err", err)
		return
	}

	byID := map[string]string{}
	for _, r := range batchResults {
		if r.Err != "" {
			slog.Warn("batch enrichment error", "custom_id", r.CustomID, "err", r.Err)
			continue
		}
		byID[r.CustomID] = r.Content
	}
	for d, activities := range dateActivities {
		if content, ok := byID["enrich-"+d]; ok {
			applyEnrichment(activities, content)
		}
	}
}
