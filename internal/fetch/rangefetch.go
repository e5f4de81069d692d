package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/ghes"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// chunkHits is the cached result of one chunk search: date → search items.
// It is what the fetch-progress store persists, so an interrupted backfill
// resumes without repeating search calls.
type chunkHits struct {
	PRs     map[string][]ghes.SearchIssueItem  `json:"prs,omitempty"`
	Commits map[string][]ghes.SearchCommitItem `json:"commits,omitempty"`
	Issues  map[string][]ghes.SearchIssueItem  `json:"issues,omitempty"`
}

// dayBucket is one day's merged hits across chunks.
type dayBucket struct {
	prs     []ghes.SearchIssueItem
	commits []ghes.SearchCommitItem
	issues  []ghes.SearchIssueItem
}

// FetchRange backfills [since, until]. It searches once per monthly chunk
// and kind, buckets hits by day, then enriches only the stale (or forced)
// dates through a worker pool. Per-date failures are recorded and do not
// stop the run; a failed chunk search fails every target date it covers,
// so a dead search endpoint never turns into a silently empty day.
func (f *Fetcher) FetchRange(ctx context.Context, since, until string, kinds Types, force bool, workers int) ([]types.DateResult, error) {
	allDates, err := dates.Range(since, until)
	if err != nil {
		return nil, err
	}
	if len(allDates) == 0 {
		return nil, nil
	}

	buckets, failures, err := f.searchRange(ctx, since, until, kinds)
	if err != nil {
		return nil, err
	}

	targets, results, err := f.planDates(allDates, force)
	if err != nil {
		return nil, err
	}

	slog.Info("fetch range", "since", since, "until", until,
		"dates", len(allDates), "to_fetch", len(targets), "workers", workers)

	var fetchable []string
	for _, date := range targets {
		if cause := failures.errorFor(date); cause != nil {
			results = append(results, f.failDate(date, cause))
			continue
		}
		fetchable = append(fetchable, date)
	}
	results = append(results, f.fetchDates(ctx, fetchable, buckets, kinds, workers)...)

	sort.Slice(results, func(i, j int) bool { return results[i].Date < results[j].Date })

	failed := 0
	for _, r := range results {
		if r.Status == "failed" {
			failed++
		}
	}
	if failed == 0 {
		if err := f.stores.Progress.Clear(); err != nil {
			slog.Warn("failed to clear fetch progress cache", "err", err)
		}
	}
	return results, nil
}

// chunkFailure marks every date of one monthly chunk as unfetchable after
// its search died. The error carries the search kind that failed.
type chunkFailure struct {
	since, until string
	err          error
}

type chunkFailures []chunkFailure

// errorFor returns the failure covering date, or nil.
func (c chunkFailures) errorFor(date string) error {
	for _, failure := range c {
		if date >= failure.since && date <= failure.until {
			return failure.err
		}
	}
	return nil
}

// searchRange collects search hits for every chunk and kind, consulting the
// progress cache first. Search failures do not abort the range: the failed
// chunk is recorded and its dates fail individually, while other chunks
// proceed. Successful kinds of a failed chunk stay cached, so the retry
// only repeats the search that actually broke.
func (f *Fetcher) searchRange(ctx context.Context, since, until string, kinds Types) (map[string]*dayBucket, chunkFailures, error) {
	chunks, err := dates.MonthlyChunks(since, until)
	if err != nil {
		return nil, nil, err
	}

	client, err := f.pool.Acquire(clientAcquireTimeout)
	if err != nil {
		return nil, nil, err
	}
	defer f.pool.Release(client)

	byDay := map[string]*dayBucket{}
	bucket := func(date string) *dayBucket {
		b, ok := byDay[date]
		if !ok {
			b = &dayBucket{}
			byDay[date] = b
		}
		return b
	}

	var failures chunkFailures
	fail := func(chunk dates.Chunk, kind string, err error) {
		slog.Warn("chunk search failed", "since", chunk.Since, "until", chunk.Until, "kind", kind, "err", err)
		failures = append(failures, chunkFailure{since: chunk.Since, until: chunk.Until, err: err})
	}

	for _, chunk := range chunks {
		rangeFilter := chunk.Since + ".." + chunk.Until
		if kinds.enabled(KindPRs) {
			hits, err := f.chunkSearch(chunk, KindPRs, func() (chunkHits, error) {
				dst := map[string]ghes.SearchIssueItem{}
				if err := f.searchPRs(ctx, client, "updated:"+rangeFilter, dst); err != nil {
					return chunkHits{}, err
				}
				out := chunkHits{PRs: map[string][]ghes.SearchIssueItem{}}
				for _, item := range dst {
					day := dates.DatePart(item.UpdatedAt)
					out.PRs[day] = append(out.PRs[day], item)
				}
				return out, nil
			})
			if err != nil {
				fail(chunk, KindPRs, err)
				continue
			}
			for day, items := range hits.PRs {
				bucket(day).prs = append(bucket(day).prs, items...)
			}
		}
		if kinds.enabled(KindCommits) {
			hits, err := f.chunkSearch(chunk, KindCommits, func() (chunkHits, error) {
				items, err := f.searchCommits(ctx, client,
					fmt.Sprintf("author:%s committer-date:%s", f.username, rangeFilter))
				if err != nil {
					return chunkHits{}, err
				}
				out := chunkHits{Commits: map[string][]ghes.SearchCommitItem{}}
				for _, item := range items {
					day := dates.DatePart(item.Commit.Committer.Date)
					out.Commits[day] = append(out.Commits[day], item)
				}
				return out, nil
			})
			if err != nil {
				fail(chunk, KindCommits, err)
				continue
			}
			for day, items := range hits.Commits {
				bucket(day).commits = append(bucket(day).commits, items...)
			}
		}
		if kinds.enabled(KindIssues) {
			hits, err := f.chunkSearch(chunk, KindIssues, func() (chunkHits, error) {
				dst := map[string]ghes.SearchIssueItem{}
				if err := f.searchIssues(ctx, client, "updated:"+rangeFilter, dst); err != nil {
					return chunkHits{}, err
				}
				out := chunkHits{Issues: map[string][]ghes.SearchIssueItem{}}
				for _, item := range dst {
					day := dates.DatePart(item.UpdatedAt)
					out.Issues[day] = append(out.Issues[day], item)
				}
				return out, nil
			})
			if err != nil {
				fail(chunk, KindIssues, err)
				continue
			}
			for day, items := range hits.Issues {
				bucket(day).issues = append(bucket(day).issues, items...)
			}
		}
	}
	return byDay, failures, nil
}

// chunkSearch returns cached hits for (chunk, kind) or runs the search and
// caches its result.
func (f *Fetcher) chunkSearch(chunk dates.Chunk, kind string, search func() (chunkHits, error)) (chunkHits, error) {
	key := state.ChunkKey(chunk.Since, chunk.Until, kind)
	var cached chunkHits
	ok, err := f.stores.Progress.Load(key, &cached)
	if err != nil {
		slog.Warn("failed to read fetch progress cache", "chunk", key, "err", err)
	}
	if ok {
		slog.Debug("chunk search cache hit", "chunk", key)
		return cached, nil
	}
	hits, err := search()
	if err != nil {
		return chunkHits{}, err
	}
	if err := f.stores.Progress.Save(key, hits); err != nil {
		slog.Warn("failed to cache chunk search", "chunk", key, "err", err)
	}
	return hits, nil
}

// planDates splits the range into dates to fetch and pre-decided results
// (skipped because fresh, failed because the retry budget is spent).
func (f *Fetcher) planDates(allDates []string, force bool) ([]string, []types.DateResult, error) {
	if force {
		return allDates, nil, nil
	}
	stale, err := f.stores.Daily.StaleDates(allDates, state.PhaseFetch)
	if err != nil {
		return nil, nil, err
	}
	staleSet := map[string]bool{}
	for _, d := range stale {
		staleSet[d] = true
	}
	exhausted, _, err := f.stores.Failed.ExhaustedDates()
	if err != nil {
		return nil, nil, err
	}

	var targets []string
	var results []types.DateResult
	for _, d := range allDates {
		if rec, ok := exhausted[d]; ok {
			results = append(results, types.DateResult{
				Date:   d,
				Status: "failed",
				Error:  fmt.Sprintf("giving up after %d attempts: %s", rec.Attempts, rec.LastError),
			})
			continue
		}
		if !staleSet[d] {
			results = append(results, types.DateResult{Date: d, Status: "skipped"})
			continue
		}
		targets = append(targets, d)
	}
	return targets, results, nil
}

// fetchDates enriches and saves the target dates through a worker pool.
func (f *Fetcher) fetchDates(ctx context.Context, targets []string, buckets map[string]*dayBucket, kinds Types, workers int) []types.DateResult {
	if len(targets) == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	work := make(chan string)
	var mu sync.Mutex
	var results []types.DateResult
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for date := range work {
				res := f.fetchOneBucketed(ctx, date, buckets[date], kinds)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}
	for _, date := range targets {
		work <- date
	}
	close(work)
	wg.Wait()
	return results
}

// fetchOneBucketed saves one date from pre-searched hits. hits may be nil
// for a day with no activity; the raw files are still written so downstream
// stages see an explicit empty day.
func (f *Fetcher) fetchOneBucketed(ctx context.Context, date string, hits *dayBucket, kinds Types) types.DateResult {
	client, err := f.pool.Acquire(clientAcquireTimeout)
	if err != nil {
		return f.failDate(date, err)
	}
	defer f.pool.Release(client)

	day := rawDay{
		PRs:    map[string]ghes.SearchIssueItem{},
		Issues: map[string]ghes.SearchIssueItem{},
	}
	if hits != nil {
		for _, item := range hits.prs {
			if _, ok := day.PRs[item.APIRef()]; !ok {
				day.PRs[item.APIRef()] = item
			}
		}
		day.Commits = hits.commits
		for _, item := range hits.issues {
			if _, ok := day.Issues[item.URL]; !ok {
				day.Issues[item.URL] = item
			}
		}
	}

	if _, err := f.saveDay(ctx, client, date, day, kinds); err != nil {
		return f.failDate(date, err)
	}
	if err := f.markFetched(date); err != nil {
		return f.failDate(date, err)
	}
	return types.DateResult{Date: date, Status: "success"}
}

func (f *Fetcher) failDate(date string, cause error) types.DateResult {
	slog.Warn("fetch failed", "date", date, "err", cause)
	if recErr := f.stores.Failed.RecordFailure(date, cause); recErr != nil {
		slog.Warn("failed to record fetch failure", "date", date, "err", recErr)
	}
	return types.DateResult{Date: date, Status: "failed", Error: cause.Error()}
}
