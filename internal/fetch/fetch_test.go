package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/ghes"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

type fixture struct {
	fetcher *Fetcher
	cfg     *config.Config
	stores  Stores
	// searchCalls counts hits on the search endpoints.
	searchCalls *atomic.Int64
}

func newFixture(t *testing.T, handler func(mux *http.ServeMux, searchCalls *atomic.Int64)) *fixture {
	t.Helper()
	var searchCalls atomic.Int64
	mux := http.NewServeMux()
	handler(mux, &searchCalls)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		DataDir:  t.TempDir(),
		Username: "testuser",
	}
	stateDir := t.TempDir()
	stores := Stores{
		Checkpoints: state.NewCheckpointStore(filepath.Join(stateDir, "checkpoints.json")),
		Daily:       state.NewDailyStateStore(filepath.Join(stateDir, "daily_state.json")),
		Failed:      state.NewFailedDateStore(filepath.Join(stateDir, "failed_dates.json"), 3),
		Progress:    state.NewFetchProgressStore(filepath.Join(stateDir, "fetch_progress")),
	}
	pool := ghes.NewPool(2, ghes.Options{BaseURL: server.URL, Token: "t"})
	return &fixture{
		fetcher:     New(cfg, pool, stores),
		cfg:         cfg,
		stores:      stores,
		searchCalls: &searchCalls,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func searchItem(apiURL string, number int, updatedAt string) map[string]any {
	return map[string]any{
		"url":          fmt.Sprintf("https://ghes/api/v3/repos/org/repo/issues/%d", number),
		"html_url":     fmt.Sprintf("https://ghes/org/repo/pull/%d", number),
		"number":       number,
		"title":        "Test PR",
		"updated_at":   updatedAt,
		"pull_request": map[string]any{"url": apiURL},
	}
}

// prBackend wires a server that returns one PR on the author axis plus its
// enrichment endpoints, one commit, and one issue.
func prBackend(mux *http.ServeMux, searchCalls *atomic.Int64) {
	mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
		searchCalls.Add(1)
		q := r.URL.Query().Get("q")
		switch {
		case strings.Contains(q, "type:pr") && strings.Contains(q, "author:"):
			writeJSON(w, map[string]any{"total_count": 1, "items": []any{
				searchItem("/api/v3/repos/org/repo/pulls/1", 1, "2025-02-16T15:00:00Z"),
			}})
		case strings.Contains(q, "type:issue") && strings.Contains(q, "author:"):
			writeJSON(w, map[string]any{"total_count": 1, "items": []any{map[string]any{
				"url":        "https://ghes/api/v3/repos/org/repo/issues/10",
				"html_url":   "https://ghes/org/repo/issues/10",
				"number":     10,
				"title":      "Bug report",
				"updated_at": "2025-02-16T15:00:00Z",
			}}})
		default:
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		}
	})
	mux.HandleFunc("/api/v3/search/commits", func(w http.ResponseWriter, r *http.Request) {
		searchCalls.Add(1)
		writeJSON(w, map[string]any{"total_count": 1, "items": []any{map[string]any{
			"sha":        "abc123",
			"repository": map[string]any{"full_name": "org/repo"},
			"author":     map[string]any{"login": "testuser"},
			"commit": map[string]any{
				"message":   "feat: add feature",
				"committer": map[string]any{"date": "2025-02-16T10:00:00Z"},
			},
		}}})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/pulls/1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"url":        "https://ghes/api/v3/repos/org/repo/pulls/1",
			"html_url":   "https://ghes/org/repo/pull/1",
			"number":     1,
			"title":      "Test PR",
			"body":       "Description",
			"state":      "closed",
			"merged":     true,
			"created_at": "2025-02-16T09:00:00Z",
			"updated_at": "2025-02-16T15:00:00Z",
			"merged_at":  "2025-02-16T14:00:00Z",
			"user":       map[string]any{"login": "testuser"},
			"labels":     []any{map[string]any{"name": "feature"}},
		})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/pulls/1/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{
			"filename": "src/main.go", "additions": 10, "deletions": 3, "status": "modified",
		}})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/pulls/1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{
			map[string]any{
				"user": map[string]any{"login": "reviewer1"}, "body": "Good approach",
				"created_at": "2025-02-16T11:00:00Z", "html_url": "https://ghes/c1",
			},
			map[string]any{
				"user": map[string]any{"login": "ci-bot"}, "body": "Build passed",
				"created_at": "2025-02-16T11:05:00Z", "html_url": "https://ghes/c2",
			},
		})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/issues/1/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/pulls/1/reviews", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{map[string]any{
			"user": map[string]any{"login": "reviewer1"}, "state": "APPROVED",
			"body": "", "submitted_at": "2025-02-16T12:00:00Z", "html_url": "https://ghes/r1",
		}})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"sha":      "abc123",
			"url":      "https://ghes/api/v3/repos/org/repo/commits/abc123",
			"html_url": "https://ghes/org/repo/commit/abc123",
			"commit": map[string]any{
				"message":   "feat: add feature\n\nDetails",
				"committer": map[string]any{"date": "2025-02-16T10:00:00Z"},
			},
			"files": []any{map[string]any{
				"filename": "src/main.go", "additions": 10, "deletions": 3, "status": "modified",
			}},
		})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/issues/10", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"url":        "https://ghes/api/v3/repos/org/repo/issues/10",
			"html_url":   "https://ghes/org/repo/issues/10",
			"number":     10,
			"title":      "Bug report",
			"body":       "Steps to reproduce",
			"state":      "open",
			"created_at": "2025-02-16T09:00:00Z",
			"updated_at": "2025-02-16T15:00:00Z",
			"user":       map[string]any{"login": "testuser"},
			"labels":     []any{map[string]any{"name": "bug"}},
		})
	})
	mux.HandleFunc("/api/v3/repos/org/repo/issues/10/comments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{})
	})
}

func TestFetchWritesAllRawFiles(t *testing.T) {
	fx := newFixture(t, prBackend)
	dir, err := fx.fetcher.Fetch(context.Background(), "2025-02-16", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	var prs []types.PullRequest
	if err := types.LoadJSON(filepath.Join(dir, "prs.json"), &prs); err != nil {
		t.Fatalf("load prs.json: %v", err)
	}
	if len(prs) != 1 || prs[0].Title != "Test PR" || !prs[0].IsMerged || prs[0].Repo != "org/repo" {
		t.Errorf("prs = %+v", prs)
	}
	if len(prs[0].Comments) != 1 {
		t.Errorf("bot comment not filtered: %+v", prs[0].Comments)
	}
	if len(prs[0].Files) != 1 || prs[0].Files[0].Filename != "src/main.go" {
		t.Errorf("files = %+v", prs[0].Files)
	}
	if prs[0].Labels[0] != "feature" {
		t.Errorf("labels = %v", prs[0].Labels)
	}

	var commits []types.Commit
	if err := types.LoadJSON(filepath.Join(dir, "commits.json"), &commits); err != nil {
		t.Fatalf("load commits.json: %v", err)
	}
	if len(commits) != 1 || commits[0].SHA != "abc123" || len(commits[0].Files) != 1 {
		t.Errorf("commits = %+v", commits)
	}

	var issues []types.Issue
	if err := types.LoadJSON(filepath.Join(dir, "issues.json"), &issues); err != nil {
		t.Fatalf("load issues.json: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 10 {
		t.Errorf("issues = %+v", issues)
	}

	cp, err := fx.stores.Checkpoints.Get(state.KeyLastFetch)
	if err != nil || cp != "2025-02-16" {
		t.Errorf("checkpoint = %q, err %v", cp, err)
	}
	rec, ok, err := fx.stores.Daily.Get("2025-02-16")
	if err != nil || !ok || rec.FetchedAt == "" {
		t.Errorf("daily state = %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestFetchTypesFilter(t *testing.T) {
	fx := newFixture(t, prBackend)
	dir, err := fx.fetcher.Fetch(context.Background(), "2025-02-16", Types{KindCommits: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var commits []types.Commit
	if err := types.LoadJSON(filepath.Join(dir, "commits.json"), &commits); err != nil {
		t.Fatalf("load commits.json: %v", err)
	}
	var prs []types.PullRequest
	if err := types.LoadJSON(filepath.Join(dir, "prs.json"), &prs); err == nil {
		t.Error("prs.json should not exist for a commits-only fetch")
	}
}

func TestFetchReviewedByFallback(t *testing.T) {
	fx := newFixture(t, func(mux *http.ServeMux, searchCalls *atomic.Int64) {
		mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
			searchCalls.Add(1)
			if strings.Contains(r.URL.Query().Get("q"), "reviewed-by:") {
				w.WriteHeader(http.StatusUnprocessableEntity)
				writeJSON(w, map[string]any{"message": "Validation Failed"})
				return
			}
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
		mux.HandleFunc("/api/v3/search/commits", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
	})
	if _, err := fx.fetcher.Fetch(context.Background(), "2025-02-16", nil); err != nil {
		t.Fatalf("Fetch should survive a rejected reviewed-by axis: %v", err)
	}
}

func TestFetchEnrichFailureSkipsItem(t *testing.T) {
	fx := newFixture(t, func(mux *http.ServeMux, searchCalls *atomic.Int64) {
		mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query().Get("q")
			if strings.Contains(q, "type:pr") && strings.Contains(q, "author:") {
				writeJSON(w, map[string]any{"total_count": 1, "items": []any{
					searchItem("/api/v3/repos/org/repo/pulls/1", 1, "2025-02-16T15:00:00Z"),
				}})
				return
			}
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
		mux.HandleFunc("/api/v3/search/commits", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
		// Enrichment endpoints 404: the PR is dropped, the day still succeeds.
	})
	dir, err := fx.fetcher.Fetch(context.Background(), "2025-02-16", nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var prs []types.PullRequest
	if err := types.LoadJSON(filepath.Join(dir, "prs.json"), &prs); err != nil {
		t.Fatalf("load prs.json: %v", err)
	}
	if len(prs) != 0 {
		t.Errorf("prs = %+v, want empty", prs)
	}
}

func TestNoiseComment(t *testing.T) {
	cases := []struct {
		login, body string
		noise       bool
	}{
		{"dependabot[bot]", "Update deps", true},
		{"ci-bot", "Build passed", true},
		{"human", "LGTM", true},
		{"human", "lgtm!", true},
		{"human", "+1", true},
		{"human", ":shipit:", true},
		{"human", "Ship it!", true},
		{"human", "", true},
		{"human", "   ", true},
		{"human", "Good approach, but consider...", false},
		{"human", "LGTM, but one minor thing", false},
	}
	for _, tc := range cases {
		c := ghes.IssueComment{User: ghes.User{Login: tc.login}, Body: tc.body}
		if got := isNoiseComment(c); got != tc.noise {
			t.Errorf("isNoiseComment(%q, %q) = %v, want %v", tc.login, tc.body, got, tc.noise)
		}
	}
	if !isNoiseReview(ghes.PRReview{User: ghes.User{Login: "dependabot[bot]"}}) {
		t.Error("bot review should be noise")
	}
	if isNoiseReview(ghes.PRReview{User: ghes.User{Login: "human"}, State: "APPROVED"}) {
		t.Error("human review should be kept")
	}
}

func TestParseAPIPath(t *testing.T) {
	owner, repo, number, err := parseAPIPath("https://ghes/api/v3/repos/my-org/my-repo/pulls/7", "pulls")
	if err != nil || owner != "my-org" || repo != "my-repo" || number != 7 {
		t.Errorf("got %s/%s#%d err=%v", owner, repo, number, err)
	}
	owner, repo, number, err = parseAPIPath("https://ghes/api/v3/repos/org/repo/issues/42/", "issues")
	if err != nil || owner != "org" || repo != "repo" || number != 42 {
		t.Errorf("got %s/%s#%d err=%v", owner, repo, number, err)
	}
	if _, _, _, err := parseAPIPath("https://ghes/not/a/pr", "pulls"); err == nil {
		t.Error("want error for URL without segment")
	}
}

func TestFetchRangeSkipsFreshDates(t *testing.T) {
	fx := newFixture(t, prBackend)
	// 2025-02-16 was fetched after that day ended, so it is fresh.
	if err := fx.stores.Daily.MarkFetched("2025-02-16"); err != nil {
		t.Fatal(err)
	}

	results, err := fx.fetcher.FetchRange(context.Background(), "2025-02-16", "2025-02-17", nil, false, 2)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Date != "2025-02-16" || results[0].Status != "skipped" {
		t.Errorf("day 1 = %+v", results[0])
	}
	if results[1].Date != "2025-02-17" || results[1].Status != "success" {
		t.Errorf("day 2 = %+v", results[1])
	}
}

func TestFetchRangeForceRefetches(t *testing.T) {
	fx := newFixture(t, prBackend)
	if err := fx.stores.Daily.MarkFetched("2025-02-16"); err != nil {
		t.Fatal(err)
	}
	results, err := fx.fetcher.FetchRange(context.Background(), "2025-02-16", "2025-02-16", nil, true, 1)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(results) != 1 || results[0].Status != "success" {
		t.Errorf("results = %+v", results)
	}
}

func TestFetchRangeBucketsByActualDay(t *testing.T) {
	fx := newFixture(t, prBackend)
	// The backend reports the PR as updated on 2025-02-16; a range covering
	// the 15th..16th must land it on the 16th only.
	results, err := fx.fetcher.FetchRange(context.Background(), "2025-02-15", "2025-02-16", nil, false, 1)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}

	var prs15, prs16 []types.PullRequest
	if err := types.LoadJSON(filepath.Join(fx.cfg.RawDir("2025-02-15"), "prs.json"), &prs15); err != nil {
		t.Fatal(err)
	}
	if err := types.LoadJSON(filepath.Join(fx.cfg.RawDir("2025-02-16"), "prs.json"), &prs16); err != nil {
		t.Fatal(err)
	}
	if len(prs15) != 0 || len(prs16) != 1 {
		t.Errorf("prs on 15th = %d, 16th = %d", len(prs15), len(prs16))
	}
}

func TestFetchRangeUsesProgressCache(t *testing.T) {
	fx := newFixture(t, prBackend)

	if _, err := fx.fetcher.FetchRange(context.Background(), "2025-02-16", "2025-02-16", nil, false, 1); err != nil {
		t.Fatalf("first FetchRange: %v", err)
	}
	// A clean run clears the cache; repopulate it and confirm the second run
	// does not search again.
	firstCalls := fx.searchCalls.Load()
	for _, kind := range []string{KindPRs, KindCommits, KindIssues} {
		key := state.ChunkKey("2025-02-16", "2025-02-17", kind)
		if err := fx.stores.Progress.Save(key, chunkHits{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := fx.fetcher.FetchRange(context.Background(), "2025-02-16", "2025-02-17", nil, true, 1); err != nil {
		t.Fatalf("second FetchRange: %v", err)
	}
	if got := fx.searchCalls.Load(); got != firstCalls {
		t.Errorf("search calls went from %d to %d despite cache", firstCalls, got)
	}
}

func TestFetchIssueSearchFailureFailsDay(t *testing.T) {
	fx := newFixture(t, func(mux *http.ServeMux, searchCalls *atomic.Int64) {
		mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
			searchCalls.Add(1)
			if strings.Contains(r.URL.Query().Get("q"), "type:issue") {
				w.WriteHeader(http.StatusBadRequest)
				writeJSON(w, map[string]any{"message": "boom"})
				return
			}
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
		mux.HandleFunc("/api/v3/search/commits", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
	})
	_, err := fx.fetcher.Fetch(context.Background(), "2025-02-16", nil)
	if err == nil {
		t.Fatal("a failed issue search must fail the day, not degrade to no issues")
	}
	if !strings.Contains(err.Error(), "Client error 400") {
		t.Errorf("err = %v", err)
	}
	if _, ok, _ := fx.stores.Daily.Get("2025-02-16"); ok {
		t.Error("day must not be marked fetched after a search failure")
	}
}

func TestFetchRangeFailsDatesWhenChunkSearchDies(t *testing.T) {
	var failCommits atomic.Bool
	failCommits.Store(true)
	fx := newFixture(t, func(mux *http.ServeMux, searchCalls *atomic.Int64) {
		mux.HandleFunc("/api/v3/search/issues", func(w http.ResponseWriter, r *http.Request) {
			searchCalls.Add(1)
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
		mux.HandleFunc("/api/v3/search/commits", func(w http.ResponseWriter, r *http.Request) {
			searchCalls.Add(1)
			// Only the February chunk's commit search is down.
			if failCommits.Load() && strings.Contains(r.URL.Query().Get("q"), "2025-02-28") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]any{"total_count": 0, "items": []any{}})
		})
	})

	// 2025-02-28 and 2025-03-01 fall into different monthly chunks, so the
	// dead commit search must fail only the February date.
	results, err := fx.fetcher.FetchRange(context.Background(), "2025-02-28", "2025-03-01", nil, false, 1)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Date != "2025-02-28" || results[0].Status != "failed" {
		t.Fatalf("february date = %+v, want failed", results[0])
	}
	if !strings.Contains(results[0].Error, "Server error 500") {
		t.Errorf("error = %q, want the search status surfaced", results[0].Error)
	}
	if results[1].Date != "2025-03-01" || results[1].Status != "success" {
		t.Errorf("march date = %+v, want success", results[1])
	}

	// The failure is transient, so the retry ledger must allow another go
	// and the day must not look fetched.
	if ok, err := fx.stores.Failed.ShouldRetry("2025-02-28"); err != nil || !ok {
		t.Errorf("ShouldRetry = %v, %v, want retryable", ok, err)
	}
	if _, ok, _ := fx.stores.Daily.Get("2025-02-28"); ok {
		t.Error("failed day must not be marked fetched")
	}

	// Next run with the endpoint recovered: the failed date is re-attempted,
	// the fresh one is skipped.
	failCommits.Store(false)
	results, err = fx.fetcher.FetchRange(context.Background(), "2025-02-28", "2025-03-01", nil, false, 1)
	if err != nil {
		t.Fatalf("second FetchRange: %v", err)
	}
	if results[0].Date != "2025-02-28" || results[0].Status != "success" {
		t.Errorf("february date after recovery = %+v", results[0])
	}
	if results[1].Status != "skipped" {
		t.Errorf("march date after recovery = %+v, want skipped", results[1])
	}
}

func TestFetchRangeReportsExhaustedDates(t *testing.T) {
	fx := newFixture(t, prBackend)
	permanent := &ghes.FetchError{Reason: "Client error 404", StatusCode: 404, Endpoint: "/x"}
	for i := 0; i < 3; i++ {
		if err := fx.stores.Failed.RecordFailure("2025-02-16", permanent); err != nil {
			t.Fatal(err)
		}
	}

	results, err := fx.fetcher.FetchRange(context.Background(), "2025-02-16", "2025-02-16", nil, false, 1)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(results) != 1 || results[0].Status != "failed" {
		t.Fatalf("results = %+v", results)
	}
	if !strings.Contains(results[0].Error, "giving up after") {
		t.Errorf("error = %q", results[0].Error)
	}
}
