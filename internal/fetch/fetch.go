// Package fetch collects one user's GHES activity (pull requests, commits,
// issues) into per-day raw JSON files under data/raw/{YYYY}/{MM}/{DD}/.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/ghes"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// Kinds of raw data a fetch can be limited to.
const (
	KindPRs     = "prs"
	KindCommits = "commits"
	KindIssues  = "issues"
)

// Types filters which kinds a fetch collects. Nil or empty means all.
type Types map[string]bool

func (t Types) enabled(kind string) bool {
	return len(t) == 0 || t[kind]
}

const clientAcquireTimeout = 60 * time.Second

// Stores bundles the persistent state the fetcher maintains.
type Stores struct {
	Checkpoints *state.CheckpointStore
	Daily       *state.DailyStateStore
	Failed      *state.FailedDateStore
	Progress    *state.FetchProgressStore
}

// Fetcher populates the raw layer for requested dates.
type Fetcher struct {
	cfg      *config.Config
	pool     *ghes.Pool
	username string
	stores   Stores
}

// New creates a fetcher using clients from pool.
func New(cfg *config.Config, pool *ghes.Pool, stores Stores) *Fetcher {
	return &Fetcher{cfg: cfg, pool: pool, username: cfg.Username, stores: stores}
}

// Fetch collects all enabled kinds for one date and writes the raw files.
// It returns the raw directory. Per-item enrichment failures are logged and
// skipped; the day still succeeds.
func (f *Fetcher) Fetch(ctx context.Context, date string, kinds Types) (string, error) {
	client, err := f.pool.Acquire(clientAcquireTimeout)
	if err != nil {
		return "", err
	}
	defer f.pool.Release(client)

	day := rawDay{
		PRs:     map[string]ghes.SearchIssueItem{},
		Commits: nil,
		Issues:  map[string]ghes.SearchIssueItem{},
	}
	if kinds.enabled(KindPRs) {
		if err := f.searchPRsForDay(ctx, client, date, day.PRs); err != nil {
			return "", err
		}
	}
	if kinds.enabled(KindCommits) {
		commits, err := f.searchCommits(ctx, client, fmt.Sprintf("author:%s committer-date:%s", f.username, date))
		if err != nil {
			return "", err
		}
		day.Commits = commits
	}
	if kinds.enabled(KindIssues) {
		if err := f.searchIssues(ctx, client, "updated:"+date, day.Issues); err != nil {
			return "", err
		}
	}

	dir, err := f.saveDay(ctx, client, date, day, kinds)
	if err != nil {
		return "", err
	}
	if err := f.markFetched(date); err != nil {
		return "", err
	}
	return dir, nil
}

// rawDay holds one day's search hits before enrichment.
type rawDay struct {
	PRs     map[string]ghes.SearchIssueItem // keyed by PR API URL
	Commits []ghes.SearchCommitItem
	Issues  map[string]ghes.SearchIssueItem // keyed by issue API URL
}

// searchPRsForDay runs the three PR axes for one date into dst.
func (f *Fetcher) searchPRsForDay(ctx context.Context, client *ghes.Client, date string, dst map[string]ghes.SearchIssueItem) error {
	return f.searchPRs(ctx, client, "updated:"+date, dst)
}

// searchPRs unions the author, reviewed-by and commenter axes, deduping on
// the PR API URL. Hosts that reject the reviewed-by qualifier just lose that
// axis; review activity is still recovered from the enriched reviews list.
func (f *Fetcher) searchPRs(ctx context.Context, client *ghes.Client, dateFilter string, dst map[string]ghes.SearchIssueItem) error {
	axes := []string{
		"author:" + f.username,
		"reviewed-by:" + f.username,
		"commenter:" + f.username,
	}
	for _, qualifier := range axes {
		query := fmt.Sprintf("type:pr %s %s", qualifier, dateFilter)
		items, err := client.SearchIssuesAll(ctx, query)
		if err != nil {
			if strings.HasPrefix(qualifier, "reviewed-by") {
				slog.Warn("reviewed-by qualifier not supported, skipping axis", "err", err)
				continue
			}
			return err
		}
		for _, item := range items {
			ref := item.APIRef()
			if _, ok := dst[ref]; !ok {
				dst[ref] = item
			}
		}
	}
	return nil
}

// searchCommits runs the commit axis. An error here fails the date: an
// empty result and a failed search must stay distinguishable, or a 500
// would be recorded as a day without commits.
func (f *Fetcher) searchCommits(ctx context.Context, client *ghes.Client, query string) ([]ghes.SearchCommitItem, error) {
	return client.SearchCommitsAll(ctx, query)
}

// searchIssues unions the two issue axes into dst. Any axis failure fails
// the date.
func (f *Fetcher) searchIssues(ctx context.Context, client *ghes.Client, dateFilter string, dst map[string]ghes.SearchIssueItem) error {
	axes := []string{
		"author:" + f.username,
		"commenter:" + f.username,
	}
	for _, qualifier := range axes {
		query := fmt.Sprintf("type:issue %s %s", qualifier, dateFilter)
		items, err := client.SearchIssuesAll(ctx, query)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, ok := dst[item.URL]; !ok {
				dst[item.URL] = item
			}
		}
	}
	return nil
}

// saveDay enriches one day's hits and writes the raw files for the enabled
// kinds. Returns the raw directory.
func (f *Fetcher) saveDay(ctx context.Context, client *ghes.Client, date string, day rawDay, kinds Types) (string, error) {
	dir := f.cfg.RawDir(date)

	if kinds.enabled(KindPRs) {
		prs := make([]types.PullRequest, 0, len(day.PRs))
		for ref, item := range day.PRs {
			pr, err := f.enrichPR(ctx, client, item)
			if err != nil {
				slog.Warn("failed to enrich PR, skipping", "pr", ref, "err", err)
				continue
			}
			prs = append(prs, pr)
		}
		if err := types.SaveJSON(filepath.Join(dir, "prs.json"), prs); err != nil {
			return "", err
		}
	}
	if kinds.enabled(KindCommits) {
		commits := make([]types.Commit, 0, len(day.Commits))
		for _, item := range day.Commits {
			commit, err := f.enrichCommit(ctx, client, item)
			if err != nil {
				slog.Warn("failed to enrich commit, skipping", "sha", item.SHA, "err", err)
				continue
			}
			commits = append(commits, commit)
		}
		if err := types.SaveJSON(filepath.Join(dir, "commits.json"), commits); err != nil {
			return "", err
		}
	}
	if kinds.enabled(KindIssues) {
		issues := make([]types.Issue, 0, len(day.Issues))
		for ref, item := range day.Issues {
			issue, err := f.enrichIssue(ctx, client, item)
			if err != nil {
				slog.Warn("failed to enrich issue, skipping", "issue", ref, "err", err)
				continue
			}
			issues = append(issues, issue)
		}
		if err := types.SaveJSON(filepath.Join(dir, "issues.json"), issues); err != nil {
			return "", err
		}
	}

	slog.Info("fetched raw data",
		"date", date, "prs", len(day.PRs), "commits", len(day.Commits), "issues", len(day.Issues), "dir", dir)
	return dir, nil
}

func (f *Fetcher) markFetched(date string) error {
	if err := f.stores.Checkpoints.Set(state.KeyLastFetch, date); err != nil {
		return err
	}
	if err := f.stores.Daily.MarkFetched(date); err != nil {
		return err
	}
	return f.stores.Failed.RecordSuccess(date)
}

// ── Enrichment ──

func (f *Fetcher) enrichPR(ctx context.Context, client *ghes.Client, item ghes.SearchIssueItem) (types.PullRequest, error) {
	owner, repo, number, err := parseAPIPath(item.APIRef(), "pulls")
	if err != nil {
		return types.PullRequest{}, err
	}
	detail, err := client.GetPR(ctx, owner, repo, number)
	if err != nil {
		return types.PullRequest{}, err
	}
	files, err := client.GetPRFiles(ctx, owner, repo, number)
	if err != nil {
		return types.PullRequest{}, err
	}
	comments, err := client.GetPRComments(ctx, owner, repo, number)
	if err != nil {
		return types.PullRequest{}, err
	}
	reviews, err := client.GetPRReviews(ctx, owner, repo, number)
	if err != nil {
		return types.PullRequest{}, err
	}

	pr := types.PullRequest{
		URL:       detail.HTMLURL,
		APIURL:    detail.URL,
		Number:    detail.Number,
		Title:     detail.Title,
		Body:      detail.Body,
		State:     detail.State,
		IsMerged:  detail.Merged,
		CreatedAt: detail.CreatedAt,
		UpdatedAt: detail.UpdatedAt,
		MergedAt:  detail.MergedAt,
		Repo:      owner + "/" + repo,
		Author:    detail.User.Login,
		Files:     convertFiles(files),
	}
	for _, label := range detail.Labels {
		pr.Labels = append(pr.Labels, label.Name)
	}
	for _, c := range comments {
		if isNoiseComment(c) {
			continue
		}
		pr.Comments = append(pr.Comments, convertComment(c))
	}
	for _, r := range reviews {
		if isNoiseReview(r) {
			continue
		}
		pr.Reviews = append(pr.Reviews, types.Review{
			Author:      r.User.Login,
			State:       r.State,
			Body:        r.Body,
			SubmittedAt: r.SubmittedAt,
			URL:         r.HTMLURL,
		})
	}
	return pr, nil
}

func (f *Fetcher) enrichCommit(ctx context.Context, client *ghes.Client, item ghes.SearchCommitItem) (types.Commit, error) {
	owner, repo, ok := strings.Cut(item.Repository.FullName, "/")
	if !ok {
		return types.Commit{}, fmt.Errorf("malformed repository name %q", item.Repository.FullName)
	}
	detail, err := client.GetCommit(ctx, owner, repo, item.SHA)
	if err != nil {
		return types.Commit{}, err
	}
	author := f.username
	if item.Author != nil && item.Author.Login != "" {
		author = item.Author.Login
	}
	return types.Commit{
		SHA:         detail.SHA,
		URL:         detail.HTMLURL,
		APIURL:      detail.URL,
		Message:     detail.Commit.Message,
		Author:      author,
		Repo:        item.Repository.FullName,
		CommittedAt: detail.Commit.Committer.Date,
		Files:       convertFiles(detail.Files),
	}, nil
}

func (f *Fetcher) enrichIssue(ctx context.Context, client *ghes.Client, item ghes.SearchIssueItem) (types.Issue, error) {
	owner, repo, number, err := parseAPIPath(item.URL, "issues")
	if err != nil {
		return types.Issue{}, err
	}
	detail, err := client.GetIssue(ctx, owner, repo, number)
	if err != nil {
		return types.Issue{}, err
	}
	comments, err := client.GetIssueComments(ctx, owner, repo, number)
	if err != nil {
		return types.Issue{}, err
	}

	issue := types.Issue{
		URL:       detail.HTMLURL,
		APIURL:    detail.URL,
		Number:    detail.Number,
		Title:     detail.Title,
		Body:      detail.Body,
		State:     detail.State,
		CreatedAt: detail.CreatedAt,
		UpdatedAt: detail.UpdatedAt,
		ClosedAt:  detail.ClosedAt,
		Repo:      owner + "/" + repo,
		Author:    detail.User.Login,
	}
	for _, label := range detail.Labels {
		issue.Labels = append(issue.Labels, label.Name)
	}
	for _, c := range comments {
		if isNoiseComment(c) {
			continue
		}
		issue.Comments = append(issue.Comments, convertComment(c))
	}
	return issue, nil
}

func convertFiles(files []ghes.PRFile) []types.FileChange {
	if len(files) == 0 {
		return nil
	}
	out := make([]types.FileChange, len(files))
	for i, f := range files {
		out[i] = types.FileChange{
			Filename:  f.Filename,
			Additions: f.Additions,
			Deletions: f.Deletions,
			Status:    f.Status,
			Patch:     f.Patch,
		}
	}
	return out
}

func convertComment(c ghes.IssueComment) types.Comment {
	return types.Comment{
		Author:    c.User.Login,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		URL:       c.HTMLURL,
		Path:      c.Path,
		Line:      c.Line,
		DiffHunk:  c.DiffHunk,
	}
}

// parseAPIPath extracts owner, repo and number from an API URL like
// .../repos/{owner}/{repo}/{segment}/{number}.
func parseAPIPath(apiURL, segment string) (string, string, int, error) {
	parts := strings.Split(strings.TrimRight(apiURL, "/"), "/")
	for i, part := range parts {
		if part != segment || i < 2 || i+1 >= len(parts) {
			continue
		}
		number, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return "", "", 0, fmt.Errorf("malformed API URL %q: %w", apiURL, err)
		}
		return parts[i-2], parts[i-1], number, nil
	}
	return "", "", 0, fmt.Errorf("malformed API URL %q: no %s segment", apiURL, segment)
}
