// Package normalize turns one day's raw GHES records into the normalized
// activity stream (activities.jsonl) and its statistics (stats.json).
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/workrecap/workrecap/internal/config"
	"github.com/workrecap/workrecap/internal/dates"
	"github.com/workrecap/workrecap/internal/llm"
	"github.com/workrecap/workrecap/internal/prompts"
	"github.com/workrecap/workrecap/internal/state"
	"github.com/workrecap/workrecap/internal/types"
)

// NormalizeError wraps a per-date normalization failure.
type NormalizeError struct {
	Date string
	Err  error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.Date, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Commit titles longer than this are cut with a trailing ellipsis.
const maxCommitTitle = 120

// Normalizer converts raw files into activities and stats. router may be
// nil, which disables LLM enrichment.
type Normalizer struct {
	cfg                *config.Config
	username           string
	includeOwnComments bool
	router             *llm.Router
	prompts            *prompts.Library
	checkpoints        *state.CheckpointStore
	daily              *state.DailyStateStore
}

// New creates a normalizer.
func New(cfg *config.Config, router *llm.Router, lib *prompts.Library, checkpoints *state.CheckpointStore, daily *state.DailyStateStore) *Normalizer {
	return &Normalizer{
		cfg:                cfg,
		username:           cfg.Username,
		includeOwnComments: cfg.IncludeOwnComments,
		router:             router,
		prompts:            lib,
		checkpoints:        checkpoints,
		daily:              daily,
	}
}

// Normalize processes one date end to end, including enrichment when an LLM
// router is configured. Returns the written activities and stats.
func (n *Normalizer) Normalize(ctx context.Context, date string) ([]types.Activity, types.DailyStats, error) {
	activities, err := n.convertDay(date)
	if err != nil {
		return nil, types.DailyStats{}, err
	}
	n.enrich(ctx, activities)
	stats := computeStats(date, activities)
	if err := n.save(date, activities, stats); err != nil {
		return nil, types.DailyStats{}, &NormalizeError{Date: date, Err: err}
	}
	if err := n.markNormalized(date); err != nil {
		return nil, types.DailyStats{}, &NormalizeError{Date: date, Err: err}
	}
	slog.Info("normalized", "date", date, "activities", len(activities))
	return activities, stats, nil
}

// normalizeWithoutEnrich runs the conversion and saves, skipping the LLM.
// The batch range path enriches afterwards and rewrites activities.jsonl.
func (n *Normalizer) normalizeWithoutEnrich(date string) ([]types.Activity, error) {
	activities, err := n.convertDay(date)
	if err != nil {
		return nil, err
	}
	stats := computeStats(date, activities)
	if err := n.save(date, activities, stats); err != nil {
		return nil, &NormalizeError{Date: date, Err: err}
	}
	if err := n.markNormalized(date); err != nil {
		return nil, &NormalizeError{Date: date, Err: err}
	}
	return activities, nil
}

// convertDay loads the raw files and produces the sorted activity list.
// prs.json is required; commits.json and issues.json are optional and
// parse failures there degrade to empty lists.
func (n *Normalizer) convertDay(date string) ([]types.Activity, error) {
	rawDir := n.cfg.RawDir(date)

	prsPath := filepath.Join(rawDir, "prs.json")
	var prs []types.PullRequest
	if err := types.LoadJSON(prsPath, &prs); err != nil {
		if os.IsNotExist(err) {
			return nil, &NormalizeError{Date: date, Err: fmt.Errorf("raw file not found: %s", prsPath)}
		}
		return nil, &NormalizeError{Date: date, Err: err}
	}

	var commits []types.Commit
	commitsPath := filepath.Join(rawDir, "commits.json")
	if err := types.LoadJSON(commitsPath, &commits); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to parse commits file, skipping commits", "path", commitsPath, "err", err)
		commits = nil
	}
	var issues []types.Issue
	issuesPath := filepath.Join(rawDir, "issues.json")
	if err := types.LoadJSON(issuesPath, &issues); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to parse issues file, skipping issues", "path", issuesPath, "err", err)
		issues = nil
	}

	activities := n.convertPRs(prs, date)
	activities = append(activities, n.convertCommits(commits, date)...)
	activities = append(activities, n.convertIssues(issues, date)...)
	sort.SliceStable(activities, func(i, j int) bool { return activities[i].TS < activities[j].TS })
	return activities, nil
}

func (n *Normalizer) isUser(login string) bool {
	return strings.EqualFold(login, n.username)
}

// convertPRs extracts the user's activities from the day's PRs.
//
// Rules: authored when the user created the PR on the target date; reviewed
// when any of the user's reviews landed that day (at most one activity per
// PR, never on the user's own PR); commented when any of the user's comments
// landed that day (one activity carrying all comment URLs).
func (n *Normalizer) convertPRs(prs []types.PullRequest, date string) []types.Activity {
	var activities []types.Activity
	for i := range prs {
		pr := &prs[i]
		isAuthor := n.isUser(pr.Author)

		if isAuthor && dates.SameDay(pr.CreatedAt, date) {
			activities = append(activities, n.prActivity(pr, types.KindPRAuthored, pr.CreatedAt, nil, nil, nil, nil))
		}

		if !isAuthor {
			for _, review := range pr.Reviews {
				if !n.isUser(review.Author) || !dates.SameDay(review.SubmittedAt, date) {
					continue
				}
				var inline []types.CommentContext
				for _, c := range pr.Comments {
					if n.isUser(c.Author) && c.Path != "" {
						inline = append(inline, types.CommentContext{
							Path: c.Path, Line: c.Line, DiffHunk: c.DiffHunk, Body: c.Body,
						})
					}
				}
				activities = append(activities, n.prActivity(pr, types.KindPRReviewed, review.SubmittedAt,
					[]string{review.URL}, []string{review.Body}, nil, inline))
				break // one review activity per PR
			}
		}

		if isAuthor && !n.includeOwnComments {
			continue
		}
		var userComments []types.Comment
		for _, c := range pr.Comments {
			if n.isUser(c.Author) && dates.SameDay(c.CreatedAt, date) {
				userComments = append(userComments, c)
			}
		}
		if len(userComments) == 0 {
			continue
		}
		earliest := userComments[0]
		var urls, bodies []string
		var contexts []types.CommentContext
		for _, c := range userComments {
			if c.CreatedAt < earliest.CreatedAt {
				earliest = c
			}
			urls = append(urls, c.URL)
			bodies = append(bodies, c.Body)
			if c.Path != "" {
				contexts = append(contexts, types.CommentContext{
					Path: c.Path, Line: c.Line, DiffHunk: c.DiffHunk, Body: c.Body,
				})
			}
		}
		activities = append(activities, n.prActivity(pr, types.KindPRCommented, earliest.CreatedAt,
			urls, nil, bodies, contexts))
	}
	return activities
}

func (n *Normalizer) prActivity(pr *types.PullRequest, kind types.ActivityKind, ts string,
	evidenceURLs, reviewBodies, commentBodies []string, contexts []types.CommentContext) types.Activity {
	adds, dels := 0, 0
	var fileNames []string
	var patches map[string]string
	for _, f := range pr.Files {
		adds += f.Additions
		dels += f.Deletions
		fileNames = append(fileNames, f.Filename)
		if f.Patch != "" {
			if patches == nil {
				patches = map[string]string{}
			}
			patches[f.Filename] = f.Patch
		}
	}
	return types.Activity{
		TS:            ts,
		Kind:          kind,
		Repo:          pr.Repo,
		ExternalID:    pr.Number,
		Title:         pr.Title,
		URL:           pr.URL,
		Summary:       autoSummary(kind, pr.Title, pr.Repo, pr.Body, fileNames, adds, dels),
		Body:          pr.Body,
		ReviewBodies:  reviewBodies,
		CommentBodies: commentBodies,
		Files:         fileNames,
		FilePatches:   patches,
		Additions:     adds,
		Deletions:     dels,
		Labels:        pr.Labels,
		EvidenceURLs:  evidenceURLs,
		CommentCtxs:   contexts,
	}
}

func (n *Normalizer) convertCommits(commits []types.Commit, date string) []types.Activity {
	var activities []types.Activity
	for _, commit := range commits {
		if !dates.SameDay(commit.CommittedAt, date) {
			continue
		}
		title := commitTitle(commit.Message)
		adds, dels := 0, 0
		var fileNames []string
		var patches map[string]string
		for _, f := range commit.Files {
			adds += f.Additions
			dels += f.Deletions
			fileNames = append(fileNames, f.Filename)
			if f.Patch != "" {
				if patches == nil {
					patches = map[string]string{}
				}
				patches[f.Filename] = f.Patch
			}
		}
		activities = append(activities, types.Activity{
			TS:          commit.CommittedAt,
			Kind:        types.KindCommit,
			Repo:        commit.Repo,
			Title:       title,
			URL:         commit.URL,
			Summary:     fmt.Sprintf("commit: %s (%s) +%d/-%d", title, commit.Repo, adds, dels),
			SHA:         commit.SHA,
			Body:        commit.Message,
			Files:       fileNames,
			FilePatches: patches,
			Additions:   adds,
			Deletions:   dels,
		})
	}
	return activities
}

func (n *Normalizer) convertIssues(issues []types.Issue, date string) []types.Activity {
	var activities []types.Activity
	for _, issue := range issues {
		if n.isUser(issue.Author) && dates.SameDay(issue.CreatedAt, date) {
			activities = append(activities, types.Activity{
				TS:         issue.CreatedAt,
				Kind:       types.KindIssueAuthored,
				Repo:       issue.Repo,
				ExternalID: issue.Number,
				Title:      issue.Title,
				URL:        issue.URL,
				Summary:    fmt.Sprintf("issue_authored: %s (%s)", issue.Title, issue.Repo),
				Body:       issue.Body,
				Labels:     issue.Labels,
			})
		}

		var userComments []types.Comment
		for _, c := range issue.Comments {
			if n.isUser(c.Author) && dates.SameDay(c.CreatedAt, date) {
				userComments = append(userComments, c)
			}
		}
		if len(userComments) == 0 {
			continue
		}
		earliest := userComments[0]
		var urls, bodies []string
		for _, c := range userComments {
			if c.CreatedAt < earliest.CreatedAt {
				earliest = c
			}
			urls = append(urls, c.URL)
			bodies = append(bodies, c.Body)
		}
		activities = append(activities, types.Activity{
			TS:            earliest.CreatedAt,
			Kind:          types.KindIssueCommented,
			Repo:          issue.Repo,
			ExternalID:    issue.Number,
			Title:         issue.Title,
			URL:           issue.URL,
			Summary:       fmt.Sprintf("issue_commented: %s (%s)", issue.Title, issue.Repo),
			Body:          issue.Body,
			CommentBodies: bodies,
			Labels:        issue.Labels,
			EvidenceURLs:  urls,
		})
	}
	return activities
}

// commitTitle is the first line of the commit message, bounded so a
// paragraph-as-subject commit cannot blow up summaries.
func commitTitle(message string) string {
	title, _, _ := strings.Cut(message, "\n")
	if len(title) > maxCommitTitle {
		title = title[:maxCommitTitle] + "..."
	}
	return title
}

// autoSummary builds the machine one-liner. Bodyless PRs fall back to a
// path hint naming the top-level directories touched.
func autoSummary(kind types.ActivityKind, title, repo, body string, files []string, adds, dels int) string {
	if strings.TrimSpace(body) != "" {
		return fmt.Sprintf("%s: %s (%s) +%d/-%d", kind, title, repo, adds, dels)
	}
	dirSet := map[string]bool{}
	for _, f := range files {
		top, _, found := strings.Cut(f, "/")
		if !found {
			top = f
		}
		dirSet[top] = true
	}
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	hint := strings.Join(dirs[:min(3, len(dirs))], ", ")
	if len(dirs) > 3 {
		hint += " and others"
	}
	return fmt.Sprintf("%s: [%s] %d files changed (%s) +%d/-%d", kind, hint, len(files), repo, adds, dels)
}

// computeStats aggregates the day. Additions and deletions count own work
// only: authored PRs and commits.
func computeStats(date string, activities []types.Activity) types.DailyStats {
	stats := types.DailyStats{Date: date}
	gh := &stats.GitHub
	repoSet := map[string]bool{}

	for _, a := range activities {
		repoSet[a.Repo] = true
		switch a.Kind {
		case types.KindPRAuthored:
			gh.AuthoredCount++
			gh.TotalAdditions += a.Additions
			gh.TotalDeletions += a.Deletions
			gh.AuthoredPRs = append(gh.AuthoredPRs, types.PRRef{URL: a.URL, Title: a.Title, Repo: a.Repo})
		case types.KindPRReviewed:
			gh.ReviewedCount++
			gh.ReviewedPRs = append(gh.ReviewedPRs, types.PRRef{URL: a.URL, Title: a.Title, Repo: a.Repo})
		case types.KindPRCommented:
			gh.CommentedCount++
		case types.KindCommit:
			gh.CommitCount++
			gh.TotalAdditions += a.Additions
			gh.TotalDeletions += a.Deletions
			gh.Commits = append(gh.Commits, types.CommitRef{URL: a.URL, Title: a.Title, Repo: a.Repo, SHA: a.SHA})
		case types.KindIssueAuthored:
			gh.IssueAuthoredCount++
			gh.AuthoredIssues = append(gh.AuthoredIssues, types.PRRef{URL: a.URL, Title: a.Title, Repo: a.Repo})
		case types.KindIssueCommented:
			gh.IssueCommentedCount++
		}
	}

	gh.ReposTouched = make([]string, 0, len(repoSet))
	for r := range repoSet {
		gh.ReposTouched = append(gh.ReposTouched, r)
	}
	sort.Strings(gh.ReposTouched)
	return stats
}

func (n *Normalizer) save(date string, activities []types.Activity, stats types.DailyStats) error {
	dir := n.cfg.NormalizedDir(date)
	if err := types.SaveJSONL(filepath.Join(dir, "activities.jsonl"), activities); err != nil {
		return err
	}
	return types.SaveJSON(filepath.Join(dir, "stats.json"), stats)
}

func (n *Normalizer) markNormalized(date string) error {
	if err := n.checkpoints.Set(state.KeyLastNormalize, date); err != nil {
		return err
	}
	return n.daily.MarkNormalized(date)
}
