// Package types defines the data model shared by the fetch, normalize and
// summarize stages, plus the JSON/JSONL persistence helpers that make the
// file tree the canonical store.
package types

// FileChange is a single changed file inside a PR or commit.
type FileChange struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Status    string `json:"status"` // "added" | "modified" | "removed" | "renamed"
	Patch     string `json:"patch,omitempty"`
}

// Comment is a PR or issue comment. Path/Line/DiffHunk are set only for
// inline review comments.
type Comment struct {
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"` // ISO 8601
	URL       string `json:"url"`
	Path      string `json:"path,omitempty"`
	Line      int    `json:"line,omitempty"`
	DiffHunk  string `json:"diff_hunk,omitempty"`
}

// Review is a PR review.
type Review struct {
	Author      string `json:"author"`
	State       string `json:"state"` // "APPROVED" | "CHANGES_REQUESTED" | "COMMENTED"
	Body        string `json:"body"`
	SubmittedAt string `json:"submitted_at"` // ISO 8601
	URL         string `json:"url"`
}

// PullRequest is the raw PR record written by the fetcher.
type PullRequest struct {
	URL       string       `json:"url"` // HTML URL
	APIURL    string       `json:"api_url"`
	Number    int          `json:"number"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	State     string       `json:"state"` // "open" | "closed"
	IsMerged  bool         `json:"is_merged"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	MergedAt  string       `json:"merged_at,omitempty"`
	Repo      string       `json:"repo"` // "org/repo-name"
	Labels    []string     `json:"labels,omitempty"`
	Author    string       `json:"author"`
	Files     []FileChange `json:"files,omitempty"`
	Comments  []Comment    `json:"comments,omitempty"`
	Reviews   []Review     `json:"reviews,omitempty"`
}

// Commit is the raw commit record written by the fetcher.
type Commit struct {
	SHA         string       `json:"sha"`
	URL         string       `json:"url"`
	APIURL      string       `json:"api_url"`
	Message     string       `json:"message"`
	Author      string       `json:"author"`
	Repo        string       `json:"repo"`
	CommittedAt string       `json:"committed_at"`
	Files       []FileChange `json:"files,omitempty"`
}

// Issue is the raw issue record written by the fetcher.
type Issue struct {
	URL       string    `json:"url"`
	APIURL    string    `json:"api_url"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	ClosedAt  string    `json:"closed_at,omitempty"`
	Repo      string    `json:"repo"`
	Labels    []string  `json:"labels,omitempty"`
	Author    string    `json:"author"`
	Comments  []Comment `json:"comments,omitempty"`
}

// ActivityKind tags a normalized activity.
type ActivityKind string

const (
	KindPRAuthored     ActivityKind = "pr_authored"
	KindPRReviewed     ActivityKind = "pr_reviewed"
	KindPRCommented    ActivityKind = "pr_commented"
	KindCommit         ActivityKind = "commit"
	KindIssueAuthored  ActivityKind = "issue_authored"
	KindIssueCommented ActivityKind = "issue_commented"
)

// CommentContext carries the inline location of a review comment so the
// summarizer can show the code the discussion was about.
type CommentContext struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	DiffHunk string `json:"diff_hunk"`
	Body     string `json:"body"`
}

// Activity is one normalized user action on a specific day.
type Activity struct {
	TS             string            `json:"ts"` // ISO 8601; date component == day file
	Kind           ActivityKind      `json:"kind"`
	Repo           string            `json:"repo"`
	ExternalID     int               `json:"external_id"` // PR/issue number, 0 for commits
	Title          string            `json:"title"`
	URL            string            `json:"url"`
	Summary        string            `json:"summary"` // machine-generated one-liner
	SHA            string            `json:"sha,omitempty"`
	Body           string            `json:"body,omitempty"`
	ReviewBodies   []string          `json:"review_bodies,omitempty"`
	CommentBodies  []string          `json:"comment_bodies,omitempty"`
	Files          []string          `json:"files,omitempty"`
	FilePatches    map[string]string `json:"file_patches,omitempty"`
	Additions      int               `json:"additions"`
	Deletions      int               `json:"deletions"`
	Labels         []string          `json:"labels,omitempty"`
	EvidenceURLs   []string          `json:"evidence_urls,omitempty"`
	CommentCtxs    []CommentContext  `json:"comment_contexts,omitempty"`
	ChangeSummary  string            `json:"change_summary,omitempty"` // LLM enrichment
	Intent         string            `json:"intent,omitempty"`         // LLM enrichment
}

// PRRef is a compact reference carried inside DailyStats.
type PRRef struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Repo  string `json:"repo"`
}

// CommitRef is a compact commit reference carried inside DailyStats.
type CommitRef struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Repo  string `json:"repo"`
	SHA   string `json:"sha"`
}

// GitHubStats is the per-source statistics block. Only the github source is
// populated today; the nesting leaves room for other sources.
type GitHubStats struct {
	AuthoredCount       int         `json:"authored_count"`
	ReviewedCount       int         `json:"reviewed_count"`
	CommentedCount      int         `json:"commented_count"`
	CommitCount         int         `json:"commit_count"`
	IssueAuthoredCount  int         `json:"issue_authored_count"`
	IssueCommentedCount int         `json:"issue_commented_count"`
	TotalAdditions      int         `json:"total_additions"`
	TotalDeletions      int         `json:"total_deletions"`
	ReposTouched        []string    `json:"repos_touched"`
	AuthoredPRs         []PRRef     `json:"authored_prs"`
	ReviewedPRs         []PRRef     `json:"reviewed_prs"`
	Commits             []CommitRef `json:"commits"`
	AuthoredIssues      []PRRef     `json:"authored_issues"`
}

// DailyStats is the per-day aggregate computed by the normalizer.
type DailyStats struct {
	Date   string      `json:"date"` // YYYY-MM-DD
	GitHub GitHubStats `json:"github"`
}

// JobStatus is the lifecycle of an async job tracked for the HTTP shell.
type JobStatus string

const (
	JobAccepted  JobStatus = "accepted"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job tracks one background run for external callers.
type Job struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// TokenUsage is the token accounting for a single LLM call or an aggregate.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CallCount        int `json:"call_count"`
	CacheReadTokens  int `json:"cache_read_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CallCount:        u.CallCount + other.CallCount,
		CacheReadTokens:  u.CacheReadTokens + other.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + other.CacheWriteTokens,
	}
}

// ModelUsage is the accumulated usage for one provider/model pair.
type ModelUsage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CallCount        int     `json:"call_count"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// DateResult is the per-date outcome of a range run.
type DateResult struct {
	Date   string `json:"date"`
	Status string `json:"status"` // "success" | "skipped" | "failed"
	Error  string `json:"error,omitempty"`
	Path   string `json:"path,omitempty"`
}
