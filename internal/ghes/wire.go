package ghes

// Wire types for the subset of the GHES REST API v3 the fetcher consumes.
// Field sets are intentionally partial.

// SearchIssuesResult is the payload of GET /search/issues.
type SearchIssuesResult struct {
	TotalCount int               `json:"total_count"`
	Items      []SearchIssueItem `json:"items"`
}

// SearchIssueItem is one hit from the issue/PR search. PullRequest is set
// only for PR hits.
type SearchIssueItem struct {
	URL           string `json:"url"` // API URL of the issue record
	HTMLURL       string `json:"html_url"`
	Number        int    `json:"number"`
	Title         string `json:"title"`
	UpdatedAt     string `json:"updated_at"`
	RepositoryURL string `json:"repository_url"`
	PullRequest   *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// APIRef returns the canonical API URL used for union-dedup: the PR API URL
// for PR hits, the issue API URL otherwise.
func (i SearchIssueItem) APIRef() string {
	if i.PullRequest != nil && i.PullRequest.URL != "" {
		return i.PullRequest.URL
	}
	return i.URL
}

// SearchCommitsResult is the payload of GET /search/commits.
type SearchCommitsResult struct {
	TotalCount int                `json:"total_count"`
	Items      []SearchCommitItem `json:"items"`
}

// SearchCommitItem is one hit from the commit search.
type SearchCommitItem struct {
	SHA        string `json:"sha"`
	URL        string `json:"url"`
	HTMLURL    string `json:"html_url"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commit struct {
		Message   string `json:"message"`
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
	Author *struct {
		Login string `json:"login"`
	} `json:"author,omitempty"`
}

// User is a minimal account reference.
type User struct {
	Login string `json:"login"`
}

// Label is a minimal label reference.
type Label struct {
	Name string `json:"name"`
}

// PRDetail is the payload of GET /repos/{o}/{r}/pulls/{n}.
type PRDetail struct {
	URL       string  `json:"url"`
	HTMLURL   string  `json:"html_url"`
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	Merged    bool    `json:"merged"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	MergedAt  string  `json:"merged_at"`
	Labels    []Label `json:"labels"`
	User      User    `json:"user"`
}

// PRFile is one entry of GET /repos/{o}/{r}/pulls/{n}/files.
type PRFile struct {
	Filename  string `json:"filename"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Status    string `json:"status"`
	Patch     string `json:"patch"`
}

// IssueComment is one entry of the PR/issue comment listings. Path, Line
// and DiffHunk are populated only for inline review comments.
type IssueComment struct {
	User      User   `json:"user"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	HTMLURL   string `json:"html_url"`
	Path      string `json:"path,omitempty"`
	Line      int    `json:"line,omitempty"`
	DiffHunk  string `json:"diff_hunk,omitempty"`
}

// PRReview is one entry of GET /repos/{o}/{r}/pulls/{n}/reviews.
type PRReview struct {
	User        User   `json:"user"`
	State       string `json:"state"`
	Body        string `json:"body"`
	SubmittedAt string `json:"submitted_at"`
	HTMLURL     string `json:"html_url"`
}

// CommitDetail is the payload of GET /repos/{o}/{r}/commits/{sha}.
type CommitDetail struct {
	SHA     string `json:"sha"`
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message   string `json:"message"`
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
	Author *User    `json:"author,omitempty"`
	Files  []PRFile `json:"files"`
}

// IssueDetail is the payload of GET /repos/{o}/{r}/issues/{n}.
type IssueDetail struct {
	URL       string  `json:"url"`
	HTMLURL   string  `json:"html_url"`
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	ClosedAt  string  `json:"closed_at"`
	Labels    []Label `json:"labels"`
	User      User    `json:"user"`
}
