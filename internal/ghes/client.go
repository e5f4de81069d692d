// Package ghes is the authenticated HTTP client for a GitHub-compatible
// Enterprise Server. It owns retry policy, rate-limit etiquette, search
// throttling and pagination so callers see "payload or FetchError".
package ghes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	maxRateLimitRetries = 7
	maxServerRetries    = 3
	backoffCap          = 300 * time.Second
	defaultTimeout      = 30 * time.Second
	perPage             = 100

	// Upstream search ceiling; results at or past this count are truncated.
	searchResultCap = 1000

	acceptJSON         = "application/vnd.github.v3+json"
	acceptCommitSearch = "application/vnd.github.cloak-preview+json"
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	SearchInterval time.Duration
	Timeout        time.Duration
	// Throttle is shared across pool members. When nil a private throttle
	// is created from SearchInterval.
	Throttle *SearchThrottle
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a GHES REST API v3 client. Safe for concurrent use.
type Client struct {
	apiBase  string
	token    string
	http     *http.Client
	throttle *SearchThrottle

	rateMu        sync.Mutex
	rateRemaining int
	rateReset     int64
	rateKnown     bool
}

// NewClient creates a Host API client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	apiBase := base
	if !strings.Contains(base, "api.github.com") {
		apiBase = base + "/api/v3"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	throttle := opts.Throttle
	if throttle == nil {
		throttle = NewSearchThrottle(opts.SearchInterval)
	}
	return &Client{
		apiBase:  apiBase,
		token:    opts.Token,
		http:     httpClient,
		throttle: throttle,
	}
}

// ── Public API ──

// SearchIssues queries the issue/PR search endpoint for one page.
func (c *Client) SearchIssues(ctx context.Context, query string, page, perPageArg int) (*SearchIssuesResult, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPageArg))
	var result SearchIssuesResult
	if err := c.doJSON(ctx, "/search/issues", params, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchIssuesAll collects every page for a query. A warning is logged when
// the result set reaches the host's search ceiling.
func (c *Client) SearchIssuesAll(ctx context.Context, query string) ([]SearchIssueItem, error) {
	var all []SearchIssueItem
	for page := 1; ; page++ {
		result, err := c.SearchIssues(ctx, query, page, perPage)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Items...)
		if len(result.Items) < perPage {
			break
		}
	}
	if len(all) >= searchResultCap {
		slog.Warn("search results truncated at host ceiling; narrow the query",
			"query", query, "count", len(all))
	}
	return all, nil
}

// SearchCommits queries the commit search endpoint for one page. The
// endpoint requires a preview Accept header.
func (c *Client) SearchCommits(ctx context.Context, query string, page, perPageArg int) (*SearchCommitsResult, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPageArg))
	headers := map[string]string{"Accept": acceptCommitSearch}
	var result SearchCommitsResult
	if err := c.doJSON(ctx, "/search/commits", params, headers, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchCommitsAll collects every page of a commit search.
func (c *Client) SearchCommitsAll(ctx context.Context, query string) ([]SearchCommitItem, error) {
	var all []SearchCommitItem
	for page := 1; ; page++ {
		result, err := c.SearchCommits(ctx, query, page, perPage)
		if err != nil {
			return nil, err
		}
		all = append(all, result.Items...)
		if len(result.Items) < perPage {
			break
		}
	}
	if len(all) >= searchResultCap {
		slog.Warn("commit search results truncated at host ceiling; narrow the query",
			"query", query, "count", len(all))
	}
	return all, nil
}

// GetPR fetches PR detail.
func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (*PRDetail, error) {
	var pr PRDetail
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	if err := c.doJSON(ctx, path, nil, nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPRFiles fetches the changed-file list of a PR, fully paginated.
func (c *Client) GetPRFiles(ctx context.Context, owner, repo string, number int) ([]PRFile, error) {
	return paginate[PRFile](ctx, c, fmt.Sprintf("/repos/%s/%s/pulls/%d/files", owner, repo, number))
}

// GetPRComments fetches review comments plus issue comments for a PR.
func (c *Client) GetPRComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	reviewComments, err := paginate[IssueComment](ctx, c, fmt.Sprintf("/repos/%s/%s/pulls/%d/comments", owner, repo, number))
	if err != nil {
		return nil, err
	}
	issueComments, err := paginate[IssueComment](ctx, c, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number))
	if err != nil {
		return nil, err
	}
	return append(reviewComments, issueComments...), nil
}

// GetPRReviews fetches the review list of a PR.
func (c *Client) GetPRReviews(ctx context.Context, owner, repo string, number int) ([]PRReview, error) {
	return paginate[PRReview](ctx, c, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, number))
}

// GetCommit fetches commit detail including its file changes.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*CommitDetail, error) {
	var commit CommitDetail
	path := fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, sha)
	if err := c.doJSON(ctx, path, nil, nil, &commit); err != nil {
		return nil, err
	}
	return &commit, nil
}

// GetIssue fetches issue detail.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*IssueDetail, error) {
	var issue IssueDetail
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	if err := c.doJSON(ctx, path, nil, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssueComments fetches the comment list of an issue, fully paginated.
func (c *Client) GetIssueComments(ctx context.Context, owner, repo string, number int) ([]IssueComment, error) {
	return paginate[IssueComment](ctx, c, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number))
}

// ── Internal ──

func paginate[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("per_page", strconv.Itoa(perPage))
		var items []T
		if err := c.doJSON(ctx, path, params, nil, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < perPage {
			break
		}
	}
	return all, nil
}

// doJSON performs a GET with the dual retry discipline: a rate-limit counter
// (429, 403-with-rate-limit-body) capped at 7 and a server-error counter
// (5xx, transport) capped at 3. Other 4xx statuses fail immediately.
func (c *Client) doJSON(ctx context.Context, path string, params url.Values, extraHeaders map[string]string, out any) error {
	rateRetries := 0
	serverRetries := 0
	serverBackoff := retry.WithCappedDuration(backoffCap,
		retry.WithJitterPercent(25, retry.NewExponential(time.Second)))

	attempts := 0
	for {
		attempts++
		status, body, err := c.do(ctx, path, params, extraHeaders)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			serverRetries++
			if serverRetries > maxServerRetries {
				return &FetchError{
					Reason:   fmt.Sprintf("request failed: %v", err),
					Endpoint: path,
					Attempts: attempts,
					Err:      err,
				}
			}
			wait, _ := serverBackoff.Next()
			slog.Warn("transport error, retrying", "endpoint", path, "attempt", attempts, "wait", wait, "err", err)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests,
			status == http.StatusForbidden && isRateLimitBody(body):
			rateRetries++
			if rateRetries > maxRateLimitRetries {
				return &FetchError{
					Reason:     "rate limit exceeded",
					Endpoint:   path,
					StatusCode: status,
					Attempts:   attempts,
				}
			}
			wait := c.rateLimitWait(body.headers, rateRetries)
			slog.Warn("rate limited, retrying", "endpoint", path, "status", status, "attempt", attempts, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue

		case status >= 500:
			serverRetries++
			if serverRetries > maxServerRetries {
				return &FetchError{
					Reason:     fmt.Sprintf("Server error %d", status),
					Endpoint:   path,
					StatusCode: status,
					Attempts:   attempts,
				}
			}
			wait, _ := serverBackoff.Next()
			slog.Warn("server error, retrying", "endpoint", path, "status", status, "attempt", attempts, "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
			continue

		case status >= 400:
			return &FetchError{
				Reason:     fmt.Sprintf("Client error %d", status),
				Endpoint:   path,
				StatusCode: status,
				Attempts:   attempts,
			}
		}

		if err := c.trackRateLimit(ctx, body.headers); err != nil {
			return err
		}
		if err := json.Unmarshal(body.data, out); err != nil {
			return &FetchError{
				Reason:   fmt.Sprintf("decode failed: %v", err),
				Endpoint: path,
				Attempts: attempts,
				Err:      err,
			}
		}
		return nil
	}
}

type responseBody struct {
	data    []byte
	headers http.Header
}

func (c *Client) do(ctx context.Context, path string, params url.Values, extraHeaders map[string]string) (int, responseBody, error) {
	u := c.apiBase + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, responseBody{}, err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", acceptJSON)
	for k, val := range extraHeaders {
		req.Header.Set(k, val)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, responseBody{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, responseBody{}, err
	}
	return resp.StatusCode, responseBody{data: data, headers: resp.Header}, nil
}

func isRateLimitBody(body responseBody) bool {
	return strings.Contains(strings.ToLower(string(body.data)), "rate limit")
}

// rateLimitWait computes the wait for a rate-limit hit: Retry-After header,
// then X-RateLimit-Reset, then exponential backoff capped at 300s. Every
// tier gets ±25% jitter to desynchronise concurrent clients.
func (c *Client) rateLimitWait(headers http.Header, attempt int) time.Duration {
	if ra := headers.Get("Retry-After"); ra != "" {
		if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs >= 0 {
			return jitter(time.Duration(secs * float64(time.Second)))
		}
	}
	if reset := headers.Get("X-RateLimit-Reset"); reset != "" {
		if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
			if wait := time.Until(time.Unix(ts, 0)); wait > 0 {
				return jitter(wait)
			}
		}
	}
	wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second
	if wait > backoffCap {
		wait = backoffCap
	}
	return jitter(wait)
}

func jitter(d time.Duration) time.Duration {
	// Uniform factor in [0.75, 1.25].
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// trackRateLimit records the remaining quota from response headers. Below
// 100 it warns; below 10 it blocks until the advertised reset instant.
func (c *Client) trackRateLimit(ctx context.Context, headers http.Header) error {
	remainingStr := headers.Get("X-RateLimit-Remaining")
	if remainingStr == "" {
		return nil
	}
	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		return nil
	}
	var resetTS int64
	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		resetTS, _ = strconv.ParseInt(resetStr, 10, 64)
	}

	c.rateMu.Lock()
	c.rateRemaining = remaining
	c.rateReset = resetTS
	c.rateKnown = true
	c.rateMu.Unlock()

	switch {
	case remaining < 10:
		if resetTS > 0 {
			wait := time.Until(time.Unix(resetTS, 0)) + time.Second
			if wait > 0 {
				slog.Warn("rate limit critical, waiting for reset", "remaining", remaining, "wait", wait)
				return sleepCtx(ctx, wait)
			}
		}
		slog.Warn("rate limit critical, no reset header", "remaining", remaining)
	case remaining < 100:
		slog.Warn("rate limit low", "remaining", remaining)
	}
	return nil
}

// RateLimitRemaining returns the last observed remaining quota, if any.
func (c *Client) RateLimitRemaining() (int, bool) {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()
	return c.rateRemaining, c.rateKnown
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
