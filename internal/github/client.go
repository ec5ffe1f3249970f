// Package github implements the GitHub issue tracker plugin on the REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultAPIEndpoint is the public GitHub REST endpoint.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout bounds individual HTTP requests.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the number of retry attempts after the first request.
	MaxRetries = 3

	// RetryDelay is the base delay between retries, doubled per attempt.
	RetryDelay = 2 * time.Second

	// MaxPageSize is the largest per_page value GitHub accepts.
	MaxPageSize = 100

	// MaxPages caps pagination to avoid runaway loops on huge repositories.
	MaxPages = 1000
)

// Client is a minimal GitHub REST client. It is not bound to a single
// repository; every call names the "owner/name" it operates on, since one
// sync pass can span several repositories.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the public API.
func NewClient(token string) *Client {
	return &Client{
		Token:   token,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a client pointed at a custom endpoint (tests, GitHub
// Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// doRequest performs an HTTP request with authentication and retry logic.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		// Handle rate limiting (GitHub uses 403 with X-RateLimit-Remaining: 0, or 429)
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			delay := RetryDelay * time.Duration(1<<attempt)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			lastErr = fmt.Errorf("rate limited (attempt %d/%d)", attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error %d (attempt %d/%d)", resp.StatusCode, attempt+1, MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(RetryDelay * time.Duration(1<<attempt)):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
		}

		return respBody, resp.Header, nil
	}

	return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, lastErr)
}

// StatusError is a non-retryable API failure.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %s (status %d)", e.Body, e.Status)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Status == http.StatusNotFound
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// listIssues drains pagination on an issues listing URL, filtering out pull
// requests (GitHub returns PRs in the issues endpoint).
func (c *Client) listIssues(ctx context.Context, urlStr string) ([]Issue, error) {
	var all []Issue
	pages := 0

	for urlStr != "" {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}

		var issues []Issue
		if err := json.Unmarshal(respBody, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse issues response: %w", err)
		}
		for i := range issues {
			if issues[i].PullRequest == nil {
				all = append(all, issues[i])
			}
		}

		urlStr = ""
		if next, ok := hasNextPage(headers); ok {
			urlStr = next
		}
		pages++
		if pages > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return all, nil
}

// ListRepoIssues retrieves issues from one repository with optional state
// and since filters. state can be "open", "closed", or "all".
func (c *Client) ListRepoIssues(ctx context.Context, repo, state string, since *time.Time) ([]Issue, error) {
	params := map[string]string{
		"per_page": strconv.Itoa(MaxPageSize),
		"state":    "all",
	}
	if state != "" {
		params["state"] = state
	}
	if since != nil {
		params["since"] = since.UTC().Format(time.RFC3339)
	}

	issues, err := c.listIssues(ctx, c.buildURL("/repos/"+repo+"/issues", params))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues for %s: %w", repo, err)
	}
	return issues, nil
}

// GetIssue retrieves a single issue.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s#%d: %w", repo, number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}
	return &issue, nil
}

// PatchIssue updates an issue. GitHub uses PATCH with a partial body; only
// the keys present in updates are touched.
func (c *Client) PatchIssue(ctx context.Context, repo string, number int, updates map[string]interface{}) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue %s#%d: %w", repo, number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}
	return &issue, nil
}

// ListSubIssues retrieves the sub-issues of an issue, draining pagination.
func (c *Client) ListSubIssues(ctx context.Context, repo string, number int) ([]Issue, error) {
	params := map[string]string{"per_page": strconv.Itoa(MaxPageSize)}
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number)+"/sub_issues", params)
	issues, err := c.listIssues(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sub-issues of %s#%d: %w", repo, number, err)
	}
	return issues, nil
}

// Viewer returns the authenticated user's login. Used to validate tokens.
func (c *Client) Viewer(ctx context.Context) (string, error) {
	respBody, _, err := c.doRequest(ctx, http.MethodGet, c.buildURL("/user", nil), nil)
	if err != nil {
		return "", fmt.Errorf("failed to fetch authenticated user: %w", err)
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(respBody, &user); err != nil {
		return "", fmt.Errorf("failed to parse user response: %w", err)
	}
	return user.Login, nil
}
