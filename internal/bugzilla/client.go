// Package bugzilla implements the Bugzilla issue tracker plugin on the
// Bugzilla REST API.
package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds individual HTTP requests. Bugzilla advanced
	// searches can be slow.
	DefaultTimeout = 60 * time.Second

	// maxRetryElapsed caps the total retry budget per call.
	maxRetryElapsed = 2 * time.Minute

	// DefaultPageLimit is the search page size.
	DefaultPageLimit = 100
)

// Client is a minimal Bugzilla REST client rooted at <base>/rest.
type Client struct {
	APIKey     string
	BaseURL    string // instance root, e.g. https://bugzilla.mozilla.org
	HTTPClient *http.Client
}

// NewClient creates a client for a Bugzilla instance.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// APIError is a Bugzilla error response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bugzilla: %s (status %d, code %d)", e.Message, e.StatusCode, e.Code)
}

// Retryable reports whether the call may succeed on retry.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusConflict ||
		e.StatusCode == http.StatusTooManyRequests
}

// do performs one REST call with retries. query carries URL parameters; the
// API key is attached as a header so it never lands in logs.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bugzilla: encoding %s %s: %w", method, path, err)
		}
	}

	urlStr := c.BaseURL + "/rest" + path
	if len(query) > 0 {
		urlStr += "?" + query.Encode()
	}

	attempt := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.APIKey != "" {
			req.Header.Set("X-BUGZILLA-API-KEY", c.APIKey)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
		_ = resp.Body.Close()
		if err != nil {
			return err
		}

		// Bugzilla reports some errors with a 200 and an error body.
		var errResp struct {
			Error   bool   `json:"error"`
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error {
			apiErr := &APIError{StatusCode: resp.StatusCode, Code: errResp.Code, Message: errResp.Message}
			if !apiErr.Retryable() {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			if !apiErr.Retryable() {
				return backoff.Permanent(apiErr)
			}
			if resp.StatusCode == http.StatusTooManyRequests {
				sleepRetryAfter(ctx, resp.Header.Get("Retry-After"))
			}
			return apiErr
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("bugzilla: decoding %s %s: %w", method, path, err))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	return backoff.Retry(attempt, backoff.WithContext(bo, ctx))
}

func sleepRetryAfter(ctx context.Context, header string) {
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(seconds) * time.Second):
	}
}

// includeFields is every bug field the sync passes read. Narrowing the
// response keeps big queries fast.
var includeFields = []string{
	"id", "summary", "status", "resolution", "priority", "type",
	"product", "component", "version", "keywords", "whiteboard",
	"assigned_to", "cf_user_story", "see_also", "dupe_of",
	"depends_on", "blocks", "creation_time", "last_change_time",
	"cf_last_resolved", "attachments",
}

type bugsResponse struct {
	Bugs []Bug `json:"bugs"`
}

// GetBugs retrieves bugs by id. Missing or inaccessible ids are simply
// absent from the result.
func (c *Client) GetBugs(ctx context.Context, ids []int) ([]Bug, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = strconv.Itoa(id)
	}
	query := url.Values{}
	query.Set("id", strings.Join(idStrs, ","))
	query.Set("include_fields", strings.Join(includeFields, ","))
	// Missing ids otherwise fail the whole request.
	query.Set("permissive", "1")

	var resp bugsResponse
	if err := c.do(ctx, http.MethodGet, "/bug", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching bugs: %w", err)
	}
	return resp.Bugs, nil
}

// SearchQuery describes a bug search. Exact parameter shapes follow the
// Bugzilla advanced search form.
type SearchQuery struct {
	Products    []string
	Statuses    []string
	ActiveSince *time.Time // bugs changed on or after this instant
	Limit       int        // page size, DefaultPageLimit when zero
}

// SearchBugs runs the query, draining offset pagination.
func (c *Client) SearchBugs(ctx context.Context, q SearchQuery) ([]Bug, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	var all []Bug
	offset := 0
	for {
		query := url.Values{}
		for _, p := range q.Products {
			query.Add("product", p)
		}
		for _, s := range q.Statuses {
			query.Add("bug_status", s)
		}
		if q.ActiveSince != nil {
			query.Set("last_change_time", q.ActiveSince.UTC().Format(time.RFC3339))
		}
		query.Set("include_fields", strings.Join(includeFields, ","))
		query.Set("limit", strconv.Itoa(limit))
		query.Set("offset", strconv.Itoa(offset))
		query.Set("order", "changeddate DESC")

		var resp bugsResponse
		if err := c.do(ctx, http.MethodGet, "/bug", query, nil, &resp); err != nil {
			return nil, fmt.Errorf("searching bugs: %w", err)
		}
		all = append(all, resp.Bugs...)
		if len(resp.Bugs) < limit {
			return all, nil
		}
		offset += limit
	}
}

// UpdateBug applies a partial update. changes holds only the fields to
// touch, in the REST update shape.
func (c *Client) UpdateBug(ctx context.Context, id int, changes map[string]any) error {
	if err := c.do(ctx, http.MethodPut, "/bug/"+strconv.Itoa(id), nil, changes, nil); err != nil {
		return fmt.Errorf("updating bug %d: %w", id, err)
	}
	return nil
}

// Whoami validates credentials against the /whoami endpoint.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/whoami", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("validating credentials: %w", err)
	}
	return resp.Name, nil
}

// IsNotFound reports whether err names a missing bug.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
