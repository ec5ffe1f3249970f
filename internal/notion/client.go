// Package notion is a minimal Notion API client covering the pieces the
// sync passes need: database queries with fully drained pagination, page
// create/update/archive, typed property codecs, and database descriptions.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBaseURL is the Notion REST API endpoint.
	DefaultBaseURL = "https://api.notion.com/v1"

	// APIVersion is sent as the Notion-Version header on every request.
	APIVersion = "2022-06-28"

	// DefaultTimeout bounds a single HTTP request.
	DefaultTimeout = 60 * time.Second

	// maxRetryElapsed caps the total retry window for one call.
	maxRetryElapsed = 2 * time.Minute

	// pageSize is the query page size; Notion caps it at 100.
	pageSize = 100
)

// Client talks to the Notion API. The zero value is unusable; construct
// with NewClient.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a Notion client with the given integration token.
func NewClient(token string) *Client {
	return &Client{
		Token:   token,
		BaseURL: DefaultBaseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a copy of the client pointed at a different endpoint,
// used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// APIError is a non-2xx response from Notion. Status codes below 500 other
// than 409 and 429 are permanent: retrying cannot help.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion: %s (%s, status %d)", e.Message, e.Code, e.StatusCode)
}

// Retryable reports whether the request is worth retrying. Notion documents
// 409 (conflict while saving) and 429 (rate limit) as transient; 5xx always
// is.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusConflict ||
		e.StatusCode == http.StatusTooManyRequests
}

// do performs one API call with retries, decoding the response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("notion: encoding %s %s: %w", method, path, err)
		}
	}

	attempt := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Notion-Version", APIVersion)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		_ = resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var decoded struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(respBody, &decoded) == nil {
				apiErr.Code = decoded.Code
				apiErr.Message = decoded.Message
			}
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
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
				return backoff.Permanent(fmt.Errorf("notion: decoding %s %s: %w", method, path, err))
			}
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed
	return backoff.Retry(attempt, backoff.WithContext(bo, ctx))
}

// sleepRetryAfter honors a Retry-After header before the next backoff
// attempt fires.
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

// queryRequest is the databases/query payload.
type queryRequest struct {
	Filter      any    `json:"filter,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size"`
}

// queryResponse is one page of query results.
type queryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// QueryDatabase returns every page in the database matching filter, fully
// draining pagination. filter may be nil.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter any) ([]Page, error) {
	var all []Page
	cursor := ""
	for {
		req := queryRequest{Filter: filter, StartCursor: cursor, PageSize: pageSize}
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", req, &resp); err != nil {
			return nil, fmt.Errorf("querying database %s: %w", databaseID, err)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil {
			return all, nil
		}
		cursor = *resp.NextCursor
	}
}

// RetrieveDatabase fetches the database object (schema and description).
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*DatabaseObject, error) {
	var db DatabaseObject
	if err := c.do(ctx, http.MethodGet, "/databases/"+databaseID, nil, &db); err != nil {
		return nil, fmt.Errorf("retrieving database %s: %w", databaseID, err)
	}
	return &db, nil
}

// UpdateDatabaseDescription replaces the database description text.
func (c *Client) UpdateDatabaseDescription(ctx context.Context, databaseID, description string) error {
	body := map[string]any{
		"description": []map[string]any{
			{"type": "text", "text": map[string]any{"content": description}},
		},
	}
	if err := c.do(ctx, http.MethodPatch, "/databases/"+databaseID, body, nil); err != nil {
		return fmt.Errorf("updating database %s description: %w", databaseID, err)
	}
	return nil
}

// CreatePage creates a page in the database with the given encoded
// properties and optional body blocks. It returns the created page.
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any, children []map[string]any) (*Page, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	if len(children) > 0 {
		body["children"] = children
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/pages", body, &page); err != nil {
		return nil, fmt.Errorf("creating page in %s: %w", databaseID, err)
	}
	return &page, nil
}

// UpdatePage patches the given properties of a page, leaving everything
// else untouched.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) error {
	body := map[string]any{"properties": properties}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("updating page %s: %w", pageID, err)
	}
	return nil
}

// RetrievePage fetches one page by id.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/pages/"+pageID, nil, &page); err != nil {
		return nil, fmt.Errorf("retrieving page %s: %w", pageID, err)
	}
	return &page, nil
}

// ArchivePage archives (never destroys) a page.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("archiving page %s: %w", pageID, err)
	}
	return nil
}

// ListBlocks returns the direct children of a block or page, draining
// pagination. Nested children are not expanded.
func (c *Client) ListBlocks(ctx context.Context, blockID string) ([]Block, error) {
	var all []Block
	cursor := ""
	for {
		path := "/blocks/" + blockID + "/children?page_size=" + strconv.Itoa(pageSize)
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var resp struct {
			Results    []Block `json:"results"`
			HasMore    bool    `json:"has_more"`
			NextCursor *string `json:"next_cursor"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("listing blocks of %s: %w", blockID, err)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil {
			return all, nil
		}
		cursor = *resp.NextCursor
	}
}

// User is one workspace member, as returned by ListUsers.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Person *struct {
		Email string `json:"email"`
	} `json:"person,omitempty"`
}

// ListUsers returns all workspace users, draining pagination. Used by the
// debug command to help build user maps.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var all []User
	cursor := ""
	for {
		path := "/users?page_size=" + strconv.Itoa(pageSize)
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var resp struct {
			Results    []User  `json:"results"`
			HasMore    bool    `json:"has_more"`
			NextCursor *string `json:"next_cursor"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		all = append(all, resp.Results...)
		if !resp.HasMore || resp.NextCursor == nil {
			return all, nil
		}
		cursor = *resp.NextCursor
	}
}
