package notion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("secret-token").WithBaseURL(srv.URL)
}

func TestQueryDatabaseDrainsPagination(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/databases/db1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != APIVersion {
			t.Errorf("Notion-Version = %q", got)
		}

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		switch calls.Add(1) {
		case 1:
			if req.StartCursor != "" {
				t.Errorf("first call cursor = %q, want empty", req.StartCursor)
			}
			cursor := "c2"
			writeJSON(w, queryResponse{
				Results:    []Page{{ID: "p1"}, {ID: "p2"}},
				HasMore:    true,
				NextCursor: &cursor,
			})
		case 2:
			if req.StartCursor != "c2" {
				t.Errorf("second call cursor = %q, want c2", req.StartCursor)
			}
			writeJSON(w, queryResponse{Results: []Page{{ID: "p3"}}})
		default:
			t.Error("query called after pagination drained")
		}
	})

	pages, err := client.QueryDatabase(context.Background(), "db1", nil)
	if err != nil {
		t.Fatalf("QueryDatabase: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if pages[2].ID != "p3" {
		t.Errorf("pages[2].ID = %q, want p3", pages[2].ID)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, Page{ID: "p1"})
	})

	page, err := client.RetrievePage(context.Background(), "p1")
	if err != nil {
		t.Fatalf("RetrievePage: %v", err)
	}
	if page.ID != "p1" {
		t.Errorf("page.ID = %q", page.ID)
	}
	if calls.Load() != 2 {
		t.Errorf("got %d calls, want 2", calls.Load())
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"code": "object_not_found", "message": "no such page"})
	})

	_, err := client.RetrievePage(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "object_not_found" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Retryable() {
		t.Error("404 reported retryable")
	}
	if calls.Load() != 1 {
		t.Errorf("got %d calls, want 1: client errors must not retry", calls.Load())
	}
}

func TestUpdateDatabaseDescription(t *testing.T) {
	var body struct {
		Description []map[string]any `json:"description"`
	}
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/databases/db1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		writeJSON(w, map[string]any{})
	})

	if err := client.UpdateDatabaseDescription(context.Background(), "db1", "hello"); err != nil {
		t.Fatalf("UpdateDatabaseDescription: %v", err)
	}
	if len(body.Description) != 1 {
		t.Fatalf("description fragments = %d, want 1", len(body.Description))
	}
}

func TestListUsers(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, map[string]any{
			"results": []map[string]any{
				{"id": "u1", "name": "Alice", "type": "person"},
				{"id": "b1", "name": "Integration", "type": "bot"},
			},
			"has_more": false,
		})
	})

	users, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].Name != "Alice" {
		t.Errorf("users[0].Name = %q", users[0].Name)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
