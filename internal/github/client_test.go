package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, baseURL string)) *Client {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, srv.URL)
	}))
	t.Cleanup(srv.Close)
	return NewClient("test-token").WithBaseURL(srv.URL)
}

func TestListRepoIssuesPagination(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request, baseURL string) {
		if r.URL.Path != "/repos/mozilla/gecko/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}

		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?page=2>; rel="next"`, baseURL, r.URL.Path))
			writeJSON(w, []Issue{
				{Number: 1, Title: "first"},
				{Number: 2, Title: "a pr", PullRequest: &struct {
					URL string `json:"url"`
				}{URL: "x"}},
			})
		case "2":
			writeJSON(w, []Issue{{Number: 3, Title: "third"}})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	issues, err := client.ListRepoIssues(context.Background(), "mozilla/gecko", "all", nil)
	if err != nil {
		t.Fatalf("ListRepoIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("got %d issues, want 2 (pull requests filtered)", len(issues))
	}
	if issues[0].Number != 1 || issues[1].Number != 3 {
		t.Errorf("issue numbers = %d, %d", issues[0].Number, issues[1].Number)
	}
}

func TestDoRequestRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	client := testServer(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeJSON(w, []Issue{{Number: 7}})
	})

	issues, err := client.ListRepoIssues(context.Background(), "o/r", "", nil)
	if err != nil {
		t.Fatalf("ListRepoIssues: %v", err)
	}
	if len(issues) != 1 || calls.Load() != 2 {
		t.Errorf("issues = %d, calls = %d; want 1 issue after 2 calls", len(issues), calls.Load())
	}
}

func TestGetIssueNotFound(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	_, err := client.GetIssue(context.Background(), "o/r", 404)
	if !IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestPatchIssueSendsOnlyGivenFields(t *testing.T) {
	var body map[string]interface{}
	client := testServer(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		writeJSON(w, Issue{Number: 5, Title: "new title"})
	})

	_, err := client.PatchIssue(context.Background(), "o/r", 5, map[string]interface{}{"title": "new title"})
	if err != nil {
		t.Fatalf("PatchIssue: %v", err)
	}
	if len(body) != 1 || body["title"] != "new title" {
		t.Errorf("patch body = %v, want only title", body)
	}
}

func TestListSubIssues(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if r.URL.Path != "/repos/o/r/issues/10/sub_issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, []Issue{{Number: 11}, {Number: 12}})
	})

	issues, err := client.ListSubIssues(context.Background(), "o/r", 10)
	if err != nil {
		t.Fatalf("ListSubIssues: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("got %d sub-issues, want 2", len(issues))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
