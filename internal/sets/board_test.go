package sets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/notionsync/notionsync/internal/config"
	"github.com/notionsync/notionsync/internal/notion"
	"github.com/notionsync/notionsync/internal/sync"
)

func TestCapitalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"performance", "Performance"},
		{"webCompat", "WebCompat"},
		{"", ""},
		{"Already", "Already"},
	}
	for _, tt := range tests {
		if got := capitalize(tt.in); got != tt.want {
			t.Errorf("capitalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMinMaxTime(t *testing.T) {
	a, b := dateAt(2026, 1, 1), dateAt(2026, 3, 1)

	if got := minTime(a, b); got != a {
		t.Errorf("minTime = %v", got)
	}
	if got := minTime(nil, b); got != b {
		t.Errorf("minTime with nil = %v", got)
	}
	if got := maxTime(a, b); got != b {
		t.Errorf("maxTime = %v", got)
	}
	if got := maxTime(a, nil); got != a {
		t.Errorf("maxTime with nil = %v", got)
	}
}

// relatedPage builds the API shape of a milestone page living in a source
// database, with title, dates, and status filled the way the board reads
// them.
func relatedPage(dbID, title, status, start, end string) map[string]any {
	dates := map[string]any{}
	if start != "" {
		dateVal := map[string]any{"start": start}
		if end != "" {
			dateVal["end"] = end
		}
		dates = map[string]any{"type": "date", "date": dateVal}
	}
	return map[string]any{
		"object": "page",
		"id":     "related-" + strings.ToLower(title),
		"parent": map[string]any{"type": "database_id", "database_id": dbID},
		"properties": map[string]any{
			"Project": map[string]any{
				"type":  "title",
				"title": []map[string]any{{"plain_text": title}},
			},
			"Dates": dates,
			"Status": map[string]any{
				"type":   "status",
				"status": map[string]any{"name": status},
			},
		},
	}
}

func TestBoardRollup(t *testing.T) {
	pages := map[string]map[string]any{
		"related-alpha": relatedPage("db-perf", "Alpha", "Done", "2026-01-01", "2026-01-31"),
		"related-beta":  relatedPage("db-perf", "Beta", "In progress", "2026-02-01", "2026-03-15"),
		"related-gamma": relatedPage("db-other", "Gamma", "Done", "2026-06-01", ""),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/pages/")
		page, ok := pages[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"code": "object_not_found", "message": id})
			return
		}
		json.NewEncoder(w).Encode(page)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Set{
		Method:        config.MethodProjectBoard,
		NotionBoardID: "db-board",
		Boards: map[string]*config.BoardSource{
			"performance": {Database: "db-perf", Title: "Project", Dates: "Dates"},
		},
	}
	b := newBoardSet(Options{Name: "board", Set: cfg}, notion.NewClient("tok").WithBaseURL(srv.URL))

	row := &sync.Record{
		NativeID: "row1",
		Key:      "row1",
		Raw: notion.Page{
			ID: "row1",
			Properties: map[string]notion.PropertyValue{
				"Milestones": {Type: "relation", Relation: []notion.PageRef{
					{ID: "related-alpha"}, {ID: "related-beta"},
				}},
				// Relations into unconfigured databases are ignored.
				"Other": {Type: "relation", Relation: []notion.PageRef{{ID: "related-gamma"}}},
			},
		},
	}

	got, err := b.rollup(t.Context(), row)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if got == nil {
		t.Fatal("rollup returned no record")
	}
	if v := got.Field(sync.FieldState); !v.Equal(sync.Select(boardInProgress)) {
		t.Errorf("state = %v, want %s", v, boardInProgress)
	}
	if v := got.Field(sync.FieldTeam); !v.Equal(sync.Select("Performance")) {
		t.Errorf("team = %v", v)
	}
	dates, _ := got.Field(sync.FieldDates).(sync.DateRange)
	wantStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if dates.Start == nil || !dates.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", dates.Start, wantStart)
	}
	if dates.End == nil || !dates.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", dates.End, wantEnd)
	}
}

func TestBoardRollupAllDone(t *testing.T) {
	pages := map[string]map[string]any{
		"related-alpha": relatedPage("db-perf", "Alpha", "Done", "2026-01-01", "2026-01-31"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/pages/")
		json.NewEncoder(w).Encode(pages[id])
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Set{
		Method:        config.MethodProjectBoard,
		NotionBoardID: "db-board",
		Boards: map[string]*config.BoardSource{
			"performance": {Database: "db-perf", Title: "Project", Dates: "Dates"},
		},
	}
	b := newBoardSet(Options{Name: "board", Set: cfg}, notion.NewClient("tok").WithBaseURL(srv.URL))

	row := &sync.Record{
		NativeID: "row1",
		Key:      "row1",
		Raw: notion.Page{
			ID: "row1",
			Properties: map[string]notion.PropertyValue{
				"Milestones": {Type: "relation", Relation: []notion.PageRef{{ID: "related-alpha"}}},
			},
		},
	}

	got, err := b.rollup(t.Context(), row)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if v := got.Field(sync.FieldState); !v.Equal(sync.Select(boardDone)) {
		t.Errorf("state = %v, want %s", v, boardDone)
	}
	if v := got.Field(sync.FieldTitle); !v.Equal(sync.Text("Alpha")) {
		t.Errorf("title = %v", v)
	}
}

func TestBoardRollupNoRelations(t *testing.T) {
	cfg := &config.Set{
		Method:        config.MethodProjectBoard,
		NotionBoardID: "db-board",
		Boards: map[string]*config.BoardSource{
			"performance": {Database: "db-perf", Title: "Project", Dates: "Dates"},
		},
	}
	b := newBoardSet(Options{Name: "board", Set: cfg}, notion.NewClient("tok"))

	row := &sync.Record{
		NativeID: "row1",
		Key:      "row1",
		Raw: notion.Page{
			ID: "row1",
			Properties: map[string]notion.PropertyValue{
				"Name": {Type: "title"},
			},
		},
	}
	got, err := b.rollup(t.Context(), row)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if got != nil {
		t.Errorf("rollup = %+v, want nil for a row without relations", got)
	}
}
