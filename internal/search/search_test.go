package search

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPgSearchScopesToProject(t *testing.T) {
	db, mock := newMockDB(t)
	pg := NewPgSearch(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM`).
		WithArgs("p1", "%50\\%%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`ORDER BY created_at DESC LIMIT 20 OFFSET 0`).
		WithArgs("p1", "%50\\%%").
		WillReturnRows(sqlmock.NewRows([]string{"type", "id", "title", "snippet", "project_id", "status"}).
			AddRow("task", "t1", "Cut costs 50%", "", "p1", "ACTIVE").
			AddRow("file", "f1", "50%-plan.pdf", "application/pdf", "p1", ""))

	results, total, err := pg.Search(Query{Text: " 50% ", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Fatalf("Search() total=%d results=%d", total, len(results))
	}
	if results[0].Type != ResultTask || results[0].Status != "ACTIVE" || results[1].Type != ResultFile {
		t.Fatalf("Search() results = %+v", results)
	}
}

func TestPgSearchFilterType(t *testing.T) {
	db, mock := newMockDB(t)
	pg := NewPgSearch(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM \( SELECT 'file'::text`).
		WithArgs("p1", "%plan%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM files f`).
		WithArgs("p1", "%plan%").
		WillReturnRows(sqlmock.NewRows([]string{"type", "id", "title", "snippet", "project_id", "status"}))

	if _, _, err := pg.Search(Query{Text: "plan", ProjectID: "p1", FilterType: ResultFile}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
}

func TestPgSearchEmptyQuery(t *testing.T) {
	db, _ := newMockDB(t)
	results, total, err := NewPgSearch(db).Search(Query{Text: "  ", ProjectID: "p1"})
	if err != nil || total != 0 || results != nil {
		t.Fatalf("Search() = %v, %d, %v", results, total, err)
	}
}

type fakePrimary struct {
	healthy   bool
	searchErr error
	results   []Result

	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (f *fakePrimary) Healthy() bool { return f.healthy }

func (f *fakePrimary) Search(Query) ([]Result, int, error) {
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakePrimary) IndexTasks(tasks []TaskRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tasks {
		f.indexed = append(f.indexed, t.ID)
	}
	return nil
}

func (f *fakePrimary) IndexFiles(files []FileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range files {
		f.indexed = append(f.indexed, file.ID)
	}
	return nil
}

func (f *fakePrimary) DeleteTask(id string) error { return f.recordDelete(id) }
func (f *fakePrimary) DeleteFile(id string) error { return f.recordDelete(id) }
func (f *fakePrimary) DeleteProject(id string) error {
	return f.recordDelete("project:" + id)
}

func (f *fakePrimary) recordDelete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePrimary) snapshot() (indexed, deleted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.indexed), len(f.deleted)
}

type staticSearcher struct {
	results []Result
}

func (s staticSearcher) Healthy() bool { return true }
func (s staticSearcher) Search(Query) ([]Result, int, error) {
	return s.results, len(s.results), nil
}

func TestServicePrefersHealthyPrimary(t *testing.T) {
	primary := &fakePrimary{healthy: true, results: []Result{{Type: ResultTask, ID: "t1"}}}
	svc := &Service{primary: primary, fallback: staticSearcher{results: []Result{{ID: "fallback"}}}, logger: quietLogger()}

	resp := svc.Search(Query{Text: "x", ProjectID: "p1"})
	if len(resp.Results) != 1 || resp.Results[0].ID != "t1" {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestServiceFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakePrimary
	}{
		{name: "unhealthy", primary: &fakePrimary{healthy: false}},
		{name: "error", primary: &fakePrimary{healthy: true, searchErr: errors.New("boom")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &Service{primary: tt.primary, fallback: staticSearcher{results: []Result{{ID: "fallback"}}}, logger: quietLogger()}
			resp := svc.Search(Query{Text: "x", ProjectID: "p1"})
			if len(resp.Results) != 1 || resp.Results[0].ID != "fallback" {
				t.Fatalf("Search() = %+v", resp)
			}
		})
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil, quietLogger())
	resp := svc.Search(Query{Text: "x", ProjectID: "p1"})
	if resp.Results == nil || resp.Total != 0 || resp.Query != "x" {
		t.Fatalf("Search() = %+v", resp)
	}
	svc.IndexTask(TaskRecord{ID: "t1"})
	svc.DeleteProject("p1")
}

func TestServiceIndexesInBackground(t *testing.T) {
	primary := &fakePrimary{healthy: true}
	svc := &Service{primary: primary, logger: quietLogger()}

	svc.IndexTask(TaskRecord{ID: "t1", ProjectID: "p1"})
	svc.IndexFile(FileRecord{ID: "f1", ProjectID: "p1"})
	svc.DeleteTask("t1")
	svc.DeleteProject("p1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if indexed, deleted := primary.snapshot(); indexed == 2 && deleted == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	indexed, deleted := primary.snapshot()
	t.Fatalf("indexed=%d deleted=%d", indexed, deleted)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":          json.RawMessage(`"t1"`),
		"projectId":   json.RawMessage(`"p1"`),
		"title":       json.RawMessage(`"Launch plan"`),
		"description": json.RawMessage(`"Ship it"`),
		"status":      json.RawMessage(`"REVIEW"`),
		"_formatted":  json.RawMessage(`{"title":"Launch <mark>plan</mark>","status":"REVIEW"}`),
	}
	r := hitToResult(hit, ResultTask)
	if r.ID != "t1" || r.ProjectID != "p1" || r.Status != "REVIEW" {
		t.Fatalf("hitToResult() = %+v", r)
	}
	if r.Title != "Launch <mark>plan</mark>" || r.Snippet != "Ship it" {
		t.Fatalf("hitToResult() text = %q / %q", r.Title, r.Snippet)
	}
	if indexToResultType(idxFiles) != ResultFile || indexToResultType("other") != "" {
		t.Fatal("indexToResultType() mismatch")
	}
}
