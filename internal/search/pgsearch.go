package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with ILIKE queries against Postgres. It is the
// fallback when Meilisearch is down or not configured.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// likePattern escapes LIKE metacharacters so user input matches literally.
func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(text)) + "%"
}

func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.ProjectID == "" {
		return nil, 0, nil
	}
	limit := normalizeLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultTask {
		subQueries = append(subQueries, `
			SELECT 'task'::text AS type, t.id, t.title, t.description AS snippet, t.project_id, t.status, t.created_at
			FROM tasks t
			WHERE t.project_id = $1 AND (t.title ILIKE $2 OR t.description ILIKE $2)`)
	}
	if q.FilterType == "" || q.FilterType == ResultFile {
		subQueries = append(subQueries, `
			SELECT 'file'::text AS type, f.id, f.original_name AS title, f.mime_type AS snippet, f.project_id, ''::text AS status, f.created_at
			FROM files f
			WHERE f.project_id = $1 AND f.original_name ILIKE $2`)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	args := []any{q.ProjectID, likePattern(q.Text)}
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY created_at DESC
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every task and file for a full reindex.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]TaskRecord, []FileRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `SELECT id, project_id, title, description, status FROM tasks`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	fileRows, err := p.db.QueryContext(ctx, `SELECT id, project_id, original_name, mime_type FROM files`)
	if err != nil {
		return nil, nil, fmt.Errorf("load files: %w", err)
	}
	defer fileRows.Close()

	files := make([]FileRecord, 0)
	for fileRows.Next() {
		var f FileRecord
		if err := fileRows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.MimeType); err != nil {
			return nil, nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := fileRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate files: %w", err)
	}
	return tasks, files, nil
}
