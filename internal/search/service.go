package search

import (
	"context"
	"log/slog"
)

// primaryIndex is the Meilisearch side of the facade.
type primaryIndex interface {
	Searcher
	IndexTasks(tasks []TaskRecord) error
	IndexFiles(files []FileRecord) error
	DeleteTask(id string) error
	DeleteFile(id string) error
	DeleteProject(projectID string) error
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	primary  primaryIndex
	fallback Searcher
	loader   *PgSearch
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured; pg may be nil when running without Postgres.
func NewService(meili *Meili, pg *PgSearch, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger}
	if meili != nil {
		s.primary = meili
	}
	if pg != nil {
		s.fallback = pg
		s.loader = pg
	}
	return s
}

func (s *Service) primaryUp() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.primaryUp() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to postgres", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// background runs fn off the request path when Meilisearch is up.
func (s *Service) background(what, id string, fn func(primaryIndex) error) {
	if !s.primaryUp() {
		return
	}
	primary := s.primary
	go func() {
		if err := fn(primary); err != nil {
			s.logger.Warn("search index update failed", "op", what, "id", id, "error", err)
		}
	}()
}

func (s *Service) IndexTask(t TaskRecord) {
	s.background("index task", t.ID, func(p primaryIndex) error { return p.IndexTasks([]TaskRecord{t}) })
}

func (s *Service) IndexFile(f FileRecord) {
	s.background("index file", f.ID, func(p primaryIndex) error { return p.IndexFiles([]FileRecord{f}) })
}

func (s *Service) DeleteTask(id string) {
	s.background("delete task", id, func(p primaryIndex) error { return p.DeleteTask(id) })
}

func (s *Service) DeleteFile(id string) {
	s.background("delete file", id, func(p primaryIndex) error { return p.DeleteFile(id) })
}

func (s *Service) DeleteProject(projectID string) {
	s.background("delete project", projectID, func(p primaryIndex) error { return p.DeleteProject(projectID) })
}

// ReindexAllFromPG pushes every task and file from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryUp() || s.loader == nil {
		return
	}
	tasks, files, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexTasks(tasks); err != nil {
		s.logger.Error("reindex tasks", "error", err)
	}
	if err := s.primary.IndexFiles(files); err != nil {
		s.logger.Error("reindex files", "error", err)
	}
	s.logger.Info("search reindex complete", "tasks", len(tasks), "files", len(files))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
