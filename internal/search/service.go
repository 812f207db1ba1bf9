package search

import (
	"context"
	"log"

	"inkshelf/api/internal/catalog"
)

// engine is the remote index the service prefers when it is healthy.
type engine interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexNovels(records []NovelRecord) error
	DeleteNovel(id string) error
}

// Service tries Meilisearch first and falls back to scanning the catalog. It
// also receives catalog changes as a catalog.Indexer.
type Service struct {
	engine engine
	scan   *Scan
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, scan *Scan) *Service {
	s := &Service{scan: scan}
	if meili != nil {
		s.engine = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engine != nil && s.engine.Healthy() {
		results, total, err := s.engine.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "scan"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "scan"}
}

// IndexNovel indexes a novel (fire-and-forget to Meilisearch).
func (s *Service) IndexNovel(novel catalog.Novel) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	record := recordFromNovel(novel)
	go func() {
		if err := s.engine.IndexNovels([]NovelRecord{record}); err != nil {
			log.Printf("search: index novel %s: %v", record.ID, err)
		}
	}()
}

// RemoveNovel drops a novel from the index (fire-and-forget).
func (s *Service) RemoveNovel(id string) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	go func() {
		if err := s.engine.DeleteNovel(id); err != nil {
			log.Printf("search: delete novel %s: %v", id, err)
		}
	}()
}

// Reindex pushes every catalog record to Meilisearch. Called at startup so an
// index that missed writes while it was down catches up.
func (s *Service) Reindex(ctx context.Context, lister NovelLister) {
	if s.engine == nil || !s.engine.Healthy() {
		return
	}
	novels, err := lister.ListNovels(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]NovelRecord, 0, len(novels))
	for _, novel := range novels {
		records = append(records, recordFromNovel(novel.Novel))
	}
	if err := s.engine.IndexNovels(records); err != nil {
		log.Printf("search: reindex novels: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

var _ catalog.Indexer = (*Service)(nil)
