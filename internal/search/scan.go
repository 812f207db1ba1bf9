package search

import (
	"context"
	"strings"

	"inkshelf/api/internal/catalog"
)

// NovelLister is the catalog read the scan fallback needs.
type NovelLister interface {
	ListNovels(ctx context.Context) ([]catalog.StoredNovel, error)
}

// Scan matches novels by case-insensitive substring over the catalog itself.
// It reads every novel record, so it is only suitable as a fallback.
type Scan struct {
	catalog NovelLister
}

func NewScan(catalog NovelLister) *Scan {
	return &Scan{catalog: catalog}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	novels, err := s.catalog.ListNovels(ctx)
	if err != nil {
		return nil, 0, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var matched []Result
	for _, novel := range novels {
		if q.Category != "" && !strings.EqualFold(novel.Category, q.Category) {
			continue
		}
		if q.AgeRating != "" && novel.AgeRating != q.AgeRating {
			continue
		}
		if q.Tag != "" && !hasTag(novel.Tags, q.Tag) {
			continue
		}
		if needle != "" && !matches(novel.Novel, needle) {
			continue
		}
		matched = append(matched, Result{
			ID:        novel.ID,
			Title:     novel.Title,
			Author:    novel.Author,
			Snippet:   snippet(novel.Description),
			Category:  novel.Category,
			AgeRating: novel.AgeRating,
			Tags:      novel.Tags,
		})
	}

	total := len(matched)
	if q.Offset >= total {
		return []Result{}, total, nil
	}
	end := q.Offset + q.limit()
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func matches(novel catalog.Novel, needle string) bool {
	fields := []string{novel.Title, novel.Author, novel.Description}
	fields = append(fields, novel.Tags...)
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
