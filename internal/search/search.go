package search

import "inkshelf/api/internal/catalog"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Snippet   string   `json:"snippet"`
	Category  string   `json:"category,omitempty"`
	AgeRating string   `json:"ageRating,omitempty"`
	Tags      []string `json:"tags"`
}

// Query describes a search request.
type Query struct {
	Text      string
	Category  string // empty = any
	AgeRating string // empty = any
	Tag       string // empty = any
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

const defaultLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return defaultLimit
	}
	return q.Limit
}

// NovelRecord is the data we index for a novel.
type NovelRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	AgeRating   string   `json:"ageRating"`
	Tags        []string `json:"tags"`
	CreatedAt   int64    `json:"createdAt"`
}

func recordFromNovel(n catalog.Novel) NovelRecord {
	return NovelRecord{
		ID:          n.ID,
		Title:       n.Title,
		Author:      n.Author,
		Description: n.Description,
		Category:    n.Category,
		AgeRating:   n.AgeRating,
		Tags:        n.Tags,
		CreatedAt:   n.CreatedAt.Unix(),
	}
}

const snippetRunes = 160

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "…"
}
