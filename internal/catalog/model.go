package catalog

import (
	"strings"
	"time"

	"inkshelf/api/internal/validation"
)

const (
	RatingAllAges = "all-ages"
	RatingTeen    = "teen"
	RatingMature  = "mature"
	RatingAdult   = "adult"
)

// ReservedTag is carried by every novel so listings can filter on it.
const ReservedTag = "novel"

var ageRatings = map[string]bool{
	RatingAllAges: true,
	RatingTeen:    true,
	RatingMature:  true,
	RatingAdult:   true,
}

// Novel is the record stored at {id}/info.json.
type Novel struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	CoverURL    string    `json:"coverUrl"`
	Category    string    `json:"category"`
	Tags        []string  `json:"tags"`
	Translator  string    `json:"translator"`
	ReleaseDate string    `json:"releaseDate"`
	CreatorID   string    `json:"creatorId"`
	AgeRating   string    `json:"ageRating"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StoredNovel is a novel together with the version a delete must present.
type StoredNovel struct {
	Novel
	Version string `json:"version"`
}

type NovelInput struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	CoverURL    string   `json:"coverUrl"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Translator  string   `json:"translator"`
	ReleaseDate string   `json:"releaseDate"`
	AgeRating   string   `json:"ageRating"`
	CreatorID   string   `json:"-"`
}

type Chapter struct {
	NovelID string `json:"novelId"`
	Number  int    `json:"number"`
	Body    string `json:"body"`
	Version string `json:"version"`
}

// ChapterSummary is a chapter listing entry; the body is not fetched.
type ChapterSummary struct {
	Number  int    `json:"number"`
	Version string `json:"version"`
}

type ChapterInput struct {
	NovelID string
	Number  int
	Title   string
	Body    string
}

func normalizeNovel(input NovelInput) (Novel, error) {
	title, err := validation.Text("title", input.Title, 200)
	if err != nil {
		return Novel{}, err
	}
	author, err := validation.Text("author", input.Author, 100)
	if err != nil {
		return Novel{}, err
	}
	cover, err := validation.OptionalURL("coverUrl", input.CoverURL)
	if err != nil {
		return Novel{}, err
	}
	description := strings.TrimSpace(input.Description)
	if len([]rune(description)) > 5000 {
		return Novel{}, validation.Invalid("description", "must be at most 5000 characters")
	}
	rating, err := normalizeRating(input.AgeRating)
	if err != nil {
		return Novel{}, err
	}
	return Novel{
		Title:       title,
		Author:      author,
		Description: description,
		CoverURL:    cover,
		Category:    strings.TrimSpace(input.Category),
		Tags:        normalizeTags(input.Tags),
		Translator:  strings.TrimSpace(input.Translator),
		ReleaseDate: strings.TrimSpace(input.ReleaseDate),
		CreatorID:   input.CreatorID,
		AgeRating:   rating,
	}, nil
}

func normalizeRating(value string) (string, error) {
	rating := strings.ToLower(strings.TrimSpace(value))
	if rating == "" {
		return RatingAllAges, nil
	}
	if !ageRatings[rating] {
		return "", validation.Invalid("ageRating", "must be one of all-ages, teen, mature, adult")
	}
	return rating, nil
}

// normalizeTags trims, drops empties and case-insensitive duplicates (first
// spelling wins) and puts the reserved tag first.
func normalizeTags(tags []string) []string {
	out := []string{ReservedTag}
	seen := map[string]bool{ReservedTag: true}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}
