package catalog

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"inkshelf/api/internal/validation"
)

var (
	slugSpace   = regexp.MustCompile(`\s+`)
	slugStrip   = regexp.MustCompile(`[^a-z0-9_-]`)
	slugHyphens = regexp.MustCompile(`-{2,}`)
	headingOpen = regexp.MustCompile(`(?i)^<h[1-6][\s>/]`)
)

// Slug derives the novel id from a title: "The Lost City" -> "the-lost-city".
func Slug(title string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugSpace.ReplaceAllString(slug, "-")
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugHyphens.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "", validation.Invalid("title", "must contain at least one letter or digit")
	}
	if validation.Reserved(slug) {
		return "", validation.Invalid("title", fmt.Sprintf("%q cannot be used as a novel title", title))
	}
	return slug, nil
}

// withHeading prepends an <h1> built from title unless body already opens with a
// heading.
func withHeading(title, body string) string {
	title = strings.TrimSpace(title)
	if title == "" || headingOpen.MatchString(strings.TrimSpace(body)) {
		return body
	}
	return "<h1>" + html.EscapeString(title) + "</h1>\n" + body
}
