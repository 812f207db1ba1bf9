// Package validation holds the input checks that run before any store call.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrInvalid = errors.New("validation failed")

// Error names the offending field and a message fit for an end user.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

func Invalid(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Segment checks that value can be used as one component of a blob path.
func Segment(field, value string) error {
	if value == "" {
		return Invalid(field, "is required")
	}
	if value == "." || value == ".." || !segmentPattern.MatchString(value) {
		return Invalid(field, "may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

// reservedNovelIDs are top-level directories owned by other collections.
var reservedNovelIDs = map[string]bool{"users": true}

// Reserved reports whether id names a top-level directory that is not a novel.
func Reserved(id string) bool {
	return reservedNovelIDs[strings.ToLower(id)]
}

// NovelID checks a novel id: a path segment that does not collide with another
// collection.
func NovelID(value string) error {
	if err := Segment("novelId", value); err != nil {
		return err
	}
	if Reserved(value) {
		return Invalid("novelId", fmt.Sprintf("%q is reserved", value))
	}
	return nil
}

// Text trims value and checks it is non-empty and at most maxRunes long
// (maxRunes <= 0 means unbounded).
func Text(field, value string, maxRunes int) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", Invalid(field, "is required")
	}
	if maxRunes > 0 && utf8.RuneCountInString(trimmed) > maxRunes {
		return "", Invalid(field, fmt.Sprintf("must be at most %d characters", maxRunes))
	}
	return trimmed, nil
}

// OptionalURL accepts an empty value or an absolute http(s) URL.
func OptionalURL(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", Invalid(field, "must be an http or https URL")
	}
	return trimmed, nil
}
