package app

import (
	"errors"
	"fmt"
	"net/http"

	"inkshelf/api/internal/auth"
	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/catalog"
	"inkshelf/api/internal/codec"
	"inkshelf/api/internal/comments"
	"inkshelf/api/internal/directory"
	"inkshelf/api/internal/session"
	"inkshelf/api/internal/validation"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var retryable = map[string]any{"retryable": true}

// errorMappings is checked in order; specific sentinels come before the generic
// store errors they may wrap.
var errorMappings = []struct {
	target error
	status int
	code   string
}{
	{comments.ErrThreadNotFound, http.StatusNotFound, "THREAD_NOT_FOUND"},
	{comments.ErrParentNotFound, http.StatusNotFound, "PARENT_NOT_FOUND"},
	{comments.ErrCommentNotFound, http.StatusNotFound, "COMMENT_NOT_FOUND"},
	{catalog.ErrNovelNotFound, http.StatusNotFound, "NOVEL_NOT_FOUND"},
	{catalog.ErrChapterNotFound, http.StatusNotFound, "CHAPTER_NOT_FOUND"},
	{directory.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{catalog.ErrNovelExists, http.StatusConflict, "NOVEL_EXISTS"},
	{directory.ErrUsernameTaken, http.StatusConflict, "USERNAME_TAKEN"},
	{directory.ErrEmailTaken, http.StatusConflict, "EMAIL_TAKEN"},
	{directory.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{blobstore.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{blobstore.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var invalid *validation.Error
	if errors.As(err, &invalid) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", invalid.Error(), map[string]any{"field": invalid.Field}
	}
	if errors.Is(err, validation.ErrInvalid) || errors.Is(err, blobstore.ErrInvalidPath) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}

	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code, capitalize(mapping.target.Error()), nil
		}
	}

	switch {
	case errors.Is(err, blobstore.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "Someone else changed this at the same time, please retry", retryable
	case errors.Is(err, codec.ErrCorrupt):
		return http.StatusInternalServerError, "CORRUPT_DOCUMENT", "This data is corrupted", nil
	case errors.Is(err, blobstore.ErrTransport):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is unreachable; the change may or may not have been saved", retryable
	case errors.Is(err, blobstore.ErrAccessDenied):
		return http.StatusBadGateway, "STORE_ACCESS_DENIED", "Storage rejected the server's credentials", nil
	case errors.Is(err, blobstore.ErrHistoryUnsupported):
		return http.StatusNotImplemented, "HISTORY_UNAVAILABLE", "This storage backend keeps no readable history", nil
	case errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Session expired, please sign in again", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func capitalize(message string) string {
	if message == "" {
		return message
	}
	if c := message[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + message[1:]
	}
	return message
}
