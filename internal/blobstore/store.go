// Package blobstore defines the path-addressed, version-stamped content store that
// every persisted document goes through, plus an in-memory implementation and a
// timeout guard usable with any backend.
package blobstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrAlreadyExists   = errors.New("blob already exists")
	ErrVersionConflict = errors.New("blob version conflict")
	ErrInvalidPath     = errors.New("invalid blob path")

	ErrHistoryUnsupported = errors.New("store keeps no readable history")

	// ErrAccessDenied means the backend refused the configured credentials.
	ErrAccessDenied = errors.New("blob store rejected the credentials")

	// ErrTransport means the outcome of the call is unknown; the write may or may
	// not have been applied.
	ErrTransport = errors.New("blob store unavailable")
)

// Object is a blob read together with the version that must accompany a
// conditioned write to the same path.
type Object struct {
	Path    string
	Content []byte
	Version string
}

// Entry is one listing result.
type Entry struct {
	Path    string
	Version string
}

// Store is the persistence substrate. Get reports absence as a nil object, not an
// error. Put with an empty expectedVersion creates the path and fails with
// ErrAlreadyExists if it exists; a non-empty expectedVersion must match the current
// version or the call fails with ErrVersionConflict. message is the audit text
// recorded with the change.
type Store interface {
	Get(ctx context.Context, path string) (*Object, error)
	Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error)
	Delete(ctx context.Context, path, expectedVersion, message string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Revision is one audited change of a path.
type Revision struct {
	Path    string    `json:"path"`
	Version string    `json:"version,omitempty"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// HistoryReader is implemented by stores that keep their audit trail readable.
// History lists the changes of path newest first, at most limit when limit > 0.
type HistoryReader interface {
	History(ctx context.Context, path string, limit int) ([]Revision, error)
}

// ContentVersion returns the git blob id of content, the same value the remote
// contents API reports as a file sha.
func ContentVersion(content []byte) string {
	h := sha1.New()
	_, _ = h.Write([]byte("blob " + strconv.Itoa(len(content)) + "\x00"))
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidatePath rejects absolute paths, empty segments and parent references.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsAny(segment, "\\\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// CheckWrite applies the conditioned-write rule given the current version of a path
// ("" when absent). Backends that compare versions in process use it so the rule is
// stated once.
func CheckWrite(current, expected string) error {
	switch {
	case expected == "" && current != "":
		return ErrAlreadyExists
	case expected != "" && current != expected:
		return ErrVersionConflict
	}
	return nil
}

// CheckDelete applies the delete rule: a version is always required and the path
// must exist.
func CheckDelete(current, expected string) error {
	if current == "" {
		return ErrNotFound
	}
	if expected == "" || current != expected {
		return ErrVersionConflict
	}
	return nil
}

// IsRetryable reports whether err is worth retrying with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrTransport)
}
