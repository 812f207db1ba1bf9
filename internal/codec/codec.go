// Package codec converts domain records to and from the text persisted in the
// blob store.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrCorrupt = errors.New("corrupt document")

// CorruptError reports a payload that could not be decoded.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("corrupt document: %v", e.Err)
	}
	return fmt.Sprintf("corrupt document %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() []error {
	return []error{ErrCorrupt, e.Err}
}

// Encode renders v as indented JSON with a trailing newline.
func Encode(v any) ([]byte, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(payload, '\n'), nil
}

// Decode parses data into target. Empty or malformed input is a CorruptError.
func Decode(path string, data []byte, target any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return &CorruptError{Path: path, Err: errors.New("empty payload")}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &CorruptError{Path: path, Err: err}
	}
	return nil
}

// Wrap base64-encodes content for transports that carry file bodies as text.
func Wrap(content []byte) string {
	return base64.StdEncoding.EncodeToString(content)
}

// Unwrap reverses Wrap, ignoring the line breaks some APIs insert.
func Unwrap(encoded string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' {
			return -1
		}
		return r
	}, encoded)
	content, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, &CorruptError{Err: fmt.Errorf("base64: %w", err)}
	}
	return content, nil
}
