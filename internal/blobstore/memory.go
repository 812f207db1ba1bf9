package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const memoryAuthor = "inkshelf"

type memoryBlob struct {
	content []byte
	version string
}

// Memory is a process-local Store. It is the development backend and the test
// double for every service.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string]memoryBlob
	changes []Revision
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Get(ctx context.Context, path string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[path]
	if !ok {
		return nil, nil
	}
	return &Object{Path: path, Content: append([]byte(nil), blob.content...), Version: blob.version}, nil
}

func (m *Memory) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckWrite(m.blobs[path].version, expectedVersion); err != nil {
		return "", fmt.Errorf("put %s: %w", path, err)
	}
	version := ContentVersion(content)
	m.blobs[path] = memoryBlob{content: append([]byte(nil), content...), version: version}
	m.changes = append(m.changes, Revision{Path: path, Version: version, Message: message, Author: memoryAuthor, At: time.Now()})
	return version, nil
}

func (m *Memory) Delete(ctx context.Context, path, expectedVersion, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckDelete(m.blobs[path].version, expectedVersion); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	delete(m.blobs, path)
	m.changes = append(m.changes, Revision{Path: path, Message: message, Author: memoryAuthor, Deleted: true, At: time.Now()})
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0)
	for path, blob := range m.blobs {
		if strings.HasPrefix(path, prefix) {
			entries = append(entries, Entry{Path: path, Version: blob.version})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// History returns the audited changes for path, newest first. An empty path
// returns every change.
func (m *Memory) History(ctx context.Context, path string, limit int) ([]Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Revision, 0)
	for i := len(m.changes) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if path == "" || m.changes[i].Path == path {
			out = append(out, m.changes[i])
		}
	}
	return out, nil
}
