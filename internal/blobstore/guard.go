package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Guarded bounds every call of the wrapped store by a timeout. Expired calls come
// back as ErrTransport: the caller cannot know whether a write landed.
type Guarded struct {
	next    Store
	timeout time.Duration
}

// Guard wraps next. A non-positive timeout only applies the error translation.
func Guard(next Store, timeout time.Duration) *Guarded {
	return &Guarded{next: next, timeout: timeout}
}

func (g *Guarded) Get(ctx context.Context, path string) (*Object, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	obj, err := g.next.Get(ctx, path)
	return obj, g.translate(ctx, "get", path, err)
}

func (g *Guarded) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	version, err := g.next.Put(ctx, path, content, expectedVersion, message)
	return version, g.translate(ctx, "put", path, err)
}

func (g *Guarded) Delete(ctx context.Context, path, expectedVersion, message string) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.translate(ctx, "delete", path, g.next.Delete(ctx, path, expectedVersion, message))
}

func (g *Guarded) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	entries, err := g.next.List(ctx, prefix)
	return entries, g.translate(ctx, "list", prefix, err)
}

func (g *Guarded) Ping(ctx context.Context) error {
	pinger, ok := g.next.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.translate(ctx, "ping", "", pinger.Ping(ctx))
}

// History forwards to the wrapped store when it keeps a readable audit trail.
func (g *Guarded) History(ctx context.Context, path string, limit int) ([]Revision, error) {
	reader, ok := g.next.(HistoryReader)
	if !ok {
		return nil, fmt.Errorf("history of %s: %w", path, ErrHistoryUnsupported)
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()
	revisions, err := reader.History(ctx, path, limit)
	return revisions, g.translate(ctx, "history", path, err)
}

// Unwrap exposes the wrapped store.
func (g *Guarded) Unwrap() Store {
	return g.next
}

func (g *Guarded) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Guarded) translate(ctx context.Context, op, path string, err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (errors.Is(ctx.Err(), context.DeadlineExceeded) && !isContractError(err)) {
		return fmt.Errorf("%s %s: %w: %v", op, path, ErrTransport, err)
	}
	return err
}

func isContractError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrInvalidPath)
}
