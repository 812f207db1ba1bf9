// Package document implements the read-modify-write cycle every mutation of a
// persisted record goes through: fetch content and version, decode, apply a pure
// mutation, encode, and write back conditioned on the version that was read.
package document

import (
	"context"
	"errors"
	"fmt"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/codec"
)

// ErrNotFound is returned when an update requires an existing document.
var ErrNotFound = fmt.Errorf("document %w", blobstore.ErrNotFound)

// Snapshot is a decoded document and the version it was read at. Version is empty
// and Exists false when the path had no document.
type Snapshot[T any] struct {
	Value   T
	Version string
	Exists  bool
}

// Mutation transforms the current value into the value to persist. Returning an
// error aborts the cycle without writing.
type Mutation[T any] func(current T) (T, error)

type UpdateOptions struct {
	// MustExist turns an absent document into ErrNotFound instead of starting
	// from the zero value.
	MustExist bool
	// Message is the audit text attached to the write.
	Message string
	// Attempts bounds the number of read-mutate-write cycles. Values below 2 run a
	// single cycle and surface a version conflict to the caller.
	Attempts int
}

// Versioned binds a record type to one blob path.
type Versioned[T any] struct {
	store blobstore.Store
	path  string
}

func New[T any](store blobstore.Store, path string) *Versioned[T] {
	return &Versioned[T]{store: store, path: path}
}

func (v *Versioned[T]) Path() string {
	return v.path
}

func (v *Versioned[T]) Load(ctx context.Context) (Snapshot[T], error) {
	var snap Snapshot[T]
	obj, err := v.store.Get(ctx, v.path)
	if err != nil {
		return snap, fmt.Errorf("read %s: %w", v.path, err)
	}
	if obj == nil {
		return snap, nil
	}
	if err := codec.Decode(v.path, obj.Content, &snap.Value); err != nil {
		return snap, err
	}
	snap.Version = obj.Version
	snap.Exists = true
	return snap, nil
}

// Create writes value only if the path has no document yet.
func (v *Versioned[T]) Create(ctx context.Context, value T, message string) (Snapshot[T], error) {
	return v.write(ctx, value, "", message)
}

// Update runs the cycle. On success the returned snapshot holds the persisted
// value and its new version.
func (v *Versioned[T]) Update(ctx context.Context, mutate Mutation[T], opts UpdateOptions) (Snapshot[T], error) {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		current, err := v.Load(ctx)
		if err != nil {
			return Snapshot[T]{}, err
		}
		if !current.Exists && opts.MustExist {
			return Snapshot[T]{}, fmt.Errorf("%s: %w", v.path, ErrNotFound)
		}
		next, err := mutate(current.Value)
		if err != nil {
			return Snapshot[T]{}, err
		}
		snap, err := v.write(ctx, next, current.Version, opts.Message)
		if err == nil {
			return snap, nil
		}
		if !isLostRace(err, current.Exists) {
			return Snapshot[T]{}, err
		}
		lastErr = err
	}
	return Snapshot[T]{}, lastErr
}

// Delete removes the document if it is still at version.
func (v *Versioned[T]) Delete(ctx context.Context, version, message string) error {
	if err := v.store.Delete(ctx, v.path, version, message); err != nil {
		return fmt.Errorf("delete %s: %w", v.path, err)
	}
	return nil
}

func (v *Versioned[T]) write(ctx context.Context, value T, expectedVersion, message string) (Snapshot[T], error) {
	payload, err := codec.Encode(value)
	if err != nil {
		return Snapshot[T]{}, err
	}
	version, err := v.store.Put(ctx, v.path, payload, expectedVersion, message)
	if err != nil {
		return Snapshot[T]{}, fmt.Errorf("write %s: %w", v.path, err)
	}
	return Snapshot[T]{Value: value, Version: version, Exists: true}, nil
}

// isLostRace reports whether a failed write lost to a concurrent writer: a stale
// version, or a first write that found the path already created.
func isLostRace(err error, existed bool) bool {
	if errors.Is(err, blobstore.ErrVersionConflict) {
		return true
	}
	return !existed && errors.Is(err, blobstore.ErrAlreadyExists)
}
