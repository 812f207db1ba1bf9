// Package store is the PostgreSQL blob store: one row per path, conditioned
// writes by comparing the version column, and an audit row per change written in
// the same transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inkshelf/api/internal/blobstore"
)

const author = "inkshelf"

type BlobStore struct {
	db *sql.DB
}

func NewBlobStore(db *sql.DB) *BlobStore {
	return &BlobStore{db: db}
}

func (s *BlobStore) DB() *sql.DB {
	return s.db
}

func (s *BlobStore) Get(ctx context.Context, path string) (*blobstore.Object, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return nil, err
	}
	obj := blobstore.Object{Path: path}
	err := s.db.QueryRowContext(ctx, `SELECT content, version FROM blobs WHERE path=$1`, path).Scan(&obj.Content, &obj.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get", path, err)
	}
	return &obj, nil
}

func (s *BlobStore) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return "", err
	}
	version := blobstore.ContentVersion(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", dbError("put", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if expectedVersion == "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO blobs (path, content, version)
			VALUES ($1, $2, $3)
			ON CONFLICT (path) DO NOTHING
		`, path, content, version)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE blobs SET content=$2, version=$3, updated_at=NOW()
			WHERE path=$1 AND version=$4
		`, path, content, version, expectedVersion)
	}
	if err != nil {
		return "", dbError("put", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", dbError("put", path, err)
	}
	if n == 0 {
		if expectedVersion == "" {
			return "", fmt.Errorf("put %s: %w", path, blobstore.ErrAlreadyExists)
		}
		return "", fmt.Errorf("put %s: %w", path, blobstore.ErrVersionConflict)
	}

	if err := recordChange(ctx, tx, path, version, message, false); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", dbError("put", path, err)
	}
	return version, nil
}

func (s *BlobStore) Delete(ctx context.Context, path, expectedVersion, message string) error {
	if err := blobstore.ValidatePath(path); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("delete", path, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT version FROM blobs WHERE path=$1 FOR UPDATE`, path).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return dbError("delete", path, err)
	}
	if err := blobstore.CheckDelete(current, expectedVersion); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE path=$1`, path); err != nil {
		return dbError("delete", path, err)
	}
	if err := recordChange(ctx, tx, path, "", message, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError("delete", path, err)
	}
	return nil
}

func (s *BlobStore) List(ctx context.Context, prefix string) ([]blobstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, version FROM blobs
		WHERE left(path, length($1)) = $1
		ORDER BY path COLLATE "C"
	`, prefix)
	if err != nil {
		return nil, dbError("list", prefix, err)
	}
	defer rows.Close()

	entries := make([]blobstore.Entry, 0)
	for rows.Next() {
		var entry blobstore.Entry
		if err := rows.Scan(&entry.Path, &entry.Version); err != nil {
			return nil, dbError("list", prefix, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list", prefix, err)
	}
	return entries, nil
}

func (s *BlobStore) History(ctx context.Context, path string, limit int) ([]blobstore.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COALESCE(version, ''), message, author, deleted, created_at
		FROM blob_changes
		WHERE path=$1
		ORDER BY id DESC
		LIMIT NULLIF($2, 0)
	`, path, max(limit, 0))
	if err != nil {
		return nil, dbError("history", path, err)
	}
	defer rows.Close()

	items := make([]blobstore.Revision, 0)
	for rows.Next() {
		var item blobstore.Revision
		var at time.Time
		if err := rows.Scan(&item.Path, &item.Version, &item.Message, &item.Author, &item.Deleted, &at); err != nil {
			return nil, dbError("history", path, err)
		}
		item.At = at.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("history", path, err)
	}
	return items, nil
}

func (s *BlobStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return dbError("ping", "", err)
	}
	return nil
}

func recordChange(ctx context.Context, tx *sql.Tx, path, version, message string, deleted bool) error {
	var v any
	if version != "" {
		v = version
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blob_changes (path, version, message, author, deleted)
		VALUES ($1, $2, $3, $4, $5)
	`, path, v, message, author, deleted)
	if err != nil {
		return dbError("audit", path, err)
	}
	return nil
}

// dbError marks a database failure as a transport error: a write whose commit
// failed may or may not be durable.
func dbError(op, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %v", op, path, blobstore.ErrTransport, err)
}
