// Package objectstore keeps blobs in an S3-compatible bucket. The object ETag is
// the version; conditional writes use If-Match and If-None-Match.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"inkshelf/api/internal/blobstore"
)

const changeMetaKey = "Change"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("object store endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("bucket", s.bucket, "", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return classify("make bucket", s.bucket, "", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (*blobstore.Object, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get", path, "", err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, classify("get", path, "", err)
	}
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, classify("get", path, "", err)
	}
	return &blobstore.Object{Path: path, Content: content, Version: info.ETag}, nil
}

func (s *Store) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType(path),
		UserMetadata: map[string]string{changeMetaKey: message},
	}
	if expectedVersion == "" {
		opts.SetMatchETagExcept("*")
	} else {
		opts.SetMatchETag(expectedVersion)
	}
	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		return "", classify("put", path, expectedVersion, err)
	}
	return info.ETag, nil
}

// Delete checks the ETag with a stat right before removing the object. S3 has no
// conditional delete, so a write landing between the two calls is lost.
func (s *Store) Delete(ctx context.Context, path, expectedVersion, message string) error {
	if err := blobstore.ValidatePath(path); err != nil {
		return err
	}
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("delete %s: %w", path, blobstore.ErrNotFound)
		}
		return classify("delete", path, expectedVersion, err)
	}
	if err := blobstore.CheckDelete(info.ETag, expectedVersion); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete", path, expectedVersion, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]blobstore.Entry, error) {
	entries := make([]blobstore.Entry, 0)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, classify("list", prefix, "", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		entries = append(entries, blobstore.Entry{Path: obj.Key, Version: obj.ETag})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classify("ping", s.bucket, "", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// classify maps an S3 error onto the blob store contract. expectedVersion tells a
// failed create (If-None-Match) from a failed update (If-Match).
func classify(op, path, expectedVersion string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		if expectedVersion == "" {
			return fmt.Errorf("%s %s: %w", op, path, blobstore.ErrAlreadyExists)
		}
		return fmt.Errorf("%s %s: %w", op, path, blobstore.ErrVersionConflict)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", op, path, blobstore.ErrVersionConflict)
	case resp.StatusCode == http.StatusForbidden || resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" || resp.Code == "SignatureDoesNotMatch":
		return fmt.Errorf("%s %s: %w: %v", op, path, blobstore.ErrAccessDenied, err)
	case resp.Code == "NoSuchKey" && expectedVersion != "":
		return fmt.Errorf("%s %s: %w", op, path, blobstore.ErrVersionConflict)
	case resp.StatusCode == 0 || resp.StatusCode >= 500 || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w: %v", op, path, blobstore.ErrTransport, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}
