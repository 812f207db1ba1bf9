package document

import (
	"context"
	"fmt"

	"inkshelf/api/internal/blobstore"
)

// Text is a document stored verbatim, such as an HTML chapter body.
type Text struct {
	Body    string
	Version string
	Exists  bool
}

func LoadText(ctx context.Context, store blobstore.Store, path string) (Text, error) {
	obj, err := store.Get(ctx, path)
	if err != nil {
		return Text{}, fmt.Errorf("read %s: %w", path, err)
	}
	if obj == nil {
		return Text{}, nil
	}
	return Text{Body: string(obj.Content), Version: obj.Version, Exists: true}, nil
}

// SaveText writes body conditioned on expectedVersion ("" creates).
func SaveText(ctx context.Context, store blobstore.Store, path, body, expectedVersion, message string) (Text, error) {
	version, err := store.Put(ctx, path, []byte(body), expectedVersion, message)
	if err != nil {
		return Text{}, fmt.Errorf("write %s: %w", path, err)
	}
	return Text{Body: body, Version: version, Exists: true}, nil
}
