package repository

import (
	"context"
	"time"

	"cloud.google.com/go/storage"

	"civichub/pkg/api"
)

// FileStore resolves the opaque file references carried by messages into
// short-lived download URLs. Uploads happen directly against the bucket via
// the external upload handshake; only the object name crosses this core.
type FileStore struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
}

var _ api.FileResolver = (*FileStore)(nil)

func NewFileStore(client *storage.Client, bucket string) *FileStore {
	return &FileStore{client: client, bucket: bucket, ttl: 15 * time.Minute}
}

func (f *FileStore) ResolveURL(ctx context.Context, fileRef string) (string, error) {
	return f.client.Bucket(f.bucket).SignedURL(fileRef, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(f.ttl),
		Scheme:  storage.SigningSchemeV4,
	})
}
