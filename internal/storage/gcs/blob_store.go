// Package gcs archives extracted page text in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultContentType = "text/plain; charset=utf-8"

// Config names the archive bucket and an optional key prefix.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes archived text objects to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New binds a BlobStore to cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(name),
		name:   name,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Key returns the object name used for p.
func (s *BlobStore) Key(p string) (string, error) {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p == "" {
		return "", errors.New("path is required")
	}
	if s.prefix == "" {
		return p, nil
	}
	return path.Join(s.prefix, p), nil
}

// PutObject uploads data in a single request and returns its gs:// URI.
// Archived texts are small, so resumable chunked uploads are disabled.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	key, err := s.Key(p)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.ChunkSize = 0
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, key), nil
}
