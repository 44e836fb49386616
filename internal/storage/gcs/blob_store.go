// Package gcs archives run reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config names the destination bucket.
type Config struct {
	Bucket string `mapstructure:"bucket"`
}

type objectWriter interface {
	io.Writer
	Close() error
}

type openFunc func(ctx context.Context, path, contentType string) objectWriter

// BlobStore writes objects to a single bucket.
type BlobStore struct {
	bucket string
	open   openFunc
	closer func() error
}

// Open dials GCS with Application Default Credentials and fails fast when the
// bucket is missing or not readable.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close storage client after bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("bucket %q: %w", cfg.Bucket, err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	store.closer = client.Close
	return store, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket: cfg.Bucket,
		open: func(ctx context.Context, path, contentType string) objectWriter {
			w := bucket.Object(path).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	w := s.open(ctx, path, contentType)
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Close releases the client when the store opened it.
func (s *BlobStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
