package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sweetcrumb/accounts/config"
)

const (
	DriverMinio = "minio"
	DriverGCS   = "gcs"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the backend selected by cfg.Driver and ensures its bucket
// exists. An empty driver returns nil storage and no error.
func Open(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "":
		return nil, nil
	case DriverMinio:
		backend, err = NewMinioClient(cfg.Minio)
	case DriverGCS:
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", s.Bucket(), err)
	}
	return s, nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Get opens a reader for an object in the configured bucket.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}
