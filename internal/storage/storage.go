package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/useraccounts/apiserver/config"
)

// ErrDisabled is returned by New when no storage backend is configured.
var ErrDisabled = errors.New("object storage disabled")

const (
	imageCacheControl = "private, max-age=86400"
	googleChunkSize   = 16 << 20
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
	Bucket() string
}

// Storage wraps an ObjectStorage backend with a stable API and bounds every
// remote call by a timeout.
type Storage struct {
	backend    ObjectStorage
	timeout    time.Duration
	publicBase string
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage, timeout time.Duration) *Storage {
	return &Storage{backend: backend, timeout: timeout}
}

// New selects and constructs the backend named by cfg.Storage.Backend.
func New(ctx context.Context, cfg config.Config) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Storage.Backend {
	case "":
		return nil, ErrDisabled
	case "minio":
		backend, err = NewMinioStore(cfg.Minio)
	case "gcs":
		backend, err = NewGCSStore(ctx, cfg.GCS)
	case "s3":
		backend, err = NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	s := NewStorage(backend, cfg.Timeouts.Storage)
	s.publicBase = strings.TrimRight(cfg.Storage.PublicBaseURL, "/")
	return s, nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object to the configured bucket.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Delete removes an object from the configured bucket.
func (s *Storage) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.Delete(ctx, key)
}

// URL returns the location reference recorded for key. A configured public
// base URL (a CDN or proxy in front of the bucket) takes precedence over the
// backend's own addressing.
func (s *Storage) URL(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return s.backend.URL(key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
