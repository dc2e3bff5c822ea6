//go:build gcp

package policy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSourceConfig holds configuration for GCSSource.
type GCSSourceConfig struct {
	Bucket string
	Object string
}

// GCSSource reads the policy document from a Google Cloud Storage object.
// The fingerprint is the object's generation and metageneration.
type GCSSource struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSSource creates a GCS-backed source (uses ADC by default).
func NewGCSSource(ctx context.Context, cfg GCSSourceConfig) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSource{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// Stat implements Source.
func (s *GCSSource) Stat(ctx context.Context) (string, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(s.object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrSourceNotFound
		}
		return "", fmt.Errorf("gcs attrs %s: %w", s.Describe(), err)
	}
	return fmt.Sprintf("%d.%d", attrs.Generation, attrs.Metageneration), nil
}

// Read implements Source.
func (s *GCSSource) Read(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("gcs read %s: %w", s.Describe(), err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

// Describe implements Source.
func (s *GCSSource) Describe() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}
