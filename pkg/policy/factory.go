package policy

import (
	"context"
	"fmt"
)

// StorageType selects the policy source backend.
type StorageType string

const (
	StorageFS  StorageType = "fs"
	StorageS3  StorageType = "s3"
	StorageGCS StorageType = "gcs"
)

// SourceConfig describes where the policy document lives.
type SourceConfig struct {
	Type StorageType

	Path string // fs

	S3Bucket   string
	S3Key      string
	S3Region   string
	S3Endpoint string

	GCSBucket string
	GCSObject string
}

// NewSource builds the Source selected by cfg.Type ("fs" when empty).
func NewSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	switch cfg.Type {
	case "", StorageFS:
		if cfg.Path == "" {
			return nil, fmt.Errorf("POLICY_PATH is required for filesystem policy storage")
		}
		return NewFileSource(cfg.Path), nil
	case StorageS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("POLICY_S3_BUCKET is required for S3 policy storage")
		}
		if cfg.S3Key == "" {
			return nil, fmt.Errorf("POLICY_S3_KEY is required for S3 policy storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Source(ctx, S3SourceConfig{
			Bucket:   cfg.S3Bucket,
			Key:      cfg.S3Key,
			Region:   region,
			Endpoint: cfg.S3Endpoint,
		})
	case StorageGCS:
		return newGCSSourceFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported policy storage type: %s", cfg.Type)
	}
}
