//go:build gcp

package policy

import (
	"context"
	"fmt"
)

func newGCSSourceFromConfig(ctx context.Context, cfg SourceConfig) (Source, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("POLICY_GCS_BUCKET is required for GCS policy storage")
	}
	if cfg.GCSObject == "" {
		return nil, fmt.Errorf("POLICY_GCS_OBJECT is required for GCS policy storage")
	}
	return NewGCSSource(ctx, GCSSourceConfig{Bucket: cfg.GCSBucket, Object: cfg.GCSObject})
}
