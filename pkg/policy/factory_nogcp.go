//go:build !gcp

package policy

import (
	"context"
	"fmt"
)

func newGCSSourceFromConfig(_ context.Context, _ SourceConfig) (Source, error) {
	return nil, fmt.Errorf("GCS policy storage is not enabled in this build (use -tags gcp)")
}
