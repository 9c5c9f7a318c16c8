package modelstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelmesh/pipelinecore/pkg/status"
)

// Cache is a local on-disk mirror of a Blobstore, keyed by content hash.
// cmd/modelstore serves out of one directly; a future ModelProvider that
// loads real weights would use the same shape to avoid re-downloading a
// hash it has already fetched.
type Cache struct {
	BaseDir  string
	Upstream Blobstore
}

// Path returns the local path for the blob named by hash, downloading it
// from Upstream on a cache miss.
func (c *Cache) Path(ctx context.Context, hash string) (string, error) {
	localPath := filepath.Join(c.BaseDir, hash)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("statting cached blob %q: %w", hash, err)
	}

	if c.Upstream == nil {
		return "", status.New(status.ModelMissing, "weight blob %q not cached and no upstream configured", hash)
	}

	if err := c.Upstream.Download(ctx, WeightsInfo{Hash: hash}, localPath); err != nil {
		if status.Of(err).Code == status.WeightBlobNotFound {
			return "", status.New(status.ModelMissing, "weight blob %q not found", hash)
		}
		return "", fmt.Errorf("downloading blob %q: %w", hash, err)
	}
	return localPath, nil
}
