package modelstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobstore struct {
	blobs map[string][]byte
}

func (f *fakeBlobstore) Download(ctx context.Context, info WeightsInfo, destPath string) error {
	data, ok := f.blobs[info.Hash]
	if !ok {
		return os.ErrNotExist
	}
	return os.WriteFile(destPath, data, 0644)
}

func (f *fakeBlobstore) Upload(ctx context.Context, sourcePath string, info WeightsInfo) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	if f.blobs == nil {
		f.blobs = map[string][]byte{}
	}
	f.blobs[info.Hash] = data
	return nil
}

func TestCacheDownloadsOnMiss(t *testing.T) {
	dir := t.TempDir()
	upstream := &fakeBlobstore{blobs: map[string][]byte{"abc123": []byte("weights")}}
	c := &Cache{BaseDir: dir, Upstream: upstream}

	path, err := c.Path(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc123"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
}

func TestCacheHitsLocalFileWithoutUpstream(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc123"), []byte("cached"), 0644))

	c := &Cache{BaseDir: dir}
	path, err := c.Path(context.Background(), "abc123")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestCacheMissingBlobReturnsError(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{BaseDir: dir, Upstream: &fakeBlobstore{}}
	_, err := c.Path(context.Background(), "missing")
	require.Error(t, err)
}
