package modelstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/modelmesh/pipelinecore/pkg/status"
)

// downloadToFile streams src into a temp file beside destPath while
// hashing it, and only renames the temp file into place once the
// computed hash matches wantHash. A truncated or corrupted transfer
// therefore never replaces (or creates) the blob at destPath; an empty
// wantHash skips verification, for callers that don't yet know the
// expected hash.
func downloadToFile(src io.Reader, destPath, wantHash string) (int64, error) {
	dir := filepath.Dir(destPath)
	tempFile, err := os.CreateTemp(dir, "weights")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			os.Remove(tempFile.Name())
		}
	}()
	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			tempFile.Close()
		}
	}()

	hasher := sha256.New()
	n, err := io.Copy(tempFile, io.TeeReader(src, hasher))
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if got := hex.EncodeToString(hasher.Sum(nil)); wantHash != "" && got != wantHash {
		return n, status.New(status.WeightBlobHashMismatch, "downloaded blob hash %q does not match expected %q", got, wantHash)
	}

	if err := os.Rename(tempFile.Name(), destPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
