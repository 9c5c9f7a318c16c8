// Package modelstore is a content-addressed weight store, a generic
// blob-store abstraction specialized to weight artifacts identified by
// content hash. cmd/modelstore serves blobs from it; no model provider
// in this module fetches weights through it.
package modelstore

import "context"

// WeightsReader fetches a weight blob by content hash into a local file.
type WeightsReader interface {
	// Download writes the blob named by info to destPath, verifying the
	// downloaded bytes hash to info.Hash before the file is put in
	// place. If no such blob exists, the returned error's status.Code
	// is WeightBlobNotFound; if the downloaded content doesn't hash to
	// info.Hash, it is WeightBlobHashMismatch.
	Download(ctx context.Context, info WeightsInfo, destPath string) error
}

// Blobstore is a WeightsReader that can also seed the store.
type Blobstore interface {
	WeightsReader
	// Upload uploads the file at sourcePath under info's hash. If a blob
	// with the same hash already exists, Upload does nothing.
	Upload(ctx context.Context, sourcePath string, info WeightsInfo) error
}

// WeightsInfo identifies one weight blob by the content hash of its
// serialized form.
type WeightsInfo struct {
	Hash string
}
