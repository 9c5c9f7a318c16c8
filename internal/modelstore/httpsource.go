package modelstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"k8s.io/klog/v2"

	"github.com/modelmesh/pipelinecore/pkg/status"
)

// HTTPSource is a WeightsReader that fetches weight blobs from a running
// cmd/modelstore server over plain HTTP, one GET per hash.
type HTTPSource struct {
	// BaseURL is the modelstore server's base URL, e.g. http://modelstore.
	BaseURL *url.URL
}

var _ WeightsReader = &HTTPSource{}

func (h *HTTPSource) Download(ctx context.Context, info WeightsInfo, destPath string) error {
	log := klog.FromContext(ctx)

	target := h.BaseURL.JoinPath(info.Hash)
	reqURL := target.String()
	log.Info("downloading weight blob", "url", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return status.New(status.WeightBlobNotFound, "weight blob %q not found at %q", info.Hash, reqURL)
		}
		return fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}

	n, err := downloadToFile(resp.Body, destPath, info.Hash)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", reqURL, err)
	}

	log.Info("downloaded weight blob", "url", reqURL, "bytes", n, "duration", time.Since(startedAt))
	return nil
}
