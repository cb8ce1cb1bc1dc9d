// Copyright 2025 James Ross
package apply

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// BundleFetcher retrieves a bundle's complete stored-form bytes from
// wherever remote patch data lives. The apply engine treats network
// errors (5xx, timeouts, connection resets) as retryable and
// everything else as fatal for that bundle.
type BundleFetcher interface {
	FetchBundle(ctx context.Context, bundleID string) ([]byte, error)
}

// HTTPFetcher fetches bundles from a remote base URL mirroring the
// local patch-data layout, e.g. a CDN fronting the object store's
// bucket.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher builds a fetcher against baseURL with a per-request
// timeout.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchBundle downloads /bundles/<bundleID> in full.
func (f *HTTPFetcher) FetchBundle(ctx context.Context, bundleID string) ([]byte, error) {
	url := fmt.Sprintf("%s/bundles/%s", f.baseURL, bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, patcherr.Network("apply.HTTPFetcher: build request", err).WithPath(bundleID)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, patcherr.Network("apply.HTTPFetcher: do request", err).WithPath(bundleID)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, patcherr.Network("apply.HTTPFetcher", fmt.Errorf("transient status %d", resp.StatusCode)).WithPath(bundleID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, patcherr.Input("apply.HTTPFetcher", fmt.Errorf("unexpected status %d", resp.StatusCode)).WithPath(bundleID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, patcherr.Network("apply.HTTPFetcher: read body", err).WithPath(bundleID)
	}
	return data, nil
}
