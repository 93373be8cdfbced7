package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	assetIORetries = 3
	assetIOBackoff = 2 * time.Second
)

// fetchToStore downloads a provider-produced asset and persists it in
// the asset store under key. Both legs are transient-retried a small
// fixed number of times before the failure surfaces as AssetIOError.
func fetchToStore(ctx context.Context, httpClient *http.Client, storage StorageClient, url, key, contentType string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < assetIORetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(assetIOBackoff):
			}
		}

		data, err := download(ctx, httpClient, url)
		if err != nil {
			lastErr = err
			continue
		}

		if _, err := storage.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
			lastErr = err
			continue
		}
		return key, nil
	}

	if _, ok := lastErr.(*AssetIOError); ok {
		return "", lastErr
	}
	return "", &AssetIOError{Op: "download", Key: key, Err: lastErr}
}

func download(ctx context.Context, httpClient *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}
