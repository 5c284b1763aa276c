package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPInspector inspects objects behind a plain HTTP object store (e.g. a
// MinIO or nginx-fronted bucket reachable without the AWS SDK) using HEAD
// requests and a listing endpoint that returns a JSON array of keys. It is
// the default driver so the reconciler works out of the box against
// anything that speaks basic HTTP, with S3Inspector reserved for deployments
// that actually run on S3.
type HTTPInspector struct {
	baseURL string
	client  *http.Client
}

func NewHTTPInspector(baseURL string) *HTTPInspector {
	return &HTTPInspector{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *HTTPInspector) Head(ctx context.Context, bucket, objectKey string) (ObjectInfo, error) {
	u := fmt.Sprintf("%s/%s/%s", h.baseURL, bucket, objectKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("build head request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ObjectInfo{Exists: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ObjectInfo{}, fmt.Errorf("head %s: unexpected status %d", u, resp.StatusCode)
	}

	info := ObjectInfo{Exists: true, ETag: resp.Header.Get("ETag")}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			info.SizeBytes = n
		}
	}
	if sum := resp.Header.Get("X-Amz-Meta-Sha256"); sum != "" {
		info.Checksum = strings.ToLower(sum)
	} else {
		info.Checksum = normalizeETag(info.ETag)
	}
	return info, nil
}

// ListKeys fetches a JSON array of object keys from <baseURL>/<bucket>?list=<prefix>.
// The exact listing contract is deployment-specific; this is the minimal
// shape the reconciler needs.
func (h *HTTPInspector) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	u := fmt.Sprintf("%s/%s?list=%s", h.baseURL, bucket, url.QueryEscape(prefix))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list %s: unexpected status %d", u, resp.StatusCode)
	}

	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return keys, nil
}
