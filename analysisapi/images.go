// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package analysisapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// objectURL builds the object-storage endpoint for bucket+path. Path
// segments are escaped individually so slashes keep their meaning.
func (c *Client) objectURL(bucket, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return c.baseURL + "/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
}

// UploadImage stores image bytes at bucket/path. Upload order matters to the
// caller, so this never reorders or parallelizes anything internally.
func (c *Client) UploadImage(ctx context.Context, bucket, path string, data []byte) error {
	endpoint := c.objectURL(bucket, path)
	_, _, err := c.send(ctx, http.MethodPut, endpoint, "image/jpeg", data, 1)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

// DownloadImage fetches the raw object at bucket/path. Also used for the
// remote settings document kept in the configuration bucket.
func (c *Client) DownloadImage(ctx context.Context, bucket, path string) ([]byte, error) {
	endpoint := c.objectURL(bucket, path)
	raw, _, err := c.send(ctx, http.MethodGet, endpoint, "", nil, 1)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, path, err)
	}
	return raw, nil
}
