// Package analysisapi is the typed HTTP client for the inspection backend.
// It hides transport retry and connectivity-error classification from the
// synchronization engine.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package analysisapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 32 * time.Second

	// DefaultMaxRetry is the transport-level retry budget per call.
	DefaultMaxRetry = 3

	apiKeyHeader = "x-api-key"
)

// Config carries the connection parameters for the backend.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration // zero means DefaultTimeout
	MaxRetry int           // zero means DefaultMaxRetry
}

// Client issues typed calls against the backend. Transport failures are
// retried whole-request up to MaxRetry times before surfacing ErrConnection;
// server rejections surface immediately as ErrAPI.
type Client struct {
	baseURL  string
	apiKey   string
	maxRetry int
	http     *http.Client
	logger   *slog.Logger
}

// NewClient builds a Client from cfg. A nil logger falls back to
// slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = DefaultMaxRetry
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		maxRetry: maxRetry,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// SetTransport replaces the underlying round tripper. Intended for tests.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

// FetchInspectionNames lists the selectable inspection types.
func (c *Client) FetchInspectionNames(ctx context.Context) ([]InspectionName, error) {
	var value inspectionNamesValue
	if err := c.callJSON(ctx, http.MethodGet, "inspection-names", nil, nil, &value); err != nil {
		return nil, err
	}
	return value.InspectionNames, nil
}

// FetchScheduleAndItems loads the inspection schedule matching the session
// parameters, with its planned items.
func (c *Client) FetchScheduleAndItems(ctx context.Context, req ScheduleRequest) (*Schedule, error) {
	var value Schedule
	if err := c.callJSON(ctx, http.MethodPost, "get-inspection-item", nil, req, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// RequestAnalysis triggers server-side analysis of an item's uploaded images.
func (c *Client) RequestAnalysis(ctx context.Context, inspectionID, itemID int64, bucketName, originalPath, croppedPath string) (*AnalysisTicket, error) {
	body := beginAnalysisRequest{
		InspectionID:      inspectionID,
		ItemID:            itemID,
		BucketName:        bucketName,
		OriginalImagePath: originalPath,
		CroppedImagePath:  croppedPath,
	}
	var value AnalysisTicket
	if err := c.callJSON(ctx, http.MethodPost, "begin-image-analysis", nil, body, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// PollAnalysisResults fetches per-item analysis outcomes updated since
// lastUpdatedAt. An empty list is a valid response.
func (c *Client) PollAnalysisResults(ctx context.Context, inspectionID int64, lastUpdatedAt time.Time) ([]AnalysisResult, error) {
	query := url.Values{
		"inspectionId":  {strconv.FormatInt(inspectionID, 10)},
		"lastUpdatedAt": {lastUpdatedAt.UTC().Format(time.RFC3339)},
	}
	var value analysisResultsValue
	if err := c.callJSON(ctx, http.MethodGet, "analysis-result", query, nil, &value); err != nil {
		return nil, err
	}
	return value.InspectionItems, nil
}

// SubmitFinalResult reports the terminal inspection outcome. This closes the
// session server-side; there is no undo.
func (c *Client) SubmitFinalResult(ctx context.Context, inspectionID, evidenceID int64, status int, items []ResultItem, deletedItemIDs []int64) error {
	if items == nil {
		items = []ResultItem{}
	}
	if deletedItemIDs == nil {
		deletedItemIDs = []int64{}
	}
	body := finalResultRequest{
		InspectionID: inspectionID,
		EvidenceID:   evidenceID,
		Status:       status,
		ResultItems:  items,
		DeleteList:   deletedItemIDs,
	}
	return c.callJSON(ctx, http.MethodPost, "inspection-result", nil, body, nil)
}

// callJSON performs one envelope-wrapped JSON call with transport retry.
func (c *Client) callJSON(ctx context.Context, method, path string, query url.Values, reqBody, value any) error {
	var payload []byte
	if reqBody != nil {
		var err error
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", path, err)
		}
	}

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	raw, status, err := c.send(ctx, method, endpoint, "application/json", payload, 1)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Op: path, StatusCode: status, Message: "malformed response body"}
	}
	if !isSuccessCode(env.ResultCode) {
		return &APIError{Op: path, StatusCode: status, ResultCode: env.ResultCode, Message: env.Message}
	}
	if value != nil {
		if err := json.Unmarshal(env.Value, value); err != nil {
			return &APIError{Op: path, StatusCode: status, ResultCode: env.ResultCode, Message: "malformed response value"}
		}
	}
	return nil
}

// send performs the request, retrying the whole request on transport failure
// by recursing until the attempt budget is spent. Non-2xx responses are not
// retried.
func (c *Client) send(ctx context.Context, method, endpoint, contentType string, payload []byte, attempt int) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrConnection, ctx.Err())
		}
		if attempt < c.maxRetry {
			c.logger.Warn("request failed, retrying",
				"endpoint", endpoint, "attempt", attempt, "error", err)
			return c.send(ctx, method, endpoint, contentType, payload, attempt+1)
		}
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrConnection, method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if attempt < c.maxRetry {
			c.logger.Warn("response read failed, retrying",
				"endpoint", endpoint, "attempt", attempt, "error", err)
			return c.send(ctx, method, endpoint, contentType, payload, attempt+1)
		}
		return nil, 0, fmt.Errorf("%w: read response: %w", ErrConnection, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{
			Op:         method + " " + endpoint,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return raw, resp.StatusCode, nil
}
