package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tubemux/internal/history"
	"tubemux/internal/services"
)

// Error is a failed API call. It unwraps to the services sentinel matching
// its kind so callers can use errors.Is across the wire.
type Error struct {
	StatusCode int
	Kind       services.ErrorKind
	Message    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Kind == services.KindCanceled {
		return context.Canceled
	}
	return services.MarkerFor(e.Kind)
}

// Client talks to the daemon's HTTP API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon bound at bind (host:port or URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var resp DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateJob starts a standalone job and returns its id.
func (c *Client) CreateJob(ctx context.Context, sourceRef, encoding string) (string, error) {
	var resp CreateJobResponse
	req := CreateJobRequest{SourceRef: sourceRef, Encoding: encoding}
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Job polls a job.
func (c *Client) Job(ctx context.Context, id string) (*Job, error) {
	var resp Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadJob streams a finished job's artifact into w and returns the
// suggested file name and byte count.
func (c *Client) DownloadJob(ctx context.Context, id string, w io.Writer) (string, int64, error) {
	return c.download(ctx, "/api/jobs/"+url.PathEscape(id)+"/output", w)
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// CreateBatch registers a batch.
func (c *Client) CreateBatch(ctx context.Context, refs []string, defaultEncoding string) (*CreateBatchResponse, error) {
	var resp CreateBatchResponse
	req := CreateBatchRequest{SourceRefs: refs, DefaultEncoding: defaultEncoding}
	if err := c.do(ctx, http.MethodPost, "/api/batches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveBatch runs the info-resolution phase.
func (c *Client) ResolveBatch(ctx context.Context, id string) (*ResolveBatchResponse, error) {
	var resp ResolveBatchResponse
	if err := c.do(ctx, http.MethodPost, "/api/batches/"+url.PathEscape(id)+"/resolve", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartBatch queues every ready item.
func (c *Client) StartBatch(ctx context.Context, id string, overrides map[string]string) (int, error) {
	var resp StartBatchResponse
	req := StartBatchRequest{Overrides: overrides}
	if err := c.do(ctx, http.MethodPost, "/api/batches/"+url.PathEscape(id)+"/start", req, &resp); err != nil {
		return 0, err
	}
	return resp.Queued, nil
}

// Batch polls a batch.
func (c *Client) Batch(ctx context.Context, id string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.do(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadBundle streams the batch archive into w.
func (c *Client) DownloadBundle(ctx context.Context, id string, w io.Writer) (string, int64, error) {
	return c.download(ctx, "/api/batches/"+url.PathEscape(id)+"/bundle", w)
}

// DownloadBatchItem streams one batch item's artifact into w.
func (c *Client) DownloadBatchItem(ctx context.Context, batchID, itemID string, w io.Writer) (string, int64, error) {
	return c.download(ctx, "/api/batches/"+url.PathEscape(batchID)+"/items/"+url.PathEscape(itemID)+"/output", w)
}

// DeleteBatch removes a batch and its artifacts.
func (c *Client) DeleteBatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/batches/"+url.PathEscape(id), nil, nil)
}

// History lists recorded outcomes. Empty filters match everything.
func (c *Client) History(ctx context.Context, stage, batchID string, limit int) ([]history.Record, error) {
	query := url.Values{}
	if stage != "" {
		query.Set("stage", stage)
	}
	if batchID != "" {
		query.Set("batch", batchID)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/history"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// ClearHistory deletes every recorded outcome.
func (c *Client) ClearHistory(ctx context.Context) (int64, error) {
	var resp ClearHistoryResponse
	if err := c.do(ctx, http.MethodDelete, "/api/history", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, path string, w io.Writer) (string, int64, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	name := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return name, n, fmt.Errorf("download %s: %w", path, err)
	}
	return name, n, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w", c.base, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{StatusCode: resp.StatusCode}
	var payload ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = services.ErrorKind(payload.Kind)
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
