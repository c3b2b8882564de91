package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scribed/internal/api"
)

// APIError carries the HTTP status and message from a failed API call.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error (%d)", e.StatusCode)
	}
	return e.Message
}

// Client talks to a running scribed daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New constructs a client for the given daemon address. addr may be a bare
// host:port or a full http URL.
func New(addr, token string) *Client {
	base := strings.TrimSpace(addr)
	if base == "" {
		base = "127.0.0.1:7519"
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var out api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue fetches the scheduler backlog and catalog stats.
func (c *Client) Queue(ctx context.Context) (*api.QueueSummary, error) {
	var out api.QueueSummary
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs fetches catalog records, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]api.JobView, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// CreateJob registers a source file and queues it.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (*api.JobView, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// DescribeJob fetches a single job by id.
func (c *Client) DescribeJob(ctx context.Context, id string) (*api.JobView, error) {
	var out api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

// Pause suspends a job at the next segment boundary.
func (c *Client) Pause(ctx context.Context, id string) (*api.JobView, error) {
	return c.jobAction(ctx, id, "pause", nil)
}

// Cancel stops a job, optionally deleting its data.
func (c *Client) Cancel(ctx context.Context, id string, deleteData bool) error {
	path := "/api/jobs/" + url.PathEscape(id) + "/cancel"
	return c.do(ctx, http.MethodPost, path, api.CancelRequest{DeleteData: deleteData}, nil)
}

// Restart re-queues a paused or failed job.
func (c *Client) Restart(ctx context.Context, id string) (*api.JobView, error) {
	return c.jobAction(ctx, id, "restart", nil)
}

// Prioritize moves a queued job to the head of the backlog.
func (c *Client) Prioritize(ctx context.Context, id, mode string) (*api.JobView, error) {
	return c.jobAction(ctx, id, "prioritize", api.PrioritizeRequest{Mode: mode})
}

// Reorder replaces the backlog order.
func (c *Client) Reorder(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPost, "/api/queue/reorder", api.ReorderRequest{IDs: ids}, nil)
}

// Models fetches the model cache view.
func (c *Client) Models(ctx context.Context) (*api.CacheView, error) {
	var out api.CacheView
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preload asks the daemon to warm the given models.
func (c *Client) Preload(ctx context.Context, req api.PreloadRequest) (*api.PreloadView, error) {
	var out api.PreloadView
	if err := c.do(ctx, http.MethodPost, "/api/models/preload", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestNotification asks the daemon to push a test notification.
func (c *Client) TestNotification(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil)
}

func (c *Client) jobAction(ctx context.Context, id, action string, body any) (*api.JobView, error) {
	path := "/api/jobs/" + url.PathEscape(id) + "/" + action
	var out api.JobResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scribed daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
