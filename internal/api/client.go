package api

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

	"fieldsync/internal/models"
)

// StatusError is returned by Client when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running fieldsync daemon.
type Client struct {
	baseURL string
	apiKey  string
	header  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		header:  apiKeyHeaderDefault,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHeader overrides the header carrying the API key.
func (c *Client) WithHeader(name string) *Client {
	if name != "" {
		c.header = name
	}
	return c
}

func (c *Client) Enqueue(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	var out models.QueueItem
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/queue", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Queue(ctx context.Context) (QueueResponse, error) {
	var out QueueResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/queue", nil, &out)
	return out, err
}

func (c *Client) Retry(ctx context.Context, localIDs []string) (RetryResponse, error) {
	var out RetryResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/queue/retry", RetryRequest{LocalIDs: localIDs}, &out)
	return out, err
}

func (c *Client) ClearCompleted(ctx context.Context) (int, error) {
	var out ClearResponse
	if err := c.doJSON(ctx, http.MethodDelete, "/api/v1/queue/completed", nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/health", nil, &out)
	return out, err
}

func (c *Client) Actions(ctx context.Context) ([]models.Action, error) {
	var out struct {
		Actions []models.Action `json:"actions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/actions", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (c *Client) SetDevice(ctx context.Context, req DeviceRequest) (DeviceStatus, error) {
	var out DeviceStatus
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/device", req, &out)
	return out, err
}

// Export streams the xlsx workbook for set into w.
func (c *Client) Export(ctx context.Context, set string, w io.Writer) error {
	q := url.Values{}
	if set != "" {
		q.Set("set", set)
	}
	path := "/api/v1/queue/export"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	resp, err := c.do(ctx, method, path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do sends the request and converts non-2xx answers to *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&apiErr)
	return nil, &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
}
