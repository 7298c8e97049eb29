// Package services holds the HTTP plumbing shared by the downstream clients.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fieldsync/internal/models"

	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Client is a JSON-over-HTTP client that classifies failures as transient or
// validation errors.
type Client struct {
	service    models.Service
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Options configures a Client. A zero RPS disables outbound pacing.
type Options struct {
	BaseURL string
	Token   string
	RPS     float64
	Burst   int
	Timeout time.Duration
}

func NewClient(service models.Service, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = models.DefaultAttemptTimeout
	}
	c := &Client{
		service:    service,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// Do sends body as JSON and decodes the response into out when non-nil.
// idempotencyKey, when set, lets the server deduplicate replays of the same request.
func (c *Client) Do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &models.TransientError{Service: c.service, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &models.ValidationError{Service: c.service, Message: "encode request: " + err.Error()}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.TransientError{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.classify(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.TransientError{Service: c.service, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) classify(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return &models.TransientError{Service: c.service, StatusCode: status, Err: errors.New(message)}
	}
	return &models.ValidationError{Service: c.service, StatusCode: status, Message: message}
}

// Get issues a GET and discards the body.
func (c *Client) Get(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodGet, path, "", nil, nil)
}
