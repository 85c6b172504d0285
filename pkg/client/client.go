// Package client talks to a running switchyard API on behalf of the CLI.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// PasscodeHeader mirrors the header the API checks when a passcode is set.
const PasscodeHeader = "X-Passcode"

// Client wraps HTTP interaction with the switchyard REST API.
type Client struct {
	baseURL    *url.URL
	passcode   string
	httpClient *http.Client
}

// New constructs a client from the provided configuration.
func New(cfg *Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		passcode:   cfg.Passcode,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// APIError is a non-2xx response decoded from the API's error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("request failed: %d %s", e.Status, e.Message)
}

func (c *Client) resolve(path string, query url.Values) string {
	raw := strings.TrimSuffix(c.baseURL.String(), "/") + path
	if len(query) == 0 {
		return raw
	}
	return raw + "?" + query.Encode()
}

func decodeBody(body io.ReadCloser, target any) error {
	decodeErr := json.NewDecoder(body).Decode(target)
	closeErr := body.Close()
	if decodeErr != nil {
		if closeErr != nil {
			return errors.Join(decodeErr, closeErr)
		}
		return decodeErr
	}
	return closeErr
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), nil)
	if err != nil {
		return nil, err
	}

	if c.passcode != "" {
		req.Header.Set(PasscodeHeader, c.passcode)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		// the body is best effort; the status alone is enough to fail
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		if err := resp.Body.Close(); err != nil {
			return nil, errors.Join(apiErr, err)
		}
		return nil, apiErr
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, v any) error {
	resp, err := c.send(ctx, method, path, query)
	if err != nil {
		return err
	}

	if v == nil {
		return resp.Body.Close()
	}

	return decodeBody(resp.Body, v)
}

// Runs exposes run-related API helpers.
func (c *Client) Runs() *RunsService {
	return &RunsService{client: c}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Ping verifies the API health endpoint responds with a healthy status.
func (c *Client) Ping(ctx context.Context) error {
	var payload healthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &payload); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if strings.ToLower(strings.TrimSpace(payload.Status)) != "healthy" {
		return fmt.Errorf("health check failed: status=%q", payload.Status)
	}
	return nil
}
