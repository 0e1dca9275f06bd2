// Package vercel is a client for the hosted sandbox REST API. It implements
// sandbox.Provider so the provisioning pipeline can run against ephemeral
// microVMs that clone a git repository on creation.
package vercel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://api.vercel.com"

// ClientOption configures a Client.
type ClientOption func(*Client)

// RetryConfig configures retries of idempotent requests.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Client talks to the sandbox API. After creation it is immutable and safe
// for concurrent use.
type Client struct {
	baseURL    string
	token      string
	teamID     string
	projectID  string
	httpClient *http.Client

	// Per-request timeout for non-streaming calls. Streaming calls (command
	// logs, waiting for exit) are bounded by the caller's context only.
	timeout     time.Duration
	retryConfig *RetryConfig
}

// NewClient creates a Client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{},
		timeout:    60 * time.Second,
		retryConfig: &RetryConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTeamID scopes every request to a team.
func WithTeamID(id string) ClientOption {
	return func(c *Client) {
		c.teamID = id
	}
}

// WithProjectID sets the project sandboxes are created in.
func WithProjectID(id string) ClientOption {
	return func(c *Client) {
		c.projectID = id
	}
}

// WithTimeout sets the per-request timeout for non-streaming calls.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config *RetryConfig) ClientOption {
	return func(c *Client) {
		c.retryConfig = config
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	if c.teamID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("teamId", c.teamID)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send executes req. GET requests are retried on transport errors and 5xx
// responses; other methods are sent once because they are not idempotent.
// Non-2xx responses are returned as *APIError with the body consumed.
func (c *Client) send(req *http.Request, body []byte) (*http.Response, error) {
	retries := 0
	if req.Method == http.MethodGet && c.retryConfig != nil {
		retries = c.retryConfig.MaxRetries
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryConfig.RetryDelay * time.Duration(attempt)):
			case <-req.Context().Done():
				return nil, &NetworkError{Err: req.Context().Err()}
			}
			if body != nil {
				req.Body = io.NopCloser(bytes.NewReader(body))
			}
		}

		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			break
		}
		if err == nil && attempt < retries {
			resp.Body.Close()
		}
	}
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, parseAPIError(resp.StatusCode, resp.Header.Get("x-vercel-id"), data)
	}
	return resp, nil
}

// doJSON sends in (if non-nil) as JSON and decodes the response into out
// (if non-nil), bounded by the client timeout.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.send(req, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
