// Package client provides the HTTP client shared by the Registry API client,
// the OAuth provider and the analytics sink.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenk/backoff"
)

const (
	defaultUserAgent = "comfyregistry"
	maxBodySize      = 10 << 20
	maxErrorBody     = 1024
	maxRetryAfter    = 60 * time.Second
)

// RateLimiter controls request pacing. *rate.Limiter satisfies it.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Client is an HTTP client with retry logic for JSON APIs.
//
// Idempotent requests (GET, HEAD, PUT, DELETE) are retried with exponential
// backoff on 429 and 5xx responses. POST and PATCH are sent once.
type Client struct {
	HTTPClient  *http.Client
	UserAgent   string
	Token       string
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RateLimiter RateLimiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.HTTPClient.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.MaxRetries = n
	}
}

// WithBaseDelay sets the initial backoff interval.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.BaseDelay = d
	}
}

// WithTransport sets the HTTP transport, keeping the configured timeout.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.HTTPClient.Transport = rt
	}
}

// WithToken sets a bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.Token = token
	}
}

// WithRateLimiter sets a limiter consulted before every attempt.
func WithRateLimiter(rl RateLimiter) Option {
	return func(c *Client) {
		c.RateLimiter = rl
	}
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  defaultUserAgent,
		MaxRetries: 5,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// NewClient creates a new client with the given options applied on top of
// DefaultClient.
func NewClient(opts ...Option) *Client {
	c := DefaultClient()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithUserAgent returns a copy of the client that sends the given User-Agent.
func (c *Client) WithUserAgent(ua string) *Client {
	cp := *c
	cp.UserAgent = ua
	return &cp
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

type request struct {
	method      string
	url         string
	body        []byte
	contentType string
}

func (r request) idempotent() bool {
	switch r.method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// GetJSON fetches url and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.send(ctx, request{method: http.MethodGet, url: url})
	if err != nil {
		return err
	}
	return decode(url, body, v)
}

// GetBody fetches url and returns the raw response body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	return c.send(ctx, request{method: http.MethodGet, url: url})
}

// Head issues a HEAD request and returns the response status code.
// Non-2xx responses are returned as errors.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	if _, err := c.send(ctx, request{method: http.MethodHead, url: url}); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return httpErr.StatusCode, err
		}
		return 0, err
	}
	return http.StatusOK, nil
}

// SendJSON encodes in as the request body and decodes the response into out.
// A nil in sends no body; a nil out discards the response.
func (c *Client) SendJSON(ctx context.Context, method, url string, in, out any) error {
	req := request{method: method, url: url}
	if in != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		req.body = bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
		req.contentType = "application/json"
	}

	body, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(url, body, out)
}

// PostForm sends form as application/x-www-form-urlencoded and decodes the
// JSON response into out.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	body, err := c.send(ctx, request{
		method:      http.MethodPost,
		url:         endpoint,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(endpoint, body, out)
}

func decode(url string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	b := c.newBackOff()

	for {
		body, err := c.attempt(ctx, req)
		if err == nil {
			return body, nil
		}
		if !req.idempotent() || !retryable(err) {
			return nil, err
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, err
		}
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			if after := time.Duration(rl.RetryAfter) * time.Second; after > delay {
				delay = min(after, maxRetryAfter)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.BaseDelay > 0 {
		exp.InitialInterval = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		exp.MaxInterval = c.MaxDelay
	}
	// Bounded by MaxRetries instead of elapsed time.
	exp.MaxElapsedTime = 0
	exp.Reset()

	// WithMaxRetries treats zero as unlimited.
	if c.MaxRetries <= 0 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(exp, uint64(c.MaxRetries))
}

func retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return false
}

func (c *Client) attempt(ctx context.Context, req request) ([]byte, error) {
	if c.RateLimiter != nil {
		if err := c.RateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, req.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.url, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{URL: req.url, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: req.url, Body: strings.TrimSpace(string(data))}
	}

	return data, nil
}

func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}
