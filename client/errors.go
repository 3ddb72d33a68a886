package client

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a node, version or publisher is not found.
var ErrNotFound = errors.New("not found")

// HTTPError represents a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

// NotFoundError wraps ErrNotFound with the resource that was looked up.
type NotFoundError struct {
	Resource string // "node", "version", "publisher"
	ID       string
	Version  string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("%s %s version %s not found", e.Resource, e.ID, e.Version)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError is returned when the upstream rate limits requests.
type RateLimitError struct {
	URL        string
	RetryAfter int // seconds
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %d seconds", e.RetryAfter)
}

// AsNotFound converts a 404 HTTPError into a NotFoundError for the given
// resource. Other errors are returned unchanged.
func AsNotFound(err error, resource, id, version string) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.IsNotFound() {
		return &NotFoundError{Resource: resource, ID: id, Version: version}
	}
	return err
}
