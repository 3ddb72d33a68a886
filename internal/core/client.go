package core

import (
	"github.com/git-pkgs/comfyregistry/client"
)

// Type aliases so registry implementations depend on core only.
type (
	RateLimiter    = client.RateLimiter
	Client         = client.Client
	Option         = client.Option
	URLBuilder     = client.URLBuilder
	BaseURLs       = client.BaseURLs
	HTTPError      = client.HTTPError
	NotFoundError  = client.NotFoundError
	RateLimitError = client.RateLimitError
)

// Function aliases.
var (
	DefaultClient  = client.DefaultClient
	NewClient      = client.NewClient
	WithTimeout    = client.WithTimeout
	WithMaxRetries = client.WithMaxRetries
	BuildURLs      = client.BuildURLs
	AsNotFound     = client.AsNotFound
)

// ErrNotFound is returned when a node, version or publisher is not found.
var ErrNotFound = client.ErrNotFound
