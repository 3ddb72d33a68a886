// Package comfyregistry provides a client for the ComfyUI Registry API and
// the checks that keep node metadata in line with published versions.
//
// Basic usage:
//
//	reg := comfyregistry.New("", comfyregistry.DefaultClient())
//
//	node, err := reg.FetchNode(context.Background(), "comfyui-impact-pack")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if comfyregistry.IsOutdated(node) {
//		for _, m := range comfyregistry.Diff(node) {
//			fmt.Println(m.Field, m.Node, "->", m.Latest)
//		}
//	}
//
// Nodes can also be addressed by Package URL:
//
//	ref, err := comfyregistry.ParseNodeRef("pkg:comfy/kijai/comfyui-kjnodes@1.0.5")
package comfyregistry

import (
	"context"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/comfyregistry/client"
	"github.com/git-pkgs/comfyregistry/internal/batch"
	"github.com/git-pkgs/comfyregistry/internal/compat"
	"github.com/git-pkgs/comfyregistry/internal/core"
	"github.com/git-pkgs/comfyregistry/internal/registry"
)

// Re-export types from internal/core
type (
	// Registry is the interface implemented by Registry API clients.
	Registry = core.Registry

	// Node is a custom node package listed in the registry.
	Node = core.Node

	// Version is a published version of a node.
	Version = core.Version

	// Compatibility holds the supported_* fields shared by nodes and versions.
	Compatibility = core.Compatibility

	// Publisher is a registry publisher account.
	Publisher = core.Publisher

	// NodePage is one page of a node listing.
	NodePage = core.NodePage

	// NodeRef identifies a node, and optionally a version, parsed from a
	// PURL or NODE@VERSION string.
	NodeRef = core.NodeRef

	NodeStatus    = core.NodeStatus
	VersionStatus = core.VersionStatus

	// Mismatch describes one compatibility field that differs between a
	// node and its latest version.
	Mismatch = compat.Mismatch
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for registry APIs.
	Client = client.Client

	// URLBuilder constructs URLs for a registry.
	URLBuilder = client.URLBuilder

	// RateLimiter controls request pacing.
	RateLimiter = client.RateLimiter
)

const (
	NodeActive  = core.NodeActive
	NodeBanned  = core.NodeBanned
	NodeDeleted = core.NodeDeleted

	VersionActive  = core.VersionActive
	VersionBanned  = core.VersionBanned
	VersionDeleted = core.VersionDeleted
	VersionPending = core.VersionPending
	VersionFlagged = core.VersionFlagged

	// DefaultURL is the production Registry API.
	DefaultURL = registry.DefaultURL
)

var (
	ErrNotFound = client.ErrNotFound
)

// Error types
type (
	HTTPError      = client.HTTPError
	NotFoundError  = client.NotFoundError
	RateLimitError = client.RateLimitError
)

// New creates a Registry API client.
// If baseURL is empty, DefaultURL is used.
// If client is nil, DefaultClient() is used.
func New(baseURL string, c *Client) Registry {
	return registry.New(baseURL, c)
}

// DefaultClient returns a client with sensible defaults:
// - 30s timeout
// - 5 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// Option configures a Client.
type Option = client.Option

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// WithToken sets the bearer token sent on every request.
var WithToken = client.WithToken

// BuildURLs returns a map of all non-empty URLs for a node.
func BuildURLs(urls URLBuilder, nodeID, version string) map[string]string {
	return client.BuildURLs(urls, nodeID, version)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// NodePURL builds the pkg:comfy Package URL for a node.
func NodePURL(publisher, nodeID, version string) string {
	return core.NodePURL(publisher, nodeID, version)
}

// ParseNodeRef accepts a pkg:comfy PURL or a NODE[@VERSION] string.
func ParseNodeRef(s string) (*NodeRef, error) {
	return core.ParseNodeRef(s)
}

// IsOutdated reports whether node's compatibility fields differ from those
// of its latest version.
func IsOutdated(node *Node) bool {
	return compat.IsOutdated(node)
}

// Diff lists the compatibility fields that differ from the latest version.
func Diff(node *Node) []Mismatch {
	return compat.Diff(node)
}

// GenerateBatchID returns a stable identifier for a set of keys. The same
// set always yields the same id regardless of order or duplicates.
func GenerateBatchID(keys []string) string {
	return batch.GenerateBatchID(keys)
}

// FetchLatestVersion returns the newest installable version of a node.
// Returns nil if no installable versions exist.
func FetchLatestVersion(ctx context.Context, reg Registry, nodeID string) (*Version, error) {
	return core.FetchLatestVersion(ctx, reg, nodeID)
}

// BulkFetchNodes fetches multiple nodes in parallel.
// Individual fetch errors are silently ignored; those ids are omitted from results.
func BulkFetchNodes(ctx context.Context, reg Registry, ids []string) map[string]*Node {
	return core.BulkFetchNodes(ctx, reg, ids)
}

// BulkFetchNodesWithConcurrency fetches nodes with a custom concurrency limit.
func BulkFetchNodesWithConcurrency(ctx context.Context, reg Registry, ids []string, concurrency int) map[string]*Node {
	return core.BulkFetchNodesWithConcurrency(ctx, reg, ids, concurrency)
}
