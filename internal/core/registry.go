package core

import "context"

// Registry is the interface implemented by Registry API clients.
type Registry interface {
	NodeFetcher

	// ListNodes retrieves one page of the node listing. Pages start at 1.
	ListNodes(ctx context.Context, page, limit int) (*NodePage, error)

	// SearchNodes retrieves one page of nodes matching query.
	SearchNodes(ctx context.Context, query string, page, limit int) (*NodePage, error)

	// FetchVersions retrieves all versions of a node.
	FetchVersions(ctx context.Context, nodeID string) ([]Version, error)

	// FetchVersion retrieves a single version of a node.
	FetchVersion(ctx context.Context, nodeID, version string) (*Version, error)

	// FetchPublisher retrieves a publisher account.
	FetchPublisher(ctx context.Context, publisherID string) (*Publisher, error)

	// UpdateNodeCompatibility overwrites the node's top-level compatibility fields.
	UpdateNodeCompatibility(ctx context.Context, nodeID string, c Compatibility) error

	// ClaimNode attaches an unclaimed node to a publisher, proving repository
	// ownership with a GitHub access token.
	ClaimNode(ctx context.Context, publisherID, nodeID, githubToken string) error

	// URLs returns the URL builder for this registry.
	URLs() URLBuilder
}

// NodeFetcher retrieves node records.
type NodeFetcher interface {
	FetchNode(ctx context.Context, nodeID string) (*Node, error)
}

// VersionLister retrieves the versions of a node.
type VersionLister interface {
	FetchVersions(ctx context.Context, nodeID string) ([]Version, error)
}
