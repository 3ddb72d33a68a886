package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/git-pkgs/comfyregistry/internal/core"
)

var ErrNoDownloadURL = errors.New("no download URL available")

// VersionSource provides the version records archives are resolved from.
type VersionSource interface {
	core.VersionLister
	FetchVersion(ctx context.Context, nodeID, version string) (*core.Version, error)
}

// ArchiveInfo identifies a downloadable node version archive.
type ArchiveInfo struct {
	NodeID   string
	Version  string
	URL      string
	Filename string
}

// Resolver maps node versions to archive URLs.
type Resolver struct {
	source VersionSource
}

func NewResolver(source VersionSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the archive for nodeID at version. An empty version or
// "latest" selects the newest installable version.
func (r *Resolver) Resolve(ctx context.Context, nodeID, version string) (*ArchiveInfo, error) {
	var (
		v   *core.Version
		err error
	)
	if version == "" || version == "latest" {
		v, err = core.FetchLatestVersion(ctx, r.source, nodeID)
	} else {
		v, err = r.source.FetchVersion(ctx, nodeID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving %s@%s: %w", nodeID, version, err)
	}
	if v == nil {
		return nil, fmt.Errorf("resolving %s@%s: %w", nodeID, version, core.ErrNotFound)
	}
	if v.DownloadURL == "" {
		return nil, fmt.Errorf("%s@%s: %w", nodeID, v.Number, ErrNoDownloadURL)
	}

	name := filename("", v.DownloadURL)
	if name == "" {
		name = fmt.Sprintf("%s-%s.zip", nodeID, v.Number)
	}
	return &ArchiveInfo{
		NodeID:   nodeID,
		Version:  v.Number,
		URL:      v.DownloadURL,
		Filename: name,
	}, nil
}
