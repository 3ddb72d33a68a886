package core

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// PURLType is the package-url type used for registry nodes.
const PURLType = "comfy"

// NodeRef identifies a node (and optionally a version) parsed from a PURL.
type NodeRef struct {
	Publisher string
	NodeID    string
	Version   string

	// RegistryURL comes from the repository_url qualifier and points at a
	// non-default Registry API deployment.
	RegistryURL string
}

// NodePURL builds the package-url for a node. publisher and version may be empty.
func NodePURL(publisher, nodeID, version string) string {
	return packageurl.NewPackageURL(PURLType, publisher, nodeID, version, nil, "").ToString()
}

// ParseNodePURL parses a pkg:comfy PURL.
// Supports pkg:comfy/<node>, pkg:comfy/<publisher>/<node> and an @version suffix.
func ParseNodePURL(purl string) (*NodeRef, error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return nil, err
	}
	if p.Type != PURLType {
		return nil, fmt.Errorf("unsupported PURL type %q, want %q", p.Type, PURLType)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("PURL has no node name: %s", purl)
	}

	return &NodeRef{
		Publisher:   p.Namespace,
		NodeID:      p.Name,
		Version:     p.Version,
		RegistryURL: p.Qualifiers.Map()["repository_url"],
	}, nil
}

// ParseNodeRef accepts either a PURL or a bare node id with an optional
// @version suffix.
func ParseNodeRef(s string) (*NodeRef, error) {
	if strings.HasPrefix(s, "pkg:") {
		return ParseNodePURL(s)
	}
	if s == "" {
		return nil, fmt.Errorf("empty node reference")
	}
	id, version, _ := strings.Cut(s, "@")
	if id == "" {
		return nil, fmt.Errorf("invalid node reference: %s", s)
	}
	return &NodeRef{NodeID: id, Version: version}, nil
}
