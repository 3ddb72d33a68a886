// Package core provides the shared registry records and helpers.
package core

import "time"

// Compatibility describes which frontend and runtime versions, operating
// systems and accelerators a node or node version supports.
//
// Nil pointers and nil slices mean the field is absent. An absent version
// string and an empty one are different values.
type Compatibility struct {
	FrontendVersion *string
	ComfyUIVersion  *string
	OS              []string
	Accelerators    []string
}

// Node is a publishable unit in the registry.
type Node struct {
	ID          string
	Name        string
	Description string
	Author      string
	License     string
	Icon        string
	Repository  string
	Category    string
	Tags        []string
	Downloads   int
	Rating      float64
	Status      NodeStatus
	CreatedAt   time.Time
	Publisher   *Publisher

	// LatestVersion is owned by the backend and read-only here.
	LatestVersion *Version

	Compatibility
}

// Version is one published release of a node.
type Version struct {
	ID           string
	NodeID       string
	Number       string
	Changelog    string
	DownloadURL  string
	Deprecated   bool
	Status       VersionStatus
	StatusReason string
	PublishedAt  time.Time
	Dependencies []string

	Compatibility
}

// Publisher is the account or organisation that owns nodes.
type Publisher struct {
	ID             string
	Name           string
	Description    string
	Website        string
	Support        string
	SourceCodeRepo string
	Logo           string
	Status         PublisherStatus
	CreatedAt      time.Time
}

// NodePage is one page of a node listing.
type NodePage struct {
	Nodes      []Node
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// NodeStatus represents the moderation status of a node.
type NodeStatus string

const (
	NodeActive  NodeStatus = "active"
	NodeBanned  NodeStatus = "banned"
	NodeDeleted NodeStatus = "deleted"
)

// VersionStatus represents the moderation status of a node version.
type VersionStatus string

const (
	VersionActive  VersionStatus = "active"
	VersionBanned  VersionStatus = "banned"
	VersionDeleted VersionStatus = "deleted"
	VersionPending VersionStatus = "pending"
	VersionFlagged VersionStatus = "flagged"
)

// PublisherStatus represents the status of a publisher account.
type PublisherStatus string

const (
	PublisherActive PublisherStatus = "active"
	PublisherBanned PublisherStatus = "banned"
)

// Installable reports whether the version can be offered for download.
func (v Version) Installable() bool {
	return !v.Deprecated && (v.Status == VersionActive || v.Status == "")
}
