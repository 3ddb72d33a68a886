// Package registry provides a client for the ComfyUI Registry API.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/git-pkgs/comfyregistry/internal/core"
)

const (
	DefaultURL      = "https://api.comfy.org"
	DefaultSiteURL  = "https://registry.comfy.org"
	defaultPageSize = 50
)

var _ core.Registry = (*Registry)(nil)

type Registry struct {
	baseURL string
	client  *core.Client
	urls    *URLs
}

// New creates a Registry API client. Admin operations (compatibility
// updates) need a client carrying a bearer token.
func New(baseURL string, client *core.Client) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if client == nil {
		client = core.DefaultClient()
	}
	r := &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
	r.urls = &URLs{baseURL: r.baseURL, siteURL: DefaultSiteURL}
	return r
}

// WithSiteURL sets the base URL of the registry web site used for node page
// links.
func (r *Registry) WithSiteURL(siteURL string) *Registry {
	if siteURL != "" {
		r.urls.siteURL = strings.TrimSuffix(siteURL, "/")
	}
	return r
}

func (r *Registry) URLs() core.URLBuilder {
	return r.urls
}

type nodeInfo struct {
	ID                              string         `json:"id"`
	Name                            string         `json:"name"`
	Description                     string         `json:"description"`
	Author                          string         `json:"author"`
	License                         string         `json:"license"`
	Icon                            string         `json:"icon"`
	Repository                      string         `json:"repository"`
	Category                        string         `json:"category"`
	Tags                            []string       `json:"tags"`
	Downloads                       int            `json:"downloads"`
	Rating                          float64        `json:"rating"`
	Status                          string         `json:"status"`
	CreatedAt                       string         `json:"created_at"`
	Publisher                       *publisherInfo `json:"publisher"`
	LatestVersion                   *versionInfo   `json:"latest_version"`
	SupportedComfyUIFrontendVersion *string        `json:"supported_comfyui_frontend_version"`
	SupportedComfyUIVersion         *string        `json:"supported_comfyui_version"`
	SupportedOS                     []string       `json:"supported_os"`
	SupportedAccelerators           []string       `json:"supported_accelerators"`
}

type versionInfo struct {
	ID                              string   `json:"id"`
	NodeID                          string   `json:"node_id"`
	Version                         string   `json:"version"`
	Changelog                       string   `json:"changelog"`
	DownloadURL                     string   `json:"downloadUrl"`
	Deprecated                      bool     `json:"deprecated"`
	Status                          string   `json:"status"`
	StatusReason                    string   `json:"status_reason"`
	CreatedAt                       string   `json:"createdAt"`
	Dependencies                    []string `json:"dependencies"`
	SupportedComfyUIFrontendVersion *string  `json:"supported_comfyui_frontend_version"`
	SupportedComfyUIVersion         *string  `json:"supported_comfyui_version"`
	SupportedOS                     []string `json:"supported_os"`
	SupportedAccelerators           []string `json:"supported_accelerators"`
}

type publisherInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Website        string `json:"website"`
	Support        string `json:"support"`
	SourceCodeRepo string `json:"source_code_repo"`
	Logo           string `json:"logo"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

type nodeListResponse struct {
	Nodes      []nodeInfo `json:"nodes"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}

// compatibilityUpdate is the PATCH body. Absent values are sent as null so
// the backend clears them.
type compatibilityUpdate struct {
	SupportedComfyUIFrontendVersion *string  `json:"supported_comfyui_frontend_version"`
	SupportedComfyUIVersion         *string  `json:"supported_comfyui_version"`
	SupportedOS                     []string `json:"supported_os"`
	SupportedAccelerators           []string `json:"supported_accelerators"`
}

type claimRequest struct {
	GitHubToken string `json:"GH_TOKEN"`
}

func (r *Registry) FetchNode(ctx context.Context, nodeID string) (*core.Node, error) {
	u := fmt.Sprintf("%s/nodes/%s", r.baseURL, url.PathEscape(nodeID))

	var resp nodeInfo
	if err := r.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, core.AsNotFound(err, "node", nodeID, "")
	}

	node := mapNode(resp)
	return &node, nil
}

func (r *Registry) ListNodes(ctx context.Context, page, limit int) (*core.NodePage, error) {
	q := pageQuery(page, limit)
	return r.fetchPage(ctx, fmt.Sprintf("%s/nodes?%s", r.baseURL, q.Encode()))
}

func (r *Registry) SearchNodes(ctx context.Context, query string, page, limit int) (*core.NodePage, error) {
	q := pageQuery(page, limit)
	q.Set("search", query)
	return r.fetchPage(ctx, fmt.Sprintf("%s/nodes/search?%s", r.baseURL, q.Encode()))
}

func pageQuery(page, limit int) url.Values {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	q.Set("limit", fmt.Sprintf("%d", limit))
	return q
}

func (r *Registry) fetchPage(ctx context.Context, u string) (*core.NodePage, error) {
	var resp nodeListResponse
	if err := r.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	nodes := make([]core.Node, len(resp.Nodes))
	for i, n := range resp.Nodes {
		nodes[i] = mapNode(n)
	}

	return &core.NodePage{
		Nodes:      nodes,
		Total:      resp.Total,
		Page:       resp.Page,
		Limit:      resp.Limit,
		TotalPages: resp.TotalPages,
	}, nil
}

func (r *Registry) FetchVersions(ctx context.Context, nodeID string) ([]core.Version, error) {
	u := fmt.Sprintf("%s/nodes/%s/versions", r.baseURL, url.PathEscape(nodeID))

	var resp []versionInfo
	if err := r.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, core.AsNotFound(err, "node", nodeID, "")
	}

	versions := make([]core.Version, len(resp))
	for i, v := range resp {
		versions[i] = mapVersion(v)
		if versions[i].NodeID == "" {
			versions[i].NodeID = nodeID
		}
	}
	return versions, nil
}

func (r *Registry) FetchVersion(ctx context.Context, nodeID, version string) (*core.Version, error) {
	u := fmt.Sprintf("%s/nodes/%s/versions/%s", r.baseURL, url.PathEscape(nodeID), url.PathEscape(version))

	var resp versionInfo
	if err := r.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, core.AsNotFound(err, "version", nodeID, version)
	}

	v := mapVersion(resp)
	if v.NodeID == "" {
		v.NodeID = nodeID
	}
	return &v, nil
}

func (r *Registry) FetchPublisher(ctx context.Context, publisherID string) (*core.Publisher, error) {
	u := fmt.Sprintf("%s/publishers/%s", r.baseURL, url.PathEscape(publisherID))

	var resp publisherInfo
	if err := r.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, core.AsNotFound(err, "publisher", publisherID, "")
	}

	p := mapPublisher(resp)
	return &p, nil
}

func (r *Registry) UpdateNodeCompatibility(ctx context.Context, nodeID string, c core.Compatibility) error {
	u := fmt.Sprintf("%s/nodes/%s", r.baseURL, url.PathEscape(nodeID))

	body := compatibilityUpdate{
		SupportedComfyUIFrontendVersion: c.FrontendVersion,
		SupportedComfyUIVersion:         c.ComfyUIVersion,
		SupportedOS:                     c.OS,
		SupportedAccelerators:           c.Accelerators,
	}
	if err := r.client.SendJSON(ctx, http.MethodPatch, u, body, nil); err != nil {
		return core.AsNotFound(err, "node", nodeID, "")
	}
	return nil
}

func (r *Registry) ClaimNode(ctx context.Context, publisherID, nodeID, githubToken string) error {
	u := fmt.Sprintf("%s/publishers/%s/nodes/%s/claim-my-node", r.baseURL, url.PathEscape(publisherID), url.PathEscape(nodeID))

	if err := r.client.SendJSON(ctx, http.MethodPost, u, claimRequest{GitHubToken: githubToken}, nil); err != nil {
		return core.AsNotFound(err, "node", nodeID, "")
	}
	return nil
}

func mapNode(n nodeInfo) core.Node {
	node := core.Node{
		ID:          n.ID,
		Name:        n.Name,
		Description: n.Description,
		Author:      n.Author,
		License:     n.License,
		Icon:        n.Icon,
		Repository:  n.Repository,
		Category:    n.Category,
		Tags:        n.Tags,
		Downloads:   n.Downloads,
		Rating:      n.Rating,
		Status:      core.NodeStatus(trimStatus(n.Status, "NodeStatus")),
		CreatedAt:   parseTime(n.CreatedAt),
		Compatibility: core.Compatibility{
			FrontendVersion: n.SupportedComfyUIFrontendVersion,
			ComfyUIVersion:  n.SupportedComfyUIVersion,
			OS:              n.SupportedOS,
			Accelerators:    n.SupportedAccelerators,
		},
	}
	if n.Publisher != nil {
		p := mapPublisher(*n.Publisher)
		node.Publisher = &p
	}
	if n.LatestVersion != nil {
		v := mapVersion(*n.LatestVersion)
		if v.NodeID == "" {
			v.NodeID = n.ID
		}
		node.LatestVersion = &v
	}
	return node
}

func mapVersion(v versionInfo) core.Version {
	return core.Version{
		ID:           v.ID,
		NodeID:       v.NodeID,
		Number:       v.Version,
		Changelog:    v.Changelog,
		DownloadURL:  v.DownloadURL,
		Deprecated:   v.Deprecated,
		Status:       core.VersionStatus(trimStatus(v.Status, "NodeVersionStatus")),
		StatusReason: v.StatusReason,
		PublishedAt:  parseTime(v.CreatedAt),
		Dependencies: v.Dependencies,
		Compatibility: core.Compatibility{
			FrontendVersion: v.SupportedComfyUIFrontendVersion,
			ComfyUIVersion:  v.SupportedComfyUIVersion,
			OS:              v.SupportedOS,
			Accelerators:    v.SupportedAccelerators,
		},
	}
}

func mapPublisher(p publisherInfo) core.Publisher {
	return core.Publisher{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Website:        p.Website,
		Support:        p.Support,
		SourceCodeRepo: p.SourceCodeRepo,
		Logo:           p.Logo,
		Status:         core.PublisherStatus(trimStatus(p.Status, "PublisherStatus")),
		CreatedAt:      parseTime(p.CreatedAt),
	}
}

// trimStatus maps enum values such as "NodeVersionStatusActive" to "active".
func trimStatus(s, prefix string) string {
	return strings.ToLower(strings.TrimPrefix(s, prefix))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type URLs struct {
	baseURL string
	siteURL string
}

func (u *URLs) Registry(nodeID, version string) string {
	return fmt.Sprintf("%s/nodes/%s", u.siteURL, nodeID)
}

func (u *URLs) API(nodeID, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/nodes/%s/versions/%s", u.baseURL, nodeID, version)
	}
	return fmt.Sprintf("%s/nodes/%s", u.baseURL, nodeID)
}

func (u *URLs) Install(nodeID, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/nodes/%s/install?version=%s", u.baseURL, nodeID, url.QueryEscape(version))
	}
	return fmt.Sprintf("%s/nodes/%s/install", u.baseURL, nodeID)
}

func (u *URLs) PURL(nodeID, version string) string {
	return core.NodePURL("", nodeID, version)
}
