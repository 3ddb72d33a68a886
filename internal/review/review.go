// Package review finds nodes whose compatibility metadata lags behind their
// latest version and brings them back in line.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/git-pkgs/comfyregistry/internal/batch"
	"github.com/git-pkgs/comfyregistry/internal/compat"
	"github.com/git-pkgs/comfyregistry/internal/core"
)

const (
	defaultPageSize    = 100
	defaultConcurrency = 5
)

// ErrNoFindings is returned by Reconcile when there is nothing to update.
var ErrNoFindings = errors.New("no findings to reconcile")

// Registry is the subset of the Registry API the review needs.
type Registry interface {
	core.NodeFetcher
	ListNodes(ctx context.Context, page, limit int) (*core.NodePage, error)
	UpdateNodeCompatibility(ctx context.Context, nodeID string, c core.Compatibility) error
}

// Options selects the nodes to scan.
type Options struct {
	// NodeIDs restricts the scan to these nodes. When empty the full listing
	// is paged through.
	NodeIDs []string

	PageSize int

	// MaxPages stops paging early. Zero means no limit.
	MaxPages int

	// IncludeInactive also reports banned and deleted nodes.
	IncludeInactive bool
}

// Finding is an outdated node.
type Finding struct {
	Node       *core.Node        `json:"-"`
	NodeID     string            `json:"nodeId"`
	Version    string            `json:"latestVersion"`
	Mismatches []compat.Mismatch `json:"mismatches"`
	License    LicenseCheck      `json:"license"`
}

// Result summarizes a reconcile run.
type Result struct {
	BatchID string            `json:"batchId"`
	DryRun  bool              `json:"dryRun"`
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Scanner runs reviews against a registry.
type Scanner struct {
	reg         Registry
	logger      *zap.Logger
	concurrency int
}

// NewScanner returns a scanner. A nil logger disables logging.
func NewScanner(reg Registry, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{reg: reg, logger: logger, concurrency: defaultConcurrency}
}

// WithConcurrency sets how many nodes are fetched or updated at once.
func (s *Scanner) WithConcurrency(n int) *Scanner {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Check builds the finding for a single node. ok is false when the node is
// up to date.
func Check(node *core.Node) (f Finding, ok bool) {
	diff := compat.Diff(node)
	if len(diff) == 0 {
		return Finding{}, false
	}
	return Finding{
		Node:       node,
		NodeID:     node.ID,
		Version:    node.LatestVersion.Number,
		Mismatches: diff,
		License:    CheckLicense(node.License),
	}, true
}

// Outdated returns a finding for every outdated node, sorted by node id.
func (s *Scanner) Outdated(ctx context.Context, opts Options) ([]Finding, error) {
	nodes, err := s.collect(ctx, opts)
	if err != nil {
		return nil, err
	}

	var findings []Finding
	for i := range nodes {
		n := nodes[i]
		if !opts.IncludeInactive && n.Status != "" && n.Status != core.NodeActive {
			continue
		}
		if f, ok := Check(n); ok {
			findings = append(findings, f)
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].NodeID < findings[j].NodeID })

	s.logger.Info("compatibility scan finished", zap.Int("scanned", len(nodes)), zap.Int("outdated", len(findings)))
	return findings, nil
}

func (s *Scanner) collect(ctx context.Context, opts Options) ([]*core.Node, error) {
	if len(opts.NodeIDs) > 0 {
		fetched := core.BulkFetchNodesWithConcurrency(ctx, s.reg, opts.NodeIDs, s.concurrency)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nodes := make([]*core.Node, 0, len(fetched))
		for _, id := range opts.NodeIDs {
			n, ok := fetched[id]
			if !ok {
				s.logger.Warn("node not fetched", zap.String("node_id", id))
				continue
			}
			nodes = append(nodes, n)
			delete(fetched, id)
		}
		return nodes, nil
	}

	limit := opts.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}

	var nodes []*core.Node
	for page := 1; ; page++ {
		if opts.MaxPages > 0 && page > opts.MaxPages {
			break
		}
		p, err := s.reg.ListNodes(ctx, page, limit)
		if err != nil {
			return nil, fmt.Errorf("listing nodes page %d: %w", page, err)
		}
		for i := range p.Nodes {
			nodes = append(nodes, &p.Nodes[i])
		}
		if len(p.Nodes) == 0 || (p.TotalPages > 0 && page >= p.TotalPages) {
			break
		}
	}
	return nodes, nil
}

// Reconcile copies the latest version's compatibility onto each node in
// findings. With dryRun set nothing is written. Per-node failures are
// collected in the result rather than aborting the run.
func (s *Scanner) Reconcile(ctx context.Context, findings []Finding, dryRun bool) (*Result, error) {
	if len(findings) == 0 {
		return nil, ErrNoFindings
	}

	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.NodeID)
	}
	res := &Result{BatchID: batch.GenerateBatchID(ids), DryRun: dryRun, Updated: []string{}}
	log := s.logger.With(zap.String("batch_id", res.BatchID), zap.Bool("dry_run", dryRun))

	var mu sync.Mutex
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, f := range findings {
		wg.Add(1)
		go func(f Finding) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			target, changed := compat.Reconciled(f.Node)
			if !changed {
				return
			}
			if !dryRun {
				if err := s.reg.UpdateNodeCompatibility(ctx, f.NodeID, target); err != nil {
					log.Warn("updating node compatibility", zap.String("node_id", f.NodeID), zap.Error(err))
					mu.Lock()
					if res.Failed == nil {
						res.Failed = make(map[string]string)
					}
					res.Failed[f.NodeID] = err.Error()
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			res.Updated = append(res.Updated, f.NodeID)
			mu.Unlock()
		}(f)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	sort.Strings(res.Updated)
	log.Info("reconcile finished", zap.Int("updated", len(res.Updated)), zap.Int("failed", len(res.Failed)))
	return res, nil
}
