package core

import (
	"context"
	"sort"
	"sync"
)

const defaultConcurrency = 15

// FetchLatestVersion returns the newest active, non-deprecated version.
// Returns nil if no installable versions exist.
func FetchLatestVersion(ctx context.Context, reg VersionLister, nodeID string) (*Version, error) {
	versions, err := reg.FetchVersions(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	var valid []Version
	for _, v := range versions {
		if v.Installable() {
			valid = append(valid, v)
		}
	}

	if len(valid) == 0 {
		return nil, nil
	}

	// Without timestamps the registry's order (newest first) is kept.
	hasTimestamps := false
	for _, v := range valid {
		if !v.PublishedAt.IsZero() {
			hasTimestamps = true
			break
		}
	}

	if hasTimestamps {
		sort.SliceStable(valid, func(i, j int) bool {
			return valid[i].PublishedAt.After(valid[j].PublishedAt)
		})
	}

	return &valid[0], nil
}

// BulkFetchNodes fetches nodes by id in parallel.
// Individual fetch errors are silently ignored - those ids are omitted from results.
func BulkFetchNodes(ctx context.Context, reg NodeFetcher, ids []string) map[string]*Node {
	return BulkFetchNodesWithConcurrency(ctx, reg, ids, defaultConcurrency)
}

// BulkFetchNodesWithConcurrency fetches nodes with a custom concurrency limit.
func BulkFetchNodesWithConcurrency(ctx context.Context, reg NodeFetcher, ids []string, concurrency int) map[string]*Node {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make(map[string]*Node)
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			node, err := reg.FetchNode(ctx, id)
			if err == nil && node != nil {
				mu.Lock()
				results[id] = node
				mu.Unlock()
			}
		}(id)
	}

	wg.Wait()
	return results
}
