package match

import (
	"github.com/rewritedb/rewritedb/internal/workerpool"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

type seedResult struct {
	matches []rule.Match
	err     error
}

// FindMatchesParallel partitions the search across workers by seeding the
// first (most constrained) variable with each candidate vertex. The matcher
// is pure over the snapshot, so the partitions run concurrently without
// synchronization; the merged result equals FindMatches up to ordering,
// which the final sort removes.
func FindMatchesParallel(snap *graph.Snapshot, r *rule.Rule, guards *guard.Registry, workers int) ([]rule.Match, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if len(r.LHS.Nodes) == 0 || workers == 1 {
		return FindMatches(snap, r, guards)
	}
	vertices, err := snap.Vertices()
	if err != nil {
		return nil, err
	}
	seeds := model.SortedKeys(vertices)
	if len(seeds) == 0 {
		return nil, nil
	}

	pool := workerpool.New(workers)
	defer pool.Close()
	g := pool.NewGroup(len(seeds))
	for _, seed := range seeds {
		seed := seed
		g.Go(func() any {
			ms, err := FindMatchesSeeded(snap, r, guards, seed)
			return seedResult{matches: ms, err: err}
		})
	}

	var out []rule.Match
	for _, res := range g.Wait() {
		sr := res.(seedResult)
		if sr.err != nil {
			return nil, sr.err
		}
		out = append(out, sr.matches...)
	}
	sortMatches(out)
	return out, nil
}
