package rewrite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/mvcc"
	"github.com/rewritedb/rewritedb/pkg/rule"
	"github.com/rewritedb/rewritedb/pkg/storage"
)

func newTestExecutor(t *testing.T) (*mvcc.Manager, *guard.Registry, *Executor) {
	t.Helper()
	store := merkle.NewStore(storage.NewMemory(), cid.Sha256)
	root, err := graph.MaterializeEmpty(store)
	require.NoError(t, err)
	mgr := mvcc.NewManager(store, root, nil)
	guards := guard.NewRegistry()
	return mgr, guards, NewExecutor(mgr, guards, nil)
}

func commit(t *testing.T, mgr *mvcc.Manager, patch *model.Patch) {
	t.Helper()
	tx := mgr.Begin()
	require.NoError(t, mgr.Stage(tx, patch))
	_, err := mgr.Commit(context.Background(), tx)
	require.NoError(t, err)
}

func seedChain(t *testing.T, mgr *mvcc.Manager, people ...string) {
	t.Helper()
	patch := &model.Patch{}
	for _, p := range people {
		patch.AddVertices = append(patch.AddVertices, model.VertexRecord{
			ID: p, Labels: []string{"Person"},
		})
	}
	for i := 0; i+1 < len(people); i++ {
		patch.AddEdges = append(patch.AddEdges, model.EdgeRecord{
			ID: "e" + people[i], Src: people[i], Dst: people[i+1], Label: "KNOWS",
		})
	}
	commit(t, mgr, patch)
}

func TestExhaustCollapsesChain(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a", "b", "c")
	before := mgr.CurrentRoot()

	res, err := exec.Run(context.Background(), Exhaust{
		Rule:    collapseRule(),
		Measure: EdgeCountNonincreasing,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Applied)
	assert.True(t, res.Ok)
	assert.NotEqual(t, before, res.Root)

	nv, ne, err := mgr.Snapshot().Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, nv)
	assert.Equal(t, 0, ne)

	// The pre-run root still resolves to the full chain.
	nv, ne, err = mgr.SnapshotAt(before).Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, nv)
	assert.Equal(t, 2, ne)
}

func TestOnceWithoutMatchIsFailure(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	before := mgr.CurrentRoot()

	res, err := exec.Run(context.Background(), Once{Rule: collapseRule()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.False(t, res.Ok)
	assert.Equal(t, before, res.Root)
}

func TestOrderSelectsDifferentMatches(t *testing.T) {
	spawn := func(t *testing.T) (*mvcc.Manager, *Executor) {
		mgr, _, exec := newTestExecutor(t)
		commit(t, mgr, &model.Patch{
			AddVertices: []model.VertexRecord{
				{ID: "a", Labels: []string{"Person"}},
				{ID: "b", Labels: []string{"Person"}},
				{ID: "c", Labels: []string{"Person"}},
				{ID: "d", Labels: []string{"Person"}},
			},
			AddEdges: []model.EdgeRecord{
				{ID: "e1", Src: "a", Dst: "b", Label: "KNOWS"},
				{ID: "e2", Src: "c", Dst: "d", Label: "KNOWS"},
			},
		})
		return mgr, exec
	}

	mgr, exec := spawn(t)
	_, err := exec.Run(context.Background(), Once{Rule: collapseRule(), Order: TopDown})
	require.NoError(t, err)
	vertices, err := mgr.Snapshot().Vertices()
	require.NoError(t, err)
	assert.NotContains(t, vertices, "b")
	assert.Contains(t, vertices, "d")

	mgr, exec = spawn(t)
	_, err = exec.Run(context.Background(), Once{Rule: collapseRule(), Order: BottomUp})
	require.NoError(t, err)
	vertices, err = mgr.Snapshot().Vertices()
	require.NoError(t, err)
	assert.Contains(t, vertices, "b")
	assert.NotContains(t, vertices, "d")
}

// growRule attaches a fresh Task vertex to any person, growing the graph.
func growRule() *rule.Rule {
	return &rule.Rule{
		Name: "grow",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}},
		}},
		Context: rule.Pattern{Nodes: []rule.PatternNode{{Var: "p"}}},
		RHS: rule.Pattern{
			Nodes: []rule.PatternNode{
				{Var: "p"},
				{Var: "t", Labels: []string{"Task"}},
			},
			Edges: []rule.PatternEdge{{Var: "owns", Src: "p", Dst: "t", Label: "OWNS"}},
		},
	}
}

func TestExhaustMeasureStopsGrowth(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a")

	res, err := exec.Run(context.Background(), Exhaust{
		Rule:    growRule(),
		Measure: EdgeCountNonincreasing,
	})
	assert.ErrorIs(t, err, ErrNonTerminating)
	assert.Equal(t, 1, res.Applied)
}

func TestWhileBoundsApplications(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a")

	budget := 3
	res, err := exec.Run(context.Background(), While{
		Rule: growRule(),
		Pred: func(snap *graph.Snapshot) (bool, error) {
			budget--
			return budget >= 0, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)
	assert.True(t, res.Ok)

	_, ne, err := mgr.Snapshot().Counts()
	require.NoError(t, err)
	assert.Equal(t, 3, ne)
}

func TestWhileRequiresPredicate(t *testing.T) {
	_, _, exec := newTestExecutor(t)
	_, err := exec.Run(context.Background(), While{Rule: growRule()})
	assert.ErrorIs(t, err, rule.ErrConfiguration)
}

func TestSeqAbortsOnFailure(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a", "b")

	res, err := exec.Run(context.Background(), Seq{Strategies: []Strategy{
		Once{Rule: collapseRule()}, // applies: deletes b
		Once{Rule: collapseRule()}, // no KNOWS edge left: fails
		Once{Rule: growRule()},     // must not run
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.False(t, res.Ok)

	_, ne, err := mgr.Snapshot().Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, ne)
}

func TestChoiceTakesFirstApplicable(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a")

	res, err := exec.Run(context.Background(), Choice{Strategies: []Strategy{
		Once{Rule: collapseRule()}, // no match
		Once{Rule: growRule()},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.True(t, res.Ok)

	tasks, err := mgr.Snapshot().ScanVertices("Task")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestChoiceSurfacesConfigurationError(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a")

	broken := growRule()
	broken.Guards = []rule.Guard{{Name: "no_such_guard"}}

	_, err := exec.Run(context.Background(), Choice{Strategies: []Strategy{
		Once{Rule: collapseRule()}, // no match
		Once{Rule: broken},
	}})
	assert.ErrorIs(t, err, rule.ErrConfiguration)
}

func TestPriorityOrdersChildren(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a", "b")

	// Both rules apply; the higher priority wins even when listed last.
	res, err := exec.Run(context.Background(), Priority{Entries: []PriorityEntry{
		{Strategy: Once{Rule: growRule()}, Priority: 1},
		{Strategy: Once{Rule: collapseRule()}, Priority: 5},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)

	nv, ne, err := mgr.Snapshot().Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, nv)
	assert.Equal(t, 0, ne)
}

// interferingGuard commits an unrelated vertex the first n times it runs,
// forcing a commit conflict inside the executor.
func interferingGuard(t *testing.T, mgr *mvcc.Manager, n *int) guard.Func {
	return func(snap *graph.Snapshot, m rule.Match, args []model.Value) (bool, error) {
		if *n > 0 {
			*n--
			tx := mgr.Begin()
			id := "noise" + string(rune('0'+*n))
			if err := mgr.Stage(tx, &model.Patch{
				AddVertices: []model.VertexRecord{{ID: id, Labels: []string{"Noise"}}},
			}); err != nil {
				return false, err
			}
			if _, err := mgr.Commit(context.Background(), tx); err != nil {
				return false, err
			}
		}
		return true, nil
	}
}

func TestConflictRebaseAndRetry(t *testing.T) {
	mgr, guards, exec := newTestExecutor(t)
	seedChain(t, mgr, "a", "b")

	remaining := 2
	guards.Register("interfere", interferingGuard(t, mgr, &remaining))
	r := collapseRule()
	r.Guards = []rule.Guard{{Name: "interfere"}}

	res, err := exec.Run(context.Background(), Once{Rule: r})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, remaining)

	vertices, err := mgr.Snapshot().Vertices()
	require.NoError(t, err)
	assert.NotContains(t, vertices, "b")
	noise, err := mgr.Snapshot().ScanVertices("Noise")
	require.NoError(t, err)
	assert.Len(t, noise, 2)
}

func TestRetryLimitExceeded(t *testing.T) {
	mgr, guards, exec := newTestExecutor(t)
	seedChain(t, mgr, "a", "b")
	exec.MaxRetries = 2

	remaining := 1 << 20
	guards.Register("interfere", interferingGuard(t, mgr, &remaining))
	r := collapseRule()
	r.Guards = []rule.Guard{{Name: "interfere"}}

	_, err := exec.Run(context.Background(), Once{Rule: r})
	assert.ErrorIs(t, err, ErrRetryLimit)
}

func TestRunHonorsCancellation(t *testing.T) {
	mgr, _, exec := newTestExecutor(t)
	seedChain(t, mgr, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, Exhaust{Rule: growRule()})
	assert.ErrorIs(t, err, context.Canceled)
}
