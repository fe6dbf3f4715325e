package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rule"
	"github.com/rewritedb/rewritedb/pkg/storage"
)

func snapshotOf(t *testing.T, vertices map[string]model.VertexRecord, edges map[string]model.EdgeRecord) *graph.Snapshot {
	t.Helper()
	store := merkle.NewStore(storage.NewMemory(), cid.Sha256)
	root, err := graph.Materialize(store, vertices, edges)
	require.NoError(t, err)
	return graph.NewSnapshot(store, root)
}

func knowsChain(t *testing.T, people ...string) *graph.Snapshot {
	t.Helper()
	vertices := make(map[string]model.VertexRecord, len(people))
	for _, p := range people {
		vertices[p] = model.VertexRecord{ID: p, Labels: []string{"Person"}}
	}
	edges := make(map[string]model.EdgeRecord, len(people)-1)
	for i := 0; i+1 < len(people); i++ {
		id := "e" + people[i]
		edges[id] = model.EdgeRecord{ID: id, Src: people[i], Dst: people[i+1], Label: "KNOWS"}
	}
	return snapshotOf(t, vertices, edges)
}

func knowsRule() *rule.Rule {
	return &rule.Rule{
		Name: "knows",
		LHS: rule.Pattern{
			Nodes: []rule.PatternNode{
				{Var: "p1", Labels: []string{"Person"}},
				{Var: "p2", Labels: []string{"Person"}},
			},
			Edges: []rule.PatternEdge{
				{Var: "e", Src: "p1", Dst: "p2", Label: "KNOWS"},
			},
		},
		Context: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p1"}, {Var: "p2"},
		}},
		RHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p1"}, {Var: "p2"},
		}},
	}
}

func TestFindMatchesBasic(t *testing.T) {
	snap := knowsChain(t, "a", "b", "c")
	guards := guard.NewRegistry()

	matches, err := FindMatches(snap, knowsRule(), guards)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a", matches[0].Nodes["p1"])
	assert.Equal(t, "b", matches[0].Nodes["p2"])
	assert.Equal(t, "ea", matches[0].Edges["e"])
	assert.Equal(t, "b", matches[1].Nodes["p1"])
	assert.Equal(t, "c", matches[1].Nodes["p2"])
}

func TestFindMatchesInjective(t *testing.T) {
	// A self-loop cannot satisfy a two-variable pattern.
	vertices := map[string]model.VertexRecord{
		"a": {ID: "a", Labels: []string{"Person"}},
	}
	edges := map[string]model.EdgeRecord{
		"loop": {ID: "loop", Src: "a", Dst: "a", Label: "KNOWS"},
	}
	snap := snapshotOf(t, vertices, edges)

	matches, err := FindMatches(snap, knowsRule(), guard.NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindMatchesPropertyConstraint(t *testing.T) {
	vertices := map[string]model.VertexRecord{
		"a": {ID: "a", Labels: []string{"Person"}, Props: map[string]model.Value{"age": model.I(30)}},
		"b": {ID: "b", Labels: []string{"Person"}, Props: map[string]model.Value{"age": model.I(17)}},
	}
	snap := snapshotOf(t, vertices, nil)

	r := &rule.Rule{
		Name: "adults",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}, Props: map[string]model.Value{"age": model.I(30)}},
		}},
	}
	matches, err := FindMatches(snap, r, guard.NewRegistry())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Nodes["p"])
}

func TestFindMatchesEdgeLabelWildcard(t *testing.T) {
	vertices := map[string]model.VertexRecord{
		"a": {ID: "a"}, "b": {ID: "b"},
	}
	edges := map[string]model.EdgeRecord{
		"e1": {ID: "e1", Src: "a", Dst: "b", Label: "KNOWS"},
		"e2": {ID: "e2", Src: "a", Dst: "b", Label: "LIKES"},
	}
	snap := snapshotOf(t, vertices, edges)

	r := &rule.Rule{
		Name: "any-edge",
		LHS: rule.Pattern{
			Nodes: []rule.PatternNode{{Var: "x"}, {Var: "y"}},
			Edges: []rule.PatternEdge{{Var: "e", Src: "x", Dst: "y"}},
		},
	}
	matches, err := FindMatches(snap, r, guard.NewRegistry())
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestNACExcludesMatches(t *testing.T) {
	// b is marked; the NAC forbids matching marked persons.
	vertices := map[string]model.VertexRecord{
		"a": {ID: "a", Labels: []string{"Person"}},
		"b": {ID: "b", Labels: []string{"Person", "Marked"}},
	}
	snap := snapshotOf(t, vertices, nil)

	r := &rule.Rule{
		Name: "unmarked",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}},
		}},
		NACs: []rule.Pattern{{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Marked"}},
		}}},
	}
	matches, err := FindMatches(snap, r, guard.NewRegistry())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Nodes["p"])
}

func TestNACWithFreeVariables(t *testing.T) {
	// Match persons that have no outgoing KNOWS edge at all.
	vertices := map[string]model.VertexRecord{
		"a": {ID: "a", Labels: []string{"Person"}},
		"b": {ID: "b", Labels: []string{"Person"}},
	}
	edges := map[string]model.EdgeRecord{
		"e": {ID: "e", Src: "a", Dst: "b", Label: "KNOWS"},
	}
	snap := snapshotOf(t, vertices, edges)

	r := &rule.Rule{
		Name: "sinks",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}},
		}},
		NACs: []rule.Pattern{{
			Nodes: []rule.PatternNode{{Var: "p"}, {Var: "q"}},
			Edges: []rule.PatternEdge{{Var: "ne", Src: "p", Dst: "q", Label: "KNOWS"}},
		}},
	}
	matches, err := FindMatches(snap, r, guard.NewRegistry())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Nodes["p"])
}

func TestGuardFiltersMatches(t *testing.T) {
	snap := knowsChain(t, "a", "b", "c")

	r := &rule.Rule{
		Name: "hubs",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}},
		}},
		Guards: []rule.Guard{
			{Name: "deg_ge", Args: []model.Value{model.S("p"), model.I(2)}},
		},
	}
	matches, err := FindMatches(snap, r, guard.NewRegistry())
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Nodes["p"])
}

func TestUnknownGuardIsConfigurationError(t *testing.T) {
	snap := knowsChain(t, "a", "b")

	r := &rule.Rule{
		Name: "broken",
		LHS: rule.Pattern{Nodes: []rule.PatternNode{
			{Var: "p", Labels: []string{"Person"}},
		}},
		Guards: []rule.Guard{{Name: "no_such_guard"}},
	}
	_, err := FindMatches(snap, r, guard.NewRegistry())
	assert.ErrorIs(t, err, rule.ErrConfiguration)
}

func TestInvalidRuleIsConfigurationError(t *testing.T) {
	snap := knowsChain(t, "a", "b")

	r := &rule.Rule{
		Name: "bad",
		LHS: rule.Pattern{
			Edges: []rule.PatternEdge{{Var: "e", Src: "x", Dst: "y"}},
		},
	}
	_, err := FindMatches(snap, r, guard.NewRegistry())
	assert.ErrorIs(t, err, rule.ErrConfiguration)
}

func TestFindMatchesDeterministic(t *testing.T) {
	snap := knowsChain(t, "a", "b", "c", "d", "e")
	guards := guard.NewRegistry()
	r := knowsRule()

	first, err := FindMatches(snap, r, guards)
	require.NoError(t, err)
	second, err := FindMatches(snap, r, guards)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParallelMatchesEqualSequential(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		people := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,4}`), 2, 8, rapid.ID[string]).Draw(t, "people")

		vertices := make(map[string]model.VertexRecord, len(people))
		for _, p := range people {
			vertices[p] = model.VertexRecord{ID: p, Labels: []string{"Person"}}
		}
		edges := make(map[string]model.EdgeRecord, len(people)-1)
		for i := 0; i+1 < len(people); i++ {
			id := "e" + people[i]
			edges[id] = model.EdgeRecord{ID: id, Src: people[i], Dst: people[i+1], Label: "KNOWS"}
		}
		store := merkle.NewStore(storage.NewMemory(), cid.Sha256)
		root, err := graph.Materialize(store, vertices, edges)
		require.NoError(t, err)
		snap := graph.NewSnapshot(store, root)

		guards := guard.NewRegistry()
		r := knowsRule()

		sequential, err := FindMatches(snap, r, guards)
		require.NoError(t, err)

		workers := rapid.IntRange(2, 4).Draw(t, "workers")
		parallel, err := FindMatchesParallel(snap, r, guards, workers)
		require.NoError(t, err)

		assert.Equal(t, sequential, parallel)
	})
}
