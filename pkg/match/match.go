// Package match finds valid embeddings of a rule's left-hand side into a
// graph snapshot. The search is constrained backtracking over pattern
// variables, most-constrained-first, with guard evaluation and negative
// application condition (NAC) checks on every complete assignment.
//
// FindMatches is pure over the snapshot and re-entrant: running it twice for
// the same snapshot and rule yields the same logical match set.
package match

import (
	"sort"
	"strings"

	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/guard"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

type matcher struct {
	snap     *graph.Snapshot
	rule     *rule.Rule
	guards   *guard.Registry
	vertices map[string]model.VertexRecord
	edges    map[string]model.EdgeRecord

	vertexIDs []string
	edgeIDs   []string

	order []rule.PatternNode // LHS node vars, most-constrained-first

	nodeBind map[string]string // var -> vertex id
	nodeUsed map[string]bool   // injective on vertices

	out []rule.Match
}

// FindMatches enumerates every valid embedding of the rule's LHS. A match is
// valid only if every guard evaluates true and no NAC pattern extends the
// mapping to a full embedding. Matching is injective: distinct variables
// bind distinct graph elements.
func FindMatches(snap *graph.Snapshot, r *rule.Rule, guards *guard.Registry) ([]rule.Match, error) {
	m, err := newMatcher(snap, r, guards)
	if err != nil {
		return nil, err
	}
	if err := m.run(""); err != nil {
		return nil, err
	}
	sortMatches(m.out)
	return m.out, nil
}

// FindMatchesSeeded behaves like FindMatches with the first search variable
// pre-bound to seed. Used to partition the search space across workers; the
// union over all seeds equals the unseeded match set.
func FindMatchesSeeded(snap *graph.Snapshot, r *rule.Rule, guards *guard.Registry, seed string) ([]rule.Match, error) {
	m, err := newMatcher(snap, r, guards)
	if err != nil {
		return nil, err
	}
	if err := m.run(seed); err != nil {
		return nil, err
	}
	sortMatches(m.out)
	return m.out, nil
}

func newMatcher(snap *graph.Snapshot, r *rule.Rule, guards *guard.Registry) (*matcher, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	vertices, err := snap.Vertices()
	if err != nil {
		return nil, err
	}
	edges, err := snap.Edges()
	if err != nil {
		return nil, err
	}
	m := &matcher{
		snap:      snap,
		rule:      r,
		guards:    guards,
		vertices:  vertices,
		edges:     edges,
		vertexIDs: model.SortedKeys(vertices),
		edgeIDs:   model.SortedKeys(edges),
		nodeBind:  make(map[string]string, len(r.LHS.Nodes)),
		nodeUsed:  make(map[string]bool, len(r.LHS.Nodes)),
	}
	m.order = orderVars(&r.LHS)
	return m, nil
}

// orderVars sorts pattern nodes most-constrained-first: label and property
// constraints narrow candidates the most, then pattern degree bounds
// branching, ties broken by variable name for determinism.
func orderVars(p *rule.Pattern) []rule.PatternNode {
	degree := make(map[string]int, len(p.Nodes))
	for _, e := range p.Edges {
		degree[e.Src]++
		degree[e.Dst]++
	}
	out := append([]rule.PatternNode(nil), p.Nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		ci := len(out[i].Labels)*2 + len(out[i].Props)*2 + degree[out[i].Var]
		cj := len(out[j].Labels)*2 + len(out[j].Props)*2 + degree[out[j].Var]
		if ci != cj {
			return ci > cj
		}
		return out[i].Var < out[j].Var
	})
	return out
}

func (m *matcher) run(seed string) error {
	if len(m.order) == 0 {
		// A rule with an empty LHS matches once with an empty mapping.
		return m.assignEdges(0, make(map[string]string), make(map[string]bool))
	}
	return m.assignNode(0, seed)
}

func (m *matcher) assignNode(depth int, seed string) error {
	if depth == len(m.order) {
		return m.assignEdges(0, make(map[string]string), make(map[string]bool))
	}
	pn := m.order[depth]
	candidates := m.vertexIDs
	if depth == 0 && seed != "" {
		candidates = []string{seed}
	}
	for _, id := range candidates {
		if m.nodeUsed[id] {
			continue
		}
		rec, ok := m.vertices[id]
		if !ok || !nodeFits(pn, rec) {
			continue
		}
		m.nodeBind[pn.Var] = id
		m.nodeUsed[id] = true
		if m.edgesFeasible() {
			if err := m.assignNode(depth+1, seed); err != nil {
				return err
			}
		}
		delete(m.nodeBind, pn.Var)
		delete(m.nodeUsed, id)
	}
	return nil
}

// edgesFeasible prunes partial assignments: every LHS pattern edge whose
// endpoints are both bound must have at least one candidate edge.
func (m *matcher) edgesFeasible() bool {
	for _, pe := range m.rule.LHS.Edges {
		src, okS := m.nodeBind[pe.Src]
		dst, okD := m.nodeBind[pe.Dst]
		if !okS || !okD {
			continue
		}
		found := false
		for _, id := range m.edgeIDs {
			if edgeFits(pe, m.edges[id], src, dst) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// assignEdges binds LHS edge variables, injectively, once all nodes are
// bound. Complete assignments proceed to guard and NAC checks.
func (m *matcher) assignEdges(idx int, edgeBind map[string]string, edgeUsed map[string]bool) error {
	if idx == len(m.rule.LHS.Edges) {
		return m.accept(edgeBind)
	}
	pe := m.rule.LHS.Edges[idx]
	src := m.nodeBind[pe.Src]
	dst := m.nodeBind[pe.Dst]
	for _, id := range m.edgeIDs {
		if edgeUsed[id] || !edgeFits(pe, m.edges[id], src, dst) {
			continue
		}
		edgeBind[pe.Var] = id
		edgeUsed[id] = true
		if err := m.assignEdges(idx+1, edgeBind, edgeUsed); err != nil {
			return err
		}
		delete(edgeBind, pe.Var)
		delete(edgeUsed, id)
	}
	return nil
}

func (m *matcher) accept(edgeBind map[string]string) error {
	candidate := rule.Match{
		Nodes: make(map[string]string, len(m.nodeBind)),
		Edges: make(map[string]string, len(edgeBind)),
	}
	for k, v := range m.nodeBind {
		candidate.Nodes[k] = v
	}
	for k, v := range edgeBind {
		candidate.Edges[k] = v
	}

	for _, g := range m.rule.Guards {
		ok, err := m.guards.Eval(g, m.snap, candidate)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	for i := range m.rule.NACs {
		if m.nacHolds(&m.rule.NACs[i], candidate) {
			return nil
		}
	}
	m.out = append(m.out, candidate)
	return nil
}

func nodeFits(pn rule.PatternNode, rec model.VertexRecord) bool {
	for _, l := range pn.Labels {
		if !rec.HasLabel(l) {
			return false
		}
	}
	for k, want := range pn.Props {
		got, ok := rec.Props[k]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

func edgeFits(pe rule.PatternEdge, rec model.EdgeRecord, src, dst string) bool {
	if rec.Src != src || rec.Dst != dst {
		return false
	}
	return pe.Label == "" || rec.Label == pe.Label
}

// nacHolds reports whether the NAC pattern can be embedded while keeping the
// bindings it shares with the candidate match. Shared variables stay fixed;
// remaining NAC variables are matched injectively among themselves. A full
// embedding forbids the candidate.
func (m *matcher) nacHolds(nac *rule.Pattern, candidate rule.Match) bool {
	bind := make(map[string]string, len(nac.Nodes))
	used := make(map[string]bool, len(nac.Nodes))
	var free []rule.PatternNode
	for _, pn := range nac.Nodes {
		if id, ok := candidate.Nodes[pn.Var]; ok {
			// Pre-bound by the LHS match; the NAC's own constraints on the
			// shared variable must still hold.
			if !nodeFits(pn, m.vertices[id]) {
				return false
			}
			bind[pn.Var] = id
			used[id] = true
			continue
		}
		free = append(free, pn)
	}
	return m.nacAssign(nac, free, 0, bind, used)
}

func (m *matcher) nacAssign(nac *rule.Pattern, free []rule.PatternNode, depth int, bind map[string]string, used map[string]bool) bool {
	if depth == len(free) {
		return m.nacEdges(nac, 0, bind, make(map[string]bool))
	}
	pn := free[depth]
	for _, id := range m.vertexIDs {
		if used[id] || !nodeFits(pn, m.vertices[id]) {
			continue
		}
		bind[pn.Var] = id
		used[id] = true
		if m.nacAssign(nac, free, depth+1, bind, used) {
			return true
		}
		delete(bind, pn.Var)
		delete(used, id)
	}
	return false
}

func (m *matcher) nacEdges(nac *rule.Pattern, idx int, bind map[string]string, edgeUsed map[string]bool) bool {
	if idx == len(nac.Edges) {
		return true
	}
	pe := nac.Edges[idx]
	src := bind[pe.Src]
	dst := bind[pe.Dst]
	for _, id := range m.edgeIDs {
		if edgeUsed[id] || !edgeFits(pe, m.edges[id], src, dst) {
			continue
		}
		edgeUsed[id] = true
		if m.nacEdges(nac, idx+1, bind, edgeUsed) {
			return true
		}
		delete(edgeUsed, id)
	}
	return false
}

// sortMatches imposes a stable order on the result set so enumeration is
// reproducible. The order is an implementation detail, not a contract;
// strategies impose their own selection via Order.
func sortMatches(ms []rule.Match) {
	sort.Slice(ms, func(i, j int) bool {
		return matchKey(ms[i]) < matchKey(ms[j])
	})
}

func matchKey(m rule.Match) string {
	var sb strings.Builder
	for _, v := range model.SortedKeys(m.Nodes) {
		sb.WriteString(v)
		sb.WriteByte('=')
		sb.WriteString(m.Nodes[v])
		sb.WriteByte(';')
	}
	for _, v := range model.SortedKeys(m.Edges) {
		sb.WriteString(v)
		sb.WriteByte('=')
		sb.WriteString(m.Edges[v])
		sb.WriteByte(';')
	}
	return sb.String()
}

// Key returns the canonical selection key of a match. The strategy executor
// uses it to pick matches under TopDown and BottomUp orders.
func Key(m rule.Match) string { return matchKey(m) }
