// Package rewrite turns matches into patches under double-pushout (DPO)
// semantics and interprets strategies that drive repeated matching and
// application against the MVCC manager.
package rewrite

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rewritedb/rewritedb/pkg/graph"
	"github.com/rewritedb/rewritedb/pkg/model"
	"github.com/rewritedb/rewritedb/pkg/rule"
)

// ErrGluingViolation is returned when a rule would delete a vertex while an
// incident edge survives. The check runs before any write; the snapshot is
// never touched by a rejected application.
var ErrGluingViolation = errors.New("rewrite: gluing condition violated")

// Apply builds the patch for one match of a rule against a snapshot.
//
// Elements of L\K are deleted, elements of R\K are added under freshly
// minted UUIDs, and K elements carry over with their identity intact; when
// the RHS specifies different labels or property values for a K vertex, an
// update is emitted. Applying the same (snapshot, rule, match) twice mints
// new ids each time; the operation is deliberately not idempotent.
func Apply(snap *graph.Snapshot, r *rule.Rule, m rule.Match) (*model.Patch, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	kNodes := make(map[string]bool, len(r.Context.Nodes))
	for _, n := range r.Context.Nodes {
		kNodes[n.Var] = true
	}
	kEdges := make(map[string]bool, len(r.Context.Edges))
	for _, e := range r.Context.Edges {
		kEdges[e.Var] = true
	}

	for _, n := range r.LHS.Nodes {
		if _, ok := m.Nodes[n.Var]; !ok {
			return nil, rule.Configf("%s: match does not bind variable %q", r.Name, n.Var)
		}
	}
	for _, e := range r.LHS.Edges {
		if _, ok := m.Edges[e.Var]; !ok {
			return nil, rule.Configf("%s: match does not bind edge %q", r.Name, e.Var)
		}
	}

	patch := &model.Patch{}

	delEdges := make(map[string]bool)
	for _, e := range r.LHS.Edges {
		if !kEdges[e.Var] {
			id := m.Edges[e.Var]
			delEdges[id] = true
			patch.DelEdges = append(patch.DelEdges, id)
		}
	}

	for _, n := range r.LHS.Nodes {
		if kNodes[n.Var] {
			continue
		}
		id := m.Nodes[n.Var]
		incident, err := snap.IncidentEdges(id)
		if err != nil {
			return nil, err
		}
		for _, edge := range incident {
			if !delEdges[edge.ID] {
				return nil, fmt.Errorf("%w: %s deletes vertex %q but edge %q survives",
					ErrGluingViolation, r.Name, id, edge.ID)
			}
		}
		patch.DelVertices = append(patch.DelVertices, id)
	}

	// R\K vertices get fresh identity, independent of any content hash.
	minted := make(map[string]string)
	for _, n := range r.RHS.Nodes {
		if kNodes[n.Var] {
			continue
		}
		rec := model.VertexRecord{
			ID:     uuid.NewString(),
			Labels: append([]string(nil), n.Labels...),
		}
		if n.Props != nil {
			rec.Props = make(map[string]model.Value, len(n.Props))
			for k, v := range n.Props {
				rec.Props[k] = v
			}
		}
		minted[n.Var] = rec.ID
		patch.AddVertices = append(patch.AddVertices, rec)
	}

	resolve := func(v string) (string, error) {
		if kNodes[v] {
			return m.Nodes[v], nil
		}
		if id, ok := minted[v]; ok {
			return id, nil
		}
		return "", rule.Configf("%s: rhs references unresolved variable %q", r.Name, v)
	}

	for _, e := range r.RHS.Edges {
		if kEdges[e.Var] {
			continue
		}
		src, err := resolve(e.Src)
		if err != nil {
			return nil, err
		}
		dst, err := resolve(e.Dst)
		if err != nil {
			return nil, err
		}
		patch.AddEdges = append(patch.AddEdges, model.EdgeRecord{
			ID:    uuid.NewString(),
			Src:   src,
			Dst:   dst,
			Label: e.Label,
		})
	}

	// K vertices: carry over unless the RHS declares different labels or
	// property values.
	for _, kn := range r.Context.Nodes {
		rn, _ := r.RHS.Node(kn.Var)
		id := m.Nodes[kn.Var]
		current, err := snap.GetVertex(id)
		if err != nil {
			return nil, err
		}
		updated := current.Clone()
		changed := false
		if len(rn.Labels) > 0 && !labelsEqual(rn.Labels, current.Labels) {
			updated.Labels = append([]string(nil), rn.Labels...)
			changed = true
		}
		for k, v := range rn.Props {
			got, ok := updated.Props[k]
			if ok && got.Equal(v) {
				continue
			}
			if updated.Props == nil {
				updated.Props = make(map[string]model.Value)
			}
			updated.Props[k] = v
			changed = true
		}
		if changed {
			patch.UpdateVertices = append(patch.UpdateVertices, updated)
		}
	}

	return patch, nil
}

func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EdgeCountNonincreasing is a builtin termination measure: it holds when the
// rewrite did not increase the number of edges.
func EdgeCountNonincreasing(before, after *graph.Snapshot) (bool, error) {
	_, be, err := before.Counts()
	if err != nil {
		return false, err
	}
	_, ae, err := after.Counts()
	if err != nil {
		return false, err
	}
	return ae <= be, nil
}
