package graph

import (
	"fmt"
	"sort"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/model"
)

// Materialize writes one block per vertex and edge plus a root block and
// returns the new root Cid. Identical graphs always materialize to the same
// root: per-record canonical encoding plus sorted id maps make the result
// independent of iteration order.
//
// Every edge must reference vertices present in the vertex set; a dangling
// reference is rejected before any block is written.
func Materialize(store *merkle.Store, vertices map[string]model.VertexRecord, edges map[string]model.EdgeRecord) (cid.Cid, error) {
	for id, e := range edges {
		if _, ok := vertices[e.Src]; !ok {
			return cid.Cid{}, fmt.Errorf("graph: edge %q references missing vertex %q", id, e.Src)
		}
		if _, ok := vertices[e.Dst]; !ok {
			return cid.Cid{}, fmt.Errorf("graph: edge %q references missing vertex %q", id, e.Dst)
		}
	}

	doc := rootDoc{
		Vertices: make(map[string]string, len(vertices)),
		Edges:    make(map[string]string, len(edges)),
	}
	vertexCids := make(map[string]cid.Cid, len(vertices))
	var children []cid.Cid

	for _, id := range model.SortedKeys(vertices) {
		rec := vertices[id]
		if rec.ID != id {
			return cid.Cid{}, fmt.Errorf("graph: vertex map key %q does not match record id %q", id, rec.ID)
		}
		content, err := cid.Canonicalize(rec)
		if err != nil {
			return cid.Cid{}, fmt.Errorf("graph: vertex %s: %w", id, err)
		}
		c, err := store.Put(merkle.KindNode, content, nil)
		if err != nil {
			return cid.Cid{}, err
		}
		vertexCids[id] = c
		doc.Vertices[id] = c.String()
		children = append(children, c)
	}

	for _, id := range model.SortedKeys(edges) {
		rec := edges[id]
		if rec.ID != id {
			return cid.Cid{}, fmt.Errorf("graph: edge map key %q does not match record id %q", id, rec.ID)
		}
		content, err := cid.Canonicalize(rec)
		if err != nil {
			return cid.Cid{}, fmt.Errorf("graph: edge %s: %w", id, err)
		}
		c, err := store.Put(merkle.KindEdge, content, []cid.Cid{vertexCids[rec.Src], vertexCids[rec.Dst]})
		if err != nil {
			return cid.Cid{}, err
		}
		doc.Edges[id] = c.String()
		children = append(children, c)
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].String() < children[j].String()
	})
	content, err := cid.Canonicalize(doc)
	if err != nil {
		return cid.Cid{}, fmt.Errorf("graph: root: %w", err)
	}
	return store.Put(merkle.KindGraph, content, children)
}

// MaterializeEmpty writes the empty graph and returns its root.
func MaterializeEmpty(store *merkle.Store) (cid.Cid, error) {
	return Materialize(store, map[string]model.VertexRecord{}, map[string]model.EdgeRecord{})
}
