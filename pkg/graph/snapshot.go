// Package graph materializes property graphs as merkle blocks and exposes
// immutable point-in-time snapshots. A snapshot is fully identified by its
// root Cid; any historical root remains readable as long as its blocks are
// stored (time travel falls out of content addressing).
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rewritedb/rewritedb/pkg/cid"
	"github.com/rewritedb/rewritedb/pkg/merkle"
	"github.com/rewritedb/rewritedb/pkg/model"
)

// rootDoc is the content of a KindGraph block: id to block-Cid maps for
// every vertex and edge reachable from this snapshot.
type rootDoc struct {
	Vertices map[string]string `json:"vertices"`
	Edges    map[string]string `json:"edges"`
}

// Snapshot is a read-only view of the graph at one root. All accessors are
// safe for concurrent use; decoded records and derived indexes are cached
// behind a mutex.
type Snapshot struct {
	store *merkle.Store
	root  cid.Cid

	mu       sync.Mutex
	doc      *rootDoc
	vertices map[string]model.VertexRecord
	edges    map[string]model.EdgeRecord
	incident map[string][]string // vertex id -> incident edge ids
}

// NewSnapshot wraps a root Cid. The root block is not read until first use.
func NewSnapshot(store *merkle.Store, root cid.Cid) *Snapshot {
	return &Snapshot{store: store, root: root}
}

// Root returns the snapshot's root Cid.
func (s *Snapshot) Root() cid.Cid { return s.root }

// load reads and decodes the whole snapshot once. Snapshots are the unit the
// matcher walks repeatedly, so one eager decode beats per-record round trips.
func (s *Snapshot) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc != nil {
		return nil
	}
	blk, err := s.store.Get(s.root)
	if err != nil {
		return fmt.Errorf("graph: load root %s: %w", s.root, err)
	}
	if blk.Kind != merkle.KindGraph {
		return fmt.Errorf("graph: root %s has kind %q, want %q", s.root, blk.Kind, merkle.KindGraph)
	}
	var doc rootDoc
	if err := json.Unmarshal(blk.Content, &doc); err != nil {
		return fmt.Errorf("graph: decode root %s: %w", s.root, err)
	}

	vertices := make(map[string]model.VertexRecord, len(doc.Vertices))
	for id, hexCid := range doc.Vertices {
		rec, err := s.decodeVertex(id, hexCid)
		if err != nil {
			return err
		}
		vertices[id] = rec
	}
	edges := make(map[string]model.EdgeRecord, len(doc.Edges))
	incident := make(map[string][]string)
	for id, hexCid := range doc.Edges {
		rec, err := s.decodeEdge(id, hexCid)
		if err != nil {
			return err
		}
		edges[id] = rec
		incident[rec.Src] = append(incident[rec.Src], id)
		if rec.Dst != rec.Src {
			incident[rec.Dst] = append(incident[rec.Dst], id)
		}
	}
	for _, ids := range incident {
		sort.Strings(ids)
	}

	s.doc = &doc
	s.vertices = vertices
	s.edges = edges
	s.incident = incident
	return nil
}

func (s *Snapshot) decodeVertex(id, hexCid string) (model.VertexRecord, error) {
	c, err := cid.Parse(hexCid)
	if err != nil {
		return model.VertexRecord{}, fmt.Errorf("graph: vertex %s cid: %w", id, err)
	}
	blk, err := s.store.Get(c)
	if err != nil {
		return model.VertexRecord{}, fmt.Errorf("graph: vertex %s: %w", id, err)
	}
	if blk.Kind != merkle.KindNode {
		return model.VertexRecord{}, fmt.Errorf("graph: vertex %s block has kind %q", id, blk.Kind)
	}
	var rec model.VertexRecord
	if err := json.Unmarshal(blk.Content, &rec); err != nil {
		return model.VertexRecord{}, fmt.Errorf("graph: decode vertex %s: %w", id, err)
	}
	return rec, nil
}

func (s *Snapshot) decodeEdge(id, hexCid string) (model.EdgeRecord, error) {
	c, err := cid.Parse(hexCid)
	if err != nil {
		return model.EdgeRecord{}, fmt.Errorf("graph: edge %s cid: %w", id, err)
	}
	blk, err := s.store.Get(c)
	if err != nil {
		return model.EdgeRecord{}, fmt.Errorf("graph: edge %s: %w", id, err)
	}
	if blk.Kind != merkle.KindEdge {
		return model.EdgeRecord{}, fmt.Errorf("graph: edge %s block has kind %q", id, blk.Kind)
	}
	var rec model.EdgeRecord
	if err := json.Unmarshal(blk.Content, &rec); err != nil {
		return model.EdgeRecord{}, fmt.Errorf("graph: decode edge %s: %w", id, err)
	}
	return rec, nil
}

// GetVertex returns the vertex with the given id.
func (s *Snapshot) GetVertex(id string) (model.VertexRecord, error) {
	if err := s.load(); err != nil {
		return model.VertexRecord{}, err
	}
	rec, ok := s.vertices[id]
	if !ok {
		return model.VertexRecord{}, fmt.Errorf("graph: vertex %q not in snapshot %s", id, s.root)
	}
	return rec.Clone(), nil
}

// GetEdge returns the edge with the given id.
func (s *Snapshot) GetEdge(id string) (model.EdgeRecord, error) {
	if err := s.load(); err != nil {
		return model.EdgeRecord{}, err
	}
	rec, ok := s.edges[id]
	if !ok {
		return model.EdgeRecord{}, fmt.Errorf("graph: edge %q not in snapshot %s", id, s.root)
	}
	return rec.Clone(), nil
}

// ScanVertices returns all vertices carrying label, or every vertex when
// label is empty, ordered by id.
func (s *Snapshot) ScanVertices(label string) ([]model.VertexRecord, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []model.VertexRecord
	for _, id := range model.SortedKeys(s.vertices) {
		rec := s.vertices[id]
		if label == "" || rec.HasLabel(label) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// ScanEdges returns all edges carrying label, or every edge when label is
// empty, ordered by id.
func (s *Snapshot) ScanEdges(label string) ([]model.EdgeRecord, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	var out []model.EdgeRecord
	for _, id := range model.SortedKeys(s.edges) {
		rec := s.edges[id]
		if label == "" || rec.Label == label {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// IncidentEdges returns the edges touching a vertex, ordered by edge id.
func (s *Snapshot) IncidentEdges(vertexID string) ([]model.EdgeRecord, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	ids := s.incident[vertexID]
	out := make([]model.EdgeRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.edges[id].Clone())
	}
	return out, nil
}

// Degree returns the number of edges incident to a vertex. Self-loops count
// once.
func (s *Snapshot) Degree(vertexID string) (int, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return len(s.incident[vertexID]), nil
}

// Vertices returns a deep copy of every vertex keyed by id.
func (s *Snapshot) Vertices() (map[string]model.VertexRecord, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]model.VertexRecord, len(s.vertices))
	for id, rec := range s.vertices {
		out[id] = rec.Clone()
	}
	return out, nil
}

// Edges returns a deep copy of every edge keyed by id.
func (s *Snapshot) Edges() (map[string]model.EdgeRecord, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make(map[string]model.EdgeRecord, len(s.edges))
	for id, rec := range s.edges {
		out[id] = rec.Clone()
	}
	return out, nil
}

// Counts returns the number of vertices and edges.
func (s *Snapshot) Counts() (int, int, error) {
	if err := s.load(); err != nil {
		return 0, 0, err
	}
	return len(s.vertices), len(s.edges), nil
}
