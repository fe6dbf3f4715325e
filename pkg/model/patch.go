package model

// Patch is a graph delta produced by the applier and consumed by a
// transaction. Operations are applied in the order: edge deletes, vertex
// deletes, updates, adds.
type Patch struct {
	DelEdges    []string
	DelVertices []string

	UpdateVertices []VertexRecord
	UpdateEdges    []EdgeRecord

	AddVertices []VertexRecord
	AddEdges    []EdgeRecord
}

// Empty reports whether the patch contains no operations.
func (p *Patch) Empty() bool {
	return p == nil ||
		len(p.DelEdges) == 0 && len(p.DelVertices) == 0 &&
			len(p.UpdateVertices) == 0 && len(p.UpdateEdges) == 0 &&
			len(p.AddVertices) == 0 && len(p.AddEdges) == 0
}
